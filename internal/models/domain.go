package models

import "time"

// WorkerStatus is the lifecycle status of a worker record.
type WorkerStatus string

const (
	WorkerStatusActive   WorkerStatus = "active"
	WorkerStatusInactive WorkerStatus = "inactive"
)

// Worker is a registered gig-worker, reached through their phone number.
type Worker struct {
	ID               string       `json:"id"`
	Name             string       `json:"name"`
	Phone            string       `json:"phone"`
	Email            string       `json:"email,omitempty"`
	EmergencyContact string       `json:"emergency_contact,omitempty"`
	Status           WorkerStatus `json:"status"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// Shift is an event workers are invited to.
type Shift struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Date         string    `json:"date"`       // YYYY-MM-DD
	StartTime    string    `json:"start_time"` // HH:MM
	EndTime      string    `json:"end_time"`   // HH:MM
	Location     string    `json:"location"`
	MeetingPoint string    `json:"meeting_point,omitempty"`
	Equipment    string    `json:"equipment,omitempty"`
	ContactName  string    `json:"contact_name,omitempty"`
	ContactPhone string    `json:"contact_phone,omitempty"`
	HourlyRate   float64   `json:"hourly_rate,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// WorkerShiftStatus is a worker's standing for one shift.
type WorkerShiftStatus string

const (
	ShiftStatusAsked                 WorkerShiftStatus = "asked"
	ShiftStatusAccepted              WorkerShiftStatus = "accepted"
	ShiftStatusDeclined              WorkerShiftStatus = "declined"
	ShiftStatusTimeRequested         WorkerShiftStatus = "time_requested"
	ShiftStatusModificationRequested WorkerShiftStatus = "modification_requested"
	ShiftStatusLate                  WorkerShiftStatus = "late"
	ShiftStatusSick                  WorkerShiftStatus = "sick"
	ShiftStatusInjured               WorkerShiftStatus = "injured"
	ShiftStatusCancelled             WorkerShiftStatus = "cancelled"
)

// SideEffectKind names an effect the engine requests from its caller.
type SideEffectKind string

const (
	EffectSetShiftStatus         SideEffectKind = "set_shift_status"
	EffectCreateWorker           SideEffectKind = "create_worker"
	EffectRecordCodeUsage        SideEffectKind = "record_code_usage"
	EffectNotifyCoordinator      SideEffectKind = "notify_coordinator"
	EffectRecordOvertimeResponse SideEffectKind = "record_overtime_response"
	EffectUpdateContact          SideEffectKind = "update_contact"
)

// SideEffect is a write the engine asks the caller to perform against the
// external store before persisting the transition. Only the fields relevant
// to Kind are set.
type SideEffect struct {
	Kind        SideEffectKind    `json:"kind"`
	WorkerID    string            `json:"worker_id,omitempty"`
	ShiftID     string            `json:"shift_id,omitempty"`
	Status      WorkerShiftStatus `json:"status,omitempty"`
	WorkerName  string            `json:"worker_name,omitempty"`
	Phone       string            `json:"phone,omitempty"`
	Code        string            `json:"code,omitempty"`
	Accepted    bool              `json:"accepted,omitempty"`
	Hours       float64           `json:"hours,omitempty"`
	ContactKind ContactKind       `json:"contact_kind,omitempty"`
	Value       string            `json:"value,omitempty"`
	Message     string            `json:"message,omitempty"`
}
