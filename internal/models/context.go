package models

import "time"

// Context is the topic-partitioned data accumulated during a conversation.
// Each topic is independently nil so partial progress in several topics can
// coexist. Handlers only touch the slice they own.
type Context struct {
	Registration         *RegistrationContext         `json:"registration,omitempty"`
	ShiftResponse        *ShiftResponseContext        `json:"shiftResponse,omitempty"`
	ScheduleModification *ScheduleModificationContext `json:"scheduleModification,omitempty"`
	InformationRequests  []InformationRequest         `json:"informationRequests"`
	LastInfoRequest      InfoKind                     `json:"lastInfoRequest,omitempty"`
	Emergency            *EmergencyContext            `json:"emergency,omitempty"`
	Overtime             *OvertimeContext             `json:"overtime,omitempty"`
	ContactUpdates       []ContactUpdate              `json:"contactUpdates"`
	Metadata             Metadata                     `json:"metadata"`
	// ResumeState is where an information detour returns once answered.
	ResumeState State             `json:"resumeState,omitempty"`
	Scratch     map[string]string `json:"scratch,omitempty"`
}

// RegistrationStep tracks progress through self-registration.
type RegistrationStep string

const (
	RegistrationStepCodeReceived RegistrationStep = "code_received"
	RegistrationStepAwaitingName RegistrationStep = "awaiting_name"
	RegistrationStepCompleted    RegistrationStep = "completed"
)

// RegistrationContext holds self-registration progress.
type RegistrationContext struct {
	Code            string           `json:"code,omitempty"`
	Step            RegistrationStep `json:"step,omitempty"`
	WorkerName      string           `json:"workerName,omitempty"`
	CreatedWorkerID string           `json:"createdWorkerId,omitempty"`
	Completed       bool             `json:"completed"`
}

// ShiftResponseContext holds the shift a worker was invited to and their answer.
type ShiftResponseContext struct {
	ShiftID             string            `json:"shiftId,omitempty"`
	ShiftTitle          string            `json:"shiftTitle,omitempty"`
	ShiftDate           string            `json:"shiftDate,omitempty"`
	ShiftLocation       string            `json:"shiftLocation,omitempty"`
	NotificationSent    bool              `json:"notificationSent"`
	ResponseType        EventResponseType `json:"responseType,omitempty"`
	TimeRequestDeadline *time.Time        `json:"timeRequestDeadline,omitempty"`
}

// ScheduleModificationContext holds a requested change to the shift times.
type ScheduleModificationContext struct {
	Kind          ScheduleKind `json:"kind"`
	OriginalTime  string       `json:"originalTime,omitempty"`
	RequestedTime string       `json:"requestedTime,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	Processed     bool         `json:"processed"`
}

// InformationRequest is one question asked by the worker.
type InformationRequest struct {
	Kind      InfoKind  `json:"kind"`
	Question  string    `json:"question"`
	Answered  bool      `json:"answered"`
	Timestamp time.Time `json:"timestamp"`
}

// Severity grades an emergency.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// EmergencyDetails carries what was extracted from an emergency report.
type EmergencyDetails struct {
	DelayMinutes     int      `json:"delayMinutes,omitempty"`
	Reason           string   `json:"reason,omitempty"`
	Severity         Severity `json:"severity"`
	RequiresFollowup bool     `json:"requiresFollowup"`
}

// EmergencyContext holds a reported emergency.
type EmergencyContext struct {
	Kind    EmergencyKind    `json:"kind"`
	Details EmergencyDetails `json:"details"`
	Handled bool             `json:"handled"`
}

// OvertimeContext holds an overtime offer and its answer.
type OvertimeContext struct {
	AdditionalHours float64           `json:"additionalHours"`
	HourlyRate      float64           `json:"hourlyRate"`
	RequestSent     bool              `json:"requestSent"`
	Response        EventResponseType `json:"response,omitempty"`
	Processed       bool              `json:"processed"`
}

// ContactKind names the contact detail being changed.
type ContactKind string

const (
	ContactKindPhone            ContactKind = "phone"
	ContactKindEmail            ContactKind = "email"
	ContactKindEmergencyContact ContactKind = "emergency_contact"
)

// IsValidContactKind reports whether k is a known contact kind.
func IsValidContactKind(k ContactKind) bool {
	switch k {
	case ContactKindPhone, ContactKindEmail, ContactKindEmergencyContact:
		return true
	}
	return false
}

// ContactUpdate is one change to a worker's contact details.
type ContactUpdate struct {
	Kind      ContactKind `json:"kind"`
	OldValue  string      `json:"oldValue,omitempty"`
	NewValue  string      `json:"newValue"`
	Timestamp time.Time   `json:"timestamp"`
	Processed bool        `json:"processed"`
}

// Metadata holds conversation-wide bookkeeping.
type Metadata struct {
	ConversationStarted time.Time `json:"conversationStarted"`
	LastActivity        time.Time `json:"lastActivity"`
	MessageCount        int       `json:"messageCount"`
	ErrorCount          int       `json:"errorCount"`
	RetryCount          int       `json:"retryCount"`
}

// Clone returns a deep copy of c.
func (c Context) Clone() Context {
	out := c
	if c.Registration != nil {
		r := *c.Registration
		out.Registration = &r
	}
	if c.ShiftResponse != nil {
		sr := *c.ShiftResponse
		if sr.TimeRequestDeadline != nil {
			d := *sr.TimeRequestDeadline
			sr.TimeRequestDeadline = &d
		}
		out.ShiftResponse = &sr
	}
	if c.ScheduleModification != nil {
		sm := *c.ScheduleModification
		out.ScheduleModification = &sm
	}
	if c.Emergency != nil {
		e := *c.Emergency
		out.Emergency = &e
	}
	if c.Overtime != nil {
		o := *c.Overtime
		out.Overtime = &o
	}
	if c.InformationRequests != nil {
		out.InformationRequests = append(make([]InformationRequest, 0, len(c.InformationRequests)), c.InformationRequests...)
	}
	if c.ContactUpdates != nil {
		out.ContactUpdates = append(make([]ContactUpdate, 0, len(c.ContactUpdates)), c.ContactUpdates...)
	}
	if c.Scratch != nil {
		out.Scratch = make(map[string]string, len(c.Scratch))
		for k, v := range c.Scratch {
			out.Scratch[k] = v
		}
	}
	return out
}
