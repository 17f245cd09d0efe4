package models

import "time"

// State is a conversation state in the dialog state machine.
type State string

const (
	StateIdle                        State = "idle"
	StateRegistrationCodeReceived    State = "registration_code_received"
	StateAwaitingName                State = "awaiting_name"
	StateEventNotificationSent       State = "event_notification_sent"
	StateAwaitingEventResponse       State = "awaiting_event_response"
	StateScheduleModificationRequest State = "schedule_modification_request"
	StateOvertimeRequestSent         State = "overtime_request_sent"
	StateInformationRequest          State = "information_request"
	StateEmergencySituation          State = "emergency_situation"
	StateCompleted                   State = "completed"
)

// AllStates lists every state the engine knows about.
var AllStates = []State{
	StateIdle,
	StateRegistrationCodeReceived,
	StateAwaitingName,
	StateEventNotificationSent,
	StateAwaitingEventResponse,
	StateScheduleModificationRequest,
	StateOvertimeRequestSent,
	StateInformationRequest,
	StateEmergencySituation,
	StateCompleted,
}

// IsValidState reports whether s is one of the known states.
func IsValidState(s State) bool {
	for _, known := range AllStates {
		if s == known {
			return true
		}
	}
	return false
}

// Conversation lifetimes.
const (
	// DefaultConversationTTL is the lifetime of a newly created conversation.
	DefaultConversationTTL = 24 * time.Hour
	// RegistrationTTL is the tighter window applied once a registration starts.
	RegistrationTTL = 2 * time.Hour
)

// Conversation is the persisted per-address dialog session.
type Conversation struct {
	ID             string    `json:"id"`
	ChannelAddress string    `json:"channel_address"`
	SubjectID      string    `json:"subject_id,omitempty"`
	LinkedShiftID  string    `json:"linked_shift_id,omitempty"`
	State          State     `json:"state"`
	Context        Context   `json:"context"`
	LastActivityAt time.Time `json:"last_activity_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// IsExpired reports whether the conversation is inert at the given time.
func (c *Conversation) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// ConversationUpdate carries the fields written back after a transition.
// Nil pointers leave the stored value untouched.
type ConversationUpdate struct {
	State         State      `json:"state"`
	Context       *Context   `json:"context,omitempty"`
	LinkedShiftID *string    `json:"linked_shift_id,omitempty"`
	SubjectID     *string    `json:"subject_id,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}
