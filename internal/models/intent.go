package models

// IntentType is the classifier's typed guess at what a message means.
type IntentType string

const (
	IntentRegistration         IntentType = "registration"
	IntentEmergency            IntentType = "emergency"
	IntentScheduleModification IntentType = "schedule_modification"
	IntentInformationRequest   IntentType = "information_request"
	IntentEventResponse        IntentType = "event_response"
	IntentUnknown              IntentType = "unknown"
)

// IntentTypes lists the fixed set of intent types.
var IntentTypes = []IntentType{
	IntentRegistration,
	IntentEmergency,
	IntentScheduleModification,
	IntentInformationRequest,
	IntentEventResponse,
	IntentUnknown,
}

// RegistrationKind distinguishes what a registration message carried.
type RegistrationKind string

const (
	RegistrationKindCode    RegistrationKind = "code"
	RegistrationKindName    RegistrationKind = "name"
	RegistrationKindInvalid RegistrationKind = "invalid"
)

// EmergencyKind names an emergency family.
type EmergencyKind string

const (
	EmergencyLate         EmergencyKind = "late"
	EmergencySick         EmergencyKind = "sick"
	EmergencyInjury       EmergencyKind = "injury"
	EmergencyCancellation EmergencyKind = "cancellation"
)

// IsValidEmergencyKind reports whether k is a known emergency kind.
func IsValidEmergencyKind(k EmergencyKind) bool {
	switch k {
	case EmergencyLate, EmergencySick, EmergencyInjury, EmergencyCancellation:
		return true
	}
	return false
}

// ScheduleKind names a schedule-modification family.
type ScheduleKind string

const (
	ScheduleStartTime ScheduleKind = "start_time"
	ScheduleEndTime   ScheduleKind = "end_time"
	ScheduleDuration  ScheduleKind = "duration"
	ScheduleGeneral   ScheduleKind = "general"
)

// IsValidScheduleKind reports whether k is a known schedule kind.
func IsValidScheduleKind(k ScheduleKind) bool {
	switch k {
	case ScheduleStartTime, ScheduleEndTime, ScheduleDuration, ScheduleGeneral:
		return true
	}
	return false
}

// InfoKind names an information-request family.
type InfoKind string

const (
	InfoLocation  InfoKind = "location"
	InfoEquipment InfoKind = "equipment"
	InfoContact   InfoKind = "contact"
	InfoGeneral   InfoKind = "general"
)

// IsValidInfoKind reports whether k is a known information kind.
func IsValidInfoKind(k InfoKind) bool {
	switch k {
	case InfoLocation, InfoEquipment, InfoContact, InfoGeneral:
		return true
	}
	return false
}

// EventResponseType is a worker's answer to a shift invitation or overtime offer.
type EventResponseType string

const (
	EventAccept      EventResponseType = "accept"
	EventDecline     EventResponseType = "decline"
	EventRequestTime EventResponseType = "request_time"
	EventQuestion    EventResponseType = "question"
)

// RegistrationPayload is set for registration intents.
type RegistrationPayload struct {
	Kind RegistrationKind `json:"kind"`
	Code string           `json:"code,omitempty"`
	Name string           `json:"name,omitempty"`
}

// EmergencyPayload is set for emergency intents.
type EmergencyPayload struct {
	Kind         EmergencyKind `json:"kind"`
	DelayMinutes int           `json:"delayMinutes,omitempty"`
	Severity     Severity      `json:"severity"`
}

// SchedulePayload is set for schedule-modification intents.
type SchedulePayload struct {
	Kind          ScheduleKind `json:"kind"`
	RequestedTime string       `json:"requestedTime,omitempty"`
	DurationHours float64      `json:"durationHours,omitempty"`
}

// InformationPayload is set for information-request intents.
type InformationPayload struct {
	Kind InfoKind `json:"kind"`
}

// EventPayload is set for event-response intents.
type EventPayload struct {
	Response EventResponseType `json:"response"`
}

// Intent is the classifier output. Exactly one payload pointer matching Type
// is set; unknown intents carry none.
type Intent struct {
	Type         IntentType           `json:"type"`
	Confidence   float64              `json:"confidence"`
	Registration *RegistrationPayload `json:"registration,omitempty"`
	Emergency    *EmergencyPayload    `json:"emergency,omitempty"`
	Schedule     *SchedulePayload     `json:"schedule,omitempty"`
	Information  *InformationPayload  `json:"information,omitempty"`
	Event        *EventPayload        `json:"event,omitempty"`
	OriginalText string               `json:"originalText"`
}

// UnknownIntent returns the fallback intent for text.
func UnknownIntent(text string) Intent {
	return Intent{Type: IntentUnknown, Confidence: 0, OriginalText: text}
}
