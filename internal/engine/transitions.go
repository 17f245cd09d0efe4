package engine

import (
	"fmt"
	"sort"

	"github.com/BTreeMap/ShiftPipe/internal/models"
)

// Trigger is an event that moves a conversation between states.
type Trigger string

const (
	TriggerRegistrationCode      Trigger = "registration_code"
	TriggerValidName             Trigger = "valid_name"
	TriggerEventNotification     Trigger = "event_notification"
	TriggerNotificationSent      Trigger = "notification_sent"
	TriggerEventResponse         Trigger = "event_response"
	TriggerScheduleRequest       Trigger = "schedule_request"
	TriggerModificationProcessed Trigger = "modification_processed"
	TriggerInformationRequest    Trigger = "information_request"
	TriggerInformationProvided   Trigger = "information_provided"
	TriggerInformationClosed     Trigger = "information_closed"
	TriggerEmergency             Trigger = "emergency"
	TriggerEmergencyHandled      Trigger = "emergency_handled"
	TriggerOvertimeRequest       Trigger = "overtime_request"
	TriggerOvertimeResponse      Trigger = "overtime_response"
	TriggerReset                 Trigger = "reset"
)

type transitionKey struct {
	from    models.State
	trigger Trigger
}

// transitions is the complete set of legal state changes.
var transitions = map[transitionKey]models.State{
	{models.StateIdle, TriggerRegistrationCode}:                             models.StateRegistrationCodeReceived,
	{models.StateRegistrationCodeReceived, TriggerValidName}:                models.StateCompleted,
	{models.StateAwaitingName, TriggerValidName}:                            models.StateCompleted,
	{models.StateIdle, TriggerEventNotification}:                            models.StateEventNotificationSent,
	{models.StateEventNotificationSent, TriggerNotificationSent}:            models.StateAwaitingEventResponse,
	{models.StateAwaitingEventResponse, TriggerEventResponse}:               models.StateCompleted,
	{models.StateAwaitingEventResponse, TriggerScheduleRequest}:             models.StateScheduleModificationRequest,
	{models.StateScheduleModificationRequest, TriggerModificationProcessed}: models.StateCompleted,
	{models.StateAwaitingEventResponse, TriggerInformationRequest}:          models.StateInformationRequest,
	{models.StateInformationRequest, TriggerInformationProvided}:            models.StateAwaitingEventResponse,
	{models.StateInformationRequest, TriggerInformationClosed}:              models.StateCompleted,
	{models.StateIdle, TriggerEmergency}:                                    models.StateEmergencySituation,
	{models.StateAwaitingEventResponse, TriggerEmergency}:                   models.StateEmergencySituation,
	{models.StateEmergencySituation, TriggerEmergencyHandled}:               models.StateCompleted,
	{models.StateIdle, TriggerOvertimeRequest}:                              models.StateOvertimeRequestSent,
	{models.StateOvertimeRequestSent, TriggerOvertimeResponse}:              models.StateCompleted,
	{models.StateCompleted, TriggerReset}:                                   models.StateIdle,
}

// Transition is one row of the transition table.
type Transition struct {
	From    models.State `json:"from"`
	Trigger Trigger      `json:"trigger"`
	To      models.State `json:"to"`
}

// Transitions returns a copy of the transition table ordered by source state
// and trigger.
func Transitions() []Transition {
	out := make([]Transition, 0, len(transitions))
	for k, to := range transitions {
		out = append(out, Transition{From: k.from, Trigger: k.trigger, To: to})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].Trigger < out[j].Trigger
	})
	return out
}

// Next returns the state reached from `from` on trigger t.
func Next(from models.State, t Trigger) (models.State, bool) {
	to, ok := transitions[transitionKey{from, t}]
	return to, ok
}

func mustNext(from models.State, t Trigger) (models.State, error) {
	to, ok := Next(from, t)
	if !ok {
		return from, fmt.Errorf("%w: %s on %s", models.ErrInvalidTransition, from, t)
	}
	return to, nil
}
