package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/ShiftPipe/internal/convctx"
	"github.com/BTreeMap/ShiftPipe/internal/models"
	"github.com/BTreeMap/ShiftPipe/internal/templates"
)

// outbound prepares a turn for a campaign. A completed conversation is reset
// to idle first; any other state is left for fire to reject.
func (e *Engine) outbound(conv *models.Conversation) (*turn, error) {
	if conv == nil {
		return nil, errors.New("conversation cannot be nil")
	}
	if !models.IsValidState(conv.State) {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownState, conv.State)
	}
	t := e.newTurn(conv, "")
	if t.state == models.StateCompleted {
		if err := e.reset(t); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// NotifyShift invites the worker behind conv to a shift. It moves the
// conversation to event_notification_sent and renews its expiry.
func (e *Engine) NotifyShift(ctx context.Context, conv *models.Conversation, shiftID string) (Result, error) {
	t, err := e.outbound(conv)
	if err != nil {
		return e.campaignFailure(conv, err)
	}
	shift, err := e.shift(ctx, shiftID, true)
	if err != nil {
		return e.campaignFailure(conv, err)
	}
	w, err := e.worker(ctx, t, false)
	if err != nil {
		return e.campaignFailure(conv, err)
	}
	if err := t.fire(TriggerEventNotification); err != nil {
		return e.campaignFailure(conv, err)
	}

	t.linkedShiftID = shift.ID
	sr := shiftResponseFor(models.Context{}, shift)
	t.context = e.contexts.SetEventContext(t.context, sr)
	if id := workerID(t, w); id != "" {
		t.effect(models.SideEffect{Kind: models.EffectSetShiftStatus, WorkerID: id, ShiftID: shift.ID, Status: models.ShiftStatusAsked})
	}
	t.reply = templates.ShiftNotification(firstName(w), *shift)
	e.renew(t)

	slog.Debug("Engine.NotifyShift: notification prepared", "conversationID", conv.ID, "shiftID", shift.ID)
	return e.finish(t, 1), nil
}

// NotificationSent records that the shift notification went out and moves
// the conversation to awaiting_event_response.
func (e *Engine) NotificationSent(conv *models.Conversation) (Result, error) {
	if conv == nil {
		return Result{}, errors.New("conversation cannot be nil")
	}
	t := e.newTurn(conv, "")
	if err := e.markNotified(t); err != nil {
		return e.campaignFailure(conv, err)
	}
	return e.finish(t, 0), nil
}

// RequestOvertime asks the worker behind conv to extend a shift.
func (e *Engine) RequestOvertime(ctx context.Context, conv *models.Conversation, shiftID string, hours, rate float64) (Result, error) {
	if hours <= 0 || rate <= 0 {
		return e.campaignFailure(conv, fmt.Errorf("%w: overtime hours and rate must be positive", models.ErrInvalidContext))
	}
	t, err := e.outbound(conv)
	if err != nil {
		return e.campaignFailure(conv, err)
	}
	shift, err := e.shift(ctx, shiftID, true)
	if err != nil {
		return e.campaignFailure(conv, err)
	}
	w, err := e.worker(ctx, t, false)
	if err != nil {
		return e.campaignFailure(conv, err)
	}
	if err := t.fire(TriggerOvertimeRequest); err != nil {
		return e.campaignFailure(conv, err)
	}

	t.linkedShiftID = shift.ID
	t.context = e.contexts.SetOvertimeContext(t.context, models.OvertimeContext{
		AdditionalHours: hours,
		HourlyRate:      rate,
		RequestSent:     true,
	})
	t.reply = templates.OvertimeRequest(firstName(w), *shift, hours, rate)
	e.renew(t)

	slog.Debug("Engine.RequestOvertime: request prepared", "conversationID", conv.ID, "shiftID", shift.ID, "hours", hours)
	return e.finish(t, 1), nil
}

// RecordContactUpdate records a changed contact detail for the worker behind
// conv. The state is unchanged.
func (e *Engine) RecordContactUpdate(conv *models.Conversation, kind models.ContactKind, oldValue, newValue string) (Result, error) {
	if conv == nil {
		return Result{}, errors.New("conversation cannot be nil")
	}
	if !models.IsValidContactKind(kind) {
		return e.campaignFailure(conv, fmt.Errorf("%w: unknown contact kind %q", models.ErrInvalidContext, kind))
	}
	if kind == models.ContactKindPhone && !convctx.IsPhone(newValue) {
		return e.campaignFailure(conv, fmt.Errorf("%w: %q is not a +E.164 phone number", models.ErrInvalidContext, newValue))
	}
	if newValue == "" {
		return e.campaignFailure(conv, fmt.Errorf("%w: new contact value is empty", models.ErrInvalidContext))
	}

	t := e.newTurn(conv, "")
	t.context = e.contexts.AddContactUpdate(t.context, kind, oldValue, newValue)
	t.effect(models.SideEffect{
		Kind:        models.EffectUpdateContact,
		WorkerID:    conv.SubjectID,
		ContactKind: kind,
		Value:       newValue,
	})
	t.reply = templates.ContactUpdateConfirmation(kind, newValue)
	return e.finish(t, 1), nil
}

// RemindTimeRequest reminds a worker whose time-request deadline has passed
// and clears the deadline so the reminder is sent once. ok is false when the
// conversation has no passed deadline.
func (e *Engine) RemindTimeRequest(ctx context.Context, conv *models.Conversation) (res Result, ok bool, err error) {
	if conv == nil || conv.State != models.StateAwaitingEventResponse {
		return Result{}, false, nil
	}
	sr := conv.Context.ShiftResponse
	if sr == nil || sr.TimeRequestDeadline == nil || e.now().Before(*sr.TimeRequestDeadline) {
		return Result{}, false, nil
	}
	t := e.newTurn(conv, "")
	shift, err := e.linkedShift(ctx, t, true)
	if err != nil {
		res, err = e.campaignFailure(conv, err)
		return res, false, err
	}
	w, err := e.worker(ctx, t, false)
	if err != nil {
		res, err = e.campaignFailure(conv, err)
		return res, false, err
	}
	next := *sr
	next.TimeRequestDeadline = nil
	t.context = e.contexts.SetEventContext(t.context, next)
	t.reply = templates.TimeRequestReminder(firstName(w), *shift)
	return e.finish(t, 1), true, nil
}

func (e *Engine) renew(t *turn) {
	expires := e.now().Add(models.DefaultConversationTTL)
	t.expiresAt = &expires
	t.renew = true
}

func (e *Engine) campaignFailure(conv *models.Conversation, err error) (Result, error) {
	slog.Error("Engine.campaign: failed", "error", err)
	if conv == nil {
		return Result{Error: err.Error()}, err
	}
	return e.failure(conv, err)
}
