package engine

import (
	"context"
	"fmt"

	"github.com/BTreeMap/ShiftPipe/internal/convctx"
	"github.com/BTreeMap/ShiftPipe/internal/models"
	"github.com/BTreeMap/ShiftPipe/internal/templates"
)

type handlerKey struct {
	state  models.State
	intent models.IntentType
}

type handlerFunc func(e *Engine, ctx context.Context, t *turn) error

// handlers maps (state, intent type) to the function that handles it. Pairs
// without an entry get the generic reply and leave the state unchanged.
var handlers = map[handlerKey]handlerFunc{
	{models.StateIdle, models.IntentRegistration}: (*Engine).handleRegistrationCode,
	{models.StateIdle, models.IntentEmergency}:    (*Engine).handleEmergency,

	{models.StateRegistrationCodeReceived, models.IntentRegistration}: (*Engine).handleRegistrationName,
	{models.StateRegistrationCodeReceived, models.IntentUnknown}:      (*Engine).handleInvalidName,
	{models.StateAwaitingName, models.IntentRegistration}:             (*Engine).handleRegistrationName,
	{models.StateAwaitingName, models.IntentUnknown}:                  (*Engine).handleInvalidName,

	{models.StateAwaitingEventResponse, models.IntentEventResponse}:        (*Engine).handleEventResponse,
	{models.StateAwaitingEventResponse, models.IntentScheduleModification}: (*Engine).handleScheduleModification,
	{models.StateAwaitingEventResponse, models.IntentEmergency}:            (*Engine).handleEmergency,
	{models.StateAwaitingEventResponse, models.IntentInformationRequest}:   (*Engine).handleInformationRequest,

	{models.StateInformationRequest, models.IntentInformationRequest}: (*Engine).handleInformationAnswer,
	{models.StateInformationRequest, models.IntentEventResponse}:      (*Engine).handleResumedEventResponse,

	{models.StateOvertimeRequestSent, models.IntentEventResponse}: (*Engine).handleOvertimeResponse,
}

func (e *Engine) handleRegistrationCode(ctx context.Context, t *turn) error {
	reg := t.intent.Registration
	if reg == nil || reg.Kind != models.RegistrationKindCode {
		return errNotHandled
	}
	if err := t.fire(TriggerRegistrationCode); err != nil {
		return err
	}
	t.context = e.contexts.Update(t.context, convctx.Delta{
		Registration: &models.RegistrationContext{Code: reg.Code, Step: models.RegistrationStepCodeReceived},
	})
	expires := e.now().Add(models.RegistrationTTL)
	t.expiresAt = &expires
	t.effect(models.SideEffect{Kind: models.EffectRecordCodeUsage, Code: reg.Code})
	t.reply = templates.RegistrationPrompt()
	return nil
}

func (e *Engine) handleRegistrationName(ctx context.Context, t *turn) error {
	reg := t.intent.Registration
	if reg == nil {
		return e.handleInvalidName(ctx, t)
	}
	switch reg.Kind {
	case models.RegistrationKindCode:
		// The code again; ask for the name once more.
		t.reply = templates.RegistrationPrompt()
		return nil
	case models.RegistrationKindName:
	default:
		return e.handleInvalidName(ctx, t)
	}

	if err := t.fire(TriggerValidName); err != nil {
		return err
	}
	var r models.RegistrationContext
	if t.context.Registration != nil {
		r = *t.context.Registration
	}
	r.Step = models.RegistrationStepCompleted
	r.WorkerName = reg.Name
	r.Completed = true
	t.context = e.contexts.Update(t.context, convctx.Delta{Registration: &r})
	t.effect(models.SideEffect{
		Kind:       models.EffectCreateWorker,
		WorkerName: reg.Name,
		Phone:      t.conv.ChannelAddress,
		Code:       r.Code,
	})
	t.reply = templates.RegistrationConfirmation(reg.Name)
	return nil
}

func (e *Engine) handleInvalidName(ctx context.Context, t *turn) error {
	var r models.RegistrationContext
	if t.context.Registration != nil {
		r = *t.context.Registration
	}
	r.Step = models.RegistrationStepAwaitingName
	errs := t.context.Metadata.ErrorCount + 1
	t.context = e.contexts.Update(t.context, convctx.Delta{Registration: &r, ErrorCount: &errs})
	t.reply = templates.InvalidName()
	return nil
}

func shiftResponseFor(c models.Context, s *models.Shift) models.ShiftResponseContext {
	var sr models.ShiftResponseContext
	if c.ShiftResponse != nil {
		sr = *c.ShiftResponse
	}
	sr.ShiftID = s.ID
	sr.ShiftTitle = s.Title
	sr.ShiftDate = s.Date
	sr.ShiftLocation = s.Location
	return sr
}

func (e *Engine) handleEventResponse(ctx context.Context, t *turn) error {
	shift, err := e.linkedShift(ctx, t, true)
	if err != nil {
		return err
	}
	w, err := e.worker(ctx, t, true)
	if err != nil {
		return err
	}
	sr := shiftResponseFor(t.context, shift)
	resp := t.intent.Event.Response
	sr.ResponseType = resp

	setStatus := func(status models.WorkerShiftStatus) {
		t.effect(models.SideEffect{Kind: models.EffectSetShiftStatus, WorkerID: w.ID, ShiftID: shift.ID, Status: status})
	}

	switch resp {
	case models.EventAccept:
		if err := t.fire(TriggerEventResponse); err != nil {
			return err
		}
		sr.TimeRequestDeadline = nil
		setStatus(models.ShiftStatusAccepted)
		t.reply = templates.ShiftAccepted(firstName(w), *shift)
	case models.EventDecline:
		if err := t.fire(TriggerEventResponse); err != nil {
			return err
		}
		sr.TimeRequestDeadline = nil
		setStatus(models.ShiftStatusDeclined)
		t.reply = templates.ShiftDeclined(firstName(w), *shift)
	case models.EventRequestTime:
		// Stays in awaiting_event_response until the worker answers again.
		deadline := e.deadline()
		sr.TimeRequestDeadline = &deadline
		// The conversation must outlive the deadline for the reminder sweep.
		expires := deadline.Add(models.DefaultConversationTTL)
		t.expiresAt = &expires
		t.renew = true
		setStatus(models.ShiftStatusTimeRequested)
		t.reply = templates.TimeRequestConfirmation(firstName(w), *shift, deadline, e.loc)
	case models.EventQuestion:
		if err := t.fire(TriggerInformationRequest); err != nil {
			return err
		}
		resume := models.StateAwaitingEventResponse
		t.context = e.contexts.Update(t.context, convctx.Delta{ResumeState: &resume})
		t.reply = templates.QuestionPrompt(*shift)
	default:
		return errNotHandled
	}
	t.context = e.contexts.SetEventContext(t.context, sr)
	return nil
}

func (e *Engine) handleResumedEventResponse(ctx context.Context, t *turn) error {
	if err := t.fire(TriggerInformationProvided); err != nil {
		return err
	}
	var none models.State
	t.context = e.contexts.Update(t.context, convctx.Delta{ResumeState: &none})
	return e.handleEventResponse(ctx, t)
}

func (e *Engine) handleScheduleModification(ctx context.Context, t *turn) error {
	shift, err := e.linkedShift(ctx, t, true)
	if err != nil {
		return err
	}
	w, err := e.worker(ctx, t, true)
	if err != nil {
		return err
	}
	req := t.intent.Schedule
	if err := t.fire(TriggerScheduleRequest); err != nil {
		return err
	}

	mod := models.ScheduleModificationContext{
		Kind:          req.Kind,
		RequestedTime: req.RequestedTime,
		Reason:        t.text,
		Processed:     true,
	}
	switch req.Kind {
	case models.ScheduleStartTime:
		mod.OriginalTime = validTime(shift.StartTime)
	case models.ScheduleEndTime:
		mod.OriginalTime = validTime(shift.EndTime)
	}
	t.context = e.contexts.SetScheduleModification(t.context, mod)
	if err := t.fire(TriggerModificationProcessed); err != nil {
		return err
	}

	t.effect(models.SideEffect{Kind: models.EffectSetShiftStatus, WorkerID: w.ID, ShiftID: shift.ID, Status: models.ShiftStatusModificationRequested})
	t.effect(models.SideEffect{
		Kind:     models.EffectNotifyCoordinator,
		WorkerID: w.ID,
		ShiftID:  shift.ID,
		Message:  templates.CoordinatorAlert(fullName(w), t.conv.ChannelAddress, "Terminänderung", scheduleDetail(shift, req)),
	})
	t.reply = templates.ScheduleModificationConfirmation(firstName(w), mod, shift)
	return nil
}

func scheduleDetail(s *models.Shift, req *models.SchedulePayload) string {
	detail := fmt.Sprintf("%s (%s)", s.Title, req.Kind)
	if req.RequestedTime != "" {
		detail += " gewünscht " + req.RequestedTime
	}
	if req.DurationHours > 0 {
		detail += fmt.Sprintf(" %.1f h", req.DurationHours)
	}
	return detail
}

func validTime(v string) string {
	if convctx.IsTime(v) {
		return v
	}
	return ""
}

var emergencyStatus = map[models.EmergencyKind]models.WorkerShiftStatus{
	models.EmergencyLate:         models.ShiftStatusLate,
	models.EmergencySick:         models.ShiftStatusSick,
	models.EmergencyInjury:       models.ShiftStatusInjured,
	models.EmergencyCancellation: models.ShiftStatusCancelled,
}

var emergencyTopic = map[models.EmergencyKind]string{
	models.EmergencyLate:         "Verspätung",
	models.EmergencySick:         "Krankmeldung",
	models.EmergencyInjury:       "Unfall",
	models.EmergencyCancellation: "Absage",
}

// handleEmergency records an emergency report. In awaiting_event_response the
// worker and shift must resolve; from idle they are optional.
func (e *Engine) handleEmergency(ctx context.Context, t *turn) error {
	required := t.state == models.StateAwaitingEventResponse
	w, err := e.worker(ctx, t, required)
	if err != nil {
		return err
	}
	shift, err := e.linkedShift(ctx, t, required)
	if err != nil {
		return err
	}
	em := t.intent.Emergency
	if err := t.fire(TriggerEmergency); err != nil {
		return err
	}

	severity := em.Severity
	if severity == "" {
		severity = models.SeverityMedium
	}
	ec := models.EmergencyContext{
		Kind: em.Kind,
		Details: models.EmergencyDetails{
			DelayMinutes:     em.DelayMinutes,
			Reason:           t.text,
			Severity:         severity,
			RequiresFollowup: severity != models.SeverityLow,
		},
		Handled: true,
	}
	t.context = e.contexts.SetEmergencyContext(t.context, ec)
	if err := t.fire(TriggerEmergencyHandled); err != nil {
		return err
	}

	id := workerID(t, w)
	detail := t.text
	if shift != nil {
		detail = fmt.Sprintf("%s: %s", shift.Title, t.text)
		if id != "" {
			if status, ok := emergencyStatus[em.Kind]; ok {
				t.effect(models.SideEffect{Kind: models.EffectSetShiftStatus, WorkerID: id, ShiftID: shift.ID, Status: status})
			}
		}
	}
	se := models.SideEffect{
		Kind:     models.EffectNotifyCoordinator,
		WorkerID: id,
		Message:  templates.CoordinatorAlert(fullName(w), t.conv.ChannelAddress, emergencyTopic[em.Kind], detail),
	}
	if shift != nil {
		se.ShiftID = shift.ID
	}
	t.effect(se)
	t.reply = templates.EmergencyConfirmation(firstName(w), ec)
	return nil
}

// handleInformationRequest answers a question asked while a shift response
// is pending and returns to awaiting_event_response.
func (e *Engine) handleInformationRequest(ctx context.Context, t *turn) error {
	shift, err := e.linkedShift(ctx, t, true)
	if err != nil {
		return err
	}
	kind := t.intent.Information.Kind
	if err := t.fire(TriggerInformationRequest); err != nil {
		return err
	}
	t.context = e.contexts.AddInformationRequest(t.context, kind, t.text)
	t.context = e.contexts.MarkInformationRequestAnswered(t.context, kind)
	if err := t.fire(TriggerInformationProvided); err != nil {
		return err
	}
	t.reply = templates.InformationResponse(kind, shift) + "\n\n" + templates.ResumeEventPrompt()
	return nil
}

// handleInformationAnswer answers the question a worker was invited to ask.
// It resumes the state that asked, or completes when there is none.
func (e *Engine) handleInformationAnswer(ctx context.Context, t *turn) error {
	shift, err := e.linkedShift(ctx, t, false)
	if err != nil {
		return err
	}
	kind := t.intent.Information.Kind
	t.context = e.contexts.AddInformationRequest(t.context, kind, t.text)
	t.context = e.contexts.MarkInformationRequestAnswered(t.context, kind)
	t.reply = templates.InformationResponse(kind, shift)

	if t.context.ResumeState == models.StateAwaitingEventResponse {
		if err := t.fire(TriggerInformationProvided); err != nil {
			return err
		}
		var none models.State
		t.context = e.contexts.Update(t.context, convctx.Delta{ResumeState: &none})
		t.reply += "\n\n" + templates.ResumeEventPrompt()
		return nil
	}
	return t.fire(TriggerInformationClosed)
}

func (e *Engine) handleOvertimeResponse(ctx context.Context, t *turn) error {
	w, err := e.worker(ctx, t, true)
	if err != nil {
		return err
	}
	var o models.OvertimeContext
	if t.context.Overtime != nil {
		o = *t.context.Overtime
	}
	resp := t.intent.Event.Response
	accepted := resp == models.EventAccept
	if !accepted && resp != models.EventDecline {
		return errNotHandled
	}
	if err := t.fire(TriggerOvertimeResponse); err != nil {
		return err
	}
	o.Response = resp
	o.Processed = true
	t.context = e.contexts.SetOvertimeContext(t.context, o)

	shiftID := t.conv.LinkedShiftID
	t.effect(models.SideEffect{
		Kind:     models.EffectRecordOvertimeResponse,
		WorkerID: w.ID,
		ShiftID:  shiftID,
		Accepted: accepted,
		Hours:    o.AdditionalHours,
	})
	if accepted {
		t.reply = templates.OvertimeAccepted(firstName(w), o.AdditionalHours)
	} else {
		t.reply = templates.OvertimeDeclined(firstName(w))
	}
	return nil
}
