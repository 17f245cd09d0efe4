// Package engine implements the conversation state machine.
//
// The engine is given a persisted conversation and an inbound message. It
// classifies the message against the current state, runs the handler
// registered for (state, intent type) and returns the next state, context,
// reply and the side effects the caller must perform. It never writes to the
// store itself and holds no locks; callers serialize per channel address.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/ShiftPipe/internal/convctx"
	"github.com/BTreeMap/ShiftPipe/internal/intent"
	"github.com/BTreeMap/ShiftPipe/internal/models"
	"github.com/BTreeMap/ShiftPipe/internal/regcode"
	"github.com/BTreeMap/ShiftPipe/internal/templates"
)

// DefaultCutoffHour is the hour of the next day by which a worker who asked
// for more time must answer.
const DefaultCutoffHour = 12

// Lookups resolves domain entities the engine does not own. Both methods
// return (nil, nil) when the entity does not exist.
type Lookups interface {
	FindWorkerByChannelAddress(ctx context.Context, address string) (*models.Worker, error)
	FindShiftByID(ctx context.Context, id string) (*models.Shift, error)
}

// Result is the outcome of one engine step. On failure Success is false and
// NewState/NewContext equal the input; nothing may be committed.
type Result struct {
	Success       bool                `json:"success"`
	Error         string              `json:"error,omitempty"`
	PreviousState models.State        `json:"previous_state"`
	NewState      models.State        `json:"new_state"`
	NewContext    models.Context      `json:"new_context"`
	ReplyText     string              `json:"reply_text,omitempty"`
	SideEffects   []models.SideEffect `json:"side_effects,omitempty"`
	Intent        models.Intent       `json:"intent"`
	Triggers      []Trigger           `json:"triggers,omitempty"`
	// LinkedShiftID is set when the step links the conversation to a shift.
	LinkedShiftID string `json:"linked_shift_id,omitempty"`
	// ExpiresAt replaces the conversation expiry when set. Renew marks it as
	// an explicit extension rather than a tightening.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Renew     bool       `json:"renew,omitempty"`
}

// Opts holds configuration options for an Engine.
type Opts struct {
	Clock      func() time.Time
	Location   *time.Location
	CutoffHour int
	Codes      regcode.Repository
	Contexts   *convctx.Manager
}

// Option defines a configuration option for an Engine.
type Option func(*Opts)

// WithClock overrides time.Now.
func WithClock(c func() time.Time) Option {
	return func(o *Opts) { o.Clock = c }
}

// WithLocation sets the time zone used for deadlines.
func WithLocation(loc *time.Location) Option {
	return func(o *Opts) { o.Location = loc }
}

// WithCutoffHour sets the hour of the time-request deadline.
func WithCutoffHour(h int) Option {
	return func(o *Opts) { o.CutoffHour = h }
}

// WithCodeRepository sets the registration-code repository.
func WithCodeRepository(r regcode.Repository) Option {
	return func(o *Opts) { o.Codes = r }
}

// WithContextManager sets the context manager. By default one sharing the
// engine's clock is created.
func WithContextManager(m *convctx.Manager) Option {
	return func(o *Opts) { o.Contexts = m }
}

// Engine is the conversation state machine.
type Engine struct {
	lookups    Lookups
	codes      regcode.Repository
	contexts   *convctx.Manager
	now        func() time.Time
	loc        *time.Location
	cutoffHour int
}

// New creates an Engine.
func New(lookups Lookups, opts ...Option) *Engine {
	cfg := Opts{CutoffHour: DefaultCutoffHour}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.CutoffHour < 0 || cfg.CutoffHour > 23 {
		slog.Warn("engine.New: cutoff hour out of range, using default", "cutoffHour", cfg.CutoffHour)
		cfg.CutoffHour = DefaultCutoffHour
	}
	if cfg.Codes == nil {
		cfg.Codes = regcode.NewInMemoryRepository()
	}
	if cfg.Contexts == nil {
		cfg.Contexts = convctx.NewManager(convctx.WithClock(cfg.Clock))
	}
	return &Engine{
		lookups:    lookups,
		codes:      cfg.Codes,
		contexts:   cfg.Contexts,
		now:        cfg.Clock,
		loc:        cfg.Location,
		cutoffHour: cfg.CutoffHour,
	}
}

// turn is the working state of one engine step.
type turn struct {
	conv          *models.Conversation
	state         models.State
	context       models.Context
	baseCount     int
	text          string
	intent        models.Intent
	triggers      []Trigger
	reply         string
	effects       []models.SideEffect
	linkedShiftID string
	expiresAt     *time.Time
	renew         bool
	worker        *models.Worker
}

func (e *Engine) newTurn(conv *models.Conversation, text string) *turn {
	return &turn{
		conv:      conv,
		state:     conv.State,
		context:   conv.Context.Clone(),
		baseCount: conv.Context.Metadata.MessageCount,
		text:      text,
		intent:    models.UnknownIntent(text),
	}
}

// fire applies trigger tr to the turn's state, rejecting moves absent from
// the transition table.
func (t *turn) fire(tr Trigger) error {
	next, err := mustNext(t.state, tr)
	if err != nil {
		return err
	}
	t.state = next
	t.triggers = append(t.triggers, tr)
	return nil
}

func (t *turn) effect(se models.SideEffect) {
	t.effects = append(t.effects, se)
}

// errNotHandled lets a handler decline an intent it was registered for,
// falling back to the generic reply.
var errNotHandled = errors.New("intent not handled in this state")

// Process runs one inbound message through the state machine.
func (e *Engine) Process(ctx context.Context, conv *models.Conversation, text string) (Result, error) {
	if conv == nil {
		return Result{}, errors.New("conversation cannot be nil")
	}
	slog.Debug("Engine.Process: processing message", "conversationID", conv.ID, "state", conv.State, "length", len(text))

	if !models.IsValidState(conv.State) {
		err := fmt.Errorf("%w: %q", models.ErrUnknownState, conv.State)
		slog.Error("Engine.Process: refusing to process", "conversationID", conv.ID, "error", err)
		return e.failure(conv, err)
	}

	t := e.newTurn(conv, text)
	if t.state == models.StateEventNotificationSent {
		// The reply arrived before the send acknowledgement.
		if err := e.markNotified(t); err != nil {
			return e.failure(conv, err)
		}
	}

	t.intent = e.classify(t.state, text, &t.context, e.codeChecker(ctx, &t.context))

	if t.state == models.StateCompleted {
		if _, ok := handlers[handlerKey{models.StateIdle, t.intent.Type}]; ok {
			if err := e.reset(t); err != nil {
				return e.failure(conv, err)
			}
		}
	}

	h, ok := handlers[handlerKey{t.state, t.intent.Type}]
	if !ok {
		return e.notUnderstood(t), nil
	}
	if err := h(e, ctx, t); err != nil {
		if errors.Is(err, errNotHandled) {
			return e.notUnderstood(t), nil
		}
		slog.Error("Engine.Process: handler failed", "conversationID", conv.ID, "state", t.state, "intent", t.intent.Type, "error", err)
		return e.failure(conv, err)
	}

	res := e.finish(t, 1)
	slog.Debug("Engine.Process: transition complete", "conversationID", conv.ID, "from", res.PreviousState, "to", res.NewState, "triggers", res.Triggers, "effects", len(res.SideEffects))
	return res, nil
}

// Handles reports whether a handler is registered for (state, intent type).
func Handles(state models.State, it models.IntentType) bool {
	_, ok := handlers[handlerKey{state, it}]
	return ok
}

func (e *Engine) classify(state models.State, text string, c *models.Context, codes intent.CodeChecker) models.Intent {
	var got models.Intent
	switch state {
	case models.StateRegistrationCodeReceived, models.StateAwaitingName:
		got = intent.ParseRegistrationResponse(text, codes)
	case models.StateOvertimeRequestSent:
		got = intent.ParseOvertimeResponse(text)
	default:
		got = intent.New(intent.WithCodeChecker(codes)).Classify(text, c)
	}
	if got.Type != models.IntentUnknown && !intent.Actionable(got) {
		slog.Debug("Engine.classify: below threshold, treating as unknown", "type", got.Type, "confidence", got.Confidence)
		return models.UnknownIntent(text)
	}
	return got
}

// codeChecker accepts active repository codes and the code already recorded
// in the conversation's registration context.
func (e *Engine) codeChecker(ctx context.Context, c *models.Context) intent.CodeChecker {
	valid := regcode.Checker(ctx, e.codes)
	return func(code string) bool {
		if c.Registration != nil && c.Registration.Code != "" && strings.EqualFold(c.Registration.Code, code) {
			return true
		}
		return valid(code)
	}
}

func (e *Engine) reset(t *turn) error {
	if err := t.fire(TriggerReset); err != nil {
		return err
	}
	t.context = e.contexts.Reset(t.context, true)
	t.baseCount = 0
	return nil
}

func (e *Engine) markNotified(t *turn) error {
	if err := t.fire(TriggerNotificationSent); err != nil {
		return err
	}
	var sr models.ShiftResponseContext
	if t.context.ShiftResponse != nil {
		sr = *t.context.ShiftResponse
	}
	sr.NotificationSent = true
	t.context = e.contexts.SetEventContext(t.context, sr)
	return nil
}

// finish stamps the context once for the step, counting messages against
// the count the step started with.
func (e *Engine) finish(t *turn, messages int) Result {
	n := t.baseCount + messages
	t.context = e.contexts.Update(t.context, convctx.Delta{MessageCount: &n})
	return Result{
		Success:       true,
		PreviousState: t.conv.State,
		NewState:      t.state,
		NewContext:    t.context,
		ReplyText:     t.reply,
		SideEffects:   t.effects,
		Intent:        t.intent,
		Triggers:      t.triggers,
		LinkedShiftID: t.linkedShiftID,
		ExpiresAt:     t.expiresAt,
		Renew:         t.renew,
	}
}

func (e *Engine) notUnderstood(t *turn) Result {
	errs := t.context.Metadata.ErrorCount + 1
	t.context = e.contexts.Update(t.context, convctx.Delta{ErrorCount: &errs})
	t.reply = fallbackReply(t.state)
	slog.Debug("Engine.notUnderstood: no handler", "conversationID", t.conv.ID, "state", t.state, "intent", t.intent.Type)
	return e.finish(t, 1)
}

func fallbackReply(state models.State) string {
	switch state {
	case models.StateAwaitingEventResponse, models.StateEventNotificationSent, models.StateOvertimeRequestSent:
		return templates.ErrorMessage(templates.ErrorInvalidResponse)
	default:
		return templates.NotUnderstood()
	}
}

func (e *Engine) failure(conv *models.Conversation, err error) (Result, error) {
	return Result{
		Success:       false,
		Error:         err.Error(),
		PreviousState: conv.State,
		NewState:      conv.State,
		NewContext:    conv.Context.Clone(),
	}, err
}

// worker resolves the worker behind the conversation's address. A missing
// worker is an error only when required.
func (e *Engine) worker(ctx context.Context, t *turn, required bool) (*models.Worker, error) {
	if t.worker != nil {
		return t.worker, nil
	}
	w, err := e.lookups.FindWorkerByChannelAddress(ctx, t.conv.ChannelAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to look up worker for %s: %w", t.conv.ChannelAddress, err)
	}
	if w == nil {
		if required {
			return nil, fmt.Errorf("%w: %s", models.ErrWorkerNotFound, t.conv.ChannelAddress)
		}
		return nil, nil
	}
	t.worker = w
	return w, nil
}

// linkedShift resolves the shift the conversation is about. An id that does
// not resolve is an error only when required.
func (e *Engine) linkedShift(ctx context.Context, t *turn, required bool) (*models.Shift, error) {
	id := t.linkedShiftID
	if id == "" {
		id = t.conv.LinkedShiftID
	}
	if id == "" && t.context.ShiftResponse != nil {
		id = t.context.ShiftResponse.ShiftID
	}
	if id == "" {
		if required {
			return nil, fmt.Errorf("%w: conversation %s has no linked shift", models.ErrShiftNotFound, t.conv.ID)
		}
		return nil, nil
	}
	return e.shift(ctx, id, required)
}

func (e *Engine) shift(ctx context.Context, id string, required bool) (*models.Shift, error) {
	s, err := e.lookups.FindShiftByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to look up shift %s: %w", id, err)
	}
	if s == nil && required {
		return nil, fmt.Errorf("%w: %s", models.ErrShiftNotFound, id)
	}
	return s, nil
}

// deadline is the next calendar day at the cutoff hour in the engine's zone.
func (e *Engine) deadline() time.Time {
	now := e.now().In(e.loc)
	return time.Date(now.Year(), now.Month(), now.Day()+1, e.cutoffHour, 0, 0, 0, e.loc)
}

func firstName(w *models.Worker) string {
	if w == nil {
		return ""
	}
	if f := strings.Fields(w.Name); len(f) > 0 {
		return f[0]
	}
	return ""
}

func fullName(w *models.Worker) string {
	if w == nil {
		return ""
	}
	return w.Name
}

func workerID(t *turn, w *models.Worker) string {
	if w != nil {
		return w.ID
	}
	return t.conv.SubjectID
}
