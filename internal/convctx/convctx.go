// Package convctx computes conversation contexts.
//
// Every operation takes a context value and returns a new one; inputs are
// never mutated. Timestamps come from the Manager's clock and are stored in
// UTC without a monotonic reading so contexts round-trip through JSON.
package convctx

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/ShiftPipe/internal/models"
)

// Clock returns the current time.
type Clock func() time.Time

// Manager creates and evolves contexts.
type Manager struct {
	now Clock
}

// Opts holds configuration options for a Manager.
type Opts struct {
	Clock Clock
}

// Option defines a configuration option for a Manager.
type Option func(*Opts)

// WithClock overrides time.Now.
func WithClock(c Clock) Option {
	return func(o *Opts) { o.Clock = c }
}

// NewManager creates a Manager.
func NewManager(opts ...Option) *Manager {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Manager{now: cfg.Clock}
}

func (m *Manager) stamp() time.Time {
	return m.now().UTC().Round(0)
}

// Delta is a shallow update. Non-nil fields replace the context's value.
type Delta struct {
	Registration         *models.RegistrationContext
	ShiftResponse        *models.ShiftResponseContext
	ScheduleModification *models.ScheduleModificationContext
	Emergency            *models.EmergencyContext
	Overtime             *models.OvertimeContext
	InformationRequests  []models.InformationRequest
	ContactUpdates       []models.ContactUpdate
	LastInfoRequest      *models.InfoKind
	ResumeState          *models.State
	Scratch              map[string]string

	// MessageCount suppresses the auto-increment when set.
	MessageCount *int
	ErrorCount   *int
	RetryCount   *int
}

// Create returns a fresh context. A seed contributes its topic slices; its
// metadata is replaced.
func (m *Manager) Create(seed *models.Context) models.Context {
	now := m.stamp()
	var ctx models.Context
	if seed != nil {
		ctx = seed.Clone()
	}
	ctx.Metadata = models.Metadata{ConversationStarted: now, LastActivity: now}
	ctx.InformationRequests = []models.InformationRequest{}
	ctx.ContactUpdates = []models.ContactUpdate{}
	return ctx
}

// Update applies d over ctx, stamps LastActivity and increments MessageCount
// unless d sets it.
func (m *Manager) Update(ctx models.Context, d Delta) models.Context {
	out := ctx.Clone()
	if d.Registration != nil {
		r := *d.Registration
		out.Registration = &r
	}
	if d.ShiftResponse != nil {
		sr := *d.ShiftResponse
		if sr.TimeRequestDeadline != nil {
			deadline := sr.TimeRequestDeadline.UTC().Round(0)
			sr.TimeRequestDeadline = &deadline
		}
		out.ShiftResponse = &sr
	}
	if d.ScheduleModification != nil {
		sm := *d.ScheduleModification
		out.ScheduleModification = &sm
	}
	if d.Emergency != nil {
		e := *d.Emergency
		out.Emergency = &e
	}
	if d.Overtime != nil {
		o := *d.Overtime
		out.Overtime = &o
	}
	if d.InformationRequests != nil {
		out.InformationRequests = append([]models.InformationRequest{}, d.InformationRequests...)
	}
	if d.ContactUpdates != nil {
		out.ContactUpdates = append([]models.ContactUpdate{}, d.ContactUpdates...)
	}
	if d.LastInfoRequest != nil {
		out.LastInfoRequest = *d.LastInfoRequest
	}
	if d.ResumeState != nil {
		out.ResumeState = *d.ResumeState
	}
	if d.Scratch != nil {
		if out.Scratch == nil {
			out.Scratch = make(map[string]string, len(d.Scratch))
		}
		for k, v := range d.Scratch {
			out.Scratch[k] = v
		}
	}
	if d.ErrorCount != nil {
		out.Metadata.ErrorCount = *d.ErrorCount
	}
	if d.RetryCount != nil {
		out.Metadata.RetryCount = *d.RetryCount
	}
	if d.MessageCount != nil {
		out.Metadata.MessageCount = *d.MessageCount
	} else {
		out.Metadata.MessageCount++
	}
	out.Metadata.LastActivity = m.stamp()
	return out
}

// AddInformationRequest appends an unanswered question of the given kind.
func (m *Manager) AddInformationRequest(ctx models.Context, kind models.InfoKind, question string) models.Context {
	reqs := append(append([]models.InformationRequest{}, ctx.InformationRequests...), models.InformationRequest{
		Kind:      kind,
		Question:  question,
		Timestamp: m.stamp(),
	})
	return m.Update(ctx, Delta{InformationRequests: reqs, LastInfoRequest: &kind})
}

// MarkInformationRequestAnswered flips the first unanswered entry of kind.
// Later entries of the same kind stay unanswered.
func (m *Manager) MarkInformationRequestAnswered(ctx models.Context, kind models.InfoKind) models.Context {
	reqs := append([]models.InformationRequest{}, ctx.InformationRequests...)
	for i := range reqs {
		if reqs[i].Kind == kind && !reqs[i].Answered {
			reqs[i].Answered = true
			break
		}
	}
	return m.Update(ctx, Delta{InformationRequests: reqs})
}

// AddContactUpdate appends an unprocessed contact change.
func (m *Manager) AddContactUpdate(ctx models.Context, kind models.ContactKind, oldValue, newValue string) models.Context {
	updates := append(append([]models.ContactUpdate{}, ctx.ContactUpdates...), models.ContactUpdate{
		Kind:      kind,
		OldValue:  oldValue,
		NewValue:  newValue,
		Timestamp: m.stamp(),
	})
	return m.Update(ctx, Delta{ContactUpdates: updates})
}

// SetScheduleModification replaces the schedule-modification topic.
func (m *Manager) SetScheduleModification(ctx models.Context, sm models.ScheduleModificationContext) models.Context {
	return m.Update(ctx, Delta{ScheduleModification: &sm})
}

// SetEmergencyContext replaces the emergency topic.
func (m *Manager) SetEmergencyContext(ctx models.Context, e models.EmergencyContext) models.Context {
	return m.Update(ctx, Delta{Emergency: &e})
}

// SetOvertimeContext replaces the overtime topic.
func (m *Manager) SetOvertimeContext(ctx models.Context, o models.OvertimeContext) models.Context {
	return m.Update(ctx, Delta{Overtime: &o})
}

// SetEventContext replaces the shift-response topic.
func (m *Manager) SetEventContext(ctx models.Context, sr models.ShiftResponseContext) models.Context {
	return m.Update(ctx, Delta{ShiftResponse: &sr})
}

// Merge combines two contexts. Lists concatenate (base first), incoming
// scalars and topics win when present, and MessageCount takes the maximum.
func (m *Manager) Merge(base, incoming models.Context) models.Context {
	out := base.Clone()
	in := incoming.Clone()

	if in.Registration != nil {
		out.Registration = in.Registration
	}
	if in.ShiftResponse != nil {
		out.ShiftResponse = in.ShiftResponse
	}
	if in.ScheduleModification != nil {
		out.ScheduleModification = in.ScheduleModification
	}
	if in.Emergency != nil {
		out.Emergency = in.Emergency
	}
	if in.Overtime != nil {
		out.Overtime = in.Overtime
	}
	if in.LastInfoRequest != "" {
		out.LastInfoRequest = in.LastInfoRequest
	}
	if in.ResumeState != "" {
		out.ResumeState = in.ResumeState
	}
	if len(in.Scratch) > 0 {
		if out.Scratch == nil {
			out.Scratch = make(map[string]string, len(in.Scratch))
		}
		for k, v := range in.Scratch {
			out.Scratch[k] = v
		}
	}

	out.InformationRequests = append(append([]models.InformationRequest{}, base.InformationRequests...), in.InformationRequests...)
	out.ContactUpdates = append(append([]models.ContactUpdate{}, base.ContactUpdates...), in.ContactUpdates...)

	if in.Metadata.MessageCount > out.Metadata.MessageCount {
		out.Metadata.MessageCount = in.Metadata.MessageCount
	}
	if !in.Metadata.ConversationStarted.IsZero() && (out.Metadata.ConversationStarted.IsZero() || in.Metadata.ConversationStarted.Before(out.Metadata.ConversationStarted)) {
		out.Metadata.ConversationStarted = in.Metadata.ConversationStarted
	}
	if in.Metadata.LastActivity.After(out.Metadata.LastActivity) {
		out.Metadata.LastActivity = in.Metadata.LastActivity
	}
	if in.Metadata.ErrorCount != 0 {
		out.Metadata.ErrorCount = in.Metadata.ErrorCount
	}
	if in.Metadata.RetryCount != 0 {
		out.Metadata.RetryCount = in.Metadata.RetryCount
	}
	return out
}

// Reset clears all topics. With preserveMetadata the start and last-activity
// timestamps survive, counters are zeroed and lists emptied; otherwise the
// result is a blank context.
func (m *Manager) Reset(ctx models.Context, preserveMetadata bool) models.Context {
	if !preserveMetadata {
		return models.Context{}
	}
	return models.Context{
		InformationRequests: []models.InformationRequest{},
		ContactUpdates:      []models.ContactUpdate{},
		Metadata: models.Metadata{
			ConversationStarted: ctx.Metadata.ConversationStarted,
			LastActivity:        ctx.Metadata.LastActivity,
		},
	}
}

// ClearScratch drops the ephemeral scratch map.
func (m *Manager) ClearScratch(ctx models.Context) models.Context {
	out := ctx.Clone()
	out.Scratch = nil
	return out
}

// Export serializes ctx to its portable JSON text form.
func (m *Manager) Export(ctx models.Context) (string, error) {
	data, err := json.Marshal(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to export context: %w", err)
	}
	return string(data), nil
}

// Import parses text, validates it and returns the sanitized context.
// Malformed or invalid input fails with models.ErrInvalidContext.
func (m *Manager) Import(text string) (models.Context, error) {
	var ctx models.Context
	if err := json.Unmarshal([]byte(text), &ctx); err != nil {
		slog.Warn("Manager.Import: malformed context", "error", err)
		return models.Context{}, fmt.Errorf("%w: %v", models.ErrInvalidContext, err)
	}
	res := Validate(ctx)
	if !res.IsValid {
		slog.Warn("Manager.Import: context failed validation", "errors", res.Errors)
		return models.Context{}, fmt.Errorf("%w: %v", models.ErrInvalidContext, res.Errors)
	}
	for _, w := range res.Warnings {
		slog.Debug("Manager.Import: context sanitized", "warning", w)
	}
	return res.Sanitized, nil
}
