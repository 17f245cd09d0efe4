// Package dispatch drives the conversation engine for inbound texts and
// outbound campaigns.
//
// Every step for a channel address runs in that address's lane, so steps
// for one worker are strictly ordered while different workers proceed in
// parallel. A step loads or creates the conversation, runs the engine,
// executes the requested side effects, persists the transition and then
// delivers the reply. A failed engine step commits nothing.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/BTreeMap/ShiftPipe/internal/engine"
	"github.com/BTreeMap/ShiftPipe/internal/messaging"
	"github.com/BTreeMap/ShiftPipe/internal/models"
	"github.com/BTreeMap/ShiftPipe/internal/store"
	"github.com/BTreeMap/ShiftPipe/internal/templates"
)

// Send kinds recorded in SendMeta.
const (
	KindReply        = "reply"
	KindSystemError  = "system_error"
	KindCoordinator  = "coordinator"
	KindNotification = "shift_notification"
	KindOvertime     = "overtime_request"
	KindContact      = "contact_update"
	KindReminder     = "time_request_reminder"
)

// Invalidator drops cached directory entries after the dispatcher changes them.
type Invalidator interface {
	InvalidateWorker(address string)
	InvalidateWorkerID(id string)
}

// Outcome reports what a step did.
type Outcome struct {
	ConversationID string        `json:"conversation_id,omitempty"`
	Address        string        `json:"address"`
	Duplicate      bool          `json:"duplicate,omitempty"`
	Delivered      bool          `json:"delivered"`
	Result         engine.Result `json:"result"`
}

// Opts holds configuration options for a Dispatcher.
type Opts struct {
	Lookups     engine.Lookups
	Deliverer   Deliverer
	Coordinator string
	Lanes       *Lanes
}

// Option defines a configuration option for a Dispatcher.
type Option func(*Opts)

// WithLookups sets the directory the dispatcher resolves workers through.
// When it implements Invalidator, entries are invalidated after writes.
func WithLookups(l engine.Lookups) Option {
	return func(o *Opts) { o.Lookups = l }
}

// WithDeliverer replaces direct sending, e.g. with an OutboxDeliverer.
func WithDeliverer(d Deliverer) Option {
	return func(o *Opts) { o.Deliverer = d }
}

// WithCoordinator sets the address coordinator alerts are sent to.
func WithCoordinator(address string) Option {
	return func(o *Opts) { o.Coordinator = address }
}

// WithLanes shares a Lanes instance.
func WithLanes(l *Lanes) Option {
	return func(o *Opts) { o.Lanes = l }
}

// Dispatcher wires the engine to the store and a messaging service.
type Dispatcher struct {
	store       store.Store
	engine      *engine.Engine
	svc         messaging.Service
	lookups     engine.Lookups
	invalidator Invalidator
	deliver     Deliverer
	coordinator string
	lanes       *Lanes
}

var _ messaging.InboundHandler = (*Dispatcher)(nil)

// New creates a Dispatcher.
func New(st store.Store, eng *engine.Engine, svc messaging.Service, opts ...Option) *Dispatcher {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Lookups == nil {
		cfg.Lookups = st
	}
	if cfg.Deliverer == nil {
		cfg.Deliverer = NewDirectDeliverer(svc)
	}
	if cfg.Lanes == nil {
		cfg.Lanes = NewLanes()
	}
	d := &Dispatcher{
		store:   st,
		engine:  eng,
		svc:     svc,
		lookups: cfg.Lookups,
		deliver: cfg.Deliverer,
		lanes:   cfg.Lanes,
	}
	if inv, ok := cfg.Lookups.(Invalidator); ok {
		d.invalidator = inv
	}
	if cfg.Coordinator != "" {
		c, err := svc.ValidateAndCanonicalizeRecipient(cfg.Coordinator)
		if err != nil {
			slog.Warn("dispatch.New: invalid coordinator address, alerts disabled", "coordinator", cfg.Coordinator, "error", err)
		} else {
			d.coordinator = c
		}
	}
	return d
}

// HandleInbound queues an inbound message on its sender's lane and returns.
// An accepted message is processed to completion even if ctx is cancelled
// while it waits in the lane.
func (d *Dispatcher) HandleInbound(ctx context.Context, msg models.InboundMessage) error {
	address, err := d.svc.ValidateAndCanonicalizeRecipient(msg.From)
	if err != nil {
		return fmt.Errorf("invalid sender %q: %w", msg.From, err)
	}
	jobCtx := context.WithoutCancel(ctx)
	d.lanes.Submit(address, func() {
		if _, err := d.process(jobCtx, address, msg); err != nil {
			slog.Error("Dispatcher.HandleInbound: processing failed", "address", address, "messageID", msg.MessageID, "error", err)
		}
	})
	return nil
}

// ProcessMessage runs an inbound message through its sender's lane and waits
// for the outcome.
func (d *Dispatcher) ProcessMessage(ctx context.Context, msg models.InboundMessage) (*Outcome, error) {
	address, err := d.svc.ValidateAndCanonicalizeRecipient(msg.From)
	if err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", msg.From, err)
	}
	var out *Outcome
	err = d.lanes.Do(ctx, address, func() error {
		var perr error
		out, perr = d.process(ctx, address, msg)
		return perr
	})
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return nil, err
	}
	return out, err
}

// Wait blocks until all queued steps have finished.
func (d *Dispatcher) Wait() {
	d.lanes.Wait()
}

func (d *Dispatcher) process(ctx context.Context, address string, msg models.InboundMessage) (*Outcome, error) {
	out := &Outcome{Address: address}
	if msg.MessageID != "" {
		fresh, err := d.store.RecordInbound(ctx, msg.MessageID, address)
		if err != nil {
			return out, fmt.Errorf("record inbound %s: %w", msg.MessageID, err)
		}
		if !fresh {
			slog.Info("Dispatcher.process: duplicate message ignored", "address", address, "messageID", msg.MessageID)
			out.Duplicate = true
			return out, nil
		}
	}

	conv, err := d.conversation(ctx, address)
	if err != nil {
		d.release(ctx, msg.MessageID)
		d.systemError(ctx, address, "")
		return out, err
	}
	out.ConversationID = conv.ID

	res, err := d.engine.Process(ctx, conv, msg.Body)
	out.Result = res
	if err != nil {
		d.release(ctx, msg.MessageID)
		d.systemError(ctx, address, conv.ID)
		return out, fmt.Errorf("engine step for %s: %w", conv.ID, err)
	}

	_, err = d.commit(ctx, conv, &res)
	out.Result = res
	if err != nil {
		d.systemError(ctx, address, conv.ID)
		return out, err
	}
	out.Delivered = d.reply(ctx, address, conv.ID, res.ReplyText, KindReply)

	if msg.MessageID != "" {
		if err := d.store.MarkProcessed(ctx, msg.MessageID); err != nil {
			slog.Warn("Dispatcher.process: mark processed failed", "messageID", msg.MessageID, "error", err)
		}
	}
	slog.Info("Dispatcher.process: message handled", "conversationID", conv.ID, "from", res.PreviousState, "to", res.NewState, "intent", res.Intent.Type)
	return out, nil
}

// release forgets a message that failed before anything was committed, so the
// transport's redelivery is processed instead of dropped as a duplicate.
func (d *Dispatcher) release(ctx context.Context, messageID string) {
	if messageID == "" {
		return
	}
	if err := d.store.ReleaseInbound(context.WithoutCancel(ctx), messageID); err != nil {
		slog.Warn("Dispatcher.release: release inbound failed", "messageID", messageID, "error", err)
	}
}

// conversation loads or creates the live conversation for address, linking
// it to the worker registered there.
func (d *Dispatcher) conversation(ctx context.Context, address string) (*models.Conversation, error) {
	var subject string
	w, err := d.lookups.FindWorkerByChannelAddress(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("find worker for %s: %w", address, err)
	}
	if w != nil {
		subject = w.ID
	}
	conv, err := d.store.GetOrCreateConversation(ctx, address, subject)
	if err != nil {
		return nil, fmt.Errorf("get or create conversation for %s: %w", address, err)
	}
	return conv, nil
}

// commit executes side effects and persists the transition. It returns the
// conversation as stored.
func (d *Dispatcher) commit(ctx context.Context, conv *models.Conversation, res *engine.Result) (*models.Conversation, error) {
	subject := conv.SubjectID
	for _, se := range res.SideEffects {
		if err := d.apply(ctx, conv, se, res, &subject); err != nil {
			return nil, fmt.Errorf("side effect %s for %s: %w", se.Kind, conv.ID, err)
		}
	}

	next := res.NewContext
	u := models.ConversationUpdate{State: res.NewState, Context: &next}
	if subject != conv.SubjectID {
		u.SubjectID = &subject
	}
	if res.LinkedShiftID != "" && res.LinkedShiftID != conv.LinkedShiftID {
		u.LinkedShiftID = &res.LinkedShiftID
	}
	if res.ExpiresAt != nil && !res.Renew {
		u.ExpiresAt = res.ExpiresAt
	}
	if err := d.store.UpdateConversationState(ctx, conv.ID, u); err != nil {
		return nil, fmt.Errorf("update conversation %s: %w", conv.ID, err)
	}
	if res.ExpiresAt != nil && res.Renew {
		if err := d.store.RenewConversation(ctx, conv.ID, *res.ExpiresAt); err != nil {
			return nil, fmt.Errorf("renew conversation %s: %w", conv.ID, err)
		}
	}

	stored := *conv
	stored.State = res.NewState
	stored.Context = next
	stored.SubjectID = subject
	if u.LinkedShiftID != nil {
		stored.LinkedShiftID = *u.LinkedShiftID
	}
	if res.ExpiresAt != nil {
		stored.ExpiresAt = *res.ExpiresAt
	}
	return &stored, nil
}

func (d *Dispatcher) apply(ctx context.Context, conv *models.Conversation, se models.SideEffect, res *engine.Result, subject *string) error {
	switch se.Kind {
	case models.EffectSetShiftStatus:
		if se.WorkerID == "" {
			slog.Warn("Dispatcher.apply: shift status without worker, skipping", "conversationID", conv.ID, "shiftID", se.ShiftID)
			return nil
		}
		return d.store.SetShiftStatus(ctx, se.WorkerID, se.ShiftID, se.Status)

	case models.EffectCreateWorker:
		w, err := d.store.CreateWorker(ctx, se.WorkerName, se.Phone)
		if err != nil {
			return err
		}
		*subject = w.ID
		if reg := res.NewContext.Registration; reg != nil {
			updated := *reg
			updated.CreatedWorkerID = w.ID
			res.NewContext.Registration = &updated
		}
		if d.invalidator != nil {
			d.invalidator.InvalidateWorker(se.Phone)
		}
		slog.Info("Dispatcher.apply: worker registered", "workerID", w.ID, "conversationID", conv.ID)
		return nil

	case models.EffectRecordCodeUsage:
		return d.store.RecordCodeUsage(ctx, se.Code)

	case models.EffectRecordOvertimeResponse:
		if se.WorkerID == "" {
			return models.ErrWorkerNotFound
		}
		return d.store.RecordOvertimeResponse(ctx, se.WorkerID, se.ShiftID, se.Accepted, se.Hours)

	case models.EffectUpdateContact:
		if se.WorkerID == "" {
			return models.ErrWorkerNotFound
		}
		if err := d.store.UpdateWorkerContact(ctx, se.WorkerID, se.ContactKind, se.Value); err != nil {
			return err
		}
		if d.invalidator != nil {
			d.invalidator.InvalidateWorkerID(se.WorkerID)
		}
		return nil

	case models.EffectNotifyCoordinator:
		if d.coordinator == "" {
			slog.Warn("Dispatcher.apply: no coordinator configured, alert dropped", "conversationID", conv.ID, "message", se.Message)
			return nil
		}
		// An alert that cannot be delivered must not block the worker's step.
		if err := d.deliver.Deliver(ctx, d.coordinator, se.Message, messaging.SendMeta{ConversationID: conv.ID, Kind: KindCoordinator}); err != nil {
			slog.Error("Dispatcher.apply: coordinator alert failed", "conversationID", conv.ID, "error", err)
		}
		return nil

	default:
		return fmt.Errorf("unknown side effect kind %q", se.Kind)
	}
}

// reply delivers text and reports whether it was handed to the transport.
func (d *Dispatcher) reply(ctx context.Context, address, conversationID, text, kind string) bool {
	if text == "" {
		return false
	}
	if check := templates.ValidateMessageLength(text); !check.Valid {
		slog.Warn("Dispatcher.reply: reply too long, truncating", "address", address, "kind", kind, "length", check.Length, "segments", check.Segments)
		text = templates.Truncate(text, templates.MaxSegments*templates.SegmentLength)
	}
	if err := d.deliver.Deliver(ctx, address, text, messaging.SendMeta{ConversationID: conversationID, Kind: kind}); err != nil {
		slog.Error("Dispatcher.reply: delivery failed", "address", address, "conversationID", conversationID, "kind", kind, "error", err)
		return false
	}
	return true
}

func (d *Dispatcher) systemError(ctx context.Context, address, conversationID string) {
	d.reply(ctx, address, conversationID, templates.ErrorMessage(templates.ErrorSystem), KindSystemError)
}

// NotifyShift invites the worker at address to a shift. Once the invitation
// is delivered the conversation waits for the worker's answer.
func (d *Dispatcher) NotifyShift(ctx context.Context, address, shiftID string) (*Outcome, error) {
	return d.campaign(ctx, address, KindNotification, func(conv *models.Conversation) (engine.Result, error) {
		return d.engine.NotifyShift(ctx, conv, shiftID)
	})
}

// RequestOvertime asks the worker at address to extend a shift.
func (d *Dispatcher) RequestOvertime(ctx context.Context, address, shiftID string, hours, rate float64) (*Outcome, error) {
	return d.campaign(ctx, address, KindOvertime, func(conv *models.Conversation) (engine.Result, error) {
		return d.engine.RequestOvertime(ctx, conv, shiftID, hours, rate)
	})
}

// UpdateContact changes a worker's contact detail and confirms it to them.
func (d *Dispatcher) UpdateContact(ctx context.Context, workerID string, kind models.ContactKind, value string) (*Outcome, error) {
	w, err := d.store.FindWorkerByID(ctx, workerID)
	if err != nil {
		return nil, fmt.Errorf("find worker %s: %w", workerID, err)
	}
	if w == nil {
		return nil, fmt.Errorf("worker %s: %w", workerID, models.ErrWorkerNotFound)
	}
	if kind == models.ContactKindPhone {
		if c, err := d.svc.ValidateAndCanonicalizeRecipient(value); err == nil {
			value = c
		}
	}
	var old string
	switch kind {
	case models.ContactKindPhone:
		old = w.Phone
	case models.ContactKindEmail:
		old = w.Email
	case models.ContactKindEmergencyContact:
		old = w.EmergencyContact
	}
	return d.campaign(ctx, w.Phone, KindContact, func(conv *models.Conversation) (engine.Result, error) {
		if conv.SubjectID == "" {
			conv.SubjectID = w.ID
		}
		return d.engine.RecordContactUpdate(conv, kind, old, value)
	})
}

// campaign runs an outbound step on the address's lane.
func (d *Dispatcher) campaign(ctx context.Context, rawAddress, kind string, step func(*models.Conversation) (engine.Result, error)) (*Outcome, error) {
	address, err := d.svc.ValidateAndCanonicalizeRecipient(rawAddress)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", rawAddress, err)
	}
	out := &Outcome{Address: address}
	err = d.lanes.Do(ctx, address, func() error {
		conv, err := d.conversation(ctx, address)
		if err != nil {
			return err
		}
		out.ConversationID = conv.ID
		res, err := step(conv)
		out.Result = res
		if err != nil {
			return fmt.Errorf("%s for %s: %w", kind, conv.ID, err)
		}
		stored, err := d.commit(ctx, conv, &res)
		out.Result = res
		if err != nil {
			return err
		}
		out.Delivered = d.reply(ctx, address, conv.ID, res.ReplyText, kind)
		if out.Delivered && res.NewState == models.StateEventNotificationSent {
			d.notificationSent(ctx, stored, out)
		}
		return nil
	})
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return nil, err
	}
	return out, err
}

// notificationSent advances a delivered invitation to awaiting_event_response.
func (d *Dispatcher) notificationSent(ctx context.Context, conv *models.Conversation, out *Outcome) {
	res, err := d.engine.NotificationSent(conv)
	if err != nil {
		slog.Error("Dispatcher.notificationSent: transition failed", "conversationID", conv.ID, "error", err)
		return
	}
	if _, err := d.commit(ctx, conv, &res); err != nil {
		slog.Error("Dispatcher.notificationSent: commit failed", "conversationID", conv.ID, "error", err)
		return
	}
	out.Result.NewState = res.NewState
	out.Result.NewContext = res.NewContext
}

// RemindPastDeadlines reminds every worker whose time-request deadline has
// passed. It returns the number of reminders sent.
func (d *Dispatcher) RemindPastDeadlines(ctx context.Context) (int, error) {
	convs, err := d.store.ListActiveConversations(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active conversations: %w", err)
	}
	var sent atomic.Int64
	var errs []error
	for _, c := range convs {
		if c.State != models.StateAwaitingEventResponse || c.Context.ShiftResponse == nil || c.Context.ShiftResponse.TimeRequestDeadline == nil {
			continue
		}
		id, address := c.ID, c.ChannelAddress
		err := d.lanes.Do(ctx, address, func() error {
			// Reload inside the lane; the worker may have answered meanwhile.
			conv, err := d.store.GetConversationByID(ctx, id)
			if err != nil {
				if errors.Is(err, models.ErrNotFound) {
					return nil
				}
				return err
			}
			res, ok, err := d.engine.RemindTimeRequest(ctx, conv)
			if err != nil || !ok {
				return err
			}
			if _, err := d.commit(ctx, conv, &res); err != nil {
				return err
			}
			if d.reply(ctx, address, id, res.ReplyText, KindReminder) {
				sent.Add(1)
			}
			return nil
		})
		if err != nil {
			slog.Error("Dispatcher.RemindPastDeadlines: reminder failed", "conversationID", id, "error", err)
			errs = append(errs, err)
		}
	}
	return int(sent.Load()), errors.Join(errs...)
}

// CleanupExpired removes expired conversations.
func (d *Dispatcher) CleanupExpired(ctx context.Context) (int, error) {
	start := time.Now()
	n, err := d.store.CleanupExpiredConversations(ctx)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired conversations: %w", err)
	}
	slog.Debug("Dispatcher.CleanupExpired: sweep done", "removed", n, "took", time.Since(start))
	return n, nil
}
