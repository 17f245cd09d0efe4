package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/ShiftPipe/internal/convctx"
	"github.com/BTreeMap/ShiftPipe/internal/models"
	"github.com/BTreeMap/ShiftPipe/internal/regcode"
	"github.com/BTreeMap/ShiftPipe/internal/util"
)

type statusKey struct {
	workerID string
	shiftID  string
}

type overtimeRecord struct {
	Accepted bool
	Hours    float64
}

// InMemoryStore is a Store kept in process memory. It is used by tests and
// when no database is configured.
type InMemoryStore struct {
	mu            sync.RWMutex
	now           func() time.Time
	contexts      *convctx.Manager
	conversations map[string]*models.Conversation
	byAddress     map[string]string
	workers       map[string]models.Worker
	shifts        map[string]models.Shift
	statuses      map[statusKey]models.WorkerShiftStatus
	overtime      map[statusKey]overtimeRecord
	receipts      []models.Receipt
	dedup         map[string]DedupRecord
	outbox        map[string]*OutboxMessage
	codes         *regcode.InMemoryRepository
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore(opts ...Option) *InMemoryStore {
	cfg := applyOpts(opts)
	return &InMemoryStore{
		now:           cfg.Clock,
		contexts:      convctx.NewManager(convctx.WithClock(cfg.Clock)),
		conversations: make(map[string]*models.Conversation),
		byAddress:     make(map[string]string),
		workers:       make(map[string]models.Worker),
		shifts:        make(map[string]models.Shift),
		statuses:      make(map[statusKey]models.WorkerShiftStatus),
		overtime:      make(map[statusKey]overtimeRecord),
		dedup:         make(map[string]DedupRecord),
		outbox:        make(map[string]*OutboxMessage),
		codes:         regcode.NewInMemoryRepository(regcode.WithClock(cfg.Clock)),
	}
}

func (s *InMemoryStore) stamp() time.Time {
	return s.now().UTC()
}

func copyConversation(c *models.Conversation) *models.Conversation {
	out := *c
	out.Context = c.Context.Clone()
	return &out
}

func (s *InMemoryStore) GetOrCreateConversation(ctx context.Context, address, subjectID string) (*models.Conversation, error) {
	if address == "" {
		return nil, models.ErrEmptyRecipient
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.stamp()
	if id, ok := s.byAddress[address]; ok {
		existing := s.conversations[id]
		if !existing.IsExpired(now) {
			return copyConversation(existing), nil
		}
		delete(s.conversations, id)
		slog.Debug("InMemoryStore.GetOrCreateConversation: replacing expired conversation", "conversationID", id)
	}
	conv := &models.Conversation{
		ID:             util.NewID("conv_"),
		ChannelAddress: address,
		SubjectID:      subjectID,
		State:          models.StateIdle,
		Context:        s.contexts.Create(nil),
		LastActivityAt: now,
		ExpiresAt:      now.Add(models.DefaultConversationTTL),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.conversations[conv.ID] = conv
	s.byAddress[address] = conv.ID
	return copyConversation(conv), nil
}

func (s *InMemoryStore) UpdateConversationState(ctx context.Context, id string, u models.ConversationUpdate) error {
	if !models.IsValidState(u.State) {
		return fmt.Errorf("%w: %q", models.ErrUnknownState, u.State)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return fmt.Errorf("conversation %s: %w", id, models.ErrNotFound)
	}
	now := s.stamp()
	c.State = u.State
	c.LastActivityAt = now
	c.UpdatedAt = now
	if u.Context != nil {
		c.Context = u.Context.Clone()
	}
	if u.LinkedShiftID != nil {
		c.LinkedShiftID = *u.LinkedShiftID
	}
	if u.SubjectID != nil {
		c.SubjectID = *u.SubjectID
	}
	if u.ExpiresAt != nil {
		c.ExpiresAt = u.ExpiresAt.UTC()
	}
	return nil
}

func (s *InMemoryStore) GetConversationByID(ctx context.Context, id string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, models.ErrNotFound)
	}
	return copyConversation(c), nil
}

func (s *InMemoryStore) ListActiveConversations(ctx context.Context) ([]models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.stamp()
	out := []models.Conversation{}
	for _, c := range s.conversations {
		if !c.IsExpired(now) && c.State != models.StateCompleted {
			out = append(out, *copyConversation(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivityAt.After(out[j].LastActivityAt) })
	return out, nil
}

func (s *InMemoryStore) CleanupExpiredConversations(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.stamp()
	n := 0
	for id, c := range s.conversations {
		if c.IsExpired(now) {
			delete(s.conversations, id)
			if s.byAddress[c.ChannelAddress] == id {
				delete(s.byAddress, c.ChannelAddress)
			}
			n++
		}
	}
	if n > 0 {
		slog.Info("InMemoryStore.CleanupExpiredConversations: removed expired conversations", "count", n)
	}
	return n, nil
}

func (s *InMemoryStore) RenewConversation(ctx context.Context, id string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return fmt.Errorf("conversation %s: %w", id, models.ErrNotFound)
	}
	c.ExpiresAt = until.UTC()
	c.UpdatedAt = s.stamp()
	return nil
}

func (s *InMemoryStore) FindWorkerByChannelAddress(ctx context.Context, address string) (*models.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, w := range s.workers {
		if w.Phone == address {
			w := w
			return &w, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) FindWorkerByID(ctx context.Context, id string) (*models.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workers[id]
	if !ok {
		return nil, nil
	}
	return &w, nil
}

func (s *InMemoryStore) SaveWorker(ctx context.Context, w models.Worker) error {
	if w.ID == "" {
		return fmt.Errorf("worker id must not be empty")
	}
	now := s.stamp()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	if w.Status == "" {
		w.Status = models.WorkerStatusActive
	}
	w.UpdatedAt = now
	s.mu.Lock()
	s.workers[w.ID] = w
	s.mu.Unlock()
	return nil
}

func (s *InMemoryStore) CreateWorker(ctx context.Context, name, phone string) (*models.Worker, error) {
	existing, err := s.FindWorkerByChannelAddress(ctx, phone)
	if err != nil {
		return nil, err
	}
	w := models.Worker{ID: util.NewID("w_")}
	if existing != nil {
		w = *existing
	}
	w.Name = name
	w.Phone = phone
	w.Status = models.WorkerStatusActive
	if err := s.SaveWorker(ctx, w); err != nil {
		return nil, err
	}
	return s.FindWorkerByID(ctx, w.ID)
}

func (s *InMemoryStore) UpdateWorkerContact(ctx context.Context, workerID string, kind models.ContactKind, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[workerID]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrWorkerNotFound, workerID)
	}
	switch kind {
	case models.ContactKindPhone:
		w.Phone = value
	case models.ContactKindEmail:
		w.Email = value
	case models.ContactKindEmergencyContact:
		w.EmergencyContact = value
	default:
		return fmt.Errorf("%w: unknown contact kind %q", models.ErrInvalidContext, kind)
	}
	w.UpdatedAt = s.stamp()
	s.workers[workerID] = w
	return nil
}

func (s *InMemoryStore) FindShiftByID(ctx context.Context, id string) (*models.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sh, ok := s.shifts[id]
	if !ok {
		return nil, nil
	}
	return &sh, nil
}

func (s *InMemoryStore) SaveShift(ctx context.Context, sh models.Shift) error {
	if sh.ID == "" {
		return fmt.Errorf("shift id must not be empty")
	}
	if sh.CreatedAt.IsZero() {
		sh.CreatedAt = s.stamp()
	}
	s.mu.Lock()
	s.shifts[sh.ID] = sh
	s.mu.Unlock()
	return nil
}

func (s *InMemoryStore) SetShiftStatus(ctx context.Context, workerID, shiftID string, status models.WorkerShiftStatus) error {
	s.mu.Lock()
	s.statuses[statusKey{workerID, shiftID}] = status
	s.mu.Unlock()
	return nil
}

func (s *InMemoryStore) GetShiftStatus(ctx context.Context, workerID, shiftID string) (models.WorkerShiftStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statuses[statusKey{workerID, shiftID}], nil
}

func (s *InMemoryStore) RecordOvertimeResponse(ctx context.Context, workerID, shiftID string, accepted bool, hours float64) error {
	s.mu.Lock()
	s.overtime[statusKey{workerID, shiftID}] = overtimeRecord{Accepted: accepted, Hours: hours}
	s.mu.Unlock()
	return nil
}

// OvertimeResponse returns the recorded overtime answer for a worker and shift.
func (s *InMemoryStore) OvertimeResponse(workerID, shiftID string) (accepted bool, hours float64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.overtime[statusKey{workerID, shiftID}]
	return r.Accepted, r.Hours, ok
}

func (s *InMemoryStore) AddReceipt(ctx context.Context, r models.Receipt) error {
	s.mu.Lock()
	s.receipts = append(s.receipts, r)
	s.mu.Unlock()
	return nil
}

func (s *InMemoryStore) GetReceipts(ctx context.Context) ([]models.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Receipt, len(s.receipts))
	copy(out, s.receipts)
	return out, nil
}

func (s *InMemoryStore) AddCode(ctx context.Context, c regcode.Code) error {
	return s.codes.AddCode(ctx, c)
}

func (s *InMemoryStore) DeactivateCode(ctx context.Context, code string) error {
	return s.codes.DeactivateCode(ctx, code)
}

func (s *InMemoryStore) GetCode(ctx context.Context, code string) (*regcode.Code, error) {
	return s.codes.GetCode(ctx, code)
}

func (s *InMemoryStore) IsValidCode(ctx context.Context, code string) (bool, error) {
	return s.codes.IsValidCode(ctx, code)
}

func (s *InMemoryStore) RecordCodeUsage(ctx context.Context, code string) error {
	return s.codes.RecordCodeUsage(ctx, code)
}

func (s *InMemoryStore) ListCodes(ctx context.Context) ([]regcode.Code, error) {
	return s.codes.ListCodes(ctx)
}

func (s *InMemoryStore) IsDuplicate(ctx context.Context, messageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.dedup[messageID]
	return ok, nil
}

func (s *InMemoryStore) RecordInbound(ctx context.Context, messageID, address string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dedup[messageID]; ok {
		return false, nil
	}
	s.dedup[messageID] = DedupRecord{MessageID: messageID, Address: address, ReceivedAt: s.stamp()}
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(ctx context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.dedup[messageID]
	if !ok {
		return nil
	}
	now := s.stamp()
	r.ProcessedAt = &now
	s.dedup[messageID] = r
	return nil
}

func (s *InMemoryStore) ReleaseInbound(ctx context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.dedup[messageID]; ok && r.ProcessedAt == nil {
		delete(s.dedup, messageID)
	}
	return nil
}

func (s *InMemoryStore) EnqueueOutboxMessage(ctx context.Context, recipient, body, dedupeKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dedupeKey != "" {
		for _, m := range s.outbox {
			if m.DedupeKey == dedupeKey && m.Status != OutboxStatusSent && m.Status != OutboxStatusCanceled && m.Status != OutboxStatusFailed {
				return m.ID, nil
			}
		}
	}
	now := s.stamp()
	m := &OutboxMessage{
		ID:        util.NewID("outbox_"),
		Recipient: recipient,
		Body:      body,
		Status:    OutboxStatusQueued,
		DedupeKey: dedupeKey,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.outbox[m.ID] = m
	return m.ID, nil
}

func (s *InMemoryStore) ClaimDueOutboxMessages(ctx context.Context, now time.Time, limit int) ([]OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*OutboxMessage
	for _, m := range s.outbox {
		if m.Status == OutboxStatusQueued && (m.NextAttemptAt == nil || !m.NextAttemptAt.After(now)) {
			due = append(due, m)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	out := make([]OutboxMessage, 0, len(due))
	for _, m := range due {
		locked := now
		m.Status = OutboxStatusSending
		m.LockedAt = &locked
		m.UpdatedAt = now
		out = append(out, *m)
	}
	return out, nil
}

func (s *InMemoryStore) MarkOutboxMessageSent(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.outbox[id]; ok {
		m.Status = OutboxStatusSent
		m.LockedAt = nil
		m.UpdatedAt = s.stamp()
	}
	return nil
}

func (s *InMemoryStore) FailOutboxMessage(ctx context.Context, id string, errMsg string, nextAttemptAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.outbox[id]
	if !ok {
		return nil
	}
	m.Attempts++
	m.Status = OutboxStatusQueued
	if m.Attempts >= DefaultOutboxMaxAttempts {
		m.Status = OutboxStatusFailed
	}
	m.LastError = errMsg
	next := nextAttemptAt
	m.NextAttemptAt = &next
	m.LockedAt = nil
	m.UpdatedAt = s.stamp()
	return nil
}

func (s *InMemoryStore) RequeueStaleSendingMessages(ctx context.Context, staleBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.outbox {
		if m.Status == OutboxStatusSending && m.LockedAt != nil && m.LockedAt.Before(staleBefore) {
			m.Status = OutboxStatusQueued
			m.LockedAt = nil
			n++
		}
	}
	return n, nil
}

// OutboxMessages returns a snapshot of every outbox message ordered by creation.
func (s *InMemoryStore) OutboxMessages() []OutboxMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]OutboxMessage, 0, len(s.outbox))
	for _, m := range s.outbox {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *InMemoryStore) Close() error {
	return nil
}
