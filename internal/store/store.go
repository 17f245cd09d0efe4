// Package store provides storage backends for ShiftPipe.
//
// A Store persists conversations, the worker and shift directory the engine
// reads, worker shift statuses, registration codes, delivery receipts,
// inbound deduplication records and the outbound message outbox. It is
// implemented in memory, on SQLite and on PostgreSQL.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/BTreeMap/ShiftPipe/internal/models"
	"github.com/BTreeMap/ShiftPipe/internal/regcode"
)

// ConversationStore persists per-address conversations.
type ConversationStore interface {
	// GetOrCreateConversation returns the live conversation for address, or
	// creates one in idle with a fresh context. An expired conversation is
	// replaced. subjectID is recorded on creation only.
	GetOrCreateConversation(ctx context.Context, address, subjectID string) (*models.Conversation, error)
	// UpdateConversationState writes back the result of a transition and
	// stamps last activity.
	UpdateConversationState(ctx context.Context, id string, u models.ConversationUpdate) error
	// GetConversationByID returns models.ErrNotFound when id is unknown.
	GetConversationByID(ctx context.Context, id string) (*models.Conversation, error)
	// ListActiveConversations returns conversations that are neither expired
	// nor completed, most recent activity first.
	ListActiveConversations(ctx context.Context) ([]models.Conversation, error)
	// CleanupExpiredConversations deletes expired conversations and returns the count.
	CleanupExpiredConversations(ctx context.Context) (int, error)
	// RenewConversation moves the expiry of a conversation to until.
	RenewConversation(ctx context.Context, id string, until time.Time) error
}

// DirectoryStore holds the workers and shifts the engine looks up, and the
// per-shift answers it requests to be recorded. Finders return (nil, nil)
// when the entity does not exist.
type DirectoryStore interface {
	FindWorkerByChannelAddress(ctx context.Context, address string) (*models.Worker, error)
	FindWorkerByID(ctx context.Context, id string) (*models.Worker, error)
	FindShiftByID(ctx context.Context, id string) (*models.Shift, error)
	// SaveWorker inserts or replaces a worker by id.
	SaveWorker(ctx context.Context, w models.Worker) error
	// CreateWorker registers a worker for phone. An existing worker with the
	// same phone is renamed and returned.
	CreateWorker(ctx context.Context, name, phone string) (*models.Worker, error)
	UpdateWorkerContact(ctx context.Context, workerID string, kind models.ContactKind, value string) error
	// SaveShift inserts or replaces a shift by id.
	SaveShift(ctx context.Context, s models.Shift) error
	SetShiftStatus(ctx context.Context, workerID, shiftID string, status models.WorkerShiftStatus) error
	// GetShiftStatus returns "" when the worker has no status for the shift.
	GetShiftStatus(ctx context.Context, workerID, shiftID string) (models.WorkerShiftStatus, error)
	RecordOvertimeResponse(ctx context.Context, workerID, shiftID string, accepted bool, hours float64) error
}

// ReceiptStore records transport statuses of outbound messages.
type ReceiptStore interface {
	AddReceipt(ctx context.Context, r models.Receipt) error
	GetReceipts(ctx context.Context) ([]models.Receipt, error)
}

// Store is the full persistence surface used by the application.
type Store interface {
	ConversationStore
	DirectoryStore
	ReceiptStore
	regcode.Repository
	DedupRepo
	OutboxRepo
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN   string
	Clock func() time.Time
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithClock overrides time.Now for expiry and timestamps.
func WithClock(c func() time.Time) Option {
	return func(o *Opts) { o.Clock = c }
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and
// "sqlite3" for everything else.
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(lower, "host=") || strings.Contains(lower, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}

func applyOpts(opts []Option) Opts {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return cfg
}
