package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/BTreeMap/ShiftPipe/internal/util"
)

const outboxColumns = `id, recipient, body, status, attempts, next_attempt_at, dedupe_key, locked_at, last_error, created_at, updated_at`

func scanOutboxMessage(row rowScanner) (OutboxMessage, error) {
	var m OutboxMessage
	var dedupeKey, lastError sql.NullString
	var nextAttemptAt, lockedAt sql.NullTime
	if err := row.Scan(&m.ID, &m.Recipient, &m.Body, &m.Status, &m.Attempts,
		&nextAttemptAt, &dedupeKey, &lockedAt, &lastError, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return m, fmt.Errorf("scan outbox message: %w", err)
	}
	m.DedupeKey, m.LastError = dedupeKey.String, lastError.String
	if nextAttemptAt.Valid {
		t := nextAttemptAt.Time
		m.NextAttemptAt = &t
	}
	if lockedAt.Valid {
		t := lockedAt.Time
		m.LockedAt = &t
	}
	return m, nil
}

func (s *sqlStore) EnqueueOutboxMessage(ctx context.Context, recipient, body, dedupeKey string) (string, error) {
	if dedupeKey != "" {
		var existingID string
		err := s.db.QueryRowContext(ctx,
			s.q(`SELECT id FROM outbox_messages WHERE dedupe_key = ? AND status NOT IN ('sent', 'canceled', 'failed')`),
			dedupeKey,
		).Scan(&existingID)
		if err == nil {
			s.log.Debug("Store.EnqueueOutboxMessage: dedupe hit", "dedupeKey", dedupeKey, "existingID", existingID)
			return existingID, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("outbox dedupe check failed: %w", err)
		}
	}

	id := util.NewID("outbox_")
	now := s.stamp()
	_, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO outbox_messages (id, recipient, body, status, attempts, dedupe_key, created_at, updated_at)
		 VALUES (?, ?, ?, 'queued', 0, ?, ?, ?)`),
		id, recipient, body, nullable(dedupeKey), now, now,
	)
	if err != nil {
		return "", fmt.Errorf("enqueue outbox message failed: %w", err)
	}
	s.log.Debug("Store.EnqueueOutboxMessage: queued", "id", id, "recipient", recipient)
	return id, nil
}

func (s *sqlStore) MarkOutboxMessageSent(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, s.q(`UPDATE outbox_messages SET status = 'sent', locked_at = NULL, updated_at = ? WHERE id = ?`),
		s.stamp(), id)
	if err != nil {
		return fmt.Errorf("mark outbox sent failed: %w", err)
	}
	return nil
}

func (s *sqlStore) FailOutboxMessage(ctx context.Context, id string, errMsg string, nextAttemptAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		s.q(`UPDATE outbox_messages SET
			status = CASE WHEN attempts + 1 >= ? THEN 'failed' ELSE 'queued' END,
			attempts = attempts + 1, last_error = ?, next_attempt_at = ?, locked_at = NULL, updated_at = ?
		 WHERE id = ?`),
		DefaultOutboxMaxAttempts, errMsg, nextAttemptAt.UTC(), s.stamp(), id,
	)
	if err != nil {
		return fmt.Errorf("fail outbox message failed: %w", err)
	}
	return nil
}

func (s *sqlStore) RequeueStaleSendingMessages(ctx context.Context, staleBefore time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx,
		s.q(`UPDATE outbox_messages SET status = 'queued', locked_at = NULL, updated_at = ? WHERE status = 'sending' AND locked_at < ?`),
		s.stamp(), staleBefore.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("requeue stale outbox messages failed: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		s.log.Info("Store.RequeueStaleSendingMessages: requeued", "count", n)
	}
	return int(n), nil
}
