package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

func (s *sqlStore) IsDuplicate(ctx context.Context, messageID string) (bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx, s.q(`SELECT message_id FROM inbound_dedup WHERE message_id = ?`), messageID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	return true, nil
}

func (s *sqlStore) RecordInbound(ctx context.Context, messageID, address string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO inbound_dedup (message_id, address, received_at) VALUES (?, ?, ?) ON CONFLICT (message_id) DO NOTHING`),
		messageID, address, s.stamp(),
	)
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("dedup rows affected check failed: %w", err)
	}
	return n > 0, nil
}

func (s *sqlStore) MarkProcessed(ctx context.Context, messageID string) error {
	_, err := s.db.ExecContext(ctx, s.q(`UPDATE inbound_dedup SET processed_at = ? WHERE message_id = ?`), s.stamp(), messageID)
	if err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}

func (s *sqlStore) ReleaseInbound(ctx context.Context, messageID string) error {
	_, err := s.db.ExecContext(ctx, s.q(`DELETE FROM inbound_dedup WHERE message_id = ? AND processed_at IS NULL`), messageID)
	if err != nil {
		return fmt.Errorf("release inbound failed: %w", err)
	}
	return nil
}
