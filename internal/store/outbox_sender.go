package store

import (
	"context"
	"log/slog"
	"time"
)

// OutboxSendFunc is the callback that performs the actual message send.
// It receives the outbox message and should return an error if sending failed.
type OutboxSendFunc func(ctx context.Context, msg OutboxMessage) error

// OutboxSender periodically claims due outbox messages and attempts to send them.
type OutboxSender struct {
	repo           OutboxRepo
	sendFunc       OutboxSendFunc
	pollInterval   time.Duration
	staleThreshold time.Duration
	claimLimit     int
	now            func() time.Time
}

// NewOutboxSender creates a new OutboxSender.
func NewOutboxSender(repo OutboxRepo, sendFunc OutboxSendFunc, pollInterval time.Duration) *OutboxSender {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &OutboxSender{
		repo:           repo,
		sendFunc:       sendFunc,
		pollInterval:   pollInterval,
		staleThreshold: 5 * time.Minute,
		claimLimit:     10,
		now:            time.Now,
	}
}

// RecoverStaleMessages requeues messages left in sending state by a previous
// process. It runs once at startup, before Run.
func (s *OutboxSender) RecoverStaleMessages(ctx context.Context) error {
	staleBefore := s.now().Add(-s.staleThreshold)
	n, err := s.repo.RequeueStaleSendingMessages(ctx, staleBefore)
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("OutboxSender.RecoverStaleMessages: requeued stale messages", "count", n)
	}
	return nil
}

// Run starts the polling loop. It blocks until the context is cancelled.
func (s *OutboxSender) Run(ctx context.Context) {
	slog.Info("OutboxSender.Run: starting outbox sender", "pollInterval", s.pollInterval)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("OutboxSender.Run: stopping")
			return
		case <-ticker.C:
			s.Poll(ctx)
		}
	}
}

// Poll claims one batch of due messages and sends them. It returns the number
// of messages sent successfully.
func (s *OutboxSender) Poll(ctx context.Context) int {
	now := s.now()
	msgs, err := s.repo.ClaimDueOutboxMessages(ctx, now, s.claimLimit)
	if err != nil {
		slog.Error("OutboxSender.Poll: claim failed", "error", err)
		return 0
	}

	sent := 0
	for _, msg := range msgs {
		slog.Debug("OutboxSender.Poll: sending message", "id", msg.ID, "recipient", msg.Recipient)
		if err := s.sendFunc(ctx, msg); err != nil {
			slog.Error("OutboxSender.Poll: send failed", "id", msg.ID, "attempts", msg.Attempts+1, "error", err)
			if err := s.repo.FailOutboxMessage(ctx, msg.ID, err.Error(), now.Add(retryDelay(msg.Attempts))); err != nil {
				slog.Error("OutboxSender.Poll: fail message error", "id", msg.ID, "error", err)
			}
			continue
		}
		if err := s.repo.MarkOutboxMessageSent(ctx, msg.ID); err != nil {
			slog.Error("OutboxSender.Poll: mark sent error", "id", msg.ID, "error", err)
			continue
		}
		sent++
		slog.Debug("OutboxSender.Poll: message sent", "id", msg.ID, "recipient", msg.Recipient)
	}
	return sent
}

// maxRetryDelay bounds the gap between two attempts for the same text.
const maxRetryDelay = 30 * time.Minute

// retryDelay doubles from 10s per previous attempt, capped at maxRetryDelay.
func retryDelay(attempts int) time.Duration {
	if attempts > 10 {
		return maxRetryDelay
	}
	d := time.Duration(10*(1<<attempts)) * time.Second
	if d > maxRetryDelay {
		return maxRetryDelay
	}
	return d
}
