package dispatch

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"

	"github.com/BTreeMap/ShiftPipe/internal/messaging"
	"github.com/BTreeMap/ShiftPipe/internal/store"
)

// Deliverer hands an outbound text to a transport.
type Deliverer interface {
	Deliver(ctx context.Context, to, body string, meta messaging.SendMeta) error
}

// DirectDeliverer sends through the messaging service immediately.
type DirectDeliverer struct {
	svc messaging.Service
}

// NewDirectDeliverer creates a DirectDeliverer.
func NewDirectDeliverer(svc messaging.Service) *DirectDeliverer {
	return &DirectDeliverer{svc: svc}
}

func (d *DirectDeliverer) Deliver(ctx context.Context, to, body string, meta messaging.SendMeta) error {
	res, err := d.svc.SendText(ctx, to, body, meta)
	if err != nil {
		return fmt.Errorf("send to %s: %w", to, err)
	}
	slog.Debug("DirectDeliverer.Deliver: sent", "to", to, "transportID", res.TransportID, "kind", meta.Kind)
	return nil
}

// OutboxDeliverer queues texts in the durable outbox. An OutboxSender built
// with SendOutboxFunc delivers them.
type OutboxDeliverer struct {
	repo store.OutboxRepo
}

// NewOutboxDeliverer creates an OutboxDeliverer.
func NewOutboxDeliverer(repo store.OutboxRepo) *OutboxDeliverer {
	return &OutboxDeliverer{repo: repo}
}

// Deliver enqueues the text. Texts with the same conversation, kind and body
// that are still pending are not queued twice.
func (d *OutboxDeliverer) Deliver(ctx context.Context, to, body string, meta messaging.SendMeta) error {
	var key string
	if meta.ConversationID != "" {
		key = fmt.Sprintf("%s:%s:%x", meta.ConversationID, meta.Kind, fnv32(body))
	}
	id, err := d.repo.EnqueueOutboxMessage(ctx, to, body, key)
	if err != nil {
		return fmt.Errorf("enqueue outbox message for %s: %w", to, err)
	}
	slog.Debug("OutboxDeliverer.Deliver: queued", "to", to, "outboxID", id, "kind", meta.Kind)
	return nil
}

// SendOutboxFunc adapts a messaging service to store.OutboxSendFunc.
func SendOutboxFunc(svc messaging.Service) store.OutboxSendFunc {
	return func(ctx context.Context, msg store.OutboxMessage) error {
		_, err := svc.SendText(ctx, msg.Recipient, msg.Body, messaging.SendMeta{Kind: "outbox"})
		return err
	}
}

func fnv32(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}
