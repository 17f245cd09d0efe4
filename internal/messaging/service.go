// Package messaging abstracts the text channels ShiftPipe talks over.
//
// A Service sends texts, canonicalizes addresses and exposes inbound
// messages and delivery receipts as channels. Twilio SMS and WhatsApp are
// provided; RateLimitedService throttles any of them.
package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/BTreeMap/ShiftPipe/internal/models"
)

// Constants for service channel configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for receipt and response channels
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned by sends after Stop.
var ErrServiceStopped = errors.New("messaging service stopped")

// SendMeta describes an outbound text for logging and tracing.
type SendMeta struct {
	ConversationID string
	Kind           string
}

// SendResult is the transport's answer to a send.
type SendResult struct {
	Success     bool                 `json:"success"`
	TransportID string               `json:"transport_id,omitempty"`
	Status      models.MessageStatus `json:"status"`
}

// Service defines a pluggable message delivery abstraction.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates a recipient and returns it in +E.164 form.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendText sends a text to a recipient.
	SendText(ctx context.Context, to string, body string, meta SendMeta) (SendResult, error)

	// Start begins any background processing (e.g., event subscriptions).
	Start(ctx context.Context) error

	// Stop stops background processing and closes the channels.
	Stop() error

	// Receipts returns a channel of receipt events (sent, delivered, read, failed).
	Receipts() <-chan models.Receipt

	// Responses returns a channel of inbound messages.
	Responses() <-chan models.InboundMessage
}
