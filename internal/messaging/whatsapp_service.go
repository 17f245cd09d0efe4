package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.mau.fi/whatsmeow/types/events"

	"github.com/BTreeMap/ShiftPipe/internal/models"
	"github.com/BTreeMap/ShiftPipe/internal/whatsapp"
)

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
type WhatsAppService struct {
	client    whatsapp.Sender
	waClient  *whatsapp.Client // set when event handling is available
	receipts  chan models.Receipt
	responses chan models.InboundMessage
	mu        sync.RWMutex
	stopped   bool
}

var _ Service = (*WhatsAppService)(nil)

// NewWhatsAppService creates a new WhatsAppService wrapping the given Sender.
func NewWhatsAppService(client whatsapp.Sender) *WhatsAppService {
	service := &WhatsAppService{
		client:    client,
		receipts:  make(chan models.Receipt, DefaultChannelBufferSize),
		responses: make(chan models.InboundMessage, DefaultChannelBufferSize),
	}

	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}

	return service
}

// ValidateAndCanonicalizeRecipient returns the recipient in +E.164 form.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return CanonicalizeAddress(recipient)
}

// Start registers the whatsmeow event handler.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Debug("WhatsAppService no full client available, skipping event handling")
		return nil
	}
	s.waClient.GetClient().AddEventHandler(s.handleEvent)
	slog.Debug("WhatsAppService event handler registered")
	return nil
}

// Stop closes the channels. Later events are dropped.
func (s *WhatsAppService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.receipts)
	close(s.responses)
	slog.Info("WhatsAppService stopped and channels closed")
	return nil
}

// SendText sends a message and emits a sent receipt.
func (s *WhatsAppService) SendText(ctx context.Context, to string, body string, meta SendMeta) (SendResult, error) {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return SendResult{}, ErrServiceStopped
	}

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return SendResult{}, err
	}
	id, err := s.client.SendMessage(ctx, canonicalTo, body)
	if err != nil {
		slog.Error("WhatsAppService.SendText: send failed", "error", err, "to", canonicalTo)
		return SendResult{Status: models.MessageStatusFailed}, err
	}
	slog.Debug("WhatsAppService.SendText: sent", "to", canonicalTo, "id", id, "conversationID", meta.ConversationID, "kind", meta.Kind)
	s.emitReceipt(models.Receipt{To: canonicalTo, Status: models.MessageStatusSent, TransportID: id, Time: time.Now().Unix()})
	return SendResult{Success: true, TransportID: id, Status: models.MessageStatusSent}, nil
}

// Receipts returns a channel of receipt events.
func (s *WhatsAppService) Receipts() <-chan models.Receipt {
	return s.receipts
}

// Responses returns a channel of inbound messages.
func (s *WhatsAppService) Responses() <-chan models.InboundMessage {
	return s.responses
}

func (s *WhatsAppService) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Message:
		s.handleIncomingMessage(v)
	case *events.Receipt:
		s.handleMessageReceipt(v)
	}
}

// handleIncomingMessage forwards text messages. Media is ignored.
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Message == nil || evt.Info.IsFromMe {
		return
	}
	var text string
	switch {
	case evt.Message.Conversation != nil:
		text = evt.Message.GetConversation()
	case evt.Message.ExtendedTextMessage != nil:
		text = evt.Message.GetExtendedTextMessage().GetText()
	default:
		slog.Debug("WhatsAppService ignoring non-text message", "from", evt.Info.Sender.String())
		return
	}

	s.emitResponse(models.InboundMessage{
		From:      "+" + evt.Info.Sender.User,
		Body:      text,
		MessageID: string(evt.Info.ID),
		Time:      evt.Info.Timestamp,
	})
}

// handleMessageReceipt forwards delivery and read receipts.
func (s *WhatsAppService) handleMessageReceipt(evt *events.Receipt) {
	var status models.MessageStatus
	switch evt.Type {
	case events.ReceiptTypeDelivered:
		status = models.MessageStatusDelivered
	case events.ReceiptTypeRead:
		status = models.MessageStatusRead
	default:
		return
	}
	var id string
	if len(evt.MessageIDs) > 0 {
		id = string(evt.MessageIDs[0])
	}
	s.emitReceipt(models.Receipt{
		To:          "+" + evt.MessageSource.Sender.User,
		Status:      status,
		TransportID: id,
		Time:        evt.Timestamp.Unix(),
	})
}

func (s *WhatsAppService) emitReceipt(receipt models.Receipt) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return
	}
	select {
	case s.receipts <- receipt:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService receipts channel blocked, dropping receipt", "to", receipt.To, "timeout", DefaultChannelTimeout)
	}
}

func (s *WhatsAppService) emitResponse(msg models.InboundMessage) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return
	}
	select {
	case s.responses <- msg:
		slog.Info("WhatsAppService incoming message forwarded", "from", msg.From)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService responses channel blocked, dropping message", "from", msg.From, "timeout", DefaultChannelTimeout)
	}
}
