package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/twilio/twilio-go/client"

	"github.com/BTreeMap/ShiftPipe/internal/models"
	"github.com/BTreeMap/ShiftPipe/internal/twiliosms"
)

// emptyTwiML acknowledges a webhook without replying inline. Replies are
// sent through the REST API once the dispatcher has processed the message.
const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// TwilioOpts holds configuration options for a TwilioService.
type TwilioOpts struct {
	AuthToken string
	PublicURL string
	Clock     func() time.Time
}

// TwilioOption defines a configuration option for a TwilioService.
type TwilioOption func(*TwilioOpts)

// WithSignatureValidation rejects webhooks whose X-Twilio-Signature does not
// match. publicURL is the externally visible base URL Twilio posts to.
func WithSignatureValidation(authToken, publicURL string) TwilioOption {
	return func(o *TwilioOpts) {
		o.AuthToken = authToken
		o.PublicURL = strings.TrimRight(publicURL, "/")
	}
}

// WithTwilioClock overrides time.Now for inbound timestamps.
func WithTwilioClock(c func() time.Time) TwilioOption {
	return func(o *TwilioOpts) { o.Clock = c }
}

// TwilioService implements Service over Twilio SMS.
type TwilioService struct {
	client    twiliosms.Sender
	validator *client.RequestValidator
	publicURL string
	now       func() time.Time
	receipts  chan models.Receipt
	responses chan models.InboundMessage
	mu        sync.RWMutex
	stopped   bool
}

var _ Service = (*TwilioService)(nil)

// NewTwilioService creates a TwilioService sending through sender.
func NewTwilioService(sender twiliosms.Sender, opts ...TwilioOption) *TwilioService {
	var cfg TwilioOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	s := &TwilioService{
		client:    sender,
		publicURL: cfg.PublicURL,
		now:       cfg.Clock,
		receipts:  make(chan models.Receipt, DefaultChannelBufferSize),
		responses: make(chan models.InboundMessage, DefaultChannelBufferSize),
	}
	if cfg.AuthToken != "" {
		v := client.NewRequestValidator(cfg.AuthToken)
		s.validator = &v
	}
	return s
}

// ValidateAndCanonicalizeRecipient returns the recipient in +E.164 form.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	canonical, err := CanonicalizeAddress(recipient)
	if err != nil {
		return "", err
	}
	if canonical != recipient {
		slog.Debug("TwilioService canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// Start is a no-op for Twilio; inbound traffic arrives through the webhook handlers.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes channels and stops the service
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.receipts)
	close(s.responses)
	return nil
}

// SendText sends an SMS via Twilio and emits a receipt.
func (s *TwilioService) SendText(ctx context.Context, to string, body string, meta SendMeta) (SendResult, error) {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return SendResult{}, ErrServiceStopped
	}

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService.SendText: invalid recipient", "error", err, "to", to)
		return SendResult{}, err
	}

	sid, status, err := s.client.SendMessage(ctx, canonicalTo, body)
	if err != nil {
		s.emitReceipt(models.Receipt{To: canonicalTo, Status: models.MessageStatusFailed, Time: s.now().Unix()})
		return SendResult{Status: models.MessageStatusFailed}, err
	}

	res := SendResult{Success: true, TransportID: sid, Status: twilioStatus(status)}
	slog.Debug("TwilioService.SendText: sent", "to", canonicalTo, "sid", sid, "conversationID", meta.ConversationID, "kind", meta.Kind)
	s.emitReceipt(models.Receipt{To: canonicalTo, Status: res.Status, TransportID: sid, Time: s.now().Unix()})
	return res, nil
}

// Receipts returns the channel for delivery receipts
func (s *TwilioService) Receipts() <-chan models.Receipt {
	return s.receipts
}

// Responses returns the channel for inbound texts received by the webhook.
func (s *TwilioService) Responses() <-chan models.InboundMessage {
	return s.responses
}

// twilioStatus maps Twilio's message status vocabulary onto MessageStatus.
func twilioStatus(status string) models.MessageStatus {
	switch strings.ToLower(status) {
	case "sending", "sent":
		return models.MessageStatusSent
	case "delivered":
		return models.MessageStatusDelivered
	case "read":
		return models.MessageStatusRead
	case "failed", "canceled":
		return models.MessageStatusFailed
	case "undelivered":
		return models.MessageStatusUndelivered
	default:
		return models.MessageStatusQueued
	}
}

// emitReceipt and emitResponse hold the read lock across the send so Stop
// cannot close a channel underneath them.
func (s *TwilioService) emitReceipt(receipt models.Receipt) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return
	}
	select {
	case s.receipts <- receipt:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService receipts channel blocked, dropping receipt", "to", receipt.To)
	}
}

func (s *TwilioService) emitResponse(msg models.InboundMessage) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		slog.Warn("TwilioService dropping inbound message (service stopped)", "from", msg.From)
		return false
	}
	select {
	case s.responses <- msg:
		return true
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService responses channel blocked, dropping message", "from", msg.From)
		return false
	}
}

// verify checks the request signature when validation is configured. The
// form must already be parsed.
func (s *TwilioService) verify(r *http.Request) bool {
	if s.validator == nil {
		return true
	}
	params := make(map[string]string, len(r.PostForm))
	for k, v := range r.PostForm {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	return s.validator.Validate(s.publicURL+r.URL.RequestURI(), params, r.Header.Get("X-Twilio-Signature"))
}

// WebhookHandler handles inbound SMS webhooks. It emits each message into the
// Responses() channel and acknowledges with empty TwiML.
func (s *TwilioService) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Error("TwilioService.WebhookHandler: failed to parse form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	if !s.verify(r) {
		slog.Warn("TwilioService.WebhookHandler: signature mismatch", "remote", r.RemoteAddr)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	from := r.PostForm.Get("From")
	if from == "" {
		slog.Warn("TwilioService.WebhookHandler: missing From")
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	msg := models.InboundMessage{
		From:      from,
		Body:      r.PostForm.Get("Body"),
		MessageID: r.PostForm.Get("MessageSid"),
		Time:      s.now(),
	}
	slog.Info("TwilioService.WebhookHandler: inbound message", "from", from, "sid", msg.MessageID, "body_length", len(msg.Body))
	if !s.emitResponse(msg) {
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, emptyTwiML)
}

// StatusCallbackHandler handles Twilio delivery status callbacks and emits
// them as receipts.
func (s *TwilioService) StatusCallbackHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	if !s.verify(r) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	sid := r.PostForm.Get("MessageSid")
	status := r.PostForm.Get("MessageStatus")
	if sid == "" || status == "" {
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}
	to := r.PostForm.Get("To")
	if canonical, err := CanonicalizeAddress(to); err == nil {
		to = canonical
	}
	receipt := models.Receipt{To: to, Status: twilioStatus(status), TransportID: sid, Time: s.now().Unix()}
	slog.Debug("TwilioService.StatusCallbackHandler: status update", "sid", sid, "status", receipt.Status, "errorCode", r.PostForm.Get("ErrorCode"))
	s.emitReceipt(receipt)
	w.WriteHeader(http.StatusNoContent)
}
