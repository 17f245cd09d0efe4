// Package twiliosms wraps the Twilio Programmable Messaging API for SMS delivery.
package twiliosms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Sender sends one SMS and returns Twilio's message SID and initial status.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) (sid string, status string, err error)
}

// Opts holds configuration options for the Twilio SMS client.
type Opts struct {
	AccountSID     string
	AuthToken      string
	From           string
	StatusCallback string
}

// Option defines a configuration option for the Twilio SMS client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFrom sets the sending number in +E.164 format.
func WithFrom(from string) Option {
	return func(o *Opts) { o.From = from }
}

// WithStatusCallback sets the URL Twilio posts delivery status updates to.
func WithStatusCallback(url string) Option {
	return func(o *Opts) { o.StatusCallback = url }
}

// Client wraps the Twilio REST client for SMS.
type Client struct {
	client         *twilio.RestClient
	from           string
	statusCallback string
}

var _ Sender = (*Client)(nil)

// NewClient creates a Twilio SMS client. Unset credentials fall back to the
// TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER variables.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.From == "" {
		cfg.From = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("Twilio client config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"From_set", cfg.From != "",
		"StatusCallback_set", cfg.StatusCallback != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("from number must be provided")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &Client{client: client, from: cfg.From, statusCallback: cfg.StatusCallback}, nil
}

// SendMessage sends an SMS using the Twilio API.
func (c *Client) SendMessage(ctx context.Context, to string, body string) (string, string, error) {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(c.from)
	params.SetBody(body)
	if c.statusCallback != "" {
		params.SetStatusCallback(c.statusCallback)
	}

	resp, err := c.client.Api.CreateMessage(params)
	if err != nil {
		slog.Error("Twilio SendMessage failed", "to", to, "error", err)
		return "", "", fmt.Errorf("failed to send message to %s: %w", to, err)
	}

	var sid, status string
	if resp.Sid != nil {
		sid = *resp.Sid
	}
	if resp.Status != nil {
		status = *resp.Status
	}
	slog.Debug("Twilio message sent", "to", to, "sid", sid, "status", status)
	return sid, status, nil
}

// SentMessage is a message captured by MockClient.
type SentMessage struct {
	To   string
	Body string
}

// MockClient records sends instead of calling Twilio.
type MockClient struct {
	mu   sync.Mutex
	sent []SentMessage
	// Err, when set, is returned by every send.
	Err error
}

var _ Sender = (*MockClient)(nil)

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) SendMessage(ctx context.Context, to string, body string) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", "", m.Err
	}
	if to == "" {
		return "", "", errors.New("recipient cannot be empty")
	}
	m.sent = append(m.sent, SentMessage{To: to, Body: body})
	return fmt.Sprintf("SM%032d", len(m.sent)), "queued", nil
}

// SentMessages returns a copy of everything sent so far.
func (m *MockClient) SentMessages() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}
