package messaging

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BTreeMap/ShiftPipe/internal/models"
	"github.com/BTreeMap/ShiftPipe/internal/twiliosms"
)

var fixedNow = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

func newTestTwilio(opts ...TwilioOption) (*TwilioService, *twiliosms.MockClient) {
	mock := twiliosms.NewMockClient()
	opts = append(opts, WithTwilioClock(func() time.Time { return fixedNow }))
	return NewTwilioService(mock, opts...), mock
}

func postForm(target string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func twilioSignature(token, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(form.Get(k))
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestTwilioService_SendText(t *testing.T) {
	svc, mock := newTestTwilio()

	res, err := svc.SendText(context.Background(), "0151-234 567 89", "Hallo", SendMeta{ConversationID: "conv_1", Kind: "reply"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, models.MessageStatusQueued, res.Status)
	assert.NotEmpty(t, res.TransportID)

	sent := mock.SentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "+4915123456789", sent[0].To)
	assert.Equal(t, "Hallo", sent[0].Body)

	select {
	case r := <-svc.Receipts():
		assert.Equal(t, "+4915123456789", r.To)
		assert.Equal(t, res.TransportID, r.TransportID)
		assert.Equal(t, fixedNow.Unix(), r.Time)
	default:
		t.Fatal("expected receipt")
	}
}

func TestTwilioService_SendText_Failure(t *testing.T) {
	svc, mock := newTestTwilio()
	mock.Err = errors.New("boom")

	res, err := svc.SendText(context.Background(), "+4915123456789", "x", SendMeta{})
	require.Error(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, models.MessageStatusFailed, res.Status)

	r := <-svc.Receipts()
	assert.Equal(t, models.MessageStatusFailed, r.Status)
}

func TestTwilioService_SendText_InvalidRecipient(t *testing.T) {
	svc, mock := newTestTwilio()
	_, err := svc.SendText(context.Background(), "", "x", SendMeta{})
	assert.ErrorIs(t, err, models.ErrEmptyRecipient)
	assert.Empty(t, mock.SentMessages())
}

func TestTwilioService_WebhookHandler(t *testing.T) {
	svc, _ := newTestTwilio()
	form := url.Values{"From": {"+4915123456789"}, "Body": {"Ja"}, "MessageSid": {"SM1"}}

	rec := httptest.NewRecorder()
	svc.WebhookHandler(rec, postForm("/webhooks/twilio", form))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/xml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "<Response></Response>")

	select {
	case msg := <-svc.Responses():
		assert.Equal(t, "+4915123456789", msg.From)
		assert.Equal(t, "Ja", msg.Body)
		assert.Equal(t, "SM1", msg.MessageID)
		assert.True(t, fixedNow.Equal(msg.Time))
	default:
		t.Fatal("expected inbound message")
	}
}

func TestTwilioService_WebhookHandler_EmptyBodyAccepted(t *testing.T) {
	svc, _ := newTestTwilio()
	rec := httptest.NewRecorder()
	svc.WebhookHandler(rec, postForm("/webhooks/twilio", url.Values{"From": {"+4915123456789"}}))
	assert.Equal(t, http.StatusOK, rec.Code)
	msg := <-svc.Responses()
	assert.Equal(t, "", msg.Body)
}

func TestTwilioService_WebhookHandler_MissingFrom(t *testing.T) {
	svc, _ := newTestTwilio()
	rec := httptest.NewRecorder()
	svc.WebhookHandler(rec, postForm("/webhooks/twilio", url.Values{"Body": {"Ja"}}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTwilioService_WebhookHandler_Signature(t *testing.T) {
	const token = "secret-token"
	svc, _ := newTestTwilio(WithSignatureValidation(token, "https://shifts.example.com/"))
	form := url.Values{"From": {"+4915123456789"}, "Body": {"Nein"}, "MessageSid": {"SM2"}}

	t.Run("valid", func(t *testing.T) {
		req := postForm("/webhooks/twilio", form)
		req.Header.Set("X-Twilio-Signature", twilioSignature(token, "https://shifts.example.com/webhooks/twilio", form))
		rec := httptest.NewRecorder()
		svc.WebhookHandler(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		<-svc.Responses()
	})

	t.Run("invalid", func(t *testing.T) {
		req := postForm("/webhooks/twilio", form)
		req.Header.Set("X-Twilio-Signature", "bogus")
		rec := httptest.NewRecorder()
		svc.WebhookHandler(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestTwilioService_StatusCallbackHandler(t *testing.T) {
	svc, _ := newTestTwilio()
	form := url.Values{"MessageSid": {"SM9"}, "MessageStatus": {"delivered"}, "To": {"+4915123456789"}}

	rec := httptest.NewRecorder()
	svc.StatusCallbackHandler(rec, postForm("/webhooks/twilio/status", form))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	r := <-svc.Receipts()
	assert.Equal(t, models.MessageStatusDelivered, r.Status)
	assert.Equal(t, "SM9", r.TransportID)
	assert.Equal(t, "+4915123456789", r.To)

	rec = httptest.NewRecorder()
	svc.StatusCallbackHandler(rec, postForm("/webhooks/twilio/status", url.Values{"MessageSid": {"SM9"}}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTwilioStatus(t *testing.T) {
	cases := map[string]models.MessageStatus{
		"accepted":    models.MessageStatusQueued,
		"queued":      models.MessageStatusQueued,
		"sending":     models.MessageStatusSent,
		"sent":        models.MessageStatusSent,
		"delivered":   models.MessageStatusDelivered,
		"undelivered": models.MessageStatusUndelivered,
		"failed":      models.MessageStatusFailed,
		"read":        models.MessageStatusRead,
	}
	for in, want := range cases {
		assert.Equal(t, want, twilioStatus(in), in)
	}
}

func TestTwilioService_StopIsIdempotent(t *testing.T) {
	svc, _ := newTestTwilio()
	require.NoError(t, svc.Stop())
	require.NoError(t, svc.Stop())

	_, err := svc.SendText(context.Background(), "+4915123456789", "x", SendMeta{})
	assert.ErrorIs(t, err, ErrServiceStopped)

	rec := httptest.NewRecorder()
	svc.WebhookHandler(rec, postForm("/webhooks/twilio", url.Values{"From": {"+4915123456789"}}))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
