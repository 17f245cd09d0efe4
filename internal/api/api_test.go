package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BTreeMap/ShiftPipe/internal/dispatch"
	"github.com/BTreeMap/ShiftPipe/internal/engine"
	"github.com/BTreeMap/ShiftPipe/internal/messaging"
	"github.com/BTreeMap/ShiftPipe/internal/models"
	"github.com/BTreeMap/ShiftPipe/internal/regcode"
	"github.com/BTreeMap/ShiftPipe/internal/store"
	"github.com/BTreeMap/ShiftPipe/internal/testutil"
	"github.com/BTreeMap/ShiftPipe/internal/twiliosms"
)

var testNow = time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

type testServer struct {
	server *Server
	store  *store.InMemoryStore
	sms    *twiliosms.MockClient
	twilio *messaging.TwilioService
}

// newTestServer creates a Server backed by the in-memory store and the Twilio mock client.
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	clock := testutil.FixedClock(testNow)
	st := testutil.NewSeededStore(t, store.WithClock(clock))
	sms := twiliosms.NewMockClient()
	svc := messaging.NewTwilioService(sms, messaging.WithTwilioClock(clock))
	t.Cleanup(func() { _ = svc.Stop() })

	eng := engine.New(st, engine.WithClock(clock), engine.WithCodeRepository(st))
	d := dispatch.New(st, eng, svc)
	return &testServer{
		server: NewServer(st, d, WithTwilio(svc), WithClock(clock)),
		store:  st,
		sms:    sms,
		twilio: svc,
	}
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	ts.server.ServeHTTP(rr, req)
	return rr
}

func TestShiftNotificationHandler_Success(t *testing.T) {
	ts := newTestServer(t)

	req := testutil.CreateJSONRequest(t, "POST", "/campaigns/shift-notification", `{"phone":"0151 12345678","shift_id":"s1"}`)
	rr := ts.do(req)

	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "shift notification")
	testutil.AssertJSONResponse(t, rr, "ok")

	sent := ts.sms.SentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, testutil.WorkerPhone, sent[0].To)
	assert.Contains(t, sent[0].Body, testutil.ShiftTitle)
	testutil.AssertConversationState(t, ts.store, testutil.WorkerPhone, models.StateAwaitingEventResponse)

	status, err := ts.store.GetShiftStatus(context.Background(), testutil.WorkerID, testutil.ShiftID)
	require.NoError(t, err)
	assert.Equal(t, models.ShiftStatusAsked, status)
}

func TestShiftNotificationHandler_ByWorkerID(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(testutil.CreateJSONRequest(t, "POST", "/campaigns/shift-notification", `{"worker_id":"w1","shift_id":"s1"}`))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "notification by worker id")
	require.Len(t, ts.sms.SentMessages(), 1)

	rr = ts.do(testutil.CreateJSONRequest(t, "POST", "/campaigns/shift-notification", `{"worker_id":"nobody","shift_id":"s1"}`))
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "unknown worker id")
}

func TestShiftNotificationHandler_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"invalid JSON", `{"phone":`, http.StatusBadRequest},
		{"missing shift", `{"phone":"+4915112345678"}`, http.StatusBadRequest},
		{"missing recipient", `{"shift_id":"s1"}`, http.StatusBadRequest},
		{"invalid phone", `{"phone":"hallo","shift_id":"s1"}`, http.StatusBadRequest},
		{"unknown shift", `{"phone":"+4915112345678","shift_id":"nope"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			rr := ts.do(testutil.CreateJSONRequest(t, "POST", "/campaigns/shift-notification", tt.body))
			testutil.AssertHTTPStatus(t, tt.status, rr.Code, tt.name)
			testutil.AssertJSONResponse(t, rr, "error")
			assert.Empty(t, ts.sms.SentMessages())
		})
	}
}

func TestShiftNotificationHandler_ConflictWhileAwaiting(t *testing.T) {
	ts := newTestServer(t)
	body := `{"phone":"+4915112345678","shift_id":"s1"}`

	rr := ts.do(testutil.CreateJSONRequest(t, "POST", "/campaigns/shift-notification", body))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "first notification")

	rr = ts.do(testutil.CreateJSONRequest(t, "POST", "/campaigns/shift-notification", body))
	testutil.AssertHTTPStatus(t, http.StatusConflict, rr.Code, "second notification")
	assert.Len(t, ts.sms.SentMessages(), 1)
}

func TestShiftNotificationHandler_DeliveryFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.sms.Err = errors.New("twilio down")

	rr := ts.do(testutil.CreateJSONRequest(t, "POST", "/campaigns/shift-notification", `{"phone":"+4915112345678","shift_id":"s1"}`))
	testutil.AssertHTTPStatus(t, http.StatusAccepted, rr.Code, "undelivered notification")
	testutil.AssertJSONResponse(t, rr, "queued")
	// Not delivered, so the conversation stays at event_notification_sent.
	testutil.AssertConversationState(t, ts.store, testutil.WorkerPhone, models.StateEventNotificationSent)
}

func TestOvertimeHandler(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(testutil.CreateJSONRequest(t, "POST", "/campaigns/overtime", `{"phone":"+4915112345678","shift_id":"s1","hours":2,"rate":18.5}`))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "overtime request")
	testutil.AssertConversationState(t, ts.store, testutil.WorkerPhone, models.StateOvertimeRequestSent)
	require.Len(t, ts.sms.SentMessages(), 1)

	rr = ts.do(testutil.CreateJSONRequest(t, "POST", "/campaigns/overtime", `{"phone":"+4915112345678","shift_id":"s1","hours":0,"rate":18.5}`))
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "zero hours")
}

func TestContactUpdateHandler(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(testutil.CreateJSONRequest(t, "POST", "/workers/w1/contact", `{"kind":"email","value":"max@example.de"}`))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "contact update")

	w, err := ts.store.FindWorkerByID(context.Background(), testutil.WorkerID)
	require.NoError(t, err)
	assert.Equal(t, "max@example.de", w.Email)
	require.Len(t, ts.sms.SentMessages(), 1)

	rr = ts.do(testutil.CreateJSONRequest(t, "POST", "/workers/nobody/contact", `{"kind":"email","value":"x@example.de"}`))
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "unknown worker")

	rr = ts.do(testutil.CreateJSONRequest(t, "POST", "/workers/w1/contact", `{"kind":"fax","value":"123"}`))
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "unknown kind")

	rr = ts.do(testutil.CreateJSONRequest(t, "POST", "/workers/w1/contact", `{"kind":"email","value":"  "}`))
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "empty value")
}

func TestConversationHandlers(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(testutil.CreateHTTPRequest(t, "GET", "/conversations", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "empty list")
	resp := testutil.AssertJSONResponse(t, rr, "ok")
	assert.Equal(t, []interface{}{}, resp["result"])

	ts.do(testutil.CreateJSONRequest(t, "POST", "/campaigns/shift-notification", `{"phone":"+4915112345678","shift_id":"s1"}`))
	conv := testutil.ConversationFor(t, ts.store, testutil.WorkerPhone)
	require.NotNil(t, conv)

	rr = ts.do(testutil.CreateHTTPRequest(t, "GET", "/conversations", nil))
	var list struct {
		Status string                `json:"status"`
		Result []models.Conversation `json:"result"`
	}
	testutil.MustUnmarshalJSON(t, rr.Body.Bytes(), &list)
	require.Len(t, list.Result, 1)
	assert.Equal(t, conv.ID, list.Result[0].ID)

	rr = ts.do(testutil.CreateHTTPRequest(t, "GET", "/conversations/"+conv.ID, nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "get conversation")
	var one struct {
		Result models.Conversation `json:"result"`
	}
	testutil.MustUnmarshalJSON(t, rr.Body.Bytes(), &one)
	assert.Equal(t, testutil.ShiftID, one.Result.LinkedShiftID)
	assert.Equal(t, models.StateAwaitingEventResponse, one.Result.State)

	rr = ts.do(testutil.CreateHTTPRequest(t, "GET", "/conversations/missing", nil))
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "unknown conversation")
}

func TestCleanupHandler(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(testutil.CreateHTTPRequest(t, "POST", "/conversations/cleanup", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "cleanup")
	resp := testutil.AssertJSONResponse(t, rr, "ok")
	assert.Equal(t, map[string]interface{}{"removed": float64(0)}, resp["result"])
}

func TestCodeHandlers(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	rr := ts.do(testutil.CreateJSONRequest(t, "POST", "/codes", `{"code":"Lingen25","max_uses":3,"description":"Messe"}`))
	testutil.AssertHTTPStatus(t, http.StatusCreated, rr.Code, "add code")

	ok, err := ts.store.IsValidCode(ctx, "lingen25")
	require.NoError(t, err)
	assert.True(t, ok)

	rr = ts.do(testutil.CreateHTTPRequest(t, "GET", "/codes", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "list codes")
	var list struct {
		Result []regcode.Code `json:"result"`
	}
	testutil.MustUnmarshalJSON(t, rr.Body.Bytes(), &list)
	assert.Len(t, list.Result, 2)

	rr = ts.do(testutil.CreateHTTPRequest(t, "DELETE", "/codes/Lingen25", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "deactivate code")
	ok, err = ts.store.IsValidCode(ctx, "lingen25")
	require.NoError(t, err)
	assert.False(t, ok)

	rr = ts.do(testutil.CreateHTTPRequest(t, "DELETE", "/codes/unknown", nil))
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "deactivate unknown code")

	rr = ts.do(testutil.CreateJSONRequest(t, "POST", "/codes", `{"code":"   "}`))
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "empty code")

	rr = ts.do(testutil.CreateJSONRequest(t, "POST", "/codes", `{"code":"Inactive1","active":false}`))
	testutil.AssertHTTPStatus(t, http.StatusCreated, rr.Code, "inactive code")
	ok, err = ts.store.IsValidCode(ctx, "inactive1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHealthHandler(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(testutil.CreateHTTPRequest(t, "GET", "/health", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "health")

	var health map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, testNow.Format(time.RFC3339), health["timestamp"])
	assert.Equal(t, float64(0), health["active_conversations"])
}

func TestHealthHandler_Degraded(t *testing.T) {
	ts := newTestServer(t)
	ts.server.st = failingStore{Store: ts.store}

	rr := ts.do(testutil.CreateHTTPRequest(t, "GET", "/health", nil))
	testutil.AssertHTTPStatus(t, http.StatusServiceUnavailable, rr.Code, "degraded health")
}

func TestMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(testutil.CreateHTTPRequest(t, "GET", "/campaigns/overtime", nil))
	testutil.AssertHTTPStatus(t, http.StatusMethodNotAllowed, rr.Code, "GET on campaign")
	assert.Contains(t, rr.Header().Get("Allow"), http.MethodPost)
}

func TestTwilioWebhookRoute(t *testing.T) {
	ts := newTestServer(t)

	form := url.Values{"From": {"+4915112345678"}, "Body": {"Ja"}, "MessageSid": {"SM1"}}
	req := httptest.NewRequest("POST", "/webhooks/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := ts.do(req)

	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "inbound webhook")
	assert.Equal(t, "text/xml", rr.Header().Get("Content-Type"))

	select {
	case msg := <-ts.twilio.Responses():
		assert.Equal(t, "+4915112345678", msg.From)
		assert.Equal(t, "Ja", msg.Body)
		assert.Equal(t, "SM1", msg.MessageID)
	case <-time.After(time.Second):
		t.Fatal("inbound message not emitted")
	}
}

func TestTwilioStatusRoute(t *testing.T) {
	ts := newTestServer(t)

	form := url.Values{"MessageSid": {"SM9"}, "MessageStatus": {"delivered"}, "To": {"+4915112345678"}}
	req := httptest.NewRequest("POST", "/webhooks/twilio/status", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := ts.do(req)

	testutil.AssertHTTPStatus(t, http.StatusNoContent, rr.Code, "status callback")
	select {
	case r := <-ts.twilio.Receipts():
		assert.Equal(t, models.MessageStatusDelivered, r.Status)
		assert.Equal(t, "SM9", r.TransportID)
	case <-time.After(time.Second):
		t.Fatal("receipt not emitted")
	}
}

func TestWebhookRoutesAbsentWithoutTwilio(t *testing.T) {
	st := testutil.NewSeededStore(t)
	svc := messaging.NewTwilioService(twiliosms.NewMockClient())
	t.Cleanup(func() { _ = svc.Stop() })
	s := NewServer(st, dispatch.New(st, engine.New(st), svc))

	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, httptest.NewRequest("POST", "/webhooks/twilio", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, DefaultAddr, s.Addr())
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("x: %w", models.ErrWorkerNotFound), http.StatusNotFound},
		{fmt.Errorf("x: %w", models.ErrShiftNotFound), http.StatusNotFound},
		{fmt.Errorf("x: %w", models.ErrInvalidTransition), http.StatusConflict},
		{fmt.Errorf("x: %w", models.ErrInvalidContext), http.StatusBadRequest},
		{fmt.Errorf("x: %w", messaging.ErrInvalidAddress), http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, statusForError(tt.err), tt.err.Error())
	}
}

func TestWriteJSONResponse_MarshalFailure(t *testing.T) {
	rr := httptest.NewRecorder()
	writeJSONResponse(rr, http.StatusOK, map[string]interface{}{"bad": make(chan int)})
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.JSONEq(t, string(fallbackErrorResponse), rr.Body.String())
}

// failingStore fails conversation listing.
type failingStore struct {
	store.Store
}

func (failingStore) ListActiveConversations(context.Context) ([]models.Conversation, error) {
	return nil, errors.New("database unavailable")
}
