// Package testutil provides common test utilities and helpers for ShiftPipe tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/ShiftPipe/internal/models"
	"github.com/BTreeMap/ShiftPipe/internal/regcode"
	"github.com/BTreeMap/ShiftPipe/internal/store"
)

// Fixture identities created by SeedDirectory.
const (
	WorkerID    = "w1"
	WorkerName  = "Max Mustermann"
	WorkerPhone = "+4915112345678"
	ShiftID     = "s1"
	ShiftTitle  = "Messeaufbau Halle 3"
	Code        = "Emsland100"
)

// TestingT is the subset of *testing.T the assertion helpers need.
type TestingT interface {
	Helper()
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}

// FixedClock returns a clock frozen at t.
func FixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// NewSeededStore creates an in-memory store holding the fixture directory.
func NewSeededStore(t *testing.T, opts ...store.Option) *store.InMemoryStore {
	t.Helper()
	st := store.NewInMemoryStore(opts...)
	SeedDirectory(t, st)
	return st
}

// SeedDirectory adds one active worker, one shift and one registration code.
func SeedDirectory(t TestingT, st store.Store) {
	t.Helper()
	ctx := context.Background()
	if err := st.SaveWorker(ctx, models.Worker{ID: WorkerID, Name: WorkerName, Phone: WorkerPhone, Status: models.WorkerStatusActive}); err != nil {
		t.Fatalf("failed to seed worker: %v", err)
	}
	shift := models.Shift{
		ID: ShiftID, Title: ShiftTitle, Date: "2025-03-03",
		StartTime: "08:00", EndTime: "16:00", Location: "Messe Lingen",
	}
	if err := st.SaveShift(ctx, shift); err != nil {
		t.Fatalf("failed to seed shift: %v", err)
	}
	if err := st.AddCode(ctx, regcode.Code{Code: Code, Active: true}); err != nil {
		t.Fatalf("failed to seed registration code: %v", err)
	}
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t TestingT, expected, actual int, label string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", label, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t TestingT, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
		return nil
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Errorf("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	reqBody := bytes.NewBuffer(nil)
	if body != nil {
		reqBody = bytes.NewBuffer(MustMarshalJSON(t, body))
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// CreateJSONRequest creates an HTTP request with a raw JSON body.
func CreateJSONRequest(t *testing.T, method, url, jsonBody string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(jsonBody))
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req
}

// AssertReceiptCount validates the number of receipts in the store.
func AssertReceiptCount(t TestingT, st store.ReceiptStore, expected int, label string) {
	t.Helper()
	receipts, err := st.GetReceipts(context.Background())
	if err != nil {
		t.Fatalf("%s: failed to get receipts: %v", label, err)
		return
	}
	if len(receipts) != expected {
		t.Errorf("%s: expected %d receipts, got %d", label, expected, len(receipts))
	}
}

// ConversationFor returns the live conversation of address, or nil.
func ConversationFor(t TestingT, st store.ConversationStore, address string) *models.Conversation {
	t.Helper()
	convs, err := st.ListActiveConversations(context.Background())
	if err != nil {
		t.Fatalf("failed to list conversations: %v", err)
		return nil
	}
	for i := range convs {
		if convs[i].ChannelAddress == address {
			return &convs[i]
		}
	}
	return nil
}

// AssertConversationState checks the state of the live conversation of address.
func AssertConversationState(t TestingT, st store.ConversationStore, address string, expected models.State) {
	t.Helper()
	conv := ConversationFor(t, st, address)
	if conv == nil {
		t.Errorf("no active conversation for %s", address)
		return
	}
	if conv.State != expected {
		t.Errorf("conversation %s: expected state %s, got %s", conv.ID, expected, conv.State)
	}
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t TestingT, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t TestingT, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
