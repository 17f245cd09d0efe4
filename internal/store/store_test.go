package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BTreeMap/ShiftPipe/internal/models"
	"github.com/BTreeMap/ShiftPipe/internal/regcode"
)

var testNow = time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type storeFactory func(t *testing.T, clock *testClock) Store

func newTestSQLiteStore(t *testing.T, clock *testClock) Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(WithSQLiteDSN(dbPath), WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestPostgresStore(t *testing.T, clock *testClock) Store {
	t.Helper()
	dsn := getenvOrSkip(t, "DATABASE_URL")
	s, err := NewPostgresStore(WithPostgresDSN(dsn), WithClock(clock.Now))
	if err != nil {
		t.Skipf("Postgres not available: %v", err)
	}
	for _, table := range []string{"conversations", "workers", "shifts", "worker_shift_status", "overtime_responses",
		"registration_codes", "receipts", "inbound_dedup", "outbox_messages"} {
		_, err := s.db.Exec("DELETE FROM " + table)
		require.NoError(t, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestMemoryStore(t *testing.T, clock *testClock) Store {
	return NewInMemoryStore(WithClock(clock.Now))
}

func backends() map[string]storeFactory {
	return map[string]storeFactory{
		"memory":   newTestMemoryStore,
		"sqlite":   newTestSQLiteStore,
		"postgres": newTestPostgresStore,
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s Store, clock *testClock)) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			clock := &testClock{now: testNow}
			fn(t, factory(t, clock), clock)
		})
	}
}

func getenvOrSkip(t *testing.T, key string) string {
	v := os.Getenv(key)
	if v == "" {
		t.Skipf("env %s not set", key)
	}
	return v
}

func TestGetOrCreateConversation(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, clock *testClock) {
		ctx := context.Background()

		conv, err := s.GetOrCreateConversation(ctx, "+4915112345678", "w1")
		require.NoError(t, err)
		assert.Equal(t, models.StateIdle, conv.State)
		assert.Equal(t, "w1", conv.SubjectID)
		assert.True(t, conv.ExpiresAt.Equal(testNow.Add(models.DefaultConversationTTL)))
		assert.NotNil(t, conv.Context.InformationRequests)
		assert.True(t, conv.Context.Metadata.ConversationStarted.Equal(testNow))

		again, err := s.GetOrCreateConversation(ctx, "+4915112345678", "")
		require.NoError(t, err)
		assert.Equal(t, conv.ID, again.ID)

		_, err = s.GetOrCreateConversation(ctx, "", "")
		assert.ErrorIs(t, err, models.ErrEmptyRecipient)
	})
}

func TestGetOrCreateConversation_ReplacesExpired(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, clock *testClock) {
		ctx := context.Background()
		old, err := s.GetOrCreateConversation(ctx, "+4915112345678", "")
		require.NoError(t, err)

		clock.Advance(models.DefaultConversationTTL)
		fresh, err := s.GetOrCreateConversation(ctx, "+4915112345678", "")
		require.NoError(t, err)
		assert.NotEqual(t, old.ID, fresh.ID)
		assert.Equal(t, models.StateIdle, fresh.State)

		_, err = s.GetConversationByID(ctx, old.ID)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}

func TestUpdateConversationState(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, clock *testClock) {
		ctx := context.Background()
		conv, err := s.GetOrCreateConversation(ctx, "+4915112345678", "")
		require.NoError(t, err)

		next := conv.Context.Clone()
		next.Registration = &models.RegistrationContext{Code: "sommer25", Step: models.RegistrationStepCodeReceived}
		next.Metadata.MessageCount = 1
		expires := testNow.Add(models.RegistrationTTL)
		shiftID := "s1"
		subject := "w9"

		clock.Advance(time.Minute)
		err = s.UpdateConversationState(ctx, conv.ID, models.ConversationUpdate{
			State:         models.StateRegistrationCodeReceived,
			Context:       &next,
			LinkedShiftID: &shiftID,
			SubjectID:     &subject,
			ExpiresAt:     &expires,
		})
		require.NoError(t, err)

		got, err := s.GetConversationByID(ctx, conv.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StateRegistrationCodeReceived, got.State)
		require.NotNil(t, got.Context.Registration)
		assert.Equal(t, "sommer25", got.Context.Registration.Code)
		assert.Equal(t, 1, got.Context.Metadata.MessageCount)
		assert.Equal(t, "s1", got.LinkedShiftID)
		assert.Equal(t, "w9", got.SubjectID)
		assert.True(t, got.ExpiresAt.Equal(expires))
		assert.True(t, got.LastActivityAt.Equal(testNow.Add(time.Minute)))

		err = s.UpdateConversationState(ctx, "conv_missing", models.ConversationUpdate{State: models.StateIdle})
		assert.ErrorIs(t, err, models.ErrNotFound)

		err = s.UpdateConversationState(ctx, conv.ID, models.ConversationUpdate{State: "bogus"})
		assert.ErrorIs(t, err, models.ErrUnknownState)
	})
}

func TestListAndCleanupConversations(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, clock *testClock) {
		ctx := context.Background()
		short, err := s.GetOrCreateConversation(ctx, "+4915100000001", "")
		require.NoError(t, err)
		long, err := s.GetOrCreateConversation(ctx, "+4915100000002", "")
		require.NoError(t, err)
		done, err := s.GetOrCreateConversation(ctx, "+4915100000003", "")
		require.NoError(t, err)
		require.NoError(t, s.UpdateConversationState(ctx, done.ID, models.ConversationUpdate{State: models.StateCompleted}))

		expires := testNow.Add(time.Hour)
		require.NoError(t, s.UpdateConversationState(ctx, short.ID, models.ConversationUpdate{
			State:     models.StateRegistrationCodeReceived,
			ExpiresAt: &expires,
		}))

		active, err := s.ListActiveConversations(ctx)
		require.NoError(t, err)
		assert.Len(t, active, 2)

		clock.Advance(2 * time.Hour)
		active, err = s.ListActiveConversations(ctx)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, long.ID, active[0].ID)

		n, err := s.CleanupExpiredConversations(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = s.CleanupExpiredConversations(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestRenewConversation(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, clock *testClock) {
		ctx := context.Background()
		conv, err := s.GetOrCreateConversation(ctx, "+4915112345678", "")
		require.NoError(t, err)

		until := testNow.Add(72 * time.Hour)
		require.NoError(t, s.RenewConversation(ctx, conv.ID, until))
		clock.Advance(48 * time.Hour)

		again, err := s.GetOrCreateConversation(ctx, "+4915112345678", "")
		require.NoError(t, err)
		assert.Equal(t, conv.ID, again.ID)

		assert.ErrorIs(t, s.RenewConversation(ctx, "conv_missing", until), models.ErrNotFound)
	})
}

func TestWorkers(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, clock *testClock) {
		ctx := context.Background()

		missing, err := s.FindWorkerByChannelAddress(ctx, "+4915112345678")
		require.NoError(t, err)
		assert.Nil(t, missing)

		w, err := s.CreateWorker(ctx, "Max Mustermann", "+4915112345678")
		require.NoError(t, err)
		assert.NotEmpty(t, w.ID)
		assert.Equal(t, models.WorkerStatusActive, w.Status)

		found, err := s.FindWorkerByChannelAddress(ctx, "+4915112345678")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, w.ID, found.ID)
		assert.Equal(t, "Max Mustermann", found.Name)

		renamed, err := s.CreateWorker(ctx, "Maximilian Mustermann", "+4915112345678")
		require.NoError(t, err)
		assert.Equal(t, w.ID, renamed.ID)
		assert.Equal(t, "Maximilian Mustermann", renamed.Name)

		require.NoError(t, s.UpdateWorkerContact(ctx, w.ID, models.ContactKindEmail, "max@example.de"))
		byID, err := s.FindWorkerByID(ctx, w.ID)
		require.NoError(t, err)
		assert.Equal(t, "max@example.de", byID.Email)

		err = s.UpdateWorkerContact(ctx, "w_missing", models.ContactKindEmail, "x@example.de")
		assert.ErrorIs(t, err, models.ErrWorkerNotFound)
		err = s.UpdateWorkerContact(ctx, w.ID, "fax", "123")
		assert.ErrorIs(t, err, models.ErrInvalidContext)
	})
}

func TestShiftsAndStatuses(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, clock *testClock) {
		ctx := context.Background()
		shift := models.Shift{
			ID:           "s1",
			Title:        "Messeaufbau Halle 3",
			Date:         "2025-03-03",
			StartTime:    "08:00",
			EndTime:      "16:00",
			Location:     "Messe Berlin",
			Equipment:    "Sicherheitsschuhe",
			ContactName:  "Frau Weber",
			ContactPhone: "+4930123456",
			HourlyRate:   14.5,
		}
		require.NoError(t, s.SaveShift(ctx, shift))

		got, err := s.FindShiftByID(ctx, "s1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "Messeaufbau Halle 3", got.Title)
		assert.Equal(t, "Sicherheitsschuhe", got.Equipment)
		assert.Empty(t, got.MeetingPoint)
		assert.Equal(t, 14.5, got.HourlyRate)

		missing, err := s.FindShiftByID(ctx, "s404")
		require.NoError(t, err)
		assert.Nil(t, missing)

		status, err := s.GetShiftStatus(ctx, "w1", "s1")
		require.NoError(t, err)
		assert.Empty(t, status)

		require.NoError(t, s.SetShiftStatus(ctx, "w1", "s1", models.ShiftStatusAsked))
		require.NoError(t, s.SetShiftStatus(ctx, "w1", "s1", models.ShiftStatusAccepted))
		status, err = s.GetShiftStatus(ctx, "w1", "s1")
		require.NoError(t, err)
		assert.Equal(t, models.ShiftStatusAccepted, status)

		require.NoError(t, s.RecordOvertimeResponse(ctx, "w1", "s1", true, 2))
		require.NoError(t, s.RecordOvertimeResponse(ctx, "w1", "s1", false, 2))
	})
}

func TestReceipts(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, clock *testClock) {
		ctx := context.Background()
		require.NoError(t, s.AddReceipt(ctx, models.Receipt{To: "+123", Status: models.MessageStatusSent, TransportID: "SM1", Time: 1}))
		require.NoError(t, s.AddReceipt(ctx, models.Receipt{To: "+123", Status: models.MessageStatusDelivered, Time: 2}))

		receipts, err := s.GetReceipts(ctx)
		require.NoError(t, err)
		require.Len(t, receipts, 2)
		assert.Equal(t, "SM1", receipts[0].TransportID)
		assert.Equal(t, models.MessageStatusDelivered, receipts[1].Status)
	})
}

func TestRegistrationCodes(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, clock *testClock) {
		ctx := context.Background()
		require.NoError(t, s.AddCode(ctx, regcode.Code{Code: "SOMMER25", Active: true, MaxUses: 1}))
		require.NoError(t, s.AddCode(ctx, regcode.Code{Code: "halle3", Active: true}))

		ok, err := s.IsValidCode(ctx, " sommer25 ")
		require.NoError(t, err)
		assert.True(t, ok)

		require.NoError(t, s.RecordCodeUsage(ctx, "sommer25"))
		ok, err = s.IsValidCode(ctx, "sommer25")
		require.NoError(t, err)
		assert.False(t, ok, "usage limit reached")

		require.NoError(t, s.DeactivateCode(ctx, "HALLE3"))
		ok, err = s.IsValidCode(ctx, "halle3")
		require.NoError(t, err)
		assert.False(t, ok)

		assert.ErrorIs(t, s.DeactivateCode(ctx, "nope"), regcode.ErrCodeNotFound)
		assert.ErrorIs(t, s.RecordCodeUsage(ctx, "nope"), regcode.ErrCodeNotFound)

		missing, err := s.GetCode(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, missing)

		codes, err := s.ListCodes(ctx)
		require.NoError(t, err)
		require.Len(t, codes, 2)
		assert.Equal(t, "halle3", codes[0].Code)
		assert.Equal(t, "SOMMER25", codes[1].Code)
		assert.Equal(t, 1, codes[1].UsageCount)
	})
}

func TestRegistrationCodeExpiry(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, clock *testClock) {
		ctx := context.Background()
		expires := testNow.Add(time.Hour)
		require.NoError(t, s.AddCode(ctx, regcode.Code{Code: "kurz", Active: true, ExpiresAt: &expires}))

		ok, err := s.IsValidCode(ctx, "kurz")
		require.NoError(t, err)
		assert.True(t, ok)

		clock.Advance(time.Hour)
		ok, err = s.IsValidCode(ctx, "kurz")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestDedup(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, clock *testClock) {
		ctx := context.Background()
		dup, err := s.IsDuplicate(ctx, "SM1")
		require.NoError(t, err)
		assert.False(t, dup)

		fresh, err := s.RecordInbound(ctx, "SM1", "+4915112345678")
		require.NoError(t, err)
		assert.True(t, fresh)

		fresh, err = s.RecordInbound(ctx, "SM1", "+4915112345678")
		require.NoError(t, err)
		assert.False(t, fresh)

		dup, err = s.IsDuplicate(ctx, "SM1")
		require.NoError(t, err)
		assert.True(t, dup)

		require.NoError(t, s.MarkProcessed(ctx, "SM1"))
	})
}

func TestReleaseInbound(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, clock *testClock) {
		ctx := context.Background()

		fresh, err := s.RecordInbound(ctx, "SM2", "+4915112345678")
		require.NoError(t, err)
		require.True(t, fresh)
		require.NoError(t, s.ReleaseInbound(ctx, "SM2"))

		fresh, err = s.RecordInbound(ctx, "SM2", "+4915112345678")
		require.NoError(t, err)
		assert.True(t, fresh, "released message is accepted again")

		require.NoError(t, s.MarkProcessed(ctx, "SM2"))
		require.NoError(t, s.ReleaseInbound(ctx, "SM2"))
		fresh, err = s.RecordInbound(ctx, "SM2", "+4915112345678")
		require.NoError(t, err)
		assert.False(t, fresh, "processed message stays recorded")

		require.NoError(t, s.ReleaseInbound(ctx, "unknown"))
	})
}

func TestOutbox(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, clock *testClock) {
		ctx := context.Background()
		id, err := s.EnqueueOutboxMessage(ctx, "+4915112345678", "Hallo", "conv_1:1")
		require.NoError(t, err)
		same, err := s.EnqueueOutboxMessage(ctx, "+4915112345678", "Hallo", "conv_1:1")
		require.NoError(t, err)
		assert.Equal(t, id, same)

		msgs, err := s.ClaimDueOutboxMessages(ctx, testNow, 10)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, "Hallo", msgs[0].Body)
		assert.Equal(t, OutboxStatusSending, msgs[0].Status)

		again, err := s.ClaimDueOutboxMessages(ctx, testNow, 10)
		require.NoError(t, err)
		assert.Empty(t, again)

		require.NoError(t, s.FailOutboxMessage(ctx, id, "timeout", testNow.Add(10*time.Second)))
		early, err := s.ClaimDueOutboxMessages(ctx, testNow.Add(5*time.Second), 10)
		require.NoError(t, err)
		assert.Empty(t, early)

		retry, err := s.ClaimDueOutboxMessages(ctx, testNow.Add(10*time.Second), 10)
		require.NoError(t, err)
		require.Len(t, retry, 1)
		assert.Equal(t, 1, retry[0].Attempts)
		assert.Equal(t, "timeout", retry[0].LastError)

		require.NoError(t, s.MarkOutboxMessageSent(ctx, id))
		after, err := s.ClaimDueOutboxMessages(ctx, testNow.Add(time.Hour), 10)
		require.NoError(t, err)
		assert.Empty(t, after)

		newID, err := s.EnqueueOutboxMessage(ctx, "+4915112345678", "Hallo", "conv_1:1")
		require.NoError(t, err)
		assert.NotEqual(t, id, newID, "sent messages do not absorb new ones")
	})
}

func TestOutbox_RequeueStale(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, clock *testClock) {
		ctx := context.Background()
		_, err := s.EnqueueOutboxMessage(ctx, "+4915112345678", "Hallo", "")
		require.NoError(t, err)
		msgs, err := s.ClaimDueOutboxMessages(ctx, testNow, 10)
		require.NoError(t, err)
		require.Len(t, msgs, 1)

		n, err := s.RequeueStaleSendingMessages(ctx, testNow.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		msgs, err = s.ClaimDueOutboxMessages(ctx, testNow.Add(time.Minute), 10)
		require.NoError(t, err)
		assert.Len(t, msgs, 1)
	})
}

func TestSQLiteStore_Persistence(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: testNow}
	dbPath := filepath.Join(t.TempDir(), "nested", "state.db")

	s1, err := NewSQLiteStore(WithSQLiteDSN(dbPath), WithClock(clock.Now))
	require.NoError(t, err)
	conv, err := s1.GetOrCreateConversation(ctx, "+4915112345678", "")
	require.NoError(t, err)
	require.NoError(t, s1.UpdateConversationState(ctx, conv.ID, models.ConversationUpdate{State: models.StateAwaitingEventResponse}))
	require.NoError(t, s1.Close())

	s2, err := NewSQLiteStore(WithSQLiteDSN(dbPath), WithClock(clock.Now))
	require.NoError(t, err)
	defer s2.Close()
	got, err := s2.GetOrCreateConversation(ctx, "+4915112345678", "")
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)
	assert.Equal(t, models.StateAwaitingEventResponse, got.State)
}

func TestNewSQLiteStore_RequiresDSN(t *testing.T) {
	_, err := NewSQLiteStore()
	assert.Error(t, err)
}

func TestDetectDSNType(t *testing.T) {
	tests := map[string]string{
		"postgres://user:pw@localhost/shiftpipe":   "postgres",
		"postgresql://localhost/shiftpipe":         "postgres",
		"host=localhost dbname=shiftpipe sslmode=x": "postgres",
		"/var/lib/shiftpipe/state.db":              "sqlite3",
		"file:state.db?cache=shared":               "sqlite3",
	}
	for dsn, want := range tests {
		assert.Equal(t, want, DetectDSNType(dsn), dsn)
	}
}

func TestRebind(t *testing.T) {
	pg := &sqlStore{numbered: true}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", pg.q("SELECT a FROM t WHERE x = ? AND y = ?"))
	lite := &sqlStore{}
	assert.Equal(t, "x = ?", lite.q("x = ?"))
}
