package recovery

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecoverAll_RunsInOrder(t *testing.T) {
	rm := NewRecoveryManager()
	var order []string
	rm.RegisterRecoverable("outbox", ErrorOnly(func(ctx context.Context) error {
		order = append(order, "outbox")
		return nil
	}))
	rm.RegisterRecoverable("reminders", RecoverableFunc(func(ctx context.Context) (int, error) {
		order = append(order, "reminders")
		return 3, nil
	}))
	assert.Equal(t, 2, rm.Len())

	report, err := rm.RecoverAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"outbox", "reminders"}, order)
	assert.Equal(t, map[string]int{"outbox": 0, "reminders": 3}, report.Recovered)
	assert.Empty(t, report.Failed)
}

func TestRecoverAll_ContinuesAfterFailure(t *testing.T) {
	rm := NewRecoveryManager()
	boom := errors.New("db down")
	ran := false
	rm.RegisterRecoverable("cleanup", RecoverableFunc(func(ctx context.Context) (int, error) {
		return 0, boom
	}))
	rm.RegisterRecoverable("reminders", RecoverableFunc(func(ctx context.Context) (int, error) {
		ran = true
		return 1, nil
	}))

	report, err := rm.RecoverAll(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "cleanup")
	assert.True(t, ran)
	assert.Equal(t, []string{"cleanup"}, report.Failed)
	assert.Equal(t, 1, report.Recovered["reminders"])
}

func TestRecoverAll_StopsOnCancelledContext(t *testing.T) {
	rm := NewRecoveryManager()
	called := false
	rm.RegisterRecoverable("outbox", ErrorOnly(func(ctx context.Context) error {
		called = true
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := rm.RecoverAll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestRecoverAll_Empty(t *testing.T) {
	report, err := NewRecoveryManager().RecoverAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Recovered)
}
