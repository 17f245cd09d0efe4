// Package recovery runs startup recovery steps so ShiftPipe handles restarts
// gracefully. Components register what must be repaired after downtime, such
// as messages left in sending state or deadlines that passed while stopped.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Recoverable is a component that restores its state at startup.
type Recoverable interface {
	// RecoverState returns the number of items it repaired.
	RecoverState(ctx context.Context) (int, error)
}

// RecoverableFunc adapts a function to Recoverable.
type RecoverableFunc func(ctx context.Context) (int, error)

// RecoverState calls f.
func (f RecoverableFunc) RecoverState(ctx context.Context) (int, error) {
	return f(ctx)
}

// ErrorOnly adapts a recovery step that reports no count.
func ErrorOnly(fn func(ctx context.Context) error) Recoverable {
	return RecoverableFunc(func(ctx context.Context) (int, error) {
		return 0, fn(ctx)
	})
}

type entry struct {
	name string
	r    Recoverable
}

// Report summarises one RecoverAll run.
type Report struct {
	Recovered map[string]int `json:"recovered"`
	Failed    []string       `json:"failed,omitempty"`
	Took      time.Duration  `json:"took"`
}

// RecoveryManager orchestrates recovery of all registered components in
// registration order.
type RecoveryManager struct {
	entries []entry
}

// NewRecoveryManager creates a new recovery manager
func NewRecoveryManager() *RecoveryManager {
	return &RecoveryManager{}
}

// RegisterRecoverable adds a named component that can be recovered.
func (rm *RecoveryManager) RegisterRecoverable(name string, r Recoverable) {
	rm.entries = append(rm.entries, entry{name: name, r: r})
}

// Len returns the number of registered components.
func (rm *RecoveryManager) Len() int {
	return len(rm.entries)
}

// RecoverAll runs every registered step. A failing step does not stop the
// others; all failures are joined into the returned error.
func (rm *RecoveryManager) RecoverAll(ctx context.Context) (Report, error) {
	start := time.Now()
	slog.Info("RecoveryManager.RecoverAll: starting application recovery", "components", len(rm.entries))

	report := Report{Recovered: make(map[string]int, len(rm.entries))}
	var errs []error
	for _, e := range rm.entries {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		n, err := e.r.RecoverState(ctx)
		if err != nil {
			slog.Error("RecoveryManager.RecoverAll: component recovery failed", "component", e.name, "error", err)
			report.Failed = append(report.Failed, e.name)
			errs = append(errs, fmt.Errorf("%s: %w", e.name, err))
			continue
		}
		report.Recovered[e.name] = n
		if n > 0 {
			slog.Info("RecoveryManager.RecoverAll: component recovered", "component", e.name, "count", n)
		}
	}
	report.Took = time.Since(start)

	slog.Info("RecoveryManager.RecoverAll: application recovery completed", "recovered", len(report.Recovered), "errors", len(report.Failed), "took", report.Took)
	return report, errors.Join(errs...)
}
