// Package regcode manages registration codes, the shared secrets that gate
// worker self-registration.
package regcode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrCodeNotFound is returned when a code does not exist.
var ErrCodeNotFound = errors.New("registration code not found")

// Code is a registration code with optional usage limit and expiry.
type Code struct {
	Code        string     `json:"code"`
	Description string     `json:"description,omitempty"`
	Active      bool       `json:"active"`
	UsageCount  int        `json:"usage_count"`
	MaxUses     int        `json:"max_uses,omitempty"` // 0 means unlimited
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Usable reports whether c can be redeemed at now.
func (c Code) Usable(now time.Time) bool {
	if !c.Active {
		return false
	}
	if c.MaxUses > 0 && c.UsageCount >= c.MaxUses {
		return false
	}
	if c.ExpiresAt != nil && !now.Before(*c.ExpiresAt) {
		return false
	}
	return true
}

// Normalize returns the lookup key for a code. Codes match case-insensitively.
func Normalize(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

// Repository stores registration codes.
type Repository interface {
	AddCode(ctx context.Context, c Code) error
	DeactivateCode(ctx context.Context, code string) error
	GetCode(ctx context.Context, code string) (*Code, error)
	IsValidCode(ctx context.Context, code string) (bool, error)
	RecordCodeUsage(ctx context.Context, code string) error
	ListCodes(ctx context.Context) ([]Code, error)
}

// InMemoryRepository is a Repository backed by a map.
type InMemoryRepository struct {
	mu    sync.RWMutex
	codes map[string]Code
	now   func() time.Time
}

// Opts holds configuration options for an InMemoryRepository.
type Opts struct {
	Clock func() time.Time
}

// Option defines a configuration option for an InMemoryRepository.
type Option func(*Opts)

// WithClock overrides time.Now for expiry checks.
func WithClock(c func() time.Time) Option {
	return func(o *Opts) { o.Clock = c }
}

// NewInMemoryRepository creates an empty repository.
func NewInMemoryRepository(opts ...Option) *InMemoryRepository {
	cfg := Opts{Clock: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &InMemoryRepository{codes: make(map[string]Code), now: cfg.Clock}
}

// AddCode inserts or replaces a code.
func (r *InMemoryRepository) AddCode(ctx context.Context, c Code) error {
	key := Normalize(c.Code)
	if key == "" {
		return fmt.Errorf("registration code must not be empty")
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = r.now()
	}
	r.mu.Lock()
	r.codes[key] = c
	r.mu.Unlock()
	slog.Debug("InMemoryRepository.AddCode: code stored", "code", c.Code, "maxUses", c.MaxUses)
	return nil
}

// DeactivateCode marks a code inactive.
func (r *InMemoryRepository) DeactivateCode(ctx context.Context, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := Normalize(code)
	c, ok := r.codes[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrCodeNotFound, code)
	}
	c.Active = false
	r.codes[key] = c
	return nil
}

// GetCode returns a copy of the code, or nil if it does not exist.
func (r *InMemoryRepository) GetCode(ctx context.Context, code string) (*Code, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.codes[Normalize(code)]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

// IsValidCode reports whether the code exists and is usable now.
func (r *InMemoryRepository) IsValidCode(ctx context.Context, code string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.codes[Normalize(code)]
	return ok && c.Usable(r.now()), nil
}

// RecordCodeUsage increments a code's usage count.
func (r *InMemoryRepository) RecordCodeUsage(ctx context.Context, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := Normalize(code)
	c, ok := r.codes[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrCodeNotFound, code)
	}
	c.UsageCount++
	r.codes[key] = c
	return nil
}

// ListCodes returns all codes sorted by code.
func (r *InMemoryRepository) ListCodes(ctx context.Context) ([]Code, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Code, 0, len(r.codes))
	for _, c := range r.codes {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return Normalize(out[i].Code) < Normalize(out[j].Code) })
	return out, nil
}

// Checker adapts a Repository into a synchronous validity predicate. Lookup
// errors count as invalid.
func Checker(ctx context.Context, repo Repository) func(string) bool {
	return func(code string) bool {
		ok, err := repo.IsValidCode(ctx, code)
		if err != nil {
			slog.Error("regcode.Checker: lookup failed", "error", err)
			return false
		}
		return ok
	}
}

// Seed adds every code in codes as active and unlimited, skipping codes that
// already exist.
func Seed(ctx context.Context, repo Repository, codes []string) error {
	for _, code := range codes {
		code = strings.TrimSpace(code)
		if code == "" {
			continue
		}
		existing, err := repo.GetCode(ctx, code)
		if err != nil {
			return fmt.Errorf("failed to look up code %s: %w", code, err)
		}
		if existing != nil {
			continue
		}
		if err := repo.AddCode(ctx, Code{Code: code, Active: true, Description: "seeded"}); err != nil {
			return fmt.Errorf("failed to seed code %s: %w", code, err)
		}
	}
	return nil
}
