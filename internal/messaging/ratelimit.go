package messaging

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimitedService throttles outbound sends of the wrapped Service.
// Everything else passes through.
type RateLimitedService struct {
	Service
	limiter *rate.Limiter
}

// NewRateLimitedService allows perSecond sends per second with the given burst.
func NewRateLimitedService(inner Service, perSecond float64, burst int) *RateLimitedService {
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedService{Service: inner, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// SendText waits for a token before delegating.
func (s *RateLimitedService) SendText(ctx context.Context, to string, body string, meta SendMeta) (SendResult, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return SendResult{}, fmt.Errorf("rate limit wait: %w", err)
	}
	return s.Service.SendText(ctx, to, body, meta)
}
