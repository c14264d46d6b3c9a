package logging

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Sampler limits how often repetitive log lines are written. Lines over the
// limit are dropped and counted; the count is attached to the next line that
// gets through.
type Sampler struct {
	logger     *slog.Logger
	limiter    *rate.Limiter
	suppressed atomic.Uint64
}

// NewSampler allows one line per interval with the given burst. A non-positive
// interval disables sampling.
func NewSampler(logger *slog.Logger, interval time.Duration, burst int) *Sampler {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	if burst < 1 {
		burst = 1
	}

	return &Sampler{
		logger:  logger,
		limiter: rate.NewLimiter(limit, burst),
	}
}

// Log writes the line if the limiter allows it and reports whether it did.
func (s *Sampler) Log(level slog.Level, msg string, args ...any) bool {
	if !s.logger.Enabled(context.Background(), level) {
		return false
	}
	if !s.limiter.Allow() {
		s.suppressed.Add(1)
		return false
	}
	if n := s.suppressed.Swap(0); n > 0 {
		args = append(args, KeySuppressed, n)
	}
	s.logger.Log(context.Background(), level, msg, args...)
	return true
}

// Warn logs at warn level through the sampler.
func (s *Sampler) Warn(msg string, args ...any) bool {
	return s.Log(slog.LevelWarn, msg, args...)
}

// Error logs at error level through the sampler.
func (s *Sampler) Error(msg string, args ...any) bool {
	return s.Log(slog.LevelError, msg, args...)
}

// Suppressed returns the number of lines dropped since the last written line.
func (s *Sampler) Suppressed() uint64 {
	return s.suppressed.Load()
}
