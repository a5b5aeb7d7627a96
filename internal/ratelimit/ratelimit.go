// Package ratelimit implements an exact sliding window request limiter
// with a Redis backend and an in-memory fallback.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Rule allows Requests calls per trailing Period.
type Rule struct {
	Requests int
	Period   time.Duration
}

// ExceededError is returned by Check when the window is full.
type ExceededError struct {
	RetryAfter time.Duration
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %ds", e.Seconds())
}

// Seconds is the Retry-After value: whole seconds, rounded up, at least 1.
func (e *ExceededError) Seconds() int {
	return RetryAfterSeconds(e.RetryAfter)
}

// RetryAfterSeconds renders d as a positive number of whole seconds.
func RetryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// Backend stores request timestamps per key.  Hit evicts entries older
// than the rule's period, then either records now and reports allowed or
// reports how long until the oldest entry leaves the window.
type Backend interface {
	Hit(ctx context.Context, key string, rule Rule, now time.Time) (allowed bool, retryAfter time.Duration, err error)
	Reset(ctx context.Context) error
}

// Limiter checks requests against a primary backend and falls back to
// memory when the primary fails.  After the first failure the primary is
// skipped until SetPrimary is called again.
type Limiter struct {
	mu       sync.RWMutex
	primary  Backend
	fallback *MemoryBackend
	timeout  time.Duration
	log      *zap.Logger
	now      func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithTimeout bounds each primary backend round trip.
func WithTimeout(d time.Duration) Option {
	return func(l *Limiter) { l.timeout = d }
}

// New returns a limiter.  primary may be nil for a purely in-memory limiter.
func New(primary Backend, log *zap.Logger, opts ...Option) *Limiter {
	l := &Limiter{
		primary:  primary,
		fallback: NewMemoryBackend(),
		timeout:  500 * time.Millisecond,
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SetPrimary swaps the primary backend, re-enabling the distributed path
// after a failure.
func (l *Limiter) SetPrimary(b Backend) {
	l.mu.Lock()
	l.primary = b
	l.mu.Unlock()
}

// Distributed reports whether the primary backend is in use.
func (l *Limiter) Distributed() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.primary != nil
}

// Check records a call for key or returns *ExceededError.  Infrastructure
// errors are never returned.
func (l *Limiter) Check(ctx context.Context, key string, rule Rule) error {
	now := l.now()

	l.mu.RLock()
	primary := l.primary
	l.mu.RUnlock()

	if primary != nil {
		callCtx, cancel := context.WithTimeout(ctx, l.timeout)
		allowed, retry, err := primary.Hit(callCtx, key, rule, now)
		cancel()
		if err == nil {
			return verdict(allowed, retry)
		}
		l.log.Warn("rate limit backend failed, falling back to memory", zap.String("key", key), zap.Error(err))
		l.mu.Lock()
		if l.primary == primary {
			l.primary = nil
		}
		l.mu.Unlock()
	}

	allowed, retry, _ := l.fallback.Hit(ctx, key, rule, now)
	return verdict(allowed, retry)
}

// Reset clears all tracked state in both backends.
func (l *Limiter) Reset(ctx context.Context) error {
	_ = l.fallback.Reset(ctx)

	l.mu.RLock()
	primary := l.primary
	l.mu.RUnlock()
	if primary != nil {
		return primary.Reset(ctx)
	}
	return nil
}

func verdict(allowed bool, retry time.Duration) error {
	if allowed {
		return nil
	}
	return &ExceededError{RetryAfter: retry}
}
