package ratelimit

import (
	"context"
	"sync"
	"time"

	apperrors "herenow/pkg/errors"
	"herenow/pkg/logger"
)

type Category string

const (
	CategoryCheckin        Category = "checkin"
	CategoryMessageRequest Category = "messageRequest"
	CategorySendMessage    Category = "sendMessage"
	CategorySearch         Category = "search"
	CategoryRespond        Category = "respond"
)

type Rule struct {
	Limit  int
	Window time.Duration
}

type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is how long the caller should wait before the window resets.
func (r Result) RetryAfter(now time.Time) time.Duration {
	if r.Allowed {
		return 0
	}
	return r.ResetAt.Sub(now)
}

// Guard is what the protocol services depend on.
type Guard interface {
	Enforce(ctx context.Context, category Category) error
}

type bucketKey struct {
	identifier string
	category   Category
}

type counter struct {
	count         int
	windowResetAt time.Time
}

// Limiter keeps one counter per (identifier, category). Counters live in
// process memory only; a restart starts every window from zero.
type Limiter struct {
	mu       sync.Mutex
	counters map[bucketKey]*counter
	rules    map[Category]Rule
	now      func() time.Time
	log      *logger.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
}

type Option func(*Limiter)

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func WithRules(rules map[Category]Rule) Option {
	return func(l *Limiter) {
		for category, rule := range rules {
			l.rules[category] = rule
		}
	}
}

// New starts the sweeping goroutine when sweepInterval is positive; call Stop
// to release it.
func New(log *logger.Logger, sweepInterval time.Duration, opts ...Option) *Limiter {
	limiter := &Limiter{
		counters: make(map[bucketKey]*counter),
		rules:    make(map[Category]Rule),
		now:      time.Now,
		log:      log,
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(limiter)
	}

	if sweepInterval > 0 {
		go limiter.cleanup(sweepInterval)
	}

	return limiter
}

// Check counts one hit against the (identifier, category) window. A missing
// or elapsed window restarts at count 1.
func (l *Limiter) Check(identifier string, category Category, limit int, window time.Duration) Result {
	now := l.now()

	if identifier == "" {
		return Result{Allowed: true, Remaining: limit, ResetAt: now.Add(window)}
	}

	key := bucketKey{identifier: identifier, category: category}

	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.counters[key]
	if !ok || !now.Before(c.windowResetAt) {
		c = &counter{count: 1, windowResetAt: now.Add(window)}
		l.counters[key] = c
	} else {
		c.count++
	}

	return Result{
		Allowed:   c.count <= limit,
		Remaining: max(0, limit-c.count),
		ResetAt:   c.windowResetAt,
	}
}

// Allow applies the configured rule for category. Categories without a rule
// are not limited.
func (l *Limiter) Allow(identifier string, category Category) Result {
	rule, ok := l.rules[category]
	if !ok || rule.Limit <= 0 || rule.Window <= 0 {
		return Result{Allowed: true, Remaining: -1, ResetAt: l.now()}
	}
	return l.Check(identifier, category, rule.Limit, rule.Window)
}

func (l *Limiter) Enforce(ctx context.Context, category Category) error {
	identifier := IdentifierFrom(ctx)
	result := l.Allow(identifier, category)
	if result.Allowed {
		return nil
	}

	retryAfter := result.RetryAfter(l.now())
	l.log.Warn("Rate limit exceeded",
		"identifier", identifier,
		"category", string(category),
		"retry_after_ms", retryAfter.Milliseconds(),
	)
	return apperrors.RateLimited(retryAfter)
}

// Sweep drops every counter whose window has elapsed and reports how many
// were removed.
func (l *Limiter) Sweep() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, c := range l.counters {
		if !now.Before(c.windowResetAt) {
			delete(l.counters, key)
			removed++
		}
	}
	return removed
}

func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.counters)
}

func (l *Limiter) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if removed := l.Sweep(); removed > 0 {
				l.log.Debug("Rate limit counters swept", "removed", removed)
			}
		case <-l.stopCh:
			return
		}
	}
}

func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}
