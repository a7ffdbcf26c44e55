// Package ratelimit implements a multi-tier fixed-window request limiter.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/upb/restaurant-identity/internal/observability"
	"github.com/upb/restaurant-identity/services"
	"go.uber.org/zap"
)

// Tier names
const (
	TierRegister      = "register"
	TierLogin         = "login"
	TierPasswordReset = "password_reset"
	TierGeneral       = "general"
)

// Tier is an independently configured quota
type Tier struct {
	Name    string
	Window  time.Duration
	Max     int
	Message string
}

// Result describes the state of a client's window after a check
type Result struct {
	Tier       string
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
	Allowed    bool
}

// Store holds the per-window counters
type Store interface {
	// Increment atomically adds one to key and returns the new count.
	// The counter must survive at least ttl.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Limiter applies fixed-window quotas per (tier, client key)
type Limiter struct {
	store   Store
	tiers   map[string]Tier
	now     func() time.Time
	metrics observability.Metrics
	logger  *zap.Logger
}

// NewLimiter creates a Limiter over store. metrics may be nil.
func NewLimiter(store Store, tiers []Tier, metrics observability.Metrics, logger *zap.Logger) (*Limiter, error) {
	if store == nil {
		return nil, errors.New("rate limit store is required")
	}
	if metrics == nil {
		metrics = observability.NopMetrics{}
	}

	byName := make(map[string]Tier, len(tiers))
	for _, t := range tiers {
		if t.Name == "" {
			return nil, errors.New("rate limit tier name is required")
		}
		if t.Window <= 0 || t.Max <= 0 {
			return nil, fmt.Errorf("rate limit tier %s: window and max must be positive", t.Name)
		}
		if _, dup := byName[t.Name]; dup {
			return nil, fmt.Errorf("rate limit tier %s configured twice", t.Name)
		}
		if t.Message == "" {
			t.Message = services.ErrRateLimitExceeded.Message
		}
		byName[t.Name] = t
	}

	return &Limiter{
		store:   store,
		tiers:   byName,
		now:     time.Now,
		metrics: metrics,
		logger:  logger,
	}, nil
}

// Tier returns the named tier configuration
func (l *Limiter) Tier(name string) (Tier, bool) {
	t, ok := l.tiers[name]
	return t, ok
}

// Allow charges one request against the tier for clientKey. When the count
// exceeds the tier's max it returns the Result together with a rate limit
// error carrying the seconds until the window resets. Any other error means
// the store could not be reached.
func (l *Limiter) Allow(ctx context.Context, tierName, clientKey string) (*Result, error) {
	tier, ok := l.tiers[tierName]
	if !ok {
		return nil, fmt.Errorf("unknown rate limit tier %q", tierName)
	}

	now := l.now()
	start, reset := windowBounds(now, tier.Window)
	key := fmt.Sprintf("rl:%s:%s:%d", tier.Name, clientKey, start.Unix())

	count, err := l.store.Increment(ctx, key, reset.Sub(now))
	if err != nil {
		return nil, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}

	res := &Result{
		Tier:      tier.Name,
		Limit:     tier.Max,
		Remaining: tier.Max - int(count),
		ResetAt:   reset,
		Allowed:   count <= int64(tier.Max),
	}
	if res.Remaining < 0 {
		res.Remaining = 0
	}

	if !res.Allowed {
		res.RetryAfter = reset.Sub(now)
		l.metrics.RecordRateLimited(tier.Name)
		l.logger.Warn("rate limit exceeded",
			zap.String("tier", tier.Name),
			zap.String("client", clientKey),
			zap.Int64("count", count),
			zap.Int("max", tier.Max))
		return res, services.NewRateLimitError(tier.Message, RetryAfterSeconds(res.RetryAfter))
	}

	return res, nil
}

// RetryAfterSeconds rounds d up to whole seconds, never below one
func RetryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

// windowBounds returns the start of the fixed window containing now and
// the instant it resets. Windows are aligned to the Unix epoch.
func windowBounds(now time.Time, window time.Duration) (start time.Time, reset time.Time) {
	ns := now.UnixNano()
	startNs := ns - ns%int64(window)
	start = time.Unix(0, startNs).In(now.Location())
	return start, start.Add(window)
}
