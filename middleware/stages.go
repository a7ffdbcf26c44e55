package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/upb/restaurant-identity/services"
	"github.com/upb/restaurant-identity/services/audit"
	"github.com/upb/restaurant-identity/services/ratelimit"
	"github.com/upb/restaurant-identity/utils"
	"go.uber.org/zap"
)

// RateLimitStage charges the request against one limiter tier, keyed by
// client IP. A store failure is logged and the request is let through.
type RateLimitStage struct {
	limiter *ratelimit.Limiter
	tier    string
	audit   audit.Recorder
	logger  *zap.Logger
	now     func() time.Time
}

// RateLimit creates a rate limit stage for tier. recorder may be nil.
func RateLimit(limiter *ratelimit.Limiter, tier string, recorder audit.Recorder, logger *zap.Logger) *RateLimitStage {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	return &RateLimitStage{
		limiter: limiter,
		tier:    tier,
		audit:   recorder,
		logger:  logger,
		now:     time.Now,
	}
}

// Name implements Stage
func (s *RateLimitStage) Name() string {
	return "ratelimit:" + s.tier
}

// Run implements Stage
func (s *RateLimitStage) Run(w http.ResponseWriter, r *http.Request) (*http.Request, error) {
	res, err := s.limiter.Allow(r.Context(), s.tier, ClientIP(r))
	if res != nil {
		utils.SetRateLimitHeaders(w, res.Limit, res.Remaining, ratelimit.RetryAfterSeconds(res.ResetAt.Sub(s.now())))
	}
	if err != nil {
		if services.IsRateLimitError(err) {
			s.audit.Record(audit.RateLimitedEvent(s.tier, services.GetRetryAfter(err), RequestMeta(r)))
			return nil, err
		}
		s.logger.Error("rate limiter unavailable, allowing request",
			zap.String("request_id", GetRequestIDFromContext(r.Context())),
			zap.String("tier", s.tier),
			zap.Error(err))
	}
	return r, nil
}

// ValidateStage decodes the JSON body into T, normalizes and validates it,
// and stores the result in the request context
type ValidateStage[T any] struct {
	name string
}

// Validate creates a validation stage for request type T
func Validate[T any](name string) *ValidateStage[T] {
	return &ValidateStage[T]{name: name}
}

// Name implements Stage
func (s *ValidateStage[T]) Name() string {
	return "validate:" + s.name
}

// Run implements Stage
func (s *ValidateStage[T]) Run(w http.ResponseWriter, r *http.Request) (*http.Request, error) {
	body := new(T)
	if err := json.NewDecoder(r.Body).Decode(body); err != nil && !errors.Is(err, io.EOF) {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return nil, services.NewDomainError(services.ErrorTypeTooLarge, services.ErrRequestTooLarge.Message, err)
		}
		return nil, services.NewValidationError([]services.FieldViolation{{
			Field:   "body",
			Message: "Request body must be a valid JSON object",
			Value:   nil,
		}})
	}

	if err := utils.ValidateStruct(body); err != nil {
		if services.IsValidationError(err) {
			return nil, err
		}
		return nil, services.WrapInternal(fmt.Sprintf("failed to validate %s request", s.name), err)
	}

	return r.WithContext(WithRequestBody(r.Context(), body)), nil
}

// IPAllowlistStage rejects callers whose address is not listed.
// An empty list allows everyone.
type IPAllowlistStage struct {
	allowed map[string]struct{}
	logger  *zap.Logger
}

// IPAllowlist creates an allowlist stage
func IPAllowlist(ips []string, logger *zap.Logger) *IPAllowlistStage {
	allowed := make(map[string]struct{}, len(ips))
	for _, ip := range ips {
		allowed[ip] = struct{}{}
	}
	return &IPAllowlistStage{allowed: allowed, logger: logger}
}

// Name implements Stage
func (s *IPAllowlistStage) Name() string {
	return "ip_allowlist"
}

// Run implements Stage
func (s *IPAllowlistStage) Run(w http.ResponseWriter, r *http.Request) (*http.Request, error) {
	if len(s.allowed) == 0 {
		return r, nil
	}
	ip := ClientIP(r)
	if _, ok := s.allowed[ip]; !ok {
		s.logger.Warn("address not in allowlist",
			zap.String("request_id", GetRequestIDFromContext(r.Context())),
			zap.String("ip", ip))
		return nil, services.NewDomainError(services.ErrorTypeForbidden, "Access denied from this IP address", nil)
	}
	return r, nil
}
