// Defines rate limit tiers and routing rules.

package ratelimit

import (
	"strings"
	"time"

	"github.com/NeverlandYao/iknow/internal/storage"
)

// Scope defines how rate limit keys are determined.
type Scope int

const (
	// ScopeIP uses client IP address as the rate limit key.
	ScopeIP Scope = iota
	// ScopeUser uses authenticated user ID as the rate limit key.
	ScopeUser
)

// Tier defines a rate limit tier with its limiter and scope.
// A nil Limiter means the tier is unlimited.
type Tier struct {
	Name    string
	Limiter *Limiter
	Scope   Scope
}

// Limiters holds the rate limiters for the four request tiers.
type Limiters struct {
	Auth       Tier
	Write      Tier
	ReadAuth   Tier // authenticated read
	ReadUnauth Tier // unauthenticated read
}

// NewLimiters creates tier limiters from the configured per-minute rates.
// A zero rate disables limiting for that tier:
//   - Auth: login, register and OAuth attempts, IP scope
//   - Write: mutating operations, user scope
//   - ReadAuth: authenticated reads, user scope
//   - ReadUnauth: unauthenticated reads (signed downloads), IP scope.
func NewLimiters(cfg storage.RateLimits) *Limiters {
	return &Limiters{
		Auth: Tier{
			Name:    "auth",
			Limiter: newTierLimiter(cfg.AuthRatePerMin, cfg.AuthRatePerMin),
			Scope:   ScopeIP,
		},
		Write: Tier{
			Name:    "write",
			Limiter: newTierLimiter(cfg.WriteRatePerMin, cfg.WriteRatePerMin/6),
			Scope:   ScopeUser,
		},
		ReadAuth: Tier{
			Name:    "read",
			Limiter: newTierLimiter(cfg.ReadAuthRatePerMin, cfg.ReadAuthRatePerMin/6),
			Scope:   ScopeUser,
		},
		ReadUnauth: Tier{
			Name:    "read",
			Limiter: newTierLimiter(cfg.ReadUnauthRatePerMin, cfg.ReadUnauthRatePerMin/6),
			Scope:   ScopeIP,
		},
	}
}

// newTierLimiter builds a per-minute limiter, or nil when the rate is zero.
func newTierLimiter(ratePerMin, burst int) *Limiter {
	if ratePerMin <= 0 {
		return nil
	}
	return NewLimiter(ratePerMin, time.Minute, max(burst, 1))
}

// MatchUnauth returns the tier for unauthenticated requests.
// Returns nil for requests that should not be rate limited.
func (c *Limiters) MatchUnauth(method, path string) *Tier {
	if path == "/api/health" {
		return nil
	}
	if isAuthEndpoint(method, path) {
		return active(&c.Auth)
	}
	// All other unauthenticated GETs, including signed file downloads.
	if method == "GET" {
		return active(&c.ReadUnauth)
	}
	return nil
}

// MatchAuth returns the tier for authenticated requests.
// Returns nil for requests that should not be rate limited.
func (c *Limiters) MatchAuth(method, path string) *Tier {
	if path == "/api/health" {
		return nil
	}
	// Search is a read operation even though it uses POST.
	if method == "POST" && path == "/api/search" {
		return active(&c.ReadAuth)
	}
	switch method {
	case "POST", "PUT", "PATCH", "DELETE":
		return active(&c.Write)
	case "GET":
		return active(&c.ReadAuth)
	}
	return nil
}

// Close stops all limiter cleanup goroutines.
func (c *Limiters) Close() {
	for _, t := range []*Tier{&c.Auth, &c.Write, &c.ReadAuth, &c.ReadUnauth} {
		if t.Limiter != nil {
			t.Limiter.Close()
		}
	}
}

// active returns t, or nil when the tier is unlimited.
func active(t *Tier) *Tier {
	if t.Limiter == nil {
		return nil
	}
	return t
}

// isAuthEndpoint checks if the path is an authentication endpoint.
func isAuthEndpoint(method, path string) bool {
	// POST /api/auth/login or /api/auth/register
	if method == "POST" {
		return path == "/api/auth/login" || path == "/api/auth/register"
	}
	// GET /api/auth/oauth/{provider} and its callback
	return method == "GET" && strings.HasPrefix(path, "/api/auth/oauth/")
}
