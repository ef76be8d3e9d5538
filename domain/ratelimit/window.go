// Package ratelimit provides pure fixed-window rate limiting.
// All functions are deterministic - same input always produces same output.
package ratelimit

import "time"

// WindowState represents the current state of a rate limit window (value type).
type WindowState struct {
	Count     int       // Requests in current window
	WindowEnd time.Time // When current window ends
	BurstUsed int       // Burst tokens used
}

// CheckResult represents the outcome of a rate limit check (value type).
type CheckResult struct {
	Allowed   bool
	Remaining int       // Requests remaining in window
	ResetAt   time.Time // When limit resets
	Reason    string    // If not allowed, why
}

// Config holds rate limit configuration (value type).
type Config struct {
	Limit       int           // Requests per window
	Window      time.Duration // Window duration
	BurstTokens int           // Extra tokens for bursts
}

// Reasons for denial
const (
	ReasonLimitExceeded = "rate_limit_exceeded"
)

// Check performs a fixed-window rate limit check.
// This is a PURE function - no side effects, deterministic.
// The caller persists the returned state.
func Check(state WindowState, cfg Config, now time.Time) (CheckResult, WindowState) {
	windowStart := now.Truncate(cfg.Window)
	windowEnd := windowStart.Add(cfg.Window)

	// Expired or uninitialized window resets the counters.
	if now.After(state.WindowEnd) || state.WindowEnd.IsZero() {
		state = WindowState{
			Count:     0,
			WindowEnd: windowEnd,
			BurstUsed: 0,
		}
	}

	if state.Count < cfg.Limit {
		state.Count++
		return CheckResult{
			Allowed:   true,
			Remaining: cfg.Limit - state.Count,
			ResetAt:   state.WindowEnd,
		}, state
	}

	// Over limit - try burst tokens
	if cfg.BurstTokens-state.BurstUsed > 0 {
		state.Count++
		state.BurstUsed++
		return CheckResult{
			Allowed:   true,
			Remaining: 0,
			ResetAt:   state.WindowEnd,
		}, state
	}

	return CheckResult{
		Allowed:   false,
		Remaining: 0,
		ResetAt:   state.WindowEnd,
		Reason:    ReasonLimitExceeded,
	}, state
}

// CalculateDelay returns how long to wait before retrying.
// This is a PURE function.
func CalculateDelay(result CheckResult, now time.Time) time.Duration {
	if result.Allowed {
		return 0
	}
	delay := result.ResetAt.Sub(now)
	if delay < 0 {
		return 0
	}
	return delay
}

// RetryAfterSeconds returns the Retry-After header value for a denied check,
// rounded up so clients never retry early.
// This is a PURE function.
func RetryAfterSeconds(result CheckResult, now time.Time) int {
	delay := CalculateDelay(result, now)
	if delay <= 0 {
		return 0
	}
	secs := int(delay / time.Second)
	if delay%time.Second > 0 {
		secs++
	}
	return secs
}
