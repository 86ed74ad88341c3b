package domain

import "time"

type RateLimitEntry struct {
	Count        int       `json:"count"`
	FirstAttempt time.Time `json:"firstAttempt"`
	Blocked      bool      `json:"blocked"`
	BlockedUntil time.Time `json:"blockedUntil,omitempty"`
}
