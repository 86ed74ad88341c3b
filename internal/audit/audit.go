// Package audit records security events for the admin login flow.
package audit

import (
	"context"
	"log/slog"
	"time"
)

const (
	EventLoginFailed        = "login_failed"
	EventLoginTrusted       = "login_trusted_device"
	EventOTPIssued          = "otp_issued"
	EventOTPResent          = "otp_resent"
	EventOTPFailed          = "otp_failed"
	EventLoginVerified      = "login_verified"
	EventVerifiedBypass     = "login_verified_cookie_bypass"
	EventLogout             = "logout"
	EventSessionTerminated  = "session_terminated"
	EventSessionsTerminated = "sessions_terminated"
	EventRateLimitBlocked   = "rate_limit_blocked"
	EventRateLimitReset     = "rate_limit_reset"
	EventAccountDeactivated = "account_deactivated"
	EventAccountActivated   = "account_activated"
)

type Event struct {
	Type      string    `json:"type"`
	UserID    uint      `json:"userId,omitempty"`
	Email     string    `json:"email,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
	IP        string    `json:"ip,omitempty"`
	UserAgent string    `json:"userAgent,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Sink interface {
	Record(ctx context.Context, ev Event)
}

type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Record(ctx context.Context, ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	s.logger.InfoContext(ctx, "audit",
		"event", ev.Type,
		"user_id", ev.UserID,
		"email", ev.Email,
		"session_id", ev.SessionID,
		"ip", ev.IP,
		"reason", ev.Reason,
	)
}

// Multi fans an event out to every sink.
type Multi []Sink

func (m Multi) Record(ctx context.Context, ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	for _, s := range m {
		if s != nil {
			s.Record(ctx, ev)
		}
	}
}

type Nop struct{}

func (Nop) Record(context.Context, Event) {}
