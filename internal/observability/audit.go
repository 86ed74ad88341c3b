package observability

import (
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// Audit writes an "audit" log line for a request-scoped security event that
// has no user attached yet, such as a CSRF rejection or a contact submission.
// User-bound events go through the audit package instead.
func Audit(r *http.Request, event string, attrs ...any) {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	slog.Default().LogAttrs(r.Context(), slog.LevelInfo, "audit",
		slog.String("event", event),
		slog.Group("request",
			slog.String("id", middleware.GetReqID(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("ip", ip),
		),
		slog.Group("attrs", attrs...),
	)
}
