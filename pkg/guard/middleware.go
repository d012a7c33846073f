package guard

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
)

// Middleware builds the chi-compatible HTTP middleware mounted ahead of
// authentication (internal/httpserver.NewServer's guardMiddleware param),
// rejecting blocked/rate-limited requests before they reach a handler.
func (l *Limiter) Middleware(anomaly *AnomalyDetector, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)

			if anomaly != nil {
				if severity, err := anomaly.Inspect(r.Context(), ip, r.URL.Path, r.UserAgent()); err != nil {
					logger.Warn("anomaly inspection failed", "error", err)
				} else if severity == SeverityCritical {
					if err := anomaly.TripEmergencyMode(r.Context()); err != nil {
						logger.Warn("tripping emergency mode failed", "error", err)
					}
				}
			}

			decision, err := l.Allow(r.Context(), r.URL.Path, ip)
			if err != nil {
				logger.Warn("request guard check failed, allowing request", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !decision.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(decision.RetryAfter.Seconds())))
				http.Error(w, `{"error":"rate_limited","status":429}`, http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
