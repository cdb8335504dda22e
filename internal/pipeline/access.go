package pipeline

import (
	"log/slog"
	"net/http"
	"time"
)

// RequestCounter is incremented once per request.
type RequestCounter interface {
	IncRequests()
}

// AccessLogLevel picks which requests the access log reports.
type AccessLogLevel int

const (
	AccessLogOff AccessLogLevel = iota
	// AccessLogErrors reports responses with status 400 and above.
	AccessLogErrors
	AccessLogAll
)

// Access counts every request and logs completed ones at the given level.
func Access(counter RequestCounter, level AccessLogLevel, logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if counter != nil {
				counter.IncRequests()
			}
			if level == AccessLogOff || logger == nil {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rec := NewStatusRecorder(w)
			next.ServeHTTP(rec, r)
			if level == AccessLogErrors && rec.Status < 400 {
				return
			}
			logger.Info("request",
				"method", r.Method,
				"url", r.URL.RequestURI(),
				"status", rec.Status,
				"bytes", rec.Bytes,
				"duration", time.Since(start).Round(time.Microsecond),
				"remote", ClientIP(r),
			)
		})
	}
}
