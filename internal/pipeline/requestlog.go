package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zsprackett/devserve/internal/events"
)

// RequestRecorder persists completed requests.
type RequestRecorder interface {
	RecordRequest(ctx context.Context, req events.Request) error
}

// RequestLog writes one JSON line per request to W and hands the same entry
// to Store. Either may be nil.
type RequestLog struct {
	W      io.Writer
	Store  RequestRecorder
	Logger *slog.Logger

	mu sync.Mutex
}

// Middleware records each request once the handler has returned.
func (l *RequestLog) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := NewStatusRecorder(w)
			next.ServeHTTP(rec, r)

			entry := events.Request{
				ID:        uuid.NewString(),
				Timestamp: start.UTC(),
				Method:    r.Method,
				URL:       r.URL.RequestURI(),
				IP:        ClientIP(r),
				UserAgent: r.UserAgent(),
				Status:    rec.Status,
				Duration:  strconv.FormatInt(time.Since(start).Milliseconds(), 10) + "ms",
			}
			l.write(r.Context(), entry)
		})
	}
}

func (l *RequestLog) write(ctx context.Context, entry events.Request) {
	if l.W != nil {
		line, err := json.Marshal(entry)
		if err == nil {
			l.mu.Lock()
			_, err = l.W.Write(append(line, '\n'))
			l.mu.Unlock()
		}
		if err != nil && l.Logger != nil {
			l.Logger.Warn("requestlog: write failed", "err", err)
		}
	}
	if l.Store != nil {
		if err := l.Store.RecordRequest(context.WithoutCancel(ctx), entry); err != nil && l.Logger != nil {
			l.Logger.Warn("requestlog: journal write failed", "err", err)
		}
	}
}
