// Package pipeline holds the request stages that sit in front of the static
// file handler. Stages are plain net/http middleware.
package pipeline

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrUnknownStage is returned by Resolve for a name that is not a known stage.
var ErrUnknownStage = errors.New("unknown middleware stage")

// Middleware wraps a handler.
type Middleware func(http.Handler) http.Handler

// Stage is a middleware that can be selected by name from configuration.
type Stage string

const (
	StageSPA             Stage = "spa"
	StageSPAIgnoreAssets Stage = "spa-ignore-assets"
	StageSecurity        Stage = "security"
	StagePerformance     Stage = "performance"
)

var knownStages = []Stage{StageSPA, StageSPAIgnoreAssets, StageSecurity, StagePerformance}

// Resolve maps configured names to stages, keeping order and dropping
// duplicates. A name may carry a ".js" suffix.
func Resolve(names []string) ([]Stage, error) {
	var out []Stage
	seen := make(map[Stage]bool)
	for _, raw := range names {
		name := strings.TrimSuffix(strings.TrimSpace(raw), ".js")
		if name == "" {
			continue
		}
		st, ok := lookup(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownStage, raw)
		}
		if seen[st] {
			continue
		}
		seen[st] = true
		out = append(out, st)
	}
	return out, nil
}

func lookup(name string) (Stage, bool) {
	for _, st := range knownStages {
		if string(st) == name {
			return st, true
		}
	}
	return "", false
}

// Chain applies mws so the first one sees the request first.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// StatusRecorder captures the status code and body size written through it.
type StatusRecorder struct {
	http.ResponseWriter
	Status int
	Bytes  int64
}

// NewStatusRecorder wraps w. Status defaults to 200.
func NewStatusRecorder(w http.ResponseWriter) *StatusRecorder {
	return &StatusRecorder{ResponseWriter: w, Status: http.StatusOK}
}

func (r *StatusRecorder) WriteHeader(code int) {
	r.Status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *StatusRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.Bytes += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach Flush and Hijack.
func (r *StatusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// ClientIP returns the first X-Forwarded-For entry, or the remote address
// without its port.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	return strings.Trim(host, "[]")
}
