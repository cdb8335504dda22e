// Package health serves the JSON status document at /health and /_health.
package health

import (
	"encoding/json"
	"math"
	"net/http"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/zsprackett/devserve/internal/stats"
)

// Paths answered by the handler.
var Paths = []string{"/health", "/_health"}

// ClientCounter reports connected live-reload clients.
type ClientCounter interface {
	Len() int
}

type Memory struct {
	Alloc     string `json:"alloc"`
	Sys       string `json:"sys"`
	HeapInuse string `json:"heapInuse"`
}

type Server struct {
	Requests int64  `json:"requests"`
	Reloads  int64  `json:"reloads"`
	Clients  int    `json:"clients"`
	Memory   Memory `json:"memory"`
}

type System struct {
	Platform   string `json:"platform"`
	Arch       string `json:"arch"`
	CPUs       int    `json:"cpus"`
	Goroutines int    `json:"goroutines"`
}

// Report is the health document.
type Report struct {
	Status    string  `json:"status"`
	Uptime    float64 `json:"uptime"`
	Timestamp string  `json:"timestamp"`
	Server    Server  `json:"server"`
	System    System  `json:"system"`
}

// Handler builds a Report per request.
type Handler struct {
	Stats   *stats.Stats
	Clients ClientCounter
	Now     func() time.Time
}

// Build assembles the current report.
func (h *Handler) Build() Report {
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	snap := h.Stats.Snapshot()

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	clients := 0
	if h.Clients != nil {
		clients = h.Clients.Len()
	}

	return Report{
		Status:    "healthy",
		Uptime:    math.Round(snap.Uptime.Seconds()*100) / 100,
		Timestamp: now().UTC().Format(time.RFC3339),
		Server: Server{
			Requests: snap.Requests,
			Reloads:  snap.Reloads,
			Clients:  clients,
			Memory: Memory{
				Alloc:     humanize.IBytes(ms.Alloc),
				Sys:       humanize.IBytes(ms.Sys),
				HeapInuse: humanize.IBytes(ms.HeapInuse),
			},
		},
		System: System{
			Platform:   runtime.GOOS,
			Arch:       runtime.GOARCH,
			CPUs:       runtime.NumCPU(),
			Goroutines: runtime.NumGoroutine(),
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(h.Build())
}
