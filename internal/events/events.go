package events

import "time"

// Kind is the filesystem operation behind a ChangeEvent.
type Kind string

const (
	KindAdd       Kind = "add"
	KindChange    Kind = "change"
	KindUnlink    Kind = "unlink"
	KindAddDir    Kind = "addDir"
	KindUnlinkDir Kind = "unlinkDir"
)

// IsDir reports whether the event concerns a directory.
func (k Kind) IsDir() bool {
	return k == KindAddDir || k == KindUnlinkDir
}

// ChangeEvent is a single filesystem change reported by the watcher.
type ChangeEvent struct {
	Path string `json:"path"`
	Kind Kind   `json:"kind"`
}

// Message is the text frame pushed to live-reload clients.
type Message string

const (
	Connected  Message = "connected"
	Reload     Message = "reload"
	RefreshCSS Message = "refreshcss"
)

// Broadcaster sends messages to connected live-reload clients.
type Broadcaster interface {
	Broadcast(msg Message) int
}

// Request is one completed HTTP request as written to the request log.
type Request struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Method    string    `json:"method"`
	URL       string    `json:"url"`
	IP        string    `json:"ip"`
	UserAgent string    `json:"userAgent"`
	Status    int       `json:"status"`
	Duration  string    `json:"duration"`
}
