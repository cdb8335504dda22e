// Package classify turns a filesystem change into the reload message sent to
// browsers.
package classify

import (
	"path/filepath"

	"github.com/zsprackett/devserve/internal/events"
)

// Counter receives one increment per classified change.
type Counter interface {
	IncReloads()
}

// Classifier maps changes under Root to reload messages.
type Classifier struct {
	Root              string
	CSSInjectDisabled bool
	Counter           Counter
}

// Result is the outcome of classifying one change.
type Result struct {
	Message events.Message
	RelPath string
	CSS     bool
}

// Classify returns refreshcss for .css file changes when CSS injection is
// enabled and reload for everything else, directories included.
func (c *Classifier) Classify(ev events.ChangeEvent) Result {
	if c.Counter != nil {
		c.Counter.IncReloads()
	}
	css := !ev.Kind.IsDir() && filepath.Ext(ev.Path) == ".css" && !c.CSSInjectDisabled

	res := Result{Message: events.Reload, RelPath: c.relative(ev.Path), CSS: css}
	if css {
		res.Message = events.RefreshCSS
	}
	return res
}

func (c *Classifier) relative(p string) string {
	if c.Root == "" {
		return p
	}
	rel, err := filepath.Rel(c.Root, p)
	if err != nil {
		return p
	}
	return rel
}
