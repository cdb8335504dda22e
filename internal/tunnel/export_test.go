package tunnel

import "github.com/zsprackett/devserve/internal/procrunner"

// WithStarter replaces the process starter used by StartTunnel.
func WithStarter(o Options, fn func(string, procrunner.Options) (*procrunner.Handle, error)) Options {
	o.start = fn
	return o
}
