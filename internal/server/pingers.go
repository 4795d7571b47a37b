package server

import (
	"context"
)

// pingFunc names a bare Ping function so concrete probes from other
// packages can satisfy the Pinger interface without importing server.
type pingFunc struct {
	name string
	ping func(ctx context.Context) error
}

// NamedPinger wraps any ping function as a Pinger with the given label.
// Used to register the store, the embedding backend, and the generation
// backend as readiness probes.
func NamedPinger(name string, ping func(ctx context.Context) error) Pinger {
	return &pingFunc{name: name, ping: ping}
}

// Name returns the dependency label used in readiness responses.
func (p *pingFunc) Name() string { return p.name }

// Ping delegates to the wrapped function.
func (p *pingFunc) Ping(ctx context.Context) error { return p.ping(ctx) }
