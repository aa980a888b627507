package connector

import (
	"context"
	"fmt"

	"github.com/baldanca/log-puller/catalog"
)

// Puller retrieves new log data for one configured source.
//
// Implementations perform their own transient-error retries; from the
// caller's perspective a call is a single atomic attempt. Returning nil or
// empty bytes means "nothing new since the last pull" and is not an error.
type Puller interface {
	Pull(ctx context.Context, pc *catalog.PullContext) ([]byte, error)
}

// Registry maps connector type tags to Puller implementations. It is built
// once at startup and read-only afterwards, so lookups need no locking.
type Registry struct {
	pullers map[string]Puller
}

func NewRegistry() *Registry {
	return &Registry{pullers: make(map[string]Puller)}
}

// Register binds a connector type tag to its puller. Double registration is
// a programming error.
func (r *Registry) Register(typ string, p Puller) {
	if typ == "" {
		panic("connector type is required")
	}
	if p == nil {
		panic(fmt.Sprintf("puller for connector type %q is nil", typ))
	}
	if _, ok := r.pullers[typ]; ok {
		panic(fmt.Sprintf("puller for connector type %q already registered", typ))
	}
	r.pullers[typ] = p
}

// For returns the puller registered for a connector type.
func (r *Registry) For(typ string) (Puller, bool) {
	p, ok := r.pullers[typ]
	return p, ok
}
