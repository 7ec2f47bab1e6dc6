package trigger

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrUnbound  = errors.New("no handler bound")
	ErrNotReady = errors.New("element not ready")
)

// Handler reacts to an action on a bound element.
type Handler func(ctx context.Context) error

type binding struct {
	handler Handler
	gen     uint64
}

// Registry binds at most one handler per element id. Binding an id again
// replaces the previous handler, so repeated wiring never doubles up.
type Registry struct {
	mu       sync.RWMutex
	bindings map[string]binding
	gen      uint64
}

func NewRegistry() *Registry {
	return &Registry{bindings: make(map[string]binding)}
}

// Bind attaches h to id and returns a disposer that detaches it. A
// disposer of a replaced binding is a no-op.
func (r *Registry) Bind(id string, h Handler) (dispose func()) {
	r.mu.Lock()
	r.gen++
	gen := r.gen
	r.bindings[id] = binding{handler: h, gen: gen}
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if b, ok := r.bindings[id]; ok && b.gen == gen {
				delete(r.bindings, id)
			}
		})
	}
}

// Bound reports whether id has a handler.
func (r *Registry) Bound(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.bindings[id]
	return ok
}

// Dispatch runs the handler bound to id.
func (r *Registry) Dispatch(ctx context.Context, id string) error {
	r.mu.RLock()
	b, ok := r.bindings[id]
	r.mu.RUnlock()
	if !ok {
		return ErrUnbound
	}
	return b.handler(ctx)
}

// Await polls probe every interval until it returns true, giving up with
// ErrNotReady after attempts tries. attempts <= 0 polls until ctx ends.
func Await(ctx context.Context, probe func(context.Context) bool, interval time.Duration, attempts int) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i := 1; ; i++ {
		if probe(ctx) {
			return nil
		}
		if attempts > 0 && i >= attempts {
			return ErrNotReady
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Ready is a one-shot readiness signal.
type Ready struct {
	once sync.Once
	ch   chan struct{}
	init sync.Once
}

func (r *Ready) lazy() {
	r.init.Do(func() { r.ch = make(chan struct{}) })
}

// Fire marks the signal ready. Later calls do nothing.
func (r *Ready) Fire() {
	r.lazy()
	r.once.Do(func() { close(r.ch) })
}

// Done is closed once Fire has been called.
func (r *Ready) Done() <-chan struct{} {
	r.lazy()
	return r.ch
}

// Wait blocks until the signal fires or ctx ends.
func (r *Ready) Wait(ctx context.Context) error {
	select {
	case <-r.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
