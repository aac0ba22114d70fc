package tasks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mattjoyce/shopworker/internal/queue"
)

// ErrUnknownKind is returned when no handler is registered for a task kind.
var ErrUnknownKind = errors.New("unknown task kind")

// Handler runs one task to completion.
type Handler interface {
	Handle(ctx context.Context, t queue.Task) error
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, t queue.Task) error

func (f HandlerFunc) Handle(ctx context.Context, t queue.Task) error {
	return f(ctx, t)
}

// Registry dispatches tasks to handlers by kind.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds kind to h, replacing any previous binding.
func (r *Registry) Register(kind string, h Handler) error {
	if kind == "" {
		return fmt.Errorf("task kind is empty")
	}
	if h == nil {
		return fmt.Errorf("handler for %q is nil", kind)
	}
	r.mu.Lock()
	r.handlers[kind] = h
	r.mu.Unlock()
	return nil
}

// Has reports whether kind has a handler.
func (r *Registry) Has(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[kind]
	return ok
}

// Kinds lists registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Handle looks up the handler for t.Kind and runs it.
func (r *Registry) Handle(ctx context.Context, t queue.Task) error {
	r.mu.RLock()
	h, ok := r.handlers[t.Kind]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKind, t.Kind)
	}
	return h.Handle(ctx, t)
}
