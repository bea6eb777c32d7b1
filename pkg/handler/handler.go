// Package handler routes decoded contract events to registered functions.
package handler

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/0xredeth/launchpad/internal/index"
	"github.com/0xredeth/launchpad/pkg/decoder"
)

// BlockInfo identifies the block a log was emitted in.
type BlockInfo struct {
	Number uint64
	Hash   string
}

// Context is passed to every handler invocation.
type Context struct {
	Ctx   context.Context
	Index index.Index
	Block BlockInfo
	Log   types.Log
	Event *decoder.DecodedEvent
}

// Context returns the request context, falling back to Background.
func (c *Context) Context() context.Context {
	if c.Ctx == nil {
		return context.Background()
	}
	return c.Ctx
}

// Func handles one decoded event.
type Func func(ctx *Context) error

// Registry maps "Contract:Event" ids to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Func
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Func)}
}

// Register sets the handler for eventID, replacing any previous one.
func (r *Registry) Register(eventID string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[eventID] = fn
}

// Get returns the handler for eventID.
func (r *Registry) Get(eventID string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.handlers[eventID]
	return fn, ok
}

// HasHandler reports whether eventID has a handler.
func (r *Registry) HasHandler(eventID string) bool {
	_, ok := r.Get(eventID)
	return ok
}

// ListHandlers returns the registered ids in sorted order.
func (r *Registry) ListHandlers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.handlers))
	for id := range r.handlers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Handle dispatches ctx.Event. Events without a handler are skipped.
func (r *Registry) Handle(ctx *Context) error {
	if ctx == nil || ctx.Event == nil {
		return fmt.Errorf("event is nil")
	}
	fn, ok := r.Get(ctx.Event.EventID)
	if !ok {
		return nil
	}
	if err := fn(ctx); err != nil {
		return fmt.Errorf("handler %s: %w", ctx.Event.EventID, err)
	}
	return nil
}
