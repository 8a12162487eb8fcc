package document

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// MessageHandler is one behaviour's response to a named message. The instance
// carries the behaviour's per-document configuration.
type MessageHandler func(ctx context.Context, doc *Document, inst Instance, args ...any) (any, error)

// Definition registers a behaviour implementation: a behaviour name plus the
// messages it responds to.
type Definition struct {
	Name     string
	Messages map[string]MessageHandler
}

// Registry maps behaviour names to their implementations. A single registry
// is constructed at process start and shared by every hydration.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

// NewRegistry creates an empty behaviour registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*Definition)}
}

// Register adds (or replaces) a behaviour definition.
func (r *Registry) Register(def *Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.Name] = def
}

// Lookup returns the definition for a behaviour name, or nil.
func (r *Registry) Lookup(name string) *Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defs[name]
}

type boundHandler struct {
	inst Instance
	fn   MessageHandler
}

// Initialize attaches live message handlers to the document so it can respond
// to SendMessage. It is idempotent; calling it on an already hydrated
// document is a no-op. Behaviour instances with no registered implementation
// are skipped.
func (r *Registry) Initialize(doc *Document) {
	if doc == nil || doc.hydrated {
		return
	}
	doc.handlers = make(map[string][]boundHandler)
	if doc.Behaviours != nil {
		for _, list := range doc.Behaviours.Instances {
			for _, inst := range list {
				def := r.Lookup(inst.Behaviour)
				if def == nil {
					continue
				}
				for msg, fn := range def.Messages {
					doc.handlers[msg] = append(doc.handlers[msg], boundHandler{inst: inst, fn: fn})
				}
			}
		}
		doc.machine = newStateMachine(doc.Behaviours)
	}
	doc.hydrated = true
}

// SendMessageAsync broadcasts a message to every attached behaviour in
// registration order and aggregates the results: nil when no handler
// responded, the bare value when exactly one did, and a []any otherwise.
func (d *Document) SendMessageAsync(ctx context.Context, name string, args ...any) (any, error) {
	if !d.hydrated {
		return nil, fmt.Errorf("document %s: not hydrated", d.ID)
	}
	bound := d.handlers[name]
	if len(bound) == 0 {
		return nil, nil
	}
	results := make([]any, 0, len(bound))
	for _, h := range bound {
		res, err := h.fn(ctx, d, h.inst, args...)
		if err != nil {
			return nil, fmt.Errorf("document %s: message %q: %w", d.ID, name, err)
		}
		if res != nil {
			results = append(results, res)
		}
	}
	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

// SendMessage is the fire-and-forget form of SendMessageAsync: handler errors
// are logged rather than returned.
func (d *Document) SendMessage(name string, args ...any) any {
	res, err := d.SendMessageAsync(context.Background(), name, args...)
	if err != nil {
		slog.Warn("message dispatch failed",
			slog.String("document", d.ID),
			slog.String("message", name),
			slog.String("error", err.Error()))
		return nil
	}
	return res
}
