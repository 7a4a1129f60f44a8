package runtime

import (
	"context"
	"fmt"
)

// Handler consumes payloads of type T. T decides how message bodies are
// decoded: *mq.Envelope and []byte receive the message untouched, interface
// types receive the raw body and every other type is decoded from JSON.
type Handler[T any] interface {
	OnMessage(ctx context.Context, payload T) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc[T any] func(ctx context.Context, payload T) error

func (f HandlerFunc[T]) OnMessage(ctx context.Context, payload T) error {
	return f(ctx, payload)
}

// NameProvider is implemented by handlers bound to a single consumer name.
type NameProvider interface {
	Name() string
}

// NamesProvider is implemented by handlers bound to several consumer names.
type NamesProvider interface {
	Names() []string
}

// TagsProvider is implemented by handlers that only want some tags.
type TagsProvider interface {
	Tags() []string
}

// Routing names the consumer configurations and tags a handler listens on.
// A non-empty Name takes precedence over Names; no Tags means every tag.
type Routing struct {
	Name  string
	Names []string
	Tags  []string
}

// Registration binds a handler to its routing. Empty fields fall back to the
// handler's NameProvider, NamesProvider and TagsProvider methods. Name and
// Names fall back together: setting either one skips both providers.
type Registration[T any] struct {
	// Identity distinguishes handlers routed to the same name and tag.
	// It defaults to the handler's dynamic type.
	Identity string
	Name     string
	Names    []string
	Tags     []string
	Handler  Handler[T]
}

func (r Registration[T]) identity() string {
	if r.Identity != "" {
		return r.Identity
	}
	return fmt.Sprintf("%T", r.Handler)
}

func (r Registration[T]) routing() Routing {
	routing := Routing{Name: r.Name, Names: r.Names, Tags: r.Tags}
	if routing.Name == "" && len(routing.Names) == 0 {
		if p, ok := any(r.Handler).(NameProvider); ok {
			routing.Name = p.Name()
		}
		if p, ok := any(r.Handler).(NamesProvider); ok {
			routing.Names = p.Names()
		}
	}
	if len(routing.Tags) == 0 {
		if p, ok := any(r.Handler).(TagsProvider); ok {
			routing.Tags = p.Tags()
		}
	}
	return routing
}
