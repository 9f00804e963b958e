// Package logging is the dependency-injection glue every chunklog
// component uses for its *slog.Logger: nothing here calls
// slog.SetDefault or reaches for a package-level logger.
//
//   - writer.Open, reader.Open (via Config.Logger), segment.OpenForAppend,
//     retention.Evaluate, and friends all take an optional *slog.Logger
//   - logging.Default substitutes a discard logger when none is given
//   - each component scopes its logger once at construction with
//     .With("component", "writer") (or "reader", "retention", ...)
//
// Global concerns — output format, destination, per-component verbosity
// — belong in cmd/chunklogd/main.go, not in any internal package.
//
// Logging stays off hot paths (Writer.Write, the reader's chunk stream,
// acceptor's per-record scan): the intended log points are lifecycle
// boundaries — segment rollover, recovery repair, retention eviction,
// acceptor truncation decisions.
package logging

import (
	"context"
	"log/slog"
	"maps"
	"sync/atomic"
)

// discardHandler drops every record it's handed.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// Discard returns a logger that drops all output. It's the zero value
// components fall back to when nobody wires one in.
func Discard() *slog.Logger {
	return slog.New(discardHandler{})
}

// Default returns logger if it's non-nil, otherwise a discard logger.
// The standard shape for an optional logger parameter:
//
//	func Open(cfg Config) (*Writer, error) {
//	    logger := logging.Default(cfg.Logger).With("component", "writer")
//	    ...
//	}
func Default(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return Discard()
}

// ComponentFilterHandler wraps a slog.Handler and applies a
// per-component minimum level on top of it, so an operator can bump
// verbosity for one noisy component (say, "acceptor" during a
// reconciliation incident) without turning on debug logging for every
// writer and retention runner in the process.
//
//   - each record is inspected for a "component" attribute
//   - a per-component level map overrides the handler's default level
//   - components absent from the map use the default
//
// Handle() reads the level map via an atomic pointer so logging never
// blocks on a mutex; SetLevel/ClearLevel copy-on-write a new map.
//
// cmd/chunklogd wires this in front of its base handler so `serve
// --debug-component writer` only turns up one subsystem.
type ComponentFilterHandler struct {
	next         slog.Handler
	defaultLevel slog.Level

	// preAttrs holds attributes attached via WithAttrs before any group
	// context; Handle() checks these for "component" too, since a
	// logger built with .With("component", "writer") carries it here
	// rather than on each record.
	preAttrs []slog.Attr

	// levelSnapshot holds the current component->level map. It's a
	// pointer so handlers derived via WithAttrs/WithGroup share it,
	// letting SetLevel reach every derived logger.
	levelSnapshot *atomic.Pointer[map[string]slog.Level]
}

// NewComponentFilterHandler wraps next, filtering records by the
// "component" attribute against a per-component minimum level that
// defaults to defaultLevel.
func NewComponentFilterHandler(next slog.Handler, defaultLevel slog.Level) *ComponentFilterHandler {
	snapshot := &atomic.Pointer[map[string]slog.Level]{}
	empty := make(map[string]slog.Level)
	snapshot.Store(&empty)

	return &ComponentFilterHandler{
		next:          next,
		defaultLevel:  defaultLevel,
		levelSnapshot: snapshot,
	}
}

// Enabled always reports true; the component isn't known until Handle
// inspects the record's attributes, so filtering happens there.
func (h *ComponentFilterHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return true
}

// Handle drops the record if it's below its component's minimum level,
// otherwise forwards it to next.
func (h *ComponentFilterHandler) Handle(ctx context.Context, r slog.Record) error {
	levels := *h.levelSnapshot.Load()

	component := h.findComponent(r)

	minLevel := h.defaultLevel
	if component != "" {
		if level, ok := levels[component]; ok {
			minLevel = level
		}
	}

	if r.Level < minLevel {
		return nil
	}
	if !h.next.Enabled(ctx, r.Level) {
		return nil
	}
	return h.next.Handle(ctx, r)
}

// findComponent extracts the "component" attribute from preAttrs, then
// the record itself, returning "" if neither carries one.
func (h *ComponentFilterHandler) findComponent(r slog.Record) string {
	for _, attr := range h.preAttrs {
		if attr.Key == "component" {
			if s, ok := attr.Value.Resolve().Any().(string); ok {
				return s
			}
		}
	}

	var component string
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "component" {
			if s, ok := a.Value.Resolve().Any().(string); ok {
				component = s
				return false
			}
		}
		return true
	})
	return component
}

// WithAttrs returns a derived handler; if attrs includes "component" it
// is remembered for filtering records logged through this logger.
func (h *ComponentFilterHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}

	newPreAttrs := make([]slog.Attr, len(h.preAttrs), len(h.preAttrs)+len(attrs))
	copy(newPreAttrs, h.preAttrs)
	newPreAttrs = append(newPreAttrs, attrs...)

	return &ComponentFilterHandler{
		next:          h.next.WithAttrs(attrs),
		defaultLevel:  h.defaultLevel,
		preAttrs:      newPreAttrs,
		levelSnapshot: h.levelSnapshot,
	}
}

// WithGroup returns a derived handler scoped to the named group.
func (h *ComponentFilterHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &ComponentFilterHandler{
		next:          h.next.WithGroup(name),
		defaultLevel:  h.defaultLevel,
		preAttrs:      h.preAttrs,
		levelSnapshot: h.levelSnapshot,
	}
}

// SetLevel sets component's minimum level, e.g. SetLevel("writer",
// slog.LevelDebug) to see per-chunk writer detail without affecting
// any other component. Safe to call while the process is logging.
func (h *ComponentFilterHandler) SetLevel(component string, level slog.Level) {
	oldLevels := *h.levelSnapshot.Load()
	newLevels := make(map[string]slog.Level, len(oldLevels)+1)
	maps.Copy(newLevels, oldLevels)
	newLevels[component] = level
	h.levelSnapshot.Store(&newLevels)
}

// ClearLevel reverts component to the handler's default level.
func (h *ComponentFilterHandler) ClearLevel(component string) {
	oldLevels := *h.levelSnapshot.Load()
	if _, ok := oldLevels[component]; !ok {
		return
	}

	newLevels := make(map[string]slog.Level, len(oldLevels))
	for k, v := range oldLevels {
		if k != component {
			newLevels[k] = v
		}
	}
	h.levelSnapshot.Store(&newLevels)
}

// Level returns component's current minimum level, or the handler's
// default if component has no override.
func (h *ComponentFilterHandler) Level(component string) slog.Level {
	levels := *h.levelSnapshot.Load()
	if level, ok := levels[component]; ok {
		return level
	}
	return h.defaultLevel
}

// DefaultLevel returns the minimum level applied to components without
// an explicit override.
func (h *ComponentFilterHandler) DefaultLevel() slog.Level {
	return h.defaultLevel
}
