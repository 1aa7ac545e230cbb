package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Registry aggregates tool descriptors from all configured providers and maps
// each tool name to the provider hosting it. It is built once at startup and
// treated as read-only; Reload swaps the whole table atomically.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registryEntry
}

type registryEntry struct {
	tool     Tool
	provider Provider
}

// NewRegistry discovers tools from every provider. A tool name appearing in
// more than one provider is a configuration error reported here, at load time,
// never at call time.
func NewRegistry(ctx context.Context, providers ...Provider) (*Registry, error) {
	entries, err := discover(ctx, providers)
	if err != nil {
		return nil, err
	}
	return &Registry{entries: entries}, nil
}

func discover(ctx context.Context, providers []Provider) (map[string]registryEntry, error) {
	entries := make(map[string]registryEntry)
	for _, p := range providers {
		ts, err := p.ListTools(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing tools from provider %s: %w", p.Name(), err)
		}
		for _, t := range ts {
			if t.Name == "" {
				return nil, fmt.Errorf("provider %s advertises a tool with an empty name", p.Name())
			}
			if prev, ok := entries[t.Name]; ok {
				return nil, fmt.Errorf("duplicate tool %q advertised by providers %s and %s", t.Name, prev.provider.Name(), p.Name())
			}
			entries[t.Name] = registryEntry{tool: t, provider: p}
		}
	}
	return entries, nil
}

// Lookup resolves a tool name to its descriptor and hosting provider.
func (r *Registry) Lookup(name string) (Tool, Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return Tool{}, nil, false
	}
	return e.tool, e.provider, true
}

// Tools returns the full catalog sorted by name, for the planning oracle and
// the API surface.
func (r *Registry) Tools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.tool)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Reload rebuilds the table from the given providers and swaps it in one
// step; in-flight lookups keep reading the previous table until the swap.
func (r *Registry) Reload(ctx context.Context, providers ...Provider) error {
	entries, err := discover(ctx, providers)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.entries = entries
	r.mu.Unlock()
	return nil
}
