// Package connector defines the adapter contract every external catalog
// implements and the registry the orchestrator and upsert engine resolve
// them through. Each connector owns its provider's identifier scheme and
// response parsing; nothing upstream-specific leaks past Fetch.
package connector

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/Griffinhale/tastebuds-containerized-sub000/internal/domain"
)

var ErrUnknownSource = errors.New("unknown source")

// Connector adapts one external catalog. Implementations are stateless
// except for cached auth tokens.
type Connector interface {
	Name() string
	// MediaTypes lists the media types this source can produce.
	MediaTypes() []domain.MediaType
	// ParseIdentifier accepts either a bare provider ID or a provider URL
	// and normalizes it to the bare identifier Fetch understands.
	ParseIdentifier(raw string) (string, error)
	// Search returns up to limit identifiers. Zero matches is not an error.
	Search(ctx context.Context, query string, limit int) ([]string, error)
	// Fetch resolves one identifier to a canonical result. An identifier
	// that does not resolve yields an error wrapping domain.ErrNotFound,
	// never a synthesized result.
	Fetch(ctx context.Context, identifier string) (domain.CanonicalResult, error)
}

// Registry is an explicit, immutable-after-construction set of connectors,
// built once at startup and passed by reference. No global state.
type Registry struct {
	byName map[string]Connector
	order  []string
}

func NewRegistry(connectors ...Connector) *Registry {
	r := &Registry{byName: make(map[string]Connector, len(connectors))}
	for _, c := range connectors {
		if c == nil {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(c.Name()))
		if name == "" {
			continue
		}
		if _, exists := r.byName[name]; exists {
			continue
		}
		r.byName[name] = c
		r.order = append(r.order, name)
	}
	sort.Strings(r.order)
	return r
}

func (r *Registry) Get(name string) (Connector, bool) {
	c, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	return c, ok
}

// Names returns all registered source names in stable order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Resolve maps the requested source names to connectors, defaulting to all
// registered connectors when none are named.
func (r *Registry) Resolve(names []string) ([]Connector, error) {
	if len(names) == 0 {
		all := make([]Connector, 0, len(r.order))
		for _, name := range r.order {
			all = append(all, r.byName[name])
		}
		return all, nil
	}

	selected := make([]Connector, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		c, ok := r.byName[name]
		if !ok {
			return nil, &UnknownSourceError{Name: name}
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		selected = append(selected, c)
	}
	if len(selected) == 0 {
		return nil, ErrUnknownSource
	}
	return selected, nil
}

type UnknownSourceError struct {
	Name string
}

func (e *UnknownSourceError) Error() string {
	return "unknown source: " + e.Name
}

func (e *UnknownSourceError) Unwrap() error {
	return ErrUnknownSource
}
