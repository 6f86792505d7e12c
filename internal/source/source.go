// Package source loads the documents of an entity type from the system that
// owns them, for indexing.
package source

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/utafrali/gally-search/internal/domain"
)

// ErrUnknownEntity is returned by Registry.Get for entity types without a source.
var ErrUnknownEntity = errors.New("no document source for entity type")

// Query selects documents. When IDs is set, paging is ignored.
type Query struct {
	WebsiteID int
	IDs       []string
	Page      int
	PageSize  int
}

// Source reads documents of one entity type.
type Source interface {
	// Count returns the number of documents visible on a website.
	Count(ctx context.Context, websiteID int) (int, error)
	// Documents returns the selected documents. Ids that do not exist are
	// left out of the result.
	Documents(ctx context.Context, q Query) ([]domain.Document, error)
}

// Registry maps entity types to their source.
type Registry struct {
	sources map[string]Source
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]Source)}
}

// Register adds or replaces the source of an entity type.
func (r *Registry) Register(entityType string, s Source) {
	r.sources[entityType] = s
}

// Get returns the source of an entity type.
func (r *Registry) Get(entityType string) (Source, error) {
	s, ok := r.sources[entityType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, entityType)
	}
	return s, nil
}

// EntityTypes lists the registered entity types, sorted.
func (r *Registry) EntityTypes() []string {
	out := make([]string, 0, len(r.sources))
	for k := range r.sources {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
