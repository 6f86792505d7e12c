// Package engine defines the contracts between the connector and the search
// backends that hold the indices.
package engine

import (
	"context"
	"errors"

	"github.com/utafrali/gally-search/internal/domain"
)

// ErrIndexNotFound is returned when no index matches the lookup.
var ErrIndexNotFound = errors.New("index not found")

// IndexManager manages the lifecycle of per-catalog indices:
// create, bulk (repeated per chunk), refresh, install.
type IndexManager interface {
	// CreateIndex creates a fresh, not yet live, index for one entity type
	// and localized catalog.
	CreateIndex(ctx context.Context, entityType, localizedCatalog string) (*domain.Index, error)

	// GetIndexByName returns the live index of an entity type and catalog.
	GetIndexByName(ctx context.Context, entityType, localizedCatalog string) (*domain.Index, error)

	// ExecuteBulk adds or replaces documents in the named index.
	ExecuteBulk(ctx context.Context, indexName string, docs []domain.Document) error

	// DeleteDocuments removes documents from the named index. Unknown ids are ignored.
	DeleteDocuments(ctx context.Context, indexName string, ids []string) error

	// RefreshIndex makes the documents written so far visible to search.
	RefreshIndex(ctx context.Context, indexName string) error

	// InstallIndex atomically promotes the index to be the live one for its
	// entity type and catalog. Installing a live index is a no-op.
	InstallIndex(ctx context.Context, indexName string) error
}

// Searcher runs translated search requests against the live indices.
type Searcher interface {
	Search(ctx context.Context, req *domain.SearchRequest) (*domain.SearchResult, error)
}

// Engine is a full search backend.
type Engine interface {
	IndexManager
	Searcher
}
