package reindex

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/utafrali/gally-search/internal/domain"
	"github.com/utafrali/gally-search/internal/engine"
	"github.com/utafrali/gally-search/internal/source"
)

// Indexer executes one chunk: it loads the chunk's documents and writes them
// to the pass index of every catalog of the chunk's websites.
type Indexer struct {
	indices  engine.IndexManager
	sources  *source.Registry
	catalogs Catalogs
	logger   *slog.Logger
}

// NewIndexer creates an indexer.
func NewIndexer(indices engine.IndexManager, sources *source.Registry, catalogs Catalogs, logger *slog.Logger) *Indexer {
	return &Indexer{indices: indices, sources: sources, catalogs: catalogs, logger: logger}
}

// IndexChunk indexes the entities selected by req into req.IndicesByLocale.
// Requested ids the source no longer knows are removed from the index.
func (x *Indexer) IndexChunk(ctx context.Context, req *domain.ReindexRequest) error {
	src, err := x.sources.Get(req.EntityType)
	if err != nil {
		return fmt.Errorf("index chunk: %w", err)
	}

	for _, website := range x.catalogs.websitesOf(req.Context.WebsiteIDs) {
		docs, err := src.Documents(ctx, source.Query{
			WebsiteID: website,
			IDs:       req.Context.EntityIDs,
			Page:      req.Context.Page,
			PageSize:  req.Context.PageSize,
		})
		if err != nil {
			return fmt.Errorf("index chunk: load %s website %d: %w", req.EntityType, website, err)
		}
		gone := missingIDs(req.Context.EntityIDs, docs)

		for _, catalog := range x.catalogs[website] {
			name, ok := req.IndicesByLocale.Get(catalog)
			if !ok {
				return fmt.Errorf("index chunk: no index for catalog %s", catalog)
			}
			if err := x.indices.ExecuteBulk(ctx, name, docs); err != nil {
				return fmt.Errorf("index chunk: %w", err)
			}
			if err := x.indices.DeleteDocuments(ctx, name, gone); err != nil {
				return fmt.Errorf("index chunk: %w", err)
			}
			documentsIndexed.WithLabelValues(req.EntityType).Add(float64(len(docs)))
		}

		x.logger.DebugContext(ctx, "chunk indexed",
			slog.String("entity_type", req.EntityType),
			slog.Int("website_id", website),
			slog.Int("documents", len(docs)),
			slog.Int("removed", len(gone)),
		)
	}
	return nil
}

func missingIDs(requested []string, docs []domain.Document) []string {
	if len(requested) == 0 {
		return nil
	}
	found := make(map[string]bool, len(docs))
	for _, d := range docs {
		found[d.ID()] = true
	}
	var out []string
	for _, id := range requested {
		if !found[id] {
			out = append(out, id)
		}
	}
	return out
}
