package reindex

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/utafrali/gally-search/internal/domain"
	"github.com/utafrali/gally-search/internal/engine"
)

// Pass is the state of one reindex run: the request it serves and the index
// chosen for every localized catalog. Indices are set once, before any chunk
// is executed or enqueued.
type Pass struct {
	Request *domain.ReindexRequest
	Indices domain.IndicesByLocale
	Full    bool
}

// IndexRegistry resolves the indices a pass writes to.
type IndexRegistry struct {
	indices  engine.IndexManager
	catalogs Catalogs
	logger   *slog.Logger
}

// NewIndexRegistry creates an index registry.
func NewIndexRegistry(indices engine.IndexManager, catalogs Catalogs, logger *slog.Logger) *IndexRegistry {
	return &IndexRegistry{indices: indices, catalogs: catalogs, logger: logger}
}

// BeforeReindex opens a pass. A full reindex gets a fresh index per catalog,
// to be installed when the pass completes; a partial one writes to the live
// indices.
func (r *IndexRegistry) BeforeReindex(ctx context.Context, req *domain.ReindexRequest) (*Pass, error) {
	catalogs := r.catalogs.For(req.Context.WebsiteIDs)
	if len(catalogs) == 0 {
		return nil, fmt.Errorf("before reindex %s: no localized catalog for websites %v", req.EntityType, req.Context.WebsiteIDs)
	}

	pass := &Pass{Request: req, Full: req.IsFullReindex()}
	for _, catalog := range catalogs {
		var (
			idx *domain.Index
			err error
		)
		if pass.Full {
			idx, err = r.indices.CreateIndex(ctx, req.EntityType, catalog)
		} else {
			idx, err = r.indices.GetIndexByName(ctx, req.EntityType, catalog)
		}
		if err != nil {
			return nil, fmt.Errorf("before reindex %s/%s: %w", req.EntityType, catalog, err)
		}
		pass.Indices.Set(catalog, idx.Name)
	}

	r.logger.InfoContext(ctx, "reindex pass opened",
		slog.String("entity_type", req.EntityType),
		slog.Bool("full", pass.Full),
		slog.Any("indices", pass.Indices.Locales()),
	)
	return pass, nil
}
