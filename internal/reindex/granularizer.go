package reindex

import (
	"context"
	"fmt"

	"github.com/utafrali/gally-search/internal/domain"
	"github.com/utafrali/gally-search/internal/source"
)

// DefaultChunkSize is the number of entities per chunk.
const DefaultChunkSize = 100

// Granularizer splits a reindex request into chunk requests. Zero chunks
// means nothing to do; one chunk is executed inline.
type Granularizer interface {
	Granularize(ctx context.Context, req *domain.ReindexRequest) ([]domain.ReindexRequest, error)
}

// GranularizerFunc adapts a function to Granularizer.
type GranularizerFunc func(ctx context.Context, req *domain.ReindexRequest) ([]domain.ReindexRequest, error)

func (f GranularizerFunc) Granularize(ctx context.Context, req *domain.ReindexRequest) ([]domain.ReindexRequest, error) {
	return f(ctx, req)
}

// Counter returns the number of entities of a type on a website.
type Counter interface {
	Count(ctx context.Context, entityType string, websiteID int) (int, error)
}

// SourceCounter counts through the document sources.
type SourceCounter struct {
	Sources *source.Registry
}

func (c SourceCounter) Count(ctx context.Context, entityType string, websiteID int) (int, error) {
	src, err := c.Sources.Get(entityType)
	if err != nil {
		return 0, err
	}
	return src.Count(ctx, websiteID)
}

// ChunkGranularizer emits one chunk per website, split by entity id batches
// of ChunkSize. When a Counter is set, full reindexes are split into pages of
// ChunkSize as well.
type ChunkGranularizer struct {
	ChunkSize int
	Websites  []int
	Counter   Counter
}

func (g *ChunkGranularizer) chunkSize() int {
	if g.ChunkSize <= 0 {
		return DefaultChunkSize
	}
	return g.ChunkSize
}

func (g *ChunkGranularizer) Granularize(ctx context.Context, req *domain.ReindexRequest) ([]domain.ReindexRequest, error) {
	websites := req.Context.WebsiteIDs
	if len(websites) == 0 {
		websites = g.Websites
	}
	size := g.chunkSize()

	var chunks []domain.ReindexRequest
	for _, website := range websites {
		if ids := req.Context.EntityIDs; len(ids) > 0 {
			for start := 0; start < len(ids); start += size {
				end := min(start+size, len(ids))
				batch := append([]string(nil), ids[start:end]...)
				chunks = append(chunks, chunkOf(req, domain.ReindexContext{
					WebsiteIDs: []int{website},
					EntityIDs:  batch,
				}))
			}
			continue
		}

		if g.Counter == nil {
			chunks = append(chunks, chunkOf(req, domain.ReindexContext{WebsiteIDs: []int{website}}))
			continue
		}

		total, err := g.Counter.Count(ctx, req.EntityType, website)
		if err != nil {
			return nil, fmt.Errorf("granularize %s website %d: %w", req.EntityType, website, err)
		}
		if total <= size {
			chunks = append(chunks, chunkOf(req, domain.ReindexContext{WebsiteIDs: []int{website}}))
			continue
		}
		for page := 1; (page-1)*size < total; page++ {
			chunks = append(chunks, chunkOf(req, domain.ReindexContext{
				WebsiteIDs: []int{website},
				Page:       page,
				PageSize:   size,
			}))
		}
	}
	return chunks, nil
}

func chunkOf(req *domain.ReindexRequest, ctx domain.ReindexContext) domain.ReindexRequest {
	return domain.ReindexRequest{
		EntityType: req.EntityType,
		Context:    ctx,
	}
}
