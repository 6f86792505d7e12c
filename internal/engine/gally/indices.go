package gally

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/utafrali/gally-search/internal/domain"
	"github.com/utafrali/gally-search/internal/engine"
)

type indexResource struct {
	Name             string `json:"name"`
	EntityType       string `json:"entityType"`
	LocalizedCatalog string `json:"localizedCatalog"`
	Status           string `json:"status"`
}

func (r indexResource) toDomain() *domain.Index {
	return &domain.Index{
		Name:             r.Name,
		EntityType:       r.EntityType,
		LocalizedCatalog: r.LocalizedCatalog,
		Status:           r.Status,
	}
}

// CreateIndex asks Gally for a new index of the entity type in the catalog.
func (c *Client) CreateIndex(ctx context.Context, entityType, localizedCatalog string) (*domain.Index, error) {
	data, err := c.call(ctx, http.MethodPost, "/api/indices", map[string]string{
		"entityType":       entityType,
		"localizedCatalog": localizedCatalog,
	})
	if err != nil {
		return nil, fmt.Errorf("gally create index: %w", err)
	}

	var res indexResource
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("gally create index: decode: %w", err)
	}
	if res.Name == "" {
		return nil, fmt.Errorf("gally create index: response without index name")
	}
	if res.EntityType == "" {
		res.EntityType = entityType
	}
	if res.LocalizedCatalog == "" {
		res.LocalizedCatalog = localizedCatalog
	}

	c.logger.InfoContext(ctx, "gally index created",
		slog.String("index", res.Name),
		slog.String("entity_type", entityType),
		slog.String("localized_catalog", localizedCatalog),
	)
	return res.toDomain(), nil
}

// GetIndexByName returns the live index of the entity type in the catalog.
func (c *Client) GetIndexByName(ctx context.Context, entityType, localizedCatalog string) (*domain.Index, error) {
	q := url.Values{}
	q.Set("entityType", entityType)
	q.Set("localizedCatalog", localizedCatalog)

	data, err := c.call(ctx, http.MethodGet, "/api/indices?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("gally get index: %w", err)
	}

	var list struct {
		Members []indexResource `json:"hydra:member"`
	}
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("gally get index: decode: %w", err)
	}
	for _, m := range list.Members {
		if m.EntityType == entityType && m.LocalizedCatalog == localizedCatalog && m.Status == domain.IndexStatusLive {
			return m.toDomain(), nil
		}
	}
	return nil, fmt.Errorf("gally get index: %w: %s/%s", engine.ErrIndexNotFound, entityType, localizedCatalog)
}

// ExecuteBulk sends documents to the index. Gally takes each document as a
// JSON encoded string.
func (c *Client) ExecuteBulk(ctx context.Context, indexName string, docs []domain.Document) error {
	if len(docs) == 0 {
		return nil
	}

	encoded := make([]string, len(docs))
	for i, doc := range docs {
		b, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("gally bulk: encode document %s: %w", doc.ID(), err)
		}
		encoded[i] = string(b)
	}

	_, err := c.call(ctx, http.MethodPost, "/api/index_documents", map[string]any{
		"indexName": indexName,
		"documents": encoded,
	})
	if err != nil {
		return fmt.Errorf("gally bulk %s: %w", indexName, err)
	}

	c.logger.DebugContext(ctx, "gally bulk indexed",
		slog.String("index", indexName),
		slog.Int("count", len(docs)),
	)
	return nil
}

// DeleteDocuments removes documents from the index.
func (c *Client) DeleteDocuments(ctx context.Context, indexName string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := c.call(ctx, http.MethodDelete, "/api/index_documents/"+url.PathEscape(indexName), map[string]any{
		"document_ids": ids,
	})
	if err != nil {
		return fmt.Errorf("gally delete documents %s: %w", indexName, err)
	}
	return nil
}

// RefreshIndex refreshes the index.
func (c *Client) RefreshIndex(ctx context.Context, indexName string) error {
	if _, err := c.call(ctx, http.MethodPut, "/api/indices/refresh/"+url.PathEscape(indexName), struct{}{}); err != nil {
		return fmt.Errorf("gally refresh %s: %w", indexName, err)
	}
	return nil
}

// InstallIndex switches the live alias to the index.
func (c *Client) InstallIndex(ctx context.Context, indexName string) error {
	if _, err := c.call(ctx, http.MethodPut, "/api/indices/install/"+url.PathEscape(indexName), struct{}{}); err != nil {
		return fmt.Errorf("gally install %s: %w", indexName, err)
	}
	c.logger.InfoContext(ctx, "gally index installed", slog.String("index", indexName))
	return nil
}
