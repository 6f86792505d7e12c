package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/utafrali/gally-search/internal/domain"
	apperrors "github.com/utafrali/gally-search/pkg/errors"
	"github.com/utafrali/gally-search/pkg/httpclient"
	"github.com/utafrali/gally-search/pkg/httputil"
)

const (
	productServiceName = "product-service"

	// DefaultPageSize is the largest page the product service hands out.
	DefaultPageSize = 100
)

// productPayload is the product representation of the product service.
type productPayload struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Slug        string         `json:"slug"`
	Description string         `json:"description"`
	BrandID     *string        `json:"brand_id,omitempty"`
	CategoryID  *string        `json:"category_id,omitempty"`
	Status      string         `json:"status"`
	BasePrice   int64          `json:"base_price"`
	Currency    string         `json:"currency"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Category    *struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"category,omitempty"`
}

// toDocument flattens a product into Gally source fields. Prices travel in
// minor units and are indexed as decimals.
func (p *productPayload) toDocument() domain.Document {
	doc := domain.Document{}
	for k, v := range p.Metadata {
		doc[k] = v
	}
	doc["id"] = p.ID
	doc["sku"] = p.Slug
	doc["name"] = p.Name
	doc["description"] = p.Description
	doc["status"] = p.Status
	doc["currency"] = p.Currency
	doc["price__price"] = float64(p.BasePrice) / 100

	switch {
	case p.Category != nil:
		doc["category__id"] = p.Category.ID
		doc["category__name"] = p.Category.Name
	case p.CategoryID != nil:
		doc["category__id"] = *p.CategoryID
	}
	if p.BrandID != nil {
		doc["brand"] = *p.BrandID
	}
	return doc
}

// ProductSource reads products from the product service REST API.
type ProductSource struct {
	baseURL  string
	http     httpclient.Doer
	pageSize int
	logger   *slog.Logger
}

// NewProductSource creates a product source. pageSize <= 0 selects
// DefaultPageSize.
func NewProductSource(baseURL string, doer httpclient.Doer, pageSize int, logger *slog.Logger) *ProductSource {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &ProductSource{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     doer,
		pageSize: pageSize,
		logger:   logger,
	}
}

// Count returns the total_count of the product listing. The product service
// is not website aware, every website sees the full catalog.
func (s *ProductSource) Count(ctx context.Context, _ int) (int, error) {
	page, err := s.list(ctx, 1, 1)
	if err != nil {
		return 0, fmt.Errorf("count products: %w", err)
	}
	return page.TotalCount, nil
}

// Documents returns one listing page, or the given products when ids are set.
func (s *ProductSource) Documents(ctx context.Context, q Query) ([]domain.Document, error) {
	if len(q.IDs) > 0 {
		return s.byIDs(ctx, q.IDs)
	}

	pageSize := q.PageSize
	if pageSize <= 0 || pageSize > s.pageSize {
		pageSize = s.pageSize
	}
	if q.PageSize <= 0 {
		return s.all(ctx, pageSize)
	}

	page, err := s.list(ctx, q.Page, pageSize)
	if err != nil {
		return nil, fmt.Errorf("list products page %d: %w", q.Page, err)
	}
	return toDocuments(page.Data), nil
}

func (s *ProductSource) all(ctx context.Context, pageSize int) ([]domain.Document, error) {
	var docs []domain.Document
	for page := 1; ; page++ {
		res, err := s.list(ctx, page, pageSize)
		if err != nil {
			return nil, fmt.Errorf("list products page %d: %w", page, err)
		}
		docs = append(docs, toDocuments(res.Data)...)
		if !res.HasNext || len(res.Data) == 0 {
			return docs, nil
		}
	}
}

func (s *ProductSource) byIDs(ctx context.Context, ids []string) ([]domain.Document, error) {
	docs := make([]domain.Document, 0, len(ids))
	for _, id := range ids {
		p, err := s.get(ctx, id)
		if errors.Is(err, apperrors.ErrNotFound) {
			s.logger.DebugContext(ctx, "product gone from product service",
				slog.String("product_id", id),
			)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get product %s: %w", id, err)
		}
		docs = append(docs, p.toDocument())
	}
	return docs, nil
}

func (s *ProductSource) list(ctx context.Context, page, perPage int) (*httputil.PaginatedResponse[productPayload], error) {
	if page < 1 {
		page = 1
	}
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(perPage))

	var out httputil.PaginatedResponse[productPayload]
	if err := s.getJSON(ctx, "/api/v1/products?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *ProductSource) get(ctx context.Context, id string) (*productPayload, error) {
	var out struct {
		Data productPayload `json:"data"`
	}
	if err := s.getJSON(ctx, "/api/v1/products/"+url.PathEscape(id), &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

func (s *ProductSource) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.http.Do(ctx, req)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		err := httpclient.ParseResponseError(resp, productServiceName)
		if resp.StatusCode == http.StatusNotFound && !errors.Is(err, apperrors.ErrNotFound) {
			return fmt.Errorf("%w: %w", apperrors.ErrNotFound, err)
		}
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s response: %w", productServiceName, err)
	}
	return nil
}

func toDocuments(products []productPayload) []domain.Document {
	docs := make([]domain.Document, 0, len(products))
	for i := range products {
		docs = append(docs, products[i].toDocument())
	}
	return docs
}
