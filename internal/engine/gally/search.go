package gally

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/utafrali/gally-search/internal/domain"
)

// EntityProduct is the Gally entity type served by the products query.
// Every other entity type goes through the generic documents query.
const EntityProduct = "product"

const productsQuery = `query getProducts($requestType: ProductRequestTypeEnum!, $localizedCatalog: String!, $search: String, $currentPage: Int, $pageSize: Int, $sort: ProductSortInput, $filter: [ProductFieldFilterInput]) {
  products(requestType: $requestType, localizedCatalog: $localizedCatalog, search: $search, currentPage: $currentPage, pageSize: $pageSize, sort: $sort, filter: $filter) {
    collection { ... on Product { id source } }
    paginationInfo { lastPage itemsPerPage totalCount }
    aggregations { field label type options { label value count } }
  }
}`

const documentsQuery = `query getDocuments($entityType: String!, $localizedCatalog: String!, $search: String, $currentPage: Int, $pageSize: Int, $sort: SortInput, $filter: [EntityFieldFilterInput]) {
  documents(entityType: $entityType, localizedCatalog: $localizedCatalog, search: $search, currentPage: $currentPage, pageSize: $pageSize, sort: $sort, filter: $filter) {
    collection { ... on Document { id source } }
    paginationInfo { lastPage itemsPerPage totalCount }
    aggregations { field label type options { label value count } }
  }
}`

// Search runs a products or documents GraphQL query.
func (c *Client) Search(ctx context.Context, req *domain.SearchRequest) (*domain.SearchResult, error) {
	start := time.Now()

	page := req.Page
	if page < 1 {
		page = 1
	}
	perPage := req.PerPage
	if perPage < 1 {
		perPage = 20
	}

	vars := map[string]any{
		"localizedCatalog": req.LocalizedCatalog,
		"currentPage":      page,
		"pageSize":         perPage,
	}
	if req.Query != "" {
		vars["search"] = req.Query
	}
	if req.Filter != nil {
		vars["filter"] = []any{req.Filter}
	}

	dir := req.SortDir
	if !domain.IsValidSortDir(dir) {
		dir = domain.SortAsc
	}
	sorted := req.SortBy != "" && req.SortBy != domain.SortRelevance

	root := "documents"
	query := documentsQuery
	if req.EntityType == EntityProduct {
		root = "products"
		query = productsQuery
		vars["requestType"] = "product_catalog"
		if sorted {
			vars["sort"] = map[string]string{req.SortBy: dir}
		}
	} else {
		vars["entityType"] = req.EntityType
		if sorted {
			vars["sort"] = map[string]string{"field": req.SortBy, "direction": dir}
		}
	}

	data, err := c.call(ctx, http.MethodPost, "/graphql", map[string]any{
		"query":     query,
		"variables": vars,
	})
	if err != nil {
		return nil, fmt.Errorf("gally search: %w", err)
	}

	doc := gjson.ParseBytes(data)
	if errs := doc.Get("errors"); errs.Exists() && len(errs.Array()) > 0 {
		msgs := make([]string, 0, len(errs.Array()))
		for _, e := range errs.Array() {
			msgs = append(msgs, e.Get("message").String())
		}
		return nil, fmt.Errorf("gally search: graphql: %s", strings.Join(msgs, "; "))
	}

	body := doc.Get("data." + root)
	if !body.Exists() {
		return nil, fmt.Errorf("gally search: response without %s", root)
	}

	items := make([]domain.Document, 0)
	for _, hit := range body.Get("collection").Array() {
		src, ok := hit.Get("source").Value().(map[string]any)
		if !ok {
			src = map[string]any{}
		}
		if _, ok := src["id"]; !ok {
			src["id"] = hit.Get("id").String()
		}
		items = append(items, domain.Document(src))
	}

	return &domain.SearchResult{
		Items:        items,
		Total:        int(body.Get("paginationInfo.totalCount").Int()),
		Page:         page,
		PerPage:      perPage,
		Aggregations: parseAggregations(body.Get("aggregations")),
		TookMs:       time.Since(start).Milliseconds(),
	}, nil
}

func parseAggregations(res gjson.Result) []domain.Aggregation {
	aggs := make([]domain.Aggregation, 0)
	for _, a := range res.Array() {
		agg := domain.Aggregation{
			Field:   a.Get("field").String(),
			Label:   a.Get("label").String(),
			Options: make([]domain.AggregationOption, 0),
		}
		for _, o := range a.Get("options").Array() {
			agg.Options = append(agg.Options, domain.AggregationOption{
				Value: o.Get("value").String(),
				Label: o.Get("label").String(),
				Count: int(o.Get("count").Int()),
			})
		}
		aggs = append(aggs, agg)
	}
	return aggs
}
