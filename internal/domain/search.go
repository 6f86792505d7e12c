package domain

import (
	"encoding/json"
	"fmt"
)

// Sort directions.
const (
	SortAsc  = "asc"
	SortDesc = "desc"

	// SortRelevance orders by engine score and is the default sort field.
	SortRelevance = "_score"
)

// IsValidSortDir checks whether dir is a supported sort direction.
func IsValidSortDir(dir string) bool {
	return dir == SortAsc || dir == SortDesc
}

// Document is one indexable record, keyed by source field code.
type Document map[string]any

// ID returns the document identifier as a string.
func (d Document) ID() string {
	switch v := d["id"].(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return fmt.Sprint(v)
	}
}

// SearchQuery holds the host side of a search call: a filter expression in
// its JSON form plus paging and sorting.
type SearchQuery struct {
	EntityType       string          `json:"entity_type"`
	LocalizedCatalog string          `json:"localized_catalog"`
	Query            string          `json:"query"`
	Filter           json.RawMessage `json:"filter,omitempty"`
	SortBy           string          `json:"sort_by"`
	SortDir          string          `json:"sort_dir"`
	Page             int             `json:"page"`
	PerPage          int             `json:"per_page"`
}

// SearchRequest is what an engine receives: the filter is already translated.
type SearchRequest struct {
	EntityType       string
	LocalizedCatalog string
	Query            string
	Filter           map[string]any
	SortBy           string
	SortDir          string
	Page             int
	PerPage          int
}

// Offset returns the zero based index of the first hit of the page.
func (r *SearchRequest) Offset() int {
	if r.Page <= 1 {
		return 0
	}
	return (r.Page - 1) * r.PerPage
}

// AggregationOption is one facet bucket.
type AggregationOption struct {
	Value string `json:"value"`
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Aggregation is a facet computed over the matching documents.
type Aggregation struct {
	Field   string              `json:"field"`
	Label   string              `json:"label"`
	Options []AggregationOption `json:"options"`
}

// SearchResult holds the paginated search response.
type SearchResult struct {
	Items        []Document    `json:"items"`
	Total        int           `json:"total"`
	Page         int           `json:"page"`
	PerPage      int           `json:"per_page"`
	Aggregations []Aggregation `json:"aggregations"`
	TookMs       int64         `json:"took_ms"`
}
