// Package memory provides an in-process search backend used for local
// development and tests. It understands both Gally filter dialects.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/utafrali/gally-search/internal/domain"
	"github.com/utafrali/gally-search/internal/engine"
)

type index struct {
	meta      domain.Index
	docs      map[string]domain.Document
	refreshed bool
}

// Engine is an in-memory implementation of engine.Engine.
// Thread-safe via sync.RWMutex.
type Engine struct {
	mu      sync.RWMutex
	indices map[string]*index
	live    map[string]string
	facets  []string
	seq     int
}

// New creates an empty engine. Facet fields are aggregated on every search.
func New(facets ...string) *Engine {
	return &Engine{
		indices: make(map[string]*index),
		live:    make(map[string]string),
		facets:  facets,
	}
}

func liveKey(entityType, catalog string) string {
	return entityType + "/" + catalog
}

// CreateIndex registers a new empty index.
func (e *Engine) CreateIndex(_ context.Context, entityType, localizedCatalog string) (*domain.Index, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.seq++
	name := fmt.Sprintf("memory_%s_%s_%d", localizedCatalog, entityType, e.seq)
	idx := &index{
		meta: domain.Index{
			Name:             name,
			EntityType:       entityType,
			LocalizedCatalog: localizedCatalog,
			Status:           domain.IndexStatusBuilding,
		},
		docs: make(map[string]domain.Document),
	}
	e.indices[name] = idx

	meta := idx.meta
	return &meta, nil
}

// GetIndexByName returns the live index for the entity type and catalog.
func (e *Engine) GetIndexByName(_ context.Context, entityType, localizedCatalog string) (*domain.Index, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	name, ok := e.live[liveKey(entityType, localizedCatalog)]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", engine.ErrIndexNotFound, entityType, localizedCatalog)
	}
	meta := e.indices[name].meta
	return &meta, nil
}

// ExecuteBulk adds or replaces documents in the named index.
func (e *Engine) ExecuteBulk(_ context.Context, indexName string, docs []domain.Document) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	idx, ok := e.indices[indexName]
	if !ok {
		return fmt.Errorf("%w: %s", engine.ErrIndexNotFound, indexName)
	}
	for _, doc := range docs {
		id := doc.ID()
		if id == "" {
			return fmt.Errorf("memory bulk: document without id in %s", indexName)
		}
		idx.docs[id] = doc
	}
	return nil
}

// DeleteDocuments removes documents from the named index.
func (e *Engine) DeleteDocuments(_ context.Context, indexName string, ids []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	idx, ok := e.indices[indexName]
	if !ok {
		return fmt.Errorf("%w: %s", engine.ErrIndexNotFound, indexName)
	}
	for _, id := range ids {
		delete(idx.docs, id)
	}
	return nil
}

// RefreshIndex marks the index as refreshed.
func (e *Engine) RefreshIndex(_ context.Context, indexName string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	idx, ok := e.indices[indexName]
	if !ok {
		return fmt.Errorf("%w: %s", engine.ErrIndexNotFound, indexName)
	}
	idx.refreshed = true
	if idx.meta.Status == domain.IndexStatusBuilding {
		idx.meta.Status = domain.IndexStatusReady
	}
	return nil
}

// InstallIndex makes the index live and drops the one it replaces.
func (e *Engine) InstallIndex(_ context.Context, indexName string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	idx, ok := e.indices[indexName]
	if !ok {
		return fmt.Errorf("%w: %s", engine.ErrIndexNotFound, indexName)
	}
	key := liveKey(idx.meta.EntityType, idx.meta.LocalizedCatalog)
	if prev, ok := e.live[key]; ok && prev != indexName {
		delete(e.indices, prev)
	}
	e.live[key] = indexName
	idx.meta.Status = domain.IndexStatusLive
	return nil
}

// Indices returns a snapshot of every known index, ordered by name.
func (e *Engine) Indices() []domain.Index {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]domain.Index, 0, len(e.indices))
	for _, idx := range e.indices {
		out = append(out, idx.meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Count returns the number of documents in the named index.
func (e *Engine) Count(indexName string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if idx, ok := e.indices[indexName]; ok {
		return len(idx.docs)
	}
	return 0
}

// Search executes a search request against the live index.
func (e *Engine) Search(_ context.Context, req *domain.SearchRequest) (*domain.SearchResult, error) {
	start := time.Now()

	clause, err := engine.ParseFilter(req.Filter)
	if err != nil {
		return nil, fmt.Errorf("memory search: %w", err)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	name, ok := e.live[liveKey(req.EntityType, req.LocalizedCatalog)]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", engine.ErrIndexNotFound, req.EntityType, req.LocalizedCatalog)
	}
	idx := e.indices[name]

	queryLower := strings.ToLower(strings.TrimSpace(req.Query))
	matched := make([]domain.Document, 0)
	for _, doc := range idx.docs {
		if queryLower != "" && !matchesText(doc, queryLower) {
			continue
		}
		if clause != nil && !evaluate(clause, doc) {
			continue
		}
		matched = append(matched, doc)
	}

	sortDocuments(matched, req.SortBy, req.SortDir)
	total := len(matched)

	page := req.Page
	if page < 1 {
		page = 1
	}
	perPage := req.PerPage
	if perPage < 1 {
		perPage = 20
	}

	offset := (page - 1) * perPage
	if offset > total {
		offset = total
	}
	end := offset + perPage
	if end > total {
		end = total
	}

	return &domain.SearchResult{
		Items:        matched[offset:end],
		Total:        total,
		Page:         page,
		PerPage:      perPage,
		Aggregations: e.aggregate(matched),
		TookMs:       time.Since(start).Milliseconds(),
	}, nil
}

func (e *Engine) aggregate(docs []domain.Document) []domain.Aggregation {
	aggs := make([]domain.Aggregation, 0, len(e.facets))
	for _, field := range e.facets {
		counts := map[string]int{}
		for _, doc := range docs {
			for _, v := range valuesOf(doc[field]) {
				counts[scalar(v)]++
			}
		}
		if len(counts) == 0 {
			continue
		}
		opts := make([]domain.AggregationOption, 0, len(counts))
		for v, n := range counts {
			opts = append(opts, domain.AggregationOption{Value: v, Label: v, Count: n})
		}
		sort.Slice(opts, func(i, j int) bool {
			if opts[i].Count != opts[j].Count {
				return opts[i].Count > opts[j].Count
			}
			return opts[i].Value < opts[j].Value
		})
		aggs = append(aggs, domain.Aggregation{Field: field, Label: field, Options: opts})
	}
	return aggs
}

// sortDocuments orders by the requested field. Relevance has no meaning
// here, so it falls back to document id order.
func sortDocuments(docs []domain.Document, field, dir string) {
	desc := dir == domain.SortDesc
	if field == "" || field == domain.SortRelevance {
		sort.Slice(docs, func(i, j int) bool { return docs[i].ID() < docs[j].ID() })
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		c := compare(docs[i][field], docs[j][field])
		if c == 0 {
			return docs[i].ID() < docs[j].ID()
		}
		if desc {
			return c > 0
		}
		return c < 0
	})
}

func compare(a, b any) int {
	fa, okA := number(a)
	fb, okB := number(b)
	if okA && okB {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	return strings.Compare(scalar(a), scalar(b))
}

func matchesText(doc domain.Document, queryLower string) bool {
	for _, v := range doc {
		for _, item := range valuesOf(v) {
			if s, ok := item.(string); ok && strings.Contains(strings.ToLower(s), queryLower) {
				return true
			}
		}
	}
	return false
}

func valuesOf(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	default:
		return []any{v}
	}
}

func scalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "1"
		}
		return "0"
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprint(t)
	}
}

func number(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
