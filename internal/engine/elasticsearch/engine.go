// Package elasticsearch is the host-native fallback backend. Every entity
// type and localized catalog gets timestamped physical indices behind one
// alias; installing an index moves the alias atomically.
package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"

	"github.com/utafrali/gally-search/internal/domain"
	"github.com/utafrali/gally-search/internal/engine"
)

// aliasSeparator splits a physical index name into alias and timestamp.
const aliasSeparator = "__"

// Config holds the engine settings.
type Config struct {
	URL         string
	IndexPrefix string
	// Facets are aggregated with a terms aggregation on every search.
	Facets []string
}

// Engine is an Elasticsearch-backed implementation of engine.Engine.
type Engine struct {
	client *elasticsearch.Client
	prefix string
	facets []string
	logger *slog.Logger
	now    func() time.Time
}

// esSearchResponse is the structure used to decode Elasticsearch search responses.
type esSearchResponse struct {
	Took int `json:"took"`
	Hits struct {
		Total struct {
			Value int `json:"value"`
		} `json:"total"`
		Hits []struct {
			Source domain.Document `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
	Aggregations map[string]struct {
		Buckets []struct {
			Key         any    `json:"key"`
			KeyAsString string `json:"key_as_string"`
			DocCount    int    `json:"doc_count"`
		} `json:"buckets"`
	} `json:"aggregations"`
}

// esBulkResponse is the structure used to decode Elasticsearch bulk responses.
type esBulkResponse struct {
	Errors bool                           `json:"errors"`
	Items  []map[string]esBulkItemOutcome `json:"items"`
}

type esBulkItemOutcome struct {
	ID     string `json:"_id"`
	Status int    `json:"status"`
	Error  struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
}

// esErrorResponse is used to decode Elasticsearch error responses.
type esErrorResponse struct {
	Error struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
	Status int `json:"status"`
}

// New creates a new Elasticsearch engine connected to cfg.URL.
func New(cfg Config, logger *slog.Logger) (*Engine, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.URL},
	})
	if err != nil {
		return nil, fmt.Errorf("elasticsearch: failed to create client: %w", err)
	}
	return NewWithClient(client, cfg, logger), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *elasticsearch.Client, cfg Config, logger *slog.Logger) *Engine {
	prefix := cfg.IndexPrefix
	if prefix == "" {
		prefix = DefaultIndexPrefix
	}
	return &Engine{
		client: client,
		prefix: prefix,
		facets: cfg.Facets,
		logger: logger,
		now:    time.Now,
	}
}

// Ping checks whether the Elasticsearch cluster is reachable.
func (e *Engine) Ping(ctx context.Context) error {
	res, err := e.client.Ping(e.client.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("elasticsearch ping: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		return fmt.Errorf("elasticsearch ping: unexpected status %s", res.Status())
	}
	return nil
}

// AliasName returns the alias serving an entity type in a catalog.
func (e *Engine) AliasName(entityType, localizedCatalog string) string {
	return strings.ToLower(e.prefix + "_" + localizedCatalog + "_" + entityType)
}

func aliasOf(indexName string) (string, error) {
	idx := strings.LastIndex(indexName, aliasSeparator)
	if idx <= 0 {
		return "", fmt.Errorf("index %q was not created by this engine", indexName)
	}
	return indexName[:idx], nil
}

// decodeError turns an error response into an error value.
func decodeError(op string, status string, body io.Reader) error {
	var errResp esErrorResponse
	if decErr := json.NewDecoder(body).Decode(&errResp); decErr == nil && errResp.Error.Type != "" {
		return fmt.Errorf("%s: %s: %s", op, errResp.Error.Type, errResp.Error.Reason)
	}
	return fmt.Errorf("%s: unexpected status %s", op, status)
}

// CreateIndex creates a timestamped index with the shared mapping.
func (e *Engine) CreateIndex(ctx context.Context, entityType, localizedCatalog string) (*domain.Index, error) {
	now := e.now().UTC()
	name := fmt.Sprintf("%s%s%s_%06d", e.AliasName(entityType, localizedCatalog), aliasSeparator,
		now.Format("20060102_150405"), now.Nanosecond()/1000)

	res, err := e.client.Indices.Create(
		name,
		e.client.Indices.Create.WithBody(strings.NewReader(buildIndexMapping())),
		e.client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch create index: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		return nil, decodeError("elasticsearch create index", res.Status(), res.Body)
	}

	e.logger.InfoContext(ctx, "elasticsearch index created", slog.String("index", name))
	return &domain.Index{
		Name:             name,
		EntityType:       entityType,
		LocalizedCatalog: localizedCatalog,
		Status:           domain.IndexStatusBuilding,
	}, nil
}

// aliasHolders returns the indices currently carrying the alias.
func (e *Engine) aliasHolders(ctx context.Context, alias string) ([]string, error) {
	res, err := e.client.Indices.GetAlias(
		e.client.Indices.GetAlias.WithName(alias),
		e.client.Indices.GetAlias.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch get alias: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if res.IsError() {
		return nil, decodeError("elasticsearch get alias", res.Status(), res.Body)
	}

	var holders map[string]json.RawMessage
	if err := json.NewDecoder(res.Body).Decode(&holders); err != nil {
		return nil, fmt.Errorf("elasticsearch get alias: decode response: %w", err)
	}
	names := make([]string, 0, len(holders))
	for name := range holders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// GetIndexByName resolves the alias of the entity type and catalog.
func (e *Engine) GetIndexByName(ctx context.Context, entityType, localizedCatalog string) (*domain.Index, error) {
	alias := e.AliasName(entityType, localizedCatalog)
	holders, err := e.aliasHolders(ctx, alias)
	if err != nil {
		return nil, err
	}
	if len(holders) == 0 {
		return nil, fmt.Errorf("%w: alias %s", engine.ErrIndexNotFound, alias)
	}
	return &domain.Index{
		Name:             holders[len(holders)-1],
		EntityType:       entityType,
		LocalizedCatalog: localizedCatalog,
		Status:           domain.IndexStatusLive,
	}, nil
}

// ExecuteBulk adds or replaces documents using the bulk NDJSON API.
func (e *Engine) ExecuteBulk(ctx context.Context, indexName string, docs []domain.Document) error {
	if len(docs) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, doc := range docs {
		action := map[string]interface{}{
			"index": map[string]interface{}{"_index": indexName, "_id": doc.ID()},
		}
		if err := enc.Encode(action); err != nil {
			return fmt.Errorf("elasticsearch bulk index: encode action: %w", err)
		}
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("elasticsearch bulk index: encode document: %w", err)
		}
	}

	if err := e.bulk(ctx, "elasticsearch bulk index", indexName, &buf, false); err != nil {
		return err
	}
	e.logger.DebugContext(ctx, "bulk indexed documents", slog.String("index", indexName), slog.Int("count", len(docs)))
	return nil
}

// DeleteDocuments removes documents; missing ids are not an error.
func (e *Engine) DeleteDocuments(ctx context.Context, indexName string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, id := range ids {
		action := map[string]interface{}{
			"delete": map[string]interface{}{"_index": indexName, "_id": id},
		}
		if err := enc.Encode(action); err != nil {
			return fmt.Errorf("elasticsearch bulk delete: encode action: %w", err)
		}
	}
	return e.bulk(ctx, "elasticsearch bulk delete", indexName, &buf, true)
}

func (e *Engine) bulk(ctx context.Context, op, indexName string, body io.Reader, ignoreMissing bool) error {
	res, err := e.client.Bulk(
		body,
		e.client.Bulk.WithIndex(indexName),
		e.client.Bulk.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		return decodeError(op, res.Status(), res.Body)
	}

	var bulkResp esBulkResponse
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	if !bulkResp.Errors {
		return nil
	}

	var errMsgs []string
	for _, item := range bulkResp.Items {
		for _, outcome := range item {
			if ignoreMissing && outcome.Status == http.StatusNotFound {
				continue
			}
			if outcome.Error.Type != "" {
				errMsgs = append(errMsgs, fmt.Sprintf("id=%s: %s: %s", outcome.ID, outcome.Error.Type, outcome.Error.Reason))
			}
		}
	}
	if len(errMsgs) == 0 {
		return nil
	}
	return fmt.Errorf("%s: partial errors: %s", op, strings.Join(errMsgs, "; "))
}

// RefreshIndex refreshes the index.
func (e *Engine) RefreshIndex(ctx context.Context, indexName string) error {
	res, err := e.client.Indices.Refresh(
		e.client.Indices.Refresh.WithIndex(indexName),
		e.client.Indices.Refresh.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("elasticsearch refresh: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		return decodeError("elasticsearch refresh", res.Status(), res.Body)
	}
	return nil
}

// InstallIndex moves the alias onto the index in one aliases call and then
// drops the indices it replaced.
func (e *Engine) InstallIndex(ctx context.Context, indexName string) error {
	alias, err := aliasOf(indexName)
	if err != nil {
		return fmt.Errorf("elasticsearch install: %w", err)
	}
	holders, err := e.aliasHolders(ctx, alias)
	if err != nil {
		return fmt.Errorf("elasticsearch install: %w", err)
	}

	var previous []string
	live := false
	actions := make([]interface{}, 0, len(holders)+1)
	for _, h := range holders {
		if h == indexName {
			live = true
			continue
		}
		previous = append(previous, h)
		actions = append(actions, map[string]interface{}{"remove": map[string]interface{}{"index": h, "alias": alias}})
	}
	if live && len(previous) == 0 {
		return nil
	}
	actions = append(actions, map[string]interface{}{"add": map[string]interface{}{"index": indexName, "alias": alias}})

	data, err := json.Marshal(map[string]interface{}{"actions": actions})
	if err != nil {
		return fmt.Errorf("elasticsearch install: marshal actions: %w", err)
	}
	res, err := e.client.Indices.UpdateAliases(
		bytes.NewReader(data),
		e.client.Indices.UpdateAliases.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("elasticsearch install: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		return decodeError("elasticsearch install", res.Status(), res.Body)
	}

	e.logger.InfoContext(ctx, "elasticsearch index installed",
		slog.String("index", indexName),
		slog.String("alias", alias),
	)

	if len(previous) > 0 {
		if err := e.deleteIndices(ctx, previous); err != nil {
			e.logger.WarnContext(ctx, "failed to delete replaced indices",
				slog.Any("indices", previous),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// deleteIndices removes indices. A 404 response is treated as success.
func (e *Engine) deleteIndices(ctx context.Context, names []string) error {
	res, err := e.client.Indices.Delete(
		names,
		e.client.Indices.Delete.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("elasticsearch delete index: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return decodeError("elasticsearch delete index", res.Status(), res.Body)
	}
	return nil
}

// Search executes a search request against the alias of the entity type
// and catalog.
func (e *Engine) Search(ctx context.Context, req *domain.SearchRequest) (*domain.SearchResult, error) {
	page := req.Page
	if page < 1 {
		page = 1
	}
	perPage := req.PerPage
	if perPage < 1 {
		perPage = 20
	}
	if perPage > 100 {
		perPage = 100
	}

	clause, err := engine.ParseFilter(req.Filter)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search: %w", err)
	}

	data, err := json.Marshal(buildSearchQuery(req, clause, e.facets, page, perPage))
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search: marshal query: %w", err)
	}

	alias := e.AliasName(req.EntityType, req.LocalizedCatalog)
	res, err := e.client.Search(
		e.client.Search.WithIndex(alias),
		e.client.Search.WithBody(bytes.NewReader(data)),
		e.client.Search.WithContext(ctx),
		e.client.Search.WithTrackTotalHits(true),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("elasticsearch search: %w: alias %s", engine.ErrIndexNotFound, alias)
	}
	if res.IsError() {
		return nil, decodeError("elasticsearch search", res.Status(), res.Body)
	}

	var esResp esSearchResponse
	if err := json.NewDecoder(res.Body).Decode(&esResp); err != nil {
		return nil, fmt.Errorf("elasticsearch search: decode response: %w", err)
	}

	items := make([]domain.Document, 0, len(esResp.Hits.Hits))
	for _, hit := range esResp.Hits.Hits {
		items = append(items, hit.Source)
	}

	aggs := make([]domain.Aggregation, 0, len(e.facets))
	for _, field := range e.facets {
		agg, ok := esResp.Aggregations[field]
		if !ok || len(agg.Buckets) == 0 {
			continue
		}
		opts := make([]domain.AggregationOption, 0, len(agg.Buckets))
		for _, b := range agg.Buckets {
			value := b.KeyAsString
			if value == "" {
				value = fmt.Sprint(b.Key)
			}
			opts = append(opts, domain.AggregationOption{Value: value, Label: value, Count: b.DocCount})
		}
		aggs = append(aggs, domain.Aggregation{Field: field, Label: field, Options: opts})
	}

	return &domain.SearchResult{
		Items:        items,
		Total:        esResp.Hits.Total.Value,
		Page:         page,
		PerPage:      perPage,
		Aggregations: aggs,
		TookMs:       int64(esResp.Took),
	}, nil
}
