package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/gally-search/internal/domain"
	"github.com/utafrali/gally-search/internal/engine/memory"
	"github.com/utafrali/gally-search/internal/queue"
	"github.com/utafrali/gally-search/internal/translator"
	apperrors "github.com/utafrali/gally-search/pkg/errors"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// capturingSearcher records the last request it received.
type capturingSearcher struct {
	last *domain.SearchRequest
	err  error
}

func (c *capturingSearcher) Search(_ context.Context, req *domain.SearchRequest) (*domain.SearchResult, error) {
	c.last = req
	if c.err != nil {
		return nil, c.err
	}
	return &domain.SearchResult{Items: []domain.Document{}, Page: req.Page, PerPage: req.PerPage}, nil
}

func seededEngine(t *testing.T) *memory.Engine {
	t.Helper()
	ctx := context.Background()
	eng := memory.New("category__id")
	idx, err := eng.CreateIndex(ctx, "product", "b2c_en")
	require.NoError(t, err)
	require.NoError(t, eng.ExecuteBulk(ctx, idx.Name, []domain.Document{
		{"id": "1", "name": "Red shirt", "category__id": "10", "price__price": 19.0},
		{"id": "2", "name": "Blue shirt", "category__id": "10", "price__price": 49.0},
		{"id": "3", "name": "Red hat", "category__id": "20", "price__price": 9.0},
	}))
	require.NoError(t, eng.InstallIndex(ctx, idx.Name))
	return eng
}

func TestSearch_TranslatesFilterForEngine(t *testing.T) {
	svc := NewSearchService(seededEngine(t), nil, "b2c_en", newTestLogger())

	result, err := svc.Search(context.Background(), &domain.SearchQuery{
		Filter: json.RawMessage(`{"and":[
			{"field":"category__id","op":"=","value":"10"},
			{"field":"decimal.price__price","op":"<=","value":20}
		]}`),
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.Total)
	assert.Equal(t, "1", result.Items[0].ID())
	require.Len(t, result.Aggregations, 1)
	assert.Equal(t, "category__id", result.Aggregations[0].Field)
}

func TestSearch_AllTextBecomesQuery(t *testing.T) {
	searcher := &capturingSearcher{}
	svc := NewSearchService(searcher, nil, "b2c_en", newTestLogger())

	_, err := svc.Search(context.Background(), &domain.SearchQuery{
		Filter: json.RawMessage(`{"and":[
			{"field":"all_text","op":"CONTAINS","value":"shirt"},
			{"field":"category__id","op":"=","value":"10"}
		]}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "shirt", searcher.last.Query)
	assert.Equal(t, map[string]any{"category__id": translator.Filter{"eq": "10"}}, searcher.last.Filter)
}

func TestSearch_ExplicitQueryWins(t *testing.T) {
	searcher := &capturingSearcher{}
	svc := NewSearchService(searcher, nil, "b2c_en", newTestLogger())

	_, err := svc.Search(context.Background(), &domain.SearchQuery{
		Query:  " hat ",
		Filter: json.RawMessage(`{"field":"all_text","op":"CONTAINS","value":"shirt"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "hat", searcher.last.Query)
	assert.Nil(t, searcher.last.Filter)
}

func TestSearch_DocumentDialectForOtherEntities(t *testing.T) {
	searcher := &capturingSearcher{}
	svc := NewSearchService(searcher, nil, "b2c_en", newTestLogger())

	_, err := svc.Search(context.Background(), &domain.SearchQuery{
		EntityType: "category",
		Filter:     json.RawMessage(`{"field":"names","op":"=","value":"Shirts"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		translator.KeyEqual: translator.Filter{"field": "name", "eq": "Shirts"},
	}, searcher.last.Filter)
}

func TestSearch_Defaults(t *testing.T) {
	searcher := &capturingSearcher{}
	svc := NewSearchService(searcher, nil, "b2c_en", newTestLogger())

	_, err := svc.Search(context.Background(), &domain.SearchQuery{PerPage: 500})
	require.NoError(t, err)
	assert.Equal(t, DefaultEntityType, searcher.last.EntityType)
	assert.Equal(t, "b2c_en", searcher.last.LocalizedCatalog)
	assert.Equal(t, 1, searcher.last.Page)
	assert.Equal(t, MaxPerPage, searcher.last.PerPage)
	assert.Equal(t, domain.SortRelevance, searcher.last.SortBy)
	assert.Equal(t, domain.SortDesc, searcher.last.SortDir)
}

func TestSearch_InvalidFilter(t *testing.T) {
	svc := NewSearchService(&capturingSearcher{}, nil, "b2c_en", newTestLogger())

	_, err := svc.Search(context.Background(), &domain.SearchQuery{Filter: json.RawMessage(`{"and":[]}`)})
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "INVALID_FILTER", appErr.Code)
	assert.Equal(t, http.StatusBadRequest, apperrors.HTTPStatus(err))
}

func TestSearch_InvalidSortDir(t *testing.T) {
	svc := NewSearchService(&capturingSearcher{}, nil, "b2c_en", newTestLogger())

	_, err := svc.Search(context.Background(), &domain.SearchQuery{SortDir: "sideways"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestSearch_MissingCatalog(t *testing.T) {
	svc := NewSearchService(&capturingSearcher{}, nil, "", newTestLogger())

	_, err := svc.Search(context.Background(), &domain.SearchQuery{})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestSearch_UnknownIndexIsNotFound(t *testing.T) {
	svc := NewSearchService(memory.New(), nil, "b2c_en", newTestLogger())

	_, err := svc.Search(context.Background(), &domain.SearchQuery{})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestSearch_EngineErrorIsWrapped(t *testing.T) {
	boom := errors.New("gally down")
	svc := NewSearchService(&capturingSearcher{err: boom}, nil, "b2c_en", newTestLogger())

	_, err := svc.Search(context.Background(), &domain.SearchQuery{})
	assert.ErrorIs(t, err, boom)
}

// ---------------------------------------------------------------------------
// ReindexService
// ---------------------------------------------------------------------------

func TestReindexService_Schedule(t *testing.T) {
	broker := queue.NewBroker()
	svc := NewReindexService(broker, "gally.search.reindex", []string{"product", "category"}, newTestLogger())

	err := svc.Schedule(context.Background(), &domain.ReindexRequest{
		EntityType: "product",
		Granulize:  true,
		Context:    domain.ReindexContext{WebsiteIDs: []int{1}},
	})
	require.NoError(t, err)

	sent := broker.Sent("gally.search.reindex")
	require.Len(t, sent, 1)
	var req domain.ReindexRequest
	require.NoError(t, json.Unmarshal(sent[0].Body, &req))
	assert.Equal(t, "product", req.EntityType)
	assert.True(t, req.Granulize)
	assert.Equal(t, []int{1}, req.Context.WebsiteIDs)
}

func TestReindexService_RejectsInvalidRequests(t *testing.T) {
	broker := queue.NewBroker()
	svc := NewReindexService(broker, "gally.search.reindex", []string{"product", "category"}, newTestLogger())
	ctx := context.Background()

	assert.Error(t, svc.Schedule(ctx, &domain.ReindexRequest{}))
	assert.ErrorIs(t, svc.Schedule(ctx, &domain.ReindexRequest{EntityType: "cms_page"}), apperrors.ErrInvalidInput)
	assert.ErrorIs(t, svc.Schedule(ctx, &domain.ReindexRequest{EntityType: "product", JobID: 3}), apperrors.ErrInvalidInput)
	assert.ErrorIs(t, svc.Schedule(ctx, &domain.ReindexRequest{
		EntityType:      "product",
		IndicesByLocale: domain.NewIndicesByLocale("en", "idx"),
	}), apperrors.ErrInvalidInput)
	assert.Empty(t, broker.Sent("gally.search.reindex"))
}
