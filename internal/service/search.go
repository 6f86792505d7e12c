package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/utafrali/gally-search/internal/domain"
	"github.com/utafrali/gally-search/internal/engine"
	"github.com/utafrali/gally-search/internal/expression"
	"github.com/utafrali/gally-search/internal/translator"
	apperrors "github.com/utafrali/gally-search/pkg/errors"
	"github.com/utafrali/gally-search/pkg/pagination"
)

// Search defaults.
const (
	DefaultEntityType = "product"
	DefaultPerPage    = pagination.DefaultPerPage
	MaxPerPage        = pagination.MaxPerPage
)

// SearchService implements the business logic for search operations: host
// filter expressions are translated to the Gally DSL before reaching the
// engine.
type SearchService struct {
	searcher       engine.Searcher
	product        *translator.Translator
	document       *translator.Translator
	defaultCatalog string
	logger         *slog.Logger
}

// NewSearchService creates a new search service. Aliases map host attribute
// names to Gally field codes for both dialects.
func NewSearchService(searcher engine.Searcher, aliases map[string]string, defaultCatalog string, logger *slog.Logger) *SearchService {
	if aliases == nil {
		aliases = translator.DefaultAliases()
	}
	return &SearchService{
		searcher:       searcher,
		product:        translator.New(translator.WithDialect(translator.ProductDialect{}), translator.WithAliases(aliases)),
		document:       translator.New(translator.WithDialect(translator.DocumentDialect{}), translator.WithAliases(aliases)),
		defaultCatalog: defaultCatalog,
		logger:         logger,
	}
}

func (s *SearchService) translatorFor(entityType string) *translator.Translator {
	if _, ok := translator.DialectFor(entityType).(translator.ProductDialect); ok {
		return s.product
	}
	return s.document
}

// Search executes a search query against the search engine.
func (s *SearchService) Search(ctx context.Context, query *domain.SearchQuery) (*domain.SearchResult, error) {
	if query.EntityType == "" {
		query.EntityType = DefaultEntityType
	}
	if query.LocalizedCatalog == "" {
		query.LocalizedCatalog = s.defaultCatalog
	}
	if query.LocalizedCatalog == "" {
		return nil, apperrors.InvalidInput("localized_catalog is required")
	}
	if query.Page <= 0 {
		query.Page = 1
	}
	if query.PerPage <= 0 {
		query.PerPage = DefaultPerPage
	}
	if query.PerPage > MaxPerPage {
		query.PerPage = MaxPerPage
	}
	if query.SortBy == "" {
		query.SortBy = domain.SortRelevance
	}
	if query.SortDir == "" {
		query.SortDir = domain.SortDesc
		if query.SortBy != domain.SortRelevance {
			query.SortDir = domain.SortAsc
		}
	}
	if !domain.IsValidSortDir(query.SortDir) {
		return nil, apperrors.InvalidInput(fmt.Sprintf("sort_dir must be %q or %q", domain.SortAsc, domain.SortDesc))
	}

	expr, err := expression.Decode(query.Filter)
	if err != nil {
		return nil, apperrors.InvalidInputCode("INVALID_FILTER", err.Error(), err)
	}
	translated, err := s.translatorFor(query.EntityType).Translate(expr)
	if err != nil {
		return nil, apperrors.InvalidInputCode("INVALID_FILTER", err.Error(), err)
	}

	text := strings.TrimSpace(query.Query)
	if text == "" {
		text = translated.SearchQuery
	}

	req := &domain.SearchRequest{
		EntityType:       query.EntityType,
		LocalizedCatalog: query.LocalizedCatalog,
		Query:            text,
		Filter:           translated.Filter,
		SortBy:           query.SortBy,
		SortDir:          query.SortDir,
		Page:             query.Page,
		PerPage:          query.PerPage,
	}

	result, err := s.searcher.Search(ctx, req)
	if errors.Is(err, engine.ErrIndexNotFound) {
		return nil, apperrors.NotFound("index", query.EntityType+"/"+query.LocalizedCatalog)
	}
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	s.logger.DebugContext(ctx, "search executed",
		slog.String("entity_type", req.EntityType),
		slog.String("localized_catalog", req.LocalizedCatalog),
		slog.String("query", req.Query),
		slog.Int("total", result.Total),
		slog.Int64("took_ms", result.TookMs),
	)

	return result, nil
}
