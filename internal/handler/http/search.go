package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/utafrali/gally-search/internal/domain"
	"github.com/utafrali/gally-search/internal/service"
	"github.com/utafrali/gally-search/pkg/httputil"
	"github.com/utafrali/gally-search/pkg/pagination"
	"github.com/utafrali/gally-search/pkg/validator"
)

// maxSearchBody bounds POST /api/v1/search bodies; filter trees are small.
const maxSearchBody = 256 << 10

// SearchHandler handles HTTP requests for search endpoints.
type SearchHandler struct {
	service *service.SearchService
	logger  *slog.Logger
}

// NewSearchHandler creates a new search HTTP handler.
func NewSearchHandler(svc *service.SearchService, logger *slog.Logger) *SearchHandler {
	return &SearchHandler{
		service: svc,
		logger:  logger,
	}
}

// SearchBody is the JSON body of POST /api/v1/search. Filter is a host
// expression tree, e.g. {"and":[{"field":"category__id","op":"=","value":"3"}]}.
type SearchBody struct {
	EntityType       string          `json:"entity_type"`
	LocalizedCatalog string          `json:"localized_catalog"`
	Query            string          `json:"query"`
	Filter           json.RawMessage `json:"filter,omitempty"`
	SortBy           string          `json:"sort_by"`
	SortDir          string          `json:"sort_dir" validate:"omitempty,oneof=asc desc"`
	Page             int             `json:"page" validate:"gte=0"`
	PerPage          int             `json:"per_page" validate:"gte=0,lte=100"`
}

// Search handles GET /api/v1/search. The filter expression is passed as a
// JSON encoded "filter" query parameter.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := pagination.FromRequest(r)

	query := &domain.SearchQuery{
		EntityType:       q.Get("entity_type"),
		LocalizedCatalog: q.Get("localized_catalog"),
		Query:            strings.TrimSpace(q.Get("q")),
		SortBy:           q.Get("sort_by"),
		SortDir:          strings.ToLower(q.Get("sort_dir")),
		Page:             params.Page,
		PerPage:          params.PerPage,
	}
	if raw := strings.TrimSpace(q.Get("filter")); raw != "" {
		if !json.Valid([]byte(raw)) {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
				Error: &httputil.ErrorResponse{Code: "INVALID_PARAMETER", Message: "filter must be a JSON expression"},
			})
			return
		}
		query.Filter = json.RawMessage(raw)
	}

	h.search(w, r, query)
}

// SearchPost handles POST /api/v1/search.
func (h *SearchHandler) SearchPost(w http.ResponseWriter, r *http.Request) {
	var body SearchBody
	if !httputil.DecodeJSON(w, r, &body, maxSearchBody) {
		return
	}
	if err := validator.Validate(body); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	h.search(w, r, &domain.SearchQuery{
		EntityType:       body.EntityType,
		LocalizedCatalog: body.LocalizedCatalog,
		Query:            body.Query,
		Filter:           body.Filter,
		SortBy:           body.SortBy,
		SortDir:          body.SortDir,
		Page:             body.Page,
		PerPage:          body.PerPage,
	})
}

func (h *SearchHandler) search(w http.ResponseWriter, r *http.Request, query *domain.SearchQuery) {
	result, err := h.service.Search(r.Context(), query)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: result})
}
