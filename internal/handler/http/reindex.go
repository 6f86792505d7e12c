package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/utafrali/gally-search/internal/domain"
	"github.com/utafrali/gally-search/internal/service"
	"github.com/utafrali/gally-search/pkg/httputil"
	"github.com/utafrali/gally-search/pkg/validator"
)

// ReindexHandler schedules reindex passes.
type ReindexHandler struct {
	service *service.ReindexService
	logger  *slog.Logger
}

// NewReindexHandler creates a new reindex HTTP handler.
func NewReindexHandler(svc *service.ReindexService, logger *slog.Logger) *ReindexHandler {
	return &ReindexHandler{service: svc, logger: logger}
}

// ReindexBody is the JSON body of POST /api/v1/reindex. Without entity ids
// the pass rebuilds every index of the entity type. Granulize defaults to
// true.
type ReindexBody struct {
	EntityType string   `json:"entity_type" validate:"required"`
	WebsiteIDs []int    `json:"website_ids" validate:"dive,gt=0"`
	EntityIDs  []string `json:"entity_ids" validate:"max=10000,dive,required"`
	Granulize  *bool    `json:"granulize"`
}

// Reindex handles POST /api/v1/reindex. The pass runs asynchronously; the
// response only acknowledges that it was queued.
func (h *ReindexHandler) Reindex(w http.ResponseWriter, r *http.Request) {
	var body ReindexBody
	if !httputil.DecodeJSON(w, r, &body, 1<<20) {
		return
	}
	if err := validator.Validate(body); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	granulize := true
	if body.Granulize != nil {
		granulize = *body.Granulize
	}
	req := &domain.ReindexRequest{
		EntityType: body.EntityType,
		Granulize:  granulize,
		Context: domain.ReindexContext{
			WebsiteIDs: body.WebsiteIDs,
			EntityIDs:  body.EntityIDs,
		},
	}

	if err := h.service.Schedule(r.Context(), req); err != nil {
		var valErr *validator.ValidationError
		if errors.As(err, &valErr) {
			httputil.WriteValidationError(w, err)
			return
		}
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusAccepted, httputil.Response{Data: map[string]any{
		"status":          "scheduled",
		"entity_type":     req.EntityType,
		"is_full_reindex": req.IsFullReindex(),
		"granulize":       req.Granulize,
	}})
}
