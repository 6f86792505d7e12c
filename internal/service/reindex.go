package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/utafrali/gally-search/internal/domain"
	"github.com/utafrali/gally-search/internal/queue"
	apperrors "github.com/utafrali/gally-search/pkg/errors"
	"github.com/utafrali/gally-search/pkg/validator"
)

// ReindexService schedules reindex requests on the reindex topic.
type ReindexService struct {
	producer    queue.Producer
	topic       string
	entityTypes []string
	logger      *slog.Logger
}

// NewReindexService creates a reindex service publishing on topic. Requests
// for entity types outside entityTypes are refused; an empty list accepts
// any entity type.
func NewReindexService(producer queue.Producer, topic string, entityTypes []string, logger *slog.Logger) *ReindexService {
	return &ReindexService{producer: producer, topic: topic, entityTypes: entityTypes, logger: logger}
}

// Schedule validates and publishes a reindex request. Job ids and pass
// indices are assigned by the reindex processor and cannot be set by callers.
func (s *ReindexService) Schedule(ctx context.Context, req *domain.ReindexRequest) error {
	if err := validator.Validate(req); err != nil {
		return err
	}
	if len(s.entityTypes) > 0 && !slices.Contains(s.entityTypes, req.EntityType) {
		return apperrors.InvalidInput(fmt.Sprintf("unknown entity_type %q, expected one of: %s",
			req.EntityType, strings.Join(s.entityTypes, ", ")))
	}
	if req.IsChunk() {
		return apperrors.InvalidInput("job_id is assigned by the reindex processor")
	}
	if req.IndicesByLocale.Len() > 0 {
		return apperrors.InvalidInput("indices_by_locale is assigned by the reindex processor")
	}

	if err := s.producer.Send(ctx, s.topic, req); err != nil {
		return fmt.Errorf("schedule reindex: %w", err)
	}

	s.logger.InfoContext(ctx, "reindex scheduled",
		slog.String("entity_type", req.EntityType),
		slog.Bool("full", req.IsFullReindex()),
		slog.Bool("granulize", req.Granulize),
		slog.Int("entity_ids", len(req.Context.EntityIDs)),
	)
	return nil
}
