// Package reindex turns reindex messages into index writes. A message is
// either executed inline or fanned out into chunk jobs under a unique root
// job; the root's finish job hands the pass indices over for install.
package reindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/utafrali/gally-search/internal/domain"
	"github.com/utafrali/gally-search/internal/job"
	"github.com/utafrali/gally-search/internal/queue"
	pkgkafka "github.com/utafrali/gally-search/pkg/kafka"
	"github.com/utafrali/gally-search/pkg/validator"
)

// Topics of the reindex flow.
var (
	TopicReindex         = pkgkafka.Topic("search", "reindex")
	TopicReindexFinished = pkgkafka.Topic("search", "reindex_finished")
)

// Processing paths, used in logs and metrics.
const (
	pathChunk     = "chunk"
	pathDirect    = "direct"
	pathInline    = "inline"
	pathGranulize = "granulize"
	pathDuplicate = "duplicate"
)

// ErrMissingMessageID is returned for granulized messages without a stable id.
var ErrMissingMessageID = errors.New("reindex message has no id")

// PassOpener opens a reindex pass.
type PassOpener interface {
	BeforeReindex(ctx context.Context, req *domain.ReindexRequest) (*Pass, error)
}

// ChunkIndexer executes one chunk of a pass.
type ChunkIndexer interface {
	IndexChunk(ctx context.Context, req *domain.ReindexRequest) error
}

// Installer refreshes and installs the indices of a completed full pass.
type Installer interface {
	Install(ctx context.Context, indices domain.IndicesByLocale) error
}

// ProcessorConfig holds the collaborators of a Processor.
type ProcessorConfig struct {
	Passes       PassOpener
	Granularizer Granularizer
	Indexer      ChunkIndexer
	Runner       *job.Runner
	Producer     queue.Producer
	Installer    Installer

	// ReindexTopic and FinishTopic default to TopicReindex and
	// TopicReindexFinished.
	ReindexTopic string
	FinishTopic  string

	// DisableGranularizationCache granularizes a second time before emitting
	// chunks and logs when the two results differ.
	DisableGranularizationCache bool
}

// Processor consumes reindex messages.
type Processor struct {
	cfg    ProcessorConfig
	logger *slog.Logger
}

// NewProcessor creates a reindex processor.
func NewProcessor(cfg ProcessorConfig, logger *slog.Logger) *Processor {
	if cfg.ReindexTopic == "" {
		cfg.ReindexTopic = TopicReindex
	}
	if cfg.FinishTopic == "" {
		cfg.FinishTopic = TopicReindexFinished
	}
	return &Processor{cfg: cfg, logger: logger}
}

// Process handles one reindex message. Errors are logged and answered with
// REJECT; redelivery is left to the broker.
func (p *Processor) Process(ctx context.Context, msg *queue.Message) queue.Status {
	var req domain.ReindexRequest
	if err := msg.Decode(&req); err != nil {
		return p.reject(ctx, msg, "decode", err)
	}
	if err := validator.Validate(&req); err != nil {
		return p.reject(ctx, msg, "validate", err)
	}

	path, err := p.dispatch(ctx, msg, &req)
	if err != nil {
		return p.reject(ctx, msg, path, err)
	}

	messagesProcessed.WithLabelValues(path, queue.ACK.String()).Inc()
	p.logger.DebugContext(ctx, "reindex message processed",
		slog.String("message_id", msg.ID),
		slog.String("entity_type", req.EntityType),
		slog.String("path", path),
	)
	return queue.ACK
}

func (p *Processor) reject(ctx context.Context, msg *queue.Message, path string, err error) queue.Status {
	messagesProcessed.WithLabelValues(path, queue.REJECT.String()).Inc()
	p.logger.ErrorContext(ctx, "reindex message rejected",
		slog.String("message_id", msg.ID),
		slog.String("path", path),
		slog.String("error", err.Error()),
	)
	return queue.REJECT
}

func (p *Processor) dispatch(ctx context.Context, msg *queue.Message, req *domain.ReindexRequest) (string, error) {
	if req.IsChunk() {
		return pathChunk, p.cfg.Runner.RunDelayed(ctx, req.JobID, func(ctx context.Context, _ *job.Job) error {
			return p.cfg.Indexer.IndexChunk(ctx, req)
		})
	}

	if !req.Granulize {
		return pathDirect, p.runInline(ctx, req, []domain.ReindexRequest{*req})
	}

	chunks, err := p.cfg.Granularizer.Granularize(ctx, req)
	if err != nil {
		return pathGranulize, fmt.Errorf("granularize: %w", err)
	}
	if len(chunks) <= 1 {
		return pathInline, p.runInline(ctx, req, chunks)
	}

	if msg.ID == "" {
		return pathGranulize, ErrMissingMessageID
	}
	ran, err := p.cfg.Runner.RunUnique(ctx, msg.ID, "gally_reindex:"+req.EntityType, func(ctx context.Context, scope *job.RootScope) error {
		return p.fanOut(ctx, scope, req, chunks)
	})
	if err != nil {
		return pathGranulize, err
	}
	if !ran {
		return pathDuplicate, nil
	}
	return pathGranulize, nil
}

// runInline executes the chunks in the calling goroutine. No chunk means no
// work at all, not even the pass hook.
func (p *Processor) runInline(ctx context.Context, req *domain.ReindexRequest, chunks []domain.ReindexRequest) error {
	if len(chunks) == 0 {
		p.logger.InfoContext(ctx, "nothing to reindex", slog.String("entity_type", req.EntityType))
		return nil
	}

	pass, err := p.cfg.Passes.BeforeReindex(ctx, req)
	if err != nil {
		return err
	}
	for i := range chunks {
		chunk := chunks[i]
		chunk.IndicesByLocale = pass.Indices
		if err := p.cfg.Indexer.IndexChunk(ctx, &chunk); err != nil {
			return err
		}
	}
	if !pass.Full {
		return nil
	}
	if err := p.cfg.Installer.Install(ctx, pass.Indices); err != nil {
		return fmt.Errorf("install inline pass: %w", err)
	}
	return nil
}

// fanOut opens the pass, registers the finish job, then enqueues one child
// message per chunk. The finish job is registered first so that it exists
// whenever the last child completes.
func (p *Processor) fanOut(ctx context.Context, scope *job.RootScope, req *domain.ReindexRequest, chunks []domain.ReindexRequest) error {
	pass, err := p.cfg.Passes.BeforeReindex(ctx, req)
	if err != nil {
		return err
	}

	root := scope.Job()
	dc := p.cfg.Runner.CreateDependentJobContext(root)
	if err := dc.AddDependentJob(p.cfg.FinishTopic, domain.FinishMessage{
		RootJobID:       root.ID,
		IndicesByLocale: pass.Indices,
		IsFullReindex:   pass.Full,
	}); err != nil {
		return err
	}
	if err := p.cfg.Runner.SaveDependentJob(ctx, dc); err != nil {
		return err
	}

	if p.cfg.DisableGranularizationCache {
		again, err := p.cfg.Granularizer.Granularize(ctx, req)
		if err != nil {
			return fmt.Errorf("granularize: %w", err)
		}
		if len(again) != len(chunks) {
			p.logger.WarnContext(ctx, "granularization mismatch",
				slog.String("entity_type", req.EntityType),
				slog.Int("counted", len(chunks)),
				slog.Int("emitted", len(again)),
			)
		}
		chunks = again
	}

	for i := range chunks {
		chunk := chunks[i]
		chunk.IndicesByLocale = pass.Indices
		err := scope.CreateDelayed(ctx, "gally_reindex_chunk:"+req.EntityType, func(ctx context.Context, child *job.Job) error {
			chunk.JobID = child.ID
			return p.cfg.Producer.Send(ctx, p.cfg.ReindexTopic, chunk)
		})
		if err != nil {
			return err
		}
		chunksEnqueued.WithLabelValues(req.EntityType).Inc()
	}

	p.logger.InfoContext(ctx, "reindex fanned out",
		slog.Int64("root_job_id", root.ID),
		slog.String("entity_type", req.EntityType),
		slog.Int("chunks", len(chunks)),
	)
	return nil
}
