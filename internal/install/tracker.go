// Package install promotes the indices of a completed reindex pass.
package install

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/utafrali/gally-search/internal/domain"
	"github.com/utafrali/gally-search/internal/engine"
	"github.com/utafrali/gally-search/internal/queue"
)

// ErrIndexInstall wraps refresh and install failures.
var ErrIndexInstall = errors.New("index install failed")

// Tracker consumes finish messages. Installing an already live index is a
// no-op in every engine, so redelivered finish messages are harmless.
type Tracker struct {
	indices engine.IndexManager
	logger  *slog.Logger
}

// NewTracker creates a tracker.
func NewTracker(indices engine.IndexManager, logger *slog.Logger) *Tracker {
	return &Tracker{indices: indices, logger: logger}
}

// Process handles one finish message. Partial passes wrote to the live
// indices and need no install.
func (t *Tracker) Process(ctx context.Context, msg *queue.Message) queue.Status {
	var finish domain.FinishMessage
	if err := msg.Decode(&finish); err != nil {
		t.logger.ErrorContext(ctx, "finish message rejected",
			slog.String("message_id", msg.ID),
			slog.String("error", err.Error()),
		)
		return queue.REJECT
	}

	if !finish.IsFullReindex {
		t.logger.DebugContext(ctx, "partial reindex finished, nothing to install",
			slog.Int64("root_job_id", finish.RootJobID),
		)
		return queue.ACK
	}

	if err := t.Install(ctx, finish.IndicesByLocale); err != nil {
		t.logger.ErrorContext(ctx, "index install failed",
			slog.Int64("root_job_id", finish.RootJobID),
			slog.String("error", err.Error()),
		)
		return queue.REJECT
	}

	t.logger.InfoContext(ctx, "reindex installed",
		slog.Int64("root_job_id", finish.RootJobID),
		slog.Any("locales", finish.IndicesByLocale.Locales()),
	)
	return queue.ACK
}

// Install refreshes then installs every index, in locale order, and stops
// at the first failure.
func (t *Tracker) Install(ctx context.Context, indices domain.IndicesByLocale) error {
	return indices.Each(func(locale, name string) error {
		if err := t.indices.RefreshIndex(ctx, name); err != nil {
			return fmt.Errorf("%w: refresh %s (%s): %w", ErrIndexInstall, name, locale, err)
		}
		if err := t.indices.InstallIndex(ctx, name); err != nil {
			return fmt.Errorf("%w: install %s (%s): %w", ErrIndexInstall, name, locale, err)
		}
		return nil
	})
}
