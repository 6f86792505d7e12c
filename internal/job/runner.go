package job

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/utafrali/gally-search/internal/queue"
)

// Runner executes unique root jobs and their delayed children.
type Runner struct {
	store    Store
	producer queue.Producer
	logger   *slog.Logger
}

// NewRunner creates a Runner. Dependent jobs are published through producer.
func NewRunner(store Store, producer queue.Producer, logger *slog.Logger) *Runner {
	return &Runner{store: store, producer: producer, logger: logger}
}

// RootScope is handed to the callback of RunUnique.
type RootScope struct {
	runner *Runner
	root   *Job
}

// Job returns the root job.
func (s *RootScope) Job() *Job {
	return s.root
}

// CreateDelayed registers a child job under the root and passes it to fn,
// which is expected to enqueue the message that will run the child.
func (s *RootScope) CreateDelayed(ctx context.Context, name string, fn func(ctx context.Context, child *Job) error) error {
	child, err := s.runner.store.CreateChild(ctx, s.root.ID, name)
	if err != nil {
		return fmt.Errorf("%w: create child %s of job %d: %v", ErrJobGraph, name, s.root.ID, err)
	}
	if err := fn(ctx, child); err != nil {
		return fmt.Errorf("enqueue child job %d: %w", child.ID, err)
	}
	return nil
}

// RunUnique runs fn once per uniqueKey. It returns ran=false without calling
// fn when a root already exists for the key, which is how redelivered
// messages are deduplicated. A redelivery that finds the root finished
// publishes the dependents again, since the seal path may have failed to.
// When fn fails the root is abandoned so that a redelivery can start over.
func (r *Runner) RunUnique(ctx context.Context, uniqueKey, name string, fn func(ctx context.Context, scope *RootScope) error) (bool, error) {
	root, created, err := r.store.CreateRoot(ctx, name, uniqueKey)
	if err != nil {
		return false, fmt.Errorf("%w: create root %s: %v", ErrJobGraph, uniqueKey, err)
	}
	if !created {
		r.logger.InfoContext(ctx, "job already started for key, skipping",
			slog.String("unique_key", uniqueKey),
			slog.Int64("root_job_id", root.ID),
			slog.String("status", string(root.Status)),
		)
		if root.Status == StatusSuccess {
			return false, r.finish(ctx, root.ID)
		}
		return false, nil
	}

	if err := fn(ctx, &RootScope{runner: r, root: root}); err != nil {
		if abandonErr := r.store.Abandon(ctx, root.ID); abandonErr != nil {
			r.logger.ErrorContext(ctx, "failed to abandon root job",
				slog.Int64("root_job_id", root.ID),
				slog.String("error", abandonErr.Error()),
			)
		}
		return false, err
	}

	done, err := r.store.Seal(ctx, root.ID)
	if err != nil {
		return true, fmt.Errorf("%w: seal job %d: %v", ErrJobGraph, root.ID, err)
	}
	if done {
		return true, r.finish(ctx, root.ID)
	}
	return true, nil
}

// RunDelayed runs the child job jobID. A child that already succeeded is not
// run again; if its root is finished the dependents are published again so a
// redelivered message can recover from a failed publication.
func (r *Runner) RunDelayed(ctx context.Context, jobID int64, fn func(ctx context.Context, child *Job) error) error {
	child, err := r.store.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("%w: load job %d: %v", ErrJobGraph, jobID, err)
	}
	if child.IsRoot() {
		return fmt.Errorf("%w: job %d is not a child job", ErrJobGraph, jobID)
	}

	root, err := r.store.Get(ctx, child.RootID)
	if err != nil {
		return fmt.Errorf("%w: load root job %d: %v", ErrJobGraph, child.RootID, err)
	}

	switch {
	case root.Status == StatusFailed:
		r.logger.WarnContext(ctx, "root job abandoned, skipping child",
			slog.Int64("job_id", child.ID),
			slog.Int64("root_job_id", root.ID),
		)
		return nil
	case child.Status == StatusSuccess:
		if root.Status == StatusSuccess {
			return r.finish(ctx, root.ID)
		}
		return nil
	}

	if err := r.store.Start(ctx, child.ID); err != nil {
		return fmt.Errorf("%w: start job %d: %v", ErrJobGraph, child.ID, err)
	}

	if err := fn(ctx, child); err != nil {
		if failErr := r.store.Fail(ctx, child.ID); failErr != nil {
			r.logger.ErrorContext(ctx, "failed to mark job as failed",
				slog.Int64("job_id", child.ID),
				slog.String("error", failErr.Error()),
			)
		}
		return err
	}

	done, err := r.store.CompleteChild(ctx, child.ID)
	if err != nil {
		return fmt.Errorf("%w: complete job %d: %v", ErrJobGraph, child.ID, err)
	}
	if done {
		return r.finish(ctx, root.ID)
	}
	return nil
}

// DependentContext collects the dependent jobs of a root before they are
// saved.
type DependentContext struct {
	rootID int64
	deps   []Dependent
}

// CreateDependentJobContext starts collecting dependents for root.
func (r *Runner) CreateDependentJobContext(root *Job) *DependentContext {
	return &DependentContext{rootID: root.ID}
}

// AddDependentJob appends a message to publish on topic once the root
// finishes.
func (dc *DependentContext) AddDependentJob(topic string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode dependent job for %s: %w", topic, err)
	}
	dc.deps = append(dc.deps, Dependent{Topic: topic, Body: data})
	return nil
}

// SaveDependentJob persists the collected dependents. It must be called
// before any child is created, so that a fast child cannot finish the root
// with no dependent registered.
func (r *Runner) SaveDependentJob(ctx context.Context, dc *DependentContext) error {
	if err := r.store.SaveDependents(ctx, dc.rootID, dc.deps); err != nil {
		return fmt.Errorf("%w: save dependents of job %d: %v", ErrJobGraph, dc.rootID, err)
	}
	return nil
}

func (r *Runner) finish(ctx context.Context, rootID int64) error {
	deps, err := r.store.Dependents(ctx, rootID)
	if err != nil {
		return fmt.Errorf("%w: load dependents of job %d: %v", ErrJobGraph, rootID, err)
	}
	for _, d := range deps {
		if err := r.producer.Send(ctx, d.Topic, d.Body); err != nil {
			return fmt.Errorf("%w: publish dependent %s of job %d: %v", ErrJobGraph, d.Topic, rootID, err)
		}
	}
	r.logger.InfoContext(ctx, "root job finished",
		slog.Int64("root_job_id", rootID),
		slog.Int("dependents", len(deps)),
	)
	return nil
}
