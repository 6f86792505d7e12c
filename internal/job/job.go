// Package job tracks parent/child job graphs on top of the message queue.
// A root job is unique per key, owns a number of delayed child jobs and a list
// of dependent jobs that are published once, when the last child succeeds.
package job

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusNew     Status = "new"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

var (
	// ErrJobGraph wraps failures to create, seal or finish a job graph.
	ErrJobGraph = errors.New("job graph error")
	// ErrNotFound is returned by stores for unknown job ids.
	ErrNotFound = errors.New("job not found")
)

// Job is a node of a job graph. Root jobs have RootID 0.
type Job struct {
	ID        int64     `json:"id"`
	RootID    int64     `json:"root_id,omitempty"`
	Name      string    `json:"name"`
	UniqueKey string    `json:"unique_key,omitempty"`
	Status    Status    `json:"status"`
	Sealed    bool      `json:"sealed"`
	Pending   int       `json:"pending"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsRoot reports whether the job is the root of its graph.
func (j *Job) IsRoot() bool {
	return j.RootID == 0
}

// Dependent is a message published once its root job finishes.
type Dependent struct {
	Topic string          `json:"topic"`
	Body  json.RawMessage `json:"body"`
}

// Store persists job graphs. Implementations must make CompleteChild and Seal
// atomic: the root moves to success exactly once, and the call that moves it
// is the only one reporting rootDone.
type Store interface {
	// CreateRoot creates a running root job for uniqueKey. When a live root
	// already holds the key it is returned with created=false.
	CreateRoot(ctx context.Context, name, uniqueKey string) (root *Job, created bool, err error)
	// CreateChild adds a pending child to an unsealed root.
	CreateChild(ctx context.Context, rootID int64, name string) (*Job, error)
	Get(ctx context.Context, id int64) (*Job, error)
	// Start marks a child as running. Finished children are left untouched.
	Start(ctx context.Context, id int64) error
	// Fail marks a child as failed. The child stays pending and may run again.
	Fail(ctx context.Context, id int64) error
	// CompleteChild marks a child as succeeded and reports whether this
	// completion finished the root.
	CompleteChild(ctx context.Context, id int64) (rootDone bool, err error)
	// Seal closes a root for new children and reports whether the root
	// finished because no child is pending.
	Seal(ctx context.Context, rootID int64) (rootDone bool, err error)
	// Abandon fails a root and releases its unique key.
	Abandon(ctx context.Context, rootID int64) error
	SaveDependents(ctx context.Context, rootID int64, deps []Dependent) error
	Dependents(ctx context.Context, rootID int64) ([]Dependent, error)
}
