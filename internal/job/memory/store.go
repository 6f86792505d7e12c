// Package memory provides an in-process job store.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/utafrali/gally-search/internal/job"
)

// Store keeps job graphs in memory. It is safe for concurrent use.
type Store struct {
	mu         sync.Mutex
	seq        int64
	jobs       map[int64]*job.Job
	unique     map[string]int64
	dependents map[int64][]job.Dependent
	now        func() time.Time
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		jobs:       make(map[int64]*job.Job),
		unique:     make(map[string]int64),
		dependents: make(map[int64][]job.Dependent),
		now:        time.Now,
	}
}

func (s *Store) CreateRoot(_ context.Context, name, uniqueKey string) (*job.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.unique[uniqueKey]; ok {
		existing := *s.jobs[id]
		return &existing, false, nil
	}

	root := s.add(&job.Job{Name: name, UniqueKey: uniqueKey, Status: job.StatusRunning})
	s.unique[uniqueKey] = root.ID
	out := *root
	return &out, true, nil
}

func (s *Store) CreateChild(_ context.Context, rootID int64, name string) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	root, err := s.root(rootID)
	if err != nil {
		return nil, err
	}
	if root.Sealed {
		return nil, fmt.Errorf("job %d is sealed", rootID)
	}
	root.Pending++
	root.UpdatedAt = s.now()

	child := s.add(&job.Job{RootID: rootID, Name: name, Status: job.StatusNew})
	out := *child
	return &out, nil
}

func (s *Store) Get(_ context.Context, id int64) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %d: %w", id, job.ErrNotFound)
	}
	out := *j
	return &out, nil
}

func (s *Store) Start(_ context.Context, id int64) error {
	return s.setChildStatus(id, job.StatusRunning)
}

func (s *Store) Fail(_ context.Context, id int64) error {
	return s.setChildStatus(id, job.StatusFailed)
}

func (s *Store) CompleteChild(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	child, ok := s.jobs[id]
	if !ok {
		return false, fmt.Errorf("job %d: %w", id, job.ErrNotFound)
	}
	if child.Status == job.StatusSuccess {
		return false, nil
	}
	child.Status = job.StatusSuccess
	child.UpdatedAt = s.now()

	root, err := s.root(child.RootID)
	if err != nil {
		return false, err
	}
	root.Pending--
	return s.tryFinish(root), nil
}

func (s *Store) Seal(_ context.Context, rootID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	root, err := s.root(rootID)
	if err != nil {
		return false, err
	}
	if root.Sealed {
		return false, nil
	}
	root.Sealed = true
	root.UpdatedAt = s.now()
	return s.tryFinish(root), nil
}

func (s *Store) Abandon(_ context.Context, rootID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	root, err := s.root(rootID)
	if err != nil {
		return err
	}
	root.Status = job.StatusFailed
	root.UpdatedAt = s.now()
	if s.unique[root.UniqueKey] == root.ID {
		delete(s.unique, root.UniqueKey)
	}
	return nil
}

func (s *Store) SaveDependents(_ context.Context, rootID int64, deps []job.Dependent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.root(rootID); err != nil {
		return err
	}
	s.dependents[rootID] = append(s.dependents[rootID], deps...)
	return nil
}

func (s *Store) Dependents(_ context.Context, rootID int64) ([]job.Dependent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]job.Dependent(nil), s.dependents[rootID]...), nil
}

func (s *Store) add(j *job.Job) *job.Job {
	s.seq++
	now := s.now()
	j.ID = s.seq
	j.CreatedAt = now
	j.UpdatedAt = now
	s.jobs[j.ID] = j
	return j
}

func (s *Store) root(id int64) (*job.Job, error) {
	root, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("root job %d: %w", id, job.ErrNotFound)
	}
	if !root.IsRoot() {
		return nil, fmt.Errorf("job %d is not a root job", id)
	}
	return root, nil
}

func (s *Store) tryFinish(root *job.Job) bool {
	if !root.Sealed || root.Pending > 0 || root.Status != job.StatusRunning {
		return false
	}
	root.Status = job.StatusSuccess
	root.UpdatedAt = s.now()
	return true
}

func (s *Store) setChildStatus(id int64, status job.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("job %d: %w", id, job.ErrNotFound)
	}
	if j.Status == job.StatusSuccess {
		return nil
	}
	j.Status = status
	j.UpdatedAt = s.now()
	return nil
}
