package source

import (
	"context"
	"sync"

	"github.com/utafrali/gally-search/internal/domain"
)

// Static serves a fixed document list, the same for every website. It backs
// local development and tests.
type Static struct {
	mu   sync.RWMutex
	docs []domain.Document
}

// NewStatic creates a static source.
func NewStatic(docs ...domain.Document) *Static {
	return &Static{docs: docs}
}

// Put adds or replaces documents by id.
func (s *Static) Put(docs ...domain.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, doc := range docs {
		replaced := false
		for i := range s.docs {
			if s.docs[i].ID() == doc.ID() {
				s.docs[i] = doc
				replaced = true
				break
			}
		}
		if !replaced {
			s.docs = append(s.docs, doc)
		}
	}
}

// Remove deletes documents by id.
func (s *Static) Remove(ids ...string) {
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.docs[:0]
	for _, doc := range s.docs {
		if !drop[doc.ID()] {
			kept = append(kept, doc)
		}
	}
	s.docs = kept
}

func (s *Static) Count(_ context.Context, _ int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs), nil
}

func (s *Static) Documents(_ context.Context, q Query) ([]domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(q.IDs) > 0 {
		byID := make(map[string]domain.Document, len(s.docs))
		for _, doc := range s.docs {
			byID[doc.ID()] = doc
		}
		out := make([]domain.Document, 0, len(q.IDs))
		for _, id := range q.IDs {
			if doc, ok := byID[id]; ok {
				out = append(out, doc)
			}
		}
		return out, nil
	}

	if q.PageSize <= 0 {
		return append([]domain.Document(nil), s.docs...), nil
	}
	page := q.Page
	if page < 1 {
		page = 1
	}
	start := (page - 1) * q.PageSize
	if start >= len(s.docs) {
		return []domain.Document{}, nil
	}
	end := start + q.PageSize
	if end > len(s.docs) {
		end = len(s.docs)
	}
	return append([]domain.Document(nil), s.docs[start:end]...), nil
}
