// Package memory implements an in-process visited-state store, used when no
// database is configured. State lives for the process only.
package memory

import (
	"context"
	"sync"

	"github.com/ourcityhealth/citypulse/internal/pipeline"
)

// Store is a pipeline.VisitedStore held in a mutex-guarded map.
type Store struct {
	mu       sync.Mutex
	visited  map[string]struct{}
	counters pipeline.CumulativeCounters
}

func New() *Store {
	return &Store{visited: make(map[string]struct{})}
}

func (s *Store) Has(_ context.Context, url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.visited[url]
	return ok
}

func (s *Store) Put(_ context.Context, url string, kind pipeline.Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.visited[url]; ok {
		return
	}
	s.visited[url] = struct{}{}
	switch kind {
	case pipeline.KindArticle:
		s.counters.ArticlesDistinct++
	case pipeline.KindDiscussionPost:
		s.counters.PostsDistinct++
	}
}

func (s *Store) AddComments(_ context.Context, n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters.CommentsTotal += int64(n)
}

func (s *Store) Cumulative(_ context.Context) pipeline.CumulativeCounters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}
