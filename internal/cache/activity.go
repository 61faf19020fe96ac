package cache

import (
	"sync"

	"github.com/nkiryanov/stravadash/internal/models"
)

// ActivityStore holds activities unique by id in first-seen order
type ActivityStore struct {
	mu         sync.RWMutex
	activities []models.Activity
	index      map[int64]int // id -> position in activities
}

func NewActivityStore() *ActivityStore {
	return &ActivityStore{index: make(map[int64]int)}
}

// Get returns a copy of current snapshot
func (s *ActivityStore) Get() []models.Activity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Activity, len(s.activities))
	copy(out, s.activities)
	return out
}

// Set replaces all activities
// No validation is done: caller is responsible for uniqueness
func (s *ActivityStore) Set(activities []models.Activity) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.activities = make([]models.Activity, len(activities))
	copy(s.activities, activities)

	s.index = make(map[int64]int, len(activities))
	for i, a := range s.activities {
		s.index[a.ID] = i
	}
}

// Merge appends activities with unseen ids and returns how many were added
// Existing entries are never overwritten: first seen wins
func (s *ActivityStore) Merge(page []models.Activity) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.index == nil {
		s.index = make(map[int64]int, len(page))
	}

	added := 0
	for _, a := range page {
		if _, ok := s.index[a.ID]; ok {
			continue
		}
		s.index[a.ID] = len(s.activities)
		s.activities = append(s.activities, a)
		added++
	}

	return added
}

func (s *ActivityStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.activities)
}

func (s *ActivityStore) Find(id int64) (models.Activity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index[id]
	if !ok {
		return models.Activity{}, false
	}
	return s.activities[i], true
}
