package notification

import (
	"encoding/json"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

// DefaultLimit bounds both the notification log and the notified-transition set.
const DefaultLimit = 100

// TransitionSet remembers the most recent notified transitions. When full, adding
// a key evicts the oldest one. It is not safe for concurrent use.
//
// It serializes as a JSON array ordered oldest first.
type TransitionSet struct {
	ring  []domain.TransitionKey
	start int
	size  int
	index map[domain.TransitionKey]struct{}
}

func NewTransitionSet(limit int) *TransitionSet {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &TransitionSet{
		ring:  make([]domain.TransitionKey, limit),
		index: make(map[domain.TransitionKey]struct{}, limit),
	}
}

func (s *TransitionSet) Contains(key domain.TransitionKey) bool {
	_, ok := s.index[key]
	return ok
}

// Add records key and reports whether it was new.
func (s *TransitionSet) Add(key domain.TransitionKey) bool {
	if s.Contains(key) {
		return false
	}
	if s.size == len(s.ring) {
		oldest := s.ring[s.start]
		delete(s.index, oldest)
		s.ring[s.start] = key
		s.start = (s.start + 1) % len(s.ring)
	} else {
		s.ring[(s.start+s.size)%len(s.ring)] = key
		s.size++
	}
	s.index[key] = struct{}{}
	return true
}

func (s *TransitionSet) Len() int {
	return s.size
}

// Keys returns the remembered keys, oldest first.
func (s *TransitionSet) Keys() []domain.TransitionKey {
	keys := make([]domain.TransitionKey, 0, s.size)
	for i := 0; i < s.size; i++ {
		keys = append(keys, s.ring[(s.start+i)%len(s.ring)])
	}
	return keys
}

func (s *TransitionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Keys())
}

// UnmarshalJSON replaces the contents with the decoded keys. When the input holds
// more keys than the set's capacity, only the newest are kept.
func (s *TransitionSet) UnmarshalJSON(data []byte) error {
	var keys []domain.TransitionKey
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}
	limit := len(s.ring)
	if limit == 0 {
		limit = DefaultLimit
	}
	*s = *NewTransitionSet(limit)
	for _, k := range keys {
		s.Add(k)
	}
	return nil
}
