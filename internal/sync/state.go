package sync

import (
	"sync"
	"time"
)

// State is the only mutable structure shared between the dispatcher,
// the workers and the auditor. It tracks which remote keys currently
// have a task running (at most one per key) and the time of the last
// successful operation per key.
type State struct {
	mu       sync.Mutex
	inFlight map[string]struct{}
	lastGood map[string]time.Time
}

func NewState() *State {
	return &State{
		inFlight: make(map[string]struct{}),
		lastGood: make(map[string]time.Time),
	}
}

// TryAcquire marks key as in-flight. It returns false when a task for
// the key is already running.
func (s *State) TryAcquire(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inFlight[key]; ok {
		return false
	}
	s.inFlight[key] = struct{}{}
	return true
}

func (s *State) Release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, key)
}

func (s *State) InFlight(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inFlight[key]
	return ok
}

func (s *State) InFlightCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inFlight)
}

func (s *State) InFlightKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.inFlight))
	for key := range s.inFlight {
		keys = append(keys, key)
	}
	return keys
}

func (s *State) MarkGood(key string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastGood[key] = at
}

func (s *State) Forget(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lastGood, key)
}

func (s *State) LastGood(key string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.lastGood[key]
	return at, ok
}
