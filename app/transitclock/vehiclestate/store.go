package vehiclestate

import (
	"sync"
	"sync/atomic"
	"time"
)

//entry holds a single vehicle's State. mu serializes updates to the vehicle, readers load state without locking
type entry struct {
	mu      sync.Mutex
	state   atomic.Pointer[State]
	removed bool
}

//Store is the thread safe collection of vehicle States.
//Updates to one vehicle are serialized by a lock per vehicle so vehicles are updated in parallel
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

//NewStore builds an empty Store
func NewStore() *Store {
	return &Store{entries: make(map[string]*entry)}
}

//lockEntry returns the locked entry for vehicleId, creating it if needed
func (s *Store) lockEntry(vehicleId string) *entry {
	for {
		s.mu.RLock()
		e, present := s.entries[vehicleId]
		s.mu.RUnlock()
		if !present {
			s.mu.Lock()
			e, present = s.entries[vehicleId]
			if !present {
				e = &entry{}
				s.entries[vehicleId] = e
			}
			s.mu.Unlock()
		}
		e.mu.Lock()
		if !e.removed {
			return e
		}
		//evicted between lookup and lock, start over with a new entry
		e.mu.Unlock()
	}
}

//Update atomically replaces the State of vehicleId with the State returned by fn.
//fn receives the current State, nil if the vehicle is unknown, and must not modify it.
//When fn returns an error the stored State is left unchanged and the error is returned.
//When fn returns a nil State the current State is kept
func (s *Store) Update(vehicleId string, fn func(current *State) (*State, error)) (*State, error) {
	e := s.lockEntry(vehicleId)
	defer e.mu.Unlock()

	current := e.state.Load()
	next, err := fn(current)
	if err == nil && next != nil {
		e.state.Store(next)
		return next, nil
	}
	if current == nil {
		//don't keep an empty entry for a vehicle that never had a State
		s.mu.Lock()
		delete(s.entries, vehicleId)
		e.removed = true
		s.mu.Unlock()
	}
	return current, err
}

//Get returns the State of vehicleId
func (s *Store) Get(vehicleId string) (*State, bool) {
	s.mu.RLock()
	e, present := s.entries[vehicleId]
	s.mu.RUnlock()
	if !present {
		return nil, false
	}
	state := e.state.Load()
	return state, state != nil
}

//Snapshot returns the current State of every vehicle keyed by vehicle id
func (s *Store) Snapshot() map[string]*State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make(map[string]*State, len(s.entries))
	for vehicleId, e := range s.entries {
		if state := e.state.Load(); state != nil {
			result[vehicleId] = state
		}
	}
	return result
}

//Len returns the number of vehicles with a State
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, e := range s.entries {
		if e.state.Load() != nil {
			count++
		}
	}
	return count
}

//Evict removes vehicles whose State was last updated longer than silence before now and returns their last States.
//A vehicle with an update in progress is skipped and left for the next call
func (s *Store) Evict(now time.Time, silence time.Duration) []*State {
	expireBefore := now.Add(-silence)
	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := make([]*State, 0)
	for vehicleId, e := range s.entries {
		if !expired(e.state.Load(), expireBefore) {
			continue
		}
		if !e.mu.TryLock() {
			continue
		}
		state := e.state.Load()
		if expired(state, expireBefore) {
			delete(s.entries, vehicleId)
			e.removed = true
			if state != nil {
				evicted = append(evicted, state)
			}
		}
		e.mu.Unlock()
	}
	return evicted
}

func expired(state *State, expireBefore time.Time) bool {
	return state == nil || state.LastUpdate.Before(expireBefore)
}
