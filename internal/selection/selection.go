// Package selection tracks multi-select mode and the selected screenshot names.
package selection

import "sync"

// State is the multi-select state. Names are weak references into the
// current folder; a name may stop existing after a refresh.
type State struct {
	mu     sync.RWMutex
	active bool
	order  []string
	set    map[string]struct{}
}

// New returns an inactive, empty selection.
func New() *State {
	return &State{set: make(map[string]struct{})}
}

// Enter activates multi-select mode with an empty selection.
func (s *State) Enter() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = true
	s.clearLocked()
}

// Exit leaves multi-select mode and clears the selection. Calling it while
// inactive is a no-op.
func (s *State) Exit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	s.clearLocked()
}

// Clear empties the selection without changing the mode.
func (s *State) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
}

func (s *State) clearLocked() {
	s.order = nil
	s.set = make(map[string]struct{})
}

// Toggle adds or removes name and returns whether it is now selected along
// with the new selection count. It does nothing while inactive.
func (s *State) Toggle(name string) (selected bool, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active || name == "" {
		return false, len(s.order)
	}
	if _, ok := s.set[name]; ok {
		delete(s.set, name)
		for i, n := range s.order {
			if n == name {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
		return false, len(s.order)
	}
	s.set[name] = struct{}{}
	s.order = append(s.order, name)
	return true, len(s.order)
}

// Active reports whether multi-select mode is on.
func (s *State) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// IsSelected reports whether name is selected.
func (s *State) IsSelected(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.set[name]
	return ok
}

// Count returns the number of selected names.
func (s *State) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Selected returns the selected names in selection order.
func (s *State) Selected() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Retain drops selected names for which keep returns false, e.g. names that
// no longer exist after a refresh. It returns the number dropped.
func (s *State) Retain(keep func(name string) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.order[:0]
	dropped := 0
	for _, n := range s.order {
		if keep(n) {
			kept = append(kept, n)
			continue
		}
		delete(s.set, n)
		dropped++
	}
	s.order = kept
	return dropped
}
