// Package session tracks which owner is signed in and tells subscribers when
// that changes.
package session

import (
	"sort"
	"sync"
)

// Change describes a login or logout. Generation increases with every change
// so late results of work started under an older generation can be detected.
type Change struct {
	Owner      string
	Present    bool
	Generation uint64
}

// Provider exposes the current owner and owner transitions
type Provider interface {
	Owner() (string, bool)
	// Current returns owner, presence and generation read together.
	Current() Change
	// Subscribe registers fn for every future change and returns a function
	// that removes it. fn runs synchronously on the goroutine causing the
	// change and must not call Login or Logout.
	Subscribe(fn func(Change)) (unsubscribe func())
}

// Session is a Provider driven by explicit Login and Logout calls
type Session struct {
	emitMu sync.Mutex // serializes changes so subscribers see them in order

	mu      sync.Mutex
	owner   string
	present bool
	gen     uint64
	nextID  int
	subs    map[int]func(Change)
}

// New returns a session with nobody signed in
func New() *Session {
	return &Session{subs: make(map[int]func(Change))}
}

func (s *Session) Owner() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner, s.present
}

func (s *Session) Current() Change {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Change{Owner: s.owner, Present: s.present, Generation: s.gen}
}

func (s *Session) Subscribe(fn func(Change)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// Login signs owner in. Logging in the owner already signed in is a no-op.
func (s *Session) Login(owner string) {
	if owner == "" {
		s.Logout()
		return
	}
	s.change(owner, true)
}

// Logout signs the current owner out. It is a no-op when nobody is signed in.
func (s *Session) Logout() {
	s.change("", false)
}

func (s *Session) change(owner string, present bool) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	if s.present == present && s.owner == owner {
		s.mu.Unlock()
		return
	}
	s.owner, s.present = owner, present
	s.gen++
	c := Change{Owner: owner, Present: present, Generation: s.gen}
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Change), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.subs[id])
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}
