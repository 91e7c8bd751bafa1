package chat

import (
	"github.com/relaychat/relay/set"
	"github.com/samber/lo"
)

// Registry is the set of every live session. All of its operations share one
// lock, which is only ever held to mutate or copy the set; callers deliver to
// the sessions they get back after the lock is released.
type Registry struct {
	sessions *set.Set[*Session]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: set.New[*Session](),
	}
}

// Add registers a session.
func (r *Registry) Add(s *Session) error {
	return r.sessions.Add(s)
}

// Remove unregisters a session. It reports whether this call was the one
// that removed it.
func (r *Registry) Remove(s *Session) bool {
	return r.sessions.Remove(s.Key()) == nil
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	return r.sessions.Len()
}

// Get returns the session with the given ID.
func (r *Registry) Get(id string) (*Session, bool) {
	s, err := r.sessions.Get(id)
	return s, err == nil
}

// Excluding returns every registered session except self.
func (r *Registry) Excluding(self *Session) []*Session {
	return lo.Without(r.sessions.Items(), self)
}

// Named returns every session whose display name is exactly name. Names are
// not unique, so there may be more than one.
func (r *Registry) Named(name string) []*Session {
	return r.sessions.Filter(func(s *Session) bool {
		return s.Name() == name
	})
}

// Names returns the display names of every registered session.
func (r *Registry) Names() []string {
	return lo.Map(r.sessions.Items(), func(s *Session, _ int) string {
		return s.Name()
	})
}
