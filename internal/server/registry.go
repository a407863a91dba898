package server

import "sync"

// Registry is the table of active sessions keyed by user_id. It holds at most
// one client per user; inserting a second one replaces the first.
//
// Only the handshake (Insert) and the lifecycle finalizer (Remove) mutate it.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Client
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Client)}
}

// Insert registers c under its user id and returns the client it displaced,
// if any.
func (r *Registry) Insert(c *Client) (previous *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous = r.sessions[c.userID]
	r.sessions[c.userID] = c
	if previous == c {
		return nil
	}
	return previous
}

// Remove deletes c's entry only while c still owns it, so a replaced
// client's teardown cannot unregister its successor. It reports whether an
// entry was removed.
func (r *Registry) Remove(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.sessions[c.userID]; ok && current == c {
		delete(r.sessions, c.userID)
		return true
	}
	return false
}

// Get returns the client registered for userID.
func (r *Registry) Get(userID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.sessions[userID]
	return c, ok
}

// Has reports whether userID has a live session.
func (r *Registry) Has(userID string) bool {
	_, ok := r.Get(userID)
	return ok
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshot returns the registered clients in no particular order. Callers
// iterate the copy without holding the lock.
func (r *Registry) Snapshot() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]*Client, 0, len(r.sessions))
	for _, c := range r.sessions {
		clients = append(clients, c)
	}
	return clients
}
