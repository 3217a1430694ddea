// Package registry tracks the live signaling connections of one relay process.
//
// A Registry maps a client id to the connection currently serving it. Every
// connection-handling goroutine shares the same instance, so all operations are
// safe for concurrent use. Callers never hold the registry lock while sending:
// broadcast paths take a Snapshot first.
package registry

import (
	"errors"
	"sort"
	"sync"
)

// ErrClosed is returned by Conn implementations when sending on a connection
// that has already been closed.
var ErrClosed = errors.New("connection closed")

// Conn is the send side of a client connection.
type Conn interface {
	// Send delivers one text frame. It may block until the write deadline.
	Send(data []byte) error
	Close() error
}

// Entry is one (id, connection) pair returned by Snapshot.
type Entry struct {
	ID   string
	Conn Conn
}

type Registry struct {
	mu    sync.RWMutex
	conns map[string]Conn

	// onChange is invoked under the lock with the new size after every
	// mutation that changed membership. It must not call back into the
	// registry.
	onChange func(size int)
}

type Option func(*Registry)

// WithOnChange installs a callback observing the registry size.
func WithOnChange(fn func(size int)) Option {
	return func(r *Registry) { r.onChange = fn }
}

func New(opts ...Option) *Registry {
	r := &Registry{conns: make(map[string]Conn)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register inserts conn under id, overwriting any previous entry. The displaced
// connection, if any, is returned so the caller can close it; Register itself
// never closes connections.
func (r *Registry) Register(id string, conn Conn) (replaced Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	replaced = r.conns[id]
	r.conns[id] = conn
	r.changedLocked()
	return replaced
}

// Unregister removes id. Removing an absent id is a no-op.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[id]; ok {
		delete(r.conns, id)
		r.changedLocked()
	}
}

// UnregisterConn removes id only while it still maps to conn. It reports
// whether an entry was removed.
//
// Disconnect cleanup and delivery-failure eviction use this form so that a
// task holding a stale connection cannot remove a newer registration of the
// same id.
func (r *Registry) UnregisterConn(id string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.conns[id]
	if !ok || cur != conn {
		return false
	}
	delete(r.conns, id)
	r.changedLocked()
	return true
}

func (r *Registry) Lookup(id string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	return conn, ok
}

// Snapshot returns a point-in-time copy of all entries. Order is unspecified.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.conns))
	for id, conn := range r.conns {
		out = append(out, Entry{ID: id, Conn: conn})
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// IDs returns the registered ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// CloseAll empties the registry and closes every connection that was in it.
// It is used on process shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]Conn)
	r.changedLocked()
	r.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
}

func (r *Registry) changedLocked() {
	if r.onChange != nil {
		r.onChange(len(r.conns))
	}
}
