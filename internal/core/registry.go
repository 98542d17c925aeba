package core

import (
	"sort"
	"strings"
)

// Registry maps usernames to the session currently holding them.
// It is owned by the Hub goroutine and is not safe for concurrent use.
type Registry struct {
	byName map[string]SessionID
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]SessionID)}
}

// Add binds name to id, replacing any previous holder. It returns the
// replaced session, if any.
func (r *Registry) Add(name string, id SessionID) (SessionID, bool) {
	prev, exists := r.byName[name]
	r.byName[name] = id
	if exists && prev != id {
		return prev, true
	}
	return "", false
}

// Remove unbinds name only while it still maps to id. Returns true if removed.
func (r *Registry) Remove(name string, id SessionID) bool {
	if cur, exists := r.byName[name]; !exists || cur != id {
		return false
	}
	delete(r.byName, name)
	return true
}

// Lookup returns the session bound to name.
func (r *Registry) Lookup(name string) (SessionID, bool) {
	id, ok := r.byName[name]
	return id, ok
}

// Names returns registered usernames in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UserList renders the names as user-list content.
func (r *Registry) UserList() string {
	return strings.Join(r.Names(), ",")
}

// Len returns the number of registered usernames.
func (r *Registry) Len() int {
	return len(r.byName)
}

// Empty returns true if nobody is registered.
func (r *Registry) Empty() bool {
	return len(r.byName) == 0
}
