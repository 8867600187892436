// Package room tracks which connections are currently members of which chat
// room. Membership lives only in memory; room metadata and history belong to
// the store.
package room

import (
	"log/slog"
	"strconv"
	"sync"
)

// KeyPrefix is prepended to a numeric room id to form its registry key.
const KeyPrefix = "channel"

// Key returns the registry key for a room id.
func Key(roomID int64) string {
	return KeyPrefix + strconv.FormatInt(roomID, 10)
}

// Registry maps room keys to the set of connection ids joined to them. A
// connection id is a member of at most one room at a time, and rooms with no
// members are removed from the mapping.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]map[string]struct{}
	log   *slog.Logger

	// onChange, when set, receives the number of rooms after each mutation.
	onChange func(rooms int)
}

// NewRegistry returns an empty registry. A nil logger discards output.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{
		rooms: make(map[string]map[string]struct{}),
		log:   logger,
	}
}

// OnChange registers fn to be called with the room count after every
// mutation. It is called with the registry lock held and must not call back
// into the registry.
func (r *Registry) OnChange(fn func(rooms int)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = fn
}

// Join moves connID into roomKey, first removing it from every other room.
func (r *Registry) Join(connID, roomKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key := range r.rooms {
		if key != roomKey {
			r.removeLocked(connID, key)
		}
	}

	members, ok := r.rooms[roomKey]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[roomKey] = members
	}
	members[connID] = struct{}{}
	r.changedLocked()

	r.log.Debug("room.join", "conn", connID, "room", roomKey, "members", len(members))
}

// Leave removes connID from roomKey. Unknown rooms and non-members are ignored.
func (r *Registry) Leave(connID, roomKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.removeLocked(connID, roomKey) {
		r.changedLocked()
		r.log.Debug("room.leave", "conn", connID, "room", roomKey)
	}
}

// LeaveAll removes connID from every room. It is safe to call for a
// connection that never joined one.
func (r *Registry) LeaveAll(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := false
	for key := range r.rooms {
		if r.removeLocked(connID, key) {
			removed = true
			r.log.Debug("room.leave", "conn", connID, "room", key)
		}
	}
	if removed {
		r.changedLocked()
	}
}

// MembersOf returns a snapshot of the connection ids in roomKey. An unknown
// room yields an empty, non-nil slice. Order is unspecified.
func (r *Registry) MembersOf(roomKey string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.rooms[roomKey]
	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	return out
}

// RoomOf returns the key of the room connID is in, if any.
func (r *Registry) RoomOf(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, members := range r.rooms {
		if _, ok := members[connID]; ok {
			return key, true
		}
	}
	return "", false
}

// Len returns the number of rooms with at least one member.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// Snapshot returns a copy of the whole mapping.
func (r *Registry) Snapshot() map[string][]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string][]string, len(r.rooms))
	for key, members := range r.rooms {
		ids := make([]string, 0, len(members))
		for id := range members {
			ids = append(ids, id)
		}
		out[key] = ids
	}
	return out
}

// removeLocked deletes connID from roomKey and drops the room once empty.
// It reports whether connID was a member.
func (r *Registry) removeLocked(connID, roomKey string) bool {
	members, ok := r.rooms[roomKey]
	if !ok {
		return false
	}
	if _, ok := members[connID]; !ok {
		return false
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(r.rooms, roomKey)
	}
	return true
}

func (r *Registry) changedLocked() {
	if r.onChange != nil {
		r.onChange(len(r.rooms))
	}
}
