// Package room implements the in-process broadcast groups of the gateway.
// Rooms are created implicitly on first join and removed when the last
// member leaves.
package room

import (
	"sync"

	"github.com/vasquez-law/chatgateway/internal/constants"
	"github.com/vasquez-law/chatgateway/internal/metrics"
)

// CanJoin is the authorization matrix for room:join requests
func CanJoin(roomType string, authenticated bool, userRole string) bool {
	switch roomType {
	case constants.RoomTypeConversation:
		// Users can join their own conversations
		return true
	case constants.RoomTypeCase:
		// Only authenticated users with case access
		return authenticated
	case constants.RoomTypeSupport:
		// Only support staff
		return authenticated &&
			(userRole == constants.RoleAdmin || userRole == constants.RoleAttorney)
	case constants.RoomTypeBroadcast:
		// Everyone can join broadcast rooms
		return true
	default:
		return false
	}
}

// Registry tracks room membership, keyed by room ID then connection ID
type Registry struct {
	rooms map[string]map[string]struct{}
	mu    sync.RWMutex
}

// NewRegistry creates an empty room registry
func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]map[string]struct{}),
	}
}

// Join adds a connection to a room, creating the room if needed
func (r *Registry) Join(roomID, connectionID string) {
	r.mu.Lock()
	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[roomID] = members
	}
	members[connectionID] = struct{}{}
	count := len(r.rooms)
	r.mu.Unlock()

	metrics.ActiveRooms.Set(float64(count))
}

// Leave removes a connection from a room. The room itself is removed when
// its last member leaves.
func (r *Registry) Leave(roomID, connectionID string) {
	r.mu.Lock()
	if members, ok := r.rooms[roomID]; ok {
		delete(members, connectionID)
		if len(members) == 0 {
			delete(r.rooms, roomID)
		}
	}
	count := len(r.rooms)
	r.mu.Unlock()

	metrics.ActiveRooms.Set(float64(count))
}

// LeaveAll removes a connection from every room it is in and returns the
// rooms it left
func (r *Registry) LeaveAll(connectionID string) []string {
	r.mu.Lock()
	var left []string
	for roomID, members := range r.rooms {
		if _, ok := members[connectionID]; ok {
			delete(members, connectionID)
			left = append(left, roomID)
			if len(members) == 0 {
				delete(r.rooms, roomID)
			}
		}
	}
	count := len(r.rooms)
	r.mu.Unlock()

	metrics.ActiveRooms.Set(float64(count))
	return left
}

// IsMember reports whether a connection is in a room
func (r *Registry) IsMember(roomID, connectionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[roomID][connectionID]
	return ok
}

// Members returns the connections in a room
func (r *Registry) Members(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := make([]string, 0, len(r.rooms[roomID]))
	for connectionID := range r.rooms[roomID] {
		members = append(members, connectionID)
	}
	return members
}

// MemberCount returns the number of connections in a room
func (r *Registry) MemberCount(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomID])
}

// RoomCount returns the number of rooms with at least one member
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
