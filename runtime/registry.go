package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"sync"

	"github.com/google/uuid"
)

var _ contract.IRegistry = (*Registry)(nil)

type Set map[uuid.UUID]struct{}

// Registry is the in-memory directory of live connections.
// A user owns at most one handle; rooms group handles by conversation.
// Nothing here is persisted: clients re-announce themselves after a restart.
type Registry struct {
	mu      sync.RWMutex
	users   map[domain.UserID]contract.Handle
	handles map[uuid.UUID]contract.Handle
	rooms   map[domain.ConversationID]Set
	// reverse index of rooms, used by Drop
	joinedBy map[uuid.UUID]map[domain.ConversationID]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		users:    make(map[domain.UserID]contract.Handle),
		handles:  make(map[uuid.UUID]contract.Handle),
		rooms:    make(map[domain.ConversationID]Set),
		joinedBy: make(map[uuid.UUID]map[domain.ConversationID]struct{}),
	}
}

// Register maps userID to handle, silently replacing any previous handle.
// The evicted handle, if any, is returned for logging only; it is not notified.
func (r *Registry) Register(userID domain.UserID, handle contract.Handle) contract.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := r.users[userID]
	if evicted != nil && evicted.ID() == handle.ID() {
		evicted = nil
	}
	r.users[userID] = handle
	r.handles[handle.ID()] = handle
	return evicted
}

// Unregister removes the mapping only when handle is the one currently stored.
// A late disconnect of an older connection is therefore a no-op.
func (r *Registry) Unregister(userID domain.UserID, handle contract.Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.users[userID]
	if !ok || current.ID() != handle.ID() {
		return false
	}
	delete(r.users, userID)
	return true
}

func (r *Registry) Lookup(userID domain.UserID) (contract.Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handle, ok := r.users[userID]
	return handle, ok
}

func (r *Registry) IsOnline(userID domain.UserID) bool {
	_, ok := r.Lookup(userID)
	return ok
}

// Join subscribes a handle to the room of a conversation.
// If the room does not yet exist it is initialized on the fly.
func (r *Registry) Join(conversationID domain.ConversationID, handle contract.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handles[handle.ID()] = handle
	if _, ok := r.rooms[conversationID]; !ok {
		r.rooms[conversationID] = make(Set)
	}
	r.rooms[conversationID][handle.ID()] = struct{}{}

	if _, ok := r.joinedBy[handle.ID()]; !ok {
		r.joinedBy[handle.ID()] = make(map[domain.ConversationID]struct{})
	}
	r.joinedBy[handle.ID()][conversationID] = struct{}{}
}

func (r *Registry) Leave(conversationID domain.ConversationID, handle contract.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leave(conversationID, handle.ID())
}

func (r *Registry) leave(conversationID domain.ConversationID, handleID uuid.UUID) {
	if members, ok := r.rooms[conversationID]; ok {
		delete(members, handleID)
		// No empty sets are kept around
		if len(members) == 0 {
			delete(r.rooms, conversationID)
		}
	}
	if joined, ok := r.joinedBy[handleID]; ok {
		delete(joined, conversationID)
		if len(joined) == 0 {
			delete(r.joinedBy, handleID)
		}
	}
}

// RoomHandles returns the handles currently subscribed to a conversation.
func (r *Registry) RoomHandles(conversationID domain.ConversationID) []contract.Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.rooms[conversationID]
	if !ok {
		return nil
	}
	handles := make([]contract.Handle, 0, len(members))
	for id := range members {
		if handle, exists := r.handles[id]; exists {
			handles = append(handles, handle)
		}
	}
	return handles
}

// Drop forgets a closed handle: every room subscription goes away.
// The user mapping is left to Unregister so the stale guard stays in one place.
func (r *Registry) Drop(handle contract.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for conversationID := range r.joinedBy[handle.ID()] {
		r.leave(conversationID, handle.ID())
	}
	delete(r.handles, handle.ID())
}

// Others returns every announced handle except the given one.
func (r *Registry) Others(handle contract.Handle) []contract.Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	others := make([]contract.Handle, 0, len(r.users))
	for _, h := range r.users {
		if h.ID() != handle.ID() {
			others = append(others, h)
		}
	}
	return others
}

// Online returns the number of users with a live handle.
func (r *Registry) Online() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}
