// Package sse implements SSEHub: long-lived per-connection event streams
// over Server-Sent Events, with a per-user connection cap, heartbeats,
// token-expiry enforcement, and lazy resubscription to a user's DM and
// group channels.
package sse

import (
	"sync"

	"github.com/shopmindai/chatcore/internal/domain"
)

// Hub tracks the live connection ids each user currently holds, enforcing
// a process-local per-user cap. It is intentionally process-local — a
// user fanned across N instances gets N*cap connections, matching the
// teacher's in-memory Hub rather than requiring a distributed counter.
type Hub struct {
	mu          sync.Mutex
	connections map[domain.UserID]map[string]struct{}
	maxPerUser  int
}

// New builds a Hub with the given per-user connection cap.
func New(maxPerUser int) *Hub {
	if maxPerUser <= 0 {
		maxPerUser = 4
	}
	return &Hub{
		connections: make(map[domain.UserID]map[string]struct{}),
		maxPerUser:  maxPerUser,
	}
}

// Acquire reserves a connection slot for userID under connID. Returns
// false if the user is already at the cap.
func (h *Hub) Acquire(userID domain.UserID, connID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.connections[userID]
	if set == nil {
		set = make(map[string]struct{})
		h.connections[userID] = set
	}
	if len(set) >= h.maxPerUser {
		return false
	}
	set[connID] = struct{}{}
	return true
}

// Release frees the slot. Safe to call even if Acquire was never called
// or already released, so every exit path can call it unconditionally.
func (h *Hub) Release(userID domain.UserID, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.connections[userID]
	if !ok {
		return
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(h.connections, userID)
	}
}

// ConnectionCount reports how many live connections userID currently
// holds across this process.
func (h *Hub) ConnectionCount(userID domain.UserID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.connections[userID])
}
