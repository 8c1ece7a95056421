// Copyright (c) 2025 Auricle Labs
//
// Licensed under GPL-2.0 with Auricle Additional Terms.
// See LICENSE.md for commercial usage.
package internal_auth

import "sync"

// Holder tracks the logged-in user for the process. The desktop shell sets
// the uid on login and clears it on logout; listening cannot start without
// one.
type Holder struct {
	mu  sync.RWMutex
	uid string
}

// NewHolder seeds the holder, usually from configuration for single-user
// deployments.
func NewHolder(uid string) *Holder {
	return &Holder{uid: uid}
}

func (h *Holder) CurrentUserID() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.uid
}

func (h *Holder) SetCurrentUser(uid string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.uid = uid
}

func (h *Holder) Clear() {
	h.SetCurrentUser("")
}
