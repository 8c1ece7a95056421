// Copyright (c) 2025 Auricle Labs
//
// Licensed under GPL-2.0 with Auricle Additional Terms.
// See LICENSE.md for commercial usage.
package internal_presenter

import (
	"hash/fnv"
	"sync"
	"time"

	internal_type "github.com/auricleai/api/listen-api/internal/type"
	"github.com/auricleai/pkg/commons"
)

const (
	// duplicateWindow is how close together two identical finals must land
	// to be treated as provider echo rather than genuine repetition.
	duplicateWindow = 2 * time.Second
	// recentFinalDepth is how many trailing visible messages are checked for
	// exact-text duplicate finals. A repeat that has scrolled past this
	// window counts as genuine repetition.
	recentFinalDepth = 10
	// hashRetention bounds the duplicate-hash table; entries older than
	// this are pruned opportunistically.
	hashRetention = 5 * time.Minute
)

// Presenter owns the display-ready transcript view. It coalesces partials in
// place, drops duplicate finals, and gates visibility while the engine is
// paused or processing: only assistant output surfaces then, everything else
// is buffered and appended on resume.
type Presenter struct {
	logger        commons.Logger
	clock         func() time.Time
	maxMessages   int
	clearOnResume bool

	mu           sync.Mutex
	messages     []internal_type.Utterance
	pending      []internal_type.Utterance
	gated        bool
	seenIDs      map[string]time.Time
	recentHashes map[uint64]time.Time
}

func NewPresenter(logger commons.Logger, maxMessages int, clearOnResume bool) *Presenter {
	return &Presenter{
		logger:        logger,
		clock:         time.Now,
		maxMessages:   maxMessages,
		clearOnResume: clearOnResume,
		seenIDs:       make(map[string]time.Time),
		recentHashes:  make(map[uint64]time.Time),
	}
}

// Present applies one utterance to the view. It reports whether the visible
// view changed; gated or duplicate utterances leave it untouched.
func (p *Presenter) Present(u internal_type.Utterance) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pruneLocked()

	if p.gated && u.Speaker != internal_type.SpeakerAI {
		p.bufferPendingLocked(u)
		return false
	}
	return p.applyLocked(u)
}

// Gate suspends visibility for non-assistant utterances. Used while paused
// and while a summary request is in flight.
func (p *Presenter) Gate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gated = true
}

// Ungate restores visibility and surfaces everything buffered while gated.
// The existing view is never cleared here; resuming must not lose history.
func (p *Presenter) Ungate() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.gated {
		return false
	}
	p.gated = false

	pending := p.pending
	p.pending = nil
	if p.clearOnResume {
		if len(pending) > 0 {
			p.logger.Debugf("presenter: discarded %d gated utterances on resume", len(pending))
		}
		return false
	}

	changed := false
	for _, u := range pending {
		if p.applyLocked(u) {
			changed = true
		}
	}
	return changed
}

// Messages returns a snapshot of the visible view.
func (p *Presenter) Messages() []internal_type.Utterance {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]internal_type.Utterance, len(p.messages))
	copy(out, p.messages)
	return out
}

// Clear drops the view and all dedup state. Called when a listen session
// ends.
func (p *Presenter) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = nil
	p.pending = nil
	p.gated = false
	p.seenIDs = make(map[string]time.Time)
	p.recentHashes = make(map[uint64]time.Time)
}

// =============================================================================
// Internals
// =============================================================================

func (p *Presenter) applyLocked(u internal_type.Utterance) bool {
	if u.IsFinal {
		return p.applyFinalLocked(u)
	}
	return p.applyPartialLocked(u)
}

// applyPartialLocked replaces the in-progress entry for the speaker in place
// so the view shows one growing line instead of a stutter of fragments.
func (p *Presenter) applyPartialLocked(u internal_type.Utterance) bool {
	if u.MessageID != "" {
		for i := len(p.messages) - 1; i >= 0; i-- {
			if p.messages[i].MessageID == u.MessageID {
				p.messages[i] = u
				return true
			}
		}
	}
	for i := len(p.messages) - 1; i >= 0; i-- {
		if p.messages[i].Speaker == u.Speaker && p.messages[i].IsPartial {
			p.messages[i] = u
			return true
		}
	}
	p.appendLocked(u)
	return true
}

func (p *Presenter) applyFinalLocked(u internal_type.Utterance) bool {
	if p.isDuplicateLocked(u) {
		p.logger.Debugf("presenter: dropped duplicate final from %s", u.Speaker)
		return false
	}
	p.recordFinalLocked(u)

	// Finalization freezes the speaker's in-progress entry when one exists.
	if u.MessageID != "" {
		for i := len(p.messages) - 1; i >= 0; i-- {
			if p.messages[i].MessageID == u.MessageID {
				p.messages[i] = u
				return true
			}
		}
	}
	for i := len(p.messages) - 1; i >= 0; i-- {
		if p.messages[i].Speaker == u.Speaker && p.messages[i].IsPartial {
			p.messages[i] = u
			return true
		}
	}
	p.appendLocked(u)
	return true
}

func (p *Presenter) isDuplicateLocked(u internal_type.Utterance) bool {
	if u.MessageID != "" {
		if _, seen := p.seenIDs[u.MessageID]; seen {
			return true
		}
	}

	if at, seen := p.recentHashes[contentHash(u.Speaker, u.Text)]; seen {
		if p.clock().Sub(at) <= duplicateWindow {
			return true
		}
	}

	start := len(p.messages) - recentFinalDepth
	if start < 0 {
		start = 0
	}
	for _, m := range p.messages[start:] {
		if m.IsFinal && m.Speaker == u.Speaker && m.Text == u.Text {
			return true
		}
	}
	return false
}

func (p *Presenter) recordFinalLocked(u internal_type.Utterance) {
	now := p.clock()
	if u.MessageID != "" {
		p.seenIDs[u.MessageID] = now
	}
	p.recentHashes[contentHash(u.Speaker, u.Text)] = now
}

func (p *Presenter) appendLocked(u internal_type.Utterance) {
	p.messages = append(p.messages, u)
	if p.maxMessages > 0 && len(p.messages) > p.maxMessages {
		p.messages = p.messages[len(p.messages)-p.maxMessages:]
	}
}

// bufferPendingLocked stores a gated utterance, coalescing partials the same
// way the live view does so resume does not replay every fragment.
func (p *Presenter) bufferPendingLocked(u internal_type.Utterance) {
	if u.IsPartial {
		for i := len(p.pending) - 1; i >= 0; i-- {
			if p.pending[i].Speaker == u.Speaker && p.pending[i].IsPartial {
				p.pending[i] = u
				return
			}
		}
	}
	p.pending = append(p.pending, u)
}

func (p *Presenter) pruneLocked() {
	cutoff := p.clock().Add(-hashRetention)
	for h, at := range p.recentHashes {
		if at.Before(cutoff) {
			delete(p.recentHashes, h)
		}
	}
	for id, at := range p.seenIDs {
		if at.Before(cutoff) {
			delete(p.seenIDs, id)
		}
	}
}

func contentHash(speaker internal_type.Speaker, text string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(string(speaker)))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(text))
	return h.Sum64()
}
