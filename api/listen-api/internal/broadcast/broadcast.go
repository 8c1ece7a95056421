// Copyright (c) 2025 Auricle Labs
//
// Licensed under GPL-2.0 with Auricle Additional Terms.
// See LICENSE.md for commercial usage.
package internal_broadcast

import (
	"sync"

	internal_type "github.com/auricleai/api/listen-api/internal/type"
	"github.com/auricleai/pkg/commons"
)

// =============================================================================
// Event payloads
// =============================================================================

// Event is any payload carried on the bus. EventName is the wire channel the
// UI layer subscribes to.
type Event interface {
	EventName() string
}

// StateEvent announces an orchestrator state change.
type StateEvent struct {
	State internal_type.ListenState `json:"state"`
}

func (StateEvent) EventName() string { return "continuous-listen-state" }

// ErrorEvent carries a typed listen failure.
type ErrorEvent struct {
	Err internal_type.ListenError `json:"err"`
}

func (ErrorEvent) EventName() string { return "continuous-listen-error" }

// TranscriptUpdateEvent carries one partial or final utterance.
type TranscriptUpdateEvent struct {
	Utterance internal_type.Utterance `json:"utterance"`
}

func (TranscriptUpdateEvent) EventName() string { return "stt-update" }

// ConversationEvent carries the full display-ready conversation.
type ConversationEvent struct {
	Messages         []internal_type.Utterance `json:"messages"`
	ConversationText string                    `json:"conversationText"`
	Screenshot       *internal_type.Screenshot `json:"screenshot,omitempty"`
}

func (ConversationEvent) EventName() string { return "stt-conversation-update" }

// WaveformEvent carries one raw audio frame for telemetry display.
type WaveformEvent struct {
	Source internal_type.AudioSource `json:"source"`
	Data   string                    `json:"data"`
}

func (WaveformEvent) EventName() string { return "system-audio-data" }

// =============================================================================
// Emitter
// =============================================================================

const subscriberBuffer = 256

// Emitter is a typed publish/subscribe channel owned by the orchestrator.
// Publish never blocks: a subscriber that falls behind loses events rather
// than stalling transcription.
type Emitter struct {
	logger commons.Logger

	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

func NewEmitter(logger commons.Logger) *Emitter {
	return &Emitter{
		logger: logger,
		subs:   make(map[int]chan Event),
	}
}

// Subscribe registers a listener. The returned cancel func unregisters it
// and closes the channel; it is safe to call more than once.
func (e *Emitter) Subscribe() (<-chan Event, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if e.closed {
		close(ch)
		return ch, func() {}
	}

	id := e.nextID
	e.nextID++
	e.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			if c, ok := e.subs[id]; ok {
				delete(e.subs, id)
				close(c)
			}
		})
	}
	return ch, cancel
}

// Publish fans the event out to every subscriber without blocking.
func (e *Emitter) Publish(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	for id, ch := range e.subs {
		select {
		case ch <- ev:
		default:
			e.logger.Warnf("broadcast: subscriber %d lagging, dropping %s", id, ev.EventName())
		}
	}
}

// Close tears the bus down; all subscriber channels are closed.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	e.closed = true
	for id, ch := range e.subs {
		delete(e.subs, id)
		close(ch)
	}
}
