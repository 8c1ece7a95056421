// Copyright (c) 2025 Auricle Labs
//
// Licensed under GPL-2.0 with Auricle Additional Terms.
// See LICENSE.md for commercial usage.
package internal_stt

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	internal_type "github.com/auricleai/api/listen-api/internal/type"
	"github.com/auricleai/pkg/commons"
)

// Mode selects which channels a listening session transcribes.
type Mode int

const (
	// ModeBothChannels transcribes microphone and system audio.
	ModeBothChannels Mode = iota
	// ModeSystemOnly transcribes system audio only (continuous listening).
	ModeSystemOnly
)

// SessionState is the lifecycle of one per-speaker provider session.
type SessionState int

const (
	StateClosed SessionState = iota
	StateInitializing
	StateActive
	StateClosing
)

// Callbacks wires the manager to its consumer. All callbacks are invoked
// with the manager lock released.
type Callbacks struct {
	// OnUtterance receives every partial and final utterance.
	OnUtterance func(u internal_type.Utterance)
	// OnFinal receives each finalized turn (for history/persistence).
	OnFinal func(speaker internal_type.Speaker, text string)
	// OnStatus receives human-readable status strings.
	OnStatus func(status string)
	// OnError receives provider/transport errors from live sessions.
	OnError func(source internal_type.AudioSource, err error)
}

// channel holds the turn-completion state of one speaker.
//
// current accumulates delta fragments of the in-progress utterance.
// completion accumulates settled fragments awaiting the debounce flush.
// timerGen guards against stale timer fires: every cancel/restart bumps the
// generation, and an expired timer whose generation no longer matches is a
// no-op. Invariant: at most one live completion timer per channel.
type channel struct {
	source     internal_type.AudioSource
	session    internal_type.SttSession
	state      SessionState
	current    string
	completion string
	timer      *time.Timer
	timerGen   uint64
	cancelRead context.CancelFunc
}

// Manager owns up to two provider transcription sessions and turns their
// normalized event streams into speaker-attributed utterances.
type Manager struct {
	logger    commons.Logger
	provider  internal_type.SttProvider
	debounce  time.Duration
	callbacks Callbacks
	clock     func() time.Time

	mu       sync.Mutex
	channels map[internal_type.AudioSource]*channel
	wg       sync.WaitGroup
}

// NewManager creates a session manager. debounce is the turn-completion
// window D; a run of completed fragments closer together than D forms one
// turn.
func NewManager(logger commons.Logger, provider internal_type.SttProvider, debounce time.Duration, callbacks Callbacks) *Manager {
	return &Manager{
		logger:    logger,
		provider:  provider,
		debounce:  debounce,
		callbacks: callbacks,
		clock:     time.Now,
		channels:  make(map[internal_type.AudioSource]*channel),
	}
}

// Initialize opens the provider sessions for the requested mode in parallel
// and returns once every handshake configuration has been accepted.
func (m *Manager) Initialize(ctx context.Context, language string, mode Mode) error {
	m.mu.Lock()
	if len(m.channels) > 0 {
		m.mu.Unlock()
		return fmt.Errorf("session manager already initialized")
	}

	sources := []internal_type.AudioSource{internal_type.SourceSystem}
	if mode == ModeBothChannels {
		sources = append(sources, internal_type.SourceMicrophone)
	}
	for _, src := range sources {
		m.channels[src] = &channel{source: src, state: StateInitializing}
	}
	m.mu.Unlock()

	g, gCtx := errgroup.WithContext(ctx)
	for _, src := range sources {
		src := src
		g.Go(func() error {
			sess, err := m.provider.OpenSession(gCtx, internal_type.SttOptions{
				Language:   language,
				SampleRate: 24000,
			})
			if err != nil {
				return fmt.Errorf("failed to open %s session: %w", src, err)
			}

			readCtx, cancel := context.WithCancel(context.Background())
			m.mu.Lock()
			ch := m.channels[src]
			ch.session = sess
			ch.state = StateActive
			ch.cancelRead = cancel
			m.mu.Unlock()

			m.wg.Add(1)
			go m.readLoop(readCtx, src, sess)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		m.teardown(ctx)
		return err
	}

	m.logger.Infof("stt sessions initialized: provider=%s, mode=%d, language=%s",
		m.provider.Name(), mode, language)
	return nil
}

// SendAudio forwards one base64 PCM chunk to the session for source. Callers
// in listening mode must not hit an inactive session; the typed error
// surfaces buggy callers instead of silently dropping audio.
func (m *Manager) SendAudio(source internal_type.AudioSource, data string) error {
	m.mu.Lock()
	ch, ok := m.channels[source]
	if !ok || ch.state != StateActive {
		m.mu.Unlock()
		return internal_type.ErrSessionNotActive
	}
	sess := ch.session
	m.mu.Unlock()

	return sess.SendAudio(data)
}

// Active reports whether the session for source is live.
func (m *Manager) Active(source internal_type.AudioSource) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[source]
	return ok && ch.state == StateActive
}

// FlushPending immediately finalizes any buffered-but-unflushed completion
// text on every channel. Used when pausing so nothing is left invisible.
func (m *Manager) FlushPending() {
	m.mu.Lock()
	var finals []internal_type.Utterance
	for _, ch := range m.channels {
		if u, ok := m.flushLocked(ch); ok {
			finals = append(finals, u)
		}
	}
	m.mu.Unlock()

	for _, u := range finals {
		m.deliverFinal(u)
	}
}

// Close tears down every session and clears all timers and buffers.
func (m *Manager) Close(ctx context.Context) error {
	return m.teardown(ctx)
}

func (m *Manager) teardown(ctx context.Context) error {
	m.mu.Lock()
	channels := make([]*channel, 0, len(m.channels))
	for _, ch := range m.channels {
		ch.state = StateClosing
		ch.timerGen++
		if ch.timer != nil {
			ch.timer.Stop()
			ch.timer = nil
		}
		ch.current = ""
		ch.completion = ""
		if ch.cancelRead != nil {
			ch.cancelRead()
		}
		channels = append(channels, ch)
	}
	m.channels = make(map[internal_type.AudioSource]*channel)
	m.mu.Unlock()

	var firstErr error
	for _, ch := range channels {
		if ch.session == nil {
			continue
		}
		if err := ch.session.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.wg.Wait()
	return firstErr
}

// =============================================================================
// Turn completion
// =============================================================================

func (m *Manager) readLoop(ctx context.Context, source internal_type.AudioSource, sess internal_type.SttSession) {
	defer m.wg.Done()

	events := sess.Events()
	errs := sess.Errors()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.handleEvent(source, ev)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			m.logger.Errorf("stt session error on %s: %v", source, err)
			if m.callbacks.OnError != nil {
				m.callbacks.OnError(source, err)
			}
		}
	}
}

// handleEvent applies one normalized transcript event to the turn-completion
// state machine. A channel switch is an implicit end-of-turn for the other
// speaker: their pending completion buffer flushes before this event is
// processed, so fragments from different speakers never merge.
func (m *Manager) handleEvent(source internal_type.AudioSource, ev internal_type.TranscriptEvent) {
	m.mu.Lock()
	ch, ok := m.channels[source]
	if !ok {
		m.mu.Unlock()
		return
	}

	var flushed *internal_type.Utterance
	if other := m.otherChannelLocked(source); other != nil && other.completion != "" {
		if u, ok := m.flushLocked(other); ok {
			flushed = &u
		}
	}

	var partial *internal_type.Utterance
	switch ev.Kind {
	case internal_type.TranscriptDelta:
		m.cancelTimerLocked(ch)
		ch.current += ev.Text
		u := internal_type.Utterance{
			Speaker:   source.Speaker(),
			Text:      joinFragments(ch.completion, ch.current),
			Timestamp: m.clock(),
			IsPartial: true,
		}
		partial = &u

	case internal_type.TranscriptCompleted:
		ch.current = ""
		ch.completion = joinFragments(ch.completion, ev.Text)
		m.restartTimerLocked(ch)
	}
	m.mu.Unlock()

	if flushed != nil {
		m.deliverFinal(*flushed)
	}
	if partial != nil && m.callbacks.OnUtterance != nil {
		m.callbacks.OnUtterance(*partial)
	}
}

func (m *Manager) otherChannelLocked(source internal_type.AudioSource) *channel {
	for src, ch := range m.channels {
		if src != source {
			return ch
		}
	}
	return nil
}

func (m *Manager) cancelTimerLocked(ch *channel) {
	ch.timerGen++
	if ch.timer != nil {
		ch.timer.Stop()
		ch.timer = nil
	}
}

func (m *Manager) restartTimerLocked(ch *channel) {
	m.cancelTimerLocked(ch)
	gen := ch.timerGen
	source := ch.source
	ch.timer = time.AfterFunc(m.debounce, func() {
		m.mu.Lock()
		cur, ok := m.channels[source]
		if !ok || cur.timerGen != gen {
			// Stale fire; the buffer was flushed or restarted meanwhile.
			m.mu.Unlock()
			return
		}
		u, flushed := m.flushLocked(cur)
		m.mu.Unlock()

		if flushed {
			m.deliverFinal(u)
		}
	})
}

// flushLocked finalizes the completion buffer of ch. Returns the final
// utterance and whether there was anything to flush.
func (m *Manager) flushLocked(ch *channel) (internal_type.Utterance, bool) {
	m.cancelTimerLocked(ch)

	text := strings.TrimSpace(ch.completion)
	ch.completion = ""
	ch.current = ""
	if text == "" {
		return internal_type.Utterance{}, false
	}

	return internal_type.Utterance{
		Speaker:   ch.source.Speaker(),
		Text:      text,
		Timestamp: m.clock(),
		IsFinal:   true,
	}, true
}

func (m *Manager) deliverFinal(u internal_type.Utterance) {
	if m.callbacks.OnUtterance != nil {
		m.callbacks.OnUtterance(u)
	}
	if m.callbacks.OnFinal != nil {
		m.callbacks.OnFinal(u.Speaker, u.Text)
	}
	if m.callbacks.OnStatus != nil {
		m.callbacks.OnStatus("Listening...")
	}
}

// joinFragments concatenates fragments with a single separating space.
func joinFragments(left, right string) string {
	if left == "" {
		return right
	}
	if right == "" {
		return left
	}
	return left + " " + right
}
