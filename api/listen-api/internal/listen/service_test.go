package internal_listen

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_broadcast "github.com/auricleai/api/listen-api/internal/broadcast"
	internal_type "github.com/auricleai/api/listen-api/internal/type"
	"github.com/auricleai/config"
	"github.com/auricleai/pkg/commons"
	"github.com/auricleai/pkg/connectors"

	internal_repository "github.com/auricleai/api/listen-api/internal/repository"
)

// =============================================================================
// Test doubles
// =============================================================================

type stubSession struct {
	events chan internal_type.TranscriptEvent
	errs   chan error
	mu     sync.Mutex
	closed bool
}

func newStubSession() *stubSession {
	return &stubSession{
		events: make(chan internal_type.TranscriptEvent, 32),
		errs:   make(chan error, 4),
	}
}

func (s *stubSession) SendAudio(string) error { return nil }

func (s *stubSession) Events() <-chan internal_type.TranscriptEvent { return s.events }
func (s *stubSession) Errors() <-chan error                         { return s.errs }

func (s *stubSession) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
		close(s.errs)
	}
	return nil
}

func (s *stubSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type stubSttProvider struct {
	gate     chan struct{} // set before Start; OpenSession blocks until closed
	mu       sync.Mutex
	sessions []*stubSession
	failWith error
}

func (p *stubSttProvider) Name() string { return "stub" }

func (p *stubSttProvider) OpenSession(context.Context, internal_type.SttOptions) (internal_type.SttSession, error) {
	if p.gate != nil {
		<-p.gate
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWith != nil {
		return nil, p.failWith
	}
	s := newStubSession()
	p.sessions = append(p.sessions, s)
	return s, nil
}

func (p *stubSttProvider) openSessions() []*stubSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*stubSession, len(p.sessions))
	copy(out, p.sessions)
	return out
}

// anySession feeds an event into the first open session; with both channels
// open on the same stub provider either one maps to the system speaker in
// these tests only when selected deliberately, so tests drive history through
// service.handleUtterance instead where channel identity does not matter.
func (p *stubSttProvider) anySession() *stubSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessions[0]
}

// scriptedStream yields queued tokens then the configured terminal error.
type scriptedStream struct {
	mu       sync.Mutex
	tokens   []string
	err      error
	released chan struct{} // closed when the stream may progress
	closed   bool
}

func (s *scriptedStream) Recv() (string, error) {
	if s.released != nil {
		<-s.released
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tokens) > 0 {
		tok := s.tokens[0]
		s.tokens = s.tokens[1:]
		return tok, nil
	}
	if s.err != nil {
		return "", s.err
	}
	return "", io.EOF
}

func (s *scriptedStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *scriptedStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type stubLLM struct {
	mu         sync.Mutex
	verifyErr  error
	streams    []*scriptedStream
	nextTokens []string
	nextErr    error
	hold       chan struct{}
}

func (l *stubLLM) Name() string { return "stub" }

func (l *stubLLM) VerifyCredential(context.Context) error { return l.verifyErr }

func (l *stubLLM) StreamChat(ctx context.Context, _ []internal_type.Message) (internal_type.TokenStream, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	stream := &scriptedStream{tokens: l.nextTokens, err: l.nextErr, released: l.hold}
	l.streams = append(l.streams, stream)
	return stream, nil
}

type stubAuth struct{ uid string }

func (a stubAuth) CurrentUserID() string { return a.uid }

// =============================================================================
// Harness
// =============================================================================

func testConfig() config.AppConfig {
	return config.AppConfig{
		Listen: config.ListenConfig{
			Language:             "en",
			CompletionDebounceMs: 40,
			ScreenshotIntervalMs: 60000,
			HistorySize:          100,
		},
	}
}

type harness struct {
	svc     *Service
	stt     *stubSttProvider
	llm     *stubLLM
	repo    internal_repository.Store
	events  <-chan internal_broadcast.Event
	cancel  func()
	emitter *internal_broadcast.Emitter
}

func newHarness(t *testing.T, cfg config.AppConfig) *harness {
	t.Helper()
	logger := commons.NewNopLogger()
	emitter := internal_broadcast.NewEmitter(logger)

	connector, err := connectors.NewSqliteConnector("file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = connector.Close() })
	repo, err := internal_repository.NewStore(logger, connector)
	require.NoError(t, err)

	stt := &stubSttProvider{}
	llm := &stubLLM{}
	svc := NewService(logger, cfg, emitter, repo, stubAuth{uid: "user-1"}, stt, llm, nil)

	events, cancel := emitter.Subscribe()
	t.Cleanup(cancel)
	t.Cleanup(func() { _ = svc.Stop(context.Background()) })
	return &harness{svc: svc, stt: stt, llm: llm, repo: repo, events: events, cancel: cancel, emitter: emitter}
}

func (h *harness) waitState(t *testing.T, want internal_type.ListenState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.svc.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state never reached %+v (now %+v)", want, h.svc.State())
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

// =============================================================================
// Lifecycle
// =============================================================================

func TestStartTransitionsToListening(t *testing.T) {
	h := newHarness(t, testConfig())
	require.NoError(t, h.svc.Start(context.Background()))
	assert.Equal(t, internal_type.ListenState{IsListening: true}, h.svc.State())

	// Starting again while active is a harmless no-op.
	assert.NoError(t, h.svc.Start(context.Background()))
	assert.Equal(t, internal_type.ListenState{IsListening: true}, h.svc.State())
}

func TestConcurrentStartInitializesOnce(t *testing.T) {
	h := newHarness(t, testConfig())
	gate := make(chan struct{})
	h.stt.gate = gate

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = h.svc.Start(context.Background())
		}(i)
	}
	// Both requests are in flight before any provider session can open; only
	// one of them may run bring-up.
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.True(t, h.svc.State().IsListening)
	assert.Len(t, h.stt.openSessions(), 2)

	require.NoError(t, h.svc.Stop(context.Background()))
	for _, sess := range h.stt.openSessions() {
		assert.True(t, sess.isClosed())
	}
}

func TestStartWithoutUserFailsWithAuthError(t *testing.T) {
	logger := commons.NewNopLogger()
	emitter := internal_broadcast.NewEmitter(logger)
	connector, err := connectors.NewSqliteConnector("file::memory:?cache=shared")
	require.NoError(t, err)
	defer connector.Close()
	repo, err := internal_repository.NewStore(logger, connector)
	require.NoError(t, err)

	svc := NewService(logger, testConfig(), emitter, repo, stubAuth{}, &stubSttProvider{}, &stubLLM{}, nil)
	err = svc.Start(context.Background())
	var le *internal_type.ListenError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, internal_type.ErrorAuth, le.Type)
}

func TestStartWithBadCredentialFails(t *testing.T) {
	h := newHarness(t, testConfig())
	h.llm.verifyErr = internal_type.NewListenError(internal_type.ErrorAPIKey, "rejected")

	err := h.svc.Start(context.Background())
	var le *internal_type.ListenError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, internal_type.ErrorAPIKey, le.Type)
	assert.Equal(t, internal_type.ListenState{}, h.svc.State())
}

func TestStartWithSttFailureIsSttInitError(t *testing.T) {
	h := newHarness(t, testConfig())
	h.stt.failWith = errors.New("handshake refused")

	err := h.svc.Start(context.Background())
	var le *internal_type.ListenError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, internal_type.ErrorSttInit, le.Type)
}

func TestPauseResumeIdempotent(t *testing.T) {
	h := newHarness(t, testConfig())
	require.NoError(t, h.svc.Start(context.Background()))

	require.NoError(t, h.svc.Pause())
	require.NoError(t, h.svc.Pause())
	assert.True(t, h.svc.State().IsPaused)

	require.NoError(t, h.svc.Resume())
	require.NoError(t, h.svc.Resume())
	assert.False(t, h.svc.State().IsPaused)
	assert.True(t, h.svc.State().IsListening)
}

func TestPauseWhileIdleFails(t *testing.T) {
	h := newHarness(t, testConfig())
	assert.ErrorIs(t, h.svc.Pause(), ErrNotListening)
	assert.ErrorIs(t, h.svc.Resume(), ErrNotListening)
}

func TestStopReturnsToIdleAndIsIdempotent(t *testing.T) {
	h := newHarness(t, testConfig())
	require.NoError(t, h.svc.Start(context.Background()))
	require.NoError(t, h.svc.Stop(context.Background()))
	assert.Equal(t, internal_type.ListenState{}, h.svc.State())
	assert.Empty(t, h.svc.Messages())
	require.NoError(t, h.svc.Stop(context.Background()))

	// A fresh session can start after stop.
	require.NoError(t, h.svc.Start(context.Background()))
}

func TestToggleCyclesStates(t *testing.T) {
	h := newHarness(t, testConfig())

	require.NoError(t, h.svc.Toggle(context.Background()))
	assert.True(t, h.svc.State().IsListening)

	require.NoError(t, h.svc.Toggle(context.Background()))
	assert.True(t, h.svc.State().IsPaused)

	require.NoError(t, h.svc.Toggle(context.Background()))
	assert.False(t, h.svc.State().IsPaused)
}

// =============================================================================
// Transcripts & history
// =============================================================================

func TestFinalUtterancesEnterBoundedHistory(t *testing.T) {
	cfg := testConfig()
	cfg.Listen.HistorySize = 3
	h := newHarness(t, cfg)
	require.NoError(t, h.svc.Start(context.Background()))

	sess := h.stt.anySession()
	for _, text := range []string{"one.", "two.", "three.", "four."} {
		sess.events <- internal_type.TranscriptEvent{Kind: internal_type.TranscriptCompleted, Text: text}
		waitFor(t, func() bool {
			history := h.svc.History()
			return len(history) > 0 && history[len(history)-1].Text == text
		}, "final never reached history: "+text)
	}

	history := h.svc.History()
	require.Len(t, history, 3)
	assert.Equal(t, "two.", history[0].Text)
	assert.Equal(t, "four.", history[2].Text)
}

func TestFinalUtterancePersistedOnce(t *testing.T) {
	h := newHarness(t, testConfig())
	require.NoError(t, h.svc.Start(context.Background()))

	sess := h.stt.anySession()
	sess.events <- internal_type.TranscriptEvent{Kind: internal_type.TranscriptCompleted, Text: "Hello world"}
	waitFor(t, func() bool { return len(h.svc.History()) == 1 }, "final never recorded")

	h.svc.mu.Lock()
	sessionID := h.svc.sessionID
	h.svc.mu.Unlock()

	waitFor(t, func() bool {
		records, err := h.repo.Transcripts(context.Background(), sessionID)
		return err == nil && len(records) == 1
	}, "transcript never persisted")

	records, err := h.repo.Transcripts(context.Background(), sessionID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Hello world", records[0].Text)
}

func TestConversationTextFormat(t *testing.T) {
	h := newHarness(t, testConfig())
	ts := time.Date(2025, 9, 1, 14, 30, 5, 0, time.UTC)
	h.svc.history = []internal_type.Utterance{
		{Speaker: internal_type.SpeakerLocal, Text: "hello", Timestamp: ts, IsFinal: true},
		{Speaker: internal_type.SpeakerRemote, Text: "hi", Timestamp: ts.Add(time.Second), IsFinal: true},
	}
	assert.Equal(t, "[14:30:05] Me: hello\n[14:30:06] Them: hi", h.svc.ConversationText())
}

func TestPausedUtterancesSurfaceOnResume(t *testing.T) {
	h := newHarness(t, testConfig())
	require.NoError(t, h.svc.Start(context.Background()))
	require.NoError(t, h.svc.Pause())

	sess := h.stt.anySession()
	sess.events <- internal_type.TranscriptEvent{Kind: internal_type.TranscriptCompleted, Text: "said while paused."}

	waitFor(t, func() bool { return len(h.svc.History()) == 1 }, "final never recorded")
	assert.Empty(t, h.svc.Messages())

	require.NoError(t, h.svc.Resume())
	msgs := h.svc.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "said while paused.", msgs[0].Text)
}

// =============================================================================
// Summary requests
// =============================================================================

func seedHistory(h *harness) {
	h.svc.mu.Lock()
	h.svc.history = append(h.svc.history, internal_type.Utterance{
		Speaker: internal_type.SpeakerRemote, Text: "we should ship on friday", Timestamp: time.Now(), IsFinal: true,
	})
	h.svc.mu.Unlock()
}

func TestRequestSummaryStreamsAndLandsPaused(t *testing.T) {
	h := newHarness(t, testConfig())
	h.llm.nextTokens = []string{"They ", "propose ", "friday."}
	require.NoError(t, h.svc.Start(context.Background()))
	seedHistory(h)

	require.NoError(t, h.svc.RequestSummary(true))
	h.waitState(t, internal_type.ListenState{IsListening: true, IsPaused: true})

	waitFor(t, func() bool {
		for _, m := range h.svc.Messages() {
			if m.Speaker == internal_type.SpeakerAI && m.IsFinal && m.Text == "They propose friday." {
				return true
			}
		}
		return false
	}, "assistant answer never surfaced")
}

func TestRequestSummaryWhileProcessingIsBusy(t *testing.T) {
	h := newHarness(t, testConfig())
	h.llm.hold = make(chan struct{})
	h.llm.nextTokens = []string{"slow answer"}
	require.NoError(t, h.svc.Start(context.Background()))
	seedHistory(h)

	require.NoError(t, h.svc.RequestSummary(true))
	assert.True(t, h.svc.State().IsProcessing)
	assert.ErrorIs(t, h.svc.RequestSummary(true), ErrBusy)

	close(h.llm.hold)
	h.waitState(t, internal_type.ListenState{IsListening: true, IsPaused: true})

	// The rejected request opened nothing; the prior stream is the only one
	// and its reader has been released.
	h.llm.mu.Lock()
	streams := append([]*scriptedStream(nil), h.llm.streams...)
	h.llm.mu.Unlock()
	require.Len(t, streams, 1)
	assert.True(t, streams[0].isClosed())
}

func TestRequestSummaryEmptyConversationIsNoop(t *testing.T) {
	h := newHarness(t, testConfig())
	require.NoError(t, h.svc.Start(context.Background()))

	require.NoError(t, h.svc.RequestSummary(true))
	assert.False(t, h.svc.State().IsProcessing)
	h.llm.mu.Lock()
	defer h.llm.mu.Unlock()
	assert.Empty(t, h.llm.streams)
}

func TestRequestSummaryWhileIdleFails(t *testing.T) {
	h := newHarness(t, testConfig())
	assert.ErrorIs(t, h.svc.RequestSummary(true), ErrNotListening)
}

func TestRequestSummaryErrorLandsPausedAndPublishes(t *testing.T) {
	h := newHarness(t, testConfig())
	h.llm.nextErr = internal_type.NewListenError(internal_type.ErrorRateLimit, "slow down")
	require.NoError(t, h.svc.Start(context.Background()))
	seedHistory(h)

	// Drain events published so far.
	for len(h.events) > 0 {
		<-h.events
	}

	require.NoError(t, h.svc.RequestSummary(true))
	h.waitState(t, internal_type.ListenState{IsListening: true, IsPaused: true})

	waitFor(t, func() bool {
		for len(h.events) > 0 {
			if ev, ok := (<-h.events).(internal_broadcast.ErrorEvent); ok {
				return ev.Err.Type == internal_type.ErrorRateLimit
			}
		}
		return false
	}, "rate limit error never published")
}

func TestRequestSummaryAbortStaysQuiet(t *testing.T) {
	h := newHarness(t, testConfig())
	h.llm.nextErr = context.Canceled
	require.NoError(t, h.svc.Start(context.Background()))
	seedHistory(h)

	for len(h.events) > 0 {
		<-h.events
	}
	require.NoError(t, h.svc.RequestSummary(true))
	h.waitState(t, internal_type.ListenState{IsListening: true, IsPaused: true})

	// Cancellation is not an error the user should see.
	for len(h.events) > 0 {
		_, isErr := (<-h.events).(internal_broadcast.ErrorEvent)
		assert.False(t, isErr)
	}
}

func TestAssistantPartialsVisibleWhileProcessing(t *testing.T) {
	h := newHarness(t, testConfig())
	hold := make(chan struct{})
	h.llm.hold = hold
	h.llm.nextTokens = []string{"partial answer"}
	require.NoError(t, h.svc.Start(context.Background()))
	seedHistory(h)

	require.NoError(t, h.svc.RequestSummary(true))
	close(hold)

	waitFor(t, func() bool {
		for _, m := range h.svc.Messages() {
			if m.Speaker == internal_type.SpeakerAI {
				return true
			}
		}
		return false
	}, "assistant tokens never surfaced")
}

func TestPushAudioStateGating(t *testing.T) {
	h := newHarness(t, testConfig())
	frame := "AAAA" // valid base64

	assert.ErrorIs(t, h.svc.PushAudio(internal_type.SourceMicrophone, frame), ErrNotListening)

	require.NoError(t, h.svc.Start(context.Background()))
	assert.NoError(t, h.svc.PushAudio(internal_type.SourceMicrophone, frame))

	require.NoError(t, h.svc.Pause())
	assert.NoError(t, h.svc.PushAudio(internal_type.SourceMicrophone, frame))
}
