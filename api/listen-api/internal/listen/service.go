// Copyright (c) 2025 Auricle Labs
//
// Licensed under GPL-2.0 with Auricle Additional Terms.
// See LICENSE.md for commercial usage.
package internal_listen

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	internal_broadcast "github.com/auricleai/api/listen-api/internal/broadcast"
	internal_capture "github.com/auricleai/api/listen-api/internal/capture"
	internal_entity "github.com/auricleai/api/listen-api/internal/entity"
	internal_presenter "github.com/auricleai/api/listen-api/internal/presenter"
	internal_repository "github.com/auricleai/api/listen-api/internal/repository"
	internal_stt "github.com/auricleai/api/listen-api/internal/stt"
	internal_type "github.com/auricleai/api/listen-api/internal/type"
	"github.com/auricleai/config"
	"github.com/auricleai/pkg/commons"
	"github.com/auricleai/pkg/utils"
)

// ErrBusy is returned when a summary is requested while another one is
// already streaming.
var ErrBusy = errors.New("a summary request is already in progress")

// ErrNotListening is returned for operations that need an active session.
var ErrNotListening = errors.New("no active listen session")

const summarySystemPrompt = `You are a live meeting copilot. You are given the ` +
	`conversation so far, attributed to "Me" (the local user) and "Them" ` +
	`(everyone else). Summarize what has been discussed, surface open ` +
	`questions and action items, and suggest what the user could say next. ` +
	`Be concise and concrete.`

// State is the orchestrator lifecycle.
type State int

const (
	StateIdle State = iota
	StateListening
	StatePaused
	StateProcessing
)

// Service is the continuous-listening orchestrator. It owns the capture
// pipeline, the transcription sessions, the conversation history, and the
// single in-flight assistant request.
type Service struct {
	logger      commons.Logger
	cfg         config.AppConfig
	emitter     *internal_broadcast.Emitter
	presenter   *internal_presenter.Presenter
	repo        internal_repository.Store
	auth        internal_type.Authenticator
	sttProvider internal_type.SttProvider
	llm         internal_type.LLMStreamer
	screen      internal_type.ScreenCapturer
	pipeline    *internal_capture.Pipeline

	mu         sync.Mutex
	state      State
	starting   bool
	manager    *internal_stt.Manager
	sessionID  string
	history    []internal_type.Utterance
	screenshot *internal_type.Screenshot
	runCancel  context.CancelFunc
	llmCancel  context.CancelFunc
}

func NewService(
	logger commons.Logger,
	cfg config.AppConfig,
	emitter *internal_broadcast.Emitter,
	repo internal_repository.Store,
	auth internal_type.Authenticator,
	sttProvider internal_type.SttProvider,
	llm internal_type.LLMStreamer,
	screen internal_type.ScreenCapturer,
) *Service {
	s := &Service{
		logger:      logger,
		cfg:         cfg,
		emitter:     emitter,
		presenter:   internal_presenter.NewPresenter(logger, cfg.Listen.HistorySize, cfg.Listen.ClearOnResume),
		repo:        repo,
		auth:        auth,
		sttProvider: sttProvider,
		llm:         llm,
		screen:      screen,
	}
	s.pipeline = internal_capture.NewPipeline(logger, emitter, cfg.Listen.SystemAudioCommand, s.ingestChunk)
	return s
}

// =============================================================================
// Lifecycle
// =============================================================================

// Start brings up a listen session: credential check, durable session row,
// transcription sessions, then audio capture. Capture failures degrade the
// session (the error surfaces, listening continues on the remaining channel)
// while everything before capture is fatal.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle || s.starting {
		s.mu.Unlock()
		s.logger.Debugf("start requested while already listening; ignoring")
		return nil
	}
	// Claim the transition before releasing the lock; a concurrent Start must
	// not run bring-up a second time and orphan the first set of sessions.
	s.starting = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.starting = false
		s.mu.Unlock()
	}()

	uid := s.auth.CurrentUserID()
	if uid == "" {
		err := internal_type.NewListenError(internal_type.ErrorAuth, "no user is logged in")
		s.publishError(err)
		return err
	}

	if err := s.llm.VerifyCredential(ctx); err != nil {
		le := asListenError(err)
		s.publishError(le)
		return le
	}

	session, err := s.repo.GetOrCreateActiveSession(ctx, uid, internal_entity.SessionTypeListen)
	if err != nil {
		le := internal_type.NewListenError(internal_type.ErrorServer, err.Error())
		s.publishError(le)
		return le
	}

	manager := internal_stt.NewManager(s.logger, s.sttProvider, s.cfg.Listen.CompletionDebounce(), internal_stt.Callbacks{
		OnUtterance: s.handleUtterance,
		OnFinal:     s.persistFinal,
		OnError:     s.handleSessionError,
	})
	if err := manager.Initialize(ctx, s.cfg.Listen.Language, internal_stt.ModeBothChannels); err != nil {
		le := internal_type.NewListenError(internal_type.ErrorSttInit,
			fmt.Sprintf("failed to initialize transcription: %v", err))
		s.publishError(le)
		return le
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.state = StateListening
	s.manager = manager
	s.sessionID = session.ID
	s.runCancel = runCancel
	s.mu.Unlock()

	if err := s.pipeline.StartCapture(ctx, internal_type.SourceSystem); err != nil {
		// Degraded session: microphone pushes still flow.
		s.logger.Warnf("system audio capture unavailable: %v", err)
		s.publishError(asListenError(err))
	}
	_ = s.pipeline.StartCapture(ctx, internal_type.SourceMicrophone)

	utils.Go(runCtx, s.logger, func() { s.screenshotLoop(runCtx) })

	s.publishState()
	s.logger.Infof("listen session started: session=%s, uid=%s", session.ID, uid)
	return nil
}

// Pause suspends the visible transcript without tearing anything down.
// Anything buffered in a completion window is flushed first so no speech is
// stranded invisible. Pausing twice is a no-op.
func (s *Service) Pause() error {
	s.mu.Lock()
	if s.state != StateListening {
		state := s.state
		s.mu.Unlock()
		if state == StateIdle {
			return ErrNotListening
		}
		return nil
	}
	s.state = StatePaused
	manager := s.manager
	s.mu.Unlock()

	if manager != nil {
		manager.FlushPending()
	}
	s.presenter.Gate()
	s.publishState()
	s.logger.Infof("listen session paused")
	return nil
}

// Resume restores the live view; everything that arrived while paused is
// appended, never replacing the history already on screen.
func (s *Service) Resume() error {
	s.mu.Lock()
	if s.state != StatePaused {
		state := s.state
		s.mu.Unlock()
		if state == StateIdle {
			return ErrNotListening
		}
		return nil
	}
	s.state = StateListening
	s.mu.Unlock()

	if s.presenter.Ungate() {
		s.publishConversation()
	}
	s.publishState()
	s.logger.Infof("listen session resumed")
	return nil
}

// Toggle pauses a listening session, resumes a paused one, and starts one
// from idle.
func (s *Service) Toggle(ctx context.Context) error {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	switch state {
	case StateListening:
		return s.Pause()
	case StatePaused, StateProcessing:
		return s.Resume()
	default:
		return s.Start(ctx)
	}
}

// Stop ends the session: the in-flight assistant request is aborted, capture
// and transcription shut down, the durable session is closed, and the view
// clears. Stopping an idle service is a no-op.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateIdle {
		s.mu.Unlock()
		return nil
	}
	s.state = StateIdle
	manager := s.manager
	sessionID := s.sessionID
	runCancel := s.runCancel
	llmCancel := s.llmCancel
	s.manager = nil
	s.sessionID = ""
	s.runCancel = nil
	s.llmCancel = nil
	s.history = nil
	s.screenshot = nil
	s.mu.Unlock()

	if llmCancel != nil {
		llmCancel()
	}
	if runCancel != nil {
		runCancel()
	}
	s.pipeline.StopAll()
	if manager != nil {
		if err := manager.Close(ctx); err != nil {
			s.logger.Errorf("failed to close stt sessions: %v", err)
		}
	}
	if sessionID != "" {
		if err := s.repo.EndSession(ctx, sessionID); err != nil {
			s.logger.Errorf("failed to end session %s: %v", sessionID, err)
		}
	}
	s.presenter.Clear()
	s.publishState()
	s.logger.Infof("listen session stopped: session=%s", sessionID)
	return nil
}

// State reports the externally visible state.
func (s *Service) State() internal_type.ListenState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return internal_type.ListenState{
		IsListening:  s.state != StateIdle,
		IsPaused:     s.state == StatePaused,
		IsProcessing: s.state == StateProcessing,
	}
}

// History returns a snapshot of the finalized conversation turns.
func (s *Service) History() []internal_type.Utterance {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]internal_type.Utterance, len(s.history))
	copy(out, s.history)
	return out
}

// Messages returns the display-ready view.
func (s *Service) Messages() []internal_type.Utterance {
	return s.presenter.Messages()
}

// PushAudio ingests one client-recorded frame (the microphone path).
func (s *Service) PushAudio(source internal_type.AudioSource, data string) error {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	if state == StateIdle {
		return ErrNotListening
	}
	if state == StatePaused {
		// Dropped by design while paused; nothing should transcribe.
		return nil
	}
	return s.pipeline.PushFrame(source, data)
}

// =============================================================================
// Transcription plumbing
// =============================================================================

// ingestChunk is the capture pipeline sink: framed mono chunks go to the
// provider session of their channel.
func (s *Service) ingestChunk(source internal_type.AudioSource, data string) {
	s.mu.Lock()
	state := s.state
	manager := s.manager
	s.mu.Unlock()
	if manager == nil || state == StatePaused || state == StateIdle {
		return
	}
	if err := manager.SendAudio(source, data); err != nil {
		if !errors.Is(err, internal_type.ErrSessionNotActive) {
			s.logger.Errorf("failed to forward %s audio: %v", source, err)
		}
	}
}

func (s *Service) handleUtterance(u internal_type.Utterance) {
	if u.IsFinal {
		s.appendHistory(u)
	}
	if s.presenter.Present(u) {
		s.emitter.Publish(internal_broadcast.TranscriptUpdateEvent{Utterance: u})
		if u.IsFinal {
			s.publishConversation()
		}
	}
}

func (s *Service) persistFinal(speaker internal_type.Speaker, text string) {
	s.mu.Lock()
	sessionID := s.sessionID
	s.mu.Unlock()
	if sessionID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.repo.AddTranscript(ctx, sessionID, string(speaker), text); err != nil {
		s.logger.Errorf("failed to persist transcript: %v", err)
	}
}

func (s *Service) handleSessionError(source internal_type.AudioSource, err error) {
	s.publishError(asListenError(err))
}

func (s *Service) appendHistory(u internal_type.Utterance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, u)
	if limit := s.cfg.Listen.HistorySize; limit > 0 && len(s.history) > limit {
		s.history = s.history[len(s.history)-limit:]
	}
}

// ConversationText renders the finalized history as attributed lines.
func (s *Service) ConversationText() string {
	history := s.History()
	lines := make([]string, 0, len(history))
	for _, u := range history {
		lines = append(lines, fmt.Sprintf("[%s] %s: %s", u.Timestamp.Format("15:04:05"), u.Speaker, u.Text))
	}
	return strings.Join(lines, "\n")
}

// =============================================================================
// Assistant requests
// =============================================================================

// RequestSummary starts one streaming assistant request over the current
// conversation. Exactly one request may be in flight: asking again while
// processing fails with ErrBusy. An empty conversation is a no-op. The
// request runs in the background; tokens surface as assistant utterances and
// the terminal state is always paused.
func (s *Service) RequestSummary(includeScreenshot bool) error {
	s.mu.Lock()
	switch s.state {
	case StateIdle:
		s.mu.Unlock()
		return ErrNotListening
	case StateProcessing:
		s.mu.Unlock()
		return ErrBusy
	}

	if len(s.history) == 0 {
		s.mu.Unlock()
		s.logger.Debugf("summary requested with empty conversation; ignoring")
		return nil
	}

	// A leftover cancel func here means a previous request never cleaned
	// up; cancel it before replacing it.
	if s.llmCancel != nil {
		s.llmCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.llmCancel = cancel
	s.state = StateProcessing
	var screenshot *internal_type.Screenshot
	if includeScreenshot {
		screenshot = s.screenshot
	}
	s.mu.Unlock()

	conversation := s.ConversationText()
	s.presenter.Gate()
	s.publishState()

	utils.Go(ctx, s.logger, func() { s.runSummary(ctx, conversation, screenshot) })
	return nil
}

func (s *Service) runSummary(ctx context.Context, conversation string, screenshot *internal_type.Screenshot) {
	started := time.Now()
	defer s.finishSummary()
	defer func() { s.logger.Benchmark("listen.summary", time.Since(started)) }()

	userMsg := internal_type.Message{
		Role: internal_type.RoleUser,
		Text: "Conversation so far:\n\n" + conversation,
	}
	if screenshot != nil {
		userMsg.Image = &internal_type.ImageAttachment{
			Base64:   screenshot.Base64,
			MimeType: "image/jpeg",
		}
	}
	messages := []internal_type.Message{
		{Role: internal_type.RoleSystem, Text: summarySystemPrompt},
		userMsg,
	}

	stream, err := s.llm.StreamChat(ctx, messages)
	if err != nil {
		s.publishError(asListenError(err))
		return
	}
	defer stream.Close()

	messageID := uuid.NewString()
	var answer strings.Builder
	for {
		token, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			le := asListenError(err)
			if le.Type != internal_type.ErrorAbort {
				s.publishError(le)
			}
			return
		}
		answer.WriteString(token)
		s.handleUtterance(internal_type.Utterance{
			Speaker:   internal_type.SpeakerAI,
			Text:      answer.String(),
			Timestamp: time.Now(),
			IsPartial: true,
			MessageID: messageID,
		})
	}

	text := strings.TrimSpace(answer.String())
	if text == "" {
		return
	}
	final := internal_type.Utterance{
		Speaker:   internal_type.SpeakerAI,
		Text:      text,
		Timestamp: time.Now(),
		IsFinal:   true,
		MessageID: messageID,
	}
	s.handleUtterance(final)
	s.persistFinal(internal_type.SpeakerAI, text)
}

// finishSummary lands the orchestrator in paused regardless of how the
// request ended, so the user explicitly resumes before new speech surfaces.
func (s *Service) finishSummary() {
	s.mu.Lock()
	if s.llmCancel != nil {
		s.llmCancel()
		s.llmCancel = nil
	}
	if s.state == StateProcessing {
		s.state = StatePaused
	}
	s.mu.Unlock()
	s.publishState()
}

// =============================================================================
// Screenshots & events
// =============================================================================

// screenshotLoop refreshes the assistant's visual context while actively
// listening. Failures skip the tick; the next one tries again.
func (s *Service) screenshotLoop(ctx context.Context) {
	if s.screen == nil {
		return
	}
	ticker := time.NewTicker(s.cfg.Listen.ScreenshotInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			state := s.state
			s.mu.Unlock()
			if state != StateListening {
				continue
			}

			capCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			shot, err := s.screen.Capture(capCtx)
			cancel()
			if err != nil {
				s.logger.Debugf("screenshot tick skipped: %v", err)
				continue
			}
			s.mu.Lock()
			s.screenshot = shot
			s.mu.Unlock()
		}
	}
}

func (s *Service) publishState() {
	s.emitter.Publish(internal_broadcast.StateEvent{State: s.State()})
}

func (s *Service) publishError(err *internal_type.ListenError) {
	s.logger.Errorf("listen error: %v", err)
	s.emitter.Publish(internal_broadcast.ErrorEvent{Err: *err})
}

func (s *Service) publishConversation() {
	s.mu.Lock()
	screenshot := s.screenshot
	s.mu.Unlock()
	s.emitter.Publish(internal_broadcast.ConversationEvent{
		Messages:         s.presenter.Messages(),
		ConversationText: s.ConversationText(),
		Screenshot:       screenshot,
	})
}

func asListenError(err error) *internal_type.ListenError {
	var le *internal_type.ListenError
	if errors.As(err, &le) {
		return le
	}
	if errors.Is(err, context.Canceled) {
		return internal_type.NewListenError(internal_type.ErrorAbort, "request was cancelled")
	}
	return internal_type.NewListenError(internal_type.ErrorUnknown, err.Error())
}
