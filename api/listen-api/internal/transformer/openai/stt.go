// Copyright (c) 2025 Auricle Labs
//
// Licensed under GPL-2.0 with Auricle Additional Terms.
// See LICENSE.md for commercial usage.
package internal_transformer_openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	internal_type "github.com/auricleai/api/listen-api/internal/type"
	"github.com/auricleai/pkg/commons"
)

const (
	transcribeModel  = "gpt-4o-mini-transcribe"
	handshakeTimeout = 30 * time.Second
	maxMessageSize   = 10 * 1024 * 1024
)

// realtimeURL is a variable so tests can point sessions at a local server.
var realtimeURL = "wss://api.openai.com/v1/realtime?intent=transcription"

// sessionUpdate is the handshake configuration frame.
type sessionUpdate struct {
	Type    string        `json:"type"`
	Session sessionConfig `json:"session"`
}

type sessionConfig struct {
	InputAudioFormat         string            `json:"input_audio_format"`
	InputAudioTranscription  transcriptionOpts `json:"input_audio_transcription"`
	TurnDetection            turnDetection     `json:"turn_detection"`
	InputAudioNoiseReduction noiseReduction    `json:"input_audio_noise_reduction"`
}

type transcriptionOpts struct {
	Model    string `json:"model"`
	Prompt   string `json:"prompt"`
	Language string `json:"language"`
}

type turnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
}

type noiseReduction struct {
	Type string `json:"type"`
}

type audioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

// Provider opens realtime transcription sessions against OpenAI.
type Provider struct {
	logger commons.Logger
	apiKey string
}

func NewProvider(logger commons.Logger, apiKey string) (*Provider, error) {
	if apiKey == "" {
		return nil, internal_type.NewListenError(
			internal_type.ErrorAPIKey, "openai api key is not configured")
	}
	return &Provider{logger: logger, apiKey: apiKey}, nil
}

func (p *Provider) Name() string { return "openai" }

// OpenSession dials the realtime endpoint and pushes the transcription
// configuration. The session is considered accepted once the configuration
// frame has been written; provider rejections surface on Errors().
func (p *Provider) OpenSession(ctx context.Context, opts internal_type.SttOptions) (internal_type.SttSession, error) {
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+p.apiKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, realtimeURL, headers)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to realtime endpoint: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)

	language := opts.Language
	if language == "" {
		language = "en"
	}

	s := &session{
		logger: p.logger,
		conn:   conn,
		events: make(chan internal_type.TranscriptEvent, 64),
		errs:   make(chan error, 8),
		done:   make(chan struct{}),
	}

	cfg := sessionUpdate{
		Type: "transcription_session.update",
		Session: sessionConfig{
			InputAudioFormat: "pcm16",
			InputAudioTranscription: transcriptionOpts{
				Model:    transcribeModel,
				Prompt:   opts.Prompt,
				Language: language,
			},
			TurnDetection: turnDetection{
				Type:              "server_vad",
				Threshold:         0.5,
				PrefixPaddingMs:   50,
				SilenceDurationMs: 25,
			},
			InputAudioNoiseReduction: noiseReduction{Type: "near_field"},
		},
	}
	if err := s.write(cfg); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send session configuration: %w", err)
	}

	go s.readLoop()
	p.logger.Debugf("openai stt session opened: language=%s", language)
	return s, nil
}

type session struct {
	logger  commons.Logger
	conn    *websocket.Conn
	writeMu sync.Mutex
	events  chan internal_type.TranscriptEvent
	errs    chan error
	done    chan struct{}
	closeMu sync.Mutex
	closed  bool
}

func (s *session) Events() <-chan internal_type.TranscriptEvent { return s.events }
func (s *session) Errors() <-chan error                         { return s.errs }

// SendAudio forwards one base64 PCM chunk as an input_audio_buffer.append.
func (s *session) SendAudio(data string) error {
	select {
	case <-s.done:
		return internal_type.ErrSessionNotActive
	default:
	}
	return s.write(audioAppend{Type: "input_audio_buffer.append", Audio: data})
}

func (s *session) write(v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal realtime frame: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("failed to write realtime frame: %w", err)
	}
	return nil
}

func (s *session) readLoop() {
	defer close(s.events)
	defer close(s.errs)

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debugf("openai stt session closed by server")
				return
			}
			select {
			case s.errs <- fmt.Errorf("realtime read error: %w", err):
			case <-s.done:
			}
			return
		}

		ev, ok, err := Normalize(raw)
		if err != nil {
			select {
			case s.errs <- err:
			case <-s.done:
				return
			}
			continue
		}
		if !ok {
			continue
		}
		// Selected against done so teardown never strands this goroutine on
		// a full buffer nobody drains anymore.
		select {
		case s.events <- *ev:
		case <-s.done:
			return
		}
	}
}

// Close sends the close handshake and releases the connection. Safe to call
// more than once.
func (s *session) Close(ctx context.Context) error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)

	s.writeMu.Lock()
	_ = s.conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client initiated close"),
	)
	s.writeMu.Unlock()

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close realtime connection: %w", err)
	}
	return nil
}
