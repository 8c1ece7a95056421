// Copyright (c) 2025 Auricle Labs
//
// Licensed under GPL-2.0 with Auricle Additional Terms.
// See LICENSE.md for commercial usage.
package internal_transformer_deepgram

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	internal_type "github.com/auricleai/api/listen-api/internal/type"
	"github.com/auricleai/pkg/commons"
)

const (
	listenModel       = "nova"
	handshakeTimeout  = 30 * time.Second
	keepAliveInterval = 5 * time.Second
)

// liveEndpoint is a variable so tests can point sessions at a local server.
var liveEndpoint = "wss://api.deepgram.com/v1/listen"

// Provider opens live transcription sessions against Deepgram.
type Provider struct {
	logger commons.Logger
	apiKey string
}

func NewProvider(logger commons.Logger, apiKey string) (*Provider, error) {
	if apiKey == "" {
		return nil, internal_type.NewListenError(
			internal_type.ErrorAPIKey, "deepgram api key is not configured")
	}
	return &Provider{logger: logger, apiKey: apiKey}, nil
}

func (p *Provider) Name() string { return "deepgram" }

// connectionString builds the live endpoint URL with listen options baked in.
func (p *Provider) connectionString(opts internal_type.SttOptions) string {
	sampleRate := opts.SampleRate
	if sampleRate == 0 {
		sampleRate = 24000
	}
	language := opts.Language
	if language == "" {
		language = "en"
	}

	q := url.Values{}
	q.Set("model", listenModel)
	q.Set("language", language)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("channels", "1")
	q.Set("interim_results", "true")
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	return liveEndpoint + "?" + q.Encode()
}

func (p *Provider) OpenSession(ctx context.Context, opts internal_type.SttOptions) (internal_type.SttSession, error) {
	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, p.connectionString(opts), headers)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to deepgram live endpoint: %w", err)
	}

	s := &session{
		logger:     p.logger,
		conn:       conn,
		normalizer: NewNormalizer(),
		events:     make(chan internal_type.TranscriptEvent, 64),
		errs:       make(chan error, 8),
		done:       make(chan struct{}),
	}
	go s.readLoop()
	go s.keepAliveLoop()

	p.logger.Debugf("deepgram stt session opened: language=%s", opts.Language)
	return s, nil
}

type session struct {
	logger     commons.Logger
	conn       *websocket.Conn
	normalizer *Normalizer
	writeMu    sync.Mutex
	events     chan internal_type.TranscriptEvent
	errs       chan error
	done       chan struct{}
	closeMu    sync.Mutex
	closed     bool
}

func (s *session) Events() <-chan internal_type.TranscriptEvent { return s.events }
func (s *session) Errors() <-chan error                         { return s.errs }

// SendAudio forwards one base64 PCM chunk as a binary frame.
func (s *session) SendAudio(data string) error {
	select {
	case <-s.done:
		return internal_type.ErrSessionNotActive
	default:
	}

	pcm, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return fmt.Errorf("failed to decode audio chunk: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
		return fmt.Errorf("failed to write audio frame: %w", err)
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
				s.logger.Debugf("deepgram stt session closed by server")
				return
			}
			select {
			case s.errs <- fmt.Errorf("deepgram read error: %w", err):
			case <-s.done:
			}
			return
		}

		ev, ok, err := s.normalizer.Normalize(raw)
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

// keepAliveLoop keeps the live connection open across silence; Deepgram
// drops streams that go quiet for too long without it.
func (s *session) keepAliveLoop() {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"KeepAlive"}`))
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (s *session) Close(ctx context.Context) error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)

	s.writeMu.Lock()
	_ = s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
	_ = s.conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client initiated close"),
	)
	s.writeMu.Unlock()

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close deepgram connection: %w", err)
	}
	return nil
}
