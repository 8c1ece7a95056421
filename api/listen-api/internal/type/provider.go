// Copyright (c) 2025 Auricle Labs
//
// Licensed under GPL-2.0 with Auricle Additional Terms.
// See LICENSE.md for commercial usage.
package internal_type

import (
	"context"
	"errors"
)

// =============================================================================
// Speech-to-text provider boundary
// =============================================================================

// SttOptions configures a provider transcription session.
type SttOptions struct {
	Language   string
	SampleRate int
	Prompt     string
}

// SttSession is one live provider transcription stream. Implementations own
// their transport; callers only see normalized events.
type SttSession interface {
	// SendAudio forwards one base64-encoded mono PCM chunk.
	SendAudio(data string) error
	// Events yields normalized transcript events until the session ends.
	Events() <-chan TranscriptEvent
	// Errors yields transport/provider errors. The channel closes with Events.
	Errors() <-chan error
	// Close tears the session down. Safe to call more than once.
	Close(ctx context.Context) error
}

// SttProvider opens transcription sessions against one vendor.
type SttProvider interface {
	Name() string
	OpenSession(ctx context.Context, opts SttOptions) (SttSession, error)
}

// =============================================================================
// LLM provider boundary
// =============================================================================

// Role is a chat message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ImageAttachment is an inline image handed to the model.
type ImageAttachment struct {
	Base64   string
	MimeType string
}

// Message is a provider-agnostic chat message.
type Message struct {
	Role  Role
	Text  string
	Image *ImageAttachment
}

// TokenStream is a scoped handle over one streaming completion. Recv returns
// io.EOF when the stream ends cleanly. Close must be called on every exit
// path; it releases the underlying reader and is safe after an error.
type TokenStream interface {
	Recv() (string, error)
	Close() error
}

// LLMStreamer opens streaming completions.
type LLMStreamer interface {
	Name() string
	// VerifyCredential confirms the configured API key is usable.
	VerifyCredential(ctx context.Context) error
	StreamChat(ctx context.Context, messages []Message) (TokenStream, error)
}

// =============================================================================
// Other external collaborators
// =============================================================================

// ScreenCapturer produces screen snapshots for LLM context.
type ScreenCapturer interface {
	Capture(ctx context.Context) (*Screenshot, error)
}

// Authenticator exposes the logged-in user, if any.
type Authenticator interface {
	// CurrentUserID returns the logged-in uid or an empty string.
	CurrentUserID() string
}

// ErrSessionNotActive is returned when audio is sent to a channel whose
// provider session is not active. Callers in listening mode are expected to
// treat this as a bug, not a transient condition.
var ErrSessionNotActive = errors.New("stt session not active")
