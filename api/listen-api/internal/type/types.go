// Copyright (c) 2025 Auricle Labs
//
// Licensed under GPL-2.0 with Auricle Additional Terms.
// See LICENSE.md for commercial usage.
package internal_type

import (
	"fmt"
	"time"
)

// =============================================================================
// Speakers & audio sources
// =============================================================================

// Speaker identifies who produced a span of conversation text. The engine
// works with exactly two live channels (local microphone and system audio)
// plus the assistant itself and synthetic system notices.
type Speaker string

const (
	SpeakerLocal  Speaker = "Me"
	SpeakerRemote Speaker = "Them"
	SpeakerAI     Speaker = "AI"
	SpeakerSystem Speaker = "System"
)

// AudioSource names the two ingest channels.
type AudioSource string

const (
	SourceMicrophone AudioSource = "microphone"
	SourceSystem     AudioSource = "system"
)

// Speaker maps an audio source to the speaker attributed to it.
func (s AudioSource) Speaker() Speaker {
	if s == SourceMicrophone {
		return SpeakerLocal
	}
	return SpeakerRemote
}

// =============================================================================
// Utterances
// =============================================================================

// Utterance is a speaker-attributed span of text. While partial it is
// replaced in place by the presenter; once final it is frozen.
type Utterance struct {
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	IsPartial bool      `json:"isPartial"`
	IsFinal   bool      `json:"isFinal"`
	MessageID string    `json:"messageId,omitempty"`
}

// TranscriptEventKind distinguishes the two normalized provider signals.
type TranscriptEventKind int

const (
	// TranscriptDelta is a growing fragment of an in-progress utterance.
	TranscriptDelta TranscriptEventKind = iota
	// TranscriptCompleted is a settled fragment; the turn-completion
	// debounce decides when a run of completed fragments forms one turn.
	TranscriptCompleted
)

// TranscriptEvent is the vendor-neutral transcription signal every provider
// adapter emits. Raw provider message shapes never cross this boundary.
type TranscriptEvent struct {
	Kind TranscriptEventKind
	Text string
}

// =============================================================================
// Listen state & screenshots
// =============================================================================

// ListenState is the externally visible orchestrator state.
type ListenState struct {
	IsListening  bool `json:"isListening"`
	IsPaused     bool `json:"isPaused"`
	IsProcessing bool `json:"isProcessing"`
}

// Screenshot is a point-in-time screen capture; at most one is retained and
// each capture tick replaces it.
type Screenshot struct {
	Base64    string    `json:"base64"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Timestamp time.Time `json:"timestamp"`
}

// =============================================================================
// Error taxonomy
// =============================================================================

// ErrorType classifies listen-session failures for the UI layer.
type ErrorType string

const (
	ErrorAuth            ErrorType = "auth"
	ErrorAPIKey          ErrorType = "api_key"
	ErrorSttInit         ErrorType = "stt_init"
	ErrorAudioPermission ErrorType = "audio_permission"
	ErrorPlatform        ErrorType = "platform"
	ErrorNetwork         ErrorType = "network"
	ErrorRateLimit       ErrorType = "rate_limit"
	ErrorServer          ErrorType = "server"
	ErrorAbort           ErrorType = "abort"
	ErrorUnknown         ErrorType = "unknown"
)

// ListenError is a typed, user-presentable failure.
type ListenError struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"error"`
}

func (e *ListenError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// NewListenError builds a typed listen error.
func NewListenError(typ ErrorType, message string) *ListenError {
	return &ListenError{Type: typ, Message: message}
}
