// Copyright (c) 2025 Auricle Labs
//
// Licensed under GPL-2.0 with Auricle Additional Terms.
// See LICENSE.md for commercial usage.
package internal_transformer_openai

import (
	"encoding/json"
	"strings"

	internal_type "github.com/auricleai/api/listen-api/internal/type"
)

// =============================================================================
// OpenAI Realtime Message Normalizer
// =============================================================================

const (
	msgTypeDelta     = "conversation.item.input_audio_transcription.delta"
	msgTypeCompleted = "conversation.item.input_audio_transcription.completed"

	// Synthetic filler tokens the realtime endpoint occasionally leaks into
	// delta streams; they are never real speech.
	fillerTokenMarker = "vq_lbr_audio_"
	noiseMarker       = "<noise>"
)

// realtimeMessage is the subset of the realtime wire shape we care about.
// Transcript text shows up in different fields depending on message type.
type realtimeMessage struct {
	Type         string `json:"type"`
	Delta        string `json:"delta"`
	Transcript   string `json:"transcript"`
	Alternatives []struct {
		Transcript string `json:"transcript"`
	} `json:"alternatives"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (m *realtimeMessage) text() string {
	if m.Transcript != "" {
		return m.Transcript
	}
	if m.Delta != "" {
		return m.Delta
	}
	if len(m.Alternatives) > 0 {
		return m.Alternatives[0].Transcript
	}
	return ""
}

// Normalize converts one raw realtime message into a vendor-neutral
// transcript event. The second return is false for messages that carry no
// usable speech (session acks, filler tokens, noise markers, parse failures);
// such messages are skipped without aborting the stream. A provider-reported
// error is returned as err.
func Normalize(raw []byte) (*internal_type.TranscriptEvent, bool, error) {
	var msg realtimeMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, false, nil
	}

	if msg.Error != nil && msg.Error.Message != "" {
		return nil, false, internal_type.NewListenError(
			internal_type.ErrorServer, msg.Error.Message)
	}

	switch msg.Type {
	case msgTypeDelta:
		text := msg.text()
		if text == "" || strings.Contains(text, fillerTokenMarker) {
			return nil, false, nil
		}
		return &internal_type.TranscriptEvent{
			Kind: internal_type.TranscriptDelta,
			Text: text,
		}, true, nil

	case msgTypeCompleted:
		text := cleanTranscript(msg.text())
		if text == "" {
			return nil, false, nil
		}
		return &internal_type.TranscriptEvent{
			Kind: internal_type.TranscriptCompleted,
			Text: text,
		}, true, nil
	}

	return nil, false, nil
}

// cleanTranscript strips noise markers and discards degenerate results.
func cleanTranscript(text string) string {
	text = strings.TrimSpace(strings.ReplaceAll(text, noiseMarker, ""))
	if text == "." {
		return ""
	}
	return text
}
