// Copyright (c) 2025 Auricle Labs
//
// Licensed under GPL-2.0 with Auricle Additional Terms.
// See LICENSE.md for commercial usage.
package internal_transformer_deepgram

import (
	"encoding/json"
	"strings"

	internal_type "github.com/auricleai/api/listen-api/internal/type"
)

// =============================================================================
// Deepgram Live Message Normalizer
// =============================================================================

// liveMessage is the subset of the live API wire shape we consume.
type liveMessage struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

// Normalizer converts Deepgram live results into vendor-neutral events.
//
// Deepgram interim results are cumulative — each one carries the full text of
// the current segment so far — while the session manager expects append-only
// deltas. The normalizer keeps the previous interim and emits only the
// suffix; when the provider rewrites the segment the full text is re-emitted
// as the delta. Segment finals (is_final) become Completed fragments; the
// downstream debounce joins a run of them into one turn.
type Normalizer struct {
	lastInterim string
}

func NewNormalizer() *Normalizer { return &Normalizer{} }

// Normalize processes one raw live message. ok is false for messages with no
// usable speech (metadata, keepalive acks, empty transcripts, parse failures).
func (n *Normalizer) Normalize(raw []byte) (*internal_type.TranscriptEvent, bool, error) {
	var msg liveMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, false, nil
	}

	switch msg.Type {
	case "Results":
		// handled below
	case "Error":
		desc := msg.Description
		if desc == "" {
			desc = msg.Message
		}
		return nil, false, internal_type.NewListenError(internal_type.ErrorServer, desc)
	default:
		return nil, false, nil
	}

	if len(msg.Channel.Alternatives) == 0 {
		return nil, false, nil
	}
	transcript := strings.TrimSpace(msg.Channel.Alternatives[0].Transcript)
	if transcript == "" {
		return nil, false, nil
	}

	if msg.IsFinal {
		n.lastInterim = ""
		return &internal_type.TranscriptEvent{
			Kind: internal_type.TranscriptCompleted,
			Text: transcript,
		}, true, nil
	}

	delta := transcript
	if strings.HasPrefix(transcript, n.lastInterim) {
		delta = strings.TrimPrefix(transcript, n.lastInterim)
	}
	n.lastInterim = transcript
	if strings.TrimSpace(delta) == "" {
		return nil, false, nil
	}
	return &internal_type.TranscriptEvent{
		Kind: internal_type.TranscriptDelta,
		Text: delta,
	}, true, nil
}
