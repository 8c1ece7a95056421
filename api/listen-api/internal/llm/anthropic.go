// Copyright (c) 2025 Auricle Labs
//
// Licensed under GPL-2.0 with Auricle Additional Terms.
// See LICENSE.md for commercial usage.
package internal_llm

import (
	"context"
	"io"
	"net/http"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	resty "github.com/go-resty/resty/v2"

	internal_type "github.com/auricleai/api/listen-api/internal/type"
	"github.com/auricleai/pkg/commons"
)

const (
	defaultAnthropicModel = string(anthropic.ModelClaudeSonnet4_0)
	anthropicMaxTokens    = 2048
	anthropicModelsURL    = "https://api.anthropic.com/v1/models"
)

// AnthropicStreamer streams chat completions from Anthropic.
type AnthropicStreamer struct {
	logger commons.Logger
	client anthropic.Client
	rest   *resty.Client
	model  string
	apiKey string
}

func NewAnthropicStreamer(logger commons.Logger, apiKey, model string) (*AnthropicStreamer, error) {
	if apiKey == "" {
		return nil, internal_type.NewListenError(
			internal_type.ErrorAPIKey, "anthropic api key is not configured")
	}
	if model == "" {
		model = defaultAnthropicModel
	}
	return &AnthropicStreamer{
		logger: logger,
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		rest:   resty.New(),
		model:  model,
		apiKey: apiKey,
	}, nil
}

func (a *AnthropicStreamer) Name() string { return "anthropic" }

func (a *AnthropicStreamer) VerifyCredential(ctx context.Context) error {
	resp, err := a.rest.R().
		SetContext(ctx).
		SetHeader("x-api-key", a.apiKey).
		SetHeader("anthropic-version", "2023-06-01").
		Get(anthropicModelsURL)
	if err != nil {
		return internal_type.NewListenError(internal_type.ErrorNetwork, err.Error())
	}

	switch {
	case resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden:
		return internal_type.NewListenError(internal_type.ErrorAPIKey, "anthropic rejected the configured api key")
	case resp.StatusCode() >= 400:
		return classifyStatus(resp.StatusCode(), internal_type.NewListenError(
			internal_type.ErrorUnknown, "credential check failed"))
	}
	return nil
}

func (a *AnthropicStreamer) StreamChat(ctx context.Context, messages []internal_type.Message) (internal_type.TokenStream, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: anthropicMaxTokens,
	}

	var system []string
	for _, msg := range messages {
		switch msg.Role {
		case internal_type.RoleSystem:
			system = append(system, msg.Text)
		case internal_type.RoleAssistant:
			params.Messages = append(params.Messages,
				anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Text)))
		default:
			params.Messages = append(params.Messages, toAnthropicUserMessage(msg))
		}
	}
	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{{Text: strings.Join(system, "\n\n")}}
	}

	stream := a.client.Messages.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, classify(err)
	}
	a.logger.Debugf("anthropic message stream opened: model=%s, messages=%d", a.model, len(params.Messages))
	return &anthropicStream{stream: stream}, nil
}

func toAnthropicUserMessage(msg internal_type.Message) anthropic.MessageParam {
	blocks := []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(msg.Text)}
	if msg.Image != nil {
		blocks = append(blocks,
			anthropic.NewImageBlockBase64(msg.Image.MimeType, msg.Image.Base64))
	}
	return anthropic.NewUserMessage(blocks...)
}

type anthropicStream struct {
	stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
}

func (s *anthropicStream) Recv() (string, error) {
	for s.stream.Next() {
		event := s.stream.Current()
		switch variant := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if delta, ok := variant.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
				return delta.Text, nil
			}
		}
	}
	if err := s.stream.Err(); err != nil {
		return "", classify(err)
	}
	return "", io.EOF
}

func (s *anthropicStream) Close() error { return s.stream.Close() }
