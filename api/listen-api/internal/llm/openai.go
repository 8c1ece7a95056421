// Copyright (c) 2025 Auricle Labs
//
// Licensed under GPL-2.0 with Auricle Additional Terms.
// See LICENSE.md for commercial usage.
package internal_llm

import (
	"context"
	"fmt"
	"io"
	"net/http"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"

	resty "github.com/go-resty/resty/v2"

	internal_type "github.com/auricleai/api/listen-api/internal/type"
	"github.com/auricleai/pkg/commons"
)

const (
	defaultOpenAIModel = "gpt-4.1"
	modelsEndpoint     = "https://api.openai.com/v1/models"
)

// OpenAIStreamer streams chat completions from OpenAI.
type OpenAIStreamer struct {
	logger commons.Logger
	client openai.Client
	rest   *resty.Client
	model  string
	apiKey string
}

func NewOpenAIStreamer(logger commons.Logger, apiKey, model string) (*OpenAIStreamer, error) {
	if apiKey == "" {
		return nil, internal_type.NewListenError(
			internal_type.ErrorAPIKey, "openai api key is not configured")
	}
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIStreamer{
		logger: logger,
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		rest:   resty.New(),
		model:  model,
		apiKey: apiKey,
	}, nil
}

func (o *OpenAIStreamer) Name() string { return "openai" }

// VerifyCredential probes the models endpoint; a 401 means the configured key
// is unusable and listening should not start.
func (o *OpenAIStreamer) VerifyCredential(ctx context.Context) error {
	resp, err := o.rest.R().
		SetContext(ctx).
		SetAuthToken(o.apiKey).
		Get(modelsEndpoint)
	if err != nil {
		return internal_type.NewListenError(internal_type.ErrorNetwork, err.Error())
	}

	switch {
	case resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden:
		return internal_type.NewListenError(internal_type.ErrorAPIKey, "openai rejected the configured api key")
	case resp.StatusCode() >= 400:
		return classifyStatus(resp.StatusCode(), fmt.Errorf("credential check failed with status %d", resp.StatusCode()))
	}
	return nil
}

func (o *OpenAIStreamer) StreamChat(ctx context.Context, messages []internal_type.Message) (internal_type.TokenStream, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.model),
		Messages: make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)),
	}
	for _, msg := range messages {
		params.Messages = append(params.Messages, toOpenAIMessage(msg))
	}

	stream := o.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, classify(err)
	}
	o.logger.Debugf("openai chat stream opened: model=%s, messages=%d", o.model, len(messages))
	return &openaiStream{stream: stream}, nil
}

func toOpenAIMessage(msg internal_type.Message) openai.ChatCompletionMessageParamUnion {
	switch msg.Role {
	case internal_type.RoleSystem:
		return openai.SystemMessage(msg.Text)
	case internal_type.RoleAssistant:
		return openai.AssistantMessage(msg.Text)
	}

	if msg.Image == nil {
		return openai.UserMessage(msg.Text)
	}
	parts := []openai.ChatCompletionContentPartUnionParam{
		openai.TextContentPart(msg.Text),
		openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL: fmt.Sprintf("data:%s;base64,%s", msg.Image.MimeType, msg.Image.Base64),
		}),
	}
	return openai.UserMessage(parts)
}

type openaiStream struct {
	stream *ssestream.Stream[openai.ChatCompletionChunk]
}

// Recv returns the next non-empty token. Chunks without text content (role
// announcements, finish markers) are skipped.
func (s *openaiStream) Recv() (string, error) {
	for s.stream.Next() {
		chunk := s.stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		if token := chunk.Choices[0].Delta.Content; token != "" {
			return token, nil
		}
	}
	if err := s.stream.Err(); err != nil {
		return "", classify(err)
	}
	return "", io.EOF
}

func (s *openaiStream) Close() error { return s.stream.Close() }
