// Copyright (c) 2025 Auricle Labs
//
// Licensed under GPL-2.0 with Auricle Additional Terms.
// See LICENSE.md for commercial usage.
package internal_llm

import (
	"context"
	"errors"
	"net"
	"net/http"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	openai "github.com/openai/openai-go"

	internal_type "github.com/auricleai/api/listen-api/internal/type"
)

// classify maps a provider/transport failure onto the listen error taxonomy.
// Cancellation is deliberate (a newer request superseded this one) and is
// reported as an abort, never as a provider fault.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var le *internal_type.ListenError
	if errors.As(err, &le) {
		return le
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return internal_type.NewListenError(internal_type.ErrorAbort, "request was cancelled")
	}

	if status, ok := statusCode(err); ok {
		return classifyStatus(status, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return internal_type.NewListenError(internal_type.ErrorNetwork, err.Error())
	}

	return internal_type.NewListenError(internal_type.ErrorUnknown, err.Error())
}

func statusCode(err error) (int, bool) {
	var oaiErr *openai.Error
	if errors.As(err, &oaiErr) {
		return oaiErr.StatusCode, true
	}
	var antErr *anthropic.Error
	if errors.As(err, &antErr) {
		return antErr.StatusCode, true
	}
	return 0, false
}

func classifyStatus(status int, err error) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return internal_type.NewListenError(internal_type.ErrorAPIKey, "api key was rejected by the provider")
	case status == http.StatusTooManyRequests:
		return internal_type.NewListenError(internal_type.ErrorRateLimit, "provider rate limit exceeded")
	case status >= 500:
		return internal_type.NewListenError(internal_type.ErrorServer, err.Error())
	default:
		return internal_type.NewListenError(internal_type.ErrorUnknown, err.Error())
	}
}
