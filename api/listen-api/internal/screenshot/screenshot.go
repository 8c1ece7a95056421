// Copyright (c) 2025 Auricle Labs
//
// Licensed under GPL-2.0 with Auricle Additional Terms.
// See LICENSE.md for commercial usage.
package internal_screenshot

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os/exec"
	"runtime"
	"strings"
	"time"

	internal_type "github.com/auricleai/api/listen-api/internal/type"
	"github.com/auricleai/pkg/commons"
)

// Capturer shells out to a platform capture command that writes an encoded
// image to stdout (e.g. `screencapture -x -t jpg -` on macOS). Captures feed
// the assistant's visual context; only the most recent one is ever kept, so
// a failed tick is logged and skipped rather than retried.
type Capturer struct {
	logger  commons.Logger
	command string
}

func NewCapturer(logger commons.Logger, command string) *Capturer {
	return &Capturer{logger: logger, command: command}
}

func (c *Capturer) Capture(ctx context.Context) (*internal_type.Screenshot, error) {
	if c.command == "" {
		return nil, internal_type.NewListenError(
			internal_type.ErrorPlatform,
			fmt.Sprintf("screen capture is not configured for %s", runtime.GOOS))
	}

	parts := strings.Fields(c.command)
	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, internal_type.NewListenError(
			internal_type.ErrorPlatform,
			fmt.Sprintf("screen capture failed: %v", err))
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(out.Bytes()))
	if err != nil {
		return nil, internal_type.NewListenError(
			internal_type.ErrorPlatform, "capture produced an unreadable image")
	}

	c.logger.Debugf("screen captured: format=%s, %dx%d, %d bytes", format, cfg.Width, cfg.Height, out.Len())
	return &internal_type.Screenshot{
		Base64:    base64.StdEncoding.EncodeToString(out.Bytes()),
		Width:     cfg.Width,
		Height:    cfg.Height,
		Timestamp: time.Now(),
	}, nil
}
