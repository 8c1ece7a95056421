// Copyright (c) 2025 Auricle Labs
//
// Licensed under GPL-2.0 with Auricle Additional Terms.
// See LICENSE.md for commercial usage.
package utils

import (
	"context"
	"runtime/debug"

	"github.com/auricleai/pkg/commons"
)

// Go runs fn on its own goroutine with panic recovery. A panic in a
// fire-and-forget worker must never take the process down with it; it is
// logged with its stack instead.
func Go(ctx context.Context, logger commons.Logger, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("recovered panic in goroutine: %v\n%s", r, debug.Stack())
			}
		}()
		select {
		case <-ctx.Done():
			return
		default:
		}
		fn()
	}()
}
