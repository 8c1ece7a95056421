// Copyright (c) 2025 Auricle Labs
//
// Licensed under GPL-2.0 with Auricle Additional Terms.
// See LICENSE.md for commercial usage.
package health_api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/auricleai/config"
	"github.com/auricleai/pkg/commons"
	"github.com/auricleai/pkg/connectors"
)

type HealthApi struct {
	cfg    *config.AppConfig
	logger commons.Logger
	sqlite connectors.SqliteConnector
}

func New(cfg *config.AppConfig, logger commons.Logger, sqlite connectors.SqliteConnector) *HealthApi {
	return &HealthApi{cfg: cfg, logger: logger, sqlite: sqlite}
}

func (h *HealthApi) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": h.cfg.Name, "version": h.cfg.Version})
}

// Readiness verifies the transcript store is reachable.
func (h *HealthApi) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	sqlDB, err := h.sqlite.DB(ctx).DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		h.logger.Errorf("readiness probe failed: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
