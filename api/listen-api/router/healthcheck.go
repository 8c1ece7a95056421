// Copyright (c) 2025 Auricle Labs
//
// Licensed under GPL-2.0 with Auricle Additional Terms.
// See LICENSE.md for commercial usage.
package listen_routers

import (
	"github.com/gin-gonic/gin"

	healthApi "github.com/auricleai/api/listen-api/api/health"
	"github.com/auricleai/config"
	"github.com/auricleai/pkg/commons"
	"github.com/auricleai/pkg/connectors"
)

func HealthCheckRoutes(cfg *config.AppConfig, engine *gin.Engine, logger commons.Logger, sqlite connectors.SqliteConnector) {
	logger.Info("Internal HealthCheckRoutes and Connectors added to engine.")
	apiv1 := engine.Group("")
	hcApi := healthApi.New(cfg, logger, sqlite)
	{
		apiv1.GET("/readiness/", hcApi.Readiness)
		apiv1.GET("/healthz/", hcApi.Healthz)
	}
}
