// Copyright (c) 2025 Auricle Labs
//
// Licensed under GPL-2.0 with Auricle Additional Terms.
// See LICENSE.md for commercial usage.
package listen_routers

import (
	"github.com/gin-gonic/gin"

	listenApi "github.com/auricleai/api/listen-api/api/listen"
	internal_broadcast "github.com/auricleai/api/listen-api/internal/broadcast"
	internal_listen "github.com/auricleai/api/listen-api/internal/listen"
	"github.com/auricleai/config"
	"github.com/auricleai/pkg/commons"
)

func ListenApiRoutes(
	cfg *config.AppConfig,
	engine *gin.Engine,
	logger commons.Logger,
	service *internal_listen.Service,
	emitter *internal_broadcast.Emitter,
) {
	logger.Info("Listen routes added to engine.")
	api := listenApi.NewListenApi(cfg, logger, service, emitter)

	apiv1 := engine.Group("/api/v1/listen")
	{
		apiv1.POST("/start", api.Start)
		apiv1.POST("/stop", api.Stop)
		apiv1.POST("/pause", api.Pause)
		apiv1.POST("/resume", api.Resume)
		apiv1.POST("/toggle", api.Toggle)
		apiv1.POST("/summary", api.Summary)
		apiv1.POST("/audio", api.PushAudio)
		apiv1.GET("/state", api.State)
		apiv1.GET("/history", api.History)
		apiv1.GET("/messages", api.Messages)
		apiv1.GET("/events", api.Events)
	}
}
