// Copyright (c) 2025 Auricle Labs
//
// Licensed under GPL-2.0 with Auricle Additional Terms.
// See LICENSE.md for commercial usage.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	internal_auth "github.com/auricleai/api/listen-api/internal/auth"
	internal_broadcast "github.com/auricleai/api/listen-api/internal/broadcast"
	internal_listen "github.com/auricleai/api/listen-api/internal/listen"
	internal_llm "github.com/auricleai/api/listen-api/internal/llm"
	internal_repository "github.com/auricleai/api/listen-api/internal/repository"
	internal_screenshot "github.com/auricleai/api/listen-api/internal/screenshot"
	internal_transformer_deepgram "github.com/auricleai/api/listen-api/internal/transformer/deepgram"
	internal_transformer_openai "github.com/auricleai/api/listen-api/internal/transformer/openai"
	internal_type "github.com/auricleai/api/listen-api/internal/type"
	listen_routers "github.com/auricleai/api/listen-api/router"
	"github.com/auricleai/config"
	"github.com/auricleai/pkg/commons"
	"github.com/auricleai/pkg/connectors"
)

func main() {
	v, err := config.InitConfig()
	if err != nil {
		log.Fatalf("failed to initialize config: %v", err)
	}
	cfg, err := config.GetApplicationConfig(v)
	if err != nil {
		log.Fatalf("failed to load application config: %v", err)
	}

	logger := commons.NewLogger(commons.LoggerConfig{
		Level:    cfg.LogLevel,
		FilePath: cfg.LogFile,
	})
	defer logger.Sync()

	sqlite, err := connectors.NewSqliteConnector(cfg.SqlitePath)
	if err != nil {
		logger.Errorf("failed to open transcript store: %v", err)
		os.Exit(1)
	}
	defer sqlite.Close()

	repo, err := internal_repository.NewStore(logger, sqlite)
	if err != nil {
		logger.Errorf("failed to initialize transcript store: %v", err)
		os.Exit(1)
	}

	sttProvider, err := newSttProvider(cfg, logger)
	if err != nil {
		logger.Errorf("failed to initialize stt provider: %v", err)
		os.Exit(1)
	}
	llm, err := newLLMStreamer(cfg, logger)
	if err != nil {
		logger.Errorf("failed to initialize llm provider: %v", err)
		os.Exit(1)
	}

	emitter := internal_broadcast.NewEmitter(logger)
	defer emitter.Close()

	authHolder := internal_auth.NewHolder(cfg.UserID)
	screen := internal_screenshot.NewCapturer(logger, cfg.Listen.ScreenshotCommand)
	service := internal_listen.NewService(logger, *cfg, emitter, repo, authHolder, sttProvider, llm, screen)

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Authorization"},
	}))

	listen_routers.HealthCheckRoutes(cfg, engine, logger, sqlite)
	listen_routers.ListenApiRoutes(cfg, engine, logger, service, emitter)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: engine,
	}
	go func() {
		logger.Infof("%s %s listening on %s", cfg.Name, cfg.Version, server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("server stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Infof("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = service.Stop(ctx)
	_ = server.Shutdown(ctx)
}

func newSttProvider(cfg *config.AppConfig, logger commons.Logger) (internal_type.SttProvider, error) {
	switch cfg.SttProvider {
	case "deepgram":
		return internal_transformer_deepgram.NewProvider(logger, cfg.DeepgramKey)
	default:
		return internal_transformer_openai.NewProvider(logger, cfg.OpenAIKey)
	}
}

func newLLMStreamer(cfg *config.AppConfig, logger commons.Logger) (internal_type.LLMStreamer, error) {
	switch cfg.LlmProvider {
	case "anthropic":
		return internal_llm.NewAnthropicStreamer(logger, cfg.AnthropicKey, cfg.LlmModel)
	default:
		return internal_llm.NewOpenAIStreamer(logger, cfg.OpenAIKey, cfg.LlmModel)
	}
}
