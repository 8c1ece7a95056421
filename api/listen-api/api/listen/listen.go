// Copyright (c) 2025 Auricle Labs
//
// Licensed under GPL-2.0 with Auricle Additional Terms.
// See LICENSE.md for commercial usage.
package listen_api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	internal_broadcast "github.com/auricleai/api/listen-api/internal/broadcast"
	internal_listen "github.com/auricleai/api/listen-api/internal/listen"
	internal_type "github.com/auricleai/api/listen-api/internal/type"
	"github.com/auricleai/config"
	"github.com/auricleai/pkg/commons"
)

// ListenApi exposes the orchestrator over HTTP and streams its events over a
// websocket.
type ListenApi struct {
	cfg     *config.AppConfig
	logger  commons.Logger
	service *internal_listen.Service
	emitter *internal_broadcast.Emitter

	upgrader websocket.Upgrader
}

func NewListenApi(cfg *config.AppConfig, logger commons.Logger, service *internal_listen.Service, emitter *internal_broadcast.Emitter) *ListenApi {
	return &ListenApi{
		cfg:     cfg,
		logger:  logger,
		service: service,
		emitter: emitter,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The desktop shell runs the UI from a custom origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (a *ListenApi) Start(c *gin.Context) {
	if err := a.service.Start(c.Request.Context()); err != nil {
		a.fail(c, err)
		return
	}
	a.ok(c, a.service.State())
}

func (a *ListenApi) Stop(c *gin.Context) {
	if err := a.service.Stop(c.Request.Context()); err != nil {
		a.fail(c, err)
		return
	}
	a.ok(c, a.service.State())
}

func (a *ListenApi) Pause(c *gin.Context) {
	if err := a.service.Pause(); err != nil {
		a.fail(c, err)
		return
	}
	a.ok(c, a.service.State())
}

func (a *ListenApi) Resume(c *gin.Context) {
	if err := a.service.Resume(); err != nil {
		a.fail(c, err)
		return
	}
	a.ok(c, a.service.State())
}

func (a *ListenApi) Toggle(c *gin.Context) {
	if err := a.service.Toggle(c.Request.Context()); err != nil {
		a.fail(c, err)
		return
	}
	a.ok(c, a.service.State())
}

func (a *ListenApi) Summary(c *gin.Context) {
	includeScreenshot := c.DefaultQuery("screenshot", "true") != "false"
	if err := a.service.RequestSummary(includeScreenshot); err != nil {
		a.fail(c, err)
		return
	}
	a.ok(c, a.service.State())
}

func (a *ListenApi) State(c *gin.Context) {
	a.ok(c, a.service.State())
}

func (a *ListenApi) History(c *gin.Context) {
	a.ok(c, gin.H{
		"history":          a.service.History(),
		"conversationText": a.service.ConversationText(),
	})
}

func (a *ListenApi) Messages(c *gin.Context) {
	a.ok(c, gin.H{"messages": a.service.Messages()})
}

type pushAudioRequest struct {
	Source internal_type.AudioSource `json:"source" binding:"required"`
	Data   string                    `json:"data" binding:"required"`
}

// PushAudio ingests one client-recorded base64 PCM frame.
func (a *ListenApi) PushAudio(c *gin.Context) {
	var req pushAudioRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	if err := a.service.PushAudio(req.Source, req.Data); err != nil {
		a.fail(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// wireEvent is the websocket envelope: the event name the UI dispatches on
// plus the payload.
type wireEvent struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Events upgrades to a websocket and forwards every broadcast event until
// the client goes away.
func (a *ListenApi) Events(c *gin.Context) {
	conn, err := a.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		a.logger.Errorf("failed to upgrade events socket: %v", err)
		return
	}
	defer conn.Close()

	events, cancel := a.emitter.Subscribe()
	defer cancel()

	// Reader goroutine: we never expect client frames, but reading is what
	// detects disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(wireEvent{Event: ev.EventName(), Data: ev}); err != nil {
				a.logger.Debugf("events socket write failed: %v", err)
				return
			}
		}
	}
}

func (a *ListenApi) ok(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func (a *ListenApi) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	body := gin.H{"success": false, "error": err.Error()}

	var le *internal_type.ListenError
	switch {
	case errors.Is(err, internal_listen.ErrBusy):
		status = http.StatusConflict
	case errors.Is(err, internal_listen.ErrNotListening):
		status = http.StatusPreconditionFailed
	case errors.As(err, &le):
		body["type"] = le.Type
		switch le.Type {
		case internal_type.ErrorAuth, internal_type.ErrorAPIKey:
			status = http.StatusUnauthorized
		case internal_type.ErrorRateLimit:
			status = http.StatusTooManyRequests
		}
	}
	c.JSON(status, body)
}
