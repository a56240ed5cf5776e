package http

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/anteroom-chat/anteroom/internal/adapters/signal"
	"github.com/anteroom-chat/anteroom/internal/app"
	"github.com/anteroom-chat/anteroom/internal/config"
	"github.com/anteroom-chat/anteroom/internal/repo"
)

func SetupRouter(ctx context.Context, cfg *config.Config, identity repo.IdentityRepo, consensus *app.Consensus, registry *app.Registry) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	h := NewHandlers(identity, consensus)
	ws := signal.NewController(identity, consensus, registry, cfg)

	log.Info().Str("module", "adapters.http").Msg("router setup")

	api := r.Group("/api")
	api.POST("/credentials", h.IssueCredential)

	// The websocket authenticates in-band, so it sits outside the
	// credential middleware.
	api.GET("/ws", func(c *gin.Context) {
		ws.HandleSignal(ctx, c)
	})

	authed := api.Group("")
	authed.Use(h.CredentialMiddleware())
	authed.PATCH("/me", h.Rename)
	authed.POST("/rooms", h.CreateRoom)
	authed.GET("/rooms", h.ListRooms)
	authed.GET("/rooms/:room_id", h.RoomDetails)
	authed.DELETE("/rooms/:room_id/membership", h.ExitRoom)
	authed.POST("/rooms/:room_id/join-requests", h.RequestJoin)
	authed.GET("/rooms/:room_id/join-requests", h.ListJoinRequests)
	authed.POST("/rooms/:room_id/join-requests/:request_id/vote", h.Vote)

	return r
}
