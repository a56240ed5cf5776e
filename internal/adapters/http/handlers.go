// Package http is the request/response adapter: gin routes with a
// {message, data} envelope and credential-header authentication.
package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/anteroom-chat/anteroom/internal/app"
	"github.com/anteroom-chat/anteroom/internal/domain"
	"github.com/anteroom-chat/anteroom/internal/repo"
)

const credentialHeader = "X-Credential"

const maxRoomNameLen = 64

type Handlers struct {
	identity  repo.IdentityRepo
	consensus *app.Consensus
}

func NewHandlers(identity repo.IdentityRepo, consensus *app.Consensus) *Handlers {
	return &Handlers{identity: identity, consensus: consensus}
}

type envelope struct {
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func respond(c *gin.Context, status int, message string, data any) {
	c.JSON(status, envelope{Message: message, Data: data})
}

// fail maps the error taxonomy onto HTTP statuses.
func fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		respond(c, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, domain.ErrAuth):
		respond(c, http.StatusUnauthorized, err.Error(), nil)
	case errors.Is(err, domain.ErrForbidden):
		respond(c, http.StatusForbidden, err.Error(), nil)
	case errors.Is(err, domain.ErrNotFound):
		respond(c, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, domain.ErrConflict):
		respond(c, http.StatusConflict, err.Error(), nil)
	default:
		log.Error().Err(err).Str("module", "adapters.http").Msg("internal error")
		respond(c, http.StatusInternalServerError, "internal error", nil)
	}
}

// CredentialMiddleware resolves the caller's credential header to a
// user and aborts with 401 when the lookup fails.
func (h *Handlers) CredentialMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		cred := c.GetHeader(credentialHeader)
		if cred == "" {
			respond(c, http.StatusUnauthorized, "missing credential", nil)
			c.Abort()
			return
		}
		user, err := h.identity.UserByCredential(c.Request.Context(), domain.Credential(cred))
		if err != nil {
			fail(c, err)
			c.Abort()
			return
		}
		c.Set("user", user)
		c.Next()
	}
}

func caller(c *gin.Context) *domain.User {
	return c.MustGet("user").(*domain.User)
}

type identityDTO struct {
	PublicID    string `json:"public_id"`
	DisplayName string `json:"display_name"`
}

func (h *Handlers) identityDTO(ctx context.Context, cred domain.Credential) identityDTO {
	u, err := h.identity.UserByCredential(ctx, cred)
	if err != nil {
		// A member credential that no longer resolves should not sink
		// the whole listing.
		return identityDTO{}
	}
	return identityDTO{PublicID: string(u.ID), DisplayName: u.DisplayName}
}

type roomDTO struct {
	RoomID      string        `json:"room_id"`
	Name        string        `json:"name"`
	CreatedAt   int64         `json:"created_at"`
	MemberCount int           `json:"member_count"`
	Members     []identityDTO `json:"members,omitempty"`
}

func (h *Handlers) roomDTO(ctx context.Context, room *domain.Room, withMembers bool) roomDTO {
	dto := roomDTO{
		RoomID:      string(room.ID),
		Name:        room.Name,
		CreatedAt:   room.CreatedAt.UnixMilli(),
		MemberCount: len(room.Members),
	}
	if withMembers {
		dto.Members = make([]identityDTO, 0, len(room.Members))
		for _, m := range room.Members {
			dto.Members = append(dto.Members, h.identityDTO(ctx, m))
		}
	}
	return dto
}

type decisionDTO struct {
	Member identityDTO `json:"member"`
	Vote   string      `json:"vote"`
}

type joinRequestDTO struct {
	RequestID   string        `json:"request_id"`
	RoomID      string        `json:"room_id"`
	Requestor   identityDTO   `json:"requestor"`
	Status      string        `json:"status"`
	RequestedAt int64         `json:"requested_at"`
	Decisions   []decisionDTO `json:"decisions"`
}

func (h *Handlers) joinRequestDTO(ctx context.Context, req *domain.JoinRequest) joinRequestDTO {
	decisions := make([]decisionDTO, 0, len(req.Decisions))
	for _, d := range req.Decisions {
		decisions = append(decisions, decisionDTO{
			Member: h.identityDTO(ctx, d.Member),
			Vote:   string(d.Vote),
		})
	}
	return joinRequestDTO{
		RequestID:   string(req.ID),
		RoomID:      string(req.RoomID),
		Requestor:   h.identityDTO(ctx, req.Requestor),
		Status:      string(req.Status),
		RequestedAt: req.RequestedAt.UnixMilli(),
		Decisions:   decisions,
	}
}

// IssueCredential registers a new user and hands back the credential.
// The only place a credential ever appears in a response.
func (h *Handlers) IssueCredential(c *gin.Context) {
	var body struct {
		DisplayName string `json:"display_name"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respond(c, http.StatusBadRequest, "missing or invalid body", nil)
		return
	}
	user, err := h.identity.CreateUser(c.Request.Context(), body.DisplayName)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusCreated, "credential issued", gin.H{
		"credential":   string(user.Credential),
		"public_id":    string(user.ID),
		"display_name": user.DisplayName,
	})
}

func (h *Handlers) Rename(c *gin.Context) {
	var body struct {
		DisplayName string `json:"display_name"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respond(c, http.StatusBadRequest, "missing or invalid body", nil)
		return
	}
	user, err := h.identity.Rename(c.Request.Context(), caller(c).Credential, body.DisplayName)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, "display name updated", identityDTO{
		PublicID:    string(user.ID),
		DisplayName: user.DisplayName,
	})
}

func (h *Handlers) CreateRoom(c *gin.Context) {
	var body struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&body); err != nil && c.Request.ContentLength > 0 {
		respond(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	if len(body.Name) > maxRoomNameLen {
		respond(c, http.StatusBadRequest, "room name too long", nil)
		return
	}
	room, err := h.consensus.CreateRoom(c.Request.Context(), body.Name, caller(c))
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusCreated, "room created", h.roomDTO(c.Request.Context(), room, true))
}

func (h *Handlers) ListRooms(c *gin.Context) {
	rooms, err := h.consensus.RoomsFor(c.Request.Context(), caller(c))
	if err != nil {
		fail(c, err)
		return
	}
	out := make([]roomDTO, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, h.roomDTO(c.Request.Context(), room, false))
	}
	respond(c, http.StatusOK, "rooms", out)
}

func (h *Handlers) RoomDetails(c *gin.Context) {
	room, err := h.consensus.RoomDetails(c.Request.Context(), domain.RoomID(c.Param("room_id")), caller(c))
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, "room", h.roomDTO(c.Request.Context(), room, true))
}

func (h *Handlers) ExitRoom(c *gin.Context) {
	destroyed, err := h.consensus.ExitRoom(c.Request.Context(), domain.RoomID(c.Param("room_id")), caller(c))
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, "left room", gin.H{"room_destroyed": destroyed})
}

func (h *Handlers) RequestJoin(c *gin.Context) {
	req, err := h.consensus.RequestJoin(c.Request.Context(), domain.RoomID(c.Param("room_id")), caller(c))
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusCreated, "join requested", h.joinRequestDTO(c.Request.Context(), req))
}

func (h *Handlers) ListJoinRequests(c *gin.Context) {
	reqs, err := h.consensus.ListJoinRequests(c.Request.Context(), domain.RoomID(c.Param("room_id")), caller(c))
	if err != nil {
		fail(c, err)
		return
	}
	out := make([]joinRequestDTO, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, h.joinRequestDTO(c.Request.Context(), req))
	}
	respond(c, http.StatusOK, "join requests", out)
}

func (h *Handlers) Vote(c *gin.Context) {
	var body struct {
		Approve *bool `json:"approve" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respond(c, http.StatusBadRequest, "missing or invalid approve flag", nil)
		return
	}
	req, admitted, err := h.consensus.Vote(
		c.Request.Context(),
		domain.RoomID(c.Param("room_id")),
		domain.RequestID(c.Param("request_id")),
		caller(c),
		*body.Approve,
	)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, "vote recorded", gin.H{
		"status":   string(req.Status),
		"admitted": admitted,
	})
}
