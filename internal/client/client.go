// Package client drives the persistent connection from the user's
// side: auth handshake, message-id round trips, typing/finish emission
// with local echo, and folding received events into the mirror.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/anteroom-chat/anteroom/internal/domain"
	"github.com/anteroom-chat/anteroom/internal/mirror"
)

// ErrClosed reports an operation on a connection that has gone away.
var ErrClosed = errors.New("connection closed")

// RenderFunc receives messages for the locally active room. Messages
// for other rooms are persisted but never rendered.
type RenderFunc func(domain.Message)

type Client struct {
	conn   *websocket.Conn
	store  *mirror.Store
	render RenderFunc

	identity domain.UserID

	// msgIDTimeout bounds the message-id round trip.
	msgIDTimeout time.Duration

	writeMu sync.Mutex

	mu         sync.Mutex
	pending    map[string]chan string
	activeRoom domain.RoomID
	closed     bool

	done chan struct{}
}

type Option func(*Client)

// WithRender installs the render callback for active-room messages.
func WithRender(fn RenderFunc) Option {
	return func(c *Client) { c.render = fn }
}

// WithMessageIDTimeout overrides the default 60s message-id timeout.
func WithMessageIDTimeout(d time.Duration) Option {
	return func(c *Client) { c.msgIDTimeout = d }
}

// Dial connects, runs the auth handshake and starts the read loop.
// The returned client is bound to the resolved identity.
func Dial(ctx context.Context, url string, credential domain.Credential, store *mirror.Store, opts ...Option) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	c := &Client{
		conn:         conn,
		store:        store,
		msgIDTimeout: 60 * time.Second,
		pending:      make(map[string]chan string),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.authenticate(credential); err != nil {
		_ = conn.Close()
		return nil, err
	}

	go c.readLoop()
	return c, nil
}

func (c *Client) authenticate(credential domain.Credential) error {
	if err := c.writeJSON(map[string]string{
		"type":       "auth",
		"credential": string(credential),
	}); err != nil {
		return fmt.Errorf("auth send: %w", err)
	}
	for {
		var env struct {
			Type     string `json:"type"`
			Reason   string `json:"reason"`
			Identity struct {
				PublicID    string `json:"public_id"`
				DisplayName string `json:"display_name"`
			} `json:"identity"`
		}
		if err := c.conn.ReadJSON(&env); err != nil {
			return fmt.Errorf("auth read: %w", err)
		}
		switch env.Type {
		case "auth_success":
			c.identity = domain.UserID(env.Identity.PublicID)
			return nil
		case "auth_failed":
			return fmt.Errorf("%w: %s", domain.ErrAuth, env.Reason)
		default:
			// Ignore anything that slips in before the auth answer.
		}
	}
}

// Identity is the public id the server bound this connection to.
func (c *Client) Identity() domain.UserID { return c.identity }

// SetActiveRoom switches which room's events reach the render callback.
func (c *Client) SetActiveRoom(roomID domain.RoomID) {
	c.mu.Lock()
	c.activeRoom = roomID
	c.mu.Unlock()
}

func (c *Client) writeJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

// RequestMessageID round-trips a fresh server-issued message id,
// correlated by a locally generated token. Times out after the
// configured window so callers never hang on a dead server.
func (c *Client) RequestMessageID(ctx context.Context, roomID domain.RoomID) (domain.MessageID, error) {
	token := uuid.NewString()
	ch := make(chan string, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrClosed
	}
	c.pending[token] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, token)
		c.mu.Unlock()
	}()

	if err := c.writeJSON(map[string]string{
		"type":              "request_message_id",
		"correlation_token": token,
		"room_id":           string(roomID),
	}); err != nil {
		return "", err
	}

	timer := time.NewTimer(c.msgIDTimeout)
	defer timer.Stop()
	select {
	case id, ok := <-ch:
		if !ok {
			return "", ErrClosed
		}
		return domain.MessageID(id), nil
	case <-timer.C:
		return "", fmt.Errorf("%w: no message id after %s", domain.ErrTimeout, c.msgIDTimeout)
	case <-ctx.Done():
		return "", ctx.Err()
	case <-c.done:
		return "", ErrClosed
	}
}

// SendTyping emits a draft revision and echoes it into the local
// mirror immediately.
func (c *Client) SendTyping(roomID domain.RoomID, msgID domain.MessageID, payload string) error {
	return c.sendMessageEvent("typing", roomID, msgID, payload, true)
}

// Finish emits the terminal revision; the message id must not be
// reused afterwards.
func (c *Client) Finish(roomID domain.RoomID, msgID domain.MessageID, payload string) error {
	return c.sendMessageEvent("finish", roomID, msgID, payload, false)
}

func (c *Client) sendMessageEvent(eventType string, roomID domain.RoomID, msgID domain.MessageID, payload string, draft bool) error {
	if err := c.writeJSON(map[string]string{
		"type":              eventType,
		"correlation_token": uuid.NewString(),
		"message_id":        string(msgID),
		"room_id":           string(roomID),
		"payload":           payload,
	}); err != nil {
		return err
	}
	// Local echo.
	return c.store.UpsertMessage(domain.Message{
		ID:        msgID,
		RoomID:    roomID,
		Sender:    c.identity,
		Payload:   payload,
		Draft:     draft,
		Timestamp: time.Now().UTC(),
	})
}

func (c *Client) readLoop() {
	defer c.shutdown()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "client").Msg("bad event json")
		return
	}

	switch env.Type {
	case "message_id":
		var p struct {
			CorrelationToken string `json:"correlation_token"`
			MessageID        string `json:"message_id"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return
		}
		c.mu.Lock()
		ch, ok := c.pending[p.CorrelationToken]
		c.mu.Unlock()
		if ok {
			ch <- p.MessageID
		}
	case "typing", "finish":
		c.applyMessageEvent(env.Type, data)
	case "ack", "pong":
	case "error":
		var p struct {
			Reason string `json:"reason"`
		}
		_ = json.Unmarshal(data, &p)
		log.Warn().Str("module", "client").Str("reason", p.Reason).Msg("server rejected event")
	default:
		log.Warn().Str("module", "client").Str("type", env.Type).Msg("unknown event")
	}
}

// applyMessageEvent folds a peer's typing/finish into the mirror and
// renders it only when it belongs to the active room.
func (c *Client) applyMessageEvent(eventType string, data []byte) {
	var p struct {
		MessageID string `json:"message_id"`
		RoomID    string `json:"room_id"`
		Sender    string `json:"sender"`
		Payload   string `json:"payload"`
		Timestamp int64  `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "client").Msg("bad message event")
		return
	}
	msg := domain.Message{
		ID:        domain.MessageID(p.MessageID),
		RoomID:    domain.RoomID(p.RoomID),
		Sender:    domain.UserID(p.Sender),
		Payload:   p.Payload,
		Draft:     eventType == "typing",
		Timestamp: time.UnixMilli(p.Timestamp).UTC(),
	}
	if err := c.store.UpsertMessage(msg); err != nil {
		log.Error().Err(err).Str("module", "client").Str("message", p.MessageID).Msg("mirror upsert")
		return
	}

	c.mu.Lock()
	active := c.activeRoom
	render := c.render
	c.mu.Unlock()
	if render != nil && msg.RoomID == active {
		render(msg)
	}
}

// shutdown fails every outstanding message-id request so callers are
// never left pending after a disconnect.
func (c *Client) shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for token, ch := range c.pending {
		close(ch)
		delete(c.pending, token)
	}
	c.mu.Unlock()
	close(c.done)
	_ = c.conn.Close()
	log.Info().Str("module", "client").Msg("connection closed")
}

// Close tears the connection down and releases every waiter.
func (c *Client) Close() {
	_ = c.conn.Close()
	// readLoop observes the close and runs shutdown; calling it here
	// too keeps Close safe before the loop ever ran.
	c.shutdown()
}
