package signal

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/anteroom-chat/anteroom/internal/app"
	"github.com/anteroom-chat/anteroom/internal/config"
	"github.com/anteroom-chat/anteroom/internal/domain"
	"github.com/anteroom-chat/anteroom/internal/repo"
)

type testEnv struct {
	identity  *repo.MemoryIdentityRepo
	rooms     *repo.MemoryRoomRepo
	consensus *app.Consensus
	srv       *httptest.Server
}

func newTestEnv(t *testing.T, authGrace time.Duration) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	identity := repo.NewMemoryIdentityRepo()
	rooms := repo.NewMemoryRoomRepo()
	consensus := app.NewConsensus(rooms)
	registry := app.NewRegistry()
	cfg := &config.Config{Mode: "release", ReadLimit: 32768, AuthGrace: authGrace}

	ctrl := NewController(identity, consensus, registry, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	r := gin.New()
	r.GET("/ws", func(c *gin.Context) { ctrl.HandleSignal(ctx, c) })
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &testEnv{identity: identity, rooms: rooms, consensus: consensus, srv: srv}
}

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := strings.Replace(e.srv.URL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (e *testEnv) user(t *testing.T, name string) *domain.User {
	t.Helper()
	u, err := e.identity.CreateUser(context.Background(), name)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func recv(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	return out
}

func authConn(t *testing.T, conn *websocket.Conn, cred domain.Credential) {
	t.Helper()
	send(t, conn, map[string]string{"type": "auth", "credential": string(cred)})
	ev := recv(t, conn)
	if ev["type"] != "auth_success" {
		t.Fatalf("auth: got %v, want auth_success", ev)
	}
}

func TestAuthSuccessBindsIdentity(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, time.Minute)
	u := env.user(t, "alice")
	conn := env.dial(t)

	send(t, conn, map[string]string{"type": "auth", "credential": string(u.Credential)})
	ev := recv(t, conn)
	if ev["type"] != "auth_success" {
		t.Fatalf("got %v, want auth_success", ev)
	}
	identity := ev["identity"].(map[string]any)
	if identity["public_id"] != string(u.ID) {
		t.Errorf("identity: got %v, want %s", identity["public_id"], u.ID)
	}
	if identity["display_name"] != "alice" {
		t.Errorf("display name: got %v", identity["display_name"])
	}
}

func TestAuthUnknownCredentialTerminates(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, time.Minute)
	conn := env.dial(t)

	send(t, conn, map[string]string{"type": "auth", "credential": "bogus"})
	ev := recv(t, conn)
	if ev["type"] != "auth_failed" {
		t.Fatalf("got %v, want auth_failed", ev)
	}

	// The server closes the connection after a failed auth.
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("connection still open after auth_failed")
	}
}

func TestAuthGraceExpiryClosesConnection(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, 100*time.Millisecond)
	conn := env.dial(t)

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("connection survived the auth grace period without authenticating")
	}
}

func TestPreAuthTrafficRejected(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, time.Minute)
	conn := env.dial(t)

	send(t, conn, map[string]string{
		"type": "typing", "correlation_token": "t", "message_id": "m", "room_id": "r", "payload": "x",
	})
	ev := recv(t, conn)
	if ev["type"] != "error" || ev["reason"] != "not_authenticated" {
		t.Fatalf("got %v, want not_authenticated error", ev)
	}

	// Ping is harmless and allowed before auth.
	send(t, conn, map[string]string{"type": "ping"})
	if ev := recv(t, conn); ev["type"] != "pong" {
		t.Errorf("ping: got %v, want pong", ev)
	}
}

func TestMessageIDIssuedToMembersOnly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t, time.Minute)
	alice := env.user(t, "alice")
	mallory := env.user(t, "mallory")

	room, err := env.consensus.CreateRoom(ctx, "den", alice)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	aliceConn := env.dial(t)
	authConn(t, aliceConn, alice.Credential)
	send(t, aliceConn, map[string]string{
		"type": "request_message_id", "correlation_token": "tok-1", "room_id": string(room.ID),
	})
	ev := recv(t, aliceConn)
	if ev["type"] != "message_id" || ev["correlation_token"] != "tok-1" {
		t.Fatalf("got %v, want correlated message_id", ev)
	}
	if ev["message_id"] == "" {
		t.Error("empty message id")
	}

	malloryConn := env.dial(t)
	authConn(t, malloryConn, mallory.Credential)
	send(t, malloryConn, map[string]string{
		"type": "request_message_id", "correlation_token": "tok-2", "room_id": string(room.ID),
	})
	if ev := recv(t, malloryConn); ev["type"] != "error" || ev["reason"] != "not_a_member" {
		t.Fatalf("non-member: got %v, want not_a_member error", ev)
	}

	send(t, aliceConn, map[string]string{
		"type": "request_message_id", "correlation_token": "tok-3", "room_id": "ffffffffffffffffffffffffffffffff",
	})
	if ev := recv(t, aliceConn); ev["type"] != "error" || ev["reason"] != "room_not_found" {
		t.Fatalf("missing room: got %v, want room_not_found error", ev)
	}
}

func TestTypingAndFinishFanOut(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t, time.Minute)
	alice := env.user(t, "alice")
	bob := env.user(t, "bob")

	room, err := env.consensus.CreateRoom(ctx, "den", alice)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	req, err := env.consensus.RequestJoin(ctx, room.ID, bob)
	if err != nil {
		t.Fatalf("request join: %v", err)
	}
	if _, _, err := env.consensus.Vote(ctx, room.ID, req.ID, alice, true); err != nil {
		t.Fatalf("admit bob: %v", err)
	}

	aliceConn := env.dial(t)
	authConn(t, aliceConn, alice.Credential)
	bobConn := env.dial(t)
	authConn(t, bobConn, bob.Credential)

	send(t, aliceConn, map[string]string{
		"type": "request_message_id", "correlation_token": "tok", "room_id": string(room.ID),
	})
	issued := recv(t, aliceConn)
	msgID, _ := issued["message_id"].(string)
	if msgID == "" {
		t.Fatalf("message id issuance: got %v", issued)
	}

	send(t, aliceConn, map[string]string{
		"type": "typing", "correlation_token": "c1", "message_id": msgID,
		"room_id": string(room.ID), "payload": "hel",
	})
	if ack := recv(t, aliceConn); ack["type"] != "ack" || ack["message_id"] != msgID {
		t.Fatalf("typing ack: got %v", ack)
	}
	ev := recv(t, bobConn)
	if ev["type"] != "typing" || ev["message_id"] != msgID || ev["payload"] != "hel" {
		t.Fatalf("bob's typing event: got %v", ev)
	}
	if ev["sender"] != string(alice.ID) {
		t.Errorf("sender: got %v, want %s", ev["sender"], alice.ID)
	}

	send(t, aliceConn, map[string]string{
		"type": "finish", "correlation_token": "c2", "message_id": msgID,
		"room_id": string(room.ID), "payload": "hello",
	})
	if ack := recv(t, aliceConn); ack["type"] != "ack" {
		t.Fatalf("finish ack: got %v", ack)
	}
	ev = recv(t, bobConn)
	if ev["type"] != "finish" || ev["payload"] != "hello" {
		t.Fatalf("bob's finish event: got %v", ev)
	}
}
