package realtime

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/zbonzo/warlock/internal/auth"
	"github.com/zbonzo/warlock/internal/observability"
	"github.com/zbonzo/warlock/internal/room"
	"github.com/zbonzo/warlock/internal/store"
)

func newTestWSServer(t *testing.T) (*httptest.Server, *auth.JWTManager, *store.Store, *room.RoomManager) {
	t.Helper()
	st := store.NewMemoryStore()
	jwt := auth.NewJWTManager("test-secret", time.Hour)
	roomMgr := room.NewRoomManager(context.Background(), st, zap.NewNop(), nil, nil, room.Config{
		ActionPhaseTimeout: time.Hour,
		ReadyGraceWindow:   time.Hour,
	})
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	ws := NewWSServer(jwt, st, roomMgr, zap.NewNop(), metrics)
	srv := httptest.NewServer(ws)
	t.Cleanup(func() {
		srv.Close()
		roomMgr.Close()
	})
	return srv, jwt, st, roomMgr
}

func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read message failed: %v", err)
	}
	return msg
}

func TestWSServerRejectsMissingToken(t *testing.T) {
	srv, _, _, _ := newTestWSServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("expected dial without a token to fail")
	}
	if resp == nil || resp.StatusCode != 401 {
		t.Fatalf("expected 401, got %+v", resp)
	}
}

func TestWSServerPingPong(t *testing.T) {
	srv, jwt, _, _ := newTestWSServer(t)
	token, _ := jwt.Generate("p1")
	conn := dial(t, srv, token)
	defer conn.Close()

	conn.WriteJSON(WSMessage{Type: "ping", RequestID: "r1", Payload: json.RawMessage(`{}`)})
	msg := readMessage(t, conn)
	if msg.Type != "pong" || msg.RequestID != "r1" {
		t.Fatalf("expected a pong reply to r1, got %+v", msg)
	}
}

func TestWSServerCreateGameAndSubscribeReplaysEvents(t *testing.T) {
	srv, jwt, st, _ := newTestWSServer(t)
	token, _ := jwt.Generate("p1")
	conn := dial(t, srv, token)
	defer conn.Close()

	conn.WriteJSON(WSMessage{Type: "createGame", RequestID: "c1", Payload: mustMarshal(CreateGamePayload{PlayerName: "Alice"})})
	created := readMessage(t, conn)
	if created.Type != "gameCreated" {
		t.Fatalf("expected gameCreated, got %+v", created)
	}
	var body map[string]string
	json.Unmarshal(created.Payload, &body)
	gameCode := body["game_code"]
	if gameCode == "" {
		t.Fatalf("expected a game code in the response")
	}

	isMember, err := st.IsMember(context.Background(), gameCode, "p1")
	if err != nil || !isMember {
		t.Fatalf("expected the creator to be a member, got member=%v err=%v", isMember, err)
	}

	conn.WriteJSON(WSMessage{Type: "subscribe", RequestID: "s1", Payload: mustMarshal(SubscribePayload{GameCode: gameCode})})

	// creating the game already persisted a join event; subscribe replays
	// it before sending the subscribed ack.
	replayed := 0
	for {
		msg := readMessage(t, conn)
		if msg.Type == "subscribed" {
			if msg.RequestID != "s1" {
				t.Fatalf("expected the subscribed ack to carry request id s1, got %+v", msg)
			}
			break
		}
		if msg.Type != "event" {
			t.Fatalf("expected only replayed events before the ack, got %+v", msg)
		}
		replayed++
	}
	if replayed == 0 {
		t.Fatalf("expected at least one replayed event for the host's own join")
	}
}

func TestWSServerRejectsCommandForNonMember(t *testing.T) {
	srv, jwt, _, roomMgr := newTestWSServer(t)

	gameCode, err := roomMgr.CreateGame(context.Background(), "host", "Host")
	if err != nil {
		t.Fatalf("create game failed: %v", err)
	}

	outsiderToken, _ := jwt.Generate("eve")
	conn := dial(t, srv, outsiderToken)
	defer conn.Close()

	conn.WriteJSON(WSMessage{Type: "performAction", RequestID: "a1", Payload: mustMarshal(CommandPayload{
		GameCode: gameCode,
		Data:     mustMarshal(map[string]string{"action_type": "fireball", "target_id": "host"}),
	})})
	msg := readMessage(t, conn)
	if msg.Type != "error" {
		t.Fatalf("expected an error reply for a non-member command, got %+v", msg)
	}
}
