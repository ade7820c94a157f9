package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/zbonzo/warlock/internal/auth"
	"github.com/zbonzo/warlock/internal/realtime"
	"github.com/zbonzo/warlock/internal/room"
	"github.com/zbonzo/warlock/internal/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	st := store.NewMemoryStore()
	jwt := auth.NewJWTManager("test-secret", time.Hour)
	roomMgr := room.NewRoomManager(context.Background(), st, zap.NewNop(), nil, nil, room.Config{
		ActionPhaseTimeout: time.Hour,
		ReadyGraceWindow:   time.Hour,
	})
	ws := realtime.NewWSServer(jwt, st, roomMgr, zap.NewNop(), nil)
	return NewServer(st, jwt, roomMgr, ws, zap.NewNop())
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.Router.ServeHTTP(rr, req)
	return rr
}

func TestQuickLoginIssuesUsableToken(t *testing.T) {
	s := newTestServer(t)

	rr := doJSON(t, s, http.MethodPost, "/v1/auth/quick", QuickLoginRequest{Name: "Alice"}, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp QuickLoginResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Token == "" || resp.UserID == "" {
		t.Fatalf("expected a token and user id, got %+v", resp)
	}

	create := doJSON(t, s, http.MethodPost, "/v1/games/", CreateGameRequest{PlayerName: "Alice"}, resp.Token)
	if create.Code != http.StatusOK {
		t.Fatalf("expected createGame to succeed with quick-login token, got %d: %s", create.Code, create.Body.String())
	}
}

func TestQuickLoginRejectsEmptyName(t *testing.T) {
	s := newTestServer(t)
	rr := doJSON(t, s, http.MethodPost, "/v1/auth/quick", QuickLoginRequest{Name: ""}, "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty name, got %d", rr.Code)
	}
}

func TestCreateGameRequiresAuth(t *testing.T) {
	s := newTestServer(t)
	rr := doJSON(t, s, http.MethodPost, "/v1/games/", CreateGameRequest{PlayerName: "Alice"}, "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a bearer token, got %d", rr.Code)
	}
}

func TestRegisterLoginRoundTrip(t *testing.T) {
	s := newTestServer(t)

	email := "alice@example.com"
	reg := doJSON(t, s, http.MethodPost, "/v1/auth/register", RegisterRequest{Email: email, Password: "hunter2"}, "")
	if reg.Code != http.StatusOK {
		t.Fatalf("expected registration to succeed, got %d: %s", reg.Code, reg.Body.String())
	}

	login := doJSON(t, s, http.MethodPost, "/v1/auth/login", LoginRequest{Email: email, Password: "hunter2"}, "")
	if login.Code != http.StatusOK {
		t.Fatalf("expected login to succeed, got %d: %s", login.Code, login.Body.String())
	}

	badLogin := doJSON(t, s, http.MethodPost, "/v1/auth/login", LoginRequest{Email: email, Password: "wrong"}, "")
	if badLogin.Code != http.StatusUnauthorized {
		t.Fatalf("expected wrong password to be rejected, got %d", badLogin.Code)
	}
}

func TestFetchStateForbiddenForNonMember(t *testing.T) {
	s := newTestServer(t)

	quick := doJSON(t, s, http.MethodPost, "/v1/auth/quick", QuickLoginRequest{Name: "Host"}, "")
	var host QuickLoginResponse
	json.Unmarshal(quick.Body.Bytes(), &host)

	create := doJSON(t, s, http.MethodPost, "/v1/games/", CreateGameRequest{PlayerName: "Host"}, host.Token)
	var created CreateGameResponse
	json.Unmarshal(create.Body.Bytes(), &created)

	outsider := doJSON(t, s, http.MethodPost, "/v1/auth/quick", QuickLoginRequest{Name: "Eve"}, "")
	var eve QuickLoginResponse
	json.Unmarshal(outsider.Body.Bytes(), &eve)

	rr := doJSON(t, s, http.MethodGet, fmt.Sprintf("/v1/games/%s/state", created.GameCode), nil, eve.Token)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected a non-member to be forbidden from fetching state, got %d", rr.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)
	rr := doJSON(t, s, http.MethodGet, "/health", nil, "")
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("expected health check to report ok, got %d %q", rr.Code, rr.Body.String())
	}
}
