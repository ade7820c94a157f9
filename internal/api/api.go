// Package api provides the HTTP surface for the Warlock game server:
// account auth, game create/join, and replay/state fetch for clients that
// need a snapshot outside the websocket stream.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/zbonzo/warlock/internal/auth"
	"github.com/zbonzo/warlock/internal/engine"
	"github.com/zbonzo/warlock/internal/projection"
	"github.com/zbonzo/warlock/internal/realtime"
	"github.com/zbonzo/warlock/internal/room"
	"github.com/zbonzo/warlock/internal/store"
	"github.com/zbonzo/warlock/internal/types"
)

type contextKey string

const userIDKey contextKey = "user_id"

type Server struct {
	Router  *chi.Mux
	store   *store.Store
	jwt     *auth.JWTManager
	roomMgr *room.RoomManager
	logger  *zap.Logger
	authRL  *ipRateLimiter
}

// ipRateLimiter hands out a token-bucket rate.Limiter per client IP,
// guarding the unauthenticated auth endpoints against credential-stuffing
// and registration-spam without needing a session to rate-limit against.
type ipRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	burst    int
}

func newIPRateLimiter(r rate.Limit, burst int) *ipRateLimiter {
	return &ipRateLimiter{limiters: make(map[string]*rate.Limiter), r: r, burst: burst}
}

func (l *ipRateLimiter) allow(ip string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(l.r, l.burst)
		l.limiters[ip] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

func (s *Server) rateLimitAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.authRL.allow(r.RemoteAddr) {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func NewServer(st *store.Store, jwt *auth.JWTManager, roomMgr *room.RoomManager, wsServer *realtime.WSServer, logger *zap.Logger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(corsMiddleware)

	s := &Server{
		Router:  r,
		store:   st,
		jwt:     jwt,
		roomMgr: roomMgr,
		logger:  logger,
		authRL:  newIPRateLimiter(rate.Limit(1), 5),
	}

	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1/auth", func(r chi.Router) {
		r.Use(s.rateLimitAuth)
		r.Post("/register", s.register)
		r.Post("/login", s.login)
		r.Post("/quick", s.quickLogin)
	})

	r.Route("/v1/games", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Post("/", s.createGame)
		r.Post("/{game_code}/join", s.joinGame)
		r.Get("/{game_code}/events", s.fetchEvents)
		r.Get("/{game_code}/state", s.fetchState)
		r.Get("/{game_code}/replay", s.replay)
	})

	r.Handle("/ws", wsServer)
	return s
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("ok"))
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		http.Error(w, "hash error", http.StatusInternalServerError)
		return
	}
	u := store.User{ID: uuid.NewString(), Email: req.Email, PasswordHash: hash, CreatedAt: time.Now().UTC()}
	if err := s.store.CreateUser(r.Context(), u); err != nil {
		http.Error(w, "user exists or db error", http.StatusConflict)
		return
	}
	token, _ := s.jwt.Generate(u.ID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(AuthResponse{Token: token, UserID: u.ID})
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	u, err := s.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	if err := auth.CheckPassword(u.PasswordHash, req.Password); err != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	token, _ := s.jwt.Generate(u.ID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(AuthResponse{Token: token, UserID: u.ID})
}

// QuickLoginRequest lets a client join with just a display name — the JWT
// still carries a stable player id so reconnect survives (SPEC_FULL.md
// supplemented detail).
type QuickLoginRequest struct {
	Name string `json:"name"`
}

type QuickLoginResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}

func (s *Server) quickLogin(w http.ResponseWriter, r *http.Request) {
	var req QuickLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	userID := uuid.NewString()
	u := store.User{ID: userID, Email: userID + "@quick.local", PasswordHash: "", CreatedAt: time.Now().UTC()}
	if err := s.store.CreateUser(r.Context(), u); err != nil {
		http.Error(w, "failed to create user", http.StatusInternalServerError)
		return
	}
	token, _ := s.jwt.Generate(userID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(QuickLoginResponse{Token: token, UserID: userID, Name: req.Name})
}

type CreateGameRequest struct {
	PlayerName string `json:"player_name"`
}

type CreateGameResponse struct {
	GameCode string `json:"game_code"`
}

func (s *Server) createGame(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(userIDKey).(string)
	var req CreateGameRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.PlayerName == "" {
		req.PlayerName = "Host"
	}
	gameCode, err := s.roomMgr.CreateGame(r.Context(), userID, req.PlayerName)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(CreateGameResponse{GameCode: gameCode})
}

type JoinGameResponse struct {
	Status string `json:"status"`
}

func (s *Server) joinGame(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(userIDKey).(string)
	gameCode := chi.URLParam(r, "game_code")
	if err := s.store.AddGameMember(r.Context(), store.GameMember{GameCode: gameCode, UserID: userID, Joined: time.Now().UTC()}); err != nil {
		http.Error(w, "failed to join game", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(JoinGameResponse{Status: "joined"})
}

func (s *Server) fetchEvents(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(userIDKey).(string)
	gameCode := chi.URLParam(r, "game_code")
	afterSeq := int64(0)
	if q := r.URL.Query().Get("after_seq"); q != "" {
		afterSeq, _ = strconv.ParseInt(q, 10, 64)
	}
	ok, _ := s.store.IsMember(r.Context(), gameCode, userID)
	if !ok {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	events, _ := s.store.LoadEventsAfter(r.Context(), gameCode, afterSeq, 200)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(events)
}

func (s *Server) fetchState(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(userIDKey).(string)
	gameCode := chi.URLParam(r, "game_code")
	ok, _ := s.store.IsMember(r.Context(), gameCode, userID)
	if !ok {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	ra, err := s.roomMgr.GetOrCreate(r.Context(), gameCode)
	if err != nil {
		http.Error(w, "room error", http.StatusInternalServerError)
		return
	}
	state := ra.GetState()
	viewer := types.Viewer{UserID: userID}
	projected := projection.ProjectedState(state, viewer)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(projected)
}

// replay rebuilds state up to an arbitrary sequence number straight from
// the event log, independent of any live room actor — used for debugging
// and post-game review.
func (s *Server) replay(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(userIDKey).(string)
	gameCode := chi.URLParam(r, "game_code")
	toSeq := int64(0)
	if q := r.URL.Query().Get("to_seq"); q != "" {
		toSeq, _ = strconv.ParseInt(q, 10, 64)
	}
	ok, _ := s.store.IsMember(r.Context(), gameCode, userID)
	if !ok {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	events, _ := s.store.LoadEventsUpTo(r.Context(), gameCode, toSeq)
	state := engine.NewState(gameCode)
	for _, e := range events {
		var p map[string]interface{}
		_ = json.Unmarshal([]byte(e.PayloadJSON), &p)
		state.Reduce(engine.EventPayload{Seq: e.Seq, Type: e.EventType, Actor: e.ActorUserID, Payload: p})
	}
	viewer := types.Viewer{UserID: userID}
	projected := projection.ProjectedState(state, viewer)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(projected)
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if len(authHeader) < 8 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		tokenStr := authHeader[7:]
		claims, err := s.jwt.Parse(tokenStr)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, claims.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
