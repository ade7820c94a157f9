package store

import "time"

// User is an authenticated account; a player's in-room identity
// (engine.Player) is separate from this and is created fresh per game.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// Game is a lobby row tracking who created a room and its lifecycle
// status, independent of the engine.State that actually drives play.
type Game struct {
	ID        string
	CreatedBy string
	Status    string
	CreatedAt time.Time
}

type GameMember struct {
	GameCode string
	UserID   string
	Joined   time.Time
}

// DedupRecord lets a resubmitted command carrying the same idempotency
// key return its original result instead of re-executing.
type DedupRecord struct {
	GameCode       string
	ActorUserID    string
	IdempotencyKey string
	CommandType    string
	CommandID      string
	Status         string
	ResultJSON     string
	CreatedAt      time.Time
}

type Snapshot struct {
	GameCode  string
	LastSeq   int64
	StateJSON string
	CreatedAt time.Time
}

type StoredEvent struct {
	GameCode         string
	Seq              int64
	EventID          string
	EventType        string
	ActorUserID      string
	CausationCommand string
	PayloadJSON      string
	ServerTime       time.Time
}

// Trophy is a single computed end-of-game award for one player
// (supplemented detail beyond the distilled spec, see SPEC_FULL.md).
type Trophy struct {
	ID        string
	GameCode  string
	PlayerID  string
	Category  string
	Value     float64
	CreatedAt time.Time
}
