// Package types defines the closed vocabulary shared by every core
// component: event envelopes, command envelopes, the error taxonomy, and
// the viewer identity used for per-player projection.
package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrorCode classifies an AppError into one of the error-handling tiers:
// validation, cooldown/state, transient internal, integrity, fatal.
type ErrorCode string

const (
	ErrUnauthorized  ErrorCode = "unauthorized"
	ErrForbidden     ErrorCode = "forbidden"
	ErrBadRequest    ErrorCode = "bad_request"
	ErrConflict      ErrorCode = "conflict"
	ErrInternal      ErrorCode = "internal"
	ErrNotFound      ErrorCode = "not_found"
	ErrRateLimited   ErrorCode = "rate_limited"
	ErrValidation    ErrorCode = "validation"
	ErrCooldown      ErrorCode = "cooldown"
	ErrIntegrity     ErrorCode = "integrity"
	ErrFatalRoom     ErrorCode = "fatal_room"
)

type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

func NewError(code ErrorCode, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

func WrapError(code ErrorCode, msg string, err error) *AppError {
	return &AppError{Code: code, Message: msg, Err: err}
}

func Is(err error, code ErrorCode) bool {
	var app *AppError
	if errors.As(err, &app) {
		return app.Code == code
	}
	return false
}

// CommandEnvelope is the wire/internal shape of one player-submitted
// command, before it becomes an engine Command.
type CommandEnvelope struct {
	CommandID      string          `json:"command_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	RoomID         string          `json:"room_id"`
	Type           string          `json:"type"`
	LastSeenSeq    int64           `json:"last_seen_seq"`
	ActorUserID    string          `json:"actor_user_id"`
	Payload        json.RawMessage `json:"data"`
}

// Event is a durable, append-only record in a room's event log. EventType
// is a dotted string drawn from the closed registry in event_registry.go.
type Event struct {
	RoomID            string          `json:"room_id"`
	Seq               int64           `json:"seq"`
	EventID           string          `json:"event_id"`
	EventType         string          `json:"event_type"`
	ActorUserID       string          `json:"actor_user_id"`
	CausationCommand  string          `json:"causation_command_id"`
	Payload           json.RawMessage `json:"payload"`
	ServerTimestampMs int64           `json:"server_ts_ms"`
}

type CommandResult struct {
	CommandID      string `json:"command_id"`
	Status         string `json:"status"`
	Reason         string `json:"reason,omitempty"`
	AppliedSeqFrom int64  `json:"applied_seq_from"`
	AppliedSeqTo   int64  `json:"applied_seq_to"`
}

// ProjectedEvent is an Event after per-viewer visibility filtering; Data
// may be a sanitized subset of the original payload.
type ProjectedEvent struct {
	RoomID      string          `json:"room_id"`
	Seq         int64           `json:"seq"`
	EventType   string          `json:"event_type"`
	ActorUserID string          `json:"actor_user_id,omitempty"`
	Data        json.RawMessage `json:"data"`
	ServerTS    int64           `json:"server_ts"`
}

// Viewer identifies who an outbound event or state snapshot is being
// projected for. There is no spectator/DM role in Warlock: every viewer is
// a player in the room, and the only thing projection ever hides from them
// is hidden-role truth (isWarlock) and other players' private data.
type Viewer struct {
	UserID string
}
