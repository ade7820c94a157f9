// Package projection implements per-viewer visibility: which events a
// given player's socket is allowed to see, and how much of a room's
// state snapshot is exposed to them (spec.md §4.6, §9 hidden-role note).
package projection

import (
	"encoding/json"

	"github.com/zbonzo/warlock/internal/engine"
	"github.com/zbonzo/warlock/internal/types"
)

// Project applies allowed() and sanitizePayload() and returns nil when
// the viewer should not receive this event at all.
func Project(event types.Event, state *engine.State, viewer types.Viewer) *types.ProjectedEvent {
	if !allowed(event, state, viewer) {
		return nil
	}
	return &types.ProjectedEvent{
		RoomID:      event.RoomID,
		Seq:         event.Seq,
		EventType:   event.EventType,
		ActorUserID: event.ActorUserID,
		Data:        sanitizePayload(event, viewer),
		ServerTS:    event.ServerTimestampMs,
	}
}

func allowed(event types.Event, state *engine.State, viewer types.Viewer) bool {
	switch event.EventType {
	case "action.submitted", "action.executed", "action.failed", "action.rejected":
		// Routed per-player to the submitter only (spec.md §4.6 table);
		// other players learn about it via player.status.updated instead.
		var payload map[string]interface{}
		_ = json.Unmarshal(event.Payload, &payload)
		actor, _ := payload["player_id"].(string)
		return viewer.UserID == event.ActorUserID || viewer.UserID == actor
	case "warlock.assigned", "warlock.roster":
		p, ok := state.Players[viewer.UserID]
		return ok && p.IsWarlock
	case "coordination.opportunity", "coordination.signal":
		p, ok := state.Players[viewer.UserID]
		return ok && p.IsWarlock
	default:
		return true
	}
}

// sanitizePayload strips hidden-role fields from warlock.assigned before
// it reaches a non-warlock viewer; every other event type passes through
// unmodified because allowed() already gated who receives it.
func sanitizePayload(event types.Event, viewer types.Viewer) json.RawMessage {
	if event.EventType == "warlock.assigned" {
		var payload map[string]interface{}
		_ = json.Unmarshal(event.Payload, &payload)
		if target, _ := payload["player_id"].(string); target != viewer.UserID {
			return []byte(`{}`)
		}
	}
	return event.Payload
}

// ProjectedState strips isWarlock from every player except the viewer
// themselves, matching the sole hidden-role invariant in this game.
func ProjectedState(state *engine.State, viewer types.Viewer) *engine.State {
	cp := state.Copy()
	for id, p := range cp.Players {
		if id != viewer.UserID {
			p.IsWarlock = p.IsWarlock && p.IsRevealed
		}
		cp.Players[id] = p
	}
	return cp
}
