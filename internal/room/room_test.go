package room

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/zbonzo/warlock/internal/engine"
	"github.com/zbonzo/warlock/internal/store"
	"github.com/zbonzo/warlock/internal/types"
	"go.uber.org/zap"
)

func newTestManager(t *testing.T) *RoomManager {
	t.Helper()
	st := store.NewMemoryStore()
	return NewRoomManager(context.Background(), st, zap.NewNop(), nil, nil, Config{
		ActionPhaseTimeout: time.Hour,
		ReadyGraceWindow:   time.Hour,
	})
}

func selectCharacter(t *testing.T, ra *RoomActor, playerID, race, class string) {
	t.Helper()
	payload, _ := json.Marshal(map[string]string{"race": race, "class": class})
	resp := ra.Dispatch(types.CommandEnvelope{
		Type: types.MsgSelectCharacter, ActorUserID: playerID, Payload: payload,
	})
	if resp.Err != nil {
		t.Fatalf("select character for %s failed: %v", playerID, resp.Err)
	}
}

func joinGame(t *testing.T, ra *RoomActor, playerID, name string) {
	t.Helper()
	payload, _ := json.Marshal(map[string]string{"player_name": name})
	resp := ra.Dispatch(types.CommandEnvelope{
		Type: types.MsgJoinGame, ActorUserID: playerID, Payload: payload,
	})
	if resp.Err != nil {
		t.Fatalf("join game for %s failed: %v", playerID, resp.Err)
	}
}

// TestRoomFullRoundHappyPath exercises spec.md S1: a room reaches the
// action phase once both players have a race and class, a submitted
// fireball resolves into damage against the target, and the room advances
// toward results.
func TestRoomFullRoundHappyPath(t *testing.T) {
	m := newTestManager(t)
	defer m.Close()

	code, err := m.CreateGame(context.Background(), "p1", "Alice")
	if err != nil {
		t.Fatalf("create game failed: %v", err)
	}
	ra, ok := m.Get(code)
	if !ok {
		t.Fatalf("expected room actor for %s", code)
	}

	joinGame(t, ra, "p2", "Bob")

	selectCharacter(t, ra, "p1", "human", "wizard")
	selectCharacter(t, ra, "p2", "human", "warrior")

	st := ra.GetState()
	if st.Phase != engine.PhaseAction {
		t.Fatalf("expected action phase once both players selected, got %s", st.Phase)
	}
	if st.Monster == nil || st.Monster.HP <= 0 {
		t.Fatalf("expected a live monster once the game started")
	}

	target := "p2"
	actor := "p1"
	if st.Players["p1"].Class != "wizard" {
		actor, target = "p2", "p1"
	}

	hpBefore := ra.GetState().Players[target].HP

	performPayload, _ := json.Marshal(map[string]string{"action_type": "fireball", "target_id": target})
	resp := ra.Dispatch(types.CommandEnvelope{Type: types.MsgPerformAction, ActorUserID: actor, Payload: performPayload})
	if resp.Err != nil {
		t.Fatalf("perform action failed: %v", resp.Err)
	}

	st = ra.GetState()
	if !st.Players[actor].HasSubmittedAction {
		t.Fatalf("expected %s to have a submitted action pending resolution", actor)
	}

	// the other living player submits too, which should trigger
	// resolution since every living player now has a pending action.
	otherType := "slash"
	if st.Players[target].Class != "warrior" {
		otherType = "heal"
	}
	otherPayload, _ := json.Marshal(map[string]string{"action_type": otherType, "target_id": actor})
	resp = ra.Dispatch(types.CommandEnvelope{Type: types.MsgPerformAction, ActorUserID: target, Payload: otherPayload})
	if resp.Err != nil {
		t.Fatalf("perform action for %s failed: %v", target, resp.Err)
	}

	st = ra.GetState()
	if st.Phase != engine.PhaseResults {
		t.Fatalf("expected results phase after all living players submitted, got %s", st.Phase)
	}
	if st.Players[target].HP >= hpBefore {
		t.Fatalf("expected %s to take fireball damage, hp before=%d after=%d", target, hpBefore, st.Players[target].HP)
	}
	if st.Players[actor].HasSubmittedAction {
		t.Fatalf("expected submission flag cleared for %s after execution", actor)
	}
}

func TestRoomRejectsDuplicateJoin(t *testing.T) {
	m := newTestManager(t)
	defer m.Close()

	code, err := m.CreateGame(context.Background(), "p1", "Alice")
	if err != nil {
		t.Fatalf("create game failed: %v", err)
	}
	ra, _ := m.Get(code)

	payload, _ := json.Marshal(map[string]string{"player_name": "Alice again"})
	resp := ra.Dispatch(types.CommandEnvelope{Type: types.MsgJoinGame, ActorUserID: "p1", Payload: payload})
	if resp.Err != nil {
		t.Fatalf("expected re-join of an existing member to be a no-op, got %v", resp.Err)
	}
	if len(ra.GetState().Players) != 1 {
		t.Fatalf("expected exactly one player after duplicate join")
	}
}

func TestRoomRejectsActionOutsideActionPhase(t *testing.T) {
	m := newTestManager(t)
	defer m.Close()

	code, err := m.CreateGame(context.Background(), "p1", "Alice")
	if err != nil {
		t.Fatalf("create game failed: %v", err)
	}
	ra, _ := m.Get(code)

	payload, _ := json.Marshal(map[string]string{"action_type": "fireball", "target_id": "p1"})
	resp := ra.Dispatch(types.CommandEnvelope{Type: types.MsgPerformAction, ActorUserID: "p1", Payload: payload})
	if resp.Err == nil {
		t.Fatalf("expected performAction to be rejected while still in lobby phase")
	}
}

func TestCheckNameAvailability(t *testing.T) {
	m := newTestManager(t)
	defer m.Close()

	code, err := m.CreateGame(context.Background(), "p1", "Alice")
	if err != nil {
		t.Fatalf("create game failed: %v", err)
	}
	ra, _ := m.Get(code)

	payload, _ := json.Marshal(map[string]string{"player_name": "Alice"})
	resp := ra.Dispatch(types.CommandEnvelope{Type: types.MsgCheckNameAvailability, ActorUserID: "p2", Payload: payload})
	if resp.Err != nil {
		t.Fatalf("check name availability failed: %v", resp.Err)
	}
	if resp.Result == nil || resp.Result.Status != "taken" {
		t.Fatalf("expected name %q to be taken, got %+v", "Alice", resp.Result)
	}

	payload, _ = json.Marshal(map[string]string{"player_name": "Carol"})
	resp = ra.Dispatch(types.CommandEnvelope{Type: types.MsgCheckNameAvailability, ActorUserID: "p2", Payload: payload})
	if resp.Err != nil {
		t.Fatalf("check name availability failed: %v", resp.Err)
	}
	if resp.Result == nil || resp.Result.Status != "available" {
		t.Fatalf("expected name %q to be available, got %+v", "Carol", resp.Result)
	}
}

// TestRoomDisconnectPreservesPendingAction exercises spec.md S4: a
// disconnect must not clear hasSubmittedAction or the queued command, so
// the player's in-flight submission still resolves normally once the
// round completes (whether or not they reconnect first).
func TestRoomDisconnectPreservesPendingAction(t *testing.T) {
	m := newTestManager(t)
	defer m.Close()

	code, err := m.CreateGame(context.Background(), "p1", "Alice")
	if err != nil {
		t.Fatalf("create game failed: %v", err)
	}
	ra, _ := m.Get(code)
	joinGame(t, ra, "p2", "Bob")
	selectCharacter(t, ra, "p1", "human", "wizard")
	selectCharacter(t, ra, "p2", "human", "warrior")

	performPayload, _ := json.Marshal(map[string]string{"action_type": "fireball", "target_id": "p2"})
	if resp := ra.Dispatch(types.CommandEnvelope{Type: types.MsgPerformAction, ActorUserID: "p1", Payload: performPayload}); resp.Err != nil {
		t.Fatalf("perform action failed: %v", resp.Err)
	}
	if !ra.GetState().Players["p1"].HasSubmittedAction {
		t.Fatalf("expected p1 to have a pending action before disconnect")
	}

	ra.NotifyDisconnect("p1")

	if !ra.GetState().Players["p1"].HasSubmittedAction {
		t.Fatalf("expected disconnect to preserve p1's pending action (spec.md S4)")
	}

	hpBefore := ra.GetState().Players["p2"].HP
	otherPayload, _ := json.Marshal(map[string]string{"action_type": "slash", "target_id": "p1"})
	if resp := ra.Dispatch(types.CommandEnvelope{Type: types.MsgPerformAction, ActorUserID: "p2", Payload: otherPayload}); resp.Err != nil {
		t.Fatalf("perform action for p2 failed: %v", resp.Err)
	}

	st := ra.GetState()
	if st.Phase != engine.PhaseResults {
		t.Fatalf("expected round to resolve once every living player has a pending action, got %s", st.Phase)
	}
	if st.Players["p2"].HP >= hpBefore {
		t.Fatalf("expected p1's disconnected-but-preserved fireball to still resolve against p2")
	}
}
