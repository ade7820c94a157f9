// Package phase implements PhaseController: the authoritative lobby/
// action/results state machine and the set of pending inputs for the
// current round (spec.md §4.5).
package phase

import (
	"context"
	"encoding/json"

	"github.com/zbonzo/warlock/internal/engine"
	"github.com/zbonzo/warlock/internal/eventbus"
)

// Controller holds only a non-owning pointer to the room's State (spec.md
// §9 design note on cyclic references) plus the bus it reports
// transition/warning events on.
type Controller struct {
	state             *engine.State
	bus               *eventbus.EventBus
	resolvedThisRound bool
}

func New(state *engine.State, bus *eventbus.EventBus) *Controller {
	return &Controller{state: state, bus: bus}
}

// StartGame drives lobby -> action. No-op (with system.warning) if not in
// lobby.
func (c *Controller) StartGame() bool {
	if c.state.Phase != engine.PhaseLobby {
		c.warn("cannot start game outside lobby phase")
		return false
	}
	c.transition(engine.PhaseAction, "host_start")
	return true
}

// ResolveRound drives action -> results. Idempotent: a second call within
// the same round is a no-op (spec.md invariant 4).
func (c *Controller) ResolveRound(reason string) bool {
	if c.state.Phase != engine.PhaseAction {
		c.warn("cannot resolve round outside action phase")
		return false
	}
	if c.resolvedThisRound {
		return false
	}
	c.resolvedThisRound = true
	c.transition(engine.PhaseResults, reason)
	return true
}

// AdvanceToNextRound drives results -> action: resets per-player
// submission flags, clears the ready set, increments round, clears
// pending actions, but preserves the disconnect and passive-activation
// queues (spec.md §4.5).
func (c *Controller) AdvanceToNextRound() bool {
	if c.state.Phase != engine.PhaseResults {
		c.warn("cannot advance to action outside results phase")
		return false
	}
	c.state.Round++
	c.resetForNewRoundLocked()
	c.resolvedThisRound = false
	c.transition(engine.PhaseAction, "round_advance")
	return true
}

// EndGame drives any phase -> lobby, used after final results are
// acknowledged.
func (c *Controller) EndGame() {
	c.transition(engine.PhaseLobby, "end_game")
	c.resolvedThisRound = false
}

func (c *Controller) transition(next engine.Phase, reason string) {
	old := c.state.Phase
	c.state.Phase = next
	if c.bus != nil {
		payload, _ := json.Marshal(map[string]interface{}{
			"old_phase": string(old), "new_phase": string(next), "reason": reason,
		})
		c.bus.Emit(context.Background(), "phase.changed", payload, true)
	}
}

func (c *Controller) warn(msg string) {
	if c.bus == nil {
		return
	}
	payload, _ := json.Marshal(map[string]interface{}{"message": msg})
	c.bus.Emit(context.Background(), "system.warning", payload, true)
}

// AddPendingAction appends a non-racial pending action. Rejected (no-op)
// if the room is not in the action phase.
func (c *Controller) AddPendingAction(a engine.PendingAction) bool {
	if c.state.Phase != engine.PhaseAction {
		c.warn("cannot add pending action outside action phase")
		return false
	}
	c.state.PendingActions = append(c.state.PendingActions, a)
	return true
}

// AddPendingRacialAction appends a racial action; racial actions may
// co-exist with a player's regular pending action.
func (c *Controller) AddPendingRacialAction(a engine.PendingAction) bool {
	if c.state.Phase != engine.PhaseAction {
		c.warn("cannot add pending racial action outside action phase")
		return false
	}
	c.state.PendingRacialActions = append(c.state.PendingRacialActions, a)
	return true
}

// RemovePendingActionsForPlayer purges both queues for a player and
// clears their submission flag.
func (c *Controller) RemovePendingActionsForPlayer(playerID string) {
	c.state.PendingActions = filterActions(c.state.PendingActions, playerID)
	c.state.PendingRacialActions = filterActions(c.state.PendingRacialActions, playerID)
	if p, ok := c.state.Players[playerID]; ok {
		p.HasSubmittedAction = false
		c.state.Players[playerID] = p
	}
}

func filterActions(actions []engine.PendingAction, playerID string) []engine.PendingAction {
	out := actions[:0]
	for _, a := range actions {
		if a.ActorID != playerID {
			out = append(out, a)
		}
	}
	return out
}

// UpdatePendingActionTargets rewrites actorId and targetId fields
// matching oldID to newID, used on reconnect when the transport id was
// used as the actor key.
func (c *Controller) UpdatePendingActionTargets(oldID, newID string) {
	rewrite := func(actions []engine.PendingAction) {
		for i := range actions {
			if actions[i].ActorID == oldID {
				actions[i].ActorID = newID
			}
			if actions[i].TargetID == oldID {
				actions[i].TargetID = newID
			}
		}
	}
	rewrite(c.state.PendingActions)
	rewrite(c.state.PendingRacialActions)
}

func (c *Controller) SetPlayerReady(id string) {
	c.state.NextReady[id] = true
}

func (c *Controller) SetPlayerNotReady(id string) {
	delete(c.state.NextReady, id)
}

func (c *Controller) ClearReady() {
	c.state.NextReady = make(map[string]bool)
}

func (c *Controller) GetReadyCount() int {
	return len(c.state.NextReady)
}

// AddPendingDisconnectEvent queues a disconnect for emission at the next
// results phase.
func (c *Controller) AddPendingDisconnectEvent(e engine.DisconnectEvent) {
	c.state.PendingDisconnectEvents = append(c.state.PendingDisconnectEvents, e)
}

// GetPendingDisconnectEvents drains and returns the queue.
func (c *Controller) GetPendingDisconnectEvents() []engine.DisconnectEvent {
	out := c.state.PendingDisconnectEvents
	c.state.PendingDisconnectEvents = nil
	return out
}

func (c *Controller) AddPendingPassiveActivation(p engine.PassiveActivation) {
	c.state.PendingPassiveActivations = append(c.state.PendingPassiveActivations, p)
}

func (c *Controller) AddPendingPassiveActivations(ps []engine.PassiveActivation) {
	c.state.PendingPassiveActivations = append(c.state.PendingPassiveActivations, ps...)
}

// GetPendingPassiveActivations drains and returns the queue.
func (c *Controller) GetPendingPassiveActivations() []engine.PassiveActivation {
	out := c.state.PendingPassiveActivations
	c.state.PendingPassiveActivations = nil
	return out
}

// ResetForNewRound clears pending actions, racial actions, and the ready
// set, but preserves the two event queues so they can still be emitted as
// part of the next results stream.
func (c *Controller) ResetForNewRound() {
	c.resetForNewRoundLocked()
}

func (c *Controller) resetForNewRoundLocked() {
	c.state.PendingActions = nil
	c.state.PendingRacialActions = nil
	c.state.NextReady = make(map[string]bool)
	for id, p := range c.state.Players {
		p.HasSubmittedAction = false
		c.state.Players[id] = p
	}
}

// Snapshot is the persistence shape toJSON/fromJSON round-trip on.
type Snapshot struct {
	Phase                     engine.Phase               `json:"phase"`
	Round                     int                        `json:"round"`
	PendingActions            []engine.PendingAction     `json:"pendingActions"`
	PendingRacialActions      []engine.PendingAction     `json:"pendingRacialActions"`
	NextReady                 map[string]bool            `json:"nextReady"`
	PendingDisconnectEvents   []engine.DisconnectEvent   `json:"pendingDisconnectEvents"`
	PendingPassiveActivations []engine.PassiveActivation `json:"pendingPassiveActivations"`
}

func (c *Controller) GetSnapshot() Snapshot {
	return Snapshot{
		Phase: c.state.Phase, Round: c.state.Round,
		PendingActions: append([]engine.PendingAction(nil), c.state.PendingActions...),
		PendingRacialActions: append([]engine.PendingAction(nil), c.state.PendingRacialActions...),
		NextReady: c.state.NextReady,
		PendingDisconnectEvents: append([]engine.DisconnectEvent(nil), c.state.PendingDisconnectEvents...),
		PendingPassiveActivations: append([]engine.PassiveActivation(nil), c.state.PendingPassiveActivations...),
	}
}

func (c *Controller) ToJSON() ([]byte, error) {
	return json.Marshal(c.GetSnapshot())
}

func (c *Controller) FromJSON(data []byte) error {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	c.state.Phase = snap.Phase
	c.state.Round = snap.Round
	c.state.PendingActions = snap.PendingActions
	c.state.PendingRacialActions = snap.PendingRacialActions
	if snap.NextReady == nil {
		snap.NextReady = make(map[string]bool)
	}
	c.state.NextReady = snap.NextReady
	c.state.PendingDisconnectEvents = snap.PendingDisconnectEvents
	c.state.PendingPassiveActivations = snap.PendingPassiveActivations
	return nil
}
