// Package engine holds Warlock's authoritative room state: the Room/
// Player/Monster/StatusEffect data model (spec.md §3), the event-sourced
// Reduce function that is the only way that state ever changes, and the
// victory-condition checks RoundResolver invokes at the end of
// resolution (spec.md §4.7 step 7).
package engine

import (
	"encoding/json"
	"time"
)

// Phase is the room-level state machine position (spec.md §4.5).
type Phase string

const (
	PhaseLobby   Phase = "lobby"
	PhaseAction  Phase = "action"
	PhaseResults Phase = "results"
)

// StatusEffect is one active effect on a player (spec.md §3). At most one
// non-stackable effect of a given Type may exist per player at a time;
// that invariant is enforced where effects are applied, not here.
type StatusEffect struct {
	Type           string  `json:"type"`
	TurnsRemaining int     `json:"turns_remaining"`
	Magnitude      float64 `json:"magnitude"`
	SourcePlayerID string  `json:"source_player_id,omitempty"`
	Stackable      bool    `json:"stackable"`
	Refreshable    bool    `json:"refreshable"`
}

// PlayerStats aggregates a player's contributions across the game.
type PlayerStats struct {
	TotalDamageDealt int `json:"total_damage_dealt"`
	TotalHealingDone int `json:"total_healing_done"`
	DamageTaken      int `json:"damage_taken"`
	HighestSingleHit int `json:"highest_single_hit"`
	TimesDied        int `json:"times_died"`
	SelfHeals        int `json:"self_heals"`
	AbilitiesUsed    int `json:"abilities_used"`
}

// Player is one seat in the room (spec.md §3).
type Player struct {
	ID                   string         `json:"id"`
	ConnectionID         string         `json:"connection_id"`
	Name                 string         `json:"name"`
	Race                 string         `json:"race,omitempty"`
	Class                string         `json:"class,omitempty"`
	HP                   int            `json:"hp"`
	MaxHP                int            `json:"max_hp"`
	IsAlive              bool           `json:"is_alive"`
	IsWarlock            bool           `json:"is_warlock"`
	IsRevealed           bool           `json:"is_revealed"`
	AbilityCooldowns     map[string]int `json:"ability_cooldowns"`
	StatusEffects        []StatusEffect `json:"status_effects"`
	HasSubmittedAction   bool           `json:"has_submitted_action"`
	ActionSubmissionTime time.Time      `json:"action_submission_time"`
	UnlockedAbilities    []string       `json:"unlocked_abilities"`
	IsReady              bool           `json:"is_ready"`
	Stats                PlayerStats    `json:"stats"`
}

// Monster is the shared antagonist all players fight (spec.md §3).
type Monster struct {
	HP         int                `json:"hp"`
	MaxHP      int                `json:"max_hp"`
	BaseDamage int                `json:"base_damage"`
	Age        int                `json:"age"`
	Threat     map[string]float64 `json:"threat"`
}

// RacialModifiers carries the optional per-action racial toggles a
// performAction message may include (spec.md §6).
type RacialModifiers struct {
	BloodRageActive  bool `json:"blood_rage_active,omitempty"`
	KeenSensesActive bool `json:"keen_senses_active,omitempty"`
}

// PendingAction is one player's queued input for the current round
// (spec.md §3).
type PendingAction struct {
	ActorID         string          `json:"actor_id"`
	ActionType      string          `json:"action_type"`
	AbilityKey      string          `json:"ability_key,omitempty"`
	TargetID        string          `json:"target_id,omitempty"`
	RacialModifiers RacialModifiers `json:"racial_modifiers"`
	SubmissionTime  time.Time       `json:"submission_time"`
	Priority        int             `json:"priority"`
	ValidationState string          `json:"validation_state"`
}

// PassiveActivation is a queued end-of-round effect (e.g. regeneration)
// waiting to be emitted at the next results phase (GLOSSARY).
type PassiveActivation struct {
	PlayerID   string  `json:"player_id"`
	EffectType string  `json:"effect_type"`
	Magnitude  float64 `json:"magnitude"`
}

type DisconnectEvent struct {
	PlayerID string `json:"player_id"`
}

// State is the full persisted shape of one room (spec.md §6 "Persisted
// state layout"). PhaseController in internal/phase holds a non-owning
// pointer to a State and mutates its pending-action fields directly,
// matching the "room owns subsystems, subsystems hold non-owning
// back-references" design note in spec.md §9.
type State struct {
	GameCode                  string              `json:"gameCode"`
	Phase                     Phase               `json:"phase"`
	Round                     int                 `json:"round"`
	Players                   map[string]Player   `json:"players"`
	Monster                   *Monster            `json:"monster,omitempty"`
	PendingActions            []PendingAction     `json:"pendingActions"`
	PendingRacialActions      []PendingAction     `json:"pendingRacialActions"`
	NextReady                 map[string]bool     `json:"nextReady"`
	PendingDisconnectEvents   []DisconnectEvent   `json:"pendingDisconnectEvents"`
	PendingPassiveActivations []PassiveActivation `json:"pendingPassiveActivations"`
	StartedAt                 time.Time           `json:"startedAt"`
}

// NewState constructs an empty lobby-phase room.
func NewState(gameCode string) *State {
	return &State{
		GameCode:  gameCode,
		Phase:     PhaseLobby,
		Round:     1,
		Players:   make(map[string]Player),
		NextReady: make(map[string]bool),
	}
}

// Copy returns a deep copy suitable for per-viewer projection without
// aliasing the authoritative state (spec.md §5 shared-resource policy).
func (s *State) Copy() *State {
	cp := &State{
		GameCode:  s.GameCode,
		Phase:     s.Phase,
		Round:     s.Round,
		Players:   make(map[string]Player, len(s.Players)),
		StartedAt: s.StartedAt,
	}
	for id, p := range s.Players {
		np := p
		np.AbilityCooldowns = cloneIntMap(p.AbilityCooldowns)
		np.StatusEffects = append([]StatusEffect(nil), p.StatusEffects...)
		np.UnlockedAbilities = append([]string(nil), p.UnlockedAbilities...)
		cp.Players[id] = np
	}
	if s.Monster != nil {
		m := *s.Monster
		m.Threat = cloneFloatMap(s.Monster.Threat)
		cp.Monster = &m
	}
	cp.PendingActions = append([]PendingAction(nil), s.PendingActions...)
	cp.PendingRacialActions = append([]PendingAction(nil), s.PendingRacialActions...)
	cp.NextReady = make(map[string]bool, len(s.NextReady))
	for k, v := range s.NextReady {
		cp.NextReady[k] = v
	}
	cp.PendingDisconnectEvents = append([]DisconnectEvent(nil), s.PendingDisconnectEvents...)
	cp.PendingPassiveActivations = append([]PassiveActivation(nil), s.PendingPassiveActivations...)
	return cp
}

func cloneIntMap(m map[string]int) map[string]int {
	if m == nil {
		return make(map[string]int)
	}
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneFloatMap(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// GetAliveCount returns the number of living players.
func (s *State) GetAliveCount() int {
	n := 0
	for _, p := range s.Players {
		if p.IsAlive {
			n++
		}
	}
	return n
}

// GetAliveWarlockCount returns the number of living hidden-role players.
func (s *State) GetAliveWarlockCount() int {
	n := 0
	for _, p := range s.Players {
		if p.IsAlive && p.IsWarlock {
			n++
		}
	}
	return n
}

// VictoryOutcome is the result of CheckVictory.
type VictoryOutcome string

const (
	VictoryNone VictoryOutcome = ""
	VictoryGood VictoryOutcome = "good"
	VictoryEvil VictoryOutcome = "evil"
	VictoryDraw VictoryOutcome = "draw"
)

// CheckVictory implements spec.md §4.7 step 7: Good wins if every warlock
// is dead; Evil wins if living good-aligned players <= living warlocks;
// Draw if everyone is dead.
func (s *State) CheckVictory() VictoryOutcome {
	alive := s.GetAliveCount()
	if alive == 0 {
		return VictoryDraw
	}
	aliveWarlocks := s.GetAliveWarlockCount()
	aliveGood := alive - aliveWarlocks
	if aliveWarlocks == 0 {
		return VictoryGood
	}
	if aliveGood <= aliveWarlocks {
		return VictoryEvil
	}
	return VictoryNone
}

// MarshalState/UnmarshalState round-trip a snapshot for warm restart
// (spec.md §6).
func MarshalState(s *State) ([]byte, error) { return json.Marshal(s) }

func UnmarshalState(data []byte) (*State, error) {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if s.Players == nil {
		s.Players = make(map[string]Player)
	}
	if s.NextReady == nil {
		s.NextReady = make(map[string]bool)
	}
	return &s, nil
}
