// Package command implements Command/AbilityCommand and the
// CommandProcessor that queues, (re)validates, and bulk-executes them
// (spec.md §4.3, §4.4).
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/zbonzo/warlock/internal/catalog"
	"github.com/zbonzo/warlock/internal/engine"
	"github.com/zbonzo/warlock/internal/eventbus"
	"github.com/zbonzo/warlock/internal/types"
)

// Status is a Command's lifecycle position. Transitions only move forward
// except Cancelled, terminal from any non-executing status.
type Status string

const (
	StatusPending    Status = "pending"
	StatusValidating Status = "validating"
	StatusValidated  Status = "validated"
	StatusExecuting  Status = "executing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// ValidationResult is what Validate populates.
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// Context is everything a Command needs to validate or execute against
// the room it belongs to.
type Context struct {
	State   *engine.State
	Catalog catalog.Catalog
	Bus     *eventbus.EventBus
	Room    catalog.RoomContext
	// CoTargeters maps a target id to how many other pending actions this
	// round also target it, feeding the coordination bonus (GLOSSARY).
	CoTargeters map[string]int
}

// Summary is the observable snapshot getSummary() returns.
type Summary struct {
	ID             string
	PlayerID       string
	ActionType     string
	AbilityKey     string
	TargetID       string
	Priority       int
	Status         Status
	SubmissionTime time.Time
	Errors         []string
}

// AbilityCommand is the one concrete Command implementation: it covers
// both ability actions and the phase-independent command types (ready,
// chat, spectate) uniformly, since they share the same validate/execute
// contract and differ only in which rules apply (spec.md §4.3).
type AbilityCommand struct {
	id              string
	playerID        string
	actionType      string
	abilityKey      string
	targetID        string
	racialModifiers engine.RacialModifiers
	metadata        map[string]interface{}
	priority        int
	submissionTime  time.Time
	status          Status
	validationErrors []string
	canUndo         bool
	undoSnapshot    *engine.Player
}

// NewAbilityCommand constructs a not-yet-validated command for one
// player's action.
func NewAbilityCommand(playerID, actionType, abilityKey, targetID string, mods engine.RacialModifiers, metadata map[string]interface{}) *AbilityCommand {
	return &AbilityCommand{
		id:              uuid.NewString(),
		playerID:        playerID,
		actionType:      actionType,
		abilityKey:      abilityKey,
		targetID:        targetID,
		racialModifiers: mods,
		metadata:        metadata,
		submissionTime:  time.Now(),
		status:          StatusPending,
	}
}

func (c *AbilityCommand) ID() string               { return c.id }
func (c *AbilityCommand) PlayerID() string          { return c.playerID }
func (c *AbilityCommand) ActionType() string        { return c.actionType }
func (c *AbilityCommand) Status() Status            { return c.status }
func (c *AbilityCommand) Priority() int             { return c.priority }
func (c *AbilityCommand) SubmissionTime() time.Time { return c.submissionTime }
func (c *AbilityCommand) TargetID() string          { return c.targetID }

func (c *AbilityCommand) GetSummary() Summary {
	return Summary{
		ID: c.id, PlayerID: c.playerID, ActionType: c.actionType, AbilityKey: c.abilityKey,
		TargetID: c.targetID, Priority: c.priority, Status: c.status,
		SubmissionTime: c.submissionTime, Errors: append([]string(nil), c.validationErrors...),
	}
}

// Cancel transitions to cancelled unless currently executing. Cancelling
// a completed, undoable command rolls its self-effect back first (spec.md
// §4.3 data model: cancelled is terminal from any non-executing status,
// including completed).
func (c *AbilityCommand) Cancel() bool {
	if c.status == StatusExecuting {
		return false
	}
	c.status = StatusCancelled
	return true
}

// Undo restores the actor's pre-execute snapshot for a completed,
// canUndo command by emitting a compensating action.undone event, so a
// crash/restart replay still sees the rollback (spec.md §6). It is a
// no-op for commands that never captured undo data.
func (c *AbilityCommand) Undo(cc Context) bool {
	if !c.canUndo || c.undoSnapshot == nil || c.status != StatusCancelled {
		return false
	}
	snap := c.undoSnapshot
	restoredCooldown := snap.AbilityCooldowns[c.abilityKey]
	emitEvent(cc.Bus, types.EventActionUndone, c.playerID, map[string]interface{}{
		"player_id": c.playerID, "hp": float64(snap.HP), "ability_key": c.abilityKey,
		"restored_cooldown": float64(restoredCooldown),
	})
	c.undoSnapshot = nil
	return true
}

// Validate implements the six rules from spec.md §4.3 and is idempotent:
// calling it twice against the same Context produces the same result.
func (c *AbilityCommand) Validate(ctx Context) ValidationResult {
	var errs []string

	actor, actorExists := ctx.State.Players[c.playerID]

	// rule 1: actor must exist and be alive, unless phase-independent.
	if !types.IsPhaseIndependent(c.actionType) {
		if !actorExists {
			errs = append(errs, "unknown actor")
		} else if !actor.IsAlive {
			errs = append(errs, "actor is not alive")
		}
	}

	// rule 2: phase must permit this action type.
	if !phasePermits(c.actionType, ctx.State.Phase) {
		errs = append(errs, fmt.Sprintf("action type %q not permitted in phase %q", c.actionType, ctx.State.Phase))
	}

	var abilityDef catalog.ClassAbility
	var haveAbility bool
	isAbilityType := c.actionType == types.CommandTypeAbility || c.actionType == types.CommandTypeRacialAbility || c.actionType == types.CommandTypeAdaptability

	if isAbilityType && actorExists {
		// rule 3: ability key must be one of the actor's unlocked abilities.
		unlocked := false
		for _, key := range actor.UnlockedAbilities {
			if key == c.abilityKey {
				unlocked = true
				break
			}
		}
		if c.actionType == types.CommandTypeRacialAbility {
			if racial, ok := ctx.Catalog.GetRacialAbility(actor.Race); ok && racial.ID == c.abilityKey {
				unlocked = true
			}
		}
		if !unlocked {
			errs = append(errs, "ability not unlocked")
		} else if def, ok := ctx.Catalog.GetClassAbility(actor.Class, c.abilityKey); ok {
			abilityDef = def
			haveAbility = true
		} else if racial, ok := ctx.Catalog.GetRacialAbility(actor.Race); ok && racial.ID == c.abilityKey {
			abilityDef = catalog.ClassAbility{Type: racial.ID, Name: racial.Name, Category: "damage", Cooldown: racial.Cooldown, Priority: 30, Target: catalog.TargetSelf}
			haveAbility = true
		} else {
			errs = append(errs, "ability definition not found in catalog")
		}

		// rule 4: ability must not be on cooldown.
		if haveAbility {
			if cd, ok := actor.AbilityCooldowns[c.abilityKey]; ok && cd > 0 {
				errs = append(errs, "ability is on cooldown")
			}
		}

		// rule 5: target resolution.
		if haveAbility {
			target := c.targetID
			if target == "monster" {
				target = "__monster__"
			}
			if abilityDef.Target == catalog.TargetSelf && target == "" {
				target = c.playerID
				c.targetID = target
			}
			switch {
			case target == "":
				errs = append(errs, "target required")
			case target == "__monster__":
				if ctx.State.Monster == nil || ctx.State.Monster.HP <= 0 {
					errs = append(errs, "monster target is not available")
				}
			default:
				tp, ok := ctx.State.Players[target]
				if !ok {
					errs = append(errs, "unknown target")
				} else if !tp.IsAlive && !abilityDef.CanTargetDead {
					errs = append(errs, "cannot target dead players")
				}
			}
			c.priority = abilityDef.Priority
		}

		// rule 6: ability-declared prerequisites.
		if haveAbility && actorExists {
			if req := abilityDef.RequiresHealth; req != nil {
				if req.MinAbsolute > 0 && actor.HP < req.MinAbsolute {
					errs = append(errs, "actor health below required minimum")
				}
				if req.MinFraction > 0 && actor.MaxHP > 0 && float64(actor.HP)/float64(actor.MaxHP) < req.MinFraction {
					errs = append(errs, "actor health fraction below required minimum")
				}
			}
			if abilityDef.RequiresEffect != "" && !hasEffect(actor, abilityDef.RequiresEffect) {
				errs = append(errs, "missing required status effect")
			}
			for _, prohibited := range abilityDef.ProhibitedEffects {
				if hasEffect(actor, prohibited) {
					errs = append(errs, "prohibited status effect present")
				}
			}
		}
	}

	c.validationErrors = errs
	valid := len(errs) == 0
	if valid {
		c.status = StatusValidated
	} else {
		c.status = StatusFailed
	}
	return ValidationResult{Valid: valid, Errors: errs}
}

func hasEffect(p engine.Player, effectType string) bool {
	for _, e := range p.StatusEffects {
		if e.Type == effectType {
			return true
		}
	}
	return false
}

func phasePermits(actionType string, phase engine.Phase) bool {
	switch actionType {
	case types.CommandTypeChat, types.CommandTypeSpectate:
		return true
	case types.CommandTypeReady, types.CommandTypeNotReady:
		return phase == engine.PhaseResults
	default:
		return phase == engine.PhaseAction
	}
}

// Execute runs only once Validate has returned valid for this Context. It
// dispatches through the ContentCatalog for ability types and emits
// action.executed plus one event per EffectOutcome; non-ability command
// types emit their own plain event.
func (c *AbilityCommand) Execute(ctx context.Context, cc Context) error {
	c.status = StatusExecuting

	if c.actionType != types.CommandTypeAbility && c.actionType != types.CommandTypeRacialAbility && c.actionType != types.CommandTypeAdaptability {
		c.status = StatusCompleted
		emitEvent(cc.Bus, eventTypeFor(c.actionType), c.playerID, map[string]interface{}{"player_id": c.playerID})
		return nil
	}

	actor, ok := cc.State.Players[c.playerID]
	if !ok {
		c.status = StatusFailed
		emitEvent(cc.Bus, types.EventActionFailed, c.playerID, map[string]interface{}{"player_id": c.playerID, "reason": "actor missing"})
		return fmt.Errorf("actor %s missing at execute time", c.playerID)
	}

	def, ok := cc.Catalog.GetClassAbility(actor.Class, c.abilityKey)
	if !ok {
		if racial, rok := cc.Catalog.GetRacialAbility(actor.Race); rok && racial.ID == c.abilityKey {
			def = catalog.ClassAbility{Type: racial.ID, Name: racial.Name, Category: "damage", Cooldown: racial.Cooldown, Priority: 30, Target: catalog.TargetSelf}
		} else {
			c.status = StatusFailed
			emitEvent(cc.Bus, types.EventActionFailed, c.playerID, map[string]interface{}{"player_id": c.playerID, "reason": "ability not found"})
			return fmt.Errorf("ability %s not found", c.abilityKey)
		}
	}

	// canUndo iff the ability's only observable effect is on the actor's
	// own seat (self-targeted heal/defense) — anything that touches another
	// player's health or the monster can't be rolled back in isolation
	// once later commands in the same round may have observed it.
	c.canUndo = def.Target == catalog.TargetSelf && (def.Category == "heal" || def.Category == "defense")
	if c.canUndo {
		snap := actor
		snap.AbilityCooldowns = make(map[string]int, len(actor.AbilityCooldowns))
		for k, v := range actor.AbilityCooldowns {
			snap.AbilityCooldowns[k] = v
		}
		snap.StatusEffects = append([]engine.StatusEffect(nil), actor.StatusEffects...)
		c.undoSnapshot = &snap
	}

	target := resolveTarget(cc.State, c.targetID)
	coord := catalog.CoordinationInfo{CoTargeters: cc.CoTargeters[c.targetID]}

	outcomes := cc.Catalog.DispatchAbility(ctx, catalog.Actor{
		UserID: actor.ID, HP: actor.HP, MaxHP: actor.MaxHP, Race: actor.Race, Class: actor.Class,
	}, target, def, cc.Room, coord)

	c.status = StatusCompleted
	emitEvent(cc.Bus, types.EventActionExecuted, c.playerID, map[string]interface{}{
		"player_id": c.playerID, "ability_id": c.abilityKey, "target_id": c.targetID, "cooldown": def.Cooldown,
	})

	for _, o := range outcomes {
		switch o.Kind {
		case catalog.EffectDamage:
			emitEvent(cc.Bus, types.EventDamageApplied, c.playerID, map[string]interface{}{
				"target_id": o.TargetID, "damage_amount": float64(o.Amount), "attacker_id": c.playerID,
			})
		case catalog.EffectHealing:
			emitEvent(cc.Bus, types.EventHealApplied, c.playerID, map[string]interface{}{
				"target_id": o.TargetID, "heal_amount": float64(o.Amount), "healer_id": c.playerID,
			})
		case catalog.EffectApplied:
			emitEvent(cc.Bus, types.EventEffectApplied, c.playerID, map[string]interface{}{
				"target_id": o.TargetID, "effect_type": o.EffectType, "turns": float64(o.Turns),
				"magnitude": o.Magnitude, "source_player_id": c.playerID,
			})
		}
	}
	return nil
}

func resolveTarget(s *engine.State, targetID string) catalog.Target {
	if targetID == "__monster__" || targetID == "monster" {
		if s.Monster != nil {
			return catalog.Target{IsMonster: true, HP: s.Monster.HP, MaxHP: s.Monster.MaxHP}
		}
		return catalog.Target{IsMonster: true}
	}
	if p, ok := s.Players[targetID]; ok {
		return catalog.Target{UserID: p.ID, HP: p.HP, MaxHP: p.MaxHP}
	}
	return catalog.Target{UserID: targetID}
}

func eventTypeFor(actionType string) string {
	switch actionType {
	case types.CommandTypeReady:
		return types.EventPlayerStatusUpdate
	case types.CommandTypeNotReady:
		return types.EventPlayerStatusUpdate
	default:
		return types.EventActionSubmitted
	}
}

func emitEvent(bus *eventbus.EventBus, eventType, actor string, payload map[string]interface{}) {
	if bus == nil {
		return
	}
	bus.Emit(context.Background(), eventType, eventPayloadJSON(actor, payload), true)
}

func eventPayloadJSON(actor string, payload map[string]interface{}) json.RawMessage {
	payload["actor"] = actor
	b, _ := json.Marshal(payload)
	return b
}
