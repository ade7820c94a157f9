package engine

import "time"

// EventPayload is the event shape Reduce consumes: already-decoded, typed
// enough for state mutation. internal/room decodes types.Event.Payload
// into one of these before calling Reduce, the same way the teacher's
// engine decodes into its own EventPayload before reducing.
type EventPayload struct {
	Seq     int64
	Type    string
	Actor   string
	Payload map[string]interface{}
}

func (p EventPayload) str(key string) string {
	if v, ok := p.Payload[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func (p EventPayload) num(key string) float64 {
	if v, ok := p.Payload[key]; ok {
		switch n := v.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		}
	}
	return 0
}

func (p EventPayload) strSlice(key string) []string {
	v, ok := p.Payload[key]
	if !ok {
		return nil
	}
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Reduce is the only function that mutates authoritative state. It is
// pure given (State, EventPayload) and is replayed from the event log to
// reconstruct state after a restart (spec.md §6 persisted state layout).
func (s *State) Reduce(ev EventPayload) {
	switch ev.Type {
	case "player.joined":
		id := ev.str("player_id")
		if id == "" {
			id = ev.Actor
		}
		s.Players[id] = Player{
			ID:               id,
			Name:             ev.str("name"),
			AbilityCooldowns: make(map[string]int),
			IsAlive:          true,
		}

	case "player.left", "player.removed":
		delete(s.Players, ev.str("player_id"))

	case "player.status.updated":
		id := ev.str("player_id")
		p, ok := s.Players[id]
		if !ok {
			return
		}
		if race := ev.str("race"); race != "" {
			p.Race = race
		}
		if class := ev.str("class"); class != "" {
			p.Class = class
		}
		if abilities := ev.strSlice("unlocked_abilities"); abilities != nil {
			p.UnlockedAbilities = abilities
		}
		if maxHP := ev.num("max_hp"); maxHP > 0 {
			p.MaxHP = int(maxHP)
			if p.HP == 0 {
				p.HP = int(maxHP)
			}
		}
		if hp := ev.num("hp"); hp > 0 {
			p.HP = int(hp)
		}
		if _, ready := ev.Payload["ready"]; ready {
			p.IsReady = ev.Payload["ready"] == true
		}
		s.Players[id] = p

	case "action.adaptability":
		id := ev.str("player_id")
		p, ok := s.Players[id]
		if !ok {
			return
		}
		oldAbility := ev.str("old_ability_type")
		newAbility := ev.str("new_ability_type")
		for i, a := range p.UnlockedAbilities {
			if a == oldAbility {
				p.UnlockedAbilities[i] = newAbility
				break
			}
		}
		// adaptability is a perGame racial ability (spec.md §6); marking
		// its cooldown permanently non-zero is how Reduce records "used".
		p.AbilityCooldowns["adaptability"] = 9999
		s.Players[id] = p

	case "warlock.assigned":
		id := ev.str("player_id")
		p, ok := s.Players[id]
		if !ok {
			return
		}
		p.IsWarlock = true
		s.Players[id] = p

	case "monster.died":
		// monster.HP already reflects death via the preceding
		// damage.applied/monster.damaged reduction; this is a marker
		// event for projection/trophy consumers, not a state mutation.

	case "game.started":
		s.Phase = PhaseAction
		s.Round = 1
		s.StartedAt = time.Now()
		if s.Monster == nil {
			s.Monster = &Monster{HP: 100, MaxHP: 100, BaseDamage: 8, Threat: make(map[string]float64)}
		}

	case "phase.changed":
		newPhase := ev.str("new_phase")
		if newPhase != "" {
			s.Phase = Phase(newPhase)
		}

	case "action.submitted":
		id := ev.str("player_id")
		p, ok := s.Players[id]
		if !ok {
			return
		}
		p.HasSubmittedAction = true
		p.ActionSubmissionTime = time.Now()
		s.Players[id] = p

	case "action.executed":
		id := ev.str("player_id")
		p, ok := s.Players[id]
		if !ok {
			return
		}
		p.HasSubmittedAction = false
		p.Stats.AbilitiesUsed++
		if key := ev.str("ability_id"); key != "" {
			if cd := int(ev.num("cooldown")); cd > 0 {
				p.AbilityCooldowns[key] = cd
			}
		}
		s.Players[id] = p

	case "action.undone":
		id := ev.str("player_id")
		p, ok := s.Players[id]
		if !ok {
			return
		}
		p.HP = int(ev.num("hp"))
		if key := ev.str("ability_key"); key != "" {
			p.AbilityCooldowns[key] = int(ev.num("restored_cooldown"))
		}
		s.Players[id] = p

	case "action.failed", "action.rejected":
		id := ev.str("player_id")
		p, ok := s.Players[id]
		if !ok {
			return
		}
		p.HasSubmittedAction = false
		s.Players[id] = p

	case "damage.applied", "combat.damage_applied":
		id := ev.str("target_id")
		amount := int(ev.num("damage_amount"))
		if id == "__monster__" {
			s.applyMonsterDamage(amount)
		} else if p, ok := s.Players[id]; ok {
			p.HP -= amount
			if p.HP < 0 {
				p.HP = 0
			}
			p.Stats.DamageTaken += amount
			if p.HP == 0 && p.IsAlive {
				p.IsAlive = false
				p.Stats.TimesDied++
			}
			s.Players[id] = p
		}
		if attacker := ev.str("attacker_id"); attacker != "" {
			if a, ok := s.Players[attacker]; ok {
				a.Stats.TotalDamageDealt += amount
				if amount > a.Stats.HighestSingleHit {
					a.Stats.HighestSingleHit = amount
				}
				s.Players[attacker] = a
			}
		}

	case "heal.applied", "combat.healing_applied":
		id := ev.str("target_id")
		amount := int(ev.num("heal_amount"))
		if id == "__monster__" {
			s.applyMonsterHeal(amount)
		} else if p, ok := s.Players[id]; ok {
			p.HP += amount
			if p.HP > p.MaxHP {
				p.HP = p.MaxHP
			}
			s.Players[id] = p
		}
		if healer := ev.str("healer_id"); healer != "" {
			if h, ok := s.Players[healer]; ok {
				h.Stats.TotalHealingDone += amount
				if healer == id {
					h.Stats.SelfHeals++
				}
				s.Players[healer] = h
			}
		}

	case "effect.applied", "combat.effect_applied":
		id := ev.str("target_id")
		p, ok := s.Players[id]
		if !ok {
			return
		}
		eff := StatusEffect{
			Type:           ev.str("effect_type"),
			TurnsRemaining: int(ev.num("turns")),
			Magnitude:      ev.num("magnitude"),
			SourcePlayerID: ev.str("source_player_id"),
		}
		p.StatusEffects = upsertEffect(p.StatusEffects, eff)
		s.Players[id] = p

	case "effect.expired":
		id := ev.str("target_id")
		p, ok := s.Players[id]
		if !ok {
			return
		}
		p.StatusEffects = removeEffect(p.StatusEffects, ev.str("effect_type"))
		s.Players[id] = p

	case "monster.damaged":
		s.applyMonsterDamage(int(ev.num("damage_amount")))

	case "monster.healed":
		s.applyMonsterHeal(int(ev.num("heal_amount")))

	case "monster.acted":
		if s.Monster != nil {
			s.Monster.Age++
		}

	case "player.died":
		id := ev.str("player_id")
		p, ok := s.Players[id]
		if !ok {
			return
		}
		if p.IsAlive {
			p.Stats.TimesDied++
		}
		p.IsAlive = false
		p.HP = 0
		s.Players[id] = p

	case "player.reconnected":
		// connection id is transport-layer only and tracked by
		// internal/room, not part of persisted engine state.

	case "game.ended":
		// terminal event; PhaseController drives any state-machine reset.
	}
}

func (s *State) applyMonsterDamage(amount int) {
	if s.Monster == nil {
		return
	}
	s.Monster.HP -= amount
	if s.Monster.HP < 0 {
		s.Monster.HP = 0
	}
}

func (s *State) applyMonsterHeal(amount int) {
	if s.Monster == nil {
		return
	}
	s.Monster.HP += amount
	if s.Monster.HP > s.Monster.MaxHP {
		s.Monster.HP = s.Monster.MaxHP
	}
}

// upsertEffect enforces "at most one non-stackable effect of a given type
// per player" (spec.md §3 invariant): a non-stackable effect of the same
// type refreshes in place when Refreshable, otherwise is left untouched.
func upsertEffect(effects []StatusEffect, next StatusEffect) []StatusEffect {
	if next.Stackable {
		return append(effects, next)
	}
	for i, e := range effects {
		if e.Type == next.Type {
			if e.Refreshable {
				effects[i] = next
			}
			return effects
		}
	}
	return append(effects, next)
}

func removeEffect(effects []StatusEffect, effectType string) []StatusEffect {
	out := effects[:0]
	for _, e := range effects {
		if e.Type != effectType {
			out = append(out, e)
		}
	}
	return out
}
