package engine

import "testing"

func TestReduceJoin(t *testing.T) {
	s := NewState("1234")
	s.Reduce(EventPayload{Seq: 1, Type: "player.joined", Actor: "p1", Payload: map[string]interface{}{"player_id": "p1", "name": "Alice"}})
	p, ok := s.Players["p1"]
	if !ok {
		t.Fatalf("player p1 not found")
	}
	if !p.IsAlive || p.Name != "Alice" {
		t.Errorf("unexpected player state: %+v", p)
	}
}

func TestReduceGameStartedSetsActionPhase(t *testing.T) {
	s := NewState("1234")
	s.Reduce(EventPayload{Seq: 1, Type: "game.started"})
	if s.Phase != PhaseAction {
		t.Errorf("expected action phase, got %s", s.Phase)
	}
	if s.Monster == nil || s.Monster.HP != s.Monster.MaxHP {
		t.Errorf("expected monster initialized at full hp, got %+v", s.Monster)
	}
}

func TestReduceDamageKillsPlayer(t *testing.T) {
	s := NewState("1234")
	s.Players["p1"] = Player{ID: "p1", HP: 5, MaxHP: 20, IsAlive: true}
	s.Reduce(EventPayload{Seq: 1, Type: "damage.applied", Payload: map[string]interface{}{"target_id": "p1", "damage_amount": 10.0}})
	p := s.Players["p1"]
	if p.IsAlive {
		t.Fatalf("expected player dead after lethal damage")
	}
	if p.HP != 0 {
		t.Errorf("expected hp floored at 0, got %d", p.HP)
	}
	if p.Stats.DamageTaken != 10 {
		t.Errorf("expected damage taken tracked, got %d", p.Stats.DamageTaken)
	}
}

func TestReduceHealCapsAtMax(t *testing.T) {
	s := NewState("1234")
	s.Players["p1"] = Player{ID: "p1", HP: 15, MaxHP: 20, IsAlive: true}
	s.Reduce(EventPayload{Seq: 1, Type: "heal.applied", Payload: map[string]interface{}{"target_id": "p1", "heal_amount": 50.0}})
	if s.Players["p1"].HP != 20 {
		t.Errorf("expected hp capped at max, got %d", s.Players["p1"].HP)
	}
}

func TestUpsertEffectRefreshesNonStackable(t *testing.T) {
	s := NewState("1234")
	s.Players["p1"] = Player{ID: "p1", IsAlive: true}
	s.Reduce(EventPayload{Seq: 1, Type: "effect.applied", Payload: map[string]interface{}{"target_id": "p1", "effect_type": "poison", "turns": 3.0, "magnitude": 5.0}})
	s.Reduce(EventPayload{Seq: 2, Type: "effect.applied", Payload: map[string]interface{}{"target_id": "p1", "effect_type": "poison", "turns": 5.0, "magnitude": 7.0}})
	effects := s.Players["p1"].StatusEffects
	if len(effects) != 1 {
		t.Fatalf("expected exactly one poison effect, got %d", len(effects))
	}
	if effects[0].TurnsRemaining != 5 {
		t.Errorf("expected refreshed turns, got %d", effects[0].TurnsRemaining)
	}
}

func TestCheckVictoryGoodWinsWhenNoWarlocksAlive(t *testing.T) {
	s := NewState("1234")
	s.Players["p1"] = Player{ID: "p1", IsAlive: true, IsWarlock: false}
	s.Players["p2"] = Player{ID: "p2", IsAlive: false, IsWarlock: true}
	if got := s.CheckVictory(); got != VictoryGood {
		t.Errorf("expected good victory, got %s", got)
	}
}

func TestCheckVictoryEvilWinsWhenWarlocksEqualGood(t *testing.T) {
	s := NewState("1234")
	s.Players["p1"] = Player{ID: "p1", IsAlive: true, IsWarlock: false}
	s.Players["p2"] = Player{ID: "p2", IsAlive: true, IsWarlock: true}
	if got := s.CheckVictory(); got != VictoryEvil {
		t.Errorf("expected evil victory, got %s", got)
	}
}

func TestCheckVictoryDrawWhenAllDead(t *testing.T) {
	s := NewState("1234")
	s.Players["p1"] = Player{ID: "p1", IsAlive: false}
	if got := s.CheckVictory(); got != VictoryDraw {
		t.Errorf("expected draw, got %s", got)
	}
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	s := NewState("1234")
	s.Players["p1"] = Player{ID: "p1", Name: "Alice", IsAlive: true, AbilityCooldowns: map[string]int{}}
	s.Phase = PhaseAction
	data, err := MarshalState(s)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	back, err := UnmarshalState(data)
	if err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if back.GameCode != s.GameCode || back.Phase != s.Phase {
		t.Errorf("round trip mismatch: %+v vs %+v", back, s)
	}
	if back.Players["p1"].Name != "Alice" {
		t.Errorf("expected player to survive round trip, got %+v", back.Players["p1"])
	}
}
