package catalog

import (
	"context"
	"testing"
)

func TestDefaultCatalogRaceClassCompatibility(t *testing.T) {
	c := Default()
	for race, class := range map[string]string{
		"human": "wizard", "dwarf": "warrior", "elf": "rogue", "orc": "warrior", "skeleton": "wizard",
	} {
		attrs, ok := c.GetRaceAttributes(race)
		if !ok {
			t.Fatalf("expected race %q to exist", race)
		}
		found := false
		for _, cc := range attrs.CompatibleClasses {
			if cc == class {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("expected %q to be compatible with %q, got %v", class, race, attrs.CompatibleClasses)
		}
	}
}

func TestDefaultCatalogUnknownRace(t *testing.T) {
	if _, ok := Default().GetRaceAttributes("vampire"); ok {
		t.Fatalf("expected unknown race to report not-found")
	}
}

func TestDefaultCatalogClassAbilityLookup(t *testing.T) {
	c := Default()
	ability, ok := c.GetClassAbility("wizard", "fireball")
	if !ok {
		t.Fatalf("expected wizard to have fireball")
	}
	if ability.Cooldown != 2 || ability.Target != TargetPlayer {
		t.Fatalf("unexpected fireball definition: %+v", ability)
	}
	if _, ok := c.GetClassAbility("wizard", "slash"); ok {
		t.Fatalf("expected wizard not to have warrior's slash")
	}
}

func TestDispatchAbilityDamageAppliesCoordinationBonus(t *testing.T) {
	c := Default()
	ability, _ := c.GetClassAbility("wizard", "fireball")
	target := Target{UserID: "p2", HP: 20, MaxHP: 20}

	solo := c.DispatchAbility(context.Background(), Actor{UserID: "p1"}, target, ability, RoomContext{}, CoordinationInfo{})
	if len(solo) != 1 || solo[0].Kind != EffectDamage || solo[0].Amount != 10 {
		t.Fatalf("expected 10 damage with no coordination, got %+v", solo)
	}

	coordinated := c.DispatchAbility(context.Background(), Actor{UserID: "p1"}, target, ability, RoomContext{}, CoordinationInfo{CoTargeters: 2})
	if len(coordinated) != 1 || coordinated[0].Amount != 12 {
		t.Fatalf("expected coordination bonus to scale damage to 12, got %+v", coordinated)
	}
}

func TestDispatchAbilityMonsterTarget(t *testing.T) {
	c := Default()
	ability, _ := c.GetClassAbility("rogue", "backstab")
	outcomes := c.DispatchAbility(context.Background(), Actor{UserID: "p1"}, Target{IsMonster: true, HP: 100, MaxHP: 100}, ability, RoomContext{}, CoordinationInfo{})
	if len(outcomes) != 1 || outcomes[0].TargetID != "__monster__" {
		t.Fatalf("expected the monster's canonical id as target, got %+v", outcomes)
	}
}

func TestDispatchAbilityDefenseUsesStatusEffectDefaults(t *testing.T) {
	c := Default()
	ability, _ := c.GetClassAbility("priest", "sanctuary")
	outcomes := c.DispatchAbility(context.Background(), Actor{UserID: "priest1"}, Target{UserID: "p2"}, ability, RoomContext{}, CoordinationInfo{})
	if len(outcomes) != 1 || outcomes[0].Kind != EffectApplied || outcomes[0].EffectType != "sanctuary" {
		t.Fatalf("expected a sanctuary effect outcome, got %+v", outcomes)
	}
	defaults, _ := c.GetStatusEffectDefaults("sanctuary")
	if outcomes[0].Turns != defaults.Turns {
		t.Fatalf("expected defense outcome turns to match the status effect defaults")
	}
}

func TestGetTrophiesReturnsFixedSet(t *testing.T) {
	trophies := Default().GetTrophies()
	if len(trophies) == 0 {
		t.Fatalf("expected at least one trophy definition")
	}
	seen := map[string]bool{}
	for _, tr := range trophies {
		if tr.ID == "" || tr.Name == "" {
			t.Fatalf("trophy definition missing id/name: %+v", tr)
		}
		if seen[tr.ID] {
			t.Fatalf("duplicate trophy id %q", tr.ID)
		}
		seen[tr.ID] = true
	}
}
