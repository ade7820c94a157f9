package catalog

import "context"

// staticCatalog is the built-in ContentCatalog implementation: a handful
// of races, classes, and status effects defined as package-level literal
// tables and indexed once via init(), mirroring how the pack's own
// content tables are built and queried.
type staticCatalog struct {
	races    map[string]RaceAttributes
	racials  map[string]RacialAbility
	classes  map[string][]ClassAbility
	statuses map[string]StatusEffectDefaults
	trophies []TrophyDefinition
}

var races = map[string]RaceAttributes{
	"human":   {HPModifier: 1.0, ArmorModifier: 0, DamageModifier: 1.0, CompatibleClasses: []string{"warrior", "priest", "wizard", "rogue"}},
	"dwarf":   {HPModifier: 1.2, ArmorModifier: 0.1, DamageModifier: 0.9, CompatibleClasses: []string{"warrior", "priest"}},
	"elf":     {HPModifier: 0.85, ArmorModifier: 0, DamageModifier: 1.15, CompatibleClasses: []string{"wizard", "rogue"}},
	"orc":     {HPModifier: 1.3, ArmorModifier: 0, DamageModifier: 1.1, CompatibleClasses: []string{"warrior", "rogue"}},
	"skeleton": {HPModifier: 0.9, ArmorModifier: 0.05, DamageModifier: 1.0, CompatibleClasses: []string{"warrior", "wizard"}},
}

var racials = map[string]RacialAbility{
	"human":    {ID: "adaptability", Name: "Adaptability", UsageLimit: UsagePerGame, MaxUses: 1, Cooldown: 0},
	"dwarf":    {ID: "stone_armor", Name: "Stone Armor", UsageLimit: UsagePassive, MaxUses: 0, Cooldown: 0},
	"elf":      {ID: "moonbeam", Name: "Moonbeam", UsageLimit: UsagePerRound, MaxUses: 1, Cooldown: 2},
	"orc":      {ID: "blood_rage", Name: "Blood Rage", UsageLimit: UsagePerTurn, MaxUses: 1, Cooldown: 0, Params: map[string]interface{}{"damageBonus": 0.25}},
	"skeleton": {ID: "undying", Name: "Undying", UsageLimit: UsagePerGame, MaxUses: 1, Cooldown: 0},
}

var classAbilities = map[string][]ClassAbility{
	"warrior": {
		{Type: "slash", Name: "Slash", Category: "damage", UnlockAt: 1, Priority: 20, Target: TargetPlayer, Cooldown: 0},
		{Type: "shield_wall", Name: "Shield Wall", Category: "defense", UnlockAt: 1, Priority: 50, Target: TargetSelf, Cooldown: 3},
		{Type: "keen_senses", Name: "Keen Senses", Category: "utility", UnlockAt: 3, Priority: 10, Target: TargetSelf, Cooldown: 2},
	},
	"priest": {
		{Type: "heal", Name: "Heal", Category: "heal", UnlockAt: 1, Priority: 40, Target: TargetPlayer, Cooldown: 1, CanTargetDead: false},
		{Type: "sanctuary", Name: "Sanctuary", Category: "defense", UnlockAt: 2, Priority: 45, Target: TargetPlayer, Cooldown: 3},
	},
	"wizard": {
		{Type: "fireball", Name: "Fireball", Category: "damage", UnlockAt: 1, Priority: 20, Target: TargetPlayer, Cooldown: 2},
		{Type: "weaken", Name: "Weaken", Category: "debuff", UnlockAt: 2, Priority: 25, Target: TargetPlayer, Cooldown: 2},
	},
	"rogue": {
		{Type: "backstab", Name: "Backstab", Category: "damage", UnlockAt: 1, Priority: 15, Target: TargetPlayer, Cooldown: 1},
		{Type: "invisibility", Name: "Invisibility", Category: "defense", UnlockAt: 3, Priority: 50, Target: TargetSelf, Cooldown: 4},
	},
}

var statuses = map[string]StatusEffectDefaults{
	"poison":          {Turns: 3, Stackable: false, Refreshable: true, Magnitude: 5},
	"bleed":           {Turns: 3, Stackable: true, Refreshable: false, Magnitude: 3},
	"shielded":        {Turns: 1, Stackable: false, Refreshable: true, Magnitude: 0},
	"invisible":       {Turns: 1, Stackable: false, Refreshable: true, Magnitude: 0},
	"stunned":         {Turns: 1, Stackable: false, Refreshable: false, Magnitude: 0},
	"vulnerable":      {Turns: 2, Stackable: false, Refreshable: true, Magnitude: 0.5},
	"weakened":        {Turns: 2, Stackable: false, Refreshable: true, Magnitude: 0.3},
	"enraged":         {Turns: 2, Stackable: false, Refreshable: true, Magnitude: 0.25},
	"healingOverTime": {Turns: 3, Stackable: false, Refreshable: true, Magnitude: 4},
	"stoneArmor":      {Turns: -1, Stackable: false, Refreshable: false, Magnitude: 0.1},
	"undying":         {Turns: -1, Stackable: false, Refreshable: false, Magnitude: 0},
	"moonbeam":        {Turns: 1, Stackable: false, Refreshable: true, Magnitude: 0},
	"lifeBond":        {Turns: -1, Stackable: false, Refreshable: false, Magnitude: 0},
	"spiritGuard":     {Turns: 2, Stackable: false, Refreshable: true, Magnitude: 0.2},
	"sanctuary":       {Turns: 1, Stackable: false, Refreshable: true, Magnitude: 0},
}

var monsterBasicAttack = ClassAbility{
	Type: "basic_attack", Name: "Monster Attack", Category: "damage",
	Priority: 5, Target: TargetPlayer, Cooldown: 0, CanTargetDead: false,
}

var trophies = []TrophyDefinition{
	{ID: "biggest_hit", Name: "Biggest Hit", Description: "Highest single hit dealt"},
	{ID: "healer", Name: "Healer", Description: "Most total healing done"},
	{ID: "survivor", Name: "Survivor", Description: "Took the least damage while alive"},
	{ID: "warlock_unmasked", Name: "Warlock Unmasked", Description: "The warlock, win or lose"},
}

var defaultCatalog *staticCatalog

func init() {
	defaultCatalog = &staticCatalog{
		races:    races,
		racials:  racials,
		classes:  classAbilities,
		statuses: statuses,
		trophies: trophies,
	}
}

// Default returns the process-wide static catalog loaded at init time.
func Default() Catalog { return defaultCatalog }

func (c *staticCatalog) GetRaceAttributes(race string) (RaceAttributes, bool) {
	a, ok := c.races[race]
	return a, ok
}

func (c *staticCatalog) GetRacialAbility(race string) (RacialAbility, bool) {
	a, ok := c.racials[race]
	return a, ok
}

func (c *staticCatalog) GetClassAbilities(class string) ([]ClassAbility, bool) {
	a, ok := c.classes[class]
	return a, ok
}

func (c *staticCatalog) GetClassAbility(class, abilityType string) (ClassAbility, bool) {
	for _, a := range c.classes[class] {
		if a.Type == abilityType {
			return a, true
		}
	}
	return ClassAbility{}, false
}

func (c *staticCatalog) GetStatusEffectDefaults(effectType string) (StatusEffectDefaults, bool) {
	d, ok := c.statuses[effectType]
	return d, ok
}

func (c *staticCatalog) GetMonsterBasicAttack() ClassAbility { return monsterBasicAttack }

func (c *staticCatalog) GetTrophies() []TrophyDefinition { return c.trophies }

// DispatchAbility is a narrow, fixed implementation of the contract: it
// resolves exactly enough of a category (damage/heal/defense/debuff/
// utility) to produce an EffectOutcome the engine can apply. The specific
// numbers are not a spec concern; only the shape of what comes back is.
func (c *staticCatalog) DispatchAbility(ctx context.Context, actor Actor, target Target, ability ClassAbility, room RoomContext, coord CoordinationInfo) []EffectOutcome {
	coordBonus := 1.0 + 0.1*float64(coord.CoTargeters)

	switch ability.Category {
	case "damage":
		base := 10
		amount := int(float64(base) * coordBonus)
		return []EffectOutcome{{Kind: EffectDamage, TargetID: targetID(target), Amount: amount}}
	case "heal":
		base := 8
		amount := int(float64(base) * coordBonus)
		return []EffectOutcome{{Kind: EffectHealing, TargetID: targetID(target), Amount: amount}}
	case "defense":
		def, _ := c.GetStatusEffectDefaults(ability.Type)
		return []EffectOutcome{{Kind: EffectApplied, TargetID: targetID(target), EffectType: ability.Type, Turns: def.Turns, Magnitude: def.Magnitude}}
	case "debuff":
		def, _ := c.GetStatusEffectDefaults("weakened")
		return []EffectOutcome{{Kind: EffectApplied, TargetID: targetID(target), EffectType: "weakened", Turns: def.Turns, Magnitude: def.Magnitude}}
	default:
		return nil
	}
}

func targetID(t Target) string {
	if t.IsMonster {
		return "__monster__"
	}
	return t.UserID
}
