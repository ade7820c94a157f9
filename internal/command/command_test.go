package command

import (
	"context"
	"testing"

	"github.com/zbonzo/warlock/internal/catalog"
	"github.com/zbonzo/warlock/internal/engine"
	"github.com/zbonzo/warlock/internal/eventbus"
)

func newTestState() *engine.State {
	s := engine.NewState("1234")
	s.Phase = engine.PhaseAction
	s.Players["p1"] = engine.Player{
		ID: "p1", Name: "Alice", Class: "wizard", HP: 20, MaxHP: 20, IsAlive: true,
		AbilityCooldowns: map[string]int{}, UnlockedAbilities: []string{"fireball"},
	}
	s.Players["p2"] = engine.Player{
		ID: "p2", Name: "Bob", HP: 20, MaxHP: 20, IsAlive: true,
		AbilityCooldowns: map[string]int{},
	}
	return s
}

func newTestContext(s *engine.State) Context {
	return Context{State: s, Catalog: catalog.Default(), Bus: eventbus.New("1234", 50, nil), Room: catalog.RoomContext{GameCode: "1234", Round: 1}}
}

func TestValidateRejectsUnlockedAbility(t *testing.T) {
	s := newTestState()
	cmd := NewAbilityCommand("p1", "ability", "backstab", "p2", engine.RacialModifiers{}, nil)
	vr := cmd.Validate(newTestContext(s))
	if vr.Valid {
		t.Fatalf("expected invalid, ability not unlocked")
	}
}

func TestValidateAcceptsUnlockedAbility(t *testing.T) {
	s := newTestState()
	cmd := NewAbilityCommand("p1", "ability", "fireball", "p2", engine.RacialModifiers{}, nil)
	vr := cmd.Validate(newTestContext(s))
	if !vr.Valid {
		t.Fatalf("expected valid, got errors: %v", vr.Errors)
	}
}

func TestValidateRejectsDeadActor(t *testing.T) {
	s := newTestState()
	p := s.Players["p1"]
	p.IsAlive = false
	s.Players["p1"] = p
	cmd := NewAbilityCommand("p1", "ability", "fireball", "p2", engine.RacialModifiers{}, nil)
	vr := cmd.Validate(newTestContext(s))
	if vr.Valid {
		t.Fatalf("expected invalid, actor is dead")
	}
}

func TestValidateRejectsDeadTarget(t *testing.T) {
	s := newTestState()
	p2 := s.Players["p2"]
	p2.IsAlive = false
	s.Players["p2"] = p2
	cmd := NewAbilityCommand("p1", "ability", "fireball", "p2", engine.RacialModifiers{}, nil)
	vr := cmd.Validate(newTestContext(s))
	if vr.Valid {
		t.Fatalf("expected invalid, cannot target dead player")
	}
}

func TestValidateRejectsCooldown(t *testing.T) {
	s := newTestState()
	p := s.Players["p1"]
	p.AbilityCooldowns["fireball"] = 1
	s.Players["p1"] = p
	cmd := NewAbilityCommand("p1", "ability", "fireball", "p2", engine.RacialModifiers{}, nil)
	vr := cmd.Validate(newTestContext(s))
	if vr.Valid {
		t.Fatalf("expected invalid, ability on cooldown")
	}
}

func TestExecuteEmitsActionExecuted(t *testing.T) {
	s := newTestState()
	cc := newTestContext(s)
	events := 0
	cc.Bus.On("action.executed", func(ctx context.Context, ev eventbus.BusEvent) error {
		events++
		return nil
	}, eventbus.ListenOptions{})

	cmd := NewAbilityCommand("p1", "ability", "fireball", "p2", engine.RacialModifiers{}, nil)
	if vr := cmd.Validate(cc); !vr.Valid {
		t.Fatalf("expected valid: %v", vr.Errors)
	}
	if err := cmd.Execute(context.Background(), cc); err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if events != 1 {
		t.Fatalf("expected 1 action.executed event, got %d", events)
	}
	if cmd.Status() != StatusCompleted {
		t.Fatalf("expected completed status, got %s", cmd.Status())
	}
}

func TestProcessorSubmitAndProcess(t *testing.T) {
	s := newTestState()
	cc := newTestContext(s)
	proc := NewCommandProcessor()

	cmd := NewAbilityCommand("p1", "ability", "fireball", "p2", engine.RacialModifiers{}, nil)
	if _, err := proc.SubmitActionData(cc, cmd); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	var damageEvents int
	cc.Bus.On("damage.applied", func(ctx context.Context, ev eventbus.BusEvent) error {
		damageEvents++
		return nil
	}, eventbus.ListenOptions{})

	proc.ProcessCommands(context.Background(), cc)

	if damageEvents != 1 {
		t.Fatalf("expected 1 damage.applied event from resolution, got %d", damageEvents)
	}
	stats := proc.GetStats()
	if stats.CommandsExecuted != 1 {
		t.Fatalf("expected 1 command executed, got %d", stats.CommandsExecuted)
	}
}

func TestExecuteCapturesUndoAndCancelRollsBack(t *testing.T) {
	s := newTestState()
	p := s.Players["p1"]
	p.Class = "rogue"
	p.UnlockedAbilities = []string{"invisibility"}
	p.AbilityCooldowns["invisibility"] = 0
	s.Players["p1"] = p
	cc := newTestContext(s)

	cmd := NewAbilityCommand("p1", "ability", "invisibility", "", engine.RacialModifiers{}, nil)
	if vr := cmd.Validate(cc); !vr.Valid {
		t.Fatalf("expected valid, got errors: %v", vr.Errors)
	}
	if err := cmd.Execute(context.Background(), cc); err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if !cmd.canUndo {
		t.Fatalf("expected self-targeted defense ability to capture undo data")
	}
	if cmd.undoSnapshot == nil {
		t.Fatalf("expected undo snapshot to be captured")
	}

	var undone int
	cc.Bus.On("action.undone", func(ctx context.Context, ev eventbus.BusEvent) error {
		undone++
		return nil
	}, eventbus.ListenOptions{})

	if !cmd.Cancel() {
		t.Fatalf("expected cancel of a completed, undoable command to succeed")
	}
	if !cmd.Undo(cc) {
		t.Fatalf("expected undo to run for a cancelled, undoable command")
	}
	if undone != 1 {
		t.Fatalf("expected 1 action.undone event, got %d", undone)
	}
}

func TestProcessorReplacesNonRacialCommandForSamePlayer(t *testing.T) {
	s := newTestState()
	cc := newTestContext(s)
	proc := NewCommandProcessor()

	first := NewAbilityCommand("p1", "ability", "fireball", "p2", engine.RacialModifiers{}, nil)
	proc.SubmitActionData(cc, first)
	second := NewAbilityCommand("p1", "ability", "fireball", "p2", engine.RacialModifiers{}, nil)
	proc.SubmitActionData(cc, second)

	if first.Status() != StatusCancelled {
		t.Fatalf("expected first command cancelled on resubmission, got %s", first.Status())
	}
	pending := proc.GetPendingCommands("p1")
	if len(pending) != 1 || pending[0].id != second.id {
		t.Fatalf("expected only the second command pending, got %+v", pending)
	}
}
