package projection

import (
	"encoding/json"
	"testing"

	"github.com/zbonzo/warlock/internal/engine"
	"github.com/zbonzo/warlock/internal/types"
)

func newEvent(eventType string, payload map[string]interface{}) types.Event {
	b, _ := json.Marshal(payload)
	return types.Event{EventType: eventType, Payload: b}
}

func TestActionEventsOnlyReachSubmitter(t *testing.T) {
	s := engine.NewState("1234")
	ev := newEvent("action.executed", map[string]interface{}{"player_id": "p1"})
	if Project(ev, s, types.Viewer{UserID: "p1"}) == nil {
		t.Fatalf("expected submitter to see their own action event")
	}
	if Project(ev, s, types.Viewer{UserID: "p2"}) != nil {
		t.Fatalf("expected other players not to see a private action event")
	}
}

func TestWarlockAssignedOnlyReachesWarlocks(t *testing.T) {
	s := engine.NewState("1234")
	s.Players["p1"] = engine.Player{ID: "p1", IsWarlock: true}
	s.Players["p2"] = engine.Player{ID: "p2", IsWarlock: false}
	ev := newEvent("warlock.assigned", map[string]interface{}{"player_id": "p1"})
	if Project(ev, s, types.Viewer{UserID: "p1"}) == nil {
		t.Fatalf("expected warlock to see their own assignment")
	}
	if Project(ev, s, types.Viewer{UserID: "p2"}) != nil {
		t.Fatalf("expected non-warlock not to see warlock.assigned")
	}
}

func TestProjectedStateHidesWarlockStatusFromOthers(t *testing.T) {
	s := engine.NewState("1234")
	s.Players["p1"] = engine.Player{ID: "p1", IsWarlock: true}
	cp := ProjectedState(s, types.Viewer{UserID: "p2"})
	if cp.Players["p1"].IsWarlock {
		t.Fatalf("expected isWarlock hidden from a non-self viewer")
	}
	if s.Players["p1"].IsWarlock != true {
		t.Fatalf("expected ProjectedState not to mutate the source state")
	}
}

func TestProjectedStateRevealsWarlockStatusIfAlreadyRevealed(t *testing.T) {
	s := engine.NewState("1234")
	s.Players["p1"] = engine.Player{ID: "p1", IsWarlock: true, IsRevealed: true}
	cp := ProjectedState(s, types.Viewer{UserID: "p2"})
	if !cp.Players["p1"].IsWarlock {
		t.Fatalf("expected isWarlock visible once publicly revealed")
	}
}
