package queue

import (
	"context"
	"testing"
)

func TestCreateComputeTrophiesTaskCarriesStatsPayload(t *testing.T) {
	f := NewTaskFactory()
	task := f.CreateComputeTrophiesTask("ABCD", ComputeTrophiesData{
		GameCode: "ABCD",
		Round:    4,
		Outcome:  "good_wins",
		Stats: []PlayerStatsSnapshot{
			{PlayerID: "p1", TotalDamageDealt: 30},
		},
	})
	if task.Type != TaskTypeComputeTrophies {
		t.Fatalf("expected task type %q, got %q", TaskTypeComputeTrophies, task.Type)
	}
	if task.RoomID != "ABCD" {
		t.Fatalf("expected room id ABCD, got %q", task.RoomID)
	}
	if task.ID == "" {
		t.Fatalf("expected a generated task id")
	}
	stats, ok := task.Data["stats"].([]interface{})
	if !ok || len(stats) != 1 {
		t.Fatalf("expected one stats entry in the task payload, got %+v", task.Data["stats"])
	}
}

func TestCreateTrophyHandlerAwardsHighestInEachCategory(t *testing.T) {
	var savedGameCode string
	var savedAwards []TrophyAward
	handler := CreateTrophyHandler(func(ctx context.Context, gameCode string, awards []TrophyAward) error {
		savedGameCode = gameCode
		savedAwards = awards
		return nil
	})

	task := NewTaskFactory().CreateComputeTrophiesTask("ABCD", ComputeTrophiesData{
		GameCode: "ABCD",
		Stats: []PlayerStatsSnapshot{
			{PlayerID: "p1", TotalDamageDealt: 50, TotalHealingDone: 5, HighestSingleHit: 20, TimesDied: 0},
			{PlayerID: "p2", TotalDamageDealt: 10, TotalHealingDone: 40, HighestSingleHit: 8, TimesDied: 2},
		},
	})

	result, err := handler(context.Background(), task)
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if result["awarded"] != 4 {
		t.Fatalf("expected 4 awards, got %v", result["awarded"])
	}
	if savedGameCode != "ABCD" {
		t.Fatalf("expected save to receive the game code, got %q", savedGameCode)
	}

	byCategory := map[string]string{}
	for _, a := range savedAwards {
		byCategory[a.Category] = a.PlayerID
	}
	if byCategory["most_damage"] != "p1" {
		t.Fatalf("expected p1 to win most_damage, got %q", byCategory["most_damage"])
	}
	if byCategory["most_healing"] != "p2" {
		t.Fatalf("expected p2 to win most_healing, got %q", byCategory["most_healing"])
	}
	if byCategory["biggest_hit"] != "p1" {
		t.Fatalf("expected p1 to win biggest_hit, got %q", byCategory["biggest_hit"])
	}
	if byCategory["most_deaths"] != "p2" {
		t.Fatalf("expected p2 to win most_deaths, got %q", byCategory["most_deaths"])
	}
}

func TestCreateTrophyHandlerPropagatesSaveError(t *testing.T) {
	handler := CreateTrophyHandler(func(ctx context.Context, gameCode string, awards []TrophyAward) error {
		return context.DeadlineExceeded
	})
	task := NewTaskFactory().CreateComputeTrophiesTask("ABCD", ComputeTrophiesData{
		GameCode: "ABCD",
		Stats:    []PlayerStatsSnapshot{{PlayerID: "p1", TotalDamageDealt: 1}},
	})
	if _, err := handler(context.Background(), task); err == nil {
		t.Fatalf("expected handler to propagate the save error")
	}
}
