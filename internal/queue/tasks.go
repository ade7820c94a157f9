package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TaskTypeComputeTrophies is the only task type this server enqueues: it
// keeps end-of-game award computation off the results-broadcast critical
// path (spec.md §4.7 step 8).
const TaskTypeComputeTrophies = "compute_trophies"

// PlayerStatsSnapshot is the subset of a player's aggregate stats a
// trophy handler needs, copied out so the task payload has no dependency
// on the engine package.
type PlayerStatsSnapshot struct {
	PlayerID         string `json:"player_id"`
	TotalDamageDealt int    `json:"total_damage_dealt"`
	TotalHealingDone int    `json:"total_healing_done"`
	DamageTaken      int    `json:"damage_taken"`
	HighestSingleHit int    `json:"highest_single_hit"`
	TimesDied        int    `json:"times_died"`
	SelfHeals        int    `json:"self_heals"`
	AbilitiesUsed    int    `json:"abilities_used"`
}

// ComputeTrophiesData is the payload for a TaskTypeComputeTrophies task.
type ComputeTrophiesData struct {
	GameCode string                `json:"game_code"`
	Round    int                   `json:"round"`
	Outcome  string                `json:"outcome"`
	Stats    []PlayerStatsSnapshot `json:"stats"`
}

// TaskFactory creates tasks for common operations.
type TaskFactory struct {
	DefaultPriority int
}

func NewTaskFactory() *TaskFactory {
	return &TaskFactory{DefaultPriority: 5}
}

// CreateComputeTrophiesTask builds the task enqueued when a room emits
// game.ended (spec.md §4.7 step 8).
func (f *TaskFactory) CreateComputeTrophiesTask(gameCode string, data ComputeTrophiesData) Task {
	return Task{
		ID:        uuid.New().String(),
		Type:      TaskTypeComputeTrophies,
		RoomID:    gameCode,
		Data:      trophyDataToMap(data),
		Priority:  f.DefaultPriority,
		CreatedAt: time.Now(),
		MaxRetry:  2,
	}
}

func trophyDataToMap(data ComputeTrophiesData) map[string]interface{} {
	stats := make([]interface{}, len(data.Stats))
	for i, s := range data.Stats {
		stats[i] = map[string]interface{}{
			"player_id":          s.PlayerID,
			"total_damage_dealt": s.TotalDamageDealt,
			"total_healing_done": s.TotalHealingDone,
			"damage_taken":       s.DamageTaken,
			"highest_single_hit": s.HighestSingleHit,
			"times_died":         s.TimesDied,
			"self_heals":         s.SelfHeals,
			"abilities_used":     s.AbilitiesUsed,
		}
	}
	return map[string]interface{}{
		"game_code": data.GameCode,
		"round":     data.Round,
		"outcome":   data.Outcome,
		"stats":     stats,
	}
}

// TrophyAward is one computed end-of-game award.
type TrophyAward struct {
	PlayerID string
	Category string
	Value    float64
}

// CreateTrophyHandler returns a TaskHandler that computes trophies
// (highest damage, most healing, biggest single hit, most deaths) from
// the stats snapshot carried in the task payload and hands the result to
// save. save is injected as a plain function rather than a concrete store
// type so this package stays free of a dependency on internal/store.
func CreateTrophyHandler(save func(ctx context.Context, gameCode string, awards []TrophyAward) error) TaskHandler {
	return func(ctx context.Context, task Task) (map[string]interface{}, error) {
		gameCode, _ := task.Data["game_code"].(string)
		rawStats, _ := task.Data["stats"].([]interface{})

		var bestDamageID, bestHealingID, bestHitID, bestDeathsID string
		var bestDamage, bestHealing, bestHit, bestDeaths float64

		for _, raw := range rawStats {
			m, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			playerID, _ := m["player_id"].(string)
			if v := numField(m, "total_damage_dealt"); v > bestDamage {
				bestDamage, bestDamageID = v, playerID
			}
			if v := numField(m, "total_healing_done"); v > bestHealing {
				bestHealing, bestHealingID = v, playerID
			}
			if v := numField(m, "highest_single_hit"); v > bestHit {
				bestHit, bestHitID = v, playerID
			}
			if v := numField(m, "times_died"); v > bestDeaths {
				bestDeaths, bestDeathsID = v, playerID
			}
		}

		var awards []TrophyAward
		if bestDamageID != "" {
			awards = append(awards, TrophyAward{PlayerID: bestDamageID, Category: "most_damage", Value: bestDamage})
		}
		if bestHealingID != "" {
			awards = append(awards, TrophyAward{PlayerID: bestHealingID, Category: "most_healing", Value: bestHealing})
		}
		if bestHitID != "" {
			awards = append(awards, TrophyAward{PlayerID: bestHitID, Category: "biggest_hit", Value: bestHit})
		}
		if bestDeathsID != "" {
			awards = append(awards, TrophyAward{PlayerID: bestDeathsID, Category: "most_deaths", Value: bestDeaths})
		}

		if err := save(ctx, gameCode, awards); err != nil {
			return nil, err
		}
		return map[string]interface{}{"awarded": len(awards)}, nil
	}
}

func numField(m map[string]interface{}, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}
