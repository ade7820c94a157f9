package store

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreAppendAndLoadEvents(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	events := []StoredEvent{
		{GameCode: "1234", EventType: "game.started", PayloadJSON: "{}", ServerTime: time.Now()},
		{GameCode: "1234", EventType: "phase.changed", PayloadJSON: "{}", ServerTime: time.Now()},
	}
	if err := s.AppendEvents(ctx, "1234", events, nil, nil); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if events[0].Seq != 1 || events[1].Seq != 2 {
		t.Fatalf("expected sequential seq assignment, got %d, %d", events[0].Seq, events[1].Seq)
	}

	loaded, err := s.LoadEventsAfter(ctx, "1234", 0, 0)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 events, got %d", len(loaded))
	}

	loaded, err = s.LoadEventsAfter(ctx, "1234", 1, 0)
	if err != nil {
		t.Fatalf("load after seq 1 failed: %v", err)
	}
	if len(loaded) != 1 || loaded[0].EventType != "phase.changed" {
		t.Fatalf("expected only the second event, got %+v", loaded)
	}
}

func TestMemoryStoreDedupRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	dedup := &DedupRecord{GameCode: "1234", ActorUserID: "p1", IdempotencyKey: "k1", CommandType: "ability", ResultJSON: `{"ok":true}`}
	if err := s.AppendEvents(ctx, "1234", nil, dedup, nil); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	got, err := s.GetDedupRecord(ctx, "1234", "p1", "k1", "ability")
	if err != nil {
		t.Fatalf("get dedup failed: %v", err)
	}
	if got == nil || got.ResultJSON != `{"ok":true}` {
		t.Fatalf("expected dedup record round trip, got %+v", got)
	}
	if miss, _ := s.GetDedupRecord(ctx, "1234", "p1", "k2", "ability"); miss != nil {
		t.Fatalf("expected no record for unseen idempotency key")
	}
}

func TestMemoryStoreSnapshotRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	snap := Snapshot{GameCode: "1234", LastSeq: 5, StateJSON: `{"round":2}`, CreatedAt: time.Now()}
	if err := s.AppendEvents(ctx, "1234", nil, nil, &snap); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	got, err := s.GetLatestSnapshot(ctx, "1234")
	if err != nil {
		t.Fatalf("get snapshot failed: %v", err)
	}
	if got == nil || got.LastSeq != 5 {
		t.Fatalf("expected snapshot round trip, got %+v", got)
	}
}

func TestMemoryStoreGameMembership(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.CreateGame(ctx, Game{ID: "1234", CreatedBy: "p1", Status: "lobby"}); err != nil {
		t.Fatalf("create game failed: %v", err)
	}
	if err := s.AddGameMember(ctx, GameMember{GameCode: "1234", UserID: "p1", Joined: time.Now()}); err != nil {
		t.Fatalf("add member failed: %v", err)
	}
	ok, err := s.IsMember(ctx, "1234", "p1")
	if err != nil || !ok {
		t.Fatalf("expected p1 to be a member, ok=%v err=%v", ok, err)
	}
	ok, err = s.IsMember(ctx, "1234", "p2")
	if err != nil || ok {
		t.Fatalf("expected p2 not to be a member")
	}
}
