package eventbus

import (
	"context"
	"testing"
)

func TestOnEmitInvokesHandler(t *testing.T) {
	b := New("1234", 10, nil)
	var got BusEvent
	b.On("test.fired", func(ctx context.Context, ev BusEvent) error {
		got = ev
		return nil
	}, ListenOptions{})

	ok := b.Emit(context.Background(), "test.fired", map[string]int{"x": 1}, false)
	if !ok {
		t.Fatalf("expected emit to succeed")
	}
	if got.Type != "test.fired" {
		t.Fatalf("handler did not receive event, got %+v", got)
	}
}

func TestOnceHandlerFiresOnlyOnce(t *testing.T) {
	b := New("1234", 10, nil)
	calls := 0
	b.Once("test.fired", func(ctx context.Context, ev BusEvent) error {
		calls++
		return nil
	}, ListenOptions{})

	b.Emit(context.Background(), "test.fired", nil, false)
	b.Emit(context.Background(), "test.fired", nil, false)

	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestOffReturnsListenerCountToPriorValue(t *testing.T) {
	b := New("1234", 10, nil)
	before := b.GetListenerCount("test.fired")
	unsub := b.On("test.fired", func(ctx context.Context, ev BusEvent) error { return nil }, ListenOptions{})
	unsub()
	after := b.GetListenerCount("test.fired")
	if before != after {
		t.Fatalf("expected listener count %d after off, got %d", before, after)
	}
}

func TestPriorityOrdering(t *testing.T) {
	b := New("1234", 10, nil)
	var order []int
	record := func(n int) HandlerFunc {
		return func(ctx context.Context, ev BusEvent) error {
			order = append(order, n)
			return nil
		}
	}
	b.On("test.fired", record(1), ListenOptions{Priority: 1})
	b.On("test.fired", record(3), ListenOptions{Priority: 3})
	b.On("test.fired", record(2), ListenOptions{Priority: 2})

	b.Emit(context.Background(), "test.fired", nil, false)

	if len(order) != 3 || order[0] != 3 || order[1] != 2 || order[2] != 1 {
		t.Fatalf("expected descending priority order [3 2 1], got %v", order)
	}
}

func TestMiddlewareCancelsEmit(t *testing.T) {
	b := New("1234", 10, nil)
	called := false
	b.On("test.fired", func(ctx context.Context, ev BusEvent) error {
		called = true
		return nil
	}, ListenOptions{})
	b.AddMiddleware(func(ev *BusEvent, next Next) bool {
		return false
	})

	ok := b.Emit(context.Background(), "test.fired", nil, false)
	if ok {
		t.Fatalf("expected emit to report cancelled")
	}
	if called {
		t.Fatalf("handler should not have been invoked")
	}
	stats := b.GetStats()
	if stats.EventsProcessed != 0 {
		t.Fatalf("expected eventsProcessed unchanged, got %d", stats.EventsProcessed)
	}
	if stats.EventsEmitted != 1 {
		t.Fatalf("expected eventsEmitted incremented, got %d", stats.EventsEmitted)
	}
}

func TestHistoryRingBufferEviction(t *testing.T) {
	b := New("1234", 3, nil)
	for i := 0; i < 4; i++ {
		b.Emit(context.Background(), "test.fired", i, false)
	}
	hist := b.GetEventHistory(0)
	if len(hist) != 3 {
		t.Fatalf("expected history capped at 3, got %d", len(hist))
	}
	if hist[0].Payload.(int) != 1 {
		t.Fatalf("expected oldest entry evicted, got payload %v", hist[0].Payload)
	}
}

func TestRateLimitingMiddlewareCancelsAfterMax(t *testing.T) {
	b := New("1234", 200, nil)
	b.AddMiddleware(RateLimitingMiddleware(RateLimiterConfig{WindowMs: 60_000, MaxEvents: 2}))

	results := []bool{}
	for i := 0; i < 3; i++ {
		results = append(results, b.Emit(context.Background(), "flood", nil, false))
	}
	if results[0] != true || results[1] != true || results[2] != false {
		t.Fatalf("expected first 2 to pass and 3rd cancelled, got %v", results)
	}
}

func TestRemoveAllListenersClearsType(t *testing.T) {
	b := New("1234", 10, nil)
	b.On("a", func(ctx context.Context, ev BusEvent) error { return nil }, ListenOptions{})
	b.On("b", func(ctx context.Context, ev BusEvent) error { return nil }, ListenOptions{})
	b.RemoveAllListeners("a")
	if b.GetListenerCount("a") != 0 {
		t.Fatalf("expected type a cleared")
	}
	if b.GetListenerCount("b") != 1 {
		t.Fatalf("expected type b untouched")
	}
}
