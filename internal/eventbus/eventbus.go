// Package eventbus implements the per-room typed publish/subscribe bus:
// ordered delivery, once-listeners, priority fan-out, a composable
// middleware chain, and a bounded event history.
package eventbus

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// BusEvent is what flows through the bus. Payload is left as interface{}
// at this layer; internal/types.Event / json encoding happens one level up
// where a concrete payload schema is known per event type.
type BusEvent struct {
	Type      string
	Payload   interface{}
	Timestamp time.Time
	ID        string
	GameCode  string
}

// HandlerFunc is a registered listener. Errors are caught and logged by the
// bus; they never abort sibling handlers (spec.md §7 propagation policy).
type HandlerFunc func(ctx context.Context, ev BusEvent) error

// Next is the continuation a middleware calls to proceed down the chain.
// Calling it with the event unmodified passes it through; calling it with
// a modified copy replaces the event for everything downstream; not
// calling it at all (returning false) cancels the emit. This is the
// idiomatic-Go rendering of the next(event|false) contract.
type Next func(ev *BusEvent) bool

// MiddlewareFunc wraps the rest of the chain. Return false to cancel the
// emit; return next(ev) to continue, possibly with a modified event.
type MiddlewareFunc func(ev *BusEvent, next Next) bool

// ListenOptions configures a single On/Once registration.
type ListenOptions struct {
	Once     bool
	Priority int
}

// Unsubscribe removes exactly the registration it was returned from.
type Unsubscribe func()

type listener struct {
	id       string
	handler  HandlerFunc
	once     bool
	priority int
}

// Stats mirrors the observability surface spec.md §4.1 requires from
// getStats().
type Stats struct {
	EventsEmitted       int64
	EventsProcessed     int64
	ErrorsHandled       int64
	AvgProcessingTimeMs float64
}

// EventBus is one room's event bus. None of its state is shared across
// rooms; the room actor owns the only reference to it.
type EventBus struct {
	mu          sync.Mutex
	gameCode    string
	logger      *zap.Logger
	enabled     bool
	listeners   map[string][]*listener
	middleware  []MiddlewareFunc
	history     []BusEvent
	historyCap  int
	nextID      int64
	stats       Stats
}

// New creates a bus for one room. historyCap is the maxHistorySize from
// spec.md invariant 5; 0 defaults to 1000.
func New(gameCode string, historyCap int, logger *zap.Logger) *EventBus {
	if historyCap <= 0 {
		historyCap = 1000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventBus{
		gameCode:   gameCode,
		logger:     logger,
		enabled:    true,
		listeners:  make(map[string][]*listener),
		historyCap: historyCap,
	}
}

func (b *EventBus) newListenerID() string {
	id := atomic.AddInt64(&b.nextID, 1)
	return fmt.Sprintf("%s-l%d", b.gameCode, id)
}

// On registers a handler for eventType. Returns an Unsubscribe that removes
// exactly this registration.
func (b *EventBus) On(eventType string, handler HandlerFunc, opts ListenOptions) Unsubscribe {
	b.mu.Lock()
	l := &listener{id: b.newListenerID(), handler: handler, once: opts.Once, priority: opts.Priority}
	b.listeners[eventType] = append(b.listeners[eventType], l)
	b.mu.Unlock()
	return func() { b.Off(eventType, l.id) }
}

// Once is On with once=true regardless of opts.Once.
func (b *EventBus) Once(eventType string, handler HandlerFunc, opts ListenOptions) Unsubscribe {
	opts.Once = true
	return b.On(eventType, handler, opts)
}

// Off removes a specific handler by listener id. Returns true if found.
func (b *EventBus) Off(eventType, handlerID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	ls := b.listeners[eventType]
	for i, l := range ls {
		if l.id == handlerID {
			b.listeners[eventType] = append(ls[:i], ls[i+1:]...)
			return true
		}
	}
	return false
}

// RemoveAllListeners clears a single event type's handlers, or every type
// if eventType is empty.
func (b *EventBus) RemoveAllListeners(eventType string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if eventType == "" {
		b.listeners = make(map[string][]*listener)
		return
	}
	delete(b.listeners, eventType)
}

// AddMiddleware appends to the chain, outermost-registered-first.
func (b *EventBus) AddMiddleware(fn MiddlewareFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.middleware = append(b.middleware, fn)
}

// GetListenerCount returns the handler count for eventType, or the total
// across all types if eventType is empty.
func (b *EventBus) GetListenerCount(eventType string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if eventType == "" {
		total := 0
		for _, ls := range b.listeners {
			total += len(ls)
		}
		return total
	}
	return len(b.listeners[eventType])
}

// GetEventHistory returns up to limit most recent events, oldest first. A
// non-positive limit returns the full buffer.
func (b *EventBus) GetEventHistory(limit int) []BusEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	if limit <= 0 || limit >= len(b.history) {
		out := make([]BusEvent, len(b.history))
		copy(out, b.history)
		return out
	}
	start := len(b.history) - limit
	out := make([]BusEvent, limit)
	copy(out, b.history[start:])
	return out
}

func (b *EventBus) GetStats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

func (b *EventBus) SetEnabled(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enabled = enabled
}

// Destroy releases all listeners and middleware; the bus is unusable after.
func (b *EventBus) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = make(map[string][]*listener)
	b.middleware = nil
	b.history = nil
}

// Emit runs the 9-step emit algorithm: middleware chain, priority-sorted
// handler fan-out (parallel or sequential), once-listener cleanup, and
// rolling stats. Returns true iff no middleware cancelled the event.
func (b *EventBus) Emit(ctx context.Context, eventType string, payload interface{}, async bool) bool {
	b.mu.Lock()
	b.stats.EventsEmitted++
	if !b.enabled {
		b.mu.Unlock()
		return false
	}

	ev := BusEvent{
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now(),
		ID:        b.newListenerID(), // reuse the monotonic counter for event ids too
		GameCode:  b.gameCode,
	}
	b.appendHistoryLocked(ev)
	chain := append([]MiddlewareFunc(nil), b.middleware...)
	b.mu.Unlock()

	if ok := b.runMiddleware(chain, &ev); !ok {
		return false
	}

	start := time.Now()

	b.mu.Lock()
	handlers := append([]*listener(nil), b.listeners[eventType]...)
	b.mu.Unlock()

	if len(handlers) == 0 {
		return true
	}

	sort.SliceStable(handlers, func(i, j int) bool { return handlers[i].priority > handlers[j].priority })

	if async {
		var wg sync.WaitGroup
		for _, l := range handlers {
			wg.Add(1)
			go func(l *listener) {
				defer wg.Done()
				b.invoke(ctx, l, ev)
			}(l)
		}
		wg.Wait()
	} else {
		for _, l := range handlers {
			b.invoke(ctx, l, ev)
		}
	}

	b.mu.Lock()
	for _, l := range handlers {
		if l.once {
			b.Off(eventType, l.id)
		}
	}
	elapsed := float64(time.Since(start).Milliseconds())
	b.stats.EventsProcessed++
	n := float64(b.stats.EventsProcessed)
	b.stats.AvgProcessingTimeMs = b.stats.AvgProcessingTimeMs + (elapsed-b.stats.AvgProcessingTimeMs)/n
	b.mu.Unlock()

	return true
}

func (b *EventBus) invoke(ctx context.Context, l *listener, ev BusEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.mu.Lock()
			b.stats.ErrorsHandled++
			b.mu.Unlock()
			b.logger.Error("eventbus handler panic", zap.String("event_type", ev.Type), zap.Any("recover", r))
		}
	}()
	if err := l.handler(ctx, ev); err != nil {
		b.mu.Lock()
		b.stats.ErrorsHandled++
		b.mu.Unlock()
		b.logger.Error("eventbus handler error", zap.String("event_type", ev.Type), zap.Error(err))
	}
}

func (b *EventBus) appendHistoryLocked(ev BusEvent) {
	b.history = append(b.history, ev)
	if over := len(b.history) - b.historyCap; over > 0 {
		b.history = b.history[over:]
	}
}

// runMiddleware threads the chain via recursive continuations so a
// middleware can inspect/replace the event before calling next, or cancel
// by returning false without calling next.
func (b *EventBus) runMiddleware(chain []MiddlewareFunc, ev *BusEvent) bool {
	var step func(i int, ev *BusEvent) bool
	step = func(i int, ev *BusEvent) bool {
		if i >= len(chain) {
			return true
		}
		mw := chain[i]
		ok := func() (ok bool) {
			defer func() {
				if r := recover(); r != nil {
					b.mu.Lock()
					b.stats.ErrorsHandled++
					b.mu.Unlock()
					b.logger.Error("eventbus middleware panic", zap.String("event_type", ev.Type), zap.Any("recover", r))
					ok = false
				}
			}()
			return mw(ev, func(next *BusEvent) bool {
				if next != nil {
					*ev = *next
				}
				return step(i+1, ev)
			})
		}()
		return ok
	}
	return step(0, ev)
}
