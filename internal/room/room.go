// Package room implements RoomActor/RoomManager: one goroutine per room
// serializing command submission against the engine/phase/bus triple and
// snapshotting to the store at phase boundaries (spec.md §5).
package room

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/rand"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zbonzo/warlock/internal/catalog"
	"github.com/zbonzo/warlock/internal/command"
	"github.com/zbonzo/warlock/internal/engine"
	"github.com/zbonzo/warlock/internal/eventbus"
	"github.com/zbonzo/warlock/internal/observability"
	"github.com/zbonzo/warlock/internal/phase"
	"github.com/zbonzo/warlock/internal/projection"
	"github.com/zbonzo/warlock/internal/queue"
	"github.com/zbonzo/warlock/internal/store"
	"github.com/zbonzo/warlock/internal/types"
)

// minPlayersToStart is the lobby->action threshold from spec.md §4.5:
// "initiated by host after minimum players joined and all have selected
// race+class". There is no dedicated wire message for it (spec.md §6's
// taxonomy doesn't list one), so the transition fires automatically the
// moment the condition becomes true.
const minPlayersToStart = 2

// CommandRequest is one envelope queued on a room actor's command channel.
type CommandRequest struct {
	Cmd      types.CommandEnvelope
	Response chan CommandResponse
}

type CommandResponse struct {
	Result *types.CommandResult
	Err    error
}

// Subscriber is a connected client's outbound sink. There is no spectator/
// DM role in Warlock (see internal/projection) so it carries nothing but
// the viewer's stable identity and a send function.
type Subscriber struct {
	UserID string
	Send   func(types.ProjectedEvent)
}

// Config bundles the round-timing knobs RoomActor needs, pulled out of
// internal/config.Config so this package doesn't import it directly.
type Config struct {
	SnapshotInterval   int64
	ActionPhaseTimeout time.Duration
	ReadyGraceWindow   time.Duration
}

// RoomActor owns one room's authoritative state. Every mutation is
// serialized through its single goroutine (spec.md §5 "each room is a
// single logical actor"); the EventBus, CommandProcessor, and
// PhaseController it owns are never touched from any other goroutine.
type RoomActor struct {
	GameCode string
	ctx      context.Context
	onCrash  func(gameCode string)
	cfg      Config

	subsMu sync.RWMutex
	subs   map[string]*Subscriber

	state      *engine.State
	lastSeq    int64
	getStateCh chan chan *engine.State

	bus       *eventbus.EventBus
	processor *command.CommandProcessor
	phaseCtrl *phase.Controller
	catalog   catalog.Catalog

	store            *store.Store
	logger           *zap.Logger
	metrics          *observability.Metrics
	trophyQueue      *queue.Queue
	trophyFactory    *queue.TaskFactory

	cmdCh chan CommandRequest

	actionTimer *time.Timer
	readyTimer  *time.Timer

	monsterReportedDead bool
}

// NewRoomActor constructs a room actor, replaying any persisted snapshot
// and trailing events so a restarted process resumes where it left off
// (spec.md §6 "Persisted state layout").
func NewRoomActor(loadCtx, loopCtx context.Context, gameCode string, st *store.Store, logger *zap.Logger, metrics *observability.Metrics, tq *queue.Queue, cfg Config, onCrash func(gameCode string)) (*RoomActor, error) {
	if loopCtx == nil {
		loopCtx = context.Background()
	}
	if loadCtx == nil {
		loadCtx = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ra := &RoomActor{
		GameCode:      gameCode,
		ctx:           loopCtx,
		onCrash:       onCrash,
		cfg:           cfg,
		subs:          make(map[string]*Subscriber),
		store:         st,
		logger:        logger,
		metrics:       metrics,
		trophyQueue:   tq,
		trophyFactory: queue.NewTaskFactory(),
		cmdCh:         make(chan CommandRequest, 256),
		getStateCh:    make(chan chan *engine.State),
		catalog:       catalog.Default(),
	}

	if err := ra.loadState(loadCtx); err != nil {
		return nil, err
	}
	ra.bus = eventbus.New(gameCode, 1000, logger)
	for _, mw := range eventbus.DefaultMiddlewareStack(logger, nil, false) {
		ra.bus.AddMiddleware(mw)
	}
	ra.phaseCtrl = phase.New(ra.state, ra.bus)
	ra.processor = command.NewCommandProcessor()
	ra.registerBusHandlers()

	go ra.loop(loopCtx)
	return ra, nil
}

func (ra *RoomActor) loadState(ctx context.Context) error {
	snap, err := ra.store.GetLatestSnapshot(ctx, ra.GameCode)
	if err != nil {
		return err
	}
	var afterSeq int64
	if snap != nil {
		s, err := engine.UnmarshalState([]byte(snap.StateJSON))
		if err != nil {
			return err
		}
		ra.state = s
		afterSeq = snap.LastSeq
		ra.lastSeq = snap.LastSeq
	} else {
		ra.state = engine.NewState(ra.GameCode)
	}

	events, err := ra.store.LoadEventsAfter(ctx, ra.GameCode, afterSeq, 0)
	if err != nil {
		return err
	}
	for _, e := range events {
		ra.state.Reduce(toEventPayload(e))
		if e.Seq > ra.lastSeq {
			ra.lastSeq = e.Seq
		}
	}
	return nil
}

func toEventPayload(e store.StoredEvent) engine.EventPayload {
	var payload map[string]interface{}
	_ = json.Unmarshal([]byte(e.PayloadJSON), &payload)
	return engine.EventPayload{Seq: e.Seq, Type: e.EventType, Actor: e.ActorUserID, Payload: payload}
}

// registerBusHandlers wires the single persistence/broadcast funnel every
// domain event flows through: Reduce, append to the durable event log,
// then project to each subscriber (spec.md §4.6 SocketRouter).
func (ra *RoomActor) registerBusHandlers() {
	for _, t := range allEventTypes {
		ra.bus.On(t, ra.onBusEvent, eventbus.ListenOptions{})
	}
}

func (ra *RoomActor) onBusEvent(ctx context.Context, ev eventbus.BusEvent) error {
	raw, ok := ev.Payload.(json.RawMessage)
	if !ok {
		b, _ := json.Marshal(ev.Payload)
		raw = b
	}
	var decoded map[string]interface{}
	_ = json.Unmarshal(raw, &decoded)
	actor, _ := decoded["actor"].(string)

	events := []store.StoredEvent{{
		GameCode:    ra.GameCode,
		EventID:     uuid.NewString(),
		EventType:   ev.Type,
		ActorUserID: actor,
		PayloadJSON: string(raw),
		ServerTime:  time.Now().UTC(),
	}}

	// AppendEvents assigns the authoritative Seq (it owns the game's
	// sequence counter); events[0].Seq is mutated in place, so it's the
	// single source of truth this room ever tracks for lastSeq.
	if err := ra.store.AppendEvents(ctx, ra.GameCode, events, nil, nil); err != nil {
		ra.logger.Error("append event failed", zap.String("game_code", ra.GameCode), zap.String("event_type", ev.Type), zap.Error(err))
	}
	stored := events[0]
	if stored.Seq > ra.lastSeq {
		ra.lastSeq = stored.Seq
	}

	ra.state.Reduce(engine.EventPayload{Seq: stored.Seq, Type: stored.EventType, Actor: actor, Payload: decoded})

	if ev.Type == types.EventPhaseChanged {
		ra.snapshot(ctx)
	}

	ra.broadcast(types.Event{
		RoomID:            ra.GameCode,
		Seq:               stored.Seq,
		EventID:           stored.EventID,
		EventType:         stored.EventType,
		ActorUserID:       actor,
		Payload:           raw,
		ServerTimestampMs: stored.ServerTime.UnixMilli(),
	})
	return nil
}

func (ra *RoomActor) snapshot(ctx context.Context) {
	stateJSON, err := engine.MarshalState(ra.state)
	if err != nil {
		ra.logger.Error("marshal state failed", zap.Error(err))
		return
	}
	snap := store.Snapshot{GameCode: ra.GameCode, LastSeq: ra.lastSeq, StateJSON: string(stateJSON), CreatedAt: time.Now().UTC()}
	err = ra.store.WithTx(ctx, func(tx *sql.Tx) error {
		return ra.store.SaveSnapshot(ctx, tx, snap)
	})
	if err != nil {
		ra.logger.Error("save snapshot failed", zap.String("game_code", ra.GameCode), zap.Error(err))
	}
}

func (ra *RoomActor) broadcast(ev types.Event) {
	ra.subsMu.RLock()
	defer ra.subsMu.RUnlock()
	for _, sub := range ra.subs {
		projected := projection.Project(ev, ra.state, types.Viewer{UserID: sub.UserID})
		if projected != nil {
			sub.Send(*projected)
		}
	}
}

func (ra *RoomActor) Subscribe(userID string, s *Subscriber) {
	ra.subsMu.Lock()
	ra.subs[userID] = s
	ra.subsMu.Unlock()
	ra.bus.Emit(context.Background(), types.EventPlayerReconnected, eventPayload(userID, nil), true)
}

func (ra *RoomActor) Unsubscribe(userID string) {
	ra.subsMu.Lock()
	delete(ra.subs, userID)
	ra.subsMu.Unlock()
}

// loop is the single goroutine every mutation of this room funnels
// through (spec.md §5).
func (ra *RoomActor) loop(ctx context.Context) {
	defer func() {
		if recovered := recover(); recovered != nil {
			ra.logger.Error("room actor crashed",
				zap.String("game_code", ra.GameCode),
				zap.Any("panic", recovered),
				zap.ByteString("stack", debug.Stack()))
			if ra.onCrash != nil {
				go ra.onCrash(ra.GameCode)
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-ra.cmdCh:
			result, err := ra.executeCommand(ctx, req.Cmd)
			req.Response <- CommandResponse{Result: result, Err: err}
		case reply := <-ra.getStateCh:
			reply <- ra.state.Copy()
		case <-ra.actionTimerChan():
			ra.resolveRound("timeout")
		case <-ra.readyTimerChan():
			ra.maybeAdvanceRound(true)
		}
	}
}

func (ra *RoomActor) actionTimerChan() <-chan time.Time {
	if ra.actionTimer == nil {
		return nil
	}
	return ra.actionTimer.C
}

func (ra *RoomActor) readyTimerChan() <-chan time.Time {
	if ra.readyTimer == nil {
		return nil
	}
	return ra.readyTimer.C
}

func (ra *RoomActor) executeCommand(ctx context.Context, cmd types.CommandEnvelope) (result *types.CommandResult, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			ra.logger.Error("room actor command panic",
				zap.String("game_code", ra.GameCode),
				zap.String("type", cmd.Type),
				zap.Any("panic", recovered),
				zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("room actor panic: %v", recovered)
		}
	}()
	return ra.handleCommand(ctx, cmd)
}

// Dispatch queues cmd on the room's single goroutine and blocks for its
// result, the only way any external caller ever touches room state.
func (ra *RoomActor) Dispatch(cmd types.CommandEnvelope) CommandResponse {
	ch := make(chan CommandResponse, 1)
	select {
	case ra.cmdCh <- CommandRequest{Cmd: cmd, Response: ch}:
	case <-ra.ctx.Done():
		return CommandResponse{Err: fmt.Errorf("room actor stopped")}
	}
	select {
	case resp := <-ch:
		return resp
	case <-ra.ctx.Done():
		return CommandResponse{Err: fmt.Errorf("room actor stopped")}
	}
}

// NotifyDisconnect and NotifyReconnect let the transport layer inform the
// room of connection lifecycle changes without bypassing serialization.
func (ra *RoomActor) NotifyDisconnect(playerID string) {
	ra.Dispatch(types.CommandEnvelope{Type: msgTypeDisconnect, ActorUserID: playerID, RoomID: ra.GameCode})
}

const msgTypeDisconnect = "__disconnect__"

// GetState requests a snapshot copy of room state through the actor's own
// serialized loop, so it never races with the goroutine that owns state.
func (ra *RoomActor) GetState() *engine.State {
	reply := make(chan *engine.State, 1)
	select {
	case ra.getStateCh <- reply:
	case <-ra.ctx.Done():
		return nil
	}
	select {
	case s := <-reply:
		return s
	case <-ra.ctx.Done():
		return nil
	}
}

func (ra *RoomActor) handleCommand(ctx context.Context, cmd types.CommandEnvelope) (*types.CommandResult, error) {
	if cmd.Type == types.MsgCheckNameAvailability {
		return ra.handleCheckNameAvailability(cmd)
	}
	if cmd.Type == msgTypeDisconnect {
		return ra.handleDisconnect(cmd)
	}

	if cmd.IdempotencyKey != "" {
		dedup, err := ra.store.GetDedupRecord(ctx, ra.GameCode, cmd.ActorUserID, cmd.IdempotencyKey, cmd.Type)
		if err != nil {
			return nil, err
		}
		if dedup != nil {
			if ra.metrics != nil {
				ra.metrics.DedupHitTotal.Inc()
			}
			var result types.CommandResult
			_ = json.Unmarshal([]byte(dedup.ResultJSON), &result)
			return &result, nil
		}
	}

	seqBefore := ra.lastSeq
	var handlerErr error
	switch cmd.Type {
	case types.MsgJoinGame:
		handlerErr = ra.handleJoinGame(cmd)
	case types.MsgSelectCharacter:
		handlerErr = ra.handleSelectCharacter(cmd)
	case types.MsgPerformAction:
		handlerErr = ra.handlePerformAction(ctx, cmd)
	case types.MsgUseRacialAbility:
		handlerErr = ra.handleUseRacialAbility(ctx, cmd)
	case types.MsgAdaptabilityReplaceAbility:
		handlerErr = ra.handleAdaptability(cmd)
	case types.MsgPlayerNextReady:
		handlerErr = ra.handlePlayerNextReady(cmd)
	default:
		handlerErr = fmt.Errorf("unsupported command type %q", cmd.Type)
	}

	status := "accepted"
	reason := ""
	if handlerErr != nil {
		status = "rejected"
		reason = handlerErr.Error()
		if ra.metrics != nil {
			ra.metrics.CommandReject.WithLabelValues(cmd.Type).Inc()
		}
	}
	result := &types.CommandResult{
		CommandID:      cmd.CommandID,
		Status:         status,
		Reason:         reason,
		AppliedSeqFrom: seqBefore + 1,
		AppliedSeqTo:   ra.lastSeq,
	}
	if ra.lastSeq == seqBefore {
		result.AppliedSeqFrom = 0
	}

	if cmd.IdempotencyKey != "" {
		rj, _ := json.Marshal(result)
		dedup := store.DedupRecord{
			GameCode: ra.GameCode, ActorUserID: cmd.ActorUserID, IdempotencyKey: cmd.IdempotencyKey,
			CommandType: cmd.Type, CommandID: cmd.CommandID, Status: status, ResultJSON: string(rj),
			CreatedAt: time.Now().UTC(),
		}
		_ = ra.store.WithTx(ctx, func(tx *sql.Tx) error { return ra.store.SaveDedupRecord(ctx, tx, dedup) })
	}

	return result, handlerErr
}

type joinGamePayload struct {
	PlayerName string `json:"player_name"`
}

func (ra *RoomActor) handleJoinGame(cmd types.CommandEnvelope) error {
	if ra.state.Phase != engine.PhaseLobby {
		return fmt.Errorf("cannot join outside lobby phase")
	}
	var p joinGamePayload
	_ = json.Unmarshal(cmd.Payload, &p)
	if p.PlayerName == "" {
		return fmt.Errorf("player name required")
	}
	if _, exists := ra.state.Players[cmd.ActorUserID]; exists {
		return nil
	}
	ra.bus.Emit(context.Background(), types.EventPlayerJoined, eventPayload(cmd.ActorUserID, map[string]interface{}{
		"player_id": cmd.ActorUserID, "name": p.PlayerName,
	}), true)
	return nil
}

type selectCharacterPayload struct {
	Race  string `json:"race"`
	Class string `json:"class"`
}

func (ra *RoomActor) handleSelectCharacter(cmd types.CommandEnvelope) error {
	if _, ok := ra.state.Players[cmd.ActorUserID]; !ok {
		return fmt.Errorf("unknown player")
	}
	var p selectCharacterPayload
	_ = json.Unmarshal(cmd.Payload, &p)

	race, ok := ra.catalog.GetRaceAttributes(p.Race)
	if !ok {
		return fmt.Errorf("unknown race %q", p.Race)
	}
	compatible := false
	for _, c := range race.CompatibleClasses {
		if c == p.Class {
			compatible = true
			break
		}
	}
	if !compatible {
		return fmt.Errorf("class %q not compatible with race %q", p.Class, p.Race)
	}

	abilities, _ := ra.catalog.GetClassAbilities(p.Class)
	unlocked := make([]string, 0, len(abilities))
	for _, a := range abilities {
		if a.UnlockAt <= 1 {
			unlocked = append(unlocked, a.Type)
		}
	}

	baseHP := 100
	maxHP := int(float64(baseHP) * race.HPModifier)
	if maxHP <= 0 {
		maxHP = baseHP
	}

	ra.bus.Emit(context.Background(), types.EventPlayerStatusUpdate, eventPayload(cmd.ActorUserID, map[string]interface{}{
		"player_id": cmd.ActorUserID, "race": p.Race, "class": p.Class,
		"max_hp": float64(maxHP), "unlocked_abilities": toInterfaceSlice(unlocked),
	}), true)

	ra.maybeStartGame()
	return nil
}

func toInterfaceSlice(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func (ra *RoomActor) maybeStartGame() {
	if ra.state.Phase != engine.PhaseLobby {
		return
	}
	if len(ra.state.Players) < minPlayersToStart {
		return
	}
	for _, p := range ra.state.Players {
		if p.Race == "" || p.Class == "" {
			return
		}
	}
	ra.assignWarlock()
	if ra.phaseCtrl.StartGame() {
		ra.bus.Emit(context.Background(), types.EventGameStarted, eventPayload("", nil), true)
		ra.resetActionTimer()
	}
}

// assignWarlock picks exactly one seat as the hidden-role warlock and
// emits warlock.assigned so the choice is part of the event log (Reduce
// sets IsWarlock); a raw field write here would vanish on replay after a
// crash (spec.md §6). The pick itself is random among the sorted ids,
// which just keeps iteration order reproducible for the roll.
func (ra *RoomActor) assignWarlock() {
	s := ra.state
	ids := make([]string, 0, len(s.Players))
	for id := range s.Players {
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return
	}
	sort.Strings(ids)
	chosen := ids[rand.Intn(len(ids))]

	ra.bus.Emit(context.Background(), types.EventWarlockAssigned, eventPayload(chosen, map[string]interface{}{
		"player_id": chosen,
	}), true)
}

type performActionPayload struct {
	ActionType       string `json:"action_type"`
	TargetID         string `json:"target_id"`
	BloodRageActive  bool   `json:"blood_rage_active"`
	KeenSensesActive bool   `json:"keen_senses_active"`
}

func (ra *RoomActor) handlePerformAction(ctx context.Context, cmd types.CommandEnvelope) error {
	var p performActionPayload
	_ = json.Unmarshal(cmd.Payload, &p)
	mods := engine.RacialModifiers{BloodRageActive: p.BloodRageActive, KeenSensesActive: p.KeenSensesActive}
	abilityCmd := command.NewAbilityCommand(cmd.ActorUserID, types.CommandTypeAbility, p.ActionType, p.TargetID, mods, nil)
	if _, err := ra.processor.SubmitActionData(ra.buildContext(), abilityCmd); err != nil {
		return err
	}
	ra.phaseCtrl.AddPendingAction(engine.PendingAction{
		ActorID: cmd.ActorUserID, ActionType: p.ActionType, AbilityKey: p.ActionType, TargetID: p.TargetID,
		RacialModifiers: mods, SubmissionTime: abilityCmd.SubmissionTime(), Priority: abilityCmd.Priority(),
		ValidationState: string(abilityCmd.Status()),
	})
	ra.maybeResolveRound()
	return nil
}

type racialAbilityPayload struct {
	TargetID   string `json:"target_id"`
	AbilityType string `json:"ability_type"`
}

func (ra *RoomActor) handleUseRacialAbility(ctx context.Context, cmd types.CommandEnvelope) error {
	var p racialAbilityPayload
	_ = json.Unmarshal(cmd.Payload, &p)
	abilityCmd := command.NewAbilityCommand(cmd.ActorUserID, types.CommandTypeRacialAbility, p.AbilityType, p.TargetID, engine.RacialModifiers{}, nil)
	if _, err := ra.processor.SubmitActionData(ra.buildContext(), abilityCmd); err != nil {
		return err
	}
	ra.phaseCtrl.AddPendingRacialAction(engine.PendingAction{
		ActorID: cmd.ActorUserID, ActionType: types.CommandTypeRacialAbility, AbilityKey: p.AbilityType, TargetID: p.TargetID,
		SubmissionTime: abilityCmd.SubmissionTime(), Priority: abilityCmd.Priority(),
		ValidationState: string(abilityCmd.Status()),
	})
	ra.maybeResolveRound()
	return nil
}

type adaptabilityPayload struct {
	OldAbilityType string `json:"old_ability_type"`
	NewAbilityType string `json:"new_ability_type"`
	Level          int    `json:"level"`
}

func (ra *RoomActor) handleAdaptability(cmd types.CommandEnvelope) error {
	player, ok := ra.state.Players[cmd.ActorUserID]
	if !ok {
		return fmt.Errorf("unknown player")
	}
	if player.Race != "human" {
		return fmt.Errorf("only human adaptability may replace an ability")
	}
	if cd, used := player.AbilityCooldowns["adaptability"]; used && cd > 0 {
		return fmt.Errorf("adaptability already used")
	}
	var p adaptabilityPayload
	_ = json.Unmarshal(cmd.Payload, &p)
	found := false
	for _, a := range player.UnlockedAbilities {
		if a == p.OldAbilityType {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("ability %q not unlocked", p.OldAbilityType)
	}
	if _, ok := ra.catalog.GetClassAbility(player.Class, p.NewAbilityType); !ok {
		return fmt.Errorf("unknown replacement ability %q", p.NewAbilityType)
	}
	ra.bus.Emit(context.Background(), types.EventActionAdaptability, eventPayload(cmd.ActorUserID, map[string]interface{}{
		"player_id": cmd.ActorUserID, "old_ability_type": p.OldAbilityType, "new_ability_type": p.NewAbilityType,
	}), true)
	return nil
}

func (ra *RoomActor) handlePlayerNextReady(cmd types.CommandEnvelope) error {
	if ra.state.Phase != engine.PhaseResults {
		return fmt.Errorf("cannot ready outside results phase")
	}
	player, ok := ra.state.Players[cmd.ActorUserID]
	if !ok {
		return fmt.Errorf("unknown player")
	}
	if !player.IsAlive {
		return fmt.Errorf("dead players cannot ready up")
	}
	ra.phaseCtrl.SetPlayerReady(cmd.ActorUserID)
	ra.bus.Emit(context.Background(), types.EventPlayerStatusUpdate, eventPayload(cmd.ActorUserID, map[string]interface{}{
		"player_id": cmd.ActorUserID, "ready": true,
	}), true)
	ra.maybeAdvanceRound(false)
	return nil
}

type checkNamePayload struct {
	PlayerName string `json:"player_name"`
}

func (ra *RoomActor) handleCheckNameAvailability(cmd types.CommandEnvelope) (*types.CommandResult, error) {
	var p checkNamePayload
	_ = json.Unmarshal(cmd.Payload, &p)
	available := true
	for _, player := range ra.state.Players {
		if player.Name == p.PlayerName {
			available = false
			break
		}
	}
	status := "available"
	if !available {
		status = "taken"
	}
	return &types.CommandResult{CommandID: cmd.CommandID, Status: status}, nil
}

// handleDisconnect records a dropped connection only; per spec.md §8 S4 a
// player's hasSubmittedAction (and any already-queued command) must
// survive disconnect/reconnect so a reconnecting player's in-flight
// submission still resolves normally. Only the transport-layer connection
// state changes here — the pending command stays queued in the
// CommandProcessor and the PendingAction stays queued in the
// PhaseController exactly as it was before the drop.
func (ra *RoomActor) handleDisconnect(cmd types.CommandEnvelope) (*types.CommandResult, error) {
	playerID := cmd.ActorUserID
	ra.phaseCtrl.AddPendingDisconnectEvent(engine.DisconnectEvent{PlayerID: playerID})
	ra.bus.Emit(context.Background(), types.EventPlayerDisconnected, eventPayload(playerID, map[string]interface{}{"player_id": playerID}), true)
	ra.maybeResolveRound()
	return &types.CommandResult{CommandID: cmd.CommandID, Status: "accepted"}, nil
}

// buildContext assembles the command.Context shared by validate/execute
// for this instant, including the coordination-bonus tally (GLOSSARY).
func (ra *RoomActor) buildContext() command.Context {
	return command.Context{
		State:       ra.state,
		Catalog:     ra.catalog,
		Bus:         ra.bus,
		Room:        catalog.RoomContext{GameCode: ra.GameCode, Round: ra.state.Round},
		CoTargeters: ra.buildCoTargeters(),
	}
}

func (ra *RoomActor) buildCoTargeters() map[string]int {
	tally := map[string]int{}
	for _, cmd := range ra.processor.GetPendingCommands("") {
		if cmd.TargetID() != "" {
			tally[cmd.TargetID()]++
		}
	}
	out := make(map[string]int, len(tally))
	for target, count := range tally {
		out[target] = count - 1
	}
	return out
}

// maybeResolveRound triggers round resolution once every living,
// non-disconnected player has a submitted action (spec.md §4.5 "action ->
// results" trigger (a)).
func (ra *RoomActor) maybeResolveRound() {
	if ra.state.Phase != engine.PhaseAction {
		return
	}
	total := 0
	for _, p := range ra.state.Players {
		if !p.IsAlive {
			continue
		}
		total++
		if !p.HasSubmittedAction {
			return
		}
	}
	if total == 0 {
		return
	}
	ra.resolveRound("all_submitted")
}

func (ra *RoomActor) resetActionTimer() {
	if ra.actionTimer != nil {
		ra.actionTimer.Stop()
	}
	timeout := ra.cfg.ActionPhaseTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	ra.actionTimer = time.NewTimer(timeout)
}

func (ra *RoomActor) stopActionTimer() {
	if ra.actionTimer != nil {
		ra.actionTimer.Stop()
		ra.actionTimer = nil
	}
}

// resolveRound implements RoundResolver (spec.md §4.7): phase flip, start-
// of-resolution passives, bulk command execution, monster action, victory
// check, and terminal game.ended handling. It is idempotent within a
// round via PhaseController.ResolveRound.
func (ra *RoomActor) resolveRound(reason string) {
	if !ra.phaseCtrl.ResolveRound(reason) {
		return
	}
	ra.stopActionTimer()
	ctx := context.Background()

	for _, act := range ra.phaseCtrl.GetPendingPassiveActivations() {
		ra.bus.Emit(ctx, types.EventHealApplied, eventPayload(act.PlayerID, map[string]interface{}{
			"target_id": act.PlayerID, "heal_amount": act.Magnitude, "healer_id": act.PlayerID,
		}), true)
	}

	ra.processor.ProcessCommands(ctx, ra.buildContext())
	ra.performMonsterAction(ctx)
	ra.applyStatusEffectTicks(ctx)

	for _, d := range ra.phaseCtrl.GetPendingDisconnectEvents() {
		ra.bus.Emit(ctx, types.EventPlayerLeft, eventPayload(d.PlayerID, map[string]interface{}{"player_id": d.PlayerID}), true)
	}

	outcome := ra.state.CheckVictory()
	if outcome != engine.VictoryNone {
		ra.endGame(ctx, outcome)
		return
	}
	ra.startReadyGraceCheck()
}

// applyStatusEffectTicks implements RoundResolver's tick step (spec.md
// §4.7 step 5): damage-over-time effects apply first, then heal-over-time
// effects queue for the start of next round (GLOSSARY: healingOverTime is
// a passive activation, not an immediate heal), then death-prevention
// triggers like "undying" are checked against any tick that would have
// killed the player. Every HP change flows through the bus/Reduce, never
// a direct field write, so a crash/restart replay reproduces it.
func (ra *RoomActor) applyStatusEffectTicks(ctx context.Context) {
	ids := make([]string, 0, len(ra.state.Players))
	for id := range ra.state.Players {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		p, ok := ra.state.Players[id]
		if !ok || !p.IsAlive {
			continue
		}
		for _, eff := range p.StatusEffects {
			if eff.Type == "poison" || eff.Type == "bleed" {
				ra.applyDamageTick(ctx, id, eff)
			}
		}
	}

	for _, id := range ids {
		p, ok := ra.state.Players[id]
		if !ok || !p.IsAlive {
			continue
		}
		for _, eff := range p.StatusEffects {
			if eff.Type == "healingOverTime" {
				ra.phaseCtrl.AddPendingPassiveActivation(engine.PassiveActivation{
					PlayerID: id, EffectType: eff.Type, Magnitude: eff.Magnitude,
				})
			}
		}
	}
}

// applyDamageTick applies one damage-over-time tick against playerID,
// consuming the player's "undying" status effect (if any) to cap the
// damage at HP=1 instead of letting the tick kill them.
func (ra *RoomActor) applyDamageTick(ctx context.Context, playerID string, eff engine.StatusEffect) {
	p := ra.state.Players[playerID]
	amount := eff.Magnitude

	undying := false
	for _, e := range p.StatusEffects {
		if e.Type == "undying" {
			undying = true
			break
		}
	}
	if undying && float64(p.HP)-amount <= 0 {
		amount = float64(p.HP - 1)
		if amount < 0 {
			amount = 0
		}
		ra.bus.Emit(ctx, types.EventEffectExpired, eventPayload("", map[string]interface{}{
			"target_id": playerID, "effect_type": "undying",
		}), true)
	}

	ra.bus.Emit(ctx, types.EventDamageApplied, eventPayload("", map[string]interface{}{
		"target_id": playerID, "damage_amount": amount, "attacker_id": eff.SourcePlayerID,
	}), true)
}

func (ra *RoomActor) performMonsterAction(ctx context.Context) {
	if ra.state.Monster == nil || ra.state.Monster.HP <= 0 {
		ra.reportMonsterDeathOnce(ctx)
		return
	}
	target := pickMonsterTarget(ra.state)
	if target == "" {
		return
	}
	ability := ra.catalog.GetMonsterBasicAttack()
	outcomes := ra.catalog.DispatchAbility(ctx, catalog.Actor{UserID: "__monster__", HP: ra.state.Monster.HP, MaxHP: ra.state.Monster.MaxHP},
		catalog.Target{UserID: target, HP: ra.state.Players[target].HP, MaxHP: ra.state.Players[target].MaxHP}, ability, catalog.RoomContext{GameCode: ra.GameCode, Round: ra.state.Round}, catalog.CoordinationInfo{})

	ra.bus.Emit(ctx, types.EventMonsterActed, eventPayload("", map[string]interface{}{}), true)
	for _, o := range outcomes {
		if o.Kind == catalog.EffectDamage {
			ra.bus.Emit(ctx, types.EventDamageApplied, eventPayload("", map[string]interface{}{
				"target_id": o.TargetID, "damage_amount": float64(o.Amount), "attacker_id": "__monster__",
			}), true)
		}
	}
	ra.reportMonsterDeathOnce(ctx)
}

func (ra *RoomActor) reportMonsterDeathOnce(ctx context.Context) {
	if ra.monsterReportedDead || ra.state.Monster == nil || ra.state.Monster.HP > 0 {
		return
	}
	ra.monsterReportedDead = true
	ra.bus.Emit(ctx, types.EventMonsterDied, eventPayload("", nil), true)
}

// pickMonsterTarget deterministically selects the lowest-id living
// player; target selection strategy is out of spec's scope (§1).
func pickMonsterTarget(s *engine.State) string {
	var ids []string
	for id, p := range s.Players {
		if p.IsAlive {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return ""
	}
	sort.Strings(ids)
	return ids[0]
}

func (ra *RoomActor) endGame(ctx context.Context, outcome engine.VictoryOutcome) {
	ra.bus.Emit(ctx, types.EventGameEnded, eventPayload("", map[string]interface{}{"outcome": string(outcome)}), true)
	ra.enqueueTrophies(outcome)
}

func (ra *RoomActor) enqueueTrophies(outcome engine.VictoryOutcome) {
	if ra.trophyQueue == nil {
		return
	}
	stats := make([]queue.PlayerStatsSnapshot, 0, len(ra.state.Players))
	for _, p := range ra.state.Players {
		stats = append(stats, queue.PlayerStatsSnapshot{
			PlayerID: p.ID, TotalDamageDealt: p.Stats.TotalDamageDealt, TotalHealingDone: p.Stats.TotalHealingDone,
			DamageTaken: p.Stats.DamageTaken, HighestSingleHit: p.Stats.HighestSingleHit,
			TimesDied: p.Stats.TimesDied, SelfHeals: p.Stats.SelfHeals, AbilitiesUsed: p.Stats.AbilitiesUsed,
		})
	}
	task := ra.trophyFactory.CreateComputeTrophiesTask(ra.GameCode, queue.ComputeTrophiesData{
		GameCode: ra.GameCode, Round: ra.state.Round, Outcome: string(outcome), Stats: stats,
	})
	if err := ra.trophyQueue.Publish(context.Background(), task); err != nil {
		ra.logger.Error("enqueue trophy computation failed", zap.String("game_code", ra.GameCode), zap.Error(err))
		if ra.metrics != nil {
			ra.metrics.TrophyQueueErrors.Inc()
		}
	}
}

func (ra *RoomActor) startReadyGraceCheck() {
	ra.maybeAdvanceRound(false)
	if ra.state.Phase != engine.PhaseResults {
		return
	}
	if ra.readyTimer != nil {
		ra.readyTimer.Stop()
	}
	grace := ra.cfg.ReadyGraceWindow
	if grace <= 0 {
		grace = 3 * time.Second
	}
	ra.readyTimer = time.NewTimer(grace)
}

// maybeAdvanceRound implements the "results -> action" trigger (spec.md
// §4.5): every living player ready, or (when force is true, from the
// grace-window timer) a majority ready.
func (ra *RoomActor) maybeAdvanceRound(force bool) {
	if ra.state.Phase != engine.PhaseResults {
		return
	}
	alive := 0
	for _, p := range ra.state.Players {
		if p.IsAlive {
			alive++
		}
	}
	if alive == 0 {
		return
	}
	ready := ra.phaseCtrl.GetReadyCount()
	majority := alive/2 + 1
	if ready >= alive || (force && ready >= majority) {
		ra.advanceRound()
	}
}

// advanceRound decrements ability cooldowns and status-effect durations
// and retires any effect whose duration has run out (status-effect
// Magnitude damage/heal ticks themselves are applied earlier, in
// resolveRound's applyStatusEffectTicks, per spec.md §4.7 step 5 — this
// only tracks how many rounds an effect has left), then drives the phase
// transition back to action.
func (ra *RoomActor) advanceRound() {
	type expiry struct {
		playerID, effectType string
	}
	var expired []expiry

	for id, p := range ra.state.Players {
		for k, v := range p.AbilityCooldowns {
			if v > 0 {
				p.AbilityCooldowns[k] = v - 1
			}
		}
		kept := p.StatusEffects[:0]
		for _, eff := range p.StatusEffects {
			if eff.TurnsRemaining > 0 {
				eff.TurnsRemaining--
			}
			if eff.TurnsRemaining == 0 {
				expired = append(expired, expiry{playerID: id, effectType: eff.Type})
				continue
			}
			kept = append(kept, eff)
		}
		p.StatusEffects = kept
		ra.state.Players[id] = p
	}

	for _, e := range expired {
		ra.bus.Emit(context.Background(), types.EventEffectExpired, eventPayload("", map[string]interface{}{
			"target_id": e.playerID, "effect_type": e.effectType,
		}), true)
	}

	if ra.readyTimer != nil {
		ra.readyTimer.Stop()
		ra.readyTimer = nil
	}
	ra.phaseCtrl.AdvanceToNextRound()
	ra.resetActionTimer()
}

func eventPayload(actor string, payload map[string]interface{}) json.RawMessage {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	if actor != "" {
		payload["actor"] = actor
	}
	b, _ := json.Marshal(payload)
	return b
}

// allEventTypes is every event type this room's bus ever emits; the room
// actor subscribes to all of them at construction so every domain event
// flows through the single persist/Reduce/broadcast funnel.
var allEventTypes = []string{
	types.EventGameCreated, types.EventGameStarted, types.EventGameEnded, types.EventGameError,
	types.EventPhaseChanged,
	types.EventPlayerJoined, types.EventPlayerLeft, types.EventPlayerDisconnected, types.EventPlayerReconnected,
	types.EventPlayerDied, types.EventPlayerStatusUpdate, types.EventPlayerNameCheck, types.EventPlayerClassAbilitiesRequest,
	types.EventActionSubmitted, types.EventActionExecuted, types.EventActionFailed, types.EventActionRejected,
	types.EventActionRacial, types.EventActionAdaptability, types.EventActionUndone,
	types.EventCombatDamageApplied, types.EventCombatHealingApplied, types.EventCombatEffectApplied,
	types.EventDamageApplied, types.EventHealApplied, types.EventEffectApplied, types.EventEffectExpired,
	types.EventAbilityResolved, types.EventCoordinationBonus,
	types.EventMonsterDamaged, types.EventMonsterHealed, types.EventMonsterActed, types.EventMonsterDied,
	types.EventWarlockAssigned, types.EventWarlockRevealed, types.EventSystemWarning,
	types.EventSocketConnected, types.EventSocketDisconnected, types.EventControllerReset,
}

// RoomManager owns every live room actor in the process and restarts one
// after a crash (spec.md §5's per-room isolation: a crash in one room
// never affects another).
type RoomManager struct {
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	actors  map[string]*RoomActor
	store   *store.Store
	logger  *zap.Logger
	metrics *observability.Metrics
	queue   *queue.Queue
	cfg     Config
}

func NewRoomManager(ctx context.Context, st *store.Store, logger *zap.Logger, metrics *observability.Metrics, tq *queue.Queue, cfg Config) *RoomManager {
	if ctx == nil {
		ctx = context.Background()
	}
	actorCtx, cancel := context.WithCancel(ctx)
	return &RoomManager{ctx: actorCtx, cancel: cancel, actors: make(map[string]*RoomActor), store: st, logger: logger, metrics: metrics, queue: tq, cfg: cfg}
}

func (m *RoomManager) Close() { m.cancel() }

func (m *RoomManager) Get(gameCode string) (*RoomActor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ra, ok := m.actors[gameCode]
	return ra, ok
}

func (m *RoomManager) GetOrCreate(ctx context.Context, gameCode string) (*RoomActor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ra, ok := m.actors[gameCode]; ok {
		return ra, nil
	}
	ra, err := NewRoomActor(ctx, m.ctx, gameCode, m.store, m.logger, m.metrics, m.queue, m.cfg, m.handleActorCrash)
	if err != nil {
		return nil, err
	}
	m.actors[gameCode] = ra
	return ra, nil
}

func (m *RoomManager) handleActorCrash(gameCode string) {
	reloadCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ra, err := NewRoomActor(reloadCtx, m.ctx, gameCode, m.store, m.logger, m.metrics, m.queue, m.cfg, m.handleActorCrash)
	if err != nil {
		m.logger.Error("failed to restart room actor", zap.String("game_code", gameCode), zap.Error(err))
		return
	}
	m.mu.Lock()
	m.actors[gameCode] = ra
	m.mu.Unlock()
	m.logger.Warn("room actor restarted", zap.String("game_code", gameCode))
}

// CreateGame generates a unique 4-digit room code (spec.md §6), creates
// the backing store row and room actor, and joins the host as its first
// player.
func (m *RoomManager) CreateGame(ctx context.Context, hostUserID, hostName string) (string, error) {
	code, err := m.generateGameCode()
	if err != nil {
		return "", err
	}
	if err := m.store.CreateGame(ctx, store.Game{ID: code, CreatedBy: hostUserID, Status: "lobby", CreatedAt: time.Now().UTC()}); err != nil {
		return "", err
	}
	if err := m.store.AddGameMember(ctx, store.GameMember{GameCode: code, UserID: hostUserID, Joined: time.Now().UTC()}); err != nil {
		return "", err
	}
	ra, err := m.GetOrCreate(ctx, code)
	if err != nil {
		return "", err
	}
	payload, _ := json.Marshal(joinGamePayload{PlayerName: hostName})
	resp := ra.Dispatch(types.CommandEnvelope{
		CommandID: uuid.NewString(), RoomID: code, Type: types.MsgJoinGame, ActorUserID: hostUserID, Payload: payload,
	})
	if resp.Err != nil {
		return "", resp.Err
	}
	ra.bus.Emit(ctx, types.EventGameCreated, eventPayload(hostUserID, map[string]interface{}{"game_code": code}), true)
	return code, nil
}

func (m *RoomManager) generateGameCode() (string, error) {
	bg := context.Background()
	for attempt := 0; attempt < 50; attempt++ {
		code := fmt.Sprintf("%04d", 1000+rand.Intn(9000))
		if _, exists := m.Get(code); exists {
			continue
		}
		if _, err := m.store.GetGame(bg, code); err != nil {
			return code, nil
		}
	}
	return "", fmt.Errorf("could not allocate a free game code")
}
