package command

import (
	"context"
	"sort"
	"sync"
)

// ProcessorStats mirrors the getStats() contract (spec.md §4.4).
type ProcessorStats struct {
	CommandsSubmitted int64
	CommandsRejected  int64
	CommandsExecuted  int64
	CommandsFailed    int64
	RoundsCompleted   int64
}

// CommandProcessor owns every player's command queue for one room. It is
// only ever touched from the room's single actor goroutine, so it needs
// no internal locking beyond what protects concurrent getStats/getPending
// reads from other goroutines (e.g. an HTTP status endpoint).
type CommandProcessor struct {
	mu             sync.Mutex
	queues         map[string]*AbilityCommand   // playerID -> current non-racial command
	racialQueues   map[string][]*AbilityCommand // playerID -> queued racial commands
	nextRoundQueue []queuedSubmission
	running        bool
	stats          ProcessorStats
}

type queuedSubmission struct {
	cmd *AbilityCommand
}

func NewCommandProcessor() *CommandProcessor {
	return &CommandProcessor{
		queues:       make(map[string]*AbilityCommand),
		racialQueues: make(map[string][]*AbilityCommand),
	}
}

// SubmitActionData classifies, constructs, and validates a command. On
// success it queues it (replacing any existing non-executing command for
// non-racial actions; racial actions queue alongside) and emits
// action.submitted. On failure it emits action.rejected and does not
// queue (spec.md §4.4).
func (p *CommandProcessor) SubmitActionData(cc Context, cmd *AbilityCommand) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	vr := cmd.Validate(cc)
	if !vr.Valid {
		p.stats.CommandsRejected++
		emitEvent(cc.Bus, "action.rejected", cmd.playerID, map[string]interface{}{
			"player_id": cmd.playerID, "reason": joinErrors(vr.Errors),
		})
		return "", errValidation(vr.Errors)
	}

	// re-entrancy: a command submitted while processCommands is running
	// queues for next round, not this one (spec.md §4.4 step 7).
	if p.running {
		p.nextRoundQueue = append(p.nextRoundQueue, queuedSubmission{cmd: cmd})
	} else if cmd.actionType == "racial_ability" {
		p.racialQueues[cmd.playerID] = append(p.racialQueues[cmd.playerID], cmd)
	} else {
		if existing, ok := p.queues[cmd.playerID]; ok && existing.status != StatusExecuting {
			existing.Cancel()
		}
		p.queues[cmd.playerID] = cmd
	}

	p.stats.CommandsSubmitted++
	emitEvent(cc.Bus, "action.submitted", cmd.playerID, map[string]interface{}{
		"player_id": cmd.playerID, "action_type": cmd.actionType, "command_id": cmd.id,
	})
	return cmd.id, nil
}

// CancelCommand cancels the command if it is not currently executing,
// undoing it first if it had already completed and captured undo data
// (spec.md §4.3: cancelled is terminal from any non-executing status,
// including completed).
func (p *CommandProcessor) CancelCommand(cc Context, commandID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, cmd := range p.queues {
		if cmd.id == commandID {
			return cancelAndUndo(cmd, cc)
		}
	}
	for _, queue := range p.racialQueues {
		for _, cmd := range queue {
			if cmd.id == commandID {
				return cancelAndUndo(cmd, cc)
			}
		}
	}
	return false
}

func cancelAndUndo(cmd *AbilityCommand, cc Context) bool {
	if !cmd.Cancel() {
		return false
	}
	cmd.Undo(cc)
	return true
}

// ClearPlayerCommands cancels all of a player's pending commands and
// returns how many were cancelled.
func (p *CommandProcessor) ClearPlayerCommands(playerID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	count := 0
	if cmd, ok := p.queues[playerID]; ok {
		if cmd.Cancel() {
			count++
		}
	}
	for _, cmd := range p.racialQueues[playerID] {
		if cmd.Cancel() {
			count++
		}
	}
	return count
}

// GetPendingCommands returns a snapshot of one player's commands, or every
// non-cancelled command in the room if playerID is empty.
func (p *CommandProcessor) GetPendingCommands(playerID string) []*AbilityCommand {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*AbilityCommand
	for id, cmd := range p.queues {
		if playerID != "" && id != playerID {
			continue
		}
		if cmd.status != StatusCancelled {
			out = append(out, cmd)
		}
	}
	for id, queue := range p.racialQueues {
		if playerID != "" && id != playerID {
			continue
		}
		for _, cmd := range queue {
			if cmd.status != StatusCancelled {
				out = append(out, cmd)
			}
		}
	}
	return out
}

func (p *CommandProcessor) GetStats() ProcessorStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *CommandProcessor) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queues = make(map[string]*AbilityCommand)
	p.racialQueues = make(map[string][]*AbilityCommand)
}

// ProcessCommands runs the processCommands algorithm (spec.md §4.4):
// mutually-exclusive within a room, snapshot, stable sort by descending
// priority then ascending submission time, then for each command in turn
// re-validate against the *current* room state immediately before
// executing it. Revalidating right before each execute (rather than once
// for the whole batch up front) is what makes spec §4.3's "the processor
// re-invokes validate before execute" guarantee hold when an earlier
// command in this same pass changes the state a later one depends on —
// e.g. two players targeting the same mortally-wounded target (spec.md §8
// S2): the second command must see the first's kill before it executes,
// not the pre-round snapshot.
func (p *CommandProcessor) ProcessCommands(ctx context.Context, cc Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	var snapshot []*AbilityCommand
	for _, cmd := range p.queues {
		if cmd.status != StatusCancelled {
			snapshot = append(snapshot, cmd)
		}
	}
	for _, queue := range p.racialQueues {
		for _, cmd := range queue {
			if cmd.status != StatusCancelled {
				snapshot = append(snapshot, cmd)
			}
		}
	}
	p.mu.Unlock()

	sort.SliceStable(snapshot, func(i, j int) bool {
		if snapshot[i].priority != snapshot[j].priority {
			return snapshot[i].priority > snapshot[j].priority
		}
		return snapshot[i].submissionTime.Before(snapshot[j].submissionTime)
	})

	for _, cmd := range snapshot {
		vr := cmd.Validate(cc)
		if !vr.Valid {
			cmd.status = StatusFailed
			emitEvent(cc.Bus, "action.failed", cmd.playerID, map[string]interface{}{
				"player_id": cmd.playerID, "reason": joinErrors(vr.Errors),
			})
			p.mu.Lock()
			p.stats.CommandsFailed++
			p.mu.Unlock()
			continue
		}

		cmd.status = StatusExecuting
		if err := cmd.Execute(ctx, cc); err != nil {
			cmd.status = StatusFailed
			p.mu.Lock()
			p.stats.CommandsFailed++
			p.mu.Unlock()
			continue
		}
		p.mu.Lock()
		p.stats.CommandsExecuted++
		p.mu.Unlock()
	}

	p.mu.Lock()
	p.queues = make(map[string]*AbilityCommand)
	p.racialQueues = make(map[string][]*AbilityCommand)
	for _, q := range p.nextRoundQueue {
		if q.cmd.actionType == "racial_ability" {
			p.racialQueues[q.cmd.playerID] = append(p.racialQueues[q.cmd.playerID], q.cmd)
		} else {
			p.queues[q.cmd.playerID] = q.cmd
		}
	}
	p.nextRoundQueue = nil
	p.stats.RoundsCompleted++
	p.running = false
	p.mu.Unlock()
}

// OnPlayerDisconnected cancels a disconnected player's pending commands
// without touching any command already in flight (spec.md §4.4).
func (p *CommandProcessor) OnPlayerDisconnected(playerID string) {
	p.ClearPlayerCommands(playerID)
}

func joinErrors(errs []string) string {
	out := ""
	for i, e := range errs {
		if i > 0 {
			out += "; "
		}
		out += e
	}
	return out
}

type validationError struct{ errs []string }

func (e *validationError) Error() string { return joinErrors(e.errs) }

func errValidation(errs []string) error { return &validationError{errs: errs} }
