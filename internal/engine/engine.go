package engine

import (
	"errors"
)

var ErrStageOutOfRange = errors.New("stage index out of range")
var ErrNotInProgress = errors.New("game not in progress")
var ErrActorBanned = errors.New("actor is banned")
var ErrUnsupportedCommand = errors.New("unsupported command")

// Unset marks an empty signed field of the replicated record: no stage
// selected, no anomaly shown, or a session that has not started.
const Unset int8 = -1

type Phase string

const (
	PhaseNotStarted Phase = "not_started"
	PhaseInProgress Phase = "in_progress"
	PhaseCompleted  Phase = "completed"
)

// State is the replicated session record. Only the lease holder mutates it.
type State struct {
	SuccessCount int8
	StageIndex   int8
	VariantIndex int8
}

type CommandType string

const (
	CmdStartGame    CommandType = "StartGame"
	CmdSubmitAnswer CommandType = "SubmitAnswer"
	CmdReset        CommandType = "Reset"
)

/*
	CmdStartGame    -> EvtGameStarted (successCount = 0, stage selected, variant cleared)
	CmdSubmitAnswer -> EvtCorrectAnswer while below target, nothing extra when the target is reached,
	                   EvtWrongAnswer on a miss. A new variant is drawn either way.
	CmdReset        -> EvtSessionReset (back to the pre-start record)
*/

type Command struct {
	Type          CommandType
	StageIndex    int
	ClaimsAnomaly bool
	// Banned is the submitting actor's ban flag as last replicated.
	Banned bool
}

type EventType string

const (
	EvtGameStarted   EventType = "GameStarted"
	EvtCorrectAnswer EventType = "CorrectAnswer"
	EvtWrongAnswer   EventType = "WrongAnswer"
	EvtSessionReset  EventType = "SessionReset"
)

type Event struct {
	Type         EventType
	StageIndex   int8
	SuccessCount int8
}

// VariantPicker chooses the anomaly variant shown for the next round.
type VariantPicker interface {
	// Observe records a variant that became visible for a stage.
	Observe(stageIndex int, variant int8)
	// Pick returns a variant index for the stage, or Unset for the normal configuration.
	Pick(stageIndex int, stage StageConfig) int8
}

// Engine evaluates commands against the replicated record. It holds no
// session state of its own.
type Engine struct {
	stages []StageConfig
	picker VariantPicker
}

func New(stages []StageConfig, picker VariantPicker) *Engine {
	return &Engine{stages: stages, picker: picker}
}

// Apply returns the events and next state for cmd. On error the input
// state is returned untouched.
func (e *Engine) Apply(s State, cmd Command) ([]Event, State, error) {
	switch cmd.Type {
	case CmdReset:
		next := NewSessionState()
		return []Event{{Type: EvtSessionReset, StageIndex: Unset, SuccessCount: Unset}}, next, nil

	case CmdStartGame:
		if cmd.Banned {
			return nil, s, ErrActorBanned
		}
		if cmd.StageIndex < 0 || cmd.StageIndex >= len(e.stages) {
			return nil, s, ErrStageOutOfRange
		}

		next := State{
			SuccessCount: 0,
			StageIndex:   int8(cmd.StageIndex),
			VariantIndex: Unset,
		}
		return []Event{{Type: EvtGameStarted, StageIndex: next.StageIndex}}, next, nil

	case CmdSubmitAnswer:
		if cmd.Banned {
			return nil, s, ErrActorBanned
		}
		if DerivePhase(s, e.stages) != PhaseInProgress {
			return nil, s, ErrNotInProgress
		}

		stage := e.stages[s.StageIndex]
		next := s
		var events []Event

		if cmd.ClaimsAnomaly == s.HasAnomaly() {
			next.SuccessCount++
			// Reaching the target is announced by the projection, not here.
			if next.SuccessCount > 0 && int(next.SuccessCount) < stage.Target {
				events = append(events, Event{Type: EvtCorrectAnswer, StageIndex: s.StageIndex, SuccessCount: next.SuccessCount})
			}
		} else {
			next.SuccessCount = 0
			events = append(events, Event{Type: EvtWrongAnswer, StageIndex: s.StageIndex, SuccessCount: 0})
		}

		e.picker.Observe(int(s.StageIndex), s.VariantIndex)
		next.VariantIndex = e.picker.Pick(int(s.StageIndex), stage)
		return events, next, nil

	default:
		return nil, s, ErrUnsupportedCommand
	}
}
