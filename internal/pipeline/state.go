package pipeline

import (
	"fmt"
)

// State is a frame's position in the narration pipeline.
type State string

const (
	StateIdle        State = "idle"
	StateImageStored State = "image_stored"
	StateDescribed   State = "described"
	StateSynthesized State = "synthesized"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

var transitions = map[State][]State{
	StateIdle:        {StateImageStored, StateFailed},
	StateImageStored: {StateDescribed, StateFailed},
	StateDescribed:   {StateSynthesized, StateFailed},
	StateSynthesized: {StateDone, StateFailed},
}

func (s State) CanTransition(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// FrameError reports the stage a frame failed to reach. It unwraps to the
// underlying validation, storage or provider error.
type FrameError struct {
	FrameID string
	Stage   State
	Err     error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("frame %s failed before %s: %v", e.FrameID, e.Stage, e.Err)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

type tracker struct {
	current State
	history []State
}

func newTracker() *tracker {
	return &tracker{current: StateIdle, history: []State{StateIdle}}
}

func (t *tracker) to(next State) {
	if !t.current.CanTransition(next) {
		panic(fmt.Sprintf("pipeline: illegal transition %s -> %s", t.current, next))
	}
	t.current = next
	t.history = append(t.history, next)
}

func (t *tracker) states() []State {
	out := make([]State, len(t.history))
	copy(out, t.history)
	return out
}
