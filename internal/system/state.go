package system

import (
	"context"
	"errors"

	"github.com/looplab/fsm"
)

type SystemState string

const (
	StateInitializing SystemState = "INITIALIZING"
	StateRunning      SystemState = "RUNNING"
	StateStopping     SystemState = "STOPPING"
	StateStopped      SystemState = "STOPPED"
	StateError        SystemState = "ERROR"
)

func (s SystemState) String() string {
	return string(s)
}

// Lifecycle events.
const (
	EventStarted = "started"
	EventStop    = "stop"
	EventStopped = "stopped"
	EventFail    = "fail"
)

// newStateMachine returns the lifecycle FSM. onEnter runs after every
// completed transition.
func newStateMachine(onEnter func(from, to SystemState)) *fsm.FSM {
	return fsm.NewFSM(
		StateInitializing.String(),
		fsm.Events{
			{
				Name: EventStarted,
				Src:  []string{StateInitializing.String()},
				Dst:  StateRunning.String(),
			},
			{
				Name: EventStop,
				Src: []string{
					StateInitializing.String(),
					StateRunning.String(),
					StateError.String(),
				},
				Dst: StateStopping.String(),
			},
			{
				Name: EventStopped,
				Src:  []string{StateStopping.String()},
				Dst:  StateStopped.String(),
			},
			{
				Name: EventFail,
				Src: []string{
					StateInitializing.String(),
					StateRunning.String(),
					StateStopping.String(),
				},
				Dst: StateError.String(),
			},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, ev *fsm.Event) {
				if onEnter != nil {
					onEnter(SystemState(ev.Src), SystemState(ev.Dst))
				}
			},
		},
	)
}

// fire applies a lifecycle event. Repeating an event that leaves the state
// unchanged is not an error.
func fire(m *fsm.FSM, event string) error {
	err := m.Event(context.Background(), event)
	var noTransition fsm.NoTransitionError
	if errors.As(err, &noTransition) {
		return nil
	}
	return err
}
