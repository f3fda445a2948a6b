package rotary

import "github.com/librescoot/librefsm"

// Actions defines the state entry/exit hooks for the rotary machine.
// Detector implements this interface.
type Actions interface {
	EnterNormal(c *librefsm.Context) error
	EnterEntering(c *librefsm.Context) error
	EnterInRotary(c *librefsm.Context) error
	EnterExiting(c *librefsm.Context) error
	ExitActive(c *librefsm.Context) error
}

// NewDefinition creates the rotary-section FSM definition. All transitions
// are driven synchronously from the control tick; there are no timers here —
// dwell and timeout windows are evaluated against the injected clock.
func NewDefinition(actions Actions) *librefsm.Definition {
	return librefsm.NewDefinition().
		State(StateNormal,
			librefsm.WithOnEnter(actions.EnterNormal),
		).

		// Parent for the three rotary states (for the shared reset edge)
		State(StateActive,
			librefsm.WithOnExit(actions.ExitActive),
		).
		State(StateEntering,
			librefsm.WithParent(StateActive),
			librefsm.WithOnEnter(actions.EnterEntering),
		).
		State(StateInRotary,
			librefsm.WithParent(StateActive),
			librefsm.WithOnEnter(actions.EnterInRotary),
		).
		State(StateExiting,
			librefsm.WithParent(StateActive),
			librefsm.WithOnEnter(actions.EnterExiting),
		).

		// === Transitions ===
		Transition(StateNormal, EvEntryDetected, StateEntering).
		Transition(StateEntering, EvDwellElapsed, StateInRotary).
		Transition(StateInRotary, EvCenterStable, StateExiting).
		Transition(StateInRotary, EvHardTimeout, StateExiting).
		Transition(StateExiting, EvExitComplete, StateNormal).

		// Operator reset from any rotary state (handled by parent)
		Transition(StateActive, EvReset, StateNormal).

		// Initial state
		Initial(StateNormal)
}
