package avoidance

import "github.com/librescoot/librefsm"

// Actions defines the state entry/exit hooks the engine provides.
type Actions interface {
	EnterMonitoring(c *librefsm.Context) error
	EnterPlanning(c *librefsm.Context) error
	EnterAvoiding(c *librefsm.Context) error
	EnterReturning(c *librefsm.Context) error
	EnterCompleted(c *librefsm.Context) error
	ExitManeuver(c *librefsm.Context) error
}

// NewDefinition builds the avoidance phase machine. All transitions are sent
// synchronously from the control tick; stage durations are measured against
// an injected clock, not FSM timers.
func NewDefinition(actions Actions) *librefsm.Definition {
	return librefsm.NewDefinition().
		State(StateMonitoring,
			librefsm.WithOnEnter(actions.EnterMonitoring)).
		State(StateManeuver,
			librefsm.WithOnExit(actions.ExitManeuver)).
		State(StatePlanning,
			librefsm.WithParent(StateManeuver),
			librefsm.WithOnEnter(actions.EnterPlanning)).
		State(StateAvoiding,
			librefsm.WithParent(StateManeuver),
			librefsm.WithOnEnter(actions.EnterAvoiding)).
		State(StateReturning,
			librefsm.WithParent(StateManeuver),
			librefsm.WithOnEnter(actions.EnterReturning)).
		State(StateCompleted,
			librefsm.WithParent(StateManeuver),
			librefsm.WithOnEnter(actions.EnterCompleted)).
		Transition(StateMonitoring, EvObstacleDetected, StatePlanning).
		Transition(StatePlanning, EvPlanReady, StateAvoiding).
		Transition(StateAvoiding, EvManeuverDone, StateReturning).
		Transition(StateReturning, EvReturned, StateCompleted).
		Transition(StatePlanning, EvManeuverDone, StateCompleted).
		Transition(StateCompleted, EvCycleFinished, StateMonitoring).
		Transition(StateManeuver, EvForceReset, StateMonitoring).
		Initial(StateMonitoring)
}
