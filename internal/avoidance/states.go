package avoidance

import "github.com/librescoot/librefsm"

// Phase identifiers
const (
	StateMonitoring librefsm.StateID = "monitoring"
	StateManeuver   librefsm.StateID = "maneuver" // parent of the active phases
	StatePlanning   librefsm.StateID = "planning"
	StateAvoiding   librefsm.StateID = "avoiding"
	StateReturning  librefsm.StateID = "returning"
	StateCompleted  librefsm.StateID = "completed"
)

// Event identifiers
const (
	EvObstacleDetected librefsm.EventID = "obstacle-detected"
	EvPlanReady        librefsm.EventID = "plan-ready"
	EvManeuverDone     librefsm.EventID = "maneuver-done"
	EvReturned         librefsm.EventID = "returned"
	EvCycleFinished    librefsm.EventID = "cycle-finished"
	EvForceReset       librefsm.EventID = "force-reset"
)
