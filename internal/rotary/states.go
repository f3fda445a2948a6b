package rotary

import "github.com/librescoot/librefsm"

// Rotary section states
const (
	StateNormal   librefsm.StateID = "normal"
	StateEntering librefsm.StateID = "entering"
	StateInRotary librefsm.StateID = "in-rotary"
	StateExiting  librefsm.StateID = "exiting"

	// Parent state shared by the three non-normal states (hierarchical)
	StateActive librefsm.StateID = "active"
)

// Rotary events
const (
	EvEntryDetected librefsm.EventID = "entry-detected"
	EvDwellElapsed  librefsm.EventID = "dwell-elapsed"
	EvCenterStable  librefsm.EventID = "center-stable"
	EvHardTimeout   librefsm.EventID = "hard-timeout"
	EvExitComplete  librefsm.EventID = "exit-complete"
	EvReset         librefsm.EventID = "reset"
)
