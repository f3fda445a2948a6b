package types

import "time"

// Mode is the top-level operating mode of the robot, published over Redis.
type Mode string

const (
	ModeInit    Mode = "init"
	ModeIdle    Mode = "idle"
	ModeRunning Mode = "running"
	ModeStopped Mode = "stopped"
)

// LinePosition classifies one filtered line-sensor reading.
type LinePosition int

const (
	LineLost LinePosition = iota
	LineCenter
	LineLeft
	LineRight
	LineMultiple
)

func (p LinePosition) String() string {
	switch p {
	case LineCenter:
		return "center"
	case LineLeft:
		return "left"
	case LineRight:
		return "right"
	case LineMultiple:
		return "multiple"
	default:
		return "lost"
	}
}

// DangerLevel is a coarse classification of the filtered obstacle distance.
// Ordering matters: higher values are more severe.
type DangerLevel int

const (
	DangerUnknown DangerLevel = iota
	DangerSafe
	DangerCaution
	DangerDangerous
	DangerVeryDangerous
)

func (d DangerLevel) String() string {
	switch d {
	case DangerSafe:
		return "safe"
	case DangerCaution:
		return "caution"
	case DangerDangerous:
		return "dangerous"
	case DangerVeryDangerous:
		return "very-dangerous"
	default:
		return "unknown"
	}
}

// Action is the closed set of motions the motor driver understands.
type Action int

const (
	ActionStop Action = iota
	ActionForward
	ActionBackward
	ActionTurnLeft
	ActionTurnRight
	ActionPivotLeft
	ActionPivotRight
	ActionSpinLeft
	ActionSpinRight
)

func (a Action) String() string {
	switch a {
	case ActionForward:
		return "forward"
	case ActionBackward:
		return "backward"
	case ActionTurnLeft:
		return "turn-left"
	case ActionTurnRight:
		return "turn-right"
	case ActionPivotLeft:
		return "pivot-left"
	case ActionPivotRight:
		return "pivot-right"
	case ActionSpinLeft:
		return "spin-left"
	case ActionSpinRight:
		return "spin-right"
	default:
		return "stop"
	}
}

// Priority orders competing command sources; higher wins.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityEmergency
)

func (p Priority) String() string {
	switch p {
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityEmergency:
		return "emergency"
	default:
		return "low"
	}
}

// Command is the final output of one control tick. Speed is a percentage in
// [-100, 100]; negative values mean reverse of the stated action.
type Command struct {
	Action     Action
	Speed      int
	Priority   Priority
	Confidence float64
	Source     string
	Reason     string
	Timestamp  time.Time
}

// StopCommand builds the always-safe command used on emergencies and shutdown.
func StopCommand(source, reason string) Command {
	return Command{
		Action:    ActionStop,
		Speed:     0,
		Priority:  PriorityEmergency,
		Source:    source,
		Reason:    reason,
		Timestamp: time.Now(),
	}
}

// FilteredLineReading is one majority-voted tri-sensor reading.
type FilteredLineReading struct {
	Left       bool
	Center     bool
	Right      bool
	Confidence float64
	Timestamp  time.Time
}

// ActiveCount returns how many channels detect the line.
func (r FilteredLineReading) ActiveCount() int {
	n := 0
	if r.Left {
		n++
	}
	if r.Center {
		n++
	}
	if r.Right {
		n++
	}
	return n
}

// Position maps the reading onto the LinePosition enum.
func (r FilteredLineReading) Position() LinePosition {
	switch r.ActiveCount() {
	case 0:
		return LineLost
	case 1:
		if r.Center {
			return LineCenter
		}
		if r.Left {
			return LineLeft
		}
		return LineRight
	default:
		return LineMultiple
	}
}

// ConfidenceLevel is the coarse quality tier of a filtered distance.
type ConfidenceLevel int

const (
	ConfidenceVeryLow ConfidenceLevel = iota
	ConfidenceLow
	ConfidenceMedium
	ConfidenceHigh
	ConfidenceVeryHigh
)

func (c ConfidenceLevel) String() string {
	switch c {
	case ConfidenceVeryHigh:
		return "very-high"
	case ConfidenceHigh:
		return "high"
	case ConfidenceMedium:
		return "medium"
	case ConfidenceLow:
		return "low"
	default:
		return "very-low"
	}
}

// FilteredDistance is one outlier-rejected, smoothed distance estimate.
// Valid=false means "no usable measurement this tick"; callers must treat it
// as unknown, never as zero.
type FilteredDistance struct {
	DistanceCm  float64
	Valid       bool
	Confidence  ConfidenceLevel
	Reliability float64
	Working     bool
	Timestamp   time.Time
}
