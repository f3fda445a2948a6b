package core

import (
	"robot-service/internal/messaging"
	"robot-service/internal/types"
)

// MessagingClient defines the interface for Redis messaging operations needed by RobotSystem
type MessagingClient interface {
	SetCallbacks(callbacks messaging.Callbacks)
	Connect() error
	StartListening() error
	Close() error

	// State publishing
	PublishMode(mode types.Mode) error
	PublishDecision(cmd types.Command) error
	SetLineState(line types.FilteredLineReading) error
	SetDistanceState(dist types.FilteredDistance) error
	SetRotaryState(state string) error
	SetAvoidanceState(phase, strategy string) error
	SetSensorHealth(sensor string, healthy bool) error

	// Settings
	GetHashField(hash, field string) (string, error)

	// Faults
	ReportFaultPresent(code int, description string, timestamp int64, info string) error
	ReportFaultAbsent(code int) error
}

// HardwareIO defines the interface for hardware I/O operations needed by RobotSystem
type HardwareIO interface {
	Initialize() error
	Cleanup()
	ReadLineTriple() (left, center, right bool, err error)
	MeasureDistance() (float64, error)
	ApplyCommand(cmd types.Command) error
}
