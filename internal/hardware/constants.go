package hardware

import "time"

const (
	// Ultrasonic timing. Sound travels at 343m/s; the echo pulse covers the
	// distance twice.
	SoundSpeedCmPerSec = 34300.0
	TriggerPulse       = 10 * time.Microsecond
	EchoTimeout        = 30 * time.Millisecond

	DefaultConsumer = "robot-service"
)

// Digital inputs
var DiMappings = map[string]struct {
	Chip int
	Line int
}{
	"line_left":       {0, 17},
	"line_center":     {0, 27},
	"line_right":      {0, 22},
	"ultrasonic_echo": {0, 24},
}

// Digital outputs
var DoMappings = map[string]struct {
	Chip int
	Line int
}{
	"ultrasonic_trigger": {0, 23},
	"motor_left_fwd":     {0, 5},
	"motor_left_rev":     {0, 6},
	"motor_right_fwd":    {0, 13},
	"motor_right_rev":    {0, 19},
}
