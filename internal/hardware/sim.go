package hardware

import (
	"errors"
	"sync"

	"robot-service/internal/logger"
	"robot-service/internal/types"
)

var errSimNoEcho = errors.New("simulated echo timeout")

// SimHardwareIO is an in-memory stand-in for GPIO hardware, used with the
// -sim flag for bench runs without a robot attached.
type SimHardwareIO struct {
	log *logger.Logger
	mu  sync.Mutex

	left, center, right bool
	distanceCm          float64
	distanceOk          bool
	lastCommand         types.Command
}

func NewSimHardwareIO(log *logger.Logger) *SimHardwareIO {
	return &SimHardwareIO{
		log:        log.WithTag("sim"),
		center:     true,
		distanceCm: 100.0,
		distanceOk: true,
	}
}

func (s *SimHardwareIO) Initialize() error {
	s.log.Infof("Simulated hardware ready")
	return nil
}

func (s *SimHardwareIO) Cleanup() {
	s.log.Infof("Simulated hardware released")
}

func (s *SimHardwareIO) ReadLineTriple() (left, center, right bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.left, s.center, s.right, nil
}

func (s *SimHardwareIO) MeasureDistance() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.distanceOk {
		return 0, errSimNoEcho
	}
	return s.distanceCm, nil
}

func (s *SimHardwareIO) ApplyCommand(cmd types.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cmd.Action != s.lastCommand.Action || cmd.Speed != s.lastCommand.Speed {
		s.log.Debugf("Motor: %s speed=%d (%s)", cmd.Action, cmd.Speed, cmd.Reason)
	}
	s.lastCommand = cmd
	return nil
}

// SetLine overrides the simulated line sensor readings.
func (s *SimHardwareIO) SetLine(left, center, right bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.left, s.center, s.right = left, center, right
}

// SetDistance overrides the simulated ultrasonic reading. ok=false simulates
// a missing echo.
func (s *SimHardwareIO) SetDistance(cm float64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.distanceCm, s.distanceOk = cm, ok
}

// LastCommand returns the most recently applied command.
func (s *SimHardwareIO) LastCommand() types.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCommand
}
