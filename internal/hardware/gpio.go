package hardware

import (
	"fmt"
	"sync"
	"time"

	"github.com/warthog618/go-gpiocdev"
	"golang.org/x/sys/unix"

	"robot-service/internal/logger"
	"robot-service/internal/types"
)

// GpioHardwareIO drives the robot through raw GPIO lines: three digital
// line sensors, an HC-SR04 style ultrasonic pair, and four motor direction
// pins. Speed values in commands are advisory; without PWM the pins only
// select direction.
type GpioHardwareIO struct {
	log     *logger.Logger
	chips   map[int]*gpiocdev.Chip
	inputs  map[string]*gpiocdev.Line
	outputs map[string]*gpiocdev.Line
	mu      sync.Mutex
}

func NewGpioHardwareIO(log *logger.Logger) *GpioHardwareIO {
	return &GpioHardwareIO{
		log:     log.WithTag("gpio"),
		chips:   make(map[int]*gpiocdev.Chip),
		inputs:  make(map[string]*gpiocdev.Line),
		outputs: make(map[string]*gpiocdev.Line),
	}
}

func (h *GpioHardwareIO) Initialize() error {
	h.log.Infof("Initializing GPIO hardware")

	for name, mapping := range DiMappings {
		chip, err := h.chip(mapping.Chip)
		if err != nil {
			return err
		}
		line, err := chip.RequestLine(mapping.Line,
			gpiocdev.AsInput,
			gpiocdev.WithConsumer(DefaultConsumer))
		if err != nil {
			return fmt.Errorf("failed to request DI %s (line %d): %w", name, mapping.Line, err)
		}
		h.inputs[name] = line
		h.log.Debugf("Configured DI %s: chip=%d, line=%d", name, mapping.Chip, mapping.Line)
	}

	for name, mapping := range DoMappings {
		chip, err := h.chip(mapping.Chip)
		if err != nil {
			return err
		}
		line, err := chip.RequestLine(mapping.Line,
			gpiocdev.AsOutput(0),
			gpiocdev.WithConsumer(DefaultConsumer))
		if err != nil {
			return fmt.Errorf("failed to request DO %s (line %d): %w", name, mapping.Line, err)
		}
		h.outputs[name] = line
		h.log.Debugf("Configured DO %s: chip=%d, line=%d", name, mapping.Chip, mapping.Line)
	}

	return nil
}

func (h *GpioHardwareIO) Cleanup() {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Leave the motors de-energized.
	for _, line := range h.outputs {
		line.SetValue(0)
		line.Close()
	}
	for _, line := range h.inputs {
		line.Close()
	}
	for _, chip := range h.chips {
		chip.Close()
	}
	h.log.Infof("GPIO hardware released")
}

func (h *GpioHardwareIO) chip(num int) (*gpiocdev.Chip, error) {
	if chip, ok := h.chips[num]; ok {
		return chip, nil
	}
	chip, err := gpiocdev.NewChip(fmt.Sprintf("gpiochip%d", num))
	if err != nil {
		return nil, fmt.Errorf("failed to open GPIO chip %d: %w", num, err)
	}
	h.chips[num] = chip
	return chip, nil
}

// ReadLineTriple samples the three reflectance sensors. High means the line
// is under the sensor.
func (h *GpioHardwareIO) ReadLineTriple() (left, center, right bool, err error) {
	l, err := h.inputs["line_left"].Value()
	if err != nil {
		return false, false, false, fmt.Errorf("failed to read line_left: %w", err)
	}
	c, err := h.inputs["line_center"].Value()
	if err != nil {
		return false, false, false, fmt.Errorf("failed to read line_center: %w", err)
	}
	r, err := h.inputs["line_right"].Value()
	if err != nil {
		return false, false, false, fmt.Errorf("failed to read line_right: %w", err)
	}
	return l != 0, c != 0, r != 0, nil
}

// MeasureDistance fires one ultrasonic ping and busy-waits for the echo.
// The wait is bounded by EchoTimeout so a disconnected sensor cannot stall
// the control loop for more than 30ms.
func (h *GpioHardwareIO) MeasureDistance() (float64, error) {
	trigger := h.outputs["ultrasonic_trigger"]
	echo := h.inputs["ultrasonic_echo"]

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := trigger.SetValue(1); err != nil {
		return 0, fmt.Errorf("failed to raise trigger: %w", err)
	}
	time.Sleep(TriggerPulse)
	if err := trigger.SetValue(0); err != nil {
		return 0, fmt.Errorf("failed to lower trigger: %w", err)
	}

	deadline := monotonicNow() + EchoTimeout

	var start time.Duration
	for {
		v, err := echo.Value()
		if err != nil {
			return 0, fmt.Errorf("failed to read echo: %w", err)
		}
		if v != 0 {
			start = monotonicNow()
			break
		}
		if monotonicNow() > deadline {
			return 0, fmt.Errorf("echo rise timeout after %s", EchoTimeout)
		}
	}

	var end time.Duration
	for {
		v, err := echo.Value()
		if err != nil {
			return 0, fmt.Errorf("failed to read echo: %w", err)
		}
		if v == 0 {
			end = monotonicNow()
			break
		}
		if monotonicNow() > deadline {
			return 0, fmt.Errorf("echo fall timeout after %s", EchoTimeout)
		}
	}

	pulse := (end - start).Seconds()
	return pulse * SoundSpeedCmPerSec / 2.0, nil
}

// ApplyCommand translates an action into motor direction pin states.
func (h *GpioHardwareIO) ApplyCommand(cmd types.Command) error {
	lf, lr, rf, rr := motorPins(cmd.Action, cmd.Speed)
	return h.setMotors(lf, lr, rf, rr)
}

// motorPins maps an action onto the four direction pins. A negative speed
// inverts the drive direction by swapping the forward and reverse pins on
// each side.
func motorPins(action types.Action, speed int) (lf, lr, rf, rr int) {
	switch action {
	case types.ActionForward:
		lf, rf = 1, 1
	case types.ActionBackward:
		lr, rr = 1, 1
	case types.ActionTurnLeft, types.ActionPivotLeft:
		rf = 1
	case types.ActionTurnRight, types.ActionPivotRight:
		lf = 1
	case types.ActionSpinLeft:
		rf, lr = 1, 1
	case types.ActionSpinRight:
		lf, rr = 1, 1
	case types.ActionStop:
		// all pins low
	}
	if speed < 0 {
		lf, lr = lr, lf
		rf, rr = rr, rf
	}
	return lf, lr, rf, rr
}

func (h *GpioHardwareIO) setMotors(lf, lr, rf, rr int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for name, v := range map[string]int{
		"motor_left_fwd":  lf,
		"motor_left_rev":  lr,
		"motor_right_fwd": rf,
		"motor_right_rev": rr,
	} {
		if err := h.outputs[name].SetValue(v); err != nil {
			return fmt.Errorf("failed to set %s: %w", name, err)
		}
	}
	return nil
}

// monotonicNow reads CLOCK_MONOTONIC directly so echo timing is immune to
// wall clock adjustments.
func monotonicNow() time.Duration {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return time.Duration(time.Now().UnixNano())
	}
	return time.Duration(ts.Sec)*time.Second + time.Duration(ts.Nsec)
}
