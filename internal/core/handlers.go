package core

import (
	"fmt"
	"strconv"
	"time"

	"robot-service/internal/types"
)

// handleControlCommand runs on a Redis listener goroutine; it only enqueues.
func (s *RobotSystem) handleControlCommand(value string) error {
	return s.enqueue(operatorCommand{kind: "control", value: value})
}

func (s *RobotSystem) handleResetCommand(value string) error {
	return s.enqueue(operatorCommand{kind: "reset", value: value})
}

func (s *RobotSystem) enqueue(cmd operatorCommand) error {
	select {
	case s.commands <- cmd:
		return nil
	default:
		s.logger.Warnf("Command queue full, dropping %s:%s", cmd.kind, cmd.value)
		return fmt.Errorf("command queue full")
	}
}

// applyOperatorCommand runs on the tick goroutine.
func (s *RobotSystem) applyOperatorCommand(cmd operatorCommand) {
	s.logger.Infof("Applying operator command %s:%s", cmd.kind, cmd.value)
	switch cmd.kind {
	case "control":
		switch cmd.value {
		case "start":
			s.setMode(types.ModeRunning)
		case "stop":
			s.stopMotion("operator stop")
			s.setMode(types.ModeIdle)
		}
	case "reset":
		s.applyReset(cmd.value)
	}
}

func (s *RobotSystem) applyReset(target string) {
	switch target {
	case "filters":
		s.lineFilter.Reset()
		s.distFilter.Reset()
	case "rotary":
		s.rotaryDet.Reset()
	case "avoidance":
		s.avoidEng.ForceReset()
	case "all":
		s.lineFilter.Reset()
		s.distFilter.Reset()
		s.rotaryDet.Reset()
		s.avoidEng.ForceReset()
		s.fuser.Reset()
	}
	s.logger.Infof("Reset applied: %s", target)
}

// stopMotion halts the motors and aborts any maneuver in flight.
func (s *RobotSystem) stopMotion(reason string) {
	s.avoidEng.ForceReset()
	s.rotaryDet.Reset()
	if err := s.io.ApplyCommand(types.StopCommand("core", reason)); err != nil {
		s.logger.Errorf("Failed to stop motors: %v", err)
	}
}

// loadSettings picks up optional overrides from the robot:settings hash.
func (s *RobotSystem) loadSettings() {
	value, err := s.redis.GetHashField("robot:settings", "tick-interval-ms")
	if err != nil {
		s.logger.Warnf("Failed to read settings: %v", err)
		return
	}
	if value == "" {
		return
	}
	ms, err := strconv.Atoi(value)
	if err != nil || ms <= 0 {
		s.logger.Warnf("Ignoring invalid tick-interval-ms setting: %q", value)
		return
	}
	s.cfg.TickInterval = time.Duration(ms) * time.Millisecond
	s.logger.Infof("Tick interval overridden from settings: %s", s.cfg.TickInterval)
}
