package hardware

import (
	"testing"

	"robot-service/internal/logger"
	"robot-service/internal/types"
)

func TestSimHardwareRoundTrip(t *testing.T) {
	s := NewSimHardwareIO(logger.NewLogger(nil, logger.LogLevelNone))
	if err := s.Initialize(); err != nil {
		t.Fatalf("Failed to initialize: %v", err)
	}

	s.SetLine(true, false, false)
	l, c, r, err := s.ReadLineTriple()
	if err != nil {
		t.Fatalf("Failed to read line: %v", err)
	}
	if !l || c || r {
		t.Errorf("Expected left-only reading, got %v %v %v", l, c, r)
	}

	s.SetDistance(42.5, true)
	d, err := s.MeasureDistance()
	if err != nil {
		t.Fatalf("Failed to measure distance: %v", err)
	}
	if d != 42.5 {
		t.Errorf("Expected 42.5cm, got %.1f", d)
	}

	s.SetDistance(0, false)
	if _, err := s.MeasureDistance(); err == nil {
		t.Errorf("Expected error on missing echo")
	}

	cmd := types.Command{Action: types.ActionForward, Speed: 80}
	if err := s.ApplyCommand(cmd); err != nil {
		t.Fatalf("Failed to apply command: %v", err)
	}
	if got := s.LastCommand(); got.Action != types.ActionForward || got.Speed != 80 {
		t.Errorf("Expected recorded command, got %s at %d", got.Action, got.Speed)
	}
}
