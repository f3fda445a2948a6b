package core

import (
	"context"
	"errors"
	"testing"

	"robot-service/internal/config"
	"robot-service/internal/logger"
	"robot-service/internal/messaging"
	"robot-service/internal/rotary"
	"robot-service/internal/types"
)

// Mock MessagingClient
type mockMessagingClient struct {
	callbacks messaging.Callbacks

	// Track method calls
	publishedModes     []types.Mode
	publishedDecisions []types.Command
	lineStates         []types.FilteredLineReading
	distanceStates     []types.FilteredDistance
	rotaryStates       []string
	avoidanceStates    []struct{ phase, strategy string }
	sensorHealth       map[string]bool
	faultsPresent      []int
	faultsAbsent       []int

	// Return values
	hashFieldValue string
}

func newMockMessagingClient() *mockMessagingClient {
	return &mockMessagingClient{
		sensorHealth: make(map[string]bool),
	}
}

func (m *mockMessagingClient) SetCallbacks(callbacks messaging.Callbacks) { m.callbacks = callbacks }
func (m *mockMessagingClient) Connect() error { return nil }
func (m *mockMessagingClient) StartListening() error { return nil }
func (m *mockMessagingClient) Close() error { return nil }

func (m *mockMessagingClient) PublishMode(mode types.Mode) error {
	m.publishedModes = append(m.publishedModes, mode)
	return nil
}

func (m *mockMessagingClient) PublishDecision(cmd types.Command) error {
	m.publishedDecisions = append(m.publishedDecisions, cmd)
	return nil
}

func (m *mockMessagingClient) SetLineState(line types.FilteredLineReading) error {
	m.lineStates = append(m.lineStates, line)
	return nil
}

func (m *mockMessagingClient) SetDistanceState(dist types.FilteredDistance) error {
	m.distanceStates = append(m.distanceStates, dist)
	return nil
}

func (m *mockMessagingClient) SetRotaryState(state string) error {
	m.rotaryStates = append(m.rotaryStates, state)
	return nil
}

func (m *mockMessagingClient) SetAvoidanceState(phase, strategy string) error {
	m.avoidanceStates = append(m.avoidanceStates, struct{ phase, strategy string }{phase, strategy})
	return nil
}

func (m *mockMessagingClient) SetSensorHealth(sensor string, healthy bool) error {
	m.sensorHealth[sensor] = healthy
	return nil
}

func (m *mockMessagingClient) GetHashField(hash, field string) (string, error) {
	return m.hashFieldValue, nil
}

func (m *mockMessagingClient) ReportFaultPresent(code int, description string, timestamp int64, info string) error {
	m.faultsPresent = append(m.faultsPresent, code)
	return nil
}

func (m *mockMessagingClient) ReportFaultAbsent(code int) error {
	m.faultsAbsent = append(m.faultsAbsent, code)
	return nil
}

// Mock HardwareIO
type mockHardwareIO struct {
	line        [3]bool
	lineErr     error
	distanceCm  float64
	distanceSeq []float64
	distanceErr error
	applied     []types.Command
	initialized bool
	cleaned     bool
}

func newMockHardwareIO() *mockHardwareIO {
	return &mockHardwareIO{distanceCm: 100}
}

func (m *mockHardwareIO) Initialize() error { m.initialized = true; return nil }
func (m *mockHardwareIO) Cleanup() { m.cleaned = true }

func (m *mockHardwareIO) ReadLineTriple() (bool, bool, bool, error) {
	if m.lineErr != nil {
		return false, false, false, m.lineErr
	}
	return m.line[0], m.line[1], m.line[2], nil
}

func (m *mockHardwareIO) MeasureDistance() (float64, error) {
	if m.distanceErr != nil {
		return 0, m.distanceErr
	}
	if len(m.distanceSeq) > 0 {
		v := m.distanceSeq[0]
		m.distanceSeq = m.distanceSeq[1:]
		return v, nil
	}
	return m.distanceCm, nil
}

func (m *mockHardwareIO) ApplyCommand(cmd types.Command) error {
	m.applied = append(m.applied, cmd)
	return nil
}

func (m *mockHardwareIO) lastApplied() types.Command {
	if len(m.applied) == 0 {
		return types.Command{}
	}
	return m.applied[len(m.applied)-1]
}

func (m *mockHardwareIO) setLine(l, c, r bool) { m.line = [3]bool{l, c, r} }

// ===== Test helpers =====

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Line.SampleInterval = 0
	cfg.Distance.SampleInterval = 0
	return cfg
}

func newTestRobotSystem(t *testing.T, cfg config.Config) (*RobotSystem, *mockHardwareIO, *mockMessagingClient) {
	t.Helper()
	io := newMockHardwareIO()
	redis := newMockMessagingClient()
	l := logger.NewLogger(nil, logger.LogLevelNone)

	s, err := NewRobotSystem(cfg, io, redis, l)
	if err != nil {
		t.Fatalf("Failed to build system: %v", err)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	if err := s.rotaryDet.Start(s.ctx); err != nil {
		t.Fatalf("Failed to start rotary detector: %v", err)
	}
	if err := s.avoidEng.Start(s.ctx); err != nil {
		t.Fatalf("Failed to start avoidance engine: %v", err)
	}
	s.mode = types.ModeRunning
	return s, io, redis
}

// ===== Basic line following =====

func TestTickFollowsLineAtFullSpeed(t *testing.T) {
	s, io, _ := newTestRobotSystem(t, testConfig())
	io.setLine(false, true, false)
	io.distanceCm = 80

	s.tick()

	got := io.lastApplied()
	if got.Action != types.ActionForward {
		t.Errorf("Expected forward on a clear centered track, got %s", got.Action)
	}
	if got.Speed != s.cfg.Fusion.FullSpeed {
		t.Errorf("Expected full speed %d, got %d", s.cfg.Fusion.FullSpeed, got.Speed)
	}
	if got.Priority != types.PriorityLow {
		t.Errorf("Expected low priority cruising, got %d", got.Priority)
	}
}

func TestTickSkippedWhenNotRunning(t *testing.T) {
	s, io, _ := newTestRobotSystem(t, testConfig())
	s.mode = types.ModeIdle

	s.tick()

	if len(io.applied) != 0 {
		t.Errorf("Expected no motor commands while idle, got %d", len(io.applied))
	}
}

// ===== Emergency handling =====

func TestCloseObstacleStopsOnFirstTick(t *testing.T) {
	s, io, _ := newTestRobotSystem(t, testConfig())
	io.setLine(false, true, false)
	io.distanceSeq = []float64{9, 8, 9, 9, 8}
	io.distanceCm = 9

	s.tick()

	got := io.lastApplied()
	if got.Action != types.ActionStop {
		t.Errorf("Expected stop with obstacle below emergency threshold, got %s", got.Action)
	}
	if got.Priority != types.PriorityEmergency {
		t.Errorf("Expected emergency priority, got %d", got.Priority)
	}
}

func TestEmergencyOverridesRotaryEpisode(t *testing.T) {
	cfg := testConfig()
	// Filter dynamics are exercised in their own tests; here the distance
	// must be allowed to drop sharply between ticks.
	cfg.Distance.MaxChangeRateCmPerSec = 10000
	cfg.Distance.MovingAverageWindow = 1
	s, io, _ := newTestRobotSystem(t, cfg)
	io.distanceCm = 80

	// Two ticks per side so the line filter accepts the oscillation
	sides := [][3]bool{
		{true, false, false}, {true, false, false},
		{false, false, true}, {false, false, true},
		{true, false, false}, {true, false, false},
		{true, false, false},
	}
	for _, line := range sides {
		io.line = line
		s.tick()
	}
	if s.rotaryDet.State() != rotary.InRotary {
		t.Fatalf("Expected rotary episode in progress, got %s", s.rotaryDet.State())
	}

	io.distanceCm = 9
	s.tick()

	got := io.lastApplied()
	if got.Action != types.ActionStop || got.Priority != types.PriorityEmergency {
		t.Errorf("Expected emergency stop to override rotary, got %s priority=%d", got.Action, got.Priority)
	}
}

// ===== Operator commands =====

func TestOperatorStartStop(t *testing.T) {
	s, io, redis := newTestRobotSystem(t, testConfig())
	s.mode = types.ModeIdle

	if err := s.handleControlCommand("start"); err != nil {
		t.Fatalf("Failed to enqueue start: %v", err)
	}
	s.drainCommands()
	if s.Mode() != types.ModeRunning {
		t.Errorf("Expected running mode after start, got %s", s.Mode())
	}

	if err := s.handleControlCommand("stop"); err != nil {
		t.Fatalf("Failed to enqueue stop: %v", err)
	}
	s.drainCommands()
	if s.Mode() != types.ModeIdle {
		t.Errorf("Expected idle mode after stop, got %s", s.Mode())
	}
	if got := io.lastApplied(); got.Action != types.ActionStop {
		t.Errorf("Expected motors stopped, got %s", got.Action)
	}

	want := []types.Mode{types.ModeRunning, types.ModeIdle}
	if len(redis.publishedModes) != len(want) {
		t.Fatalf("Expected %d mode publications, got %d", len(want), len(redis.publishedModes))
	}
	for i, mode := range want {
		if redis.publishedModes[i] != mode {
			t.Errorf("Mode publication %d: expected %s, got %s", i, mode, redis.publishedModes[i])
		}
	}
}

func TestResetCommandClearsRotaryEpisode(t *testing.T) {
	s, _, _ := newTestRobotSystem(t, testConfig())

	// Drive the detector into an episode directly
	for i := 0; i < 8; i++ {
		pos := types.LineLeft
		if i%2 == 1 {
			pos = types.LineRight
		}
		s.rotaryDet.Update(pos)
	}
	if s.rotaryDet.State() == rotary.Normal {
		t.Fatalf("Expected rotary episode before reset")
	}

	if err := s.handleResetCommand("rotary"); err != nil {
		t.Fatalf("Failed to enqueue reset: %v", err)
	}
	s.drainCommands()

	if s.rotaryDet.State() != rotary.Normal {
		t.Errorf("Expected rotary back to normal after reset, got %s", s.rotaryDet.State())
	}
}

// ===== Fault reporting =====

func TestLineSensorFaultReportedOnceAndCleared(t *testing.T) {
	s, io, redis := newTestRobotSystem(t, testConfig())
	io.distanceCm = 80

	// Two clean ticks, then a flapping center channel that the filter
	// rejects every tick
	io.setLine(false, true, false)
	s.tick()
	io.setLine(false, false, false)
	s.tick()
	io.setLine(false, true, false)
	for i := 0; i < 7; i++ {
		s.tick()
	}

	if len(redis.faultsPresent) != 1 || redis.faultsPresent[0] != FaultLineSensor {
		t.Fatalf("Expected a single line sensor fault, got %v", redis.faultsPresent)
	}
	if redis.sensorHealth["line"] {
		t.Errorf("Expected line sensor marked unhealthy")
	}

	// Stable readings again: reliability recovers, fault clears
	io.setLine(false, false, false)
	for i := 0; i < 6; i++ {
		s.tick()
	}

	if len(redis.faultsAbsent) != 1 || redis.faultsAbsent[0] != FaultLineSensor {
		t.Errorf("Expected line sensor fault cleared, got %v", redis.faultsAbsent)
	}
	if !redis.sensorHealth["line"] {
		t.Errorf("Expected line sensor marked healthy again")
	}
}

func TestDistanceSensorFaultReported(t *testing.T) {
	s, io, redis := newTestRobotSystem(t, testConfig())
	io.setLine(false, true, false)
	io.distanceErr = errors.New("echo timeout")

	for i := 0; i < 12; i++ {
		s.tick()
	}

	found := false
	for _, code := range redis.faultsPresent {
		if code == FaultDistanceSensor {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected distance sensor fault, got %v", redis.faultsPresent)
	}
}

// ===== Telemetry =====

func TestTelemetryPublishing(t *testing.T) {
	s, io, redis := newTestRobotSystem(t, testConfig())
	io.setLine(false, true, false)
	io.distanceCm = 80

	for i := 0; i < 5; i++ {
		s.tick()
	}

	if len(redis.publishedDecisions) == 0 {
		t.Errorf("Expected decision published on change")
	}
	if len(redis.lineStates) != 1 {
		t.Errorf("Expected raw line telemetry once per five ticks, got %d", len(redis.lineStates))
	}
	if len(redis.distanceStates) != 1 {
		t.Errorf("Expected raw distance telemetry once per five ticks, got %d", len(redis.distanceStates))
	}

	// An unchanged decision is not republished
	count := len(redis.publishedDecisions)
	s.tick()
	if len(redis.publishedDecisions) != count {
		t.Errorf("Expected no duplicate decision publications")
	}
}
