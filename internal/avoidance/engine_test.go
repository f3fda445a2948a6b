package avoidance

import (
	"context"
	"testing"
	"time"

	"robot-service/internal/config"
	"robot-service/internal/logger"
	"robot-service/internal/types"
)

type testClock struct {
	t time.Time
}

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestEngine(t *testing.T, cfg config.AvoidanceConfig) (*Engine, *testClock) {
	t.Helper()
	e, err := NewEngine(cfg, logger.NewLogger(nil, logger.LogLevelNone))
	if err != nil {
		t.Fatalf("Failed to build engine: %v", err)
	}
	clock := &testClock{t: time.Unix(1000, 0)}
	e.now = clock.now
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start engine: %v", err)
	}
	return e, clock
}

func validDistance(cm float64) types.FilteredDistance {
	return types.FilteredDistance{DistanceCm: cm, Valid: true, Working: true}
}

// ===== Emergency =====

func TestEmergencyStopsOnSameTick(t *testing.T) {
	e, _ := newTestEngine(t, config.DefaultAvoidance())

	cmd, active := e.Update(validDistance(5), types.DangerVeryDangerous, types.LineCenter)

	if !active {
		t.Fatalf("Expected active maneuver")
	}
	if cmd.Action != types.ActionStop || cmd.Priority != types.PriorityEmergency {
		t.Errorf("Expected emergency stop, got %s priority=%d", cmd.Action, cmd.Priority)
	}
	if e.Strategy() != StrategyEmergencyStop {
		t.Errorf("Expected emergency strategy, got %s", e.Strategy())
	}
	if e.Phase() != string(StateCompleted) {
		t.Errorf("Expected completed phase, got %s", e.Phase())
	}

	// Obstacle gone: one resume command, then back to monitoring
	cmd, active = e.Update(validDistance(100), types.DangerSafe, types.LineCenter)
	if active {
		t.Errorf("Expected maneuver finished")
	}
	if cmd.Action != types.ActionForward {
		t.Errorf("Expected resume command, got %s", cmd.Action)
	}
	if e.Active() {
		t.Errorf("Expected engine back in monitoring")
	}
}

// ===== Simple right turn walk =====

func TestSimpleTurnWalksAllStages(t *testing.T) {
	cfg := config.DefaultAvoidance()
	cfg.DetectPause = 0
	e, clock := newTestEngine(t, cfg)

	// A single dangerous tick is not persistent: cheapest maneuver wins
	cmd, active := e.Update(validDistance(15), types.DangerDangerous, types.LineCenter)
	if !active || cmd.Action != types.ActionStop {
		t.Fatalf("Expected detection stop, got %s active=%v", cmd.Action, active)
	}

	cmd, _ = e.Update(validDistance(15), types.DangerDangerous, types.LineCenter)
	if e.Strategy() != StrategySimpleTurn {
		t.Fatalf("Expected simple turn strategy, got %s", e.Strategy())
	}
	if cmd.Action != types.ActionTurnRight || cmd.Speed != 60 {
		t.Errorf("Expected first stage turn right at 60, got %s at %d", cmd.Action, cmd.Speed)
	}

	clock.advance(cfg.SimpleTurnDuration)
	cmd, _ = e.Update(validDistance(15), types.DangerDangerous, types.LineCenter)
	if cmd.Action != types.ActionForward || cmd.Speed != 70 {
		t.Errorf("Expected pass stage forward at 70, got %s at %d", cmd.Action, cmd.Speed)
	}

	clock.advance(cfg.SimplePassDuration)
	cmd, _ = e.Update(validDistance(50), types.DangerSafe, types.LineLost)
	if cmd.Action != types.ActionTurnLeft || cmd.Speed != 60 {
		t.Errorf("Expected align stage turn left at 60, got %s at %d", cmd.Action, cmd.Speed)
	}

	clock.advance(cfg.SimpleAlignDuration)
	cmd, _ = e.Update(validDistance(50), types.DangerSafe, types.LineLost)
	if e.Phase() != string(StateReturning) {
		t.Errorf("Expected returning phase, got %s", e.Phase())
	}
	if cmd.Action != types.ActionForward || cmd.Speed != 60 {
		t.Errorf("Expected return stage forward at 60, got %s at %d", cmd.Action, cmd.Speed)
	}

	clock.advance(cfg.SimpleReturnDuration)
	_, active = e.Update(validDistance(50), types.DangerSafe, types.LineCenter)
	if !active || e.Phase() != string(StateCompleted) {
		t.Errorf("Expected completed phase, got %s active=%v", e.Phase(), active)
	}

	cmd, active = e.Update(validDistance(50), types.DangerSafe, types.LineCenter)
	if active {
		t.Errorf("Expected cycle finished")
	}
	if cmd.Action != types.ActionForward || cmd.Speed != cfg.ResumeSpeed {
		t.Errorf("Expected resume at %d, got %s at %d", cfg.ResumeSpeed, cmd.Action, cmd.Speed)
	}
}

// ===== Planning =====

func TestObstacleGoneDuringPauseAbandonsManeuver(t *testing.T) {
	cfg := config.DefaultAvoidance()
	e, clock := newTestEngine(t, cfg)

	e.Update(validDistance(15), types.DangerDangerous, types.LineCenter)
	if !e.Active() {
		t.Fatalf("Expected planning to start")
	}

	clock.advance(cfg.DetectPause + 10*time.Millisecond)
	_, active := e.Update(validDistance(100), types.DangerSafe, types.LineCenter)

	if active || e.Active() {
		t.Errorf("Expected maneuver abandoned when the obstacle cleared")
	}
}

// ===== Strategy selection =====

func TestStrategySelection(t *testing.T) {
	cases := []struct {
		name    string
		history []types.DangerLevel
		line    types.LinePosition
		want    Strategy
	}{
		{
			name:    "transient obstacle gets the cheap turn",
			history: []types.DangerLevel{types.DangerSafe, types.DangerSafe, types.DangerSafe, types.DangerSafe, types.DangerDangerous},
			line:    types.LineCenter,
			want:    StrategySimpleTurn,
		},
		{
			name:    "persistent stable obstacle gets side selection",
			history: []types.DangerLevel{types.DangerDangerous, types.DangerDangerous, types.DangerDangerous, types.DangerDangerous, types.DangerDangerous},
			line:    types.LineCenter,
			want:    StrategySmartSide,
		},
		{
			name:    "persistent obstacle with lost line gets wall following",
			history: []types.DangerLevel{types.DangerDangerous, types.DangerDangerous, types.DangerDangerous, types.DangerDangerous, types.DangerDangerous},
			line:    types.LineLost,
			want:    StrategyWallFollowing,
		},
		{
			name:    "worsening persistent obstacle reverses",
			history: []types.DangerLevel{types.DangerCaution, types.DangerDangerous, types.DangerDangerous, types.DangerDangerous, types.DangerVeryDangerous},
			line:    types.LineCenter,
			want:    StrategyReverseRetry,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e, _ := newTestEngine(t, config.DefaultAvoidance())
			for _, d := range tc.history {
				e.history.Push(d)
			}
			got := e.selectStrategy(validDistance(15), tc.line)
			if got != tc.want {
				t.Errorf("Expected %s, got %s", tc.want, got)
			}
		})
	}
}

// ===== Wall following =====

func TestWallFollowingSteersWithinBand(t *testing.T) {
	cfg := config.DefaultAvoidance()
	cfg.DetectPause = 0
	e, clock := newTestEngine(t, cfg)

	// Persistent danger with a lost line selects wall following
	for i := 0; i < 4; i++ {
		e.history.Push(types.DangerDangerous)
	}
	e.Update(validDistance(15), types.DangerDangerous, types.LineLost)
	e.Update(validDistance(15), types.DangerDangerous, types.LineLost)
	if e.Strategy() != StrategyWallFollowing {
		t.Fatalf("Expected wall following, got %s", e.Strategy())
	}

	cmd, _ := e.Update(validDistance(15), types.DangerDangerous, types.LineLost)
	if cmd.Action != types.ActionTurnLeft {
		t.Errorf("Expected steer away when too close, got %s", cmd.Action)
	}

	cmd, _ = e.Update(validDistance(25), types.DangerCaution, types.LineLost)
	if cmd.Action != types.ActionForward {
		t.Errorf("Expected forward inside the band, got %s", cmd.Action)
	}

	cmd, _ = e.Update(validDistance(50), types.DangerSafe, types.LineLost)
	if cmd.Action != types.ActionTurnRight {
		t.Errorf("Expected steer in when drifting off, got %s", cmd.Action)
	}

	// Reacquiring the line ends the wall phase
	clock.advance(100 * time.Millisecond)
	e.Update(validDistance(50), types.DangerSafe, types.LineCenter)
	if e.Phase() != string(StateReturning) {
		t.Errorf("Expected returning phase after line reacquired, got %s", e.Phase())
	}
}

func TestWallFollowingStartsWithTurnCommand(t *testing.T) {
	cfg := config.DefaultAvoidance()
	cfg.DetectPause = 0
	e, _ := newTestEngine(t, cfg)

	for i := 0; i < 4; i++ {
		e.history.Push(types.DangerDangerous)
	}
	e.Update(validDistance(15), types.DangerDangerous, types.LineLost)

	// The planning tick that commits to wall following already steers
	// alongside the obstacle instead of idling on a stop.
	cmd, active := e.Update(validDistance(15), types.DangerDangerous, types.LineLost)
	if e.Strategy() != StrategyWallFollowing {
		t.Fatalf("Expected wall following, got %s", e.Strategy())
	}
	if !active || cmd.Action != types.ActionTurnRight || cmd.Speed != 50 {
		t.Errorf("Expected entry turn, got %s speed=%d reason=%q", cmd.Action, cmd.Speed, cmd.Reason)
	}
}

func TestWallFollowingCreepsWithoutReading(t *testing.T) {
	cfg := config.DefaultAvoidance()
	cfg.DetectPause = 0
	e, _ := newTestEngine(t, cfg)

	for i := 0; i < 4; i++ {
		e.history.Push(types.DangerDangerous)
	}
	e.Update(validDistance(15), types.DangerDangerous, types.LineLost)
	e.Update(validDistance(15), types.DangerDangerous, types.LineLost)
	if e.Strategy() != StrategyWallFollowing {
		t.Fatalf("Expected wall following, got %s", e.Strategy())
	}

	// A lost echo must not be steered on like a wide-open band
	cmd, active := e.Update(types.FilteredDistance{Valid: false}, types.DangerUnknown, types.LineLost)
	if !active || cmd.Action != types.ActionForward || cmd.Speed != 40 {
		t.Errorf("Expected slow straight creep without a reading, got %s speed=%d", cmd.Action, cmd.Speed)
	}
}

// ===== Reverse and retry walk =====

func TestReverseRetryTriesBothSides(t *testing.T) {
	cfg := config.DefaultAvoidance()
	cfg.DetectPause = 0
	e, clock := newTestEngine(t, cfg)

	// Worsening persistent danger selects reverse-and-retry
	e.history.Push(types.DangerSafe)
	e.history.Push(types.DangerCaution)
	e.history.Push(types.DangerDangerous)
	e.Update(validDistance(15), types.DangerDangerous, types.LineCenter)

	cmd, _ := e.Update(validDistance(15), types.DangerDangerous, types.LineCenter)
	if e.Strategy() != StrategyReverseRetry {
		t.Fatalf("Expected reverse retry, got %s", e.Strategy())
	}
	if cmd.Action != types.ActionBackward {
		t.Fatalf("Expected initial reverse, got %s", cmd.Action)
	}

	// Both sides get their own forward pass: right after the first turn,
	// left again after crossing over.
	steps := []struct {
		adv  time.Duration
		want types.Action
	}{
		{cfg.ReverseDuration, types.ActionTurnRight},
		{cfg.RetryTurnDuration, types.ActionForward},
		{cfg.ProbeDuration, types.ActionBackward},
		{cfg.SecondReverse, types.ActionTurnLeft},
		{cfg.CrossTurnDuration, types.ActionForward},
	}
	for i, step := range steps {
		clock.advance(step.adv)
		cmd, _ = e.Update(validDistance(15), types.DangerDangerous, types.LineCenter)
		if cmd.Action != step.want {
			t.Fatalf("Step %d: expected %s, got %s (%s)", i, step.want, cmd.Action, cmd.Reason)
		}
	}
	if e.Phase() != string(StateAvoiding) {
		t.Errorf("Expected the left-side pass to still be part of the maneuver, got %s", e.Phase())
	}

	clock.advance(cfg.ProbeDuration)
	cmd, _ = e.Update(validDistance(50), types.DangerSafe, types.LineCenter)
	if e.Phase() != string(StateReturning) || cmd.Action != types.ActionForward {
		t.Errorf("Expected return leg after both sides were tried, got phase=%s action=%s", e.Phase(), cmd.Action)
	}
}

// ===== Reset =====

func TestForceResetIsIdempotent(t *testing.T) {
	e, _ := newTestEngine(t, config.DefaultAvoidance())

	e.Update(validDistance(15), types.DangerDangerous, types.LineCenter)
	if !e.Active() {
		t.Fatalf("Expected active maneuver before reset")
	}

	e.ForceReset()
	if e.Active() || e.Strategy() != StrategyNone {
		t.Errorf("Expected idle engine after reset")
	}

	e.ForceReset()
	if e.Active() || e.Strategy() != StrategyNone {
		t.Errorf("Expected second reset to change nothing")
	}

	// Engine still works after reset
	cmd, active := e.Update(validDistance(5), types.DangerVeryDangerous, types.LineCenter)
	if !active || cmd.Priority != types.PriorityEmergency {
		t.Errorf("Expected emergency handling after reset")
	}
}
