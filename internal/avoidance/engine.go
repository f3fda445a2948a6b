package avoidance

import (
	"context"
	"fmt"
	"time"

	"github.com/librescoot/librefsm"

	"robot-service/internal/config"
	"robot-service/internal/filter"
	"robot-service/internal/logger"
	"robot-service/internal/types"
)

// Ensure Engine implements Actions
var _ Actions = (*Engine)(nil)

// Strategy names the maneuver selected for the current obstacle.
type Strategy string

const (
	StrategyNone          Strategy = "none"
	StrategySimpleTurn    Strategy = "simple-right-turn"
	StrategySmartSide     Strategy = "smart-side-selection"
	StrategyWallFollowing Strategy = "wall-following"
	StrategyReverseRetry  Strategy = "reverse-and-retry"
	StrategyEmergencyStop Strategy = "emergency-stop"
)

type dangerTrend int

const (
	trendStable dangerTrend = iota
	trendWorsening
	trendImproving
)

// stage is one timed step of a maneuver.
type stage struct {
	action types.Action
	speed  int
	dur    time.Duration
	reason string
}

// Engine runs reactive obstacle maneuvers as a small phase machine:
// monitoring -> planning -> avoiding -> returning -> completed. It is
// advanced once per control tick; while a maneuver is active its commands
// take precedence over line following.
type Engine struct {
	cfg     config.AvoidanceConfig
	log     *logger.Logger
	machine *librefsm.Machine

	history *filter.Ring[types.DangerLevel]

	strategy     Strategy
	avoidStages  []stage
	returnStages []stage
	stageIdx     int
	stageStart   time.Time
	phaseStart   time.Time
	wallSteps    int
	passLeft     bool

	lastLine     types.LinePosition
	lastDistance types.FilteredDistance

	now func() time.Time
}

func NewEngine(cfg config.AvoidanceConfig, log *logger.Logger) (*Engine, error) {
	e := &Engine{
		cfg:      cfg,
		log:      log.WithTag("avoidance"),
		history:  filter.NewRing[types.DangerLevel](cfg.DangerHistorySize),
		strategy: StrategyNone,
		now:      time.Now,
	}
	machine, err := NewDefinition(e).Build()
	if err != nil {
		return nil, err
	}
	e.machine = machine
	return e, nil
}

// Start initializes the phase machine.
func (e *Engine) Start(ctx context.Context) error {
	return e.machine.Start(ctx)
}

// Active reports whether a maneuver is in progress.
func (e *Engine) Active() bool {
	return e.machine.CurrentState() != StateMonitoring
}

// Phase returns the current phase name for telemetry.
func (e *Engine) Phase() string {
	return string(e.machine.CurrentState())
}

// Strategy returns the maneuver selected for the current obstacle.
func (e *Engine) Strategy() Strategy {
	return e.strategy
}

// Update advances the engine by one tick. The returned command is only
// meaningful when active is true, except for the single resume command
// emitted when a maneuver completes.
func (e *Engine) Update(dist types.FilteredDistance, danger types.DangerLevel, line types.LinePosition) (cmd types.Command, active bool) {
	e.history.Push(danger)
	e.lastLine = line
	e.lastDistance = dist

	switch e.machine.CurrentState() {
	case StateMonitoring:
		return e.tickMonitoring(dist, danger)
	case StatePlanning:
		return e.tickPlanning(dist, danger, line)
	case StateAvoiding:
		return e.tickAvoiding(dist, line)
	case StateReturning:
		return e.tickReturning()
	case StateCompleted:
		e.send(EvCycleFinished)
		return types.Command{
			Action:     types.ActionForward,
			Speed:      e.cfg.ResumeSpeed,
			Priority:   types.PriorityNormal,
			Confidence: 0.6,
			Source:     "avoidance",
			Reason:     "obstacle cleared, resuming line follow",
			Timestamp:  e.now(),
		}, false
	}
	return types.Command{}, false
}

// ForceReset aborts any maneuver immediately. Operator command; also used
// when the system stops.
func (e *Engine) ForceReset() {
	if e.Active() {
		e.send(EvForceReset)
	}
	e.strategy = StrategyNone
	e.avoidStages = nil
	e.returnStages = nil
	e.stageIdx = 0
	e.wallSteps = 0
	e.history.Clear()
	e.log.Infof("Avoidance engine reset")
}

func (e *Engine) tickMonitoring(dist types.FilteredDistance, danger types.DangerLevel) (types.Command, bool) {
	if e.isEmergency(dist, danger) {
		// No planning pause for an emergency: stop on this very tick.
		e.strategy = StrategyEmergencyStop
		e.send(EvObstacleDetected)
		e.send(EvManeuverDone)
		reason := "emergency stop: obstacle critically close"
		if dist.Valid {
			reason = fmt.Sprintf("emergency stop: obstacle at %.1fcm", dist.DistanceCm)
		}
		e.log.Warnf("%s", reason)
		return types.StopCommand("avoidance", reason), true
	}
	if danger >= types.DangerDangerous {
		e.send(EvObstacleDetected)
		return types.StopCommand("avoidance", "obstacle detected, assessing"), true
	}
	return types.Command{}, false
}

func (e *Engine) tickPlanning(dist types.FilteredDistance, danger types.DangerLevel, line types.LinePosition) (types.Command, bool) {
	if e.isEmergency(dist, danger) {
		e.strategy = StrategyEmergencyStop
		e.send(EvManeuverDone)
		return types.StopCommand("avoidance", "emergency stop during planning"), true
	}
	if e.now().Sub(e.phaseStart) < e.cfg.DetectPause {
		return types.StopCommand("avoidance", "holding position, confirming obstacle"), true
	}

	// Obstacle gone during the pause: abandon the maneuver.
	if danger < types.DangerDangerous {
		e.send(EvForceReset)
		e.strategy = StrategyNone
		return types.Command{}, false
	}

	e.strategy = e.selectStrategy(dist, line)
	e.buildStages(line)
	e.log.Infof("Obstacle confirmed, strategy=%s", e.strategy)
	e.send(EvPlanReady)
	e.stageIdx = 0
	e.stageStart = e.now()
	e.wallSteps = 0
	if e.strategy == StrategyWallFollowing {
		return types.Command{
			Action:     types.ActionTurnRight,
			Speed:      50,
			Priority:   types.PriorityHigh,
			Confidence: 0.7,
			Source:     "avoidance",
			Reason:     "wall following, turning alongside obstacle",
			Timestamp:  e.now(),
		}, true
	}
	return e.currentStageCommand(e.avoidStages), true
}

func (e *Engine) tickAvoiding(dist types.FilteredDistance, line types.LinePosition) (types.Command, bool) {
	if e.strategy == StrategyWallFollowing {
		return e.tickWallFollowing(dist, line)
	}
	if done := e.advanceStages(e.avoidStages); done {
		e.send(EvManeuverDone)
		e.stageIdx = 0
		e.stageStart = e.now()
		return e.currentStageCommand(e.returnStages), true
	}
	return e.currentStageCommand(e.avoidStages), true
}

func (e *Engine) tickReturning() (types.Command, bool) {
	if done := e.advanceStages(e.returnStages); done {
		e.send(EvReturned)
		return types.StopCommand("avoidance", "maneuver finished"), true
	}
	return e.currentStageCommand(e.returnStages), true
}

// tickWallFollowing holds the obstacle at the side within the configured
// distance band until the line is reacquired or the step budget runs out.
func (e *Engine) tickWallFollowing(dist types.FilteredDistance, line types.LinePosition) (types.Command, bool) {
	if line == types.LineCenter || e.wallSteps >= e.cfg.WallMaxSteps {
		e.send(EvManeuverDone)
		e.stageIdx = 0
		e.stageStart = e.now()
		return e.currentStageCommand(e.returnStages), true
	}
	if e.now().Sub(e.stageStart) >= e.cfg.WallTurnDuration {
		e.wallSteps++
		e.stageStart = e.now()
	}

	cmd := types.Command{
		Priority:   types.PriorityHigh,
		Confidence: 0.7,
		Source:     "avoidance",
		Timestamp:  e.now(),
	}
	near := e.cfg.WallTargetCm - 5
	far := e.cfg.WallTargetCm + 10
	switch {
	case !dist.Valid:
		cmd.Action, cmd.Speed = types.ActionForward, 40
		cmd.Reason = "wall following, no distance reading, creeping straight"
	case dist.DistanceCm < near:
		cmd.Action, cmd.Speed = types.ActionTurnLeft, 55
		cmd.Reason = fmt.Sprintf("wall following, too close (%.1fcm), steering away", dist.DistanceCm)
	case dist.DistanceCm > far:
		cmd.Action, cmd.Speed = types.ActionTurnRight, 55
		cmd.Reason = fmt.Sprintf("wall following, drifting off (%.1fcm), steering in", dist.DistanceCm)
	default:
		cmd.Action, cmd.Speed = types.ActionForward, 65
		cmd.Reason = "wall following, holding distance band"
	}
	return cmd, true
}

// advanceStages moves past expired stages; returns true when the table is
// exhausted.
func (e *Engine) advanceStages(stages []stage) bool {
	for e.stageIdx < len(stages) && e.now().Sub(e.stageStart) >= stages[e.stageIdx].dur {
		e.stageStart = e.stageStart.Add(stages[e.stageIdx].dur)
		e.stageIdx++
	}
	return e.stageIdx >= len(stages)
}

func (e *Engine) currentStageCommand(stages []stage) types.Command {
	if e.stageIdx >= len(stages) {
		return types.StopCommand("avoidance", "maneuver finished")
	}
	s := stages[e.stageIdx]
	return types.Command{
		Action:     s.action,
		Speed:      s.speed,
		Priority:   types.PriorityHigh,
		Confidence: 0.8,
		Source:     "avoidance",
		Reason:     s.reason,
		Timestamp:  e.now(),
	}
}

func (e *Engine) isEmergency(dist types.FilteredDistance, danger types.DangerLevel) bool {
	if danger >= types.DangerVeryDangerous {
		return true
	}
	return dist.Valid && dist.DistanceCm < e.cfg.EmergencyDistanceCm
}

// selectStrategy picks the maneuver from danger persistence, trend, and line
// state. Quick transients get the cheap fixed turn; persistent obstacles get
// progressively more involved maneuvers.
func (e *Engine) selectStrategy(dist types.FilteredDistance, line types.LinePosition) Strategy {
	persistent := e.persistentDanger()
	switch {
	case persistent && e.trend() == trendWorsening:
		return StrategyReverseRetry
	case persistent && (line == types.LineLost || line == types.LineMultiple):
		return StrategyWallFollowing
	case persistent:
		return StrategySmartSide
	default:
		return StrategySimpleTurn
	}
}

// persistentDanger reports whether enough of the recent history was at least
// dangerous.
func (e *Engine) persistentDanger() bool {
	recent := e.history.Last(e.cfg.PersistenceWindow)
	count := 0
	for _, d := range recent {
		if d >= types.DangerDangerous {
			count++
		}
	}
	return count >= e.cfg.PersistenceCount
}

// trend compares the older and newer halves of the recent danger history.
func (e *Engine) trend() dangerTrend {
	recent := e.history.Last(e.cfg.PersistenceWindow)
	if len(recent) < 4 {
		return trendStable
	}
	half := len(recent) / 2
	older, newer := 0.0, 0.0
	for _, d := range recent[:half] {
		older += float64(d)
	}
	for _, d := range recent[len(recent)-half:] {
		newer += float64(d)
	}
	older /= float64(half)
	newer /= float64(half)
	switch {
	case newer > older+0.2:
		return trendWorsening
	case newer < older-0.2:
		return trendImproving
	default:
		return trendStable
	}
}

func (e *Engine) buildStages(line types.LinePosition) {
	c := e.cfg
	switch e.strategy {
	case StrategySimpleTurn:
		e.avoidStages = []stage{
			{types.ActionTurnRight, 60, c.SimpleTurnDuration, "simple avoid: turning off the line"},
			{types.ActionForward, 70, c.SimplePassDuration, "simple avoid: passing obstacle"},
			{types.ActionTurnLeft, 60, c.SimpleAlignDuration, "simple avoid: turning back"},
		}
		e.returnStages = []stage{
			{types.ActionForward, 60, c.SimpleReturnDuration, "simple avoid: rejoining the line"},
		}
	case StrategySmartSide:
		// Pass on the side away from where the line last was.
		e.passLeft = line == types.LineRight
		turn, back := types.ActionTurnRight, types.ActionTurnLeft
		pivot := types.ActionPivotRight
		side := "right"
		if e.passLeft {
			turn, back = types.ActionTurnLeft, types.ActionTurnRight
			pivot = types.ActionPivotLeft
			side = "left"
		}
		e.avoidStages = []stage{
			{types.ActionStop, 0, c.ScanDuration, "smart avoid: scanning"},
			{pivot, 50, c.CommitDuration, "smart avoid: committing to " + side + " side"},
			{turn, 60, c.ScanSwingDuration, "smart avoid: swinging " + side},
			{types.ActionForward, 70, c.SmartPassDuration, "smart avoid: passing on the " + side},
			{back, 60, c.SmartAlignDuration, "smart avoid: realigning"},
		}
		e.returnStages = []stage{
			{types.ActionForward, 60, c.SmartReturnDuration, "smart avoid: rejoining the line"},
		}
	case StrategyWallFollowing:
		// Adaptive phase; tickWallFollowing drives it. Only the return leg
		// is a fixed table.
		e.avoidStages = nil
		e.returnStages = []stage{
			{types.ActionTurnLeft, 60, c.SimpleAlignDuration, "wall following: turning back to the line"},
			{types.ActionForward, 60, c.SimpleReturnDuration, "wall following: rejoining the line"},
		}
	case StrategyReverseRetry:
		e.avoidStages = []stage{
			{types.ActionBackward, 50, c.ReverseDuration, "reverse retry: backing away"},
			{types.ActionTurnRight, 60, c.RetryTurnDuration, "reverse retry: trying the right side"},
			{types.ActionForward, 60, c.ProbeDuration, "reverse retry: probing right"},
			{types.ActionBackward, 50, c.SecondReverse, "reverse retry: backing away again"},
			{types.ActionTurnLeft, 60, c.CrossTurnDuration, "reverse retry: crossing to the left side"},
			{types.ActionForward, 60, c.ProbeDuration, "reverse retry: probing left"},
		}
		e.returnStages = []stage{
			{types.ActionForward, 60, c.RetryReturnDuration, "reverse retry: rejoining the line"},
		}
	default:
		e.avoidStages = nil
		e.returnStages = nil
	}
}

func (e *Engine) send(ev librefsm.EventID) {
	if err := e.machine.SendSync(librefsm.Event{ID: ev}); err != nil {
		e.log.Errorf("Failed to send %s: %v", ev, err)
	}
}

// === State Entry/Exit Actions ===

func (e *Engine) EnterMonitoring(c *librefsm.Context) error {
	e.log.Debugf("FSM: EnterMonitoring")
	return nil
}

func (e *Engine) EnterPlanning(c *librefsm.Context) error {
	e.phaseStart = e.now()
	e.log.Infof("Obstacle detected, planning maneuver")
	return nil
}

func (e *Engine) EnterAvoiding(c *librefsm.Context) error {
	if e.strategy == StrategySmartSide {
		side := "right"
		if e.passLeft {
			side = "left"
		}
		e.log.Infof("Executing maneuver strategy=%s side=%s", e.strategy, side)
		return nil
	}
	e.log.Infof("Executing maneuver strategy=%s", e.strategy)
	return nil
}

func (e *Engine) EnterReturning(c *librefsm.Context) error {
	e.log.Infof("Maneuver done, returning to the line")
	return nil
}

func (e *Engine) EnterCompleted(c *librefsm.Context) error {
	e.log.Infof("Avoidance cycle complete (strategy=%s)", e.strategy)
	return nil
}

func (e *Engine) ExitManeuver(c *librefsm.Context) error {
	e.log.Debugf("FSM: leaving maneuver states")
	return nil
}
