package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"robot-service/internal/avoidance"
	"robot-service/internal/config"
	"robot-service/internal/filter"
	"robot-service/internal/fusion"
	"robot-service/internal/logger"
	"robot-service/internal/messaging"
	"robot-service/internal/rotary"
	"robot-service/internal/types"
)

// Fault codes reported to the events:faults stream
const (
	FaultLineSensor     = 101
	FaultDistanceSensor = 102
)

// RobotSystem owns the whole perception and decision pipeline. All sensor
// filtering, rotary classification, avoidance, and fusion happen on the
// single tick goroutine; operator commands arriving from Redis listeners are
// funneled through a channel and applied between ticks.
type RobotSystem struct {
	logger *logger.Logger
	cfg    config.Config
	io     HardwareIO
	redis  MessagingClient

	lineFilter *filter.LineSensorFilter
	distFilter *filter.DistanceFilter
	rotaryDet  *rotary.Detector
	avoidEng   *avoidance.Engine
	fuser      *fusion.Fuser

	mode      types.Mode
	commands  chan operatorCommand
	tickCount uint64

	lineFaultActive bool
	distFaultActive bool
	lastRotary      rotary.State
	lastAvoidPhase  string
	lastDecision    types.Command

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type operatorCommand struct {
	kind  string // "control" or "reset"
	value string
}

func NewRobotSystem(cfg config.Config, io HardwareIO, redis MessagingClient, l *logger.Logger) (*RobotSystem, error) {
	rotaryDet, err := rotary.NewDetector(cfg.Rotary, l)
	if err != nil {
		return nil, fmt.Errorf("failed to build rotary detector: %w", err)
	}
	avoidEng, err := avoidance.NewEngine(cfg.Avoidance, l)
	if err != nil {
		return nil, fmt.Errorf("failed to build avoidance engine: %w", err)
	}

	s := &RobotSystem{
		logger:     l.WithTag("core"),
		cfg:        cfg,
		io:         io,
		redis:      redis,
		lineFilter: filter.NewLineSensorFilter(cfg.Line, l),
		distFilter: filter.NewDistanceFilter(cfg.Distance, l),
		rotaryDet:  rotaryDet,
		avoidEng:   avoidEng,
		fuser:      fusion.New(cfg.Fusion, l),
		mode:       types.ModeInit,
		commands:   make(chan operatorCommand, 8),
		lastRotary: rotary.Normal,
	}

	redis.SetCallbacks(messaging.Callbacks{
		ControlCallback: s.handleControlCommand,
		ResetCallback:   s.handleResetCommand,
	})

	return s, nil
}

func (s *RobotSystem) Start() error {
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if err := s.io.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize hardware: %w", err)
	}

	if err := s.redis.Connect(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if err := s.rotaryDet.Start(s.ctx); err != nil {
		return fmt.Errorf("failed to start rotary detector: %w", err)
	}
	if err := s.avoidEng.Start(s.ctx); err != nil {
		return fmt.Errorf("failed to start avoidance engine: %w", err)
	}

	s.loadSettings()

	if err := s.redis.StartListening(); err != nil {
		return fmt.Errorf("failed to start Redis listeners: %w", err)
	}

	s.setMode(types.ModeIdle)

	s.wg.Add(1)
	go s.run()

	return nil
}

func (s *RobotSystem) Shutdown() {
	s.logger.Infof("Shutting down robot system")
	s.cancel()
	s.wg.Wait()

	if err := s.io.ApplyCommand(types.StopCommand("core", "shutdown")); err != nil {
		s.logger.Warnf("Failed to stop motors on shutdown: %v", err)
	}
	s.io.Cleanup()

	s.setMode(types.ModeStopped)
	if err := s.redis.Close(); err != nil {
		s.logger.Warnf("Failed to close Redis client: %v", err)
	}
}

// Mode returns the current operating mode.
func (s *RobotSystem) Mode() types.Mode {
	return s.mode
}

func (s *RobotSystem) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.logger.Infof("Control loop started, tick=%s", s.cfg.TickInterval)

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Infof("Control loop stopped after %d ticks", s.tickCount)
			return
		case cmd := <-s.commands:
			s.applyOperatorCommand(cmd)
		case <-ticker.C:
			s.drainCommands()
			s.tick()
		}
	}
}

func (s *RobotSystem) drainCommands() {
	for {
		select {
		case cmd := <-s.commands:
			s.applyOperatorCommand(cmd)
		default:
			return
		}
	}
}

// tick runs one full perception and decision cycle.
func (s *RobotSystem) tick() {
	if s.mode != types.ModeRunning {
		return
	}
	s.tickCount++

	line := s.lineFilter.Sample(s.readLine)
	dist := s.distFilter.Sample(s.readDistance)

	pos := line.Position()
	rotDec := s.rotaryDet.Update(pos)
	danger := s.fuser.ClassifyDanger(dist)
	avoidCmd, avoidActive := s.avoidEng.Update(dist, danger, pos)

	cmd := s.fuser.Fuse(line, dist, rotDec, avoidCmd, avoidActive)

	if err := s.io.ApplyCommand(cmd); err != nil {
		s.logger.Errorf("Failed to apply command %s: %v", cmd.Action, err)
	}

	s.publishTelemetry(line, dist, rotDec, cmd)
	s.checkSensorHealth()
}

func (s *RobotSystem) readLine() (bool, bool, bool) {
	l, c, r, err := s.io.ReadLineTriple()
	if err != nil {
		s.logger.Debugf("Line sensor read failed: %v", err)
		return false, false, false
	}
	return l, c, r
}

func (s *RobotSystem) readDistance() (float64, bool) {
	v, err := s.io.MeasureDistance()
	if err != nil {
		s.logger.Debugf("Distance measurement failed: %v", err)
		return 0, false
	}
	return v, true
}

func (s *RobotSystem) publishTelemetry(line types.FilteredLineReading, dist types.FilteredDistance, rotDec rotary.Decision, cmd types.Command) {
	if rotDec.State != s.lastRotary {
		s.lastRotary = rotDec.State
		if err := s.redis.SetRotaryState(string(rotDec.State)); err != nil {
			s.logger.Warnf("Failed to publish rotary state: %v", err)
		}
	}

	phase := s.avoidEng.Phase()
	if phase != s.lastAvoidPhase {
		s.lastAvoidPhase = phase
		if err := s.redis.SetAvoidanceState(phase, string(s.avoidEng.Strategy())); err != nil {
			s.logger.Warnf("Failed to publish avoidance state: %v", err)
		}
	}

	if cmd.Action != s.lastDecision.Action || cmd.Source != s.lastDecision.Source {
		s.lastDecision = cmd
		if err := s.redis.PublishDecision(cmd); err != nil {
			s.logger.Warnf("Failed to publish decision: %v", err)
		}
	}

	// Raw sensor telemetry is throttled; dashboards do not need it at tick rate.
	if s.tickCount%5 == 0 {
		if err := s.redis.SetLineState(line); err != nil {
			s.logger.Warnf("Failed to publish line state: %v", err)
		}
		if err := s.redis.SetDistanceState(dist); err != nil {
			s.logger.Warnf("Failed to publish distance state: %v", err)
		}
	}
}

// checkSensorHealth reports faults on health transitions only.
func (s *RobotSystem) checkSensorHealth() {
	lineHealthy := s.lineFilter.Healthy()
	if !lineHealthy && !s.lineFaultActive {
		s.lineFaultActive = true
		s.redis.SetSensorHealth("line", false)
		if err := s.redis.ReportFaultPresent(FaultLineSensor, "line sensor array degraded",
			time.Now().Unix(), fmt.Sprintf("reliability=%.1f", s.lineFilter.MeanReliability())); err != nil {
			s.logger.Warnf("Failed to report line sensor fault: %v", err)
		}
	} else if lineHealthy && s.lineFaultActive {
		s.lineFaultActive = false
		s.redis.SetSensorHealth("line", true)
		if err := s.redis.ReportFaultAbsent(FaultLineSensor); err != nil {
			s.logger.Warnf("Failed to clear line sensor fault: %v", err)
		}
	}

	distHealthy := s.distFilter.Healthy()
	if !distHealthy && !s.distFaultActive {
		s.distFaultActive = true
		s.redis.SetSensorHealth("distance", false)
		if err := s.redis.ReportFaultPresent(FaultDistanceSensor, "ultrasonic sensor degraded",
			time.Now().Unix(), fmt.Sprintf("reliability=%.1f", s.distFilter.Reliability())); err != nil {
			s.logger.Warnf("Failed to report distance sensor fault: %v", err)
		}
	} else if distHealthy && s.distFaultActive {
		s.distFaultActive = false
		s.redis.SetSensorHealth("distance", true)
		if err := s.redis.ReportFaultAbsent(FaultDistanceSensor); err != nil {
			s.logger.Warnf("Failed to clear distance sensor fault: %v", err)
		}
	}
}

func (s *RobotSystem) setMode(mode types.Mode) {
	if s.mode == mode {
		return
	}
	s.logger.Infof("Mode change: %s -> %s", s.mode, mode)
	s.mode = mode
	if err := s.redis.PublishMode(mode); err != nil {
		s.logger.Warnf("Failed to publish mode: %v", err)
	}
}
