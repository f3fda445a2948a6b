package fusion

import (
	"fmt"
	"time"

	"robot-service/internal/config"
	"robot-service/internal/logger"
	"robot-service/internal/rotary"
	"robot-service/internal/types"
)

// Fuser merges filtered sensor readings, the rotary classification, and
// any active avoidance maneuver into a single motor command per tick.
// Priority order is fixed: emergency distance, avoidance, rotary, line
// following.
type Fuser struct {
	cfg config.FusionConfig
	log *logger.Logger

	// last unambiguous side, used to pick the search direction when the
	// line is lost
	lastDirection types.LinePosition

	now func() time.Time
}

func New(cfg config.FusionConfig, log *logger.Logger) *Fuser {
	return &Fuser{
		cfg: cfg,
		log: log.WithTag("fusion"),
		now: time.Now,
	}
}

// ClassifyDanger maps a filtered distance onto the danger scale.
func (f *Fuser) ClassifyDanger(dist types.FilteredDistance) types.DangerLevel {
	if !dist.Valid {
		return types.DangerUnknown
	}
	switch {
	case dist.DistanceCm <= f.cfg.EmergencyDistanceCm:
		return types.DangerVeryDangerous
	case dist.DistanceCm <= f.cfg.ObstacleDistanceCm:
		return types.DangerDangerous
	case dist.DistanceCm <= f.cfg.CautionDistanceCm:
		return types.DangerCaution
	default:
		return types.DangerSafe
	}
}

// Fuse produces the motor command for this tick.
func (f *Fuser) Fuse(line types.FilteredLineReading, dist types.FilteredDistance, rot rotary.Decision, avoid types.Command, avoidActive bool) types.Command {
	// Hard floor: a verified close obstacle stops the robot no matter what
	// the higher layers want.
	if dist.Valid && dist.DistanceCm <= f.cfg.EmergencyDistanceCm {
		return types.StopCommand("fusion",
			fmt.Sprintf("obstacle at %.1fcm, at or below emergency threshold", dist.DistanceCm))
	}

	if avoidActive {
		return avoid
	}

	if rot.State != rotary.Normal {
		return types.Command{
			Action:     rot.Action,
			Speed:      f.scaleForDistance(rot.Speed, dist),
			Priority:   types.PriorityNormal,
			Confidence: rot.Confidence,
			Source:     "rotary",
			Reason:     rot.Reason,
			Timestamp:  f.now(),
		}
	}

	return f.followLine(line, dist)
}

// Reset clears remembered direction state. Operator command.
func (f *Fuser) Reset() {
	f.lastDirection = types.LineLost
}

func (f *Fuser) followLine(line types.FilteredLineReading, dist types.FilteredDistance) types.Command {
	cmd := types.Command{
		Confidence: line.Confidence,
		Source:     "line-follow",
		Timestamp:  f.now(),
	}

	switch pos := line.Position(); pos {
	case types.LineCenter:
		cmd.Action = types.ActionForward
		cmd.Speed = f.cfg.FullSpeed
		cmd.Priority = types.PriorityLow
		cmd.Reason = "centered on line"
	case types.LineLeft:
		f.lastDirection = pos
		cmd.Action = types.ActionPivotRight
		cmd.Speed = f.cfg.CorrectiveSpeed
		cmd.Priority = types.PriorityNormal
		cmd.Reason = "line under left sensor, pivoting right"
	case types.LineRight:
		f.lastDirection = pos
		cmd.Action = types.ActionPivotLeft
		cmd.Speed = f.cfg.CorrectiveSpeed
		cmd.Priority = types.PriorityNormal
		cmd.Reason = "line under right sensor, pivoting left"
	case types.LineMultiple:
		cmd.Action = types.ActionForward
		cmd.Speed = f.cfg.MultipleSpeed
		cmd.Priority = types.PriorityNormal
		cmd.Reason = "wide line or junction, continuing straight"
	default:
		cmd.Priority = types.PriorityNormal
		cmd.Speed = f.cfg.SearchSpeed
		switch f.lastDirection {
		case types.LineLeft:
			cmd.Action = types.ActionSpinLeft
			cmd.Reason = "line lost, searching toward last known left"
		case types.LineRight:
			cmd.Action = types.ActionSpinRight
			cmd.Reason = "line lost, searching toward last known right"
		default:
			cmd.Action = types.ActionBackward
			cmd.Reason = "line lost with no history, backing up"
		}
	}

	cmd.Speed = f.scaleForDistance(cmd.Speed, dist)
	return cmd
}

// scaleForDistance slows the robot as a valid obstacle reading approaches.
func (f *Fuser) scaleForDistance(speed int, dist types.FilteredDistance) int {
	if !dist.Valid {
		return speed
	}
	switch {
	case dist.DistanceCm < f.cfg.CautionDistanceCm:
		return int(float64(speed) * f.cfg.CautionSpeedFactor)
	case dist.DistanceCm < f.cfg.SlowDistanceCm:
		return int(float64(speed) * f.cfg.SlowSpeedFactor)
	default:
		return speed
	}
}
