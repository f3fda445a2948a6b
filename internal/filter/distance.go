package filter

import (
	"math"
	"time"

	"robot-service/internal/config"
	"robot-service/internal/logger"
	"robot-service/internal/types"
)

// DistanceReadFn performs one timed ultrasonic measurement. ok=false means
// the echo timed out or was out of range.
type DistanceReadFn func() (float64, bool)

// DistanceFilter turns bursts of raw pulse-derived distances into one
// outlier-rejected, smoothed estimate and tracks sensor health.
type DistanceFilter struct {
	cfg config.DistanceFilterConfig
	log *logger.Logger

	accepted *Ring[float64] // trailing values for the moving average
	recent   *Ring[float64] // short window for the variation check

	lastValue float64
	lastTime  time.Time
	hasLast   bool

	reliability         float64
	consecutiveFailures int
	working             bool

	now   func() time.Time
	sleep func(time.Duration)
}

func NewDistanceFilter(cfg config.DistanceFilterConfig, log *logger.Logger) *DistanceFilter {
	return &DistanceFilter{
		cfg:         cfg,
		log:         log.WithTag("distance-filter"),
		accepted:    NewRing[float64](cfg.MovingAverageWindow),
		recent:      NewRing[float64](cfg.ConsistencyWindow),
		reliability: 100.0,
		working:     true,
		now:         time.Now,
		sleep:       time.Sleep,
	}
}

// Sample takes SampleCount raw measurements and returns one filtered
// distance. Valid=false means no usable measurement; callers must treat it as
// unknown, never as zero.
func (f *DistanceFilter) Sample(read DistanceReadFn) types.FilteredDistance {
	valid := make([]float64, 0, f.cfg.SampleCount)
	for i := 0; i < f.cfg.SampleCount; i++ {
		v, ok := read()
		if ok && !math.IsNaN(v) && !math.IsInf(v, 0) &&
			v >= f.cfg.MinValidCm && v <= f.cfg.MaxValidCm {
			valid = append(valid, v)
		}
		if i < f.cfg.SampleCount-1 && f.cfg.SampleInterval > 0 {
			f.sleep(f.cfg.SampleInterval)
		}
	}

	if len(valid) < 2 {
		f.penalize()
		f.log.Debugf("Too few valid samples (%d)", len(valid))
		return f.result(0, false)
	}

	survivors := f.rejectOutliers(valid)
	candidate := median(survivors)

	now := f.now()
	if f.hasLast {
		dt := now.Sub(f.lastTime)
		if dt < f.cfg.MinElapsed {
			dt = f.cfg.MinElapsed
		}
		rate := math.Abs(candidate-f.lastValue) / dt.Seconds()
		if rate > f.cfg.MaxChangeRateCmPerSec {
			// Implausible jump; hold the previous estimate.
			f.penalize()
			f.log.Debugf("Rejected %.1fcm: change rate %.1fcm/s", candidate, rate)
			return f.result(f.lastValue, true)
		}
	}

	trust := f.reliability / 100.0
	filtered := candidate
	if f.hasLast {
		filtered = trust*candidate + (1-trust)*f.lastValue
	}

	f.accepted.Push(filtered)
	smoothed := 0.0
	for _, v := range f.accepted.Values() {
		smoothed += v
	}
	smoothed /= float64(f.accepted.Len())

	f.recent.Push(smoothed)
	if f.consistent() {
		f.reward()
	} else {
		f.penalize()
	}

	f.lastValue = smoothed
	f.lastTime = now
	f.hasLast = true
	return f.result(smoothed, true)
}

// rejectOutliers drops samples whose z-score exceeds the threshold. Needs at
// least 3 samples and real spread; if everything is flagged, keeps everything.
func (f *DistanceFilter) rejectOutliers(values []float64) []float64 {
	if len(values) < 3 {
		return values
	}
	mean, stddev := meanStddev(values)
	if stddev < f.cfg.MinStddev {
		return values
	}
	kept := make([]float64, 0, len(values))
	for _, v := range values {
		if math.Abs(v-mean)/stddev <= f.cfg.ZScoreThreshold {
			kept = append(kept, v)
		}
	}
	if len(kept) == 0 {
		return values
	}
	return kept
}

// consistent checks the coefficient of variation over the recent window.
func (f *DistanceFilter) consistent() bool {
	if f.recent.Len() < f.cfg.ConsistencyWindow {
		return true
	}
	mean, stddev := meanStddev(f.recent.Values())
	if mean <= 0 {
		return false
	}
	return stddev/mean <= f.cfg.MaxVariationCoeff
}

func (f *DistanceFilter) reward() {
	f.reliability = clamp(f.reliability+f.cfg.ReliabilityGain, 0, 100)
	f.consecutiveFailures = 0
	if !f.working && f.reliability > f.cfg.RecoveryScore {
		f.working = true
		f.log.Infof("Distance sensor recovered (score %.1f)", f.reliability)
	}
}

func (f *DistanceFilter) penalize() {
	f.reliability = clamp(f.reliability-f.cfg.ReliabilityLoss, 0, 100)
	f.consecutiveFailures++
	if f.working && f.consecutiveFailures >= f.cfg.MaxConsecutiveFailures {
		f.working = false
		f.log.Warnf("Distance sensor marked not working after %d bad rounds", f.consecutiveFailures)
	}
}

func (f *DistanceFilter) result(cm float64, valid bool) types.FilteredDistance {
	return types.FilteredDistance{
		DistanceCm:  cm,
		Valid:       valid,
		Confidence:  f.confidenceLevel(),
		Reliability: f.reliability,
		Working:     f.working,
		Timestamp:   f.now(),
	}
}

func (f *DistanceFilter) confidenceLevel() types.ConfidenceLevel {
	switch {
	case f.reliability >= 90:
		return types.ConfidenceVeryHigh
	case f.reliability >= 70:
		return types.ConfidenceHigh
	case f.reliability >= 50:
		return types.ConfidenceMedium
	case f.reliability >= 30:
		return types.ConfidenceLow
	default:
		return types.ConfidenceVeryLow
	}
}

// Healthy reports whether the sensor is trustworthy.
func (f *DistanceFilter) Healthy() bool {
	return f.working && f.reliability >= f.cfg.RecoveryScore-10
}

func (f *DistanceFilter) Reliability() float64 { return f.reliability }

// Reset restores construction state on explicit operator command.
func (f *DistanceFilter) Reset() {
	f.accepted.Clear()
	f.recent.Clear()
	f.hasLast = false
	f.reliability = 100.0
	f.consecutiveFailures = 0
	f.working = true
	f.log.Infof("Distance filter state reset")
}
