package filter

import (
	"time"

	"robot-service/internal/config"
	"robot-service/internal/logger"
	"robot-service/internal/types"
)

// LineReadFn returns one raw (left, center, right) triple.
type LineReadFn func() (bool, bool, bool)

// LineSensorFilter turns bursts of raw tri-sensor booleans into one
// majority-voted, confidence-scored reading and tracks per-channel
// reliability across the process lifetime.
type LineSensorFilter struct {
	cfg config.LineFilterConfig
	log *logger.Logger

	history      *Ring[types.FilteredLineReading]
	reliable     *Ring[types.FilteredLineReading]
	window       *Ring[[3]bool] // accepted triples for the flip-rate check
	activeCounts *Ring[int]

	reliability       [3]float64
	consecutiveErrors [3]int
	lastAccepted      *types.FilteredLineReading

	now   func() time.Time
	sleep func(time.Duration)
}

func NewLineSensorFilter(cfg config.LineFilterConfig, log *logger.Logger) *LineSensorFilter {
	f := &LineSensorFilter{
		cfg:          cfg,
		log:          log.WithTag("line-filter"),
		history:      NewRing[types.FilteredLineReading](cfg.HistorySize),
		reliable:     NewRing[types.FilteredLineReading](cfg.ReliableHistorySize),
		window:       NewRing[[3]bool](cfg.ConsistencyWindow),
		activeCounts: NewRing[int](cfg.ActiveCountWindow),
		now:          time.Now,
		sleep:        time.Sleep,
	}
	for i := range f.reliability {
		f.reliability[i] = 100.0
	}
	return f
}

// Sample takes SampleCount raw triples and returns one filtered reading.
// On rejection it falls back to the last reliable reading at halved
// confidence, or to a center-only safe default.
func (f *LineSensorFilter) Sample(read LineReadFn) types.FilteredLineReading {
	var votes [3]int
	for i := 0; i < f.cfg.SampleCount; i++ {
		l, c, r := read()
		if l {
			votes[0]++
		}
		if c {
			votes[1]++
		}
		if r {
			votes[2]++
		}
		if i < f.cfg.SampleCount-1 && f.cfg.SampleInterval > 0 {
			f.sleep(f.cfg.SampleInterval)
		}
	}

	half := float64(f.cfg.SampleCount) / 2.0
	candidate := types.FilteredLineReading{
		Left:      votes[0]*2 > f.cfg.SampleCount,
		Center:    votes[1]*2 > f.cfg.SampleCount,
		Right:     votes[2]*2 > f.cfg.SampleCount,
		Timestamp: f.now(),
	}
	var margin float64
	for _, v := range votes {
		m := (float64(v) - half)
		if m < 0 {
			m = -m
		}
		margin += clamp(m/half, 0, 1)
	}
	candidate.Confidence = margin / 3.0

	if reason := f.checkConsistency(candidate); reason != "" {
		f.penalize()
		f.log.Debugf("Rejected reading %v: %s", triple(candidate), reason)
		return f.fallback()
	}

	f.accept(candidate)
	return candidate
}

// checkConsistency returns a non-empty rejection reason when the candidate is
// physically implausible against the accepted history.
func (f *LineSensorFilter) checkConsistency(c types.FilteredLineReading) string {
	if f.lastAccepted != nil {
		last := *f.lastAccepted
		if c.Left != last.Left && c.Center != last.Center && c.Right != last.Right {
			return "all three channels flipped simultaneously"
		}
	}

	if f.window.Len() >= 2 {
		cand := triple(c)
		series := f.window.Values()
		for ch := 0; ch < 3; ch++ {
			flips := 0
			prev := series[0][ch]
			for _, t := range series[1:] {
				if t[ch] != prev {
					flips++
				}
				prev = t[ch]
			}
			if cand[ch] != prev {
				flips++
			}
			rate := float64(flips) / float64(len(series))
			if rate > f.cfg.FlipRateThreshold {
				return "channel flip rate exceeded"
			}
		}
	}

	if f.activeCounts.Len() >= f.cfg.ActiveCountWindow {
		sum := 0
		for _, n := range f.activeCounts.Values() {
			sum += n
		}
		mean := float64(sum) / float64(f.activeCounts.Len())
		dev := float64(c.ActiveCount()) - mean
		if dev < 0 {
			dev = -dev
		}
		if dev > float64(f.cfg.ActiveCountDeviation) {
			return "active sensor count jumped"
		}
	}

	return ""
}

func (f *LineSensorFilter) accept(c types.FilteredLineReading) {
	for i := range f.reliability {
		f.reliability[i] = clamp(f.reliability[i]+f.cfg.ReliabilityGain, 0, 100)
		f.consecutiveErrors[i] = 0
	}
	f.window.Push(triple(c))
	f.activeCounts.Push(c.ActiveCount())
	f.history.Push(c)
	f.reliable.Push(c)
	f.lastAccepted = &c
}

func (f *LineSensorFilter) penalize() {
	for i := range f.reliability {
		f.reliability[i] = clamp(f.reliability[i]-f.cfg.ReliabilityLoss, 0, 100)
		f.consecutiveErrors[i]++
	}
}

func (f *LineSensorFilter) fallback() types.FilteredLineReading {
	if f.reliable.Len() > 0 {
		last := f.reliable.At(f.reliable.Len() - 1)
		last.Confidence *= 0.5
		last.Timestamp = f.now()
		return last
	}
	// No accepted reading yet: assume the line is under the center sensor.
	return types.FilteredLineReading{
		Center:     true,
		Confidence: f.cfg.FallbackConfidence,
		Timestamp:  f.now(),
	}
}

// Healthy reports whether the sensor group is trustworthy.
func (f *LineSensorFilter) Healthy() bool {
	return f.MeanReliability() >= f.cfg.HealthyScore &&
		f.MaxConsecutiveErrors() < f.cfg.MaxConsecutiveErrors
}

func (f *LineSensorFilter) MeanReliability() float64 {
	sum := 0.0
	for _, r := range f.reliability {
		sum += r
	}
	return sum / 3.0
}

func (f *LineSensorFilter) MaxConsecutiveErrors() int {
	max := 0
	for _, n := range f.consecutiveErrors {
		if n > max {
			max = n
		}
	}
	return max
}

// Reset restores construction state. Reliability is never reset implicitly;
// this only runs on explicit operator command.
func (f *LineSensorFilter) Reset() {
	f.history.Clear()
	f.reliable.Clear()
	f.window.Clear()
	f.activeCounts.Clear()
	f.lastAccepted = nil
	for i := range f.reliability {
		f.reliability[i] = 100.0
		f.consecutiveErrors[i] = 0
	}
	f.log.Infof("Line filter state reset")
}

func triple(r types.FilteredLineReading) [3]bool {
	return [3]bool{r.Left, r.Center, r.Right}
}
