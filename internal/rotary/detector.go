package rotary

import (
	"context"
	"time"

	"github.com/librescoot/librefsm"

	"robot-service/internal/config"
	"robot-service/internal/filter"
	"robot-service/internal/logger"
	"robot-service/internal/types"
)

// Ensure Detector implements Actions
var _ Actions = (*Detector)(nil)

// State is the externally visible rotary classification.
type State string

const (
	Normal   State = "normal"
	Entering State = "entering"
	InRotary State = "in-rotary"
	Exiting  State = "exiting"
)

func stateIDToState(id librefsm.StateID) State {
	switch id {
	case StateEntering:
		return Entering
	case StateInRotary:
		return InRotary
	case StateExiting:
		return Exiting
	default:
		return Normal
	}
}

// Decision is the steering recommendation for the current rotary state.
type Decision struct {
	State      State
	Action     types.Action
	Speed      int
	Confidence float64
	Reason     string
}

// Detector classifies the road section from the stream of filtered line
// positions. It is advanced once per control tick; all FSM transitions go
// through SendSync so behavior is deterministic under an injected clock.
type Detector struct {
	cfg     config.RotaryConfig
	log     *logger.Logger
	machine *librefsm.Machine

	window            *filter.Ring[types.LinePosition]
	consecutiveCenter int
	consecutiveSame   int
	lastDirection     types.LinePosition
	hasDirection      bool
	enteredAt         time.Time
	inRotaryAt        time.Time

	now func() time.Time
}

func NewDetector(cfg config.RotaryConfig, log *logger.Logger) (*Detector, error) {
	d := &Detector{
		cfg:    cfg,
		log:    log.WithTag("rotary"),
		window: filter.NewRing[types.LinePosition](cfg.WindowSize),
		now:    time.Now,
	}
	machine, err := NewDefinition(d).Build()
	if err != nil {
		return nil, err
	}
	d.machine = machine
	return d, nil
}

// Start initializes the state machine.
func (d *Detector) Start(ctx context.Context) error {
	return d.machine.Start(ctx)
}

// State returns the current rotary classification.
func (d *Detector) State() State {
	return stateIDToState(d.machine.CurrentState())
}

// Update feeds one filtered line position and returns the steering
// recommendation for the (possibly advanced) rotary state.
func (d *Detector) Update(pos types.LinePosition) Decision {
	d.window.Push(pos)

	if pos == types.LineCenter {
		d.consecutiveCenter++
	} else {
		d.consecutiveCenter = 0
	}
	if d.hasDirection && pos == d.lastDirection {
		d.consecutiveSame++
	} else {
		d.consecutiveSame = 1
		d.lastDirection = pos
		d.hasDirection = true
	}

	switch d.machine.CurrentState() {
	case StateNormal:
		if d.entryPatternDetected() || d.secondaryConfirms() {
			d.send(EvEntryDetected)
		}
	case StateEntering:
		if d.now().Sub(d.enteredAt) >= d.cfg.DwellTime || d.secondaryConfirms() {
			d.send(EvDwellElapsed)
		}
	case StateInRotary:
		if d.consecutiveCenter >= d.cfg.ExitCenterCount {
			d.send(EvCenterStable)
		} else if d.now().Sub(d.inRotaryAt) > d.cfg.HardTimeout {
			d.log.Warnf("Hard timeout after %s in rotary, forcing exit", d.cfg.HardTimeout)
			d.send(EvHardTimeout)
		}
	case StateExiting:
		if d.consecutiveCenter >= d.cfg.NormalCenterCount {
			d.send(EvExitComplete)
		}
	}

	return d.decide(pos)
}

// Reset aborts any rotary episode and clears the window. Operator command.
func (d *Detector) Reset() {
	if d.State() != Normal {
		d.send(EvReset)
	}
	d.window.Clear()
	d.consecutiveCenter = 0
	d.consecutiveSame = 0
	d.hasDirection = false
	d.log.Infof("Rotary detector reset")
}

func (d *Detector) send(ev librefsm.EventID) {
	if err := d.machine.SendSync(librefsm.Event{ID: ev}); err != nil {
		d.log.Errorf("Failed to send %s: %v", ev, err)
	}
}

// === State Entry/Exit Actions ===

func (d *Detector) EnterNormal(c *librefsm.Context) error {
	d.log.Debugf("FSM: EnterNormal")
	return nil
}

func (d *Detector) EnterEntering(c *librefsm.Context) error {
	d.enteredAt = d.now()
	d.consecutiveSame = 0
	d.log.Infof("Rotary entry detected")
	return nil
}

func (d *Detector) EnterInRotary(c *librefsm.Context) error {
	// The hard timeout budget starts here, not at entry detection, so the
	// dwell phase does not eat into it.
	d.inRotaryAt = d.now()
	d.log.Infof("Inside rotary (dwell complete)")
	return nil
}

func (d *Detector) EnterExiting(c *librefsm.Context) error {
	d.log.Infof("Rotary exit started after %.1fs", d.now().Sub(d.enteredAt).Seconds())
	return nil
}

func (d *Detector) ExitActive(c *librefsm.Context) error {
	d.log.Debugf("FSM: leaving rotary states")
	return nil
}

// === Pattern detection ===

// entryPatternDetected looks for left/right oscillation over the trailing
// entry window: both sides seen at least twice and roughly balanced. A single
// sustained curve produces one-sided counts and does not match.
func (d *Detector) entryPatternDetected() bool {
	recent := d.window.Last(d.cfg.EntryWindow)
	if len(recent) < d.cfg.EntryWindow {
		return false
	}
	left, right := 0, 0
	for _, p := range recent {
		switch p {
		case types.LineLeft:
			left++
		case types.LineRight:
			right++
		}
	}
	diff := left - right
	if diff < 0 {
		diff = -diff
	}
	return left >= d.cfg.EntryMinSideCount &&
		right >= d.cfg.EntryMinSideCount &&
		diff <= d.cfg.EntryMaxImbalance
}

// secondaryConfirms is the OR-of-heuristics confirmation policy: non-center
// ratio, longest same-side run, or raw flip ratio. Deliberately permissive;
// tunable via config, disabled entirely with SecondaryEnabled=false.
func (d *Detector) secondaryConfirms() bool {
	if !d.cfg.SecondaryEnabled {
		return false
	}
	positions := d.window.Values()
	if len(positions) < d.cfg.EntryWindow {
		return false
	}

	left, center, right := frequencyCounts(positions)
	total := left + center + right
	if total > 0 {
		sideRatio := float64(left+right) / float64(total)
		if sideRatio >= d.cfg.SecondarySideRatio {
			return true
		}
	}

	run, best := 0, 0
	var prev types.LinePosition = -1
	for _, p := range positions {
		if p != types.LineLeft && p != types.LineRight {
			run, prev = 0, -1
			continue
		}
		if p == prev {
			run++
		} else {
			run = 1
			prev = p
		}
		if run > best {
			best = run
		}
	}
	if best >= d.cfg.SecondaryRunLength {
		return true
	}

	flips := 0
	pairs := 0
	for i := 1; i < len(positions); i++ {
		a, b := positions[i-1], positions[i]
		if (a == types.LineLeft || a == types.LineRight) &&
			(b == types.LineLeft || b == types.LineRight) {
			pairs++
			if a != b {
				flips++
			}
		}
	}
	return pairs > 0 && float64(flips)/float64(pairs) >= d.cfg.SecondaryFlipRatio
}

// === Per-state decisions ===

func (d *Detector) decide(pos types.LinePosition) Decision {
	state := d.State()
	var dec Decision
	switch state {
	case Entering:
		dec = d.decideEntering()
	case InRotary:
		dec = d.decideInRotary()
	case Exiting:
		dec = Decision{Action: types.ActionForward, Speed: 80, Confidence: 0.9,
			Reason: "exiting rotary, holding center line"}
	default:
		dec = d.decideNormal(pos)
	}
	dec.State = state
	return dec
}

func (d *Detector) decideNormal(pos types.LinePosition) Decision {
	switch pos {
	case types.LineCenter:
		return Decision{Action: types.ActionForward, Speed: 100, Confidence: 0.9,
			Reason: "center line detected"}
	case types.LineLeft:
		return Decision{Action: types.ActionPivotRight, Speed: 80, Confidence: 0.8,
			Reason: "line drifted left, correcting right"}
	case types.LineRight:
		return Decision{Action: types.ActionPivotLeft, Speed: 80, Confidence: 0.8,
			Reason: "line drifted right, correcting left"}
	case types.LineMultiple:
		return Decision{Action: types.ActionForward, Speed: 60, Confidence: 0.5,
			Reason: "wide line or crossing, easing through"}
	default:
		return Decision{Action: types.ActionBackward, Speed: 50, Confidence: 0.5,
			Reason: "line lost, backing up to reacquire"}
	}
}

func (d *Detector) decideEntering() Decision {
	left, center, right := frequencyCounts(d.window.Values())
	total := left + center + right
	if total < 5 {
		return Decision{Action: types.ActionForward, Speed: 40, Confidence: 0.4,
			Reason: "rotary entry, too little data, creeping straight"}
	}
	switch {
	case float64(center) >= 0.4*float64(total):
		return Decision{Action: types.ActionForward, Speed: 60, Confidence: 0.7,
			Reason: "rotary entry, center dominant"}
	case float64(left) > 1.5*float64(right):
		return Decision{Action: types.ActionTurnRight, Speed: 50, Confidence: 0.6,
			Reason: "rotary entry, left side dominant"}
	case float64(right) > 1.5*float64(left):
		return Decision{Action: types.ActionTurnLeft, Speed: 50, Confidence: 0.6,
			Reason: "rotary entry, right side dominant"}
	default:
		return Decision{Action: types.ActionForward, Speed: 45, Confidence: 0.5,
			Reason: "rotary entry, ambiguous, creeping straight"}
	}
}

// decideInRotary steers by frequency ratios over the window rather than the
// instantaneous reading, which oscillates inside a rotary.
func (d *Detector) decideInRotary() Decision {
	left, center, right := frequencyCounts(d.window.Values())
	total := left + center + right
	if total < 5 {
		return Decision{Action: types.ActionForward, Speed: 35, Confidence: 0.4,
			Reason: "in rotary, too little data"}
	}

	leftRatio := float64(left) / float64(total)
	centerRatio := float64(center) / float64(total)
	rightRatio := float64(right) / float64(total)

	if d.consecutiveSame >= d.cfg.StabilityRunLength {
		switch d.lastDirection {
		case types.LineLeft:
			leftRatio += d.cfg.StabilityBonus
		case types.LineCenter:
			centerRatio += d.cfg.StabilityBonus
		case types.LineRight:
			rightRatio += d.cfg.StabilityBonus
		}
	}

	th := d.cfg.RatioThreshold
	dom := d.cfg.DominanceFactor
	switch {
	case centerRatio >= th:
		return Decision{Action: types.ActionForward, Speed: 70, Confidence: 0.8,
			Reason: "in rotary, center dominant"}
	case leftRatio >= th && float64(left) > dom*float64(right):
		return Decision{Action: types.ActionTurnRight, Speed: 55, Confidence: 0.7,
			Reason: "in rotary, left side dominant"}
	case rightRatio >= th && float64(right) > dom*float64(left):
		return Decision{Action: types.ActionTurnLeft, Speed: 55, Confidence: 0.7,
			Reason: "in rotary, right side dominant"}
	default:
		trend := d.recentTrend()
		trend.Speed = 45
		trend.Confidence = 0.5
		return trend
	}
}

// recentTrend returns the action for the newest unambiguous direction in the
// trailing trend window.
func (d *Detector) recentTrend() Decision {
	recent := d.window.Last(d.cfg.TrendWindow)
	for i := len(recent) - 1; i >= 0; i-- {
		switch recent[i] {
		case types.LineLeft:
			return Decision{Action: types.ActionTurnRight,
				Reason: "in rotary, following recent left trend"}
		case types.LineRight:
			return Decision{Action: types.ActionTurnLeft,
				Reason: "in rotary, following recent right trend"}
		case types.LineCenter:
			return Decision{Action: types.ActionForward,
				Reason: "in rotary, following recent center trend"}
		}
	}
	return Decision{Action: types.ActionForward,
		Reason: "in rotary, no recent trend, creeping straight"}
}

func frequencyCounts(positions []types.LinePosition) (left, center, right int) {
	for _, p := range positions {
		switch p {
		case types.LineLeft:
			left++
		case types.LineCenter:
			center++
		case types.LineRight:
			right++
		}
	}
	return left, center, right
}
