// Package config collects every tunable of the control core in one struct so
// thresholds can be overridden at construction without touching logic.
package config

import "time"

// LineFilterConfig tunes the tri-sensor majority-vote filter.
type LineFilterConfig struct {
	SampleCount          int           // raw reads per tick
	SampleInterval       time.Duration // gap between raw reads
	HistorySize          int
	ReliableHistorySize  int
	ConsistencyWindow    int     // accepted readings considered for flip rate
	FlipRateThreshold    float64 // per-channel flip rate above this rejects
	ActiveCountWindow    int     // accepted readings for the active-count mean
	ActiveCountDeviation int
	ReliabilityGain      float64
	ReliabilityLoss      float64
	HealthyScore         float64
	MaxConsecutiveErrors int
	FallbackConfidence   float64 // confidence of the safe default reading
}

func DefaultLineFilter() LineFilterConfig {
	return LineFilterConfig{
		SampleCount:          5,
		SampleInterval:       5 * time.Millisecond,
		HistorySize:          20,
		ReliableHistorySize:  10,
		ConsistencyWindow:    5,
		FlipRateThreshold:    0.5,
		ActiveCountWindow:    3,
		ActiveCountDeviation: 2,
		ReliabilityGain:      2.0,
		ReliabilityLoss:      5.0,
		HealthyScore:         70.0,
		MaxConsecutiveErrors: 5,
		FallbackConfidence:   0.1,
	}
}

// DistanceFilterConfig tunes the ultrasonic distance filter.
type DistanceFilterConfig struct {
	SampleCount            int
	SampleInterval         time.Duration
	MinValidCm             float64
	MaxValidCm             float64
	ZScoreThreshold        float64
	MinStddev              float64 // below this the z-score step is skipped
	MaxChangeRateCmPerSec  float64
	MinElapsed             time.Duration // dt floor for the rate check
	MovingAverageWindow    int
	ConsistencyWindow      int
	MaxVariationCoeff      float64
	ReliabilityGain        float64
	ReliabilityLoss        float64
	RecoveryScore          float64 // sensor resumes "working" above this
	MaxConsecutiveFailures int
}

func DefaultDistanceFilter() DistanceFilterConfig {
	return DistanceFilterConfig{
		SampleCount:            5,
		SampleInterval:         10 * time.Millisecond,
		MinValidCm:             2.0,
		MaxValidCm:             300.0,
		ZScoreThreshold:        3.0,
		MinStddev:              0.1,
		MaxChangeRateCmPerSec:  50.0,
		MinElapsed:             100 * time.Millisecond,
		MovingAverageWindow:    5,
		ConsistencyWindow:      3,
		MaxVariationCoeff:      0.2,
		ReliabilityGain:        2.0,
		ReliabilityLoss:        5.0,
		RecoveryScore:          80.0,
		MaxConsecutiveFailures: 10,
	}
}

// RotaryConfig tunes roundabout detection and in-rotary steering.
type RotaryConfig struct {
	WindowSize         int
	EntryWindow        int // trailing readings examined for the entry pattern
	EntryMinSideCount  int
	EntryMaxImbalance  int
	DwellTime          time.Duration // entering -> in-rotary
	HardTimeout        time.Duration // in-rotary -> exiting, pattern or not
	ExitCenterCount    int           // in-rotary -> exiting
	NormalCenterCount  int           // exiting -> normal
	RatioThreshold     float64
	DominanceFactor    float64
	StabilityBonus     float64
	StabilityRunLength int
	TrendWindow        int
	SecondaryEnabled   bool // OR-of-heuristics confirmation policy
	SecondarySideRatio float64
	SecondaryRunLength int
	SecondaryFlipRatio float64
}

func DefaultRotary() RotaryConfig {
	return RotaryConfig{
		WindowSize:         10,
		EntryWindow:        6,
		EntryMinSideCount:  2,
		EntryMaxImbalance:  2,
		DwellTime:          time.Second,
		HardTimeout:        10 * time.Second,
		ExitCenterCount:    5,
		NormalCenterCount:  10,
		RatioThreshold:     0.6,
		DominanceFactor:    2.0,
		StabilityBonus:     0.1,
		StabilityRunLength: 3,
		TrendWindow:        5,
		SecondaryEnabled:   true,
		SecondarySideRatio: 0.7,
		SecondaryRunLength: 4,
		SecondaryFlipRatio: 0.6,
	}
}

// AvoidanceConfig tunes strategy selection and stage durations.
type AvoidanceConfig struct {
	EmergencyDistanceCm  float64
	DangerHistorySize    int
	PersistenceWindow    int
	PersistenceCount     int
	WallTargetCm         float64 // steering band is target-5 .. target+10
	WallMaxSteps         int
	DetectPause          time.Duration // hold-still time before maneuvering
	SimpleTurnDuration   time.Duration
	SimplePassDuration   time.Duration
	SimpleAlignDuration  time.Duration
	SimpleReturnDuration time.Duration
	ScanDuration         time.Duration
	ScanSwingDuration    time.Duration
	CommitDuration       time.Duration
	SmartPassDuration    time.Duration
	SmartAlignDuration   time.Duration
	SmartReturnDuration  time.Duration
	WallTurnDuration     time.Duration
	ReverseDuration      time.Duration
	RetryTurnDuration    time.Duration
	ProbeDuration        time.Duration
	SecondReverse        time.Duration
	CrossTurnDuration    time.Duration
	RetryReturnDuration  time.Duration
	ResumeSpeed          int
}

func DefaultAvoidance() AvoidanceConfig {
	return AvoidanceConfig{
		EmergencyDistanceCm:  8.0,
		DangerHistorySize:    10,
		PersistenceWindow:    5,
		PersistenceCount:     3,
		WallTargetCm:         25.0,
		WallMaxSteps:         15,
		DetectPause:          300 * time.Millisecond,
		SimpleTurnDuration:   time.Second,
		SimplePassDuration:   1500 * time.Millisecond,
		SimpleAlignDuration:  time.Second,
		SimpleReturnDuration: 500 * time.Millisecond,
		ScanDuration:         500 * time.Millisecond,
		ScanSwingDuration:    time.Second,
		CommitDuration:       250 * time.Millisecond,
		SmartPassDuration:    2 * time.Second,
		SmartAlignDuration:   time.Second,
		SmartReturnDuration:  500 * time.Millisecond,
		WallTurnDuration:     700 * time.Millisecond,
		ReverseDuration:      1500 * time.Millisecond,
		RetryTurnDuration:    1500 * time.Millisecond,
		ProbeDuration:        time.Second,
		SecondReverse:        time.Second,
		CrossTurnDuration:    3 * time.Second,
		RetryReturnDuration:  500 * time.Millisecond,
		ResumeSpeed:          80,
	}
}

// FusionConfig tunes the fixed-priority arbitration bands.
type FusionConfig struct {
	EmergencyDistanceCm float64
	ObstacleDistanceCm  float64
	CautionDistanceCm   float64
	SlowDistanceCm      float64
	CautionSpeedFactor  float64
	SlowSpeedFactor     float64
	FullSpeed           int
	CorrectiveSpeed     int
	SearchSpeed         int
	MultipleSpeed       int
}

func DefaultFusion() FusionConfig {
	return FusionConfig{
		EmergencyDistanceCm: 10.0,
		ObstacleDistanceCm:  20.0,
		CautionDistanceCm:   40.0,
		SlowDistanceCm:      60.0,
		CautionSpeedFactor:  0.7,
		SlowSpeedFactor:     0.85,
		FullSpeed:           100,
		CorrectiveSpeed:     80,
		SearchSpeed:         50,
		MultipleSpeed:       80,
	}
}

// Config is the full service configuration.
type Config struct {
	RedisHost    string
	RedisPort    int
	TickInterval time.Duration
	Line         LineFilterConfig
	Distance     DistanceFilterConfig
	Rotary       RotaryConfig
	Avoidance    AvoidanceConfig
	Fusion       FusionConfig
}

func Default() Config {
	return Config{
		RedisHost:    "127.0.0.1",
		RedisPort:    6379,
		TickInterval: 100 * time.Millisecond,
		Line:         DefaultLineFilter(),
		Distance:     DefaultDistanceFilter(),
		Rotary:       DefaultRotary(),
		Avoidance:    DefaultAvoidance(),
		Fusion:       DefaultFusion(),
	}
}
