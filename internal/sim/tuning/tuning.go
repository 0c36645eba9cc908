package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Alihene/fast-paced-multiplayer-netcode/internal/sim"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickRateHz      int `yaml:"tick_rate_hz"`
	CatchupMaxTicks int `yaml:"catchup_max_ticks"`

	// Client input stream.
	InputRedundancy int `yaml:"input_redundancy"`
	CommandWindow   int `yaml:"command_window"`

	// Server-side input queue (jitter buffer).
	QueueHoldTicks  int `yaml:"queue_hold_ticks"`
	QueueAheadLimit int `yaml:"queue_ahead_limit"`

	// Lag compensation.
	HistoryTicks      int `yaml:"history_ticks"`
	MaxCompensationMs int `yaml:"max_compensation_ms"`

	// Client-side interpolation.
	InterpDelayTicks int `yaml:"interp_delay_ticks"`

	Movement Movement `yaml:"movement"`
}

type Movement struct {
	AccelPerSec     float64 `yaml:"accel_per_sec"`
	MaxSpeed        float64 `yaml:"max_speed"`
	FrictionPerSec  float64 `yaml:"friction_per_sec"`
	ArenaHalfExtent float64 `yaml:"arena_half_extent"`
	HitRadius       float64 `yaml:"hit_radius"`
	RayRange        float64 `yaml:"ray_range"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:   "1.0",
		TickRateHz:        20,
		CatchupMaxTicks:   5,
		InputRedundancy:   3,
		CommandWindow:     64,
		QueueHoldTicks:    2,
		QueueAheadLimit:   32,
		HistoryTicks:      32,
		MaxCompensationMs: 250,
		InterpDelayTicks:  2,
		Movement: Movement{
			AccelPerSec:     40,
			MaxSpeed:        8,
			FrictionPerSec:  6,
			ArenaHalfExtent: 100,
			HitRadius:       0.5,
			RayRange:        60,
		},
	}
}

// Load reads a tuning file over the defaults, so partial files are fine.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if t.TickRateHz <= 0 || t.TickRateHz > 240 {
		return fmt.Errorf("tick_rate_hz out of range: %d", t.TickRateHz)
	}
	if t.InputRedundancy < 1 {
		return fmt.Errorf("input_redundancy must be >= 1, got %d", t.InputRedundancy)
	}
	if t.QueueAheadLimit < t.InputRedundancy {
		return fmt.Errorf("queue_ahead_limit %d below input_redundancy %d", t.QueueAheadLimit, t.InputRedundancy)
	}
	if t.HistoryTicks < 2 {
		return fmt.Errorf("history_ticks must be >= 2, got %d", t.HistoryTicks)
	}
	// The rewind window must fit inside retained history, with one tick spare.
	maxCompTicks := t.MaxCompensationMs * t.TickRateHz / 1000
	if maxCompTicks > t.HistoryTicks-1 {
		return fmt.Errorf("max_compensation_ms %d needs %d ticks of history, have %d",
			t.MaxCompensationMs, maxCompTicks+1, t.HistoryTicks)
	}
	if t.Movement.MaxSpeed <= 0 || t.Movement.AccelPerSec <= 0 {
		return fmt.Errorf("movement accel/max_speed must be positive")
	}
	if t.Movement.HitRadius <= 0 || t.Movement.RayRange <= 0 {
		return fmt.Errorf("movement hit_radius/ray_range must be positive")
	}
	return nil
}

// MovementParams converts the yaml block into the sim-side struct.
func (t Tuning) MovementParams() sim.MovementParams {
	return sim.MovementParams{
		AccelPerSec:     t.Movement.AccelPerSec,
		MaxSpeed:        t.Movement.MaxSpeed,
		FrictionPerSec:  t.Movement.FrictionPerSec,
		ArenaHalfExtent: t.Movement.ArenaHalfExtent,
		HitRadius:       t.Movement.HitRadius,
		RayRange:        t.Movement.RayRange,
	}
}
