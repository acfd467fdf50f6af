package controller

import (
	"fmt"

	"github.com/pthm-cable/diptune/config"
)

// TypedFactory builds controllers of one configured type. It reports the
// gain count and type name so the tuner can skip probing.
type TypedFactory struct {
	kind     string
	nGains   int
	settings Settings
}

// NewFactory creates a factory for the named controller type using its
// settings from cfg (zero values fall back to defaults). Sliding surfaces
// are designed for the nominal physics in cfg.
func NewFactory(kind string, cfg *config.Config) (*TypedFactory, error) {
	probe, err := DefaultGains(kind)
	if err != nil {
		return nil, err
	}
	lin, err := Linearize(cfg.Physics)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", kind, err)
	}
	cc, _ := cfg.Controller(kind)
	return &TypedFactory{
		kind:   kind,
		nGains: len(probe),
		settings: Settings{
			MaxForce:      cc.MaxForce,
			BoundaryLayer: cc.BoundaryLayer,
			KInit:         cc.KInit,
			KMax:          cc.KMax,
			LeakRate:      cc.LeakRate,
			Plant:         lin,
		},
	}, nil
}

// New builds a controller from gains.
func (f *TypedFactory) New(gains []float64) (Controller, error) {
	switch f.kind {
	case ClassicalSMC:
		return NewClassical(gains, f.settings)
	case SuperTwistingSMC:
		return NewSuperTwisting(gains, f.settings)
	case AdaptiveSMC:
		return NewAdaptive(gains, f.settings)
	case HybridSTA:
		return NewHybridAdaptiveSTA(gains, f.settings)
	}
	return nil, fmt.Errorf("unknown controller type %q", f.kind)
}

// NumGains returns the gain-vector length of the factory's type.
func (f *TypedFactory) NumGains() int { return f.nGains }

// ControllerType returns the configuration name of the factory's type.
func (f *TypedFactory) ControllerType() string { return f.kind }
