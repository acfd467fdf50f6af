// Package config provides configuration loading and validation for the tuner.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

var (
	// ErrInvalid is returned when a configuration value is out of range.
	ErrInvalid = errors.New("invalid configuration")
	// ErrDeprecatedKey is returned when a removed configuration key is set.
	ErrDeprecatedKey = errors.New("deprecated configuration key")
)

// Config holds all tuner configuration parameters.
type Config struct {
	GlobalSeed  *int64                      `yaml:"global_seed"`
	Physics     PhysicsConfig               `yaml:"physics"`
	Uncertainty UncertaintyConfig           `yaml:"physics_uncertainty"`
	Simulation  SimulationConfig            `yaml:"simulation"`
	Controllers map[string]ControllerConfig `yaml:"controllers"`
	Cost        CostConfig                  `yaml:"cost_function"`
	PSO         PSOConfig                   `yaml:"pso"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// PhysicsConfig holds nominal plant parameters (SI units).
type PhysicsConfig struct {
	CartMass         float64 `yaml:"cart_mass"`
	Pendulum1Mass    float64 `yaml:"pendulum1_mass"`
	Pendulum2Mass    float64 `yaml:"pendulum2_mass"`
	Pendulum1Length  float64 `yaml:"pendulum1_length"`
	Pendulum2Length  float64 `yaml:"pendulum2_length"`
	Pendulum1COM     float64 `yaml:"pendulum1_com"`     // Pivot to centre of mass
	Pendulum2COM     float64 `yaml:"pendulum2_com"`     // Joint to centre of mass
	Pendulum1Inertia float64 `yaml:"pendulum1_inertia"` // About the centre of mass
	Pendulum2Inertia float64 `yaml:"pendulum2_inertia"` // About the centre of mass
	Gravity          float64 `yaml:"gravity"`
	CartFriction     float64 `yaml:"cart_friction"`
	Joint1Friction   float64 `yaml:"joint1_friction"`
	Joint2Friction   float64 `yaml:"joint2_friction"`
}

// UncertaintyConfig controls robustness evaluation across perturbed plants.
// Every key other than n_evals is a physics parameter name mapped to the
// fractional half-width of its uniform perturbation.
type UncertaintyConfig struct {
	NEvals    int                `yaml:"n_evals"` // Draws per evaluation, 1 = nominal only
	Fractions map[string]float64 `yaml:",inline"`
}

// SimulationConfig holds simulation horizon parameters.
type SimulationConfig struct {
	Duration     float64   `yaml:"duration"` // Seconds
	DT           float64   `yaml:"dt"`
	InitialState []float64 `yaml:"initial_state"` // [x, θ1, θ2, ẋ, θ̇1, θ̇2]
}

// ControllerConfig holds per-controller-type settings.
type ControllerConfig struct {
	MaxForce      float64   `yaml:"max_force"`
	BoundaryLayer float64   `yaml:"boundary_layer"`
	Gains         []float64 `yaml:"gains"`
	KInit         float64   `yaml:"k_init,omitempty"`    // Adaptive controllers only
	KMax          float64   `yaml:"k_max,omitempty"`     // Adaptive controllers only
	LeakRate      float64   `yaml:"leak_rate,omitempty"` // Adaptive controllers only
}

// CostConfig holds the cost function parameters.
type CostConfig struct {
	Weights                  CostWeightsConfig    `yaml:"weights"`
	Norms                    *NormsConfig         `yaml:"norms,omitempty"`    // nil = derive from baseline
	Baseline                 *BaselineConfig      `yaml:"baseline,omitempty"` // Gains used to derive norms
	InstabilityPenalty       *float64             `yaml:"instability_penalty,omitempty"`
	InstabilityPenaltyFactor float64              `yaml:"instability_penalty_factor"`
	CombineWeights           CombineWeightsConfig `yaml:"combine_weights"`
	NormalizationThreshold   float64              `yaml:"normalization_threshold"`
	NormFloor                float64              `yaml:"norm_floor"`
}

// CostWeightsConfig holds the weights of the four cost terms.
type CostWeightsConfig struct {
	StateError    float64 `yaml:"state_error"`
	ControlEffort float64 `yaml:"control_effort"`
	ControlRate   float64 `yaml:"control_rate"`
	Stability     float64 `yaml:"stability"`
}

// NormsConfig holds explicit normalization constants.
type NormsConfig struct {
	ISE   float64 `yaml:"ise"`
	U     float64 `yaml:"u"`
	DU    float64 `yaml:"du"`
	Sigma float64 `yaml:"sigma"`
}

// BaselineConfig names the gain vector simulated once to derive norms.
type BaselineConfig struct {
	Gains []float64 `yaml:"gains"`
}

// CombineWeightsConfig blends mean and worst-case cost across draws.
type CombineWeightsConfig struct {
	Mean float64 `yaml:"mean"`
	Max  float64 `yaml:"max"`
}

// PSOConfig holds particle swarm hyperparameters.
type PSOConfig struct {
	NParticles    int          `yaml:"n_particles"`
	Iters         int          `yaml:"iters"`
	C1            float64      `yaml:"c1"` // Cognitive coefficient
	C2            float64      `yaml:"c2"` // Social coefficient
	W             float64      `yaml:"w"`  // Inertia weight
	WSchedule     []float64    `yaml:"w_schedule,omitempty"`     // [w_start, w_end]
	VelocityClamp []float64    `yaml:"velocity_clamp,omitempty"` // [lo, hi] fractions of bound range
	Seed          *int64       `yaml:"seed,omitempty"`
	Bounds        BoundsConfig `yaml:"bounds"`

	// Removed knobs, rejected when set
	NProcesses   *int           `yaml:"n_processes,omitempty"`
	HyperTrials  *int           `yaml:"hyper_trials,omitempty"`
	HyperSearch  map[string]any `yaml:"hyper_search,omitempty"`
	StudyTimeout *float64       `yaml:"study_timeout,omitempty"`
}

// BoundsConfig holds generic search bounds and per-controller overrides.
type BoundsConfig struct {
	Min           []float64             `yaml:"min"`
	Max           []float64             `yaml:"max"`
	PerController map[string]BoundsPair `yaml:",inline"`
}

// BoundsPair is a lower/upper bound vector pair.
type BoundsPair struct {
	Min []float64 `yaml:"min"`
	Max []float64 `yaml:"max"`
}

// DerivedConfig holds computed values derived from the loaded config.
type DerivedConfig struct {
	Seed  *int64 // pso.seed, falling back to global_seed
	Steps int    // Simulation steps per run
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := cfg.merge(data); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.computeDerived()

	return cfg, nil
}

// Parse builds a configuration from YAML bytes merged over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}
	if err := cfg.merge(data); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.computeDerived()
	return cfg, nil
}

// merge unmarshals data over the current values. Only fields present in
// data are overwritten, except for inline maps which yaml.v3 extends.
func (c *Config) merge(data []byte) error {
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

// Validate checks value ranges and rejects deprecated keys.
func (c *Config) Validate() error {
	if err := c.PSO.checkDeprecated(); err != nil {
		return err
	}

	if c.Simulation.Duration <= 0 || c.Simulation.DT <= 0 {
		return fmt.Errorf("%w: simulation duration and dt must be positive (got %g, %g)",
			ErrInvalid, c.Simulation.Duration, c.Simulation.DT)
	}
	if len(c.Simulation.InitialState) != 6 {
		return fmt.Errorf("%w: simulation.initial_state needs 6 entries, got %d",
			ErrInvalid, len(c.Simulation.InitialState))
	}

	w := c.Cost.Weights
	if w.StateError < 0 || w.ControlEffort < 0 || w.ControlRate < 0 || w.Stability < 0 {
		return fmt.Errorf("%w: cost weights must be non-negative", ErrInvalid)
	}
	if w.StateError+w.ControlEffort+w.ControlRate+w.Stability == 0 {
		return fmt.Errorf("%w: cost weights are all zero", ErrInvalid)
	}

	cw := c.Cost.CombineWeights
	if cw.Mean < 0 || cw.Max < 0 || math.Abs(cw.Mean+cw.Max-1) > 1e-9 {
		return fmt.Errorf("%w: combine_weights must be non-negative and sum to 1 (got %g, %g)",
			ErrInvalid, cw.Mean, cw.Max)
	}
	if p := c.Cost.InstabilityPenalty; p != nil && *p <= 0 {
		return fmt.Errorf("%w: instability_penalty must be positive", ErrInvalid)
	}
	if c.Cost.InstabilityPenalty == nil && c.Cost.InstabilityPenaltyFactor <= 0 {
		return fmt.Errorf("%w: instability_penalty_factor must be positive", ErrInvalid)
	}
	if n := c.Cost.Norms; n != nil && (n.ISE < 0 || n.U < 0 || n.DU < 0 || n.Sigma < 0) {
		return fmt.Errorf("%w: cost norms must be non-negative", ErrInvalid)
	}

	if c.Uncertainty.NEvals < 0 {
		return fmt.Errorf("%w: physics_uncertainty.n_evals must be >= 0", ErrInvalid)
	}
	for name, f := range c.Uncertainty.Fractions {
		if f < 0 || f >= 1 {
			return fmt.Errorf("%w: uncertainty fraction for %s must be in [0, 1)", ErrInvalid, name)
		}
	}

	if c.PSO.NParticles <= 0 || c.PSO.Iters <= 0 {
		return fmt.Errorf("%w: pso.n_particles and pso.iters must be positive (got %d, %d)",
			ErrInvalid, c.PSO.NParticles, c.PSO.Iters)
	}
	if n := len(c.PSO.WSchedule); n != 0 && n != 2 {
		return fmt.Errorf("%w: pso.w_schedule needs [start, end], got %d values", ErrInvalid, n)
	}
	if n := len(c.PSO.VelocityClamp); n != 0 && n != 2 {
		return fmt.Errorf("%w: pso.velocity_clamp needs [lo, hi], got %d values", ErrInvalid, n)
	}
	if len(c.PSO.VelocityClamp) == 2 && c.PSO.VelocityClamp[0] >= c.PSO.VelocityClamp[1] {
		return fmt.Errorf("%w: pso.velocity_clamp lo must be below hi", ErrInvalid)
	}

	return nil
}

// checkDeprecated rejects the legacy multi-process and hyperparameter
// search knobs when present with a non-default value.
func (p *PSOConfig) checkDeprecated() error {
	if p.NProcesses != nil && *p.NProcesses != 1 {
		return fmt.Errorf("%w: pso.n_processes", ErrDeprecatedKey)
	}
	if p.HyperTrials != nil {
		return fmt.Errorf("%w: pso.hyper_trials", ErrDeprecatedKey)
	}
	if len(p.HyperSearch) > 0 {
		return fmt.Errorf("%w: pso.hyper_search", ErrDeprecatedKey)
	}
	if p.StudyTimeout != nil {
		return fmt.Errorf("%w: pso.study_timeout", ErrDeprecatedKey)
	}
	return nil
}

// computeDerived calculates values derived from loaded config.
func (c *Config) computeDerived() {
	c.Derived.Seed = c.GlobalSeed
	if c.PSO.Seed != nil {
		c.Derived.Seed = c.PSO.Seed
	}
	c.Derived.Steps = int(math.Round(c.Simulation.Duration / c.Simulation.DT))
}

// Controller returns the settings for a controller type.
func (c *Config) Controller(name string) (ControllerConfig, bool) {
	cc, ok := c.Controllers[name]
	return cc, ok
}

// BoundsFor returns the bound vectors for a controller type, falling back
// to the generic pso.bounds.min/max.
func (c *Config) BoundsFor(name string) (lo, hi []float64) {
	if pair, ok := c.PSO.Bounds.PerController[name]; ok && (len(pair.Min) > 0 || len(pair.Max) > 0) {
		return pair.Min, pair.Max
	}
	return c.PSO.Bounds.Min, c.PSO.Bounds.Max
}

// WithGains returns a copy of the config with the gains of one controller
// type replaced.
func (c *Config) WithGains(name string, gains []float64) *Config {
	out := *c
	out.Controllers = make(map[string]ControllerConfig, len(c.Controllers))
	for k, v := range c.Controllers {
		out.Controllers[k] = v
	}
	cc := out.Controllers[name]
	cc.Gains = append([]float64(nil), gains...)
	out.Controllers[name] = cc
	return &out
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
