package common

import (
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/zeu5/rl-ppo/advantage"
	"github.com/zeu5/rl-ppo/core"
	"github.com/zeu5/rl-ppo/optim"
	"github.com/zeu5/rl-ppo/ppo"
	"github.com/zeu5/rl-ppo/util"
)

var ErrInvalidFlags = errors.New("invalid flags")

type Flags struct {
	SavePath    string `json:"save_path" yaml:"save_path"`
	Parallelism int    `json:"parallelism" yaml:"parallelism"`
	LogLevel    string `json:"log_level" yaml:"log_level"`
	LogFormat   string `json:"log_format" yaml:"log_format"`
	// Seed fixes environments, buffers and action sampling when non-zero
	Seed uint64 `json:"seed" yaml:"seed"`
	// DebugIteration is the first iteration whose episodes are dumped, negative disables
	DebugIteration int `json:"debug_iteration" yaml:"debug_iteration"`

	EnvFlags `yaml:",inline"`
	PPOFlags `yaml:",inline"`
	RunFlags `yaml:",inline"`
}

type EnvFlags struct {
	BatchSize   int `json:"batch_size" yaml:"batch_size"`
	ChainLength int `json:"chain_length" yaml:"chain_length"`
}

type PPOFlags struct {
	ClipEpsilon         float64 `json:"clip_epsilon" yaml:"clip_epsilon"`
	KLTarget            float64 `json:"kl_target" yaml:"kl_target"`
	KLCutoffFactor      float64 `json:"kl_cutoff_factor" yaml:"kl_cutoff_factor"`
	KLCutoffCoefficient float64 `json:"kl_cutoff_coefficient" yaml:"kl_cutoff_coefficient"`
	// InitialBeta enables the adaptive penalty term when positive
	InitialBeta       float64 `json:"initial_beta" yaml:"initial_beta"`
	KLTolerance       float64 `json:"kl_tolerance" yaml:"kl_tolerance"`
	BetaScalingFactor float64 `json:"beta_scaling_factor" yaml:"beta_scaling_factor"`

	ValueWeight        float64 `json:"value_weight" yaml:"value_weight"`
	ValueClipThreshold float64 `json:"value_clip_threshold" yaml:"value_clip_threshold"`
	EntropyWeight      float64 `json:"entropy_weight" yaml:"entropy_weight"`
	Epochs             int     `json:"epochs" yaml:"epochs"`
	MaxGradientNorm    float64 `json:"max_gradient_norm" yaml:"max_gradient_norm"`

	Discount               float64 `json:"discount" yaml:"discount"`
	Lambda                 float64 `json:"lambda" yaml:"lambda"`
	Estimator              string  `json:"estimator" yaml:"estimator"`
	TDLambdaReturns        bool    `json:"td_lambda_returns" yaml:"td_lambda_returns"`
	AdvantageNormalization string  `json:"advantage_normalization" yaml:"advantage_normalization"`
	ReturnNormalization    string  `json:"return_normalization" yaml:"return_normalization"`

	Optimizer    string  `json:"optimizer" yaml:"optimizer"`
	LearningRate float64 `json:"learning_rate" yaml:"learning_rate"`
	// BufferLength is the number of time steps each lane of the buffer holds
	BufferLength int `json:"buffer_length" yaml:"buffer_length"`
}

type RunFlags struct {
	NumRuns                int           `json:"num_runs" yaml:"num_runs"`
	Iterations             int           `json:"iterations" yaml:"iterations"`
	StepsPerIteration      int           `json:"steps_per_iteration" yaml:"steps_per_iteration"`
	EpisodesPerIteration   int           `json:"episodes_per_iteration" yaml:"episodes_per_iteration"`
	MaxConsecutiveErrors   int           `json:"max_consecutive_errors" yaml:"max_consecutive_errors"`
	MaxConsecutiveTimeouts int           `json:"max_consecutive_timeouts" yaml:"max_consecutive_timeouts"`
	IterationTimeout       time.Duration `json:"iteration_timeout" yaml:"iteration_timeout"`
}

func DefaultFlags() *Flags {
	defaults := ppo.DefaultConfig()
	kl := ppo.DefaultKLPenalty()
	return &Flags{
		SavePath:       "results",
		Parallelism:    4,
		LogLevel:       "info",
		LogFormat:      "text",
		DebugIteration: -1,
		EnvFlags: EnvFlags{
			BatchSize:   8,
			ChainLength: 8,
		},
		PPOFlags: PPOFlags{
			ClipEpsilon:            defaults.ClipEpsilon,
			KLTarget:               kl.Target,
			KLCutoffFactor:         kl.CutoffFactor,
			KLCutoffCoefficient:    kl.CutoffCoefficient,
			InitialBeta:            *kl.InitialBeta,
			KLTolerance:            kl.ToleranceFactor,
			BetaScalingFactor:      kl.BetaScalingFactor,
			ValueWeight:            defaults.ValueLoss.Weight,
			ValueClipThreshold:     defaults.ValueLoss.ClipThreshold,
			EntropyWeight:          defaults.EntropyWeight,
			Epochs:                 defaults.EpochCount,
			MaxGradientNorm:        defaults.MaxGradientNorm,
			Discount:               defaults.Discount,
			Lambda:                 defaults.Lambda,
			Estimator:              defaults.Estimator.String(),
			TDLambdaReturns:        defaults.UseTDLambdaReturns,
			AdvantageNormalization: defaults.AdvantageNormalization.String(),
			ReturnNormalization:    defaults.ReturnNormalization.String(),
			Optimizer:              string(optim.KindAdam),
			LearningRate:           3e-3,
			BufferLength:           128,
		},
		RunFlags: RunFlags{
			NumRuns:                1,
			Iterations:             100,
			StepsPerIteration:      1024,
			MaxConsecutiveErrors:   5,
			MaxConsecutiveTimeouts: 5,
			IterationTimeout:       time.Minute,
		},
	}
}

// Load overlays the yaml file at path onto f.
func (f *Flags) Load(path string) error {
	return util.LoadYaml(path, f)
}

// Record saves the flags to <SavePath>/config.json.
func (f *Flags) Record() error {
	return util.SaveJson(path.Join(f.SavePath, "config.json"), f)
}

// Fingerprint identifies the configuration, stable across field order.
func (f *Flags) Fingerprint() string {
	return util.JsonHash(f)
}

// KLPenalty builds the divergence penalty, nil when KLTarget is not positive.
func (f *Flags) KLPenalty() *ppo.KLPenaltyConfig {
	if f.KLTarget <= 0 {
		return nil
	}
	k := &ppo.KLPenaltyConfig{
		CutoffFactor:      f.KLCutoffFactor,
		CutoffCoefficient: f.KLCutoffCoefficient,
		Target:            f.KLTarget,
		ToleranceFactor:   f.KLTolerance,
		BetaScalingFactor: f.BetaScalingFactor,
	}
	if f.InitialBeta > 0 {
		beta := f.InitialBeta
		k.InitialBeta = &beta
	}
	return k
}

// PPOConfig builds and validates the update configuration.
func (f *Flags) PPOConfig() (ppo.Config, error) {
	estimator, err := advantage.ParseKind(f.Estimator)
	if err != nil {
		return ppo.Config{}, fmt.Errorf("%w: %s", ErrInvalidFlags, err)
	}
	advNorm, err := advantage.ParseNormalization(f.AdvantageNormalization)
	if err != nil {
		return ppo.Config{}, fmt.Errorf("%w: %s", ErrInvalidFlags, err)
	}
	retNorm, err := advantage.ParseNormalization(f.ReturnNormalization)
	if err != nil {
		return ppo.Config{}, fmt.Errorf("%w: %s", ErrInvalidFlags, err)
	}
	cfg := ppo.Config{
		ClipEpsilon: f.ClipEpsilon,
		KLPenalty:   f.KLPenalty(),
		ValueLoss: ppo.ValueLossConfig{
			Weight:        f.ValueWeight,
			ClipThreshold: f.ValueClipThreshold,
		},
		EntropyWeight:          f.EntropyWeight,
		EpochCount:             f.Epochs,
		MaxGradientNorm:        f.MaxGradientNorm,
		Discount:               f.Discount,
		Lambda:                 f.Lambda,
		Estimator:              estimator,
		UseTDLambdaReturns:     f.TDLambdaReturns,
		AdvantageNormalization: advNorm,
		ReturnNormalization:    retNorm,
	}
	if err := cfg.Validate(); err != nil {
		return ppo.Config{}, err
	}
	return cfg, nil
}

func (f *Flags) OptimizerConstructor() (*optim.Constructor, error) {
	kind, err := optim.ParseKind(f.Optimizer)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidFlags, err)
	}
	if f.LearningRate <= 0 {
		return nil, fmt.Errorf("%w: learning rate %v", ErrInvalidFlags, f.LearningRate)
	}
	return &optim.Constructor{Kind: kind, LearningRate: f.LearningRate}, nil
}

func (f *Flags) RunConfig() *core.RunConfig {
	return &core.RunConfig{
		Iterations: f.Iterations,
		Collect: core.CollectConfig{
			MaxSteps:    f.StepsPerIteration,
			MaxEpisodes: f.EpisodesPerIteration,
		},
		IterationTimeout:             f.IterationTimeout,
		ThresholdConsecutiveErrors:   f.MaxConsecutiveErrors,
		ThresholdConsecutiveTimeouts: f.MaxConsecutiveTimeouts,
	}
}

// Validate checks the flags that are not covered by PPOConfig.
func (f *Flags) Validate() error {
	switch {
	case f.BatchSize <= 0:
		return fmt.Errorf("%w: batch size %d", ErrInvalidFlags, f.BatchSize)
	case f.BufferLength < 2:
		return fmt.Errorf("%w: buffer length %d, need at least 2", ErrInvalidFlags, f.BufferLength)
	case f.Iterations <= 0 || f.NumRuns <= 0:
		return fmt.Errorf("%w: %d iterations, %d runs", ErrInvalidFlags, f.Iterations, f.NumRuns)
	case f.StepsPerIteration <= 0 && f.EpisodesPerIteration <= 0:
		return fmt.Errorf("%w: no collection budget", ErrInvalidFlags)
	case f.MaxConsecutiveErrors <= 0 || f.MaxConsecutiveTimeouts <= 0:
		return fmt.Errorf("%w: consecutive error and timeout thresholds must be positive", ErrInvalidFlags)
	}
	return nil
}
