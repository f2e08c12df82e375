package ppo

import (
	"errors"
	"fmt"

	"github.com/zeu5/rl-ppo/advantage"
)

var (
	ErrInvalidConfig = errors.New("invalid ppo configuration")
	ErrTooShort      = errors.New("trajectory needs at least two time steps")
	ErrMissingValues = errors.New("estimator requires a value head")
	ErrDiverged      = errors.New("loss is not finite")
)

// KLPenaltyConfig configures the divergence penalty. The quadratic cutoff
// term is always applied; the linear adaptive term only when InitialBeta is set.
type KLPenaltyConfig struct {
	CutoffFactor      float64
	CutoffCoefficient float64
	// InitialBeta is the starting adaptive coefficient, nil disables the adaptive term
	InitialBeta       *float64
	Target            float64
	ToleranceFactor   float64
	BetaScalingFactor float64
}

func DefaultKLPenalty() *KLPenaltyConfig {
	beta := 1.0
	return &KLPenaltyConfig{
		CutoffFactor:      2,
		CutoffCoefficient: 1000,
		InitialBeta:       &beta,
		Target:            0.01,
		ToleranceFactor:   1.5,
		BetaScalingFactor: 2,
	}
}

func (k *KLPenaltyConfig) adaptive() bool {
	return k != nil && k.InitialBeta != nil
}

type ValueLossConfig struct {
	Weight float64
	// ClipThreshold bounds how far the new value may move from the old one, 0 disables
	ClipThreshold float64
}

// Config is the static configuration of the update. A zero ClipEpsilon,
// EntropyWeight or MaxGradientNorm disables the corresponding mechanism and a
// nil KLPenalty disables the divergence penalty.
type Config struct {
	ClipEpsilon     float64
	KLPenalty       *KLPenaltyConfig
	ValueLoss       ValueLossConfig
	EntropyWeight   float64
	EpochCount      int
	MaxGradientNorm float64

	Discount               float64
	Lambda                 float64
	Estimator              advantage.Kind
	UseTDLambdaReturns     bool
	AdvantageNormalization advantage.Normalization
	// ReturnNormalization trains the value head towards normalized targets while
	// the estimators still bootstrap from it as a raw-scale return. It cannot be
	// combined with a value clip threshold, which compares against raw old values.
	ReturnNormalization advantage.Normalization
}

func DefaultConfig() Config {
	return Config{
		ClipEpsilon:            0.2,
		ValueLoss:              ValueLossConfig{Weight: 0.5},
		EntropyWeight:          0.01,
		EpochCount:             4,
		MaxGradientNorm:        0.5,
		Discount:               0.99,
		Lambda:                 0.95,
		Estimator:              advantage.GAE,
		AdvantageNormalization: advantage.NormalizeBatch,
	}
}

func (c Config) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}
	if c.EpochCount <= 0 {
		return invalid("epoch count %d", c.EpochCount)
	}
	if c.Discount < 0 || c.Discount > 1 {
		return invalid("discount %v outside [0, 1]", c.Discount)
	}
	if c.Lambda < 0 || c.Lambda > 1 {
		return invalid("lambda %v outside [0, 1]", c.Lambda)
	}
	if c.ClipEpsilon < 0 {
		return invalid("clip epsilon %v", c.ClipEpsilon)
	}
	if c.ValueLoss.Weight < 0 || c.ValueLoss.ClipThreshold < 0 {
		return invalid("value loss weight %v, clip threshold %v", c.ValueLoss.Weight, c.ValueLoss.ClipThreshold)
	}
	if c.ReturnNormalization != advantage.NormalizeNone && c.ValueLoss.ClipThreshold > 0 {
		return invalid("return normalization %s with value clip threshold %v", c.ReturnNormalization, c.ValueLoss.ClipThreshold)
	}
	if c.EntropyWeight < 0 {
		return invalid("entropy weight %v", c.EntropyWeight)
	}
	if c.MaxGradientNorm < 0 {
		return invalid("max gradient norm %v", c.MaxGradientNorm)
	}
	if k := c.KLPenalty; k != nil {
		if k.Target <= 0 || k.ToleranceFactor <= 0 || k.BetaScalingFactor <= 0 || k.CutoffFactor <= 0 {
			return invalid("kl target %v, tolerance %v, scaling %v, cutoff factor %v must be positive",
				k.Target, k.ToleranceFactor, k.BetaScalingFactor, k.CutoffFactor)
		}
		if k.CutoffCoefficient < 0 {
			return invalid("kl cutoff coefficient %v", k.CutoffCoefficient)
		}
		if k.InitialBeta != nil && *k.InitialBeta < 0 {
			return invalid("initial beta %v", *k.InitialBeta)
		}
	}
	return nil
}
