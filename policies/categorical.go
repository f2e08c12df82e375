package policies

import (
	"math"

	"github.com/zeu5/rl-ppo/core"
	erand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/sampleuv"
)

// Categorical is a distribution over the discrete actions 0..n-1. Actions are
// encoded as a single float holding the action index.
type Categorical struct {
	probs    []float64
	logProbs []float64
}

var _ core.ActionDistribution = &Categorical{}

// NewCategorical applies a softmax to the logits.
func NewCategorical(logits []float64) *Categorical {
	lse := floats.LogSumExp(logits)
	c := &Categorical{
		probs:    make([]float64, len(logits)),
		logProbs: make([]float64, len(logits)),
	}
	for i, l := range logits {
		c.logProbs[i] = l - lse
		c.probs[i] = math.Exp(c.logProbs[i])
	}
	return c
}

func NewUniformCategorical(n int) *Categorical {
	return NewCategorical(make([]float64, n))
}

func (c *Categorical) Probabilities() []float64 {
	return c.probs
}

func (c *Categorical) Sample(src erand.Source) []float64 {
	// using the sampleuv library to sample based on the weights
	i, ok := sampleuv.NewWeighted(c.probs, src).Take()
	if !ok {
		i = floats.MaxIdx(c.probs)
	}
	return []float64{float64(i)}
}

func (c *Categorical) Mode() []float64 {
	return []float64{float64(floats.MaxIdx(c.probs))}
}

func (c *Categorical) index(action []float64) (int, bool) {
	if len(action) == 0 {
		return 0, false
	}
	i := int(action[0])
	return i, i >= 0 && i < len(c.probs)
}

func (c *Categorical) LogProb(action []float64) float64 {
	i, ok := c.index(action)
	if !ok {
		return math.Inf(-1)
	}
	return c.logProbs[i]
}

func (c *Categorical) Entropy() float64 {
	h := 0.0
	for i, p := range c.probs {
		if p > 0 {
			h -= p * c.logProbs[i]
		}
	}
	return h
}

// KL returns KL(c || to); NaN unless to is a Categorical over the same actions.
func (c *Categorical) KL(to core.ActionDistribution) float64 {
	other, ok := to.(*Categorical)
	if !ok || len(other.probs) != len(c.probs) {
		return math.NaN()
	}
	kl := 0.0
	for i, p := range c.probs {
		if p > 0 {
			kl += p * (c.logProbs[i] - other.logProbs[i])
		}
	}
	return kl
}
