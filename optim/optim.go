// Package optim holds first-order optimizers that update a flat parameter
// vector in place.
package optim

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/zeu5/rl-ppo/core"
	"gonum.org/v1/gonum/floats"
)

// SGD is plain gradient descent.
type SGD struct {
	LearningRate float64
}

var _ core.Optimizer = &SGD{}

func NewSGD(lr float64) *SGD {
	return &SGD{LearningRate: lr}
}

func (s *SGD) Step(params, grad []float64) {
	floats.AddScaled(params, -s.LearningRate, grad)
}

func (s *SGD) Reset() {}

// Adam keeps bias-corrected running estimates of the first and second
// moments of the gradient.
type Adam struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64

	m, v []float64
	t    int
}

var _ core.Optimizer = &Adam{}

func NewAdam(lr float64) *Adam {
	return &Adam{
		LearningRate: lr,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
	}
}

func (a *Adam) Step(params, grad []float64) {
	if len(a.m) != len(params) {
		a.m = make([]float64, len(params))
		a.v = make([]float64, len(params))
		a.t = 0
	}
	a.t++
	c1 := 1 - math.Pow(a.Beta1, float64(a.t))
	c2 := 1 - math.Pow(a.Beta2, float64(a.t))
	for i, g := range grad {
		a.m[i] = a.Beta1*a.m[i] + (1-a.Beta1)*g
		a.v[i] = a.Beta2*a.v[i] + (1-a.Beta2)*g*g
		mHat := a.m[i] / c1
		vHat := a.v[i] / c2
		params[i] -= a.LearningRate * mHat / (math.Sqrt(vHat) + a.Epsilon)
	}
}

// Reset drops the moment estimates.
func (a *Adam) Reset() {
	a.m, a.v, a.t = nil, nil, 0
}

// ClipByGlobalNorm rescales grad in place so that its L2 norm is at most
// maxNorm and returns the norm before clipping. A non-positive maxNorm only
// measures.
func ClipByGlobalNorm(grad []float64, maxNorm float64) float64 {
	if len(grad) == 0 {
		return 0
	}
	norm := floats.Norm(grad, 2)
	if maxNorm > 0 && norm > maxNorm {
		floats.Scale(maxNorm/norm, grad)
	}
	return norm
}

type Kind string

const (
	KindSGD  Kind = "sgd"
	KindAdam Kind = "adam"
)

var ErrUnknownKind = errors.New("unknown optimizer")

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(s)); k {
	case KindSGD, KindAdam:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Constructor builds a fresh optimizer per agent.
type Constructor struct {
	Kind         Kind
	LearningRate float64
}

var _ core.OptimizerConstructor = &Constructor{}

func (c *Constructor) NewOptimizer() core.Optimizer {
	if c.Kind == KindSGD {
		return NewSGD(c.LearningRate)
	}
	return NewAdam(c.LearningRate)
}
