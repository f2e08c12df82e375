package advantage

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Estimate holds the advantages of every usable step. Returns are computed on
// first use.
type Estimate struct {
	Advantages *mat.Dense

	returns     *mat.Dense
	returnsFunc func() (*mat.Dense, error)
}

// Returns yields the regression targets for the value function.
func (e *Estimate) Returns() (*mat.Dense, error) {
	if e.returns != nil {
		return e.returns, nil
	}
	r, err := e.returnsFunc()
	if err != nil {
		return nil, err
	}
	e.returns = r
	return r, nil
}

type Estimator interface {
	Estimate(Input) (*Estimate, error)
	// NeedsValues reports whether Input.Values must be set
	NeedsValues() bool
}

type Kind int

const (
	GAE Kind = iota
	Empirical
	NoValue
)

func (k Kind) String() string {
	switch k {
	case GAE:
		return "gae"
	case Empirical:
		return "empirical"
	case NoValue:
		return "novalue"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "gae":
		return GAE, nil
	case "empirical":
		return Empirical, nil
	case "novalue", "none", "plain":
		return NoValue, nil
	}
	return GAE, fmt.Errorf("%w: unknown estimator %q", ErrInvalidConfig, s)
}

// NewEstimator selects an estimation strategy. lambda and tdLambda only apply to GAE.
func NewEstimator(kind Kind, discount, lambda float64, tdLambda bool) (Estimator, error) {
	if discount < 0 || discount > 1 {
		return nil, fmt.Errorf("%w: discount %v outside [0, 1]", ErrInvalidConfig, discount)
	}
	switch kind {
	case GAE:
		if lambda < 0 || lambda > 1 {
			return nil, fmt.Errorf("%w: lambda %v outside [0, 1]", ErrInvalidConfig, lambda)
		}
		return &GeneralizedAdvantageEstimation{Discount: discount, Lambda: lambda, UseTDLambdaReturns: tdLambda}, nil
	case Empirical:
		return &EmpiricalAdvantageEstimation{Discount: discount}, nil
	case NoValue:
		return &DiscountedReturnEstimation{Discount: discount}, nil
	}
	return nil, fmt.Errorf("%w: unknown estimator kind %d", ErrInvalidConfig, int(kind))
}

// GeneralizedAdvantageEstimation accumulates TD residuals backwards:
// A[t] = delta[t] + discount*lambda*notLast[t]*A[t+1].
type GeneralizedAdvantageEstimation struct {
	Discount float64
	Lambda   float64
	// UseTDLambdaReturns makes Returns yield advantages + values instead of
	// the discounted returns
	UseTDLambdaReturns bool
}

var _ Estimator = &GeneralizedAdvantageEstimation{}

func (g *GeneralizedAdvantageEstimation) NeedsValues() bool { return true }

func (g *GeneralizedAdvantageEstimation) Estimate(in Input) (*Estimate, error) {
	n, lanes, err := in.dims()
	if err != nil {
		return nil, err
	}
	if in.Values == nil {
		return nil, ErrNoValues
	}
	adv := mat.NewDense(n, lanes, nil)
	for b := 0; b < lanes; b++ {
		nextValue := in.final(b)
		nextAdv := 0.0
		for t := n - 1; t >= 0; t-- {
			notLast := in.notLast(t, b, lanes)
			value := in.Values.At(t, b)
			delta := in.Rewards.At(t, b) + g.Discount*nextValue*notLast - value
			a := delta + g.Discount*g.Lambda*notLast*nextAdv
			adv.Set(t, b, a)
			nextValue = value
			nextAdv = a
		}
	}
	est := &Estimate{Advantages: adv}
	if g.UseTDLambdaReturns {
		est.returnsFunc = func() (*mat.Dense, error) {
			r := mat.NewDense(n, lanes, nil)
			r.Add(adv, in.Values)
			return r, nil
		}
	} else {
		est.returnsFunc = func() (*mat.Dense, error) {
			return DiscountedReturns(in, g.Discount)
		}
	}
	return est, nil
}

// EmpiricalAdvantageEstimation uses the discounted return minus the value.
type EmpiricalAdvantageEstimation struct {
	Discount float64
}

var _ Estimator = &EmpiricalAdvantageEstimation{}

func (e *EmpiricalAdvantageEstimation) NeedsValues() bool { return true }

func (e *EmpiricalAdvantageEstimation) Estimate(in Input) (*Estimate, error) {
	n, lanes, err := in.dims()
	if err != nil {
		return nil, err
	}
	if in.Values == nil {
		return nil, ErrNoValues
	}
	returns, err := DiscountedReturns(in, e.Discount)
	if err != nil {
		return nil, err
	}
	adv := mat.NewDense(n, lanes, nil)
	adv.Sub(returns, in.Values)
	return &Estimate{Advantages: adv, returns: returns}, nil
}

// DiscountedReturnEstimation is the plain estimator for policies without a
// value head: the advantage is the discounted return itself.
type DiscountedReturnEstimation struct {
	Discount float64
}

var _ Estimator = &DiscountedReturnEstimation{}

func (d *DiscountedReturnEstimation) NeedsValues() bool { return false }

func (d *DiscountedReturnEstimation) Estimate(in Input) (*Estimate, error) {
	returns, err := DiscountedReturns(in, d.Discount)
	if err != nil {
		return nil, err
	}
	return &Estimate{Advantages: mat.DenseCopyOf(returns), returns: returns}, nil
}
