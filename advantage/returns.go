// Package advantage computes discounted returns and advantage estimates over
// time-major [n, B] batches. No information crosses a Last step: a row of kind
// Last never bootstraps from the row after it.
package advantage

import (
	"errors"
	"fmt"

	"github.com/zeu5/rl-ppo/core"
	"gonum.org/v1/gonum/mat"
)

var (
	ErrShapeMismatch = errors.New("estimator input shapes do not agree")
	ErrNoSteps       = errors.New("no usable steps")
	ErrNoValues      = errors.New("estimator requires values")
	ErrInvalidConfig = errors.New("invalid estimator configuration")
)

// Input is one batch of estimator inputs. Kinds is time-major with n*B
// entries, Rewards and Values are n x B, FinalValue holds the bootstrap value
// of every lane and may be nil for zeros.
type Input struct {
	Kinds      []core.StepKind
	Rewards    *mat.Dense
	Values     *mat.Dense
	FinalValue []float64
}

func (in Input) dims() (int, int, error) {
	if in.Rewards == nil {
		return 0, 0, ErrNoSteps
	}
	n, b := in.Rewards.Dims()
	if len(in.Kinds) != n*b {
		return 0, 0, fmt.Errorf("%w: %d step kinds for [%d, %d] rewards", ErrShapeMismatch, len(in.Kinds), n, b)
	}
	if in.Values != nil {
		if vn, vb := in.Values.Dims(); vn != n || vb != b {
			return 0, 0, fmt.Errorf("%w: values [%d, %d], rewards [%d, %d]", ErrShapeMismatch, vn, vb, n, b)
		}
	}
	if in.FinalValue != nil && len(in.FinalValue) != b {
		return 0, 0, fmt.Errorf("%w: %d final values for %d lanes", ErrShapeMismatch, len(in.FinalValue), b)
	}
	return n, b, nil
}

func (in Input) notLast(t, b, lanes int) float64 {
	if in.Kinds[t*lanes+b] == core.Last {
		return 0
	}
	return 1
}

func (in Input) final(b int) float64 {
	if in.FinalValue == nil {
		return 0
	}
	return in.FinalValue[b]
}

// BootstrapInput splits the last time step of traj off as the bootstrap. values
// holds one entry per trajectory row and may be nil. The returned input covers
// the first T-1 steps.
func BootstrapInput(traj *core.Trajectory, values []float64) (Input, error) {
	if traj.T < 2 {
		return Input{}, fmt.Errorf("%w: %d time steps leave nothing after the bootstrap", ErrNoSteps, traj.T)
	}
	if values != nil && len(values) != traj.Rows() {
		return Input{}, fmt.Errorf("%w: %d values for %d rows", ErrShapeMismatch, len(values), traj.Rows())
	}
	n, lanes := traj.T-1, traj.B
	usable := n * lanes
	in := Input{
		Kinds:      append([]core.StepKind(nil), traj.Kind[:usable]...),
		Rewards:    mat.NewDense(n, lanes, append([]float64(nil), traj.Reward[:usable]...)),
		FinalValue: make([]float64, lanes),
	}
	if values != nil {
		in.Values = mat.NewDense(n, lanes, append([]float64(nil), values[:usable]...))
		copy(in.FinalValue, values[usable:])
	}
	return in, nil
}

// DiscountedReturns runs G[t] = r[t] + discount*G[t+1] backwards from
// G[n-1] = r[n-1] + discount*finalValue, dropping the bootstrap term at Last rows.
func DiscountedReturns(in Input, discount float64) (*mat.Dense, error) {
	n, lanes, err := in.dims()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrNoSteps
	}
	returns := mat.NewDense(n, lanes, nil)
	for b := 0; b < lanes; b++ {
		next := in.final(b)
		for t := n - 1; t >= 0; t-- {
			g := in.Rewards.At(t, b) + discount*next*in.notLast(t, b, lanes)
			returns.Set(t, b, g)
			next = g
		}
	}
	return returns, nil
}
