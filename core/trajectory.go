package core

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Trajectory is a time-major [T, B] view of Steps, row t*B+b holds time t of lane b.
type Trajectory struct {
	T int
	B int
	*Steps
}

func NewTrajectory(t, b int, steps *Steps) (*Trajectory, error) {
	if t <= 0 || b <= 0 {
		return nil, fmt.Errorf("%w: trajectory shape [%d, %d]", ErrShapeMismatch, t, b)
	}
	if err := steps.Validate(); err != nil {
		return nil, err
	}
	if steps.Rows() != t*b {
		return nil, fmt.Errorf("%w: %d rows do not form [%d, %d]", ErrShapeMismatch, steps.Rows(), t, b)
	}
	return &Trajectory{T: t, B: b, Steps: steps}, nil
}

func (tr *Trajectory) Row(t, b int) int {
	return t*tr.B + b
}

// Rewards returns the rewards laid out as a T x B matrix.
func (tr *Trajectory) Rewards() *mat.Dense {
	return mat.NewDense(tr.T, tr.B, append([]float64(nil), tr.Reward...))
}

// Slice copies the time range [t0, t1) into a new trajectory.
func (tr *Trajectory) Slice(t0, t1 int) (*Trajectory, error) {
	if t0 < 0 || t1 > tr.T || t0 >= t1 {
		return nil, fmt.Errorf("%w: time range [%d, %d) of %d steps", ErrShapeMismatch, t0, t1, tr.T)
	}
	rows := make([]int, 0, (t1-t0)*tr.B)
	for i := t0 * tr.B; i < t1*tr.B; i++ {
		rows = append(rows, i)
	}
	return &Trajectory{T: t1 - t0, B: tr.B, Steps: tr.Gather(rows)}, nil
}

// InitialState returns the policy state of the first time step, nil when the
// trajectory carries none.
func (tr *Trajectory) InitialState() *mat.Dense {
	if tr.PolicyState == nil {
		return nil
	}
	_, c := tr.PolicyState.Dims()
	return mat.DenseCopyOf(tr.PolicyState.Slice(0, tr.B, 0, c))
}
