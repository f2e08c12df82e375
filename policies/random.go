package policies

import (
	"github.com/zeu5/rl-ppo/core"
	"gonum.org/v1/gonum/mat"
)

// UniformNetwork picks every action with equal probability. It has no
// parameters and no value head, so an agent built on it is a random baseline.
type UniformNetwork struct {
	actions int
}

var _ core.Network = &UniformNetwork{}

func NewUniformNetwork(actions int) *UniformNetwork {
	return &UniformNetwork{actions: actions}
}

func (u *UniformNetwork) Forward(traj *core.Trajectory, state *mat.Dense) (*core.Output, *mat.Dense, error) {
	rows := traj.Rows()
	out := &core.Output{Distributions: make([]core.ActionDistribution, rows)}
	dist := NewUniformCategorical(u.actions)
	for i := range out.Distributions {
		out.Distributions[i] = dist
	}
	return out, state, nil
}

func (u *UniformNetwork) ValueAndGradient(traj *core.Trajectory, state *mat.Dense, loss core.LossFunc) (float64, []float64, error) {
	out, _, err := u.Forward(traj, state)
	if err != nil {
		return 0, nil, err
	}
	value, _ := loss(out)
	return value, []float64{}, nil
}

func (u *UniformNetwork) Parameters() []float64 {
	return []float64{}
}

func (u *UniformNetwork) Reset() {}

type UniformNetworkConstructor struct {
	Actions int
}

func (c *UniformNetworkConstructor) NewNetwork() core.Network {
	return NewUniformNetwork(c.Actions)
}
