package envs

import (
	"fmt"

	"github.com/zeu5/rl-ppo/core"
	"gonum.org/v1/gonum/mat"
)

// ChainActions is the size of the action space of Chain.
const ChainActions = 2

// Chain is a deterministic corridor of Length cells observed as a one-hot
// position. Action 1 moves right, anything else moves left. Reaching the last
// cell earns a reward of 1 and ends the episode; so does running out of
// 2*Length steps, without reward.
type Chain struct {
	length    int
	batchSize int
	positions []int
	steps     []int
}

var _ core.Environment = &Chain{}

func NewChain(length, batchSize int) *Chain {
	return &Chain{
		length:    length,
		batchSize: batchSize,
		positions: make([]int, batchSize),
		steps:     make([]int, batchSize),
	}
}

func (c *Chain) BatchSize() int {
	return c.batchSize
}

func (c *Chain) ObservationSize() int {
	return c.length
}

// MaxSteps is the step limit of an episode.
func (c *Chain) MaxSteps() int {
	return 2 * c.length
}

func (c *Chain) observation() *mat.Dense {
	obs := mat.NewDense(c.batchSize, c.length, nil)
	for lane, p := range c.positions {
		obs.Set(lane, p, 1)
	}
	return obs
}

func (c *Chain) Reset() (*core.TimeStep, error) {
	for lane := range c.positions {
		c.positions[lane] = 0
		c.steps[lane] = 0
	}
	return &core.TimeStep{
		Kind:        make([]core.StepKind, c.batchSize),
		Observation: c.observation(),
		Reward:      make([]float64, c.batchSize),
	}, nil
}

func (c *Chain) Step(_ *core.StepContext, actions *mat.Dense) (*core.TimeStep, error) {
	if r, _ := actions.Dims(); r != c.batchSize {
		return nil, fmt.Errorf("%w: got %d rows, want %d", ErrActionShape, r, c.batchSize)
	}
	ts := &core.TimeStep{
		Kind:   make([]core.StepKind, c.batchSize),
		Reward: make([]float64, c.batchSize),
	}
	for lane := range c.positions {
		if int(actions.At(lane, 0)) == 1 {
			c.positions[lane]++
		} else if c.positions[lane] > 0 {
			c.positions[lane]--
		}
		c.steps[lane]++

		ts.Kind[lane] = core.Transition
		reached := c.positions[lane] == c.length-1
		if reached {
			ts.Reward[lane] = 1
		}
		if reached || c.steps[lane] >= c.MaxSteps() {
			ts.Kind[lane] = core.Last
			c.positions[lane] = 0
			c.steps[lane] = 0
		}
	}
	ts.Observation = c.observation()
	return ts, nil
}

type ChainConstructor struct {
	Length    int
	BatchSize int
}

var _ core.EnvironmentConstructor = &ChainConstructor{}

func (c *ChainConstructor) NewEnvironment(_ int) core.Environment {
	return NewChain(c.Length, c.BatchSize)
}
