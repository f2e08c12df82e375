// Package envs holds batched environments. Every lane resets itself after
// the step that ends its episode, so the observation returned with a Last
// step already belongs to the next episode.
package envs

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/zeu5/rl-ppo/core"
	erand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

var ErrActionShape = errors.New("action batch shape mismatch")

const (
	gravity        = 9.81
	massCart       = 1.0
	massPole       = 0.1
	poleLength     = 0.5
	totalMass      = massCart + massPole
	poleMassLength = massPole * poleLength
	forceMax       = 10.0
	tau            = 0.02

	xThreshold     = 2.4
	thetaThreshold = 12.0 * math.Pi / 180.0

	CartPoleMaxSteps        = 500
	CartPoleActions         = 2
	CartPoleObservationSize = 4
)

type cartState struct {
	x, xDot, theta, thetaDot float64
}

func (s cartState) row() []float64 {
	return []float64{s.x, s.xDot, s.theta, s.thetaDot}
}

// CartPole balances a pole on a cart in batchSize independent lanes. Action 0
// pushes left, 1 pushes right; every step earns a reward of 1 and an episode
// ends when the pole falls, the cart leaves the track or after
// CartPoleMaxSteps steps.
type CartPole struct {
	batchSize int
	states    []cartState
	steps     []int
	rand      *erand.Rand
}

var _ core.Environment = &CartPole{}

func NewCartPole(batchSize int, seed uint64) *CartPole {
	return &CartPole{
		batchSize: batchSize,
		states:    make([]cartState, batchSize),
		steps:     make([]int, batchSize),
		rand:      erand.New(erand.NewSource(seed)),
	}
}

func (c *CartPole) BatchSize() int {
	return c.batchSize
}

func (c *CartPole) ObservationSize() int {
	return CartPoleObservationSize
}

func (c *CartPole) uniform() float64 {
	return c.rand.Float64()*0.1 - 0.05
}

func (c *CartPole) resetLane(lane int) {
	c.states[lane] = cartState{
		x:        c.uniform(),
		xDot:     c.uniform(),
		theta:    c.uniform(),
		thetaDot: c.uniform(),
	}
	c.steps[lane] = 0
}

func (c *CartPole) observation() *mat.Dense {
	obs := mat.NewDense(c.batchSize, 4, nil)
	for lane, s := range c.states {
		obs.SetRow(lane, s.row())
	}
	return obs
}

func (c *CartPole) Reset() (*core.TimeStep, error) {
	for lane := range c.states {
		c.resetLane(lane)
	}
	return &core.TimeStep{
		Kind:        make([]core.StepKind, c.batchSize),
		Observation: c.observation(),
		Reward:      make([]float64, c.batchSize),
	}, nil
}

func (c *CartPole) Step(_ *core.StepContext, actions *mat.Dense) (*core.TimeStep, error) {
	if r, _ := actions.Dims(); r != c.batchSize {
		return nil, fmt.Errorf("%w: got %d rows, want %d", ErrActionShape, r, c.batchSize)
	}
	ts := &core.TimeStep{
		Kind:   make([]core.StepKind, c.batchSize),
		Reward: make([]float64, c.batchSize),
	}
	for lane := range c.states {
		if c.advance(lane, int(actions.At(lane, 0))) {
			ts.Kind[lane] = core.Last
			c.resetLane(lane)
		} else {
			ts.Kind[lane] = core.Transition
		}
		ts.Reward[lane] = 1
	}
	ts.Observation = c.observation()
	return ts, nil
}

// advance integrates one Euler step of a lane and reports whether its episode ended.
func (c *CartPole) advance(lane, action int) bool {
	s := c.states[lane]
	force := forceMax
	if action == 0 {
		force = -forceMax
	}
	cosTheta := math.Cos(s.theta)
	sinTheta := math.Sin(s.theta)

	temp := (force + poleMassLength*s.thetaDot*s.thetaDot*sinTheta) / totalMass
	thetaAcc := (gravity*sinTheta - cosTheta*temp) / (poleLength * (4.0/3.0 - massPole*cosTheta*cosTheta/totalMass))
	xAcc := temp - poleMassLength*thetaAcc*cosTheta/totalMass

	s.x += tau * s.xDot
	s.xDot += tau * xAcc
	s.theta += tau * s.thetaDot
	s.thetaDot += tau * thetaAcc
	c.states[lane] = s
	c.steps[lane]++

	return s.x < -xThreshold || s.x > xThreshold ||
		s.theta < -thetaThreshold || s.theta > thetaThreshold ||
		c.steps[lane] >= CartPoleMaxSteps
}

type CartPoleConstructor struct {
	BatchSize int
	// Seed fixes the initial states when non-zero
	Seed uint64
}

var _ core.EnvironmentConstructor = &CartPoleConstructor{}

func NewCartPoleConstructor(batchSize int) *CartPoleConstructor {
	return &CartPoleConstructor{BatchSize: batchSize}
}

func (c *CartPoleConstructor) NewEnvironment(instance int) core.Environment {
	seed := c.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return NewCartPole(c.BatchSize, seed+uint64(instance))
}
