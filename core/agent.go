package core

import (
	"context"

	erand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// ActionDistribution is the policy's distribution over actions for one row.
type ActionDistribution interface {
	Sample(erand.Source) []float64
	Mode() []float64
	LogProb([]float64) float64
	Entropy() float64
	// KL returns KL(receiver || to)
	KL(to ActionDistribution) float64
}

// Output of a network forward pass, one entry per trajectory row.
type Output struct {
	Distributions []ActionDistribution
	// Values is nil for networks without a value head
	Values []float64
}

// Cotangents are the partial derivatives of a scalar loss with respect to the
// per-row heads of a network Output. Nil slices contribute nothing.
type Cotangents struct {
	// LogProb is d loss / d log pi(a_i), where a_i is the recorded action of row i
	LogProb []float64
	Value   []float64
	Entropy []float64
	// KL is d loss / d KL(KLReference_i || pi_i)
	KL          []float64
	KLReference []ActionDistribution
}

// LossFunc maps a forward pass to a scalar loss and the loss cotangents of its heads.
type LossFunc func(*Output) (float64, *Cotangents)

// Network is the differentiable function approximator behind a policy.
type Network interface {
	// Forward evaluates every row of the trajectory starting from the given
	// policy state and returns the state after the last time step.
	Forward(traj *Trajectory, state *mat.Dense) (*Output, *mat.Dense, error)
	// ValueAndGradient evaluates loss on a forward pass and returns it with the
	// gradient with respect to Parameters().
	ValueAndGradient(traj *Trajectory, state *mat.Dense, loss LossFunc) (float64, []float64, error)
	// Parameters returns the live parameter vector
	Parameters() []float64
	// Reset restores the parameters the network was constructed with
	Reset()
}

// Optimizer updates parameters in place from a gradient.
type Optimizer interface {
	Step(params, grad []float64)
	Reset()
}

// UpdateStats summarises one call to Agent.Update.
type UpdateStats struct {
	Loss        float64
	PolicyLoss  float64
	ValueLoss   float64
	EntropyLoss float64
	KLPenalty   float64
	KL          float64
	Beta        float64
	Epochs      int
	GradNorm    float64
}

type Agent interface {
	// Act samples one action per lane for the given observations
	Act(obs *mat.Dense, state *mat.Dense) (*mat.Dense, *mat.Dense, error)
	Update(context.Context, *Trajectory) (*UpdateStats, error)
	Reset()
}

type AgentConstructor interface {
	NewAgent() (Agent, error)
}

type NetworkConstructor interface {
	NewNetwork() Network
}

type OptimizerConstructor interface {
	NewOptimizer() Optimizer
}
