// Package ppo implements a proximal policy optimisation agent over an
// abstract differentiable network.
//
// An update runs in two phases. Phase A evaluates the policy once on the
// trajectory, splits off the final time step as the bootstrap, estimates
// advantages and returns and freezes the old log-probabilities. Phase B then
// takes EpochCount gradient steps on the same batch against that frozen
// reference. Afterwards the adaptive divergence coefficient, if configured, is
// moved towards its target.
package ppo

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/zeu5/rl-ppo/advantage"
	"github.com/zeu5/rl-ppo/core"
	"github.com/zeu5/rl-ppo/logging"
	"github.com/zeu5/rl-ppo/optim"
	erand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

type Agent struct {
	network   core.Network
	optimizer core.Optimizer
	config    Config

	estimator     advantage.Estimator
	advNormalizer advantage.Normalizer
	retNormalizer advantage.Normalizer

	// beta is the adaptive divergence coefficient carried across updates
	beta float64

	rand   erand.Source
	logger *slog.Logger
}

var _ core.Agent = &Agent{}

type options struct {
	seed   uint64
	logger *slog.Logger
}

type Option func(*options)

// WithSeed fixes the source actions are sampled from.
func WithSeed(seed uint64) Option {
	return func(o *options) { o.seed = seed }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New validates the configuration and builds an agent around network.
func New(network core.Network, optimizer core.Optimizer, cfg Config, opts ...Option) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	estimator, err := advantage.NewEstimator(cfg.Estimator, cfg.Discount, cfg.Lambda, cfg.UseTDLambdaReturns)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidConfig, err)
	}
	o := &options{seed: uint64(time.Now().UnixNano())}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logging.New("ppo")
	}
	a := &Agent{
		network:       network,
		optimizer:     optimizer,
		config:        cfg,
		estimator:     estimator,
		advNormalizer: advantage.NewNormalizer(cfg.AdvantageNormalization),
		retNormalizer: advantage.NewNormalizer(cfg.ReturnNormalization),
		rand:          erand.NewSource(o.seed),
		logger:        o.logger,
	}
	a.beta = a.initialBeta()
	return a, nil
}

func (a *Agent) initialBeta() float64 {
	if a.config.KLPenalty.adaptive() {
		return *a.config.KLPenalty.InitialBeta
	}
	return 0
}

// Beta returns the current adaptive divergence coefficient, 0 when it is not configured.
func (a *Agent) Beta() float64 {
	return a.beta
}

func (a *Agent) Config() Config {
	return a.config
}

func (a *Agent) Network() core.Network {
	return a.network
}

// Reset returns the agent to its state right after New: initial network
// parameters and coefficient, empty optimizer and normalizer state.
func (a *Agent) Reset() {
	a.network.Reset()
	a.beta = a.initialBeta()
	a.optimizer.Reset()
	a.advNormalizer.Reset()
	a.retNormalizer.Reset()
}

// Act samples one action per row of obs.
func (a *Agent) Act(obs *mat.Dense, state *mat.Dense) (*mat.Dense, *mat.Dense, error) {
	rows, _ := obs.Dims()
	steps, err := core.NewSteps(make([]core.StepKind, rows), obs, mat.NewDense(rows, 1, nil), make([]float64, rows), state)
	if err != nil {
		return nil, nil, err
	}
	traj, err := core.NewTrajectory(1, rows, steps)
	if err != nil {
		return nil, nil, err
	}
	out, next, err := a.network.Forward(traj, state)
	if err != nil {
		return nil, nil, err
	}
	var actions *mat.Dense
	for i, dist := range out.Distributions {
		sample := dist.Sample(a.rand)
		if actions == nil {
			actions = mat.NewDense(rows, len(sample), nil)
		}
		actions.SetRow(i, sample)
	}
	return actions, next, nil
}

// Update improves the policy on traj, which must span at least two time steps,
// and returns the parts of the last epoch's loss.
func (a *Agent) Update(ctx context.Context, traj *core.Trajectory) (*core.UpdateStats, error) {
	if traj.T < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrTooShort, traj.T)
	}
	// stateful networks restart every pass from the state of the first step
	state := traj.InitialState()

	b, err := a.phaseA(traj, state)
	if err != nil {
		return nil, err
	}

	stats := &core.UpdateStats{}
	terms := &lossTerms{}
	for epoch := 0; epoch < a.config.EpochCount; epoch++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		loss, grad, err := a.network.ValueAndGradient(traj, state, a.config.lossFunc(b, a.beta, terms))
		if err != nil {
			return nil, fmt.Errorf("epoch %d: %w", epoch, err)
		}
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			return nil, fmt.Errorf("%w: epoch %d", ErrDiverged, epoch)
		}
		stats.GradNorm = optim.ClipByGlobalNorm(grad, a.config.MaxGradientNorm)
		a.optimizer.Step(a.network.Parameters(), grad)
		stats.Epochs++
		a.logger.Debug("epoch",
			slog.Int("epoch", epoch),
			slog.Float64("loss", loss),
			slog.Float64("kl", terms.kl),
			slog.Float64("grad_norm", stats.GradNorm),
		)
	}
	stats.Loss = terms.total
	stats.PolicyLoss = terms.policy
	stats.ValueLoss = terms.value
	stats.EntropyLoss = terms.entropy
	stats.KLPenalty = terms.klPenalty

	kl, err := a.divergence(traj, state, b)
	if err != nil {
		return nil, err
	}
	stats.KL = kl
	if a.config.KLPenalty.adaptive() {
		a.beta = adaptBeta(a.config.KLPenalty, a.beta, kl)
	}
	stats.Beta = a.beta
	return stats, nil
}

// phaseA evaluates the current policy once and fixes the advantages, returns
// and reference distributions used by every epoch.
func (a *Agent) phaseA(traj *core.Trajectory, state *mat.Dense) (*batch, error) {
	out, _, err := a.network.Forward(traj, state)
	if err != nil {
		return nil, fmt.Errorf("phase A forward: %w", err)
	}
	if a.estimator.NeedsValues() && out.Values == nil {
		return nil, ErrMissingValues
	}
	in, err := advantage.BootstrapInput(traj, out.Values)
	if err != nil {
		return nil, err
	}
	est, err := a.estimator.Estimate(in)
	if err != nil {
		return nil, err
	}
	returns, err := est.Returns()
	if err != nil {
		return nil, err
	}

	actions := func(i int) []float64 { return traj.Action.RawRowView(i) }
	b := &batch{
		actions:     actions,
		advantages:  rowMajor(a.advNormalizer.Normalize(est.Advantages)),
		returns:     rowMajor(a.retNormalizer.Normalize(returns)),
		oldValues:   out.Values,
		oldDists:    out.Distributions,
		oldLogProbs: make([]float64, len(out.Distributions)),
	}
	for i, dist := range out.Distributions {
		b.oldLogProbs[i] = dist.LogProb(actions(i))
	}
	return b, nil
}

// divergence is the mean KL from the Phase A distributions to the current
// policy over the usable rows.
func (a *Agent) divergence(traj *core.Trajectory, state *mat.Dense, b *batch) (float64, error) {
	out, _, err := a.network.Forward(traj, state)
	if err != nil {
		return 0, fmt.Errorf("post-update forward: %w", err)
	}
	n := len(b.advantages)
	kl := 0.0
	for i := 0; i < n; i++ {
		kl += b.oldDists[i].KL(out.Distributions[i])
	}
	return kl / float64(n), nil
}

// rowMajor flattens a [T-1, B] matrix into time-major row order.
func rowMajor(m *mat.Dense) []float64 {
	r, c := m.Dims()
	out := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		out = append(out, m.RawRowView(i)...)
	}
	return out
}

// AgentConstructor builds a fresh network, optimizer and agent per experiment run.
type AgentConstructor struct {
	Network   core.NetworkConstructor
	Optimizer core.OptimizerConstructor
	Config    Config
	// Seed fixes action sampling when non-zero
	Seed uint64
}

var _ core.AgentConstructor = &AgentConstructor{}

func (c *AgentConstructor) NewAgent() (core.Agent, error) {
	opts := make([]Option, 0)
	if c.Seed != 0 {
		opts = append(opts, WithSeed(c.Seed))
	}
	agent, err := New(c.Network.NewNetwork(), c.Optimizer.NewOptimizer(), c.Config, opts...)
	if err != nil {
		return nil, err
	}
	return agent, nil
}
