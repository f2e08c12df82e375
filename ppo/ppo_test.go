package ppo

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/zeu5/rl-ppo/advantage"
	"github.com/zeu5/rl-ppo/core"
	"github.com/zeu5/rl-ppo/optim"
	"github.com/zeu5/rl-ppo/policies"
	erand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

func floatPtr(f float64) *float64 { return &f }

func TestConfigValidation(t *testing.T) {
	cases := map[string]func(*Config){
		"zero epochs":        func(c *Config) { c.EpochCount = 0 },
		"discount above one": func(c *Config) { c.Discount = 1.01 },
		"negative lambda":    func(c *Config) { c.Lambda = -0.5 },
		"negative clip":      func(c *Config) { c.ClipEpsilon = -0.1 },
		"negative weight":    func(c *Config) { c.ValueLoss.Weight = -1 },
		"negative entropy":   func(c *Config) { c.EntropyWeight = -0.1 },
		"normalized returns with value clip": func(c *Config) {
			c.ReturnNormalization = advantage.NormalizeBatch
			c.ValueLoss.ClipThreshold = 0.2
		},
		"zero scaling": func(c *Config) {
			c.KLPenalty = DefaultKLPenalty()
			c.KLPenalty.BetaScalingFactor = 0
		},
		"zero tolerance": func(c *Config) {
			c.KLPenalty = DefaultKLPenalty()
			c.KLPenalty.ToleranceFactor = 0
		},
		"zero target": func(c *Config) {
			c.KLPenalty = DefaultKLPenalty()
			c.KLPenalty.Target = 0
		},
		"negative beta": func(c *Config) {
			c.KLPenalty = DefaultKLPenalty()
			c.KLPenalty.InitialBeta = floatPtr(-1)
		},
		"unknown estimator": func(c *Config) { c.Estimator = advantage.Kind(42) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			_, err := New(policies.NewLinearSoftmax(2, 2), optim.NewSGD(0.1), cfg)
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}

	cfg := DefaultConfig()
	cfg.KLPenalty = DefaultKLPenalty()
	if _, err := New(policies.NewLinearSoftmax(2, 2), optim.NewSGD(0.1), cfg); err != nil {
		t.Errorf("default configuration rejected: %v", err)
	}
}

func TestAdaptBetaControlBand(t *testing.T) {
	cfg := DefaultKLPenalty()
	lower := cfg.Target / cfg.ToleranceFactor
	upper := cfg.Target * cfg.ToleranceFactor
	cases := []struct {
		name string
		kl   float64
		want float64
	}{
		{"far below", 0, 0.5},
		{"just below", lower * 0.99, 0.5},
		{"at lower edge", lower, 1},
		{"on target", cfg.Target, 1},
		{"at upper edge", upper, 1},
		{"just above", upper * 1.01, 2},
		{"far above", 1, 2},
	}
	for _, c := range cases {
		if got := adaptBeta(cfg, 1, c.kl); got != c.want {
			t.Errorf("%s: adaptBeta(1, %v) = %v, want %v", c.name, c.kl, got, c.want)
		}
	}
	if got := adaptBeta(cfg, 1e-16, 0); got != minBeta {
		t.Errorf("beta must be floored at %v, got %v", minBeta, got)
	}
}

func TestClippedSurrogateBound(t *testing.T) {
	const eps = 0.2
	for k := 0; k < 60; k++ {
		ratio := 0.025 + 0.05*float64(k)
		for _, adv := range []float64{-2, -0.5, 0.5, 2} {
			obj, slope := policyObjective(ratio, adv, eps)
			surr := ratio * adv
			if obj > surr+1e-12 {
				t.Fatalf("ratio %v adv %v: clipped objective %v exceeds unclipped %v", ratio, adv, obj, surr)
			}
			var want float64
			if adv > 0 {
				want = math.Min(ratio, 1+eps) * adv
			} else {
				want = math.Max(ratio, 1-eps) * adv
			}
			if math.Abs(obj-want) > 1e-12 {
				t.Fatalf("ratio %v adv %v: objective %v, want %v", ratio, adv, obj, want)
			}
			inside := ratio > 1-eps && ratio < 1+eps
			pessimistic := (adv > 0 && ratio < 1-eps) || (adv < 0 && ratio > 1+eps)
			if (inside || pessimistic) != (slope != 0) {
				t.Fatalf("ratio %v adv %v: slope %v", ratio, adv, slope)
			}
		}
	}
	if obj, slope := policyObjective(5, 1, 0); obj != 5 || slope != 1 {
		t.Errorf("without clipping the objective is the plain surrogate, got %v %v", obj, slope)
	}
}

func TestValueErrorTakesLargerError(t *testing.T) {
	// the new value moved far past the return, clipping pulls it back
	e, slope := valueError(3, 0, 1, 0.5)
	if e != 4 || slope != 4 {
		t.Errorf("unclipped error dominates: got %v %v", e, slope)
	}
	// the new value moved onto the return but the clipped value stays away
	e, slope = valueError(1, -1, 1, 0.5)
	if e != 2.25 || slope != 0 {
		t.Errorf("clipped error dominates outside the threshold: got %v %v", e, slope)
	}
	e, slope = valueError(0.5, 0.4, 2, 0)
	if e != 2.25 || slope != -3 {
		t.Errorf("plain squared error: got %v %v", e, slope)
	}
}

func makeTrajectory(t *testing.T, obs, actions []float64, rewards []float64, kinds []core.StepKind, T, B int) *core.Trajectory {
	t.Helper()
	rows := T * B
	steps, err := core.NewSteps(kinds, mat.NewDense(rows, len(obs)/rows, obs), mat.NewDense(rows, 1, actions), rewards, nil)
	if err != nil {
		t.Fatal(err)
	}
	traj, err := core.NewTrajectory(T, B, steps)
	if err != nil {
		t.Fatal(err)
	}
	return traj
}

func TestLossCotangentsMatchFiniteDifferences(t *testing.T) {
	traj := makeTrajectory(t,
		[]float64{1, 0, 0.5, -1, 0.2, 0.8, 1, 1, -0.5, 0.3, 0, 1},
		[]float64{0, 1, 1, 0, 1, 0},
		[]float64{1, 0, 0, 1, 1, 0},
		[]core.StepKind{core.First, core.First, core.Transition, core.Last, core.Transition, core.First},
		3, 2,
	)
	net := policies.NewLinearSoftmax(2, 2, policies.WithSeed(3), policies.WithInitScale(0.5))

	// the reference policy comes from different parameters so ratios move away from one
	old := policies.NewLinearSoftmax(2, 2, policies.WithSeed(9), policies.WithInitScale(0.8))
	oldOut, _, err := old.Forward(traj, nil)
	if err != nil {
		t.Fatal(err)
	}
	b := &batch{
		actions:     func(i int) []float64 { return traj.Action.RawRowView(i) },
		advantages:  []float64{1.5, -0.7, 0.4, -1.2},
		returns:     []float64{0.9, -0.3, 1.4, 0.2},
		oldValues:   []float64{0.5, 0.1, 1.2, -0.4, 0, 0},
		oldDists:    oldOut.Distributions,
		oldLogProbs: make([]float64, traj.Rows()),
	}
	for i, d := range oldOut.Distributions {
		b.oldLogProbs[i] = d.LogProb(b.actions(i))
	}

	cfg := DefaultConfig()
	cfg.ClipEpsilon = 0.3
	cfg.ValueLoss = ValueLossConfig{Weight: 0.7, ClipThreshold: 0.4}
	cfg.EntropyWeight = 0.05
	cfg.KLPenalty = &KLPenaltyConfig{
		CutoffFactor:      1,
		CutoffCoefficient: 3,
		InitialBeta:       floatPtr(0.8),
		Target:            0.001,
		ToleranceFactor:   1.5,
		BetaScalingFactor: 2,
	}

	terms := &lossTerms{}
	lossFunc := cfg.lossFunc(b, 0.8, terms)
	value, grad, err := net.ValueAndGradient(traj, nil, lossFunc)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(value-(terms.policy+terms.value+terms.entropy+terms.klPenalty)) > 1e-12 {
		t.Errorf("loss %v is not the sum of its terms %+v", value, terms)
	}
	if terms.klPenalty <= 0.8*terms.kl {
		t.Errorf("expected the quadratic cutoff to be active, kl %v penalty %v", terms.kl, terms.klPenalty)
	}

	evaluate := func() float64 {
		out, _, err := net.Forward(traj, nil)
		if err != nil {
			t.Fatal(err)
		}
		l, _ := lossFunc(out)
		return l
	}
	params := net.Parameters()
	const h = 1e-6
	numeric := make([]float64, len(params))
	for i := range params {
		orig := params[i]
		params[i] = orig + h
		up := evaluate()
		params[i] = orig - h
		down := evaluate()
		params[i] = orig
		numeric[i] = (up - down) / (2 * h)
	}
	if diff := cmp.Diff(numeric, grad, cmpopts.EquateApprox(1e-4, 1e-6)); diff != "" {
		t.Errorf("loss gradient differs from finite differences (-numeric +analytic):\n%s", diff)
	}
}

// bandit rolls out a one-step contextual bandit: every lane sees one of two
// states and is rewarded for picking the action with the same index.
func bandit(t *testing.T, agent *Agent, rng *erand.Rand, T, B int) (*core.Trajectory, float64) {
	t.Helper()
	obs := make([]float64, 0, T*B*2)
	actions := make([]float64, 0, T*B)
	rewards := make([]float64, 0, T*B)
	kinds := make([]core.StepKind, 0, T*B)
	total := 0.0
	for step := 0; step < T; step++ {
		stepObs := mat.NewDense(B, 2, nil)
		states := make([]int, B)
		for l := 0; l < B; l++ {
			states[l] = rng.Intn(2)
			stepObs.Set(l, states[l], 1)
		}
		acts, _, err := agent.Act(stepObs, nil)
		if err != nil {
			t.Fatal(err)
		}
		for l := 0; l < B; l++ {
			obs = append(obs, stepObs.RawRowView(l)...)
			a := acts.At(l, 0)
			actions = append(actions, a)
			r := 0.0
			if int(a) == states[l] {
				r = 1
			}
			rewards = append(rewards, r)
			total += r
			kinds = append(kinds, core.Last)
		}
	}
	return makeTrajectory(t, obs, actions, rewards, kinds, T, B), total / float64(T*B)
}

func TestUpdateLearnsBandit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KLPenalty = DefaultKLPenalty()
	net := policies.NewLinearSoftmax(2, 2, policies.WithSeed(1))
	agent, err := New(net, optim.NewAdam(0.05), cfg, WithSeed(2))
	if err != nil {
		t.Fatal(err)
	}
	rng := erand.New(erand.NewSource(5))

	_, before := bandit(t, agent, rng, 16, 8)
	for i := 0; i < 60; i++ {
		traj, _ := bandit(t, agent, rng, 16, 8)
		stats, err := agent.Update(context.Background(), traj)
		if err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
		if stats.Epochs != cfg.EpochCount {
			t.Fatalf("expected %d epochs, ran %d", cfg.EpochCount, stats.Epochs)
		}
		if stats.Beta != agent.Beta() {
			t.Fatalf("reported beta %v, agent holds %v", stats.Beta, agent.Beta())
		}
	}
	_, after := bandit(t, agent, rng, 16, 8)
	if after < 0.85 || after <= before {
		t.Errorf("expected the success rate to rise above 0.85, went from %v to %v", before, after)
	}
}

func TestAdaptiveBetaShrinksForSmallSteps(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KLPenalty = DefaultKLPenalty()
	net := policies.NewLinearSoftmax(2, 2, policies.WithSeed(1))
	// a vanishing learning rate keeps the divergence far below the band
	agent, err := New(net, optim.NewSGD(1e-9), cfg, WithSeed(2))
	if err != nil {
		t.Fatal(err)
	}
	traj, _ := bandit(t, agent, erand.New(erand.NewSource(1)), 4, 4)
	for i, want := range []float64{0.5, 0.25, 0.125} {
		stats, err := agent.Update(context.Background(), traj)
		if err != nil {
			t.Fatal(err)
		}
		if stats.Beta != want || agent.Beta() != want {
			t.Errorf("update %d: beta %v, want %v", i, agent.Beta(), want)
		}
	}
	agent.Reset()
	if agent.Beta() != 1 {
		t.Errorf("reset must restore the initial beta, got %v", agent.Beta())
	}

	noAdaptive := DefaultConfig()
	noAdaptive.KLPenalty = DefaultKLPenalty()
	noAdaptive.KLPenalty.InitialBeta = nil
	fixed, err := New(policies.NewLinearSoftmax(2, 2), optim.NewSGD(1e-9), noAdaptive)
	if err != nil {
		t.Fatal(err)
	}
	stats, err := fixed.Update(context.Background(), traj)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Beta != 0 || fixed.Beta() != 0 {
		t.Errorf("without an adaptive coefficient beta stays 0, got %v", fixed.Beta())
	}
}

func TestUpdateFailures(t *testing.T) {
	agent, err := New(policies.NewLinearSoftmax(2, 2, policies.WithSeed(1)), optim.NewSGD(0.1), DefaultConfig(), WithSeed(1))
	if err != nil {
		t.Fatal(err)
	}
	traj, _ := bandit(t, agent, erand.New(erand.NewSource(1)), 3, 2)

	short, err := traj.Slice(0, 1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := agent.Update(context.Background(), short); !errors.Is(err, ErrTooShort) {
		t.Errorf("single step trajectory: got %v, want ErrTooShort", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := agent.Update(ctx, traj); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled update: got %v, want context.Canceled", err)
	}

	noValue, err := New(policies.NewLinearSoftmax(2, 2, policies.WithoutValueHead()), optim.NewSGD(0.1), DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := noValue.Update(context.Background(), traj); !errors.Is(err, ErrMissingValues) {
		t.Errorf("gae without values: got %v, want ErrMissingValues", err)
	}

	plain := DefaultConfig()
	plain.Estimator = advantage.NoValue
	plainAgent, err := New(policies.NewLinearSoftmax(2, 2, policies.WithoutValueHead()), optim.NewSGD(0.1), plain)
	if err != nil {
		t.Fatal(err)
	}
	stats, err := plainAgent.Update(context.Background(), traj)
	if err != nil {
		t.Fatalf("plain estimator without values: %v", err)
	}
	if stats.ValueLoss != 0 {
		t.Errorf("no value head means no value loss, got %v", stats.ValueLoss)
	}
}

func TestActSamplesOneActionPerRow(t *testing.T) {
	agent, err := New(policies.NewUniformNetwork(3), optim.NewSGD(0.1), func() Config {
		c := DefaultConfig()
		c.Estimator = advantage.NoValue
		return c
	}(), WithSeed(4))
	if err != nil {
		t.Fatal(err)
	}
	obs := mat.NewDense(5, 2, nil)
	actions, state, err := agent.Act(obs, nil)
	if err != nil {
		t.Fatal(err)
	}
	if r, c := actions.Dims(); r != 5 || c != 1 {
		t.Fatalf("expected [5, 1] actions, got [%d, %d]", r, c)
	}
	if state != nil {
		t.Errorf("a stateless network returns no state")
	}
	for i := 0; i < 5; i++ {
		if a := actions.At(i, 0); a < 0 || a > 2 {
			t.Errorf("row %d: action %v outside the action space", i, a)
		}
	}
}

func TestResetRestoresInitialNetwork(t *testing.T) {
	cfg := DefaultConfig()
	net := policies.NewLinearSoftmax(2, 2, policies.WithSeed(3), policies.WithInitScale(0.5))
	agent, err := New(net, optim.NewSGD(0.5), cfg, WithSeed(4))
	if err != nil {
		t.Fatal(err)
	}
	initial := append([]float64(nil), net.Parameters()...)

	traj, _ := bandit(t, agent, erand.New(erand.NewSource(5)), 4, 4)
	if _, err := agent.Update(context.Background(), traj); err != nil {
		t.Fatal(err)
	}
	if cmp.Equal(initial, net.Parameters()) {
		t.Fatal("update left the parameters unchanged")
	}

	agent.Reset()
	if diff := cmp.Diff(initial, net.Parameters()); diff != "" {
		t.Errorf("parameters after reset mismatch (-want +got):\n%s", diff)
	}
	fresh := policies.NewLinearSoftmax(2, 2, policies.WithSeed(3), policies.WithInitScale(0.5))
	if diff := cmp.Diff(fresh.Parameters(), net.Parameters()); diff != "" {
		t.Errorf("reset network differs from a freshly built one (-want +got):\n%s", diff)
	}
}
