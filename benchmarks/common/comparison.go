package common

import (
	"github.com/zeu5/rl-ppo/advantage"
	"github.com/zeu5/rl-ppo/analysis"
	"github.com/zeu5/rl-ppo/core"
	"github.com/zeu5/rl-ppo/policies"
	"github.com/zeu5/rl-ppo/ppo"
	"github.com/zeu5/rl-ppo/replay"
)

// Variant is one way of constraining the policy step.
type Variant struct {
	Name      string
	Configure func(*ppo.Config)
}

// Variants are the clipped surrogate alone, the divergence penalty alone and
// both together. A disabled penalty in the flags falls back to the defaults
// for the variants that need one.
func Variants(flags *Flags) []Variant {
	penalty := func() *ppo.KLPenaltyConfig {
		if k := flags.KLPenalty(); k != nil {
			return k
		}
		return ppo.DefaultKLPenalty()
	}
	clip := flags.ClipEpsilon
	if clip <= 0 {
		clip = ppo.DefaultConfig().ClipEpsilon
	}
	return []Variant{
		{Name: "Clip", Configure: func(c *ppo.Config) {
			c.ClipEpsilon = clip
			c.KLPenalty = nil
		}},
		{Name: "KL", Configure: func(c *ppo.Config) {
			c.ClipEpsilon = 0
			c.KLPenalty = penalty()
		}},
		{Name: "ClipKL", Configure: func(c *ppo.Config) {
			c.ClipEpsilon = clip
			c.KLPenalty = penalty()
		}},
	}
}

// Experiment wires a PPO agent on network into env with a buffer sized from the flags.
func Experiment(name string, flags *Flags, env core.EnvironmentConstructor, network core.NetworkConstructor, cfg ppo.Config) (*core.ParallelExperiment, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opt, err := flags.OptimizerConstructor()
	if err != nil {
		return nil, err
	}
	return &core.ParallelExperiment{
		Name:        name,
		Environment: env,
		Agent: &ppo.AgentConstructor{
			Network:   network,
			Optimizer: opt,
			Config:    cfg,
			Seed:      flags.Seed,
		},
		Buffer: &replay.TrajectoryBufferConstructor{
			MaxLength: flags.BufferLength,
			Seed:      flags.Seed,
		},
	}, nil
}

// Baseline is an agent that never leaves the uniform policy.
func Baseline(flags *Flags, env core.EnvironmentConstructor, actions int) (*core.ParallelExperiment, error) {
	cfg := ppo.DefaultConfig()
	cfg.Estimator = advantage.NoValue
	cfg.ValueLoss.Weight = 0
	cfg.EpochCount = 1
	return Experiment("Uniform", flags, env, &policies.UniformNetworkConstructor{Actions: actions}, cfg)
}

// AddAnalyses registers the return, training, error and episode log analyses.
func AddAnalyses(cmp *core.ParallelComparison, flags *Flags) {
	cmp.AddAnalysis(
		"Returns",
		&analysis.ReturnAnalyzerConstructor{},
		&multiComparatorConstructor{constructors: []core.ComparatorConstructor{
			&analysis.PlotComparatorConstructor{SavePath: flags.SavePath, Name: "returns"},
			&analysis.JSONComparatorConstructor{SavePath: flags.SavePath, Name: "returns"},
			&analysis.SummaryComparatorConstructor{Metric: analysis.MetricMeanReturn},
		}},
	)
	cmp.AddAnalysis(
		"Training",
		&analysis.TrainingAnalyzerConstructor{},
		&multiComparatorConstructor{constructors: []core.ComparatorConstructor{
			&analysis.PlotComparatorConstructor{SavePath: flags.SavePath, Name: "training"},
			&analysis.JSONComparatorConstructor{SavePath: flags.SavePath, Name: "training"},
		}},
	)
	cmp.AddAnalysis(
		"Errors",
		analysis.NewErrorAnalyzerConstructor(flags.SavePath),
		&analysis.JSONComparatorConstructor{SavePath: flags.SavePath, Name: "errors"},
	)
	if flags.DebugIteration >= 0 {
		cmp.AddAnalysis(
			"Episodes",
			analysis.NewEpisodeLogAnalyzerConstructor(flags.SavePath, flags.DebugIteration),
			&analysis.NoOpComparatorConstructor{},
		)
	}
}

// multiComparator hands the same datasets to several comparators.
type multiComparator []core.Comparator

func (m multiComparator) Compare(experiments []string, datasets []core.DataSet) {
	for _, c := range m {
		c.Compare(experiments, datasets)
	}
}

type multiComparatorConstructor struct {
	constructors []core.ComparatorConstructor
}

func (m *multiComparatorConstructor) NewComparator(run int) core.Comparator {
	out := make(multiComparator, len(m.constructors))
	for i, c := range m.constructors {
		out[i] = c.NewComparator(run)
	}
	return out
}
