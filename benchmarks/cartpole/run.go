package cartpole

import (
	"github.com/zeu5/rl-ppo/benchmarks/common"
	"github.com/zeu5/rl-ppo/core"
	"github.com/zeu5/rl-ppo/envs"
	"github.com/zeu5/rl-ppo/policies"
)

func environment(flags *common.Flags) *envs.CartPoleConstructor {
	return &envs.CartPoleConstructor{
		BatchSize: flags.BatchSize,
		Seed:      flags.Seed,
	}
}

func network(flags *common.Flags) *policies.LinearSoftmaxConstructor {
	opts := make([]policies.LinearOption, 0)
	if flags.Seed != 0 {
		opts = append(opts, policies.WithSeed(flags.Seed))
	}
	return &policies.LinearSoftmaxConstructor{
		ObservationSize: envs.CartPoleObservationSize,
		Actions:         envs.CartPoleActions,
		Options:         opts,
	}
}

// PrepareTraining runs a single agent configured entirely by the flags.
func PrepareTraining(flags *common.Flags) (*core.ParallelComparison, error) {
	cfg, err := flags.PPOConfig()
	if err != nil {
		return nil, err
	}
	cmp := core.NewParallelComparison()
	common.AddAnalyses(cmp, flags)
	exp, err := common.Experiment("PPO", flags, environment(flags), network(flags), cfg)
	if err != nil {
		return nil, err
	}
	cmp.AddExperiment(exp)
	return cmp, nil
}

// PrepareComparison runs the clipped, penalised and combined updates against
// a uniform baseline.
func PrepareComparison(flags *common.Flags) (*core.ParallelComparison, error) {
	base, err := flags.PPOConfig()
	if err != nil {
		return nil, err
	}
	cmp := core.NewParallelComparison()
	common.AddAnalyses(cmp, flags)
	for _, v := range common.Variants(flags) {
		cfg := base
		v.Configure(&cfg)
		exp, err := common.Experiment(v.Name, flags, environment(flags), network(flags), cfg)
		if err != nil {
			return nil, err
		}
		cmp.AddExperiment(exp)
	}
	baseline, err := common.Baseline(flags, environment(flags), envs.CartPoleActions)
	if err != nil {
		return nil, err
	}
	cmp.AddExperiment(baseline)
	return cmp, nil
}
