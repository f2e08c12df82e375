package cmd

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/zeu5/rl-ppo/benchmarks/common"
)

var (
	flags       *common.Flags = common.DefaultFlags()
	configPath  string
	savePath    string
	parallelism int
	logLevel    string
	logFormat   string
	seed        uint64
	debugIter   int

	batchSize   int
	chainLength int

	clipEpsilon         float64
	klTarget            float64
	klCutoffFactor      float64
	klCutoffCoefficient float64
	initialBeta         float64
	klTolerance         float64
	betaScalingFactor   float64
	valueWeight         float64
	valueClipThreshold  float64
	entropyWeight       float64
	epochs              int
	maxGradientNorm     float64
	discount            float64
	lambda              float64
	estimator           string
	tdLambdaReturns     bool
	advNormalization    string
	retNormalization    string
	optimizer           string
	learningRate        float64
	bufferLength        int

	numRuns                int
	iterations             int
	stepsPerIteration      int
	episodesPerIteration   int
	maxConsecutiveErrors   int
	maxConsecutiveTimeouts int
	iterationTimeout       int
)

func AddFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML file overlaid on the defaults before flags")
	cmd.PersistentFlags().StringVar(&savePath, "save-path", flags.SavePath, "Path to save results")
	cmd.PersistentFlags().IntVar(&parallelism, "parallelism", flags.Parallelism, "Number of experiments run in parallel")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", flags.LogLevel, "Log level: debug, info, warn or error")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", flags.LogFormat, "Log format: text or json")
	cmd.PersistentFlags().Uint64Var(&seed, "seed", flags.Seed, "Random seed, 0 seeds from the clock")
	cmd.PersistentFlags().IntVar(&debugIter, "debug-iteration", flags.DebugIteration, "First iteration whose episodes are written to disk, negative disables")

	cmd.PersistentFlags().IntVar(&batchSize, "batch-size", flags.BatchSize, "Number of parallel environment lanes")
	cmd.PersistentFlags().IntVar(&chainLength, "chain-length", flags.ChainLength, "Length of the chain environment")

	cmd.PersistentFlags().Float64Var(&clipEpsilon, "clip-epsilon", flags.ClipEpsilon, "Ratio clipping range, 0 disables clipping")
	cmd.PersistentFlags().Float64Var(&klTarget, "kl-target", flags.KLTarget, "Target divergence, 0 disables the penalty")
	cmd.PersistentFlags().Float64Var(&klCutoffFactor, "kl-cutoff-factor", flags.KLCutoffFactor, "Divergence above target times this factor is penalised quadratically")
	cmd.PersistentFlags().Float64Var(&klCutoffCoefficient, "kl-cutoff-coefficient", flags.KLCutoffCoefficient, "Coefficient of the quadratic divergence penalty")
	cmd.PersistentFlags().Float64Var(&initialBeta, "initial-beta", flags.InitialBeta, "Initial adaptive divergence coefficient, 0 disables adaptation")
	cmd.PersistentFlags().Float64Var(&klTolerance, "kl-tolerance", flags.KLTolerance, "Tolerance factor around the divergence target")
	cmd.PersistentFlags().Float64Var(&betaScalingFactor, "beta-scaling-factor", flags.BetaScalingFactor, "Factor the adaptive coefficient is scaled by")
	cmd.PersistentFlags().Float64Var(&valueWeight, "value-weight", flags.ValueWeight, "Weight of the value loss")
	cmd.PersistentFlags().Float64Var(&valueClipThreshold, "value-clip", flags.ValueClipThreshold, "Value clipping threshold, 0 disables")
	cmd.PersistentFlags().Float64Var(&entropyWeight, "entropy-weight", flags.EntropyWeight, "Weight of the entropy bonus")
	cmd.PersistentFlags().IntVar(&epochs, "epochs", flags.Epochs, "Gradient steps per update")
	cmd.PersistentFlags().Float64Var(&maxGradientNorm, "max-gradient-norm", flags.MaxGradientNorm, "Global gradient norm bound, 0 disables")
	cmd.PersistentFlags().Float64Var(&discount, "discount", flags.Discount, "Discount factor")
	cmd.PersistentFlags().Float64Var(&lambda, "lambda", flags.Lambda, "GAE lambda")
	cmd.PersistentFlags().StringVar(&estimator, "estimator", flags.Estimator, "Advantage estimator: gae, empirical or novalue")
	cmd.PersistentFlags().BoolVar(&tdLambdaReturns, "td-lambda-returns", flags.TDLambdaReturns, "Use TD(lambda) returns as value targets")
	cmd.PersistentFlags().StringVar(&advNormalization, "advantage-normalization", flags.AdvantageNormalization, "none, batch or streaming")
	cmd.PersistentFlags().StringVar(&retNormalization, "return-normalization", flags.ReturnNormalization, "none, batch or streaming")
	cmd.PersistentFlags().StringVar(&optimizer, "optimizer", flags.Optimizer, "Optimizer: sgd or adam")
	cmd.PersistentFlags().Float64Var(&learningRate, "learning-rate", flags.LearningRate, "Learning rate")
	cmd.PersistentFlags().IntVar(&bufferLength, "buffer-length", flags.BufferLength, "Time steps held per lane")

	cmd.PersistentFlags().IntVar(&numRuns, "num-runs", flags.NumRuns, "Number of runs")
	cmd.PersistentFlags().IntVar(&iterations, "iterations", flags.Iterations, "Iterations per run")
	cmd.PersistentFlags().IntVar(&stepsPerIteration, "steps", flags.StepsPerIteration, "Lane steps collected per iteration, 0 for no bound")
	cmd.PersistentFlags().IntVar(&episodesPerIteration, "episodes", flags.EpisodesPerIteration, "Episodes collected per iteration, 0 for no bound")
	cmd.PersistentFlags().IntVar(&maxConsecutiveErrors, "max-consecutive-errors", flags.MaxConsecutiveErrors, "Maximum number of consecutive errors")
	cmd.PersistentFlags().IntVar(&maxConsecutiveTimeouts, "max-consecutive-timeouts", flags.MaxConsecutiveTimeouts, "Maximum number of consecutive timeouts")
	cmd.PersistentFlags().IntVar(&iterationTimeout, "iteration-timeout", int(flags.IterationTimeout.Seconds()), "Iteration timeout in seconds, 0 disables")
}

// UpdateFlags copies every flag for which changed reports true into flags.
func UpdateFlags(changed func(string) bool) {
	set := func(name string, apply func()) {
		if changed(name) {
			apply()
		}
	}
	set("save-path", func() { flags.SavePath = savePath })
	set("parallelism", func() { flags.Parallelism = parallelism })
	set("log-level", func() { flags.LogLevel = logLevel })
	set("log-format", func() { flags.LogFormat = logFormat })
	set("seed", func() { flags.Seed = seed })
	set("debug-iteration", func() { flags.DebugIteration = debugIter })

	set("batch-size", func() { flags.BatchSize = batchSize })
	set("chain-length", func() { flags.ChainLength = chainLength })

	set("clip-epsilon", func() { flags.ClipEpsilon = clipEpsilon })
	set("kl-target", func() { flags.KLTarget = klTarget })
	set("kl-cutoff-factor", func() { flags.KLCutoffFactor = klCutoffFactor })
	set("kl-cutoff-coefficient", func() { flags.KLCutoffCoefficient = klCutoffCoefficient })
	set("initial-beta", func() { flags.InitialBeta = initialBeta })
	set("kl-tolerance", func() { flags.KLTolerance = klTolerance })
	set("beta-scaling-factor", func() { flags.BetaScalingFactor = betaScalingFactor })
	set("value-weight", func() { flags.ValueWeight = valueWeight })
	set("value-clip", func() { flags.ValueClipThreshold = valueClipThreshold })
	set("entropy-weight", func() { flags.EntropyWeight = entropyWeight })
	set("epochs", func() { flags.Epochs = epochs })
	set("max-gradient-norm", func() { flags.MaxGradientNorm = maxGradientNorm })
	set("discount", func() { flags.Discount = discount })
	set("lambda", func() { flags.Lambda = lambda })
	set("estimator", func() { flags.Estimator = estimator })
	set("td-lambda-returns", func() { flags.TDLambdaReturns = tdLambdaReturns })
	set("advantage-normalization", func() { flags.AdvantageNormalization = advNormalization })
	set("return-normalization", func() { flags.ReturnNormalization = retNormalization })
	set("optimizer", func() { flags.Optimizer = optimizer })
	set("learning-rate", func() { flags.LearningRate = learningRate })
	set("buffer-length", func() { flags.BufferLength = bufferLength })

	set("num-runs", func() { flags.NumRuns = numRuns })
	set("iterations", func() { flags.Iterations = iterations })
	set("steps", func() { flags.StepsPerIteration = stepsPerIteration })
	set("episodes", func() { flags.EpisodesPerIteration = episodesPerIteration })
	set("max-consecutive-errors", func() { flags.MaxConsecutiveErrors = maxConsecutiveErrors })
	set("max-consecutive-timeouts", func() { flags.MaxConsecutiveTimeouts = maxConsecutiveTimeouts })
	set("iteration-timeout", func() { flags.IterationTimeout = time.Duration(iterationTimeout) * time.Second })
}
