package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/gosuri/uilive"
	"github.com/zeu5/rl-ppo/logging"
	"golang.org/x/sync/errgroup"
)

var (
	ErrTooManyTimeouts = errors.New("too many timeouts")
	ErrTooManyErrors   = errors.New("too many errors")
	ErrCancelled       = errors.New("experiment cancelled")
)

type experimentRunContext struct {
	run       int
	ctx       context.Context
	analyzers map[string]Analyzer

	writer io.Writer

	*RunConfig
}

// ExperimentResult summarises one run of one experiment.
type ExperimentResult struct {
	CompletedIterations int
	TotalIterations     int
	ErrorIterations     int
	TimeoutIterations   int
	TotalTimeSteps      int
	TotalEpisodes       int

	Error    error
	Datasets map[string]DataSet
}

func (r *ExperimentResult) IsError() bool {
	return r.Error != nil
}

// failures counts consecutive failing iterations of one kind.
type failures struct {
	count     int
	threshold int
	err       error
}

// observe records whether the last iteration failed and reports the abort
// error once the threshold is reached.
func (f *failures) observe(failed bool) error {
	if !failed {
		f.count = 0
		return nil
	}
	f.count++
	if f.count >= f.threshold {
		return f.err
	}
	return nil
}

// iterate runs one iteration under its own deadline and waits for it to end.
func (e *Experiment) iterate(ctx *experimentRunContext, collector *Collector, iteration, startTimeStep int) *IterationContext {
	var iterCtx context.Context
	var cancel context.CancelFunc
	if ctx.IterationTimeout > 0 {
		iterCtx, cancel = context.WithTimeout(ctx.ctx, ctx.IterationTimeout)
	} else {
		iterCtx, cancel = context.WithCancel(ctx.ctx)
	}
	defer cancel()

	iCtx := NewIterationContext(iterCtx)
	iCtx.Run = ctx.run
	iCtx.Iteration = iteration
	iCtx.StartTimeStep = startTimeStep

	go func() {
		err := collector.Iterate(iCtx, ctx.Collect)
		switch {
		case err == nil:
			iCtx.Finish()
		case errors.Is(err, context.DeadlineExceeded):
			iCtx.Timeout()
		default:
			iCtx.Error(err)
		}
	}()
	// the iteration observes its context, so it always winds down
	<-iCtx.Done()
	return iCtx
}

func (e *Experiment) run(ctx *experimentRunContext) *ExperimentResult {
	result := &ExperimentResult{
		Datasets: make(map[string]DataSet),
	}
	logger := logging.New("runner").With(slog.String("experiment", e.Name), slog.Int("run", ctx.run))

	e.Agent.Reset()
	collector := NewCollector(e.Environment, e.Agent, e.Buffer)
	errs := &failures{threshold: ctx.ThresholdConsecutiveErrors, err: ErrTooManyErrors}
	timeouts := &failures{threshold: ctx.ThresholdConsecutiveTimeouts, err: ErrTooManyTimeouts}

	for iteration := 0; iteration < ctx.Iterations && result.Error == nil; iteration++ {
		if ctx.ctx.Err() != nil {
			result.Error = ErrCancelled
			break
		}
		fmt.Fprintf(
			ctx.writer,
			"Experiment: %s, Run %d, Iteration %d/%d, Timesteps: %d, Episodes: %d, Error: %d, Timedout: %d\n",
			e.Name, ctx.run, iteration, ctx.Iterations, result.TotalTimeSteps, result.TotalEpisodes, result.ErrorIterations, result.TimeoutIterations,
		)

		iCtx := e.iterate(ctx, collector, iteration, result.TotalTimeSteps)
		if iCtx.IsError() {
			logger.Warn("iteration failed", slog.Int("iteration", iteration), slog.Any("err", iCtx.Err()))
			result.ErrorIterations++
		}
		if iCtx.IsTimeout() {
			logger.Warn("iteration timed out", slog.Int("iteration", iteration))
			result.TimeoutIterations++
			// the interrupted collection left the environment mid-step
			collector.Reset()
		}
		if err := errs.observe(iCtx.IsError()); err != nil {
			result.Error = err
		}
		if err := timeouts.observe(iCtx.IsTimeout()); err != nil {
			result.Error = err
		}

		result.TotalTimeSteps += iCtx.Trace.Steps()
		result.TotalEpisodes += iCtx.Trace.Episodes()
		result.TotalIterations++
		if !iCtx.IsError() && !iCtx.IsTimeout() {
			result.CompletedIterations++
			if stats := iCtx.Trace.Update(); stats != nil {
				logger.Debug("iteration complete",
					slog.Int("iteration", iteration),
					slog.Float64("loss", stats.Loss),
					slog.Float64("kl", stats.KL),
					slog.Float64("mean_return", iCtx.Trace.MeanReturn()),
				)
			}
		}

		for _, a := range ctx.analyzers {
			a.Analyze(iCtx, iCtx.Trace)
		}
	}
	if result.Error != nil {
		fmt.Fprintf(ctx.writer, "Experiment: %s, Run %d, Error: %v\n", e.Name, ctx.run, result.Error)
		logger.Error("experiment aborted", slog.Any("err", result.Error))
	}

	for name, a := range ctx.analyzers {
		result.Datasets[name] = a.DataSet()
	}

	e.Agent.Reset()
	return result
}

// Run executes every experiment sequentially with a live progress line.
func (c *Comparison) Run(ctx context.Context, runs int, rConfig *RunConfig) {
	writer := uilive.New()
	writer.Start()
	defer writer.Stop()
	c.RunWithWriter(ctx, runs, rConfig, writer)
}

func (c *Comparison) RunWithWriter(ctx context.Context, runs int, rConfig *RunConfig, writer io.Writer) {
	for run := 0; run < runs && ctx.Err() == nil; run++ {
		results := make(map[string]*ExperimentResult)
		for _, e := range c.Experiments {
			if ctx.Err() != nil {
				return
			}
			for _, a := range c.Analyzers {
				a.Reset()
			}
			results[e.Name] = e.run(&experimentRunContext{
				run:       run,
				ctx:       ctx,
				analyzers: c.Analyzers,
				writer:    writer,
				RunConfig: rConfig,
			})
		}

		experimentNames, datasets := gatherDatasets(results, sortedKeys(c.Analyzers))
		for name, cmp := range c.Comparators {
			cmp.Compare(experimentNames, datasets[name])
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// gatherDatasets lines up, per analyzer, one dataset for every experiment in
// the order of the returned names. Failed experiments contribute nil.
func gatherDatasets(results map[string]*ExperimentResult, analyzerNames []string) ([]string, map[string][]DataSet) {
	experimentNames := sortedKeys(results)
	datasets := make(map[string][]DataSet)
	for _, exp := range experimentNames {
		result := results[exp]
		for _, name := range analyzerNames {
			var ds DataSet
			if !result.IsError() {
				ds = result.Datasets[name]
			}
			datasets[name] = append(datasets[name], ds)
		}
	}
	return experimentNames, datasets
}

// build constructs a fresh environment, agent and buffer for one run.
func (p *ParallelExperiment) build(instance int) (*Experiment, error) {
	env := p.Environment.NewEnvironment(instance)
	agent, err := p.Agent.NewAgent()
	if err != nil {
		return nil, fmt.Errorf("building agent for %s: %w", p.Name, err)
	}
	buffer, err := p.Buffer.NewBuffer(env.BatchSize())
	if err != nil {
		return nil, fmt.Errorf("building buffer for %s: %w", p.Name, err)
	}
	return &Experiment{
		Name:        p.Name,
		Environment: env,
		Agent:       agent,
		Buffer:      buffer,
	}, nil
}

func (c *ParallelComparison) runExperiment(ctx context.Context, p *ParallelExperiment, instance, run int, rConfig *RunConfig, writer io.Writer) *ExperimentResult {
	exp, err := p.build(instance)
	if err != nil {
		fmt.Fprintf(writer, "Experiment: %s, Run %d, Error: %v\n", p.Name, run, err)
		return &ExperimentResult{Error: err, Datasets: make(map[string]DataSet)}
	}
	rCtx := &experimentRunContext{
		run:       run,
		ctx:       ctx,
		analyzers: make(map[string]Analyzer),
		writer:    writer,
		RunConfig: rConfig,
	}
	for name, aC := range c.Analyzers {
		rCtx.analyzers[name] = aC.NewAnalyzer(p.Name, run)
	}
	return exp.run(rCtx)
}

// Run executes every experiment of every run, at most parallelism at a time.
// Each run ends with the comparators seeing that run's datasets.
func (c *ParallelComparison) Run(ctx context.Context, runs int, rConfig *RunConfig, parallelism int) {
	if parallelism <= 0 {
		parallelism = 1
	}
	for run := 0; run < runs && ctx.Err() == nil; run++ {
		writer := uilive.New()
		writer.Start()
		fmt.Fprintf(writer, "Run %d\n", run)

		results := make([]*ExperimentResult, len(c.Experiments))
		g := new(errgroup.Group)
		g.SetLimit(parallelism)
		for i, p := range c.Experiments {
			i, p := i, p
			out := writer.Newline()
			g.Go(func() error {
				results[i] = c.runExperiment(ctx, p, i, run, rConfig, out)
				return nil
			})
		}
		g.Wait()
		writer.Stop()
		if ctx.Err() != nil {
			return
		}

		byName := make(map[string]*ExperimentResult, len(results))
		for i, p := range c.Experiments {
			byName[p.Name] = results[i]
		}
		experimentNames, datasets := gatherDatasets(byName, sortedKeys(c.Analyzers))
		for name, cC := range c.Comparators {
			cC.NewComparator(run).Compare(experimentNames, datasets[name])
		}
	}
}
