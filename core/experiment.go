package core

import "time"

// RunConfig bounds one run of an experiment. An iteration that fails or times
// out ThresholdConsecutiveErrors or ThresholdConsecutiveTimeouts times in a
// row aborts the run.
type RunConfig struct {
	Iterations int
	Collect    CollectConfig
	// IterationTimeout bounds collection plus learning, 0 disables it
	IterationTimeout time.Duration

	ThresholdConsecutiveErrors   int
	ThresholdConsecutiveTimeouts int
}

// DataSet is whatever an analyzer accumulated over a run. Comparators know
// the concrete type of the analyzer they are paired with.
type DataSet any

// Analyzer observes every iteration of a run, including failed ones.
type Analyzer interface {
	Analyze(*IterationContext, *Trace)
	DataSet() DataSet
	Reset()
}

type AnalyzerConstructor interface {
	// NewAnalyzer is called with the experiment name and run number
	NewAnalyzer(string, int) Analyzer
}

// Comparator receives, per run, the experiment names and the datasets of one
// analyzer in the same order.
type Comparator interface {
	Compare([]string, []DataSet)
}

type ComparatorConstructor interface {
	// NewComparator is called once per run with the run number
	NewComparator(int) Comparator
}

// Experiment is a live agent, environment and buffer triple.
type Experiment struct {
	Name        string
	Environment Environment
	Agent       Agent
	Buffer      Buffer
}

// Comparison runs its experiments one after the other, sharing analyzers
// that are reset between experiments.
type Comparison struct {
	Experiments []*Experiment
	Analyzers   map[string]Analyzer
	Comparators map[string]Comparator
}

func NewComparison() *Comparison {
	return &Comparison{
		Experiments: make([]*Experiment, 0),
		Analyzers:   make(map[string]Analyzer),
		Comparators: make(map[string]Comparator),
	}
}

func (c *Comparison) AddExperiment(e *Experiment) {
	c.Experiments = append(c.Experiments, e)
}

// AddAnalysis pairs an analyzer with the comparator that consumes its datasets.
func (c *Comparison) AddAnalysis(name string, a Analyzer, cmp Comparator) {
	c.Analyzers[name] = a
	c.Comparators[name] = cmp
}

// ParallelExperiment describes how to build an Experiment. Every run of every
// experiment gets fresh components.
type ParallelExperiment struct {
	Name        string
	Environment EnvironmentConstructor
	Agent       AgentConstructor
	Buffer      BufferConstructor
}

// ParallelComparison runs its experiments concurrently, each with its own
// analyzers built from the constructors.
type ParallelComparison struct {
	Experiments []*ParallelExperiment
	Analyzers   map[string]AnalyzerConstructor
	Comparators map[string]ComparatorConstructor
}

func NewParallelComparison() *ParallelComparison {
	return &ParallelComparison{
		Experiments: make([]*ParallelExperiment, 0),
		Analyzers:   make(map[string]AnalyzerConstructor),
		Comparators: make(map[string]ComparatorConstructor),
	}
}

func (c *ParallelComparison) AddExperiment(e *ParallelExperiment) {
	c.Experiments = append(c.Experiments, e)
}

func (c *ParallelComparison) AddAnalysis(name string, a AnalyzerConstructor, cmp ComparatorConstructor) {
	c.Analyzers[name] = a
	c.Comparators[name] = cmp
}
