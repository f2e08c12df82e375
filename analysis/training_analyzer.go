package analysis

import "github.com/zeu5/rl-ppo/core"

// Metric names recorded by TrainingAnalyzer.
const (
	MetricLoss        = "loss"
	MetricPolicyLoss  = "policy_loss"
	MetricValueLoss   = "value_loss"
	MetricEntropyLoss = "entropy_loss"
	MetricKLPenalty   = "kl_penalty"
	MetricKL          = "kl"
	MetricBeta        = "beta"
	MetricGradNorm    = "grad_norm"
)

// TrainingAnalyzer records the update statistics of every iteration whose
// learning phase completed.
type TrainingAnalyzer struct {
	dataset *Series
}

var _ core.Analyzer = &TrainingAnalyzer{}

func NewTrainingAnalyzer() *TrainingAnalyzer {
	return &TrainingAnalyzer{
		dataset: NewSeries(),
	}
}

func (a *TrainingAnalyzer) Analyze(iCtx *core.IterationContext, trace *core.Trace) {
	if iCtx.IsError() || iCtx.IsTimeout() {
		return
	}
	stats := trace.Update()
	if stats == nil {
		return
	}
	a.dataset.Add(iCtx.StartTimeStep+trace.Steps(), map[string]float64{
		MetricLoss:        stats.Loss,
		MetricPolicyLoss:  stats.PolicyLoss,
		MetricValueLoss:   stats.ValueLoss,
		MetricEntropyLoss: stats.EntropyLoss,
		MetricKLPenalty:   stats.KLPenalty,
		MetricKL:          stats.KL,
		MetricBeta:        stats.Beta,
		MetricGradNorm:    stats.GradNorm,
	})
}

func (a *TrainingAnalyzer) DataSet() core.DataSet {
	return a.dataset.Copy()
}

func (a *TrainingAnalyzer) Reset() {
	a.dataset = NewSeries()
}

type TrainingAnalyzerConstructor struct{}

var _ core.AnalyzerConstructor = &TrainingAnalyzerConstructor{}

func (c *TrainingAnalyzerConstructor) NewAnalyzer(_ string, _ int) core.Analyzer {
	return NewTrainingAnalyzer()
}
