package analysis

import "github.com/zeu5/rl-ppo/core"

const (
	MetricMeanReturn = "mean_return"
	MetricMeanLength = "mean_length"
	MetricEpisodes   = "episodes"
)

// ReturnAnalyzer tracks the episodes completed during collection. Iterations
// without a completed episode carry no point.
type ReturnAnalyzer struct {
	dataset *Series
}

var _ core.Analyzer = &ReturnAnalyzer{}

func NewReturnAnalyzer() *ReturnAnalyzer {
	return &ReturnAnalyzer{
		dataset: NewSeries(),
	}
}

func (a *ReturnAnalyzer) Analyze(iCtx *core.IterationContext, trace *core.Trace) {
	if iCtx.IsError() {
		return
	}
	episodes := trace.Episodes()
	if episodes == 0 {
		return
	}
	length := 0
	for i := 0; i < episodes; i++ {
		length += trace.Episode(i).Length
	}
	a.dataset.Add(iCtx.StartTimeStep+trace.Steps(), map[string]float64{
		MetricMeanReturn: trace.MeanReturn(),
		MetricMeanLength: float64(length) / float64(episodes),
		MetricEpisodes:   float64(episodes),
	})
}

func (a *ReturnAnalyzer) DataSet() core.DataSet {
	return a.dataset.Copy()
}

func (a *ReturnAnalyzer) Reset() {
	a.dataset = NewSeries()
}

type ReturnAnalyzerConstructor struct{}

var _ core.AnalyzerConstructor = &ReturnAnalyzerConstructor{}

func (c *ReturnAnalyzerConstructor) NewAnalyzer(_ string, _ int) core.Analyzer {
	return NewReturnAnalyzer()
}
