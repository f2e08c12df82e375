package analysis

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path"

	"github.com/zeu5/rl-ppo/core"
	"github.com/zeu5/rl-ppo/logging"
)

// EpisodeLogAnalyzer dumps the episodes and update statistics of every
// iteration from a threshold onwards.
type EpisodeLogAnalyzer struct {
	savePath string
	exp      string
	// iterations before this one are not written
	thresholdIteration int
	logger             *slog.Logger
}

var _ core.Analyzer = &EpisodeLogAnalyzer{}

func NewEpisodeLogAnalyzer(savePath string, threshold int) *EpisodeLogAnalyzer {
	a := &EpisodeLogAnalyzer{
		savePath:           path.Join(savePath, "traces"),
		thresholdIteration: threshold,
		logger:             logging.New("analysis"),
	}
	if err := os.MkdirAll(a.savePath, 0755); err != nil {
		a.logger.Error("creating trace directory", slog.String("path", a.savePath), slog.Any("err", err))
	}
	return a
}

func (a *EpisodeLogAnalyzer) Analyze(iCtx *core.IterationContext, trace *core.Trace) {
	if iCtx.Iteration < a.thresholdIteration {
		return
	}
	buf := new(bytes.Buffer)
	buf.WriteString(traceToString(trace))
	if stats := trace.Update(); stats != nil {
		buf.WriteString(updateToString(stats))
	}
	fileName := fmt.Sprintf("%d_trace_%d.txt", iCtx.Run, iCtx.Iteration)
	if a.exp != "" {
		fileName = fmt.Sprintf("%d_%s_trace_%d.txt", iCtx.Run, a.exp, iCtx.Iteration)
	}
	file := path.Join(a.savePath, fileName)
	if err := os.WriteFile(file, buf.Bytes(), 0644); err != nil {
		a.logger.Error("writing trace", slog.String("file", file), slog.Any("err", err))
	}
}

func traceToString(trace *core.Trace) string {
	buf := new(bytes.Buffer)
	fmt.Fprintf(buf, "Steps: %d\nEpisodes: %d\n", trace.Steps(), trace.Episodes())
	for i := 0; i < trace.Episodes(); i++ {
		e := trace.Episode(i)
		fmt.Fprintf(buf, "Episode %d: lane %d, length %d, return %g\n", i, e.Lane, e.Length, e.Return)
	}
	return buf.String()
}

func updateToString(s *core.UpdateStats) string {
	return fmt.Sprintf(
		"Update:\nLoss: %g\nPolicy: %g\nValue: %g\nEntropy: %g\nKL penalty: %g\nKL: %g\nBeta: %g\nEpochs: %d\nGradient norm: %g\n",
		s.Loss, s.PolicyLoss, s.ValueLoss, s.EntropyLoss, s.KLPenalty, s.KL, s.Beta, s.Epochs, s.GradNorm,
	)
}

func (a *EpisodeLogAnalyzer) DataSet() core.DataSet {
	return nil
}

func (a *EpisodeLogAnalyzer) Reset() {
	// do nothing
}

type EpisodeLogAnalyzerConstructor struct {
	SavePath           string
	ThresholdIteration int
}

var _ core.AnalyzerConstructor = &EpisodeLogAnalyzerConstructor{}

func NewEpisodeLogAnalyzerConstructor(savePath string, thresholdIteration int) *EpisodeLogAnalyzerConstructor {
	return &EpisodeLogAnalyzerConstructor{
		SavePath:           savePath,
		ThresholdIteration: thresholdIteration,
	}
}

func (c *EpisodeLogAnalyzerConstructor) NewAnalyzer(exp string, _ int) core.Analyzer {
	a := NewEpisodeLogAnalyzer(c.SavePath, c.ThresholdIteration)
	a.exp = exp
	return a
}
