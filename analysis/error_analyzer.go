package analysis

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeu5/rl-ppo/core"
	"github.com/zeu5/rl-ppo/logging"
)

const (
	MetricErrors   = "errors"
	MetricTimeouts = "timeouts"
)

// ErrorAnalyzer counts failed and timed out iterations. With a directory set,
// every failure is also written to <dir>/<run>_<experiment>_error_<iteration>.txt
// together with what the iteration collected before failing.
type ErrorAnalyzer struct {
	dir string
	exp string

	errors   int
	timeouts int
	dataset  *Series
	logger   *slog.Logger
}

var _ core.Analyzer = &ErrorAnalyzer{}

// NewErrorAnalyzer writes failures under <savePath>/errors; an empty savePath only counts.
func NewErrorAnalyzer(savePath, exp string) *ErrorAnalyzer {
	a := &ErrorAnalyzer{exp: exp, dataset: NewSeries(), logger: logging.New("analysis")}
	if savePath != "" {
		a.dir = filepath.Join(savePath, "errors")
		if err := os.MkdirAll(a.dir, 0755); err != nil {
			a.logger.Error("creating error directory", slog.String("path", a.dir), slog.Any("err", err))
		}
	}
	return a
}

func (a *ErrorAnalyzer) Analyze(iCtx *core.IterationContext, trace *core.Trace) {
	switch {
	case iCtx.IsError():
		a.errors++
		a.write(iCtx, trace)
	case iCtx.IsTimeout():
		a.timeouts++
	default:
		return
	}
	a.dataset.Add(iCtx.StartTimeStep+trace.Steps(), map[string]float64{
		MetricErrors:   float64(a.errors),
		MetricTimeouts: float64(a.timeouts),
	})
}

func (a *ErrorAnalyzer) write(iCtx *core.IterationContext, trace *core.Trace) {
	if a.dir == "" {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Error: %s\nIteration: %d\nStart timestep: %d\n", iCtx.Err(), iCtx.Iteration, iCtx.StartTimeStep)
	b.WriteString(traceToString(trace))

	name := fmt.Sprintf("%d_error_%d.txt", iCtx.Run, iCtx.Iteration)
	if a.exp != "" {
		name = fmt.Sprintf("%d_%s_error_%d.txt", iCtx.Run, a.exp, iCtx.Iteration)
	}
	file := filepath.Join(a.dir, name)
	if err := os.WriteFile(file, []byte(b.String()), 0644); err != nil {
		a.logger.Error("writing failed iteration", slog.String("file", file), slog.Any("err", err))
	}
}

func (a *ErrorAnalyzer) DataSet() core.DataSet {
	return a.dataset.Copy()
}

func (a *ErrorAnalyzer) Reset() {
	a.errors, a.timeouts = 0, 0
	a.dataset = NewSeries()
}

type ErrorAnalyzerConstructor struct {
	SavePath string
}

var _ core.AnalyzerConstructor = &ErrorAnalyzerConstructor{}

func NewErrorAnalyzerConstructor(savePath string) *ErrorAnalyzerConstructor {
	return &ErrorAnalyzerConstructor{SavePath: savePath}
}

func (c *ErrorAnalyzerConstructor) NewAnalyzer(exp string, _ int) core.Analyzer {
	return NewErrorAnalyzer(c.SavePath, exp)
}
