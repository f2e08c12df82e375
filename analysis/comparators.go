package analysis

import (
	"log/slog"
	"os"
	"path"
	"strconv"

	"github.com/zeu5/rl-ppo/core"
	"github.com/zeu5/rl-ppo/logging"
	"github.com/zeu5/rl-ppo/util"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

type NoOpComparator struct{}

var _ core.Comparator = &NoOpComparator{}

func (n *NoOpComparator) Compare(_ []string, _ []core.DataSet) {}

type NoOpComparatorConstructor struct{}

var _ core.ComparatorConstructor = &NoOpComparatorConstructor{}

func (n *NoOpComparatorConstructor) NewComparator(_ int) core.Comparator {
	return &NoOpComparator{}
}

// JSONComparator saves the series of every successful experiment of a run
// to <savePath>/<name>.json keyed by experiment name.
type JSONComparator struct {
	savePath string
	name     string
	logger   *slog.Logger
}

var _ core.Comparator = &JSONComparator{}

func NewJSONComparator(savePath, name string) *JSONComparator {
	return &JSONComparator{
		savePath: savePath,
		name:     name,
		logger:   logging.New("analysis"),
	}
}

func (c *JSONComparator) Compare(experiments []string, datasets []core.DataSet) {
	names, series := seriesOf(experiments, datasets)
	out := make(map[string]*Series, len(names))
	for i, name := range names {
		out[name] = series[i]
	}
	file := path.Join(c.savePath, c.name+".json")
	if err := util.SaveJson(file, out); err != nil {
		c.logger.Error("saving comparison", slog.String("file", file), slog.Any("err", err))
	}
}

type JSONComparatorConstructor struct {
	SavePath string
	Name     string
}

var _ core.ComparatorConstructor = &JSONComparatorConstructor{}

func (c *JSONComparatorConstructor) NewComparator(run int) core.Comparator {
	return NewJSONComparator(path.Join(c.SavePath, strconv.Itoa(run)), c.Name)
}

// PlotComparator draws one png per metric with a line per experiment,
// saved as <savePath>/<name>_<metric>.png.
type PlotComparator struct {
	savePath string
	name     string
	// metrics to plot, all of them when empty
	metrics []string
	logger  *slog.Logger
}

var _ core.Comparator = &PlotComparator{}

func NewPlotComparator(savePath, name string, metrics ...string) *PlotComparator {
	return &PlotComparator{
		savePath: savePath,
		name:     name,
		metrics:  metrics,
		logger:   logging.New("analysis"),
	}
}

func (c *PlotComparator) Compare(experiments []string, datasets []core.DataSet) {
	names, series := seriesOf(experiments, datasets)
	if len(series) == 0 {
		return
	}
	metrics := c.metrics
	if len(metrics) == 0 {
		seen := make(map[string]bool)
		for _, s := range series {
			for _, m := range s.Names() {
				if !seen[m] {
					seen[m] = true
					metrics = append(metrics, m)
				}
			}
		}
	}
	if err := os.MkdirAll(c.savePath, 0755); err != nil {
		c.logger.Error("creating plot directory", slog.String("path", c.savePath), slog.Any("err", err))
		return
	}
	for _, metric := range metrics {
		file := path.Join(c.savePath, c.name+"_"+metric+".png")
		if err := plotMetric(file, metric, names, series); err != nil {
			c.logger.Error("plotting", slog.String("metric", metric), slog.Any("err", err))
		}
	}
}

func plotMetric(file, metric string, names []string, series []*Series) error {
	p := plot.New()
	p.Title.Text = "Comparison"
	p.X.Label.Text = "Timesteps"
	p.Y.Label.Text = metric

	for i, s := range series {
		values, ok := s.Metrics[metric]
		if !ok || len(values) == 0 {
			continue
		}
		points := make(plotter.XYs, len(values))
		for j, v := range values {
			points[j] = plotter.XY{
				X: float64(s.Timesteps[j]),
				Y: v,
			}
		}
		line, err := plotter.NewLine(points)
		if err != nil {
			return err
		}
		line.Color = plotutil.Color(i)
		p.Add(line)
		p.Legend.Add(names[i], line)
	}
	return p.Save(8*vg.Inch, 8*vg.Inch, file)
}

type PlotComparatorConstructor struct {
	SavePath string
	Name     string
	Metrics  []string
}

var _ core.ComparatorConstructor = &PlotComparatorConstructor{}

func (c *PlotComparatorConstructor) NewComparator(run int) core.Comparator {
	return NewPlotComparator(path.Join(c.SavePath, strconv.Itoa(run)), c.Name, c.Metrics...)
}

// SummaryComparator logs the final value of one metric for every experiment.
type SummaryComparator struct {
	run    int
	metric string
	logger *slog.Logger
}

var _ core.Comparator = &SummaryComparator{}

func NewSummaryComparator(run int, metric string) *SummaryComparator {
	return &SummaryComparator{
		run:    run,
		metric: metric,
		logger: logging.New("analysis"),
	}
}

func (c *SummaryComparator) Compare(experiments []string, datasets []core.DataSet) {
	names, series := seriesOf(experiments, datasets)
	for i, name := range names {
		last, ok := series[i].Last(c.metric)
		if !ok {
			continue
		}
		c.logger.Info("result",
			slog.Int("run", c.run),
			slog.String("experiment", name),
			slog.String("metric", c.metric),
			slog.Float64("value", last),
			slog.Int("timesteps", series[i].Timesteps[series[i].Len()-1]),
		)
	}
}

type SummaryComparatorConstructor struct {
	Metric string
}

var _ core.ComparatorConstructor = &SummaryComparatorConstructor{}

func (c *SummaryComparatorConstructor) NewComparator(run int) core.Comparator {
	return NewSummaryComparator(run, c.Metric)
}
