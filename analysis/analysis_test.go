package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/zeu5/rl-ppo/core"
	"github.com/zeu5/rl-ppo/logging"
)

func iteration(run, it, start, steps int, returns ...float64) *core.IterationContext {
	iCtx := core.NewIterationContext(context.Background())
	iCtx.Run = run
	iCtx.Iteration = it
	iCtx.StartTimeStep = start
	iCtx.Trace.AddSteps(steps)
	for i, r := range returns {
		iCtx.Trace.AddEpisode(core.Episode{Lane: i, Length: 2 * (i + 1), Return: r})
	}
	return iCtx
}

func TestSeriesStaysAligned(t *testing.T) {
	s := NewSeries()
	s.Add(10, map[string]float64{"a": 1})
	s.Add(20, map[string]float64{"b": 2})
	s.Add(30, map[string]float64{"a": 3, "b": 4})

	want := &Series{
		Timesteps: []int{10, 20, 30},
		Metrics: map[string][]float64{
			"a": {1, 0, 3},
			"b": {0, 2, 4},
		},
	}
	if diff := cmp.Diff(want, s); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a", "b"}, s.Names()); diff != "" {
		t.Errorf("names (-want +got):\n%s", diff)
	}
	if v, ok := s.Last("b"); !ok || v != 4 {
		t.Errorf("Last(b) = %v, %v", v, ok)
	}
	if _, ok := s.Last("c"); ok {
		t.Error("Last of a missing metric reported ok")
	}

	c := s.Copy()
	c.Metrics["a"][0] = 100
	c.Timesteps[0] = 0
	if s.Metrics["a"][0] != 1 || s.Timesteps[0] != 10 {
		t.Error("copy shares storage")
	}
}

func TestTrainingAnalyzerSkipsFailedIterations(t *testing.T) {
	a := NewTrainingAnalyzer()

	ok := iteration(0, 0, 0, 64)
	ok.Trace.SetUpdate(&core.UpdateStats{Loss: 1.5, KL: 0.01, Beta: 0.5, Epochs: 4})
	a.Analyze(ok, ok.Trace)

	failed := iteration(0, 1, 64, 32)
	failed.Trace.SetUpdate(&core.UpdateStats{Loss: 9})
	failed.Error(errors.New("boom"))
	a.Analyze(failed, failed.Trace)

	noUpdate := iteration(0, 2, 96, 64)
	a.Analyze(noUpdate, noUpdate.Trace)

	s := a.DataSet().(*Series)
	if diff := cmp.Diff([]int{64}, s.Timesteps); diff != "" {
		t.Errorf("timesteps (-want +got):\n%s", diff)
	}
	if v, _ := s.Last(MetricBeta); v != 0.5 {
		t.Errorf("beta = %v", v)
	}
	if v, _ := s.Last(MetricLoss); v != 1.5 {
		t.Errorf("loss = %v", v)
	}

	a.Reset()
	if a.DataSet().(*Series).Len() != 0 {
		t.Error("reset kept points")
	}
}

func TestReturnAnalyzer(t *testing.T) {
	a := NewReturnAnalyzer()
	first := iteration(0, 0, 0, 40, 1, 3)
	a.Analyze(first, first.Trace)
	empty := iteration(0, 1, 40, 40)
	a.Analyze(empty, empty.Trace)
	second := iteration(0, 2, 80, 40, 5)
	a.Analyze(second, second.Trace)

	want := &Series{
		Timesteps: []int{40, 120},
		Metrics: map[string][]float64{
			MetricMeanReturn: {2, 5},
			MetricMeanLength: {3, 2},
			MetricEpisodes:   {2, 1},
		},
	}
	if diff := cmp.Diff(want, a.DataSet()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestErrorAnalyzerWritesFailedIterations(t *testing.T) {
	dir := t.TempDir()
	a := NewErrorAnalyzerConstructor(dir).NewAnalyzer("clip", 1)

	fine := iteration(1, 0, 0, 8)
	fine.Finish()
	a.Analyze(fine, fine.Trace)

	failed := iteration(1, 3, 8, 8, 2)
	failed.Error(errors.New("network exploded"))
	a.Analyze(failed, failed.Trace)

	entries, err := os.ReadDir(filepath.Join(dir, "errors"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "1_clip_error_3.txt" {
		t.Fatalf("unexpected files %v", entries)
	}
	bs, _ := os.ReadFile(filepath.Join(dir, "errors", entries[0].Name()))
	if !strings.Contains(string(bs), "network exploded") || !strings.Contains(string(bs), "Episodes: 1") {
		t.Errorf("unexpected content:\n%s", bs)
	}

	slow := iteration(1, 4, 16, 4)
	slow.Timeout()
	a.Analyze(slow, slow.Trace)
	want := &Series{
		Timesteps: []int{16, 20},
		Metrics: map[string][]float64{
			MetricErrors:   {1, 1},
			MetricTimeouts: {0, 1},
		},
	}
	if diff := cmp.Diff(want, a.DataSet()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestErrorAnalyzerWithoutDirectoryOnlyCounts(t *testing.T) {
	a := NewErrorAnalyzer("", "x")
	failed := iteration(0, 0, 0, 2)
	failed.Error(errors.New("boom"))
	a.Analyze(failed, failed.Trace)
	if v, _ := a.DataSet().(*Series).Last(MetricErrors); v != 1 {
		t.Errorf("errors = %v", v)
	}
	a.Reset()
	if a.DataSet().(*Series).Len() != 0 {
		t.Error("reset kept points")
	}
}

func TestErrorAnalyzerLogsWriteFailures(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)
	var logs bytes.Buffer
	if err := logging.Init("error", "text", &logs); err != nil {
		t.Fatal(err)
	}

	// a regular file where the save directory should be
	blocked := filepath.Join(t.TempDir(), "results")
	if err := os.WriteFile(blocked, nil, 0644); err != nil {
		t.Fatal(err)
	}
	a := NewErrorAnalyzer(blocked, "clip")
	failed := iteration(0, 2, 0, 4)
	failed.Error(errors.New("boom"))
	a.Analyze(failed, failed.Trace)

	out := logs.String()
	for _, msg := range []string{"creating error directory", "writing failed iteration", "component=analysis"} {
		if !strings.Contains(out, msg) {
			t.Errorf("expected %q in logs, got:\n%s", msg, out)
		}
	}
	if v, _ := a.DataSet().(*Series).Last(MetricErrors); v != 1 {
		t.Errorf("a failed write must still count the error, errors = %v", v)
	}
}

func TestEpisodeLogAnalyzerThreshold(t *testing.T) {
	dir := t.TempDir()
	a := NewEpisodeLogAnalyzerConstructor(dir, 2).NewAnalyzer("kl", 0)
	for it := 0; it < 4; it++ {
		iCtx := iteration(0, it, it*10, 10, 1)
		iCtx.Trace.SetUpdate(&core.UpdateStats{Epochs: 3})
		a.Analyze(iCtx, iCtx.Trace)
	}
	entries, err := os.ReadDir(filepath.Join(dir, "traces"))
	if err != nil {
		t.Fatal(err)
	}
	names := make([]string, 0)
	for _, e := range entries {
		names = append(names, e.Name())
	}
	if diff := cmp.Diff([]string{"0_kl_trace_2.txt", "0_kl_trace_3.txt"}, names); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	bs, _ := os.ReadFile(filepath.Join(dir, "traces", "0_kl_trace_3.txt"))
	if !strings.Contains(string(bs), "Epochs: 3") {
		t.Errorf("update missing:\n%s", bs)
	}
}

func comparisonInput() ([]string, []core.DataSet) {
	a := NewSeries()
	a.Add(10, map[string]float64{MetricMeanReturn: 1})
	a.Add(20, map[string]float64{MetricMeanReturn: 2})
	b := NewSeries()
	b.Add(10, map[string]float64{MetricMeanReturn: 4})
	// the failed experiment contributes a nil dataset
	return []string{"zeta", "failed", "alpha"}, []core.DataSet{a, nil, b}
}

func TestJSONComparatorSkipsFailedExperiments(t *testing.T) {
	dir := t.TempDir()
	names, datasets := comparisonInput()
	(&JSONComparatorConstructor{SavePath: dir, Name: "returns"}).NewComparator(2).Compare(names, datasets)

	bs, err := os.ReadFile(filepath.Join(dir, "2", "returns.json"))
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]*Series
	if err := json.Unmarshal(bs, &got); err != nil {
		t.Fatal(err)
	}
	if _, ok := got["failed"]; ok || len(got) != 2 {
		t.Fatalf("unexpected experiments %v", got)
	}
	if diff := cmp.Diff([]float64{1, 2}, got["zeta"].Metrics[MetricMeanReturn]); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestPlotComparatorWritesOnePlotPerMetric(t *testing.T) {
	dir := t.TempDir()
	names, datasets := comparisonInput()
	(&PlotComparatorConstructor{SavePath: dir, Name: "returns"}).NewComparator(0).Compare(names, datasets)

	info, err := os.Stat(filepath.Join(dir, "0", "returns_"+MetricMeanReturn+".png"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() == 0 {
		t.Error("empty plot")
	}
}

func TestSeriesOfSortsAndDropsNil(t *testing.T) {
	names, datasets := comparisonInput()
	gotNames, series := seriesOf(names, datasets)
	if diff := cmp.Diff([]string{"alpha", "zeta"}, gotNames); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	if series[0].Len() != 1 || series[1].Len() != 2 {
		t.Error("series not aligned with names")
	}
}
