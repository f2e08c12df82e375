package chain

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zeu5/rl-ppo/analysis"
	"github.com/zeu5/rl-ppo/benchmarks/common"
)

func smallFlags(t *testing.T) *common.Flags {
	f := common.DefaultFlags()
	f.SavePath = t.TempDir()
	f.Seed = 7
	f.BatchSize = 4
	f.ChainLength = 4
	f.BufferLength = 16
	f.Iterations = 3
	f.StepsPerIteration = 64
	f.Parallelism = 2
	f.IterationTimeout = 10 * time.Second
	return f
}

func TestPrepareComparison(t *testing.T) {
	f := smallFlags(t)
	cmp, err := PrepareComparison(f)
	if err != nil {
		t.Fatal(err)
	}
	names := make(map[string]bool)
	for _, e := range cmp.Experiments {
		names[e.Name] = true
	}
	for _, want := range []string{"Clip", "KL", "ClipKL", "Uniform"} {
		if !names[want] {
			t.Errorf("missing experiment %s", want)
		}
	}
	if len(cmp.Experiments) != 4 {
		t.Errorf("expected 4 experiments, got %d", len(cmp.Experiments))
	}
	for _, a := range []string{"Returns", "Training", "Errors"} {
		if _, ok := cmp.Analyzers[a]; !ok {
			t.Errorf("missing analysis %s", a)
		}
	}
	if _, ok := cmp.Analyzers["Episodes"]; ok {
		t.Error("episode log registered without a debug iteration")
	}
}

func TestTrainingWritesResults(t *testing.T) {
	f := smallFlags(t)
	cmp, err := PrepareTraining(f)
	if err != nil {
		t.Fatal(err)
	}
	cmp.Run(context.Background(), 1, f.RunConfig(), f.Parallelism)

	bs, err := os.ReadFile(filepath.Join(f.SavePath, "0", "training.json"))
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]*analysis.Series
	if err := json.Unmarshal(bs, &got); err != nil {
		t.Fatal(err)
	}
	s, ok := got["PPO"]
	if !ok {
		t.Fatalf("no PPO series in %v", got)
	}
	if s.Len() != f.Iterations {
		t.Errorf("expected %d training points, got %d", f.Iterations, s.Len())
	}
	if s.Timesteps[s.Len()-1] != f.Iterations*f.StepsPerIteration {
		t.Errorf("expected %d timesteps, got %v", f.Iterations*f.StepsPerIteration, s.Timesteps)
	}
	if _, err := os.Stat(filepath.Join(f.SavePath, "0", "returns_"+analysis.MetricMeanReturn+".png")); err != nil {
		t.Error(err)
	}
}
