package analysis

import (
	"sort"

	"github.com/zeu5/rl-ppo/core"
	"github.com/zeu5/rl-ppo/util"
)

// Series records named metrics once per analyzed iteration against the
// cumulative number of lane steps collected so far.
type Series struct {
	Timesteps []int                `json:"timesteps"`
	Metrics   map[string][]float64 `json:"metrics"`
}

func NewSeries() *Series {
	return &Series{
		Timesteps: make([]int, 0),
		Metrics:   make(map[string][]float64),
	}
}

// Add appends one point. A metric first seen here is back-filled with zeros so
// every metric stays aligned with Timesteps.
func (s *Series) Add(timestep int, values map[string]float64) {
	n := len(s.Timesteps)
	s.Timesteps = append(s.Timesteps, timestep)
	for name, v := range values {
		if _, ok := s.Metrics[name]; !ok {
			s.Metrics[name] = make([]float64, n, n+1)
		}
		s.Metrics[name] = append(s.Metrics[name], v)
	}
	for name, vs := range s.Metrics {
		if len(vs) == n {
			s.Metrics[name] = append(vs, 0)
		}
	}
}

func (s *Series) Len() int {
	return len(s.Timesteps)
}

// Names returns the metric names in sorted order.
func (s *Series) Names() []string {
	names := make([]string, 0, len(s.Metrics))
	for name := range s.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Last returns the most recent value of a metric.
func (s *Series) Last(name string) (float64, bool) {
	vs, ok := s.Metrics[name]
	if !ok || len(vs) == 0 {
		return 0, false
	}
	return vs[len(vs)-1], true
}

func (s *Series) Copy() *Series {
	return &Series{
		Timesteps: util.CopyIntSlice(s.Timesteps),
		Metrics:   util.CopyStringFloatsMap(s.Metrics),
	}
}

// seriesOf picks the non-nil series out of a comparison, keeping experiment
// names aligned and sorted.
func seriesOf(experiments []string, datasets []core.DataSet) ([]string, []*Series) {
	idx := make([]int, 0, len(experiments))
	for i := range experiments {
		if i >= len(datasets) {
			break
		}
		if _, ok := datasets[i].(*Series); ok {
			idx = append(idx, i)
		}
	}
	sort.Slice(idx, func(a, b int) bool { return experiments[idx[a]] < experiments[idx[b]] })
	names := make([]string, len(idx))
	series := make([]*Series, len(idx))
	for j, i := range idx {
		names[j] = experiments[i]
		series[j] = datasets[i].(*Series)
	}
	return names, series
}
