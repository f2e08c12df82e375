package core

import "sync"

// Episode is one completed episode of a lane.
type Episode struct {
	Lane   int
	Length int
	Return float64
}

// Trace collects what happened during the collection phase of an iteration.
type Trace struct {
	mtx      *sync.Mutex
	episodes []Episode
	steps    int
	update   *UpdateStats
}

func NewTrace() *Trace {
	return &Trace{
		episodes: make([]Episode, 0),
		mtx:      &sync.Mutex{},
	}
}

func (t *Trace) AddEpisode(e Episode) {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	t.episodes = append(t.episodes, e)
}

func (t *Trace) AddSteps(n int) {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	t.steps += n
}

func (t *Trace) SetUpdate(s *UpdateStats) {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	t.update = s
}

// Update returns the statistics of the learning phase, nil if it did not run.
func (t *Trace) Update() *UpdateStats {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	return t.update
}

func (t *Trace) Episode(i int) Episode {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	return t.episodes[i]
}

// Episodes returns the number of completed episodes.
func (t *Trace) Episodes() int {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	return len(t.episodes)
}

// Steps returns the number of lane steps collected.
func (t *Trace) Steps() int {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	return t.steps
}

// MeanReturn is the average return of the completed episodes, 0 when there are none.
func (t *Trace) MeanReturn() float64 {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	if len(t.episodes) == 0 {
		return 0
	}
	sum := 0.0
	for _, e := range t.episodes {
		sum += e.Return
	}
	return sum / float64(len(t.episodes))
}
