package core

import (
	"context"

	"gonum.org/v1/gonum/mat"
)

// Environment is a batch of BatchSize() independent lanes.
//
// Lanes reset themselves: a lane whose Kind is Last already carries the first
// observation of its next episode.
type Environment interface {
	BatchSize() int
	ObservationSize() int
	Reset() (*TimeStep, error)
	Step(*StepContext, *mat.Dense) (*TimeStep, error)
}

// TimeStep is what an environment returns for every lane.
type TimeStep struct {
	Kind        []StepKind
	Observation *mat.Dense
	Reward      []float64
}

type IterationContext struct {
	Context   context.Context
	Iteration int
	Run       int
	// StartTimeStep is the number of lane steps collected before this iteration
	StartTimeStep int

	Trace *Trace

	err     error
	timeout bool
	doneCh  chan struct{}
}

func NewIterationContext(ctx context.Context) *IterationContext {
	return &IterationContext{
		Context: ctx,
		Trace:   NewTrace(),
		doneCh:  make(chan struct{}),
	}
}

func (i *IterationContext) Error(err error) {
	i.err = err
	close(i.doneCh)
}

func (i *IterationContext) Timeout() {
	i.timeout = true
	close(i.doneCh)
}

func (i *IterationContext) Finish() {
	close(i.doneCh)
}

func (i *IterationContext) IsError() bool {
	return i.err != nil
}

func (i *IterationContext) Err() error {
	return i.err
}

func (i *IterationContext) IsTimeout() bool {
	return i.timeout
}

func (i *IterationContext) Done() <-chan struct{} {
	return i.doneCh
}

type StepContext struct {
	Step int
	*IterationContext
}

type EnvironmentConstructor interface {
	// NewEnvironment creates a new environment with the given instance number.
	NewEnvironment(int) Environment
}
