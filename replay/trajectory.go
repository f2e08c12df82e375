package replay

import (
	"github.com/zeu5/rl-ppo/core"
)

// TrajectoryBuffer is a Buffer of core.Steps that hands out its contents as
// [time, lane] trajectories.
type TrajectoryBuffer struct {
	*Buffer[*core.Steps]
}

var _ core.Buffer = &TrajectoryBuffer{}

func NewTrajectoryBuffer(batchSize, maxLength int, opts ...Option) (*TrajectoryBuffer, error) {
	b, err := New[*core.Steps](batchSize, maxLength, opts...)
	if err != nil {
		return nil, err
	}
	return &TrajectoryBuffer{Buffer: b}, nil
}

// Trajectory returns every valid record as a [validLength, batchSize] trajectory.
func (t *TrajectoryBuffer) Trajectory() (*core.Trajectory, error) {
	steps, length, err := t.RecordedData()
	if err != nil {
		return nil, err
	}
	return core.NewTrajectory(length, t.BatchSize(), steps)
}

// SampleTrajectory samples batchSize windows of stepCount steps and returns
// them as a [stepCount, batchSize] trajectory along with the sample metadata.
func (t *TrajectoryBuffer) SampleTrajectory(batchSize, stepCount int) (*core.Trajectory, *Sample[*core.Steps], error) {
	sample, err := t.SampleBatch(batchSize, stepCount)
	if err != nil {
		return nil, nil, err
	}
	traj, err := core.NewTrajectory(stepCount, batchSize, sample.Batch)
	if err != nil {
		return nil, nil, err
	}
	return traj, sample, nil
}

type TrajectoryBufferConstructor struct {
	MaxLength int
	Seed      uint64
}

var _ core.BufferConstructor = &TrajectoryBufferConstructor{}

func NewTrajectoryBufferConstructor(maxLength int) *TrajectoryBufferConstructor {
	return &TrajectoryBufferConstructor{MaxLength: maxLength}
}

func (c *TrajectoryBufferConstructor) NewBuffer(batchSize int) (core.Buffer, error) {
	opts := make([]Option, 0)
	if c.Seed != 0 {
		opts = append(opts, WithSeed(c.Seed))
	}
	return NewTrajectoryBuffer(batchSize, c.MaxLength, opts...)
}
