package core

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrInvalidBudget = errors.New("collection budget must be positive")
	ErrNoEpisodes    = errors.New("no completed episodes")
)

// Buffer is where the collector stages rows between collection and learning.
type Buffer interface {
	Record(*Steps) (int64, error)
	Trajectory() (*Trajectory, error)
	Reset()
}

type BufferConstructor interface {
	// NewBuffer creates a buffer for an environment with the given batch size
	NewBuffer(batchSize int) (Buffer, error)
}

// CollectConfig bounds the collection phase. A non-positive field is not a bound,
// but at least one must be set. When MaxEpisodes is set, the phase fails unless
// at least one episode completes.
type CollectConfig struct {
	// MaxSteps counts lane steps, a batched step of B lanes adds B
	MaxSteps    int
	MaxEpisodes int
}

// Collector runs the interaction loop of one agent in one environment and
// drives the drain-and-reset cycle of the buffer. The environment and policy
// state carry over between iterations.
type Collector struct {
	env    Environment
	agent  Agent
	buffer Buffer

	timeStep *TimeStep
	state    *mat.Dense
	first    []bool
	returns  []float64
	lengths  []int
}

func NewCollector(env Environment, agent Agent, buffer Buffer) *Collector {
	return &Collector{
		env:    env,
		agent:  agent,
		buffer: buffer,
	}
}

// Reset forgets the environment state; the next collection starts with env.Reset().
func (c *Collector) Reset() {
	c.timeStep = nil
	c.state = nil
	c.buffer.Reset()
}

// Collect steps the environment with actions sampled from the agent and records
// every batched step into the buffer until the budget is exhausted.
func (c *Collector) Collect(iCtx *IterationContext, cfg CollectConfig) error {
	if cfg.MaxSteps <= 0 && cfg.MaxEpisodes <= 0 {
		return ErrInvalidBudget
	}
	batch := c.env.BatchSize()
	if c.timeStep == nil {
		ts, err := c.env.Reset()
		if err != nil {
			return fmt.Errorf("resetting environment: %w", err)
		}
		c.timeStep = ts
		c.state = nil
		c.first = make([]bool, batch)
		for i := range c.first {
			c.first[i] = true
		}
		c.returns = make([]float64, batch)
		c.lengths = make([]int, batch)
	}

	steps, episodes := 0, 0
	for step := 0; ; step++ {
		if cfg.MaxSteps > 0 && steps >= cfg.MaxSteps {
			break
		}
		if cfg.MaxEpisodes > 0 && episodes >= cfg.MaxEpisodes {
			break
		}
		select {
		case <-iCtx.Context.Done():
			return iCtx.Context.Err()
		default:
		}

		actions, nextState, err := c.agent.Act(c.timeStep.Observation, c.state)
		if err != nil {
			return fmt.Errorf("sampling actions: %w", err)
		}
		next, err := c.env.Step(&StepContext{Step: step, IterationContext: iCtx}, actions)
		if err != nil {
			return fmt.Errorf("stepping environment: %w", err)
		}

		kinds := make([]StepKind, batch)
		for b := 0; b < batch; b++ {
			switch {
			case next.Kind[b] == Last:
				kinds[b] = Last
			case c.first[b]:
				kinds[b] = First
			default:
				kinds[b] = Transition
			}
		}
		record, err := NewSteps(kinds, c.timeStep.Observation, actions, next.Reward, c.state)
		if err != nil {
			return err
		}
		if _, err := c.buffer.Record(record); err != nil {
			return fmt.Errorf("recording step: %w", err)
		}

		for b := 0; b < batch; b++ {
			c.returns[b] += next.Reward[b]
			c.lengths[b]++
			if kinds[b] == Last {
				iCtx.Trace.AddEpisode(Episode{Lane: b, Length: c.lengths[b], Return: c.returns[b]})
				episodes++
				c.returns[b] = 0
				c.lengths[b] = 0
				c.first[b] = true
			} else {
				c.first[b] = false
			}
		}
		iCtx.Trace.AddSteps(batch)
		steps += batch

		c.timeStep = next
		c.state = nextState
	}
	if cfg.MaxEpisodes > 0 && episodes == 0 {
		return ErrNoEpisodes
	}
	return nil
}

// Learn drains the buffer into one agent update and resets it, which keeps
// every update strictly on-policy.
func (c *Collector) Learn(iCtx *IterationContext) (*UpdateStats, error) {
	defer c.buffer.Reset()

	traj, err := c.buffer.Trajectory()
	if err != nil {
		return nil, fmt.Errorf("reading recorded data: %w", err)
	}
	stats, err := c.agent.Update(iCtx.Context, traj)
	if err != nil {
		return nil, fmt.Errorf("updating agent: %w", err)
	}
	iCtx.Trace.SetUpdate(stats)
	return stats, nil
}

// Iterate runs one collection phase followed by one learning phase.
func (c *Collector) Iterate(iCtx *IterationContext, cfg CollectConfig) error {
	if err := c.Collect(iCtx, cfg); err != nil {
		c.buffer.Reset()
		return err
	}
	_, err := c.Learn(iCtx)
	return err
}
