package core

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrShapeMismatch = errors.New("mismatched field shapes")
	ErrNoRows        = errors.New("no rows")
)

// StepKind tags every recorded row of a trajectory.
//
// A row of kind Last holds the action that ended its episode; the next row
// of the same lane starts a new episode and is of kind First.
type StepKind int

const (
	First StepKind = iota
	Transition
	Last
)

func (k StepKind) String() string {
	switch k {
	case First:
		return "First"
	case Last:
		return "Last"
	default:
		return "Transition"
	}
}

// Batchable is the explicit schema a record type exposes so that it can be
// stacked into storage, gathered by row and scatter-updated by row.
type Batchable[R any] interface {
	// Rows returns the size of the leading dimension
	Rows() int
	// Allocate returns zeroed storage with the same field widths and the given rows
	Allocate(rows int) R
	// Gather copies the given rows, in order, into a new record
	Gather(rows []int) R
	// ScatterUpdate writes the rows of src into the given rows of the receiver
	ScatterUpdate(rows []int, src R) error
	// Compatible reports whether src can be scattered into the receiver
	Compatible(src R) error
}

// Steps is a structure-of-arrays bundle with one row per (time, lane) element.
type Steps struct {
	Kind        []StepKind
	Observation *mat.Dense
	Action      *mat.Dense
	Reward      []float64
	// PolicyState is optional, nil for stateless policies
	PolicyState *mat.Dense
}

var _ Batchable[*Steps] = &Steps{}

// NewSteps bundles the fields and checks that they agree on the row count.
func NewSteps(kinds []StepKind, obs, actions *mat.Dense, rewards []float64, state *mat.Dense) (*Steps, error) {
	s := &Steps{
		Kind:        kinds,
		Observation: obs,
		Action:      actions,
		Reward:      rewards,
		PolicyState: state,
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Steps) Rows() int {
	return len(s.Kind)
}

// Validate checks that every present field has Rows() rows.
func (s *Steps) Validate() error {
	rows := len(s.Kind)
	if rows == 0 {
		return ErrNoRows
	}
	if s.Observation == nil || s.Action == nil {
		return fmt.Errorf("%w: observation and action are required", ErrShapeMismatch)
	}
	if r, _ := s.Observation.Dims(); r != rows {
		return fmt.Errorf("%w: observation has %d rows, want %d", ErrShapeMismatch, r, rows)
	}
	if r, _ := s.Action.Dims(); r != rows {
		return fmt.Errorf("%w: action has %d rows, want %d", ErrShapeMismatch, r, rows)
	}
	if len(s.Reward) != rows {
		return fmt.Errorf("%w: reward has %d rows, want %d", ErrShapeMismatch, len(s.Reward), rows)
	}
	if s.PolicyState != nil {
		if r, _ := s.PolicyState.Dims(); r != rows {
			return fmt.Errorf("%w: policy state has %d rows, want %d", ErrShapeMismatch, r, rows)
		}
	}
	return nil
}

func (s *Steps) Allocate(rows int) *Steps {
	_, obsCols := s.Observation.Dims()
	_, actCols := s.Action.Dims()
	out := &Steps{
		Kind:        make([]StepKind, rows),
		Observation: mat.NewDense(rows, obsCols, nil),
		Action:      mat.NewDense(rows, actCols, nil),
		Reward:      make([]float64, rows),
	}
	if s.PolicyState != nil {
		_, stateCols := s.PolicyState.Dims()
		out.PolicyState = mat.NewDense(rows, stateCols, nil)
	}
	return out
}

func (s *Steps) Gather(rows []int) *Steps {
	out := s.Allocate(len(rows))
	for i, row := range rows {
		out.Kind[i] = s.Kind[row]
		out.Reward[i] = s.Reward[row]
		out.Observation.SetRow(i, s.Observation.RawRowView(row))
		out.Action.SetRow(i, s.Action.RawRowView(row))
		if s.PolicyState != nil {
			out.PolicyState.SetRow(i, s.PolicyState.RawRowView(row))
		}
	}
	return out
}

func (s *Steps) Compatible(src *Steps) error {
	if err := src.Validate(); err != nil {
		return err
	}
	if !sameCols(s.Observation, src.Observation) || !sameCols(s.Action, src.Action) {
		return fmt.Errorf("%w: field widths differ from storage", ErrShapeMismatch)
	}
	if (s.PolicyState == nil) != (src.PolicyState == nil) || (s.PolicyState != nil && !sameCols(s.PolicyState, src.PolicyState)) {
		return fmt.Errorf("%w: policy state differs from storage", ErrShapeMismatch)
	}
	return nil
}

func (s *Steps) ScatterUpdate(rows []int, src *Steps) error {
	if len(rows) != src.Rows() {
		return fmt.Errorf("%w: scattering %d rows into %d targets", ErrShapeMismatch, src.Rows(), len(rows))
	}
	if err := s.Compatible(src); err != nil {
		return err
	}
	for i, row := range rows {
		s.Kind[row] = src.Kind[i]
		s.Reward[row] = src.Reward[i]
		s.Observation.SetRow(row, src.Observation.RawRowView(i))
		s.Action.SetRow(row, src.Action.RawRowView(i))
		if s.PolicyState != nil {
			s.PolicyState.SetRow(row, src.PolicyState.RawRowView(i))
		}
	}
	return nil
}

func sameCols(a, b *mat.Dense) bool {
	_, ac := a.Dims()
	_, bc := b.Dims()
	return ac == bc
}
