package advantage

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// normEpsilon keeps a constant batch from dividing by zero.
const normEpsilon = 1e-8

// Normalization selects how advantages or returns are standardised.
type Normalization int

const (
	NormalizeNone Normalization = iota
	// NormalizeBatch uses the mean and deviation of the batch being normalised
	NormalizeBatch
	// NormalizeStreaming uses running moments accumulated over every batch seen so far
	NormalizeStreaming
)

func (n Normalization) String() string {
	switch n {
	case NormalizeNone:
		return "none"
	case NormalizeBatch:
		return "batch"
	case NormalizeStreaming:
		return "streaming"
	}
	return fmt.Sprintf("Normalization(%d)", int(n))
}

func ParseNormalization(s string) (Normalization, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return NormalizeNone, nil
	case "batch":
		return NormalizeBatch, nil
	case "streaming":
		return NormalizeStreaming, nil
	}
	return NormalizeNone, fmt.Errorf("%w: unknown normalization %q", ErrInvalidConfig, s)
}

// Normalizer returns a standardised copy of its input. The streaming
// normalizer keeps state and is not safe for concurrent use.
type Normalizer interface {
	Normalize(*mat.Dense) *mat.Dense
	Reset()
}

func NewNormalizer(n Normalization) Normalizer {
	switch n {
	case NormalizeBatch:
		return &batchNormalizer{}
	case NormalizeStreaming:
		return &streamingNormalizer{}
	}
	return noNormalizer{}
}

type noNormalizer struct{}

func (noNormalizer) Normalize(m *mat.Dense) *mat.Dense { return mat.DenseCopyOf(m) }
func (noNormalizer) Reset()                            {}

type batchNormalizer struct{}

func (*batchNormalizer) Normalize(m *mat.Dense) *mat.Dense {
	data := flatten(m)
	mean, variance := stat.PopMeanVariance(data, nil)
	return standardise(m, mean, math.Sqrt(variance))
}

func (*batchNormalizer) Reset() {}

// streamingNormalizer merges every batch into running moments (Chan et al.)
// before standardising with them.
type streamingNormalizer struct {
	count float64
	mean  float64
	m2    float64
}

func (s *streamingNormalizer) Normalize(m *mat.Dense) *mat.Dense {
	data := flatten(m)
	batchMean, batchVar := stat.PopMeanVariance(data, nil)
	batchCount := float64(len(data))

	total := s.count + batchCount
	delta := batchMean - s.mean
	s.mean += delta * batchCount / total
	s.m2 += batchVar*batchCount + delta*delta*s.count*batchCount/total
	s.count = total

	return standardise(m, s.mean, math.Sqrt(s.m2/s.count))
}

func (s *streamingNormalizer) Reset() {
	s.count, s.mean, s.m2 = 0, 0, 0
}

func flatten(m *mat.Dense) []float64 {
	r, c := m.Dims()
	data := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		data = append(data, m.RawRowView(i)...)
	}
	return data
}

func standardise(m *mat.Dense, mean, std float64) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(r, c, nil)
	out.Apply(func(_, _ int, v float64) float64 {
		return (v - mean) / (std + normEpsilon)
	}, m)
	return out
}
