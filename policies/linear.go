package policies

import (
	"errors"
	"fmt"
	"time"

	"github.com/zeu5/rl-ppo/core"
	erand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

var (
	ErrObservationSize = errors.New("observation size mismatch")
	ErrCotangentShape  = errors.New("cotangent shape mismatch")
)

// LinearSoftmax is a stateless network with a softmax policy head
// logits = W x + b and a linear value head v = w.x + c. The parameters live
// in one flat slice laid out as [W (actions x obs), b, w, c].
type LinearSoftmax struct {
	obsSize   int
	actions   int
	valueHead bool

	seed   uint64
	scale  float64
	params []float64
}

var _ core.Network = &LinearSoftmax{}

type linearOptions struct {
	seed      uint64
	scale     float64
	valueHead bool
}

type LinearOption func(*linearOptions)

func WithSeed(seed uint64) LinearOption {
	return func(o *linearOptions) { o.seed = seed }
}

// WithInitScale sets the deviation of the initial policy weights.
func WithInitScale(scale float64) LinearOption {
	return func(o *linearOptions) { o.scale = scale }
}

func WithoutValueHead() LinearOption {
	return func(o *linearOptions) { o.valueHead = false }
}

func NewLinearSoftmax(obsSize, actions int, opts ...LinearOption) *LinearSoftmax {
	o := &linearOptions{
		seed:      uint64(time.Now().UnixNano()),
		scale:     0.01,
		valueHead: true,
	}
	for _, opt := range opts {
		opt(o)
	}
	l := &LinearSoftmax{
		obsSize:   obsSize,
		actions:   actions,
		valueHead: o.valueHead,
		seed:      o.seed,
		scale:     o.scale,
		params:    make([]float64, actions*obsSize+actions+obsSize+1),
	}
	l.Reset()
	return l
}

// Reset redraws the initial parameters from the construction seed, so a reset
// network equals a freshly built one. The parameter slice is reused.
func (l *LinearSoftmax) Reset() {
	for i := range l.params {
		l.params[i] = 0
	}
	if l.scale > 0 {
		normal := distuv.Normal{Mu: 0, Sigma: l.scale, Src: erand.NewSource(l.seed)}
		for i := 0; i < l.actions*l.obsSize; i++ {
			l.params[i] = normal.Rand()
		}
	}
}

func (l *LinearSoftmax) Parameters() []float64 {
	return l.params
}

func (l *LinearSoftmax) Actions() int {
	return l.actions
}

// views over the flat parameter slice, they alias params
func (l *LinearSoftmax) weights() *mat.Dense {
	return mat.NewDense(l.actions, l.obsSize, l.params[:l.actions*l.obsSize])
}

func (l *LinearSoftmax) bias() []float64 {
	off := l.actions * l.obsSize
	return l.params[off : off+l.actions]
}

func (l *LinearSoftmax) valueWeights() *mat.VecDense {
	off := l.actions*l.obsSize + l.actions
	return mat.NewVecDense(l.obsSize, l.params[off:off+l.obsSize])
}

func (l *LinearSoftmax) valueBias() *float64 {
	return &l.params[len(l.params)-1]
}

func (l *LinearSoftmax) Forward(traj *core.Trajectory, state *mat.Dense) (*core.Output, *mat.Dense, error) {
	out, _, err := l.forward(traj.Observation)
	return out, state, err
}

func (l *LinearSoftmax) forward(obs *mat.Dense) (*core.Output, []*Categorical, error) {
	rows, cols := obs.Dims()
	if cols != l.obsSize {
		return nil, nil, fmt.Errorf("%w: got %d, want %d", ErrObservationSize, cols, l.obsSize)
	}
	logits := mat.NewDense(rows, l.actions, nil)
	logits.Mul(obs, l.weights().T())

	bias := l.bias()
	dists := make([]*Categorical, rows)
	out := &core.Output{Distributions: make([]core.ActionDistribution, rows)}
	for i := 0; i < rows; i++ {
		row := logits.RawRowView(i)
		floats.Add(row, bias)
		dists[i] = NewCategorical(row)
		out.Distributions[i] = dists[i]
	}
	if l.valueHead {
		values := mat.NewVecDense(rows, nil)
		values.MulVec(obs, l.valueWeights())
		out.Values = make([]float64, rows)
		vb := *l.valueBias()
		for i := range out.Values {
			out.Values[i] = values.AtVec(i) + vb
		}
	}
	return out, dists, nil
}

// ValueAndGradient back-propagates the head cotangents returned by loss
// through the softmax and the two linear maps.
func (l *LinearSoftmax) ValueAndGradient(traj *core.Trajectory, state *mat.Dense, loss core.LossFunc) (float64, []float64, error) {
	obs := traj.Observation
	out, dists, err := l.forward(obs)
	if err != nil {
		return 0, nil, err
	}
	value, cot := loss(out)
	grad := make([]float64, len(l.params))
	if cot == nil {
		return value, grad, nil
	}

	rows := len(dists)
	for _, c := range [][]float64{cot.LogProb, cot.Entropy, cot.KL, cot.Value} {
		if c != nil && len(c) != rows {
			return 0, nil, fmt.Errorf("%w: %d cotangents for %d rows", ErrCotangentShape, len(c), rows)
		}
	}
	if cot.KL != nil && len(cot.KLReference) != rows {
		return 0, nil, fmt.Errorf("%w: %d KL references for %d rows", ErrCotangentShape, len(cot.KLReference), rows)
	}

	// dZ holds d loss / d logits, one row per trajectory row
	dZ := mat.NewDense(rows, l.actions, nil)
	for i, dist := range dists {
		dz := dZ.RawRowView(i)
		p := dist.probs
		if cot.LogProb != nil && cot.LogProb[i] != 0 {
			// d log p(a) / dz = onehot(a) - p
			c := cot.LogProb[i]
			floats.AddScaled(dz, -c, p)
			if a, ok := dist.index(traj.Action.RawRowView(i)); ok {
				dz[a] += c
			}
		}
		if cot.Entropy != nil && cot.Entropy[i] != 0 {
			// dH / dz_k = -p_k (log p_k + H)
			c := cot.Entropy[i]
			h := dist.Entropy()
			for k, pk := range p {
				dz[k] -= c * pk * (dist.logProbs[k] + h)
			}
		}
		if cot.KL != nil && cot.KL[i] != 0 {
			// d KL(q || p) / dz = p - q
			ref, ok := cot.KLReference[i].(*Categorical)
			if !ok || len(ref.probs) != l.actions {
				return 0, nil, fmt.Errorf("%w: KL reference of row %d is not a categorical over %d actions", ErrCotangentShape, i, l.actions)
			}
			c := cot.KL[i]
			floats.AddScaled(dz, c, p)
			floats.AddScaled(dz, -c, ref.probs)
		}
	}

	gradW := mat.NewDense(l.actions, l.obsSize, grad[:l.actions*l.obsSize])
	gradW.Mul(dZ.T(), obs)
	off := l.actions * l.obsSize
	gradB := grad[off : off+l.actions]
	for i := 0; i < rows; i++ {
		floats.Add(gradB, dZ.RawRowView(i))
	}

	if l.valueHead && cot.Value != nil {
		off += l.actions
		gradV := mat.NewVecDense(l.obsSize, grad[off:off+l.obsSize])
		gradV.MulVec(obs.T(), mat.NewVecDense(rows, cot.Value))
		grad[len(grad)-1] = floats.Sum(cot.Value)
	}
	return value, grad, nil
}

type LinearSoftmaxConstructor struct {
	ObservationSize int
	Actions         int
	Options         []LinearOption
}

func (c *LinearSoftmaxConstructor) NewNetwork() core.Network {
	return NewLinearSoftmax(c.ObservationSize, c.Actions, c.Options...)
}
