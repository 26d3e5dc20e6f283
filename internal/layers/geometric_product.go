package layers

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/unixsysdev/nano-go-cgenn/internal/algebra"
	"github.com/unixsysdev/nano-go-cgenn/internal/mathx"
	"github.com/unixsysdev/nano-go-cgenn/internal/sampling"
	"github.com/unixsysdev/nano-go-cgenn/internal/tensor"
)

// GPOption configures a SteerableGeometricProduct
type GPOption func(*gpOptions)

type gpOptions struct {
	includeFirstOrder bool
	normalize         bool
	normalizationInit float32
	rng               *rand.Rand
}

// WithoutFirstOrder drops the linear residual term
func WithoutFirstOrder() GPOption {
	return func(o *gpOptions) { o.includeFirstOrder = false }
}

// WithNormalizationInit sets the initial value of the normalization logits
func WithNormalizationInit(v float32) GPOption {
	return func(o *gpOptions) {
		o.normalize = true
		o.normalizationInit = v
	}
}

// WithoutNormalization replaces the normalization with the identity
func WithoutNormalization() GPOption {
	return func(o *gpOptions) { o.normalize = false }
}

// WithRand sets the source used for parameter initialisation
func WithRand(rng *rand.Rand) GPOption {
	return func(o *gpOptions) { o.rng = rng }
}

// SteerableGeometricProduct computes a learned geometric product between a
// multivector input and a linearly transformed, normalised copy of itself.
//
// The bilinear weight is not free: one scalar is learned per channel and per
// (input grade, output grade, right grade) triple allowed by the algebra, and
// every blade triple inside that block reuses it scaled by the Cayley
// structure constant. The expanded [features, B, B, B] tensor is rebuilt from
// the flat [features, P] parameter on every call.
type SteerableGeometricProduct struct {
	layout        *algebra.Layout
	features      int
	normalization Normalizer
	linearRight   *MVLinear
	residual      residual
	weight        *Parameter // [features, P]

	// expandIndex maps a flat blade triple to its path index, -1 if forbidden
	expandIndex []int
}

// NewSteerableGeometricProduct creates the layer. By default it includes the
// first-order residual and a grade normalization initialised at zero.
func NewSteerableGeometricProduct(alg algebra.Metadata, features int, opts ...GPOption) (*SteerableGeometricProduct, error) {
	o := gpOptions{includeFirstOrder: true, normalize: true}
	for _, opt := range opts {
		opt(&o)
	}
	if features <= 0 {
		return nil, errors.Errorf("features must be positive, got %d", features)
	}
	layout, err := algebra.Validate(alg)
	if err != nil {
		return nil, errors.Wrap(err, "invalid algebra")
	}
	if o.rng == nil {
		o.rng = sampling.NewRand(0)
	}

	var norm Normalizer = Identity{}
	if o.normalize {
		norm, err = newGradeNorm(layout, features, o.normalizationInit)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create normalization")
		}
	}

	linearRight, err := newMVLinear(layout, features, features, false, o.rng)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create right linear")
	}

	var res residual = productOnly{}
	if o.includeFirstOrder {
		linearLeft, err := newMVLinear(layout, features, features, true, o.rng)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create left linear")
		}
		res = &firstOrder{linear: linearLeft}
	}

	numPaths := layout.NumPaths()
	if numPaths == 0 {
		return nil, errors.New("algebra allows no geometric product paths")
	}
	weight, err := newParameter("weight", features, numPaths)
	if err != nil {
		return nil, err
	}
	sampling.Normal(o.rng, weight.Value.Float32s(), 1/math.Sqrt(float64(layout.Dim+1)))

	return &SteerableGeometricProduct{
		layout:        layout,
		features:      features,
		normalization: norm,
		linearRight:   linearRight,
		residual:      res,
		weight:        weight,
		expandIndex:   buildExpandIndex(layout),
	}, nil
}

func buildExpandIndex(layout *algebra.Layout) []int {
	nb := layout.NumBlades
	index := make([]int, nb*nb*nb)
	for i := 0; i < nb; i++ {
		gi := layout.BladeGrade[i]
		for j := 0; j < nb; j++ {
			gj := layout.BladeGrade[j]
			for k := 0; k < nb; k++ {
				gk := layout.BladeGrade[k]
				index[layout.BladeTripleIndex(i, j, k)] = layout.PathIndex[layout.GradeTripleIndex(gi, gj, gk)]
			}
		}
	}
	return index
}

// Features returns the channel count
func (l *SteerableGeometricProduct) Features() int { return l.features }

// NumBlades returns B
func (l *SteerableGeometricProduct) NumBlades() int { return l.layout.NumBlades }

// IncludesFirstOrder reports whether the linear residual term is present
func (l *SteerableGeometricProduct) IncludesFirstOrder() bool {
	_, ok := l.residual.(*firstOrder)
	return ok
}

// Weight returns the flat [features, P] product weight
func (l *SteerableGeometricProduct) Weight() *Parameter { return l.weight }

// LinearLeft returns the residual linear layer, or nil without first order
func (l *SteerableGeometricProduct) LinearLeft() *MVLinear {
	if f, ok := l.residual.(*firstOrder); ok {
		return f.linear
	}
	return nil
}

// LinearRight returns the linear layer applied to the right operand
func (l *SteerableGeometricProduct) LinearRight() *MVLinear { return l.linearRight }

// Normalization returns the normalizer applied to the right operand
func (l *SteerableGeometricProduct) Normalization() Normalizer { return l.normalization }

// ExpandWeight builds the [features, B, B, B] structured weight
func (l *SteerableGeometricProduct) ExpandWeight() (*tensor.Tensor, error) {
	nb := l.layout.NumBlades
	expanded, err := tensor.NewTensor([]int{l.features, nb, nb, nb})
	if err != nil {
		return nil, errors.Wrap(err, "failed to allocate expanded weight")
	}
	cube := nb * nb * nb
	numPaths := l.layout.NumPaths()
	w := l.weight.Value.Float32s()
	dst := expanded.Float32s()
	for n := 0; n < l.features; n++ {
		wn := w[n*numPaths : (n+1)*numPaths]
		dn := dst[n*cube : (n+1)*cube]
		for t, p := range l.expandIndex {
			if p >= 0 {
				dn[t] = wn[p] * l.layout.Cayley[t]
			}
		}
	}
	return expanded, nil
}

// Trace holds the intermediates of one forward pass needed by Backward
type Trace struct {
	input      *tensor.Tensor
	right      *tensor.Tensor
	normalized *tensor.Tensor
	weight     *tensor.Tensor
}

// Forward maps [batch, features, B] to [batch, features, B]
func (l *SteerableGeometricProduct) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	out, _, err := l.ForwardTrace(input)
	return out, err
}

// ForwardTrace is Forward that also returns the intermediates for Backward
func (l *SteerableGeometricProduct) ForwardTrace(input *tensor.Tensor) (*tensor.Tensor, *Trace, error) {
	batch, err := checkMultivectors(input, l.features, l.layout.NumBlades)
	if err != nil {
		return nil, nil, err
	}

	right, err := l.linearRight.Forward(input)
	if err != nil {
		return nil, nil, errors.Wrap(err, "right linear failed")
	}
	normalized, err := l.normalization.Forward(right)
	if err != nil {
		return nil, nil, errors.Wrap(err, "normalization failed")
	}
	weight, err := l.ExpandWeight()
	if err != nil {
		return nil, nil, err
	}

	product, err := l.contract(input, weight, normalized, batch)
	if err != nil {
		return nil, nil, err
	}
	output, err := l.residual.combine(input, product)
	if err != nil {
		return nil, nil, errors.Wrap(err, "first order term failed")
	}
	return output, &Trace{input: input, right: right, normalized: normalized, weight: weight}, nil
}

// contract computes out[b,n,j] = sum_ik x[b,n,i] w[n,i,j,k] r[b,n,k]
func (l *SteerableGeometricProduct) contract(input, weight, right *tensor.Tensor, batch int) (*tensor.Tensor, error) {
	nb := l.layout.NumBlades
	output, err := tensor.NewTensor([]int{batch, l.features, nb})
	if err != nil {
		return nil, err
	}
	x := input.Float32s()
	w := weight.Float32s()
	r := right.Float32s()
	out := output.Float32s()

	cube := nb * nb * nb
	rowStride := l.features * nb
	partial := make([]float32, batch*nb*nb)
	for n := 0; n < l.features; n++ {
		// partial[b, j*B+k] = sum_i x[b,n,i] w[n,i,j,k]
		xv := mathx.General(x[n*nb:], batch, nb, rowStride)
		wv := mathx.General(w[n*cube:(n+1)*cube], nb, nb*nb, nb*nb)
		pv := mathx.General(partial, batch, nb*nb, nb*nb)
		mathx.GemmViews(1, xv, wv, 0, pv)
		for b := 0; b < batch; b++ {
			row := b*rowStride + n*nb
			mathx.GemmNN(1, partial[b*nb*nb:(b+1)*nb*nb], nb, nb, r[row:row+nb], nb, 1, 0, out[row:row+nb])
		}
	}
	return output, nil
}

// Backward accumulates gradients into every parameter and returns the
// gradient with respect to the traced input.
func (l *SteerableGeometricProduct) Backward(trace *Trace, gradOutput *tensor.Tensor) (*tensor.Tensor, error) {
	if trace == nil {
		return nil, errors.New("backward needs a forward trace")
	}
	batch := trace.input.Shape()[0]
	if _, err := checkBatch(gradOutput, batch, l.features, l.layout.NumBlades); err != nil {
		return nil, errors.Wrap(err, "bad output gradient")
	}

	gradProduct, gradInput, err := l.residual.backward(trace.input, gradOutput)
	if err != nil {
		return nil, errors.Wrap(err, "first order backward failed")
	}

	nb := l.layout.NumBlades
	cube := nb * nb * nb
	gradX, err := tensor.NewTensor(trace.input.Shape())
	if err != nil {
		return nil, err
	}
	gradR, err := tensor.NewTensor(trace.input.Shape())
	if err != nil {
		return nil, err
	}
	x := trace.input.Float32s()
	r := trace.normalized.Float32s()
	w := trace.weight.Float32s()
	g := gradProduct.Float32s()
	gx := gradX.Float32s()
	gr := gradR.Float32s()
	gw := make([]float64, l.features*cube)

	accR := make([]float64, nb)
	for b := 0; b < batch; b++ {
		for n := 0; n < l.features; n++ {
			row := (b*l.features + n) * nb
			xr, rr, gg := x[row:row+nb], r[row:row+nb], g[row:row+nb]
			wn := w[n*cube : (n+1)*cube]
			gwn := gw[n*cube : (n+1)*cube]
			for k := range accR {
				accR[k] = 0
			}
			for i := 0; i < nb; i++ {
				xi := float64(xr[i])
				var accX float64
				for j := 0; j < nb; j++ {
					gj := float64(gg[j])
					base := (i*nb + j) * nb
					for k := 0; k < nb; k++ {
						wijk := float64(wn[base+k])
						rk := float64(rr[k])
						accX += wijk * gj * rk
						accR[k] += xi * wijk * gj
						gwn[base+k] += xi * gj * rk
					}
				}
				gx[row+i] = float32(accX)
			}
			for k, v := range accR {
				gr[row+k] = float32(v)
			}
		}
	}

	// each learned scalar collects the Cayley-weighted gradient of every
	// blade triple it was broadcast into
	numPaths := l.layout.NumPaths()
	wgrad := l.weight.Grad.Float32s()
	acc := make([]float64, numPaths)
	for n := 0; n < l.features; n++ {
		for p := range acc {
			acc[p] = 0
		}
		for t, p := range l.expandIndex {
			if p >= 0 {
				acc[p] += float64(l.layout.Cayley[t]) * gw[n*cube+t]
			}
		}
		for p, v := range acc {
			wgrad[n*numPaths+p] += float32(v)
		}
	}

	gradRight, err := l.normalization.Backward(trace.right, gradR)
	if err != nil {
		return nil, errors.Wrap(err, "normalization backward failed")
	}
	gradFromRight, err := l.linearRight.Backward(trace.input, gradRight)
	if err != nil {
		return nil, errors.Wrap(err, "right linear backward failed")
	}

	total, err := gradX.Add(gradFromRight)
	if err != nil {
		return nil, err
	}
	if gradInput != nil {
		total, err = total.Add(gradInput)
		if err != nil {
			return nil, err
		}
	}
	return total, nil
}

// Parameters returns every trainable parameter under its checkpoint name
func (l *SteerableGeometricProduct) Parameters() []*Parameter {
	params := []*Parameter{l.weight}
	params = append(params, prefixed("linear_right", l.linearRight.Parameters())...)
	if left := l.LinearLeft(); left != nil {
		params = append(params, prefixed("linear_left", left.Parameters())...)
	}
	params = append(params, prefixed("normalization", l.normalization.Parameters())...)
	return params
}

// NumParameters returns the total number of trainable scalars
func (l *SteerableGeometricProduct) NumParameters() int {
	total := 0
	for _, p := range l.Parameters() {
		total += p.Value.Size()
	}
	return total
}

// LoadWeights replaces every parameter from state, keyed by checkpoint name.
// Missing or unknown names are errors.
func (l *SteerableGeometricProduct) LoadWeights(state map[string][]float32) error {
	params := l.Parameters()
	known := make(map[string]bool, len(params))
	for _, p := range params {
		known[p.Name] = true
		data, ok := state[p.Name]
		if !ok {
			return errors.Errorf("missing parameter %s", p.Name)
		}
		if err := p.Load(data); err != nil {
			return err
		}
	}
	for name := range state {
		if !known[name] {
			return errors.Errorf("unexpected parameter %s", name)
		}
	}
	return nil
}

// residual selects between the pure product and the product averaged with a
// linear first-order term.
type residual interface {
	combine(input, product *tensor.Tensor) (*tensor.Tensor, error)
	// backward returns the gradient reaching the product and the gradient
	// the residual path contributes to the input (nil if none).
	backward(input, gradOutput *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error)
}

type productOnly struct{}

func (productOnly) combine(_, product *tensor.Tensor) (*tensor.Tensor, error) { return product, nil }

func (productOnly) backward(_, gradOutput *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	return gradOutput, nil, nil
}

type firstOrder struct {
	linear *MVLinear
}

func (f *firstOrder) combine(input, product *tensor.Tensor) (*tensor.Tensor, error) {
	left, err := f.linear.Forward(input)
	if err != nil {
		return nil, err
	}
	sum, err := left.Add(product)
	if err != nil {
		return nil, err
	}
	return sum.Scale(float32(1 / math.Sqrt2))
}

func (f *firstOrder) backward(input, gradOutput *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	scaled, err := gradOutput.Scale(float32(1 / math.Sqrt2))
	if err != nil {
		return nil, nil, err
	}
	gradInput, err := f.linear.Backward(input, scaled)
	if err != nil {
		return nil, nil, err
	}
	return scaled, gradInput, nil
}
