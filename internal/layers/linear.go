package layers

import (
	"math/rand"

	"github.com/pkg/errors"

	"github.com/unixsysdev/nano-go-cgenn/internal/algebra"
	"github.com/unixsysdev/nano-go-cgenn/internal/mathx"
	"github.com/unixsysdev/nano-go-cgenn/internal/sampling"
	"github.com/unixsysdev/nano-go-cgenn/internal/tensor"
)

// MVLinear mixes multivector channels with one weight per (out, in, grade).
// Every blade of a grade shares the same channel-mixing matrix, and the bias
// only touches the scalar blade, so the map commutes with the algebra's
// grade-preserving symmetries.
type MVLinear struct {
	layout *algebra.Layout
	in     int
	out    int
	weight *Parameter // [out, in, G]
	bias   *Parameter // [out], nil without bias
}

// NewMVLinear creates a multivector linear layer. Weights are drawn from
// N(0, 1/in), the bias starts at zero.
func NewMVLinear(alg algebra.Metadata, inFeatures, outFeatures int, hasBias bool, rng *rand.Rand) (*MVLinear, error) {
	layout, err := algebra.Validate(alg)
	if err != nil {
		return nil, errors.Wrap(err, "invalid algebra")
	}
	return newMVLinear(layout, inFeatures, outFeatures, hasBias, rng)
}

func newMVLinear(layout *algebra.Layout, inFeatures, outFeatures int, hasBias bool, rng *rand.Rand) (*MVLinear, error) {
	if inFeatures <= 0 || outFeatures <= 0 {
		return nil, errors.Errorf("linear features must be positive, got in=%d out=%d", inFeatures, outFeatures)
	}
	weight, err := newParameter("weight", outFeatures, inFeatures, layout.NumGrades)
	if err != nil {
		return nil, err
	}
	sampling.Normal(rng, weight.Value.Float32s(), sampling.FanInStd(inFeatures))

	var bias *Parameter
	if hasBias {
		bias, err = newParameter("bias", outFeatures)
		if err != nil {
			return nil, err
		}
	}

	return &MVLinear{
		layout: layout,
		in:     inFeatures,
		out:    outFeatures,
		weight: weight,
		bias:   bias,
	}, nil
}

// Forward maps [batch, in, B] to [batch, out, B]
func (l *MVLinear) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	batch, err := checkMultivectors(input, l.in, l.layout.NumBlades)
	if err != nil {
		return nil, err
	}
	output, err := tensor.NewTensor([]int{batch, l.out, l.layout.NumBlades})
	if err != nil {
		return nil, err
	}

	x := input.Float32s()
	y := output.Float32s()
	grades := l.gradeMatrices()
	xi := make([]float32, batch*l.in)
	yi := make([]float32, batch*l.out)
	for i := 0; i < l.layout.NumBlades; i++ {
		gatherBlade(xi, x, batch, l.in, l.layout.NumBlades, i)
		wg := grades[l.layout.BladeGrade[i]]
		mathx.GemmNT(1, xi, batch, l.in, wg, l.out, l.in, 0, yi)
		scatterBlade(y, yi, batch, l.out, l.layout.NumBlades, i)
	}

	if l.bias != nil {
		b := l.bias.Value.Float32s()
		for bi := 0; bi < batch; bi++ {
			for n := 0; n < l.out; n++ {
				y[(bi*l.out+n)*l.layout.NumBlades] += b[n]
			}
		}
	}
	return output, nil
}

// Backward accumulates weight and bias gradients and returns the gradient
// with respect to input.
func (l *MVLinear) Backward(input, gradOutput *tensor.Tensor) (*tensor.Tensor, error) {
	batch, err := checkMultivectors(input, l.in, l.layout.NumBlades)
	if err != nil {
		return nil, err
	}
	if _, err := checkBatch(gradOutput, batch, l.out, l.layout.NumBlades); err != nil {
		return nil, errors.Wrap(err, "bad output gradient")
	}
	gradInput, err := tensor.NewTensor(input.Shape())
	if err != nil {
		return nil, err
	}

	numBlades := l.layout.NumBlades
	numGrades := l.layout.NumGrades
	x := input.Float32s()
	gy := gradOutput.Float32s()
	gx := gradInput.Float32s()
	grades := l.gradeMatrices()

	gw := make([][]float32, numGrades)
	for g := range gw {
		gw[g] = make([]float32, l.out*l.in)
	}
	xi := make([]float32, batch*l.in)
	gyi := make([]float32, batch*l.out)
	gxi := make([]float32, batch*l.in)
	for i := 0; i < numBlades; i++ {
		g := l.layout.BladeGrade[i]
		gatherBlade(xi, x, batch, l.in, numBlades, i)
		gatherBlade(gyi, gy, batch, l.out, numBlades, i)
		mathx.GemmNN(1, gyi, batch, l.out, grades[g], l.out, l.in, 0, gxi)
		scatterBlade(gx, gxi, batch, l.in, numBlades, i)
		mathx.GemmTN(1, gyi, batch, l.out, xi, batch, l.in, 1, gw[g])
	}

	wgrad := l.weight.Grad.Float32s()
	for g := 0; g < numGrades; g++ {
		for nm, v := range gw[g] {
			wgrad[nm*numGrades+g] += v
		}
	}

	if l.bias != nil {
		bgrad := l.bias.Grad.Float32s()
		for bi := 0; bi < batch; bi++ {
			for n := 0; n < l.out; n++ {
				bgrad[n] += gy[(bi*l.out+n)*numBlades]
			}
		}
	}
	return gradInput, nil
}

// Parameters returns the trainable parameters
func (l *MVLinear) Parameters() []*Parameter {
	if l.bias == nil {
		return []*Parameter{l.weight}
	}
	return []*Parameter{l.weight, l.bias}
}

// LoadWeights loads weights ([out, in, G]) and optionally the bias
func (l *MVLinear) LoadWeights(weightData, biasData []float32) error {
	if err := l.weight.Load(weightData); err != nil {
		return err
	}
	if biasData == nil {
		return nil
	}
	if l.bias == nil {
		return errors.New("linear layer has no bias")
	}
	return l.bias.Load(biasData)
}

// gradeMatrices splits the [out, in, G] weight into G row-major [out, in] matrices
func (l *MVLinear) gradeMatrices() [][]float32 {
	numGrades := l.layout.NumGrades
	w := l.weight.Value.Float32s()
	out := make([][]float32, numGrades)
	for g := range out {
		wg := make([]float32, l.out*l.in)
		for nm := range wg {
			wg[nm] = w[nm*numGrades+g]
		}
		out[g] = wg
	}
	return out
}

// gatherBlade copies blade i of a [batch, channels, B] buffer into [batch, channels]
func gatherBlade(dst, src []float32, batch, channels, numBlades, i int) {
	for r := 0; r < batch*channels; r++ {
		dst[r] = src[r*numBlades+i]
	}
}

// scatterBlade is the inverse of gatherBlade
func scatterBlade(dst, src []float32, batch, channels, numBlades, i int) {
	for r := 0; r < batch*channels; r++ {
		dst[r*numBlades+i] = src[r]
	}
}
