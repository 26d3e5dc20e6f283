package layers

import (
	"math"

	"github.com/pkg/errors"

	"github.com/unixsysdev/nano-go-cgenn/internal/algebra"
	"github.com/unixsysdev/nano-go-cgenn/internal/tensor"
)

const (
	// normEps keeps the per-grade divisor away from zero
	normEps = 1e-6
	// smoothEps regularises the fourth root used as a smooth |q|^(1/2)
	smoothEps = 1e-16
)

// Normalizer rescales multivector features. The variant is picked once when
// the owning layer is built.
type Normalizer interface {
	Forward(input *tensor.Tensor) (*tensor.Tensor, error)
	Backward(input, gradOutput *tensor.Tensor) (*tensor.Tensor, error)
	Parameters() []*Parameter
}

// Identity passes features through unchanged
type Identity struct{}

// Forward returns input
func (Identity) Forward(input *tensor.Tensor) (*tensor.Tensor, error) { return input, nil }

// Backward returns gradOutput
func (Identity) Backward(_, gradOutput *tensor.Tensor) (*tensor.Tensor, error) { return gradOutput, nil }

// Parameters returns nothing
func (Identity) Parameters() []*Parameter { return nil }

// GradeNorm divides every grade of every channel by a learned interpolation
// between 1 and the grade's norm:
//
//	q = sum_i s_i x_i^2      (s_i from the algebra's quadratic form)
//	n = (q^2 + 1e-16)^(1/4)
//	y = x / (sigmoid(a)*(n-1) + 1 + 1e-6)
type GradeNorm struct {
	layout   *algebra.Layout
	features int
	a        *Parameter // [features, G]
}

// NewGradeNorm creates a grade normalisation layer with a = initial everywhere
func NewGradeNorm(alg algebra.Metadata, features int, initial float32) (*GradeNorm, error) {
	layout, err := algebra.Validate(alg)
	if err != nil {
		return nil, errors.Wrap(err, "invalid algebra")
	}
	return newGradeNorm(layout, features, initial)
}

func newGradeNorm(layout *algebra.Layout, features int, initial float32) (*GradeNorm, error) {
	if features <= 0 {
		return nil, errors.Errorf("normalization features must be positive, got %d", features)
	}
	a, err := newParameter("a", features, layout.NumGrades)
	if err != nil {
		return nil, err
	}
	a.Value.Fill(initial)
	return &GradeNorm{layout: layout, features: features, a: a}, nil
}

// Forward normalises [batch, features, B]
func (r *GradeNorm) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	batch, err := checkMultivectors(input, r.features, r.layout.NumBlades)
	if err != nil {
		return nil, err
	}
	output, err := tensor.NewTensor(input.Shape())
	if err != nil {
		return nil, err
	}

	x := input.Float32s()
	y := output.Float32s()
	a := r.a.Value.Float32s()
	for b := 0; b < batch; b++ {
		for n := 0; n < r.features; n++ {
			row := (b*r.features + n) * r.layout.NumBlades
			for g := 0; g < r.layout.NumGrades; g++ {
				lo, hi := r.gradeRange(g)
				q := r.quadratic(x[row+lo : row+hi], lo)
				sa := sigmoid(float64(a[n*r.layout.NumGrades+g]))
				d := sa*(smoothSqrtAbs(q)-1) + 1 + normEps
				for i := lo; i < hi; i++ {
					y[row+i] = float32(float64(x[row+i]) / d)
				}
			}
		}
	}
	return output, nil
}

// Backward accumulates the gradient of a and returns the input gradient
func (r *GradeNorm) Backward(input, gradOutput *tensor.Tensor) (*tensor.Tensor, error) {
	batch, err := checkMultivectors(input, r.features, r.layout.NumBlades)
	if err != nil {
		return nil, err
	}
	if _, err := checkBatch(gradOutput, batch, r.features, r.layout.NumBlades); err != nil {
		return nil, errors.Wrap(err, "bad output gradient")
	}
	gradInput, err := tensor.NewTensor(input.Shape())
	if err != nil {
		return nil, err
	}

	x := input.Float32s()
	gy := gradOutput.Float32s()
	gx := gradInput.Float32s()
	a := r.a.Value.Float32s()
	ga := r.a.Grad.Float32s()
	for b := 0; b < batch; b++ {
		for n := 0; n < r.features; n++ {
			row := (b*r.features + n) * r.layout.NumBlades
			for g := 0; g < r.layout.NumGrades; g++ {
				lo, hi := r.gradeRange(g)
				q := r.quadratic(x[row+lo : row+hi], lo)
				root := q*q + smoothEps
				norm := math.Pow(root, 0.25)
				ai := n*r.layout.NumGrades + g
				sa := sigmoid(float64(a[ai]))
				d := sa*(norm-1) + 1 + normEps

				var dot float64
				for i := lo; i < hi; i++ {
					dot += float64(gy[row+i]) * float64(x[row+i])
				}
				gd := -dot / (d * d)
				gq := gd * sa * q / (2 * math.Pow(root, 0.75))
				for i := lo; i < hi; i++ {
					xi := float64(x[row+i])
					gx[row+i] = float32(float64(gy[row+i])/d + gq*2*float64(r.layout.Quadratic[i])*xi)
				}
				ga[ai] += float32(gd * sa * (1 - sa) * (norm - 1))
			}
		}
	}
	return gradInput, nil
}

// Parameters returns the per-grade mixing logits
func (r *GradeNorm) Parameters() []*Parameter {
	return []*Parameter{r.a}
}

// LoadWeights loads a ([features, G])
func (r *GradeNorm) LoadWeights(data []float32) error {
	return r.a.Load(data)
}

func (r *GradeNorm) gradeRange(g int) (int, int) {
	lo := r.layout.GradeStart[g]
	return lo, lo + r.layout.Subspaces[g]
}

// quadratic evaluates the grade's quadratic form on blades starting at offset
func (r *GradeNorm) quadratic(x []float32, offset int) float64 {
	var q float64
	for i, v := range x {
		q += float64(r.layout.Quadratic[offset+i]) * float64(v) * float64(v)
	}
	return q
}

func smoothSqrtAbs(q float64) float64 {
	return math.Pow(q*q+smoothEps, 0.25)
}

func sigmoid(v float64) float64 {
	return 1 / (1 + math.Exp(-v))
}
