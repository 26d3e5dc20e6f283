package tensor

import (
	"github.com/pkg/errors"
	ggtensor "gorgonia.org/tensor"
)

// Tensor is a dense row-major float32 array
type Tensor struct {
	data *ggtensor.Dense
}

// NewTensor creates a zero-filled tensor of the given shape
func NewTensor(shape []int) (*Tensor, error) {
	if err := checkShape(shape); err != nil {
		return nil, err
	}
	data := ggtensor.New(ggtensor.WithShape(shape...), ggtensor.Of(ggtensor.Float32))
	return &Tensor{data: data}, nil
}

// FromFloat32s wraps a copy of values with the given shape
func FromFloat32s(shape []int, values []float32) (*Tensor, error) {
	if err := checkShape(shape); err != nil {
		return nil, err
	}
	if n := numElements(shape); n != len(values) {
		return nil, errors.Errorf("shape %v needs %d values, got %d", shape, n, len(values))
	}
	backing := make([]float32, len(values))
	copy(backing, values)
	data := ggtensor.New(ggtensor.WithShape(shape...), ggtensor.WithBacking(backing))
	return &Tensor{data: data}, nil
}

// MustFromFloat32s is FromFloat32s for static fixtures; it panics on error
func MustFromFloat32s(shape []int, values []float32) *Tensor {
	t, err := FromFloat32s(shape, values)
	if err != nil {
		panic(err)
	}
	return t
}

// Shape returns a copy of the tensor shape
func (t *Tensor) Shape() []int {
	s := t.data.Shape()
	out := make([]int, len(s))
	copy(out, s)
	return out
}

// Size returns the number of elements
func (t *Tensor) Size() int {
	return t.data.Size()
}

// Float32s returns the backing slice. Writes go straight into the tensor.
func (t *Tensor) Float32s() []float32 {
	return t.data.Float32s()
}

// At returns the value at coordinates
func (t *Tensor) At(coord ...int) (float32, error) {
	v, err := t.data.At(coord...)
	if err != nil {
		return 0, err
	}
	return v.(float32), nil
}

// SetAt sets the value at coordinates
func (t *Tensor) SetAt(v float32, coord ...int) error {
	return t.data.SetAt(v, coord...)
}

// Clone returns a deep copy
func (t *Tensor) Clone() *Tensor {
	return &Tensor{data: t.data.Clone().(*ggtensor.Dense)}
}

// Fill sets every element to v
func (t *Tensor) Fill(v float32) {
	buf := t.Float32s()
	for i := range buf {
		buf[i] = v
	}
}

// Zero sets every element to zero
func (t *Tensor) Zero() {
	t.Fill(0)
}

// SameShape reports whether both tensors have the same rank and dimensions.
// [3] and [1,3] differ.
func (t *Tensor) SameShape(other *Tensor) bool {
	a, b := t.data.Shape(), other.data.Shape()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Add performs element-wise addition into a new tensor
func (t *Tensor) Add(other *Tensor) (*Tensor, error) {
	if !t.SameShape(other) {
		return nil, errors.Errorf("add: shape mismatch %v vs %v", t.Shape(), other.Shape())
	}
	result, err := ggtensor.Add(t.data, other.data)
	if err != nil {
		return nil, errors.Wrap(err, "add failed")
	}
	return &Tensor{data: result.(*ggtensor.Dense)}, nil
}

// Mul performs element-wise multiplication into a new tensor
func (t *Tensor) Mul(other *Tensor) (*Tensor, error) {
	if !t.SameShape(other) {
		return nil, errors.Errorf("mul: shape mismatch %v vs %v", t.Shape(), other.Shape())
	}
	result, err := ggtensor.Mul(t.data, other.data)
	if err != nil {
		return nil, errors.Wrap(err, "mul failed")
	}
	return &Tensor{data: result.(*ggtensor.Dense)}, nil
}

// Scale multiplies every element by s into a new tensor
func (t *Tensor) Scale(s float32) (*Tensor, error) {
	result, err := ggtensor.Mul(t.data, s)
	if err != nil {
		return nil, errors.Wrap(err, "scale failed")
	}
	return &Tensor{data: result.(*ggtensor.Dense)}, nil
}

// Reshape returns a tensor sharing t's data under a new shape
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	if err := checkShape(shape); err != nil {
		return nil, err
	}
	if numElements(shape) != t.Size() {
		return nil, errors.Errorf("cannot reshape %v into %v", t.Shape(), shape)
	}
	d := t.data.ShallowClone()
	if err := d.Reshape(shape...); err != nil {
		return nil, errors.Wrap(err, "reshape failed")
	}
	return &Tensor{data: d}, nil
}

func checkShape(shape []int) error {
	if len(shape) == 0 {
		return errors.New("tensor shape must have at least one dimension")
	}
	for i, d := range shape {
		if d <= 0 {
			return errors.Errorf("tensor dimension %d must be positive, got %d (shape %v)", i, d, shape)
		}
	}
	return nil
}

func numElements(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}
