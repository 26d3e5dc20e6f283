package layers

import (
	"github.com/pkg/errors"

	"github.com/unixsysdev/nano-go-cgenn/internal/tensor"
)

// Parameter is a trainable tensor together with its accumulated gradient
type Parameter struct {
	Name  string
	Value *tensor.Tensor
	Grad  *tensor.Tensor
}

func newParameter(name string, shape ...int) (*Parameter, error) {
	value, err := tensor.NewTensor(shape)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create %s", name)
	}
	grad, err := tensor.NewTensor(shape)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create %s grad", name)
	}
	return &Parameter{Name: name, Value: value, Grad: grad}, nil
}

// ZeroGrad clears the accumulated gradient
func (p *Parameter) ZeroGrad() {
	p.Grad.Zero()
}

// Load copies data into the parameter value
func (p *Parameter) Load(data []float32) error {
	buf := p.Value.Float32s()
	if len(data) != len(buf) {
		return errors.Errorf("parameter %s holds %d values (shape %v), got %d",
			p.Name, len(buf), p.Value.Shape(), len(data))
	}
	copy(buf, data)
	return nil
}

// prefixed renames parameters of a sub-layer, e.g. "weight" -> "linear_left.weight"
func prefixed(prefix string, params []*Parameter) []*Parameter {
	out := make([]*Parameter, len(params))
	for i, p := range params {
		out[i] = &Parameter{Name: prefix + "." + p.Name, Value: p.Value, Grad: p.Grad}
	}
	return out
}
