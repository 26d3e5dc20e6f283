package layers

import (
	"github.com/pkg/errors"

	"github.com/unixsysdev/nano-go-cgenn/internal/tensor"
)

// checkMultivectors verifies input is [batch, channels, numBlades] and returns batch
func checkMultivectors(input *tensor.Tensor, channels, numBlades int) (int, error) {
	if input == nil {
		return 0, errors.New("input tensor is nil")
	}
	shape := input.Shape()
	if len(shape) != 3 {
		return 0, errors.Errorf("input must be 3D [batch, channels, blades], got shape %v", shape)
	}
	if shape[1] != channels {
		return 0, errors.Errorf("input has %d channels, layer expects %d (shape %v)", shape[1], channels, shape)
	}
	if shape[2] != numBlades {
		return 0, errors.Errorf("input has %d blades, algebra has %d (shape %v)", shape[2], numBlades, shape)
	}
	return shape[0], nil
}

// checkBatch is checkMultivectors with a fixed batch size
func checkBatch(t *tensor.Tensor, batch, channels, numBlades int) (int, error) {
	b, err := checkMultivectors(t, channels, numBlades)
	if err != nil {
		return 0, err
	}
	if b != batch {
		return 0, errors.Errorf("batch size %d does not match %d", b, batch)
	}
	return b, nil
}
