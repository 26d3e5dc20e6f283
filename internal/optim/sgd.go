// Package optim updates layer parameters from their accumulated gradients.
package optim

import (
	"github.com/pkg/errors"

	"github.com/unixsysdev/nano-go-cgenn/internal/layers"
)

// SGD is plain stochastic gradient descent
type SGD struct {
	LearningRate float32
}

// NewSGD creates an SGD optimizer
func NewSGD(lr float32) (*SGD, error) {
	if lr <= 0 {
		return nil, errors.Errorf("learning rate must be positive, got %g", lr)
	}
	return &SGD{LearningRate: lr}, nil
}

// Step applies value -= lr * grad to every parameter
func (o *SGD) Step(params []*layers.Parameter) {
	for _, p := range params {
		v := p.Value.Float32s()
		g := p.Grad.Float32s()
		for i := range v {
			v[i] -= o.LearningRate * g[i]
		}
	}
}

// ZeroGrad clears the gradients of every parameter
func ZeroGrad(params []*layers.Parameter) {
	for _, p := range params {
		p.ZeroGrad()
	}
}
