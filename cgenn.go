// Package cgenn exposes the steerable geometric product layer of a Clifford
// group equivariant network together with the algebra metadata it consumes.
package cgenn

import (
	"math/rand"

	"github.com/unixsysdev/nano-go-cgenn/internal/algebra"
	"github.com/unixsysdev/nano-go-cgenn/internal/layers"
	"github.com/unixsysdev/nano-go-cgenn/internal/tensor"
)

type (
	// Tensor is a dense float32 tensor
	Tensor = tensor.Tensor
	// Algebra holds Clifford algebra metadata
	Algebra = algebra.Algebra
	// AlgebraMetadata is what a layer needs to know about an algebra
	AlgebraMetadata = algebra.Metadata
	// Layer is the steerable geometric product layer
	Layer = layers.SteerableGeometricProduct
	// Option configures a Layer
	Option = layers.GPOption
	// Parameter is a trainable tensor with its gradient
	Parameter = layers.Parameter
)

// NewTensor creates a tensor holding a copy of values
func NewTensor(shape []int, values []float32) (*Tensor, error) {
	return tensor.FromFloat32s(shape, values)
}

// NewAlgebra builds the Clifford algebra of a diagonal metric
func NewAlgebra(metric []float32) (*Algebra, error) {
	return algebra.NewFromMetric(metric)
}

// NewAlgebraFromMetadata wraps externally derived algebra metadata
func NewAlgebraFromMetadata(dim int, subspaces []int, cayley *Tensor, paths []bool) (*Algebra, error) {
	return algebra.New(dim, subspaces, cayley, paths)
}

// NewLayer creates a steerable geometric product layer
func NewLayer(alg AlgebraMetadata, features int, opts ...Option) (*Layer, error) {
	return layers.NewSteerableGeometricProduct(alg, features, opts...)
}

// WithoutFirstOrder drops the linear residual term
func WithoutFirstOrder() Option { return layers.WithoutFirstOrder() }

// WithNormalizationInit sets the normalization init value
func WithNormalizationInit(v float32) Option { return layers.WithNormalizationInit(v) }

// WithoutNormalization uses the identity in place of the normalization
func WithoutNormalization() Option { return layers.WithoutNormalization() }

// WithRand sets the initialisation source
func WithRand(rng *rand.Rand) Option { return layers.WithRand(rng) }
