package optim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unixsysdev/nano-go-cgenn/internal/algebra"
	"github.com/unixsysdev/nano-go-cgenn/internal/layers"
	"github.com/unixsysdev/nano-go-cgenn/internal/sampling"
	"github.com/unixsysdev/nano-go-cgenn/internal/tensor"
)

func TestNewSGDRejectsNonPositiveRate(t *testing.T) {
	_, err := NewSGD(0)
	assert.Error(t, err)
	_, err = NewSGD(-1)
	assert.Error(t, err)
}

func TestStepAndZeroGrad(t *testing.T) {
	p := &layers.Parameter{
		Name:  "w",
		Value: tensor.MustFromFloat32s([]int{3}, []float32{1, 2, 3}),
		Grad:  tensor.MustFromFloat32s([]int{3}, []float32{10, -10, 0}),
	}
	opt, err := NewSGD(0.1)
	require.NoError(t, err)

	opt.Step([]*layers.Parameter{p})
	assert.InDeltaSlice(t, []float32{0, 3, 3}, p.Value.Float32s(), 1e-6)

	ZeroGrad([]*layers.Parameter{p})
	assert.Equal(t, []float32{0, 0, 0}, p.Grad.Float32s())
}

func TestSparsitySurvivesTraining(t *testing.T) {
	alg, err := algebra.NewFromMetric([]float32{1, 1, 1})
	require.NoError(t, err)
	layout, err := algebra.Validate(alg)
	require.NoError(t, err)
	l, err := layers.NewSteerableGeometricProduct(alg, 3, layers.WithRand(sampling.NewRand(5)))
	require.NoError(t, err)

	opt, err := NewSGD(0.05)
	require.NoError(t, err)
	in, err := tensor.NewTensor([]int{4, 3, 8})
	require.NoError(t, err)
	sampling.Normal(sampling.NewRand(6), in.Float32s(), 1)
	target, err := tensor.NewTensor([]int{4, 3, 8})
	require.NoError(t, err)
	sampling.Normal(sampling.NewRand(7), target.Float32s(), 1)

	params := l.Parameters()
	for step := 0; step < 5; step++ {
		ZeroGrad(params)
		out, trace, err := l.ForwardTrace(in)
		require.NoError(t, err)
		grad, err := out.Add(target)
		require.NoError(t, err)
		_, err = l.Backward(trace, grad)
		require.NoError(t, err)
		opt.Step(params)

		assert.Equal(t, []int{3, layout.NumPaths()}, l.Weight().Value.Shape())
		w, err := l.ExpandWeight()
		require.NoError(t, err)
		nb := layout.NumBlades
		cube := nb * nb * nb
		data := w.Float32s()
		for n := 0; n < 3; n++ {
			for i := 0; i < nb; i++ {
				for j := 0; j < nb; j++ {
					for k := 0; k < nb; k++ {
						g := layout.GradeTripleIndex(layout.BladeGrade[i], layout.BladeGrade[j], layout.BladeGrade[k])
						if !layout.Paths[g] {
							require.Zero(t, data[n*cube+layout.BladeTripleIndex(i, j, k)])
						}
					}
				}
			}
		}
	}
}
