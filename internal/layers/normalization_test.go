package layers

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unixsysdev/nano-go-cgenn/internal/tensor"
)

func TestIdentityNormalizer(t *testing.T) {
	in := randomInput(t, 1, 2, 2, 4)
	out, err := Identity{}.Forward(in)
	require.NoError(t, err)
	assert.Same(t, in, out)
	g, err := Identity{}.Backward(in, out)
	require.NoError(t, err)
	assert.Same(t, out, g)
	assert.Empty(t, Identity{}.Parameters())
}

func TestGradeNormDividesByInterpolatedNorm(t *testing.T) {
	norm, err := NewGradeNorm(euclidean(t, 2), 1, 0)
	require.NoError(t, err)

	// grade 1 norm is 5, the scalar and pseudoscalar norms are 2 and 1
	in := tensor.MustFromFloat32s([]int{1, 1, 4}, []float32{2, 3, 4, -1})
	out, err := norm.Forward(in)
	require.NoError(t, err)

	// sigmoid(0) = 0.5, so the divisor is 0.5*(n-1)+1
	div := func(n float64) float64 { return 0.5*(n-1) + 1 + normEps }
	want := []float64{2 / div(2), 3 / div(5), 4 / div(5), -1 / div(1)}
	for i, w := range want {
		assert.InDelta(t, w, float64(out.Float32s()[i]), 1e-5)
	}
}

func TestGradeNormLargeInitApproachesUnitNorm(t *testing.T) {
	norm, err := NewGradeNorm(euclidean(t, 3), 2, 30)
	require.NoError(t, err)
	in := randomInput(t, 2, 3, 2, 8)
	// keep every grade well away from zero norm
	for i, v := range in.Float32s() {
		in.Float32s()[i] = v + float32(math.Copysign(0.5, float64(v)))
	}
	out, err := norm.Forward(in)
	require.NoError(t, err)

	y := out.Float32s()
	subspaces := []int{1, 3, 3, 1}
	for row := 0; row < 6; row++ {
		start := row * 8
		for _, s := range subspaces {
			var sq float64
			for i := start; i < start+s; i++ {
				sq += float64(y[i]) * float64(y[i])
			}
			assert.InDelta(t, 1, math.Sqrt(sq), 1e-4)
			start += s
		}
	}
}

func TestGradeNormBackward(t *testing.T) {
	norm, err := NewGradeNorm(euclidean(t, 2), 2, 0.4)
	require.NoError(t, err)
	require.NoError(t, norm.LoadWeights([]float32{0.1, -0.3, 0.7, 1.2, -0.5, 0}))
	in := randomInput(t, 3, 2, 2, 4)
	coeff := randomInput(t, 4, 2, 2, 4)

	gradIn, err := norm.Backward(in, coeff)
	require.NoError(t, err)

	loss := func() float64 {
		out, err := norm.Forward(in)
		require.NoError(t, err)
		var s float64
		for i, v := range out.Float32s() {
			s += float64(v) * float64(coeff.Float32s()[i])
		}
		return s
	}

	const h = 1e-3
	check := func(name string, vals, grads []float32) {
		for idx := range vals {
			orig := vals[idx]
			vals[idx] = orig + h
			up := loss()
			vals[idx] = orig - h
			down := loss()
			vals[idx] = orig
			numeric := (up - down) / (2 * h)
			assert.InDelta(t, numeric, float64(grads[idx]), 5e-3+1e-2*math.Abs(numeric), "%s[%d]", name, idx)
		}
	}
	check("a", norm.Parameters()[0].Value.Float32s(), norm.Parameters()[0].Grad.Float32s())
	check("input", in.Float32s(), gradIn.Float32s())
}

func TestGradeNormErrors(t *testing.T) {
	_, err := NewGradeNorm(euclidean(t, 2), 0, 0)
	assert.Error(t, err)
	_, err = NewGradeNorm(nil, 2, 0)
	assert.Error(t, err)

	norm, err := NewGradeNorm(euclidean(t, 2), 2, 0)
	require.NoError(t, err)
	_, err = norm.Forward(randomInput(t, 1, 2, 3, 4))
	assert.Error(t, err)
	assert.Error(t, norm.LoadWeights([]float32{1}))
}
