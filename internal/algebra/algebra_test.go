package algebra

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unixsysdev/nano-go-cgenn/internal/tensor"
)

func TestNewFromMetricEuclidean3D(t *testing.T) {
	a, err := NewFromMetric([]float32{1, 1, 1})
	require.NoError(t, err)

	assert.Equal(t, 3, a.Dim())
	assert.Equal(t, []int{1, 3, 3, 1}, a.Subspaces())
	assert.Equal(t, 8, a.NumBlades())
	assert.Equal(t, 4, a.NumGrades())
	assert.Equal(t, []int{8, 8, 8}, a.Cayley().Shape())

	l, err := Validate(a)
	require.NoError(t, err)

	// e1 * e2 = e12, e2 * e1 = -e12 (blades: 1 e1 e2 e3 e12 e13 e23 e123)
	assert.Equal(t, float32(1), l.Cayley[l.BladeTripleIndex(1, 4, 2)])
	assert.Equal(t, float32(-1), l.Cayley[l.BladeTripleIndex(2, 4, 1)])
	// e12 * e12 = -1
	assert.Equal(t, float32(-1), l.Cayley[l.BladeTripleIndex(4, 0, 4)])
	// scalar is the identity
	for i := 0; i < 8; i++ {
		assert.Equal(t, float32(1), l.Cayley[l.BladeTripleIndex(0, i, i)])
		assert.Equal(t, float32(1), l.Cayley[l.BladeTripleIndex(i, i, 0)])
	}
	// Euclidean quadratic form is positive on every blade
	for i, q := range l.Quadratic {
		assert.Equal(t, float32(1), q, "blade %d", i)
	}
}

func TestProductPathsFollowGradeRules(t *testing.T) {
	a, err := NewFromMetric([]float32{1, 1, 1})
	require.NoError(t, err)
	l, err := Validate(a)
	require.NoError(t, err)

	// vector * vector yields grades 0 and 2 only
	assert.True(t, l.Paths[l.GradeTripleIndex(1, 0, 1)])
	assert.True(t, l.Paths[l.GradeTripleIndex(1, 2, 1)])
	assert.False(t, l.Paths[l.GradeTripleIndex(1, 1, 1)])
	assert.False(t, l.Paths[l.GradeTripleIndex(1, 3, 1)])
	// scalar * x only ever reaches grade(x)
	for gk := 0; gk < 4; gk++ {
		for gj := 0; gj < 4; gj++ {
			assert.Equal(t, gj == gk, l.Paths[l.GradeTripleIndex(0, gj, gk)])
		}
	}

	count := 0
	for _, ok := range l.Paths {
		if ok {
			count++
		}
	}
	assert.Equal(t, count, l.NumPaths())
	assert.Equal(t, 20, l.NumPaths())
}

func TestPathIndexIsRowMajor(t *testing.T) {
	a, err := NewFromMetric([]float32{1, -1})
	require.NoError(t, err)
	l, err := Validate(a)
	require.NoError(t, err)

	prev := -1
	for idx, ok := range l.Paths {
		if !ok {
			assert.Equal(t, -1, l.PathIndex[idx])
			continue
		}
		p := l.PathIndex[idx]
		assert.Equal(t, prev+1, p)
		g := l.PathGrades[p]
		assert.Equal(t, idx, l.GradeTripleIndex(g[0], g[1], g[2]))
		prev = p
	}
}

func TestMinkowskiQuadraticForm(t *testing.T) {
	a, err := NewFromMetric([]float32{1, -1})
	require.NoError(t, err)
	l, err := Validate(a)
	require.NoError(t, err)

	// blades: 1 e1 e2 e12
	assert.Equal(t, []float32{1, 1, -1, -1}, l.Quadratic)
}

func TestDegenerateMetricDropsPaths(t *testing.T) {
	a, err := NewFromMetric([]float32{0, 1, 1})
	require.NoError(t, err)
	l, err := Validate(a)
	require.NoError(t, err)

	// e1 squares to zero
	assert.Equal(t, float32(0), l.Cayley[l.BladeTripleIndex(1, 0, 1)])
	assert.Equal(t, float32(0), l.Quadratic[1])
	assert.True(t, l.Paths[l.GradeTripleIndex(1, 0, 1)], "e2*e2 still reaches the scalar")
}

func TestNewFromMetricRejectsBadInput(t *testing.T) {
	_, err := NewFromMetric(nil)
	assert.Error(t, err)

	_, err = NewFromMetric(make([]float32, maxMetricDim+1))
	assert.Error(t, err)
}

func TestValidateRejectsInconsistentMetadata(t *testing.T) {
	cayley3 := tensor.MustFromFloat32s([]int{3, 3, 3}, make([]float32, 27))
	paths2 := []bool{true, false, false, true, false, false, false, true}

	tests := []struct {
		name      string
		dim       int
		subspaces []int
		cayley    *tensor.Tensor
		paths     []bool
		msg       string
	}{
		{"zero dim", 0, []int{1, 2}, cayley3, paths2, "dim must be positive"},
		{"no grades", 1, nil, cayley3, nil, "no grades"},
		{"empty grade", 1, []int{1, 0, 2}, cayley3, make([]bool, 27), "at least one blade"},
		{"subspace sum", 1, []int{1, 1}, cayley3, paths2, "sum to 2 blades but cayley has 3"},
		{"nil cayley", 1, []int{1, 2}, nil, paths2, "cayley tensor is nil"},
		{"rank", 1, []int{1, 2}, tensor.MustFromFloat32s([]int{3, 9}, make([]float32, 27)), paths2, "rank 3"},
		{"not cubic", 1, []int{1, 2}, tensor.MustFromFloat32s([]int{3, 3, 1}, make([]float32, 9)), paths2, "cubic"},
		{"path length", 1, []int{1, 2}, cayley3, []bool{true, false}, "want 8 for 2 grades"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.dim, tt.subspaces, tt.cayley, tt.paths)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestValidateNil(t *testing.T) {
	_, err := Validate(nil)
	assert.Error(t, err)
}

func TestLayoutTables(t *testing.T) {
	a, err := NewFromMetric([]float32{1, 1, 1})
	require.NoError(t, err)
	l, err := Validate(a)
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1, 1, 1, 2, 2, 2, 3}, l.BladeGrade)
	assert.Equal(t, []int{0, 1, 4, 7}, l.GradeStart)
}
