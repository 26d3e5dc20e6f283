package algebra

import (
	"math/bits"

	"github.com/pkg/errors"

	"github.com/unixsysdev/nano-go-cgenn/internal/tensor"
)

// maxMetricDim keeps the dense [B,B,B] Cayley tensor below 2^24 entries
const maxMetricDim = 8

// NewFromMetric builds the Clifford algebra of a diagonal quadratic form.
// Blades are ordered by grade and lexicographically within a grade, so for
// metric (1,1,1) the order is 1, e1, e2, e3, e12, e13, e23, e123.
func NewFromMetric(metric []float32) (*Algebra, error) {
	dim := len(metric)
	if dim == 0 {
		return nil, errors.New("metric must have at least one entry")
	}
	if dim > maxMetricDim {
		return nil, errors.Errorf("metric dimension %d exceeds supported maximum %d", dim, maxMetricDim)
	}

	masks := bladeMasks(dim)
	numBlades := len(masks)
	position := make(map[uint]int, numBlades)
	for i, m := range masks {
		position[m] = i
	}

	subspaces := make([]int, dim+1)
	for _, m := range masks {
		subspaces[bits.OnesCount(m)]++
	}

	cayley := make([]float32, numBlades*numBlades*numBlades)
	for i, a := range masks {
		for k, b := range masks {
			coeff := reorderSign(a, b)
			common := a & b
			for d := 0; d < dim; d++ {
				if common&(1<<uint(d)) != 0 {
					coeff *= metric[d]
				}
			}
			j := position[a^b]
			cayley[(i*numBlades+j)*numBlades+k] = coeff
		}
	}

	numGrades := dim + 1
	paths := make([]bool, numGrades*numGrades*numGrades)
	for i, a := range masks {
		for j, c := range masks {
			for k, b := range masks {
				if cayley[(i*numBlades+j)*numBlades+k] == 0 {
					continue
				}
				gi, gj, gk := bits.OnesCount(a), bits.OnesCount(c), bits.OnesCount(b)
				paths[(gi*numGrades+gj)*numGrades+gk] = true
			}
		}
	}

	ct, err := tensor.FromFloat32s([]int{numBlades, numBlades, numBlades}, cayley)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create cayley tensor")
	}
	return New(dim, subspaces, ct, paths)
}

// bladeMasks enumerates basis blades as bitmasks, grade by grade
func bladeMasks(dim int) []uint {
	masks := make([]uint, 0, 1<<uint(dim))
	for g := 0; g <= dim; g++ {
		masks = appendCombinations(masks, dim, g, 0, 0)
	}
	return masks
}

func appendCombinations(dst []uint, dim, remaining, start int, prefix uint) []uint {
	if remaining == 0 {
		return append(dst, prefix)
	}
	for d := start; d <= dim-remaining; d++ {
		dst = appendCombinations(dst, dim, remaining-1, d+1, prefix|1<<uint(d))
	}
	return dst
}

// reorderSign is the sign picked up by sorting the basis vectors of a*b
// into canonical order: (-1)^(number of transpositions).
func reorderSign(a, b uint) float32 {
	a >>= 1
	swaps := 0
	for a != 0 {
		swaps += bits.OnesCount(a & b)
		a >>= 1
	}
	if swaps%2 == 0 {
		return 1
	}
	return -1
}
