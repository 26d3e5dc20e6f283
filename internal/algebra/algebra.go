// Package algebra describes the Clifford algebra metadata consumed by the
// multivector layers: grade layout, Cayley structure constants and the
// grade-level product path mask.
package algebra

import (
	"github.com/pkg/errors"

	"github.com/unixsysdev/nano-go-cgenn/internal/tensor"
)

// Metadata is the read-only view of an algebra that layers depend on.
//
// Cayley()[i,j,k] is the coefficient of blade j in the product of blade i
// (left) with blade k (right), matching the contraction bni,nijk,bnk->bnj.
// GeometricProductPaths() is a row-major [G,G,G] mask over
// (grade(i), grade(j), grade(k)).
type Metadata interface {
	Dim() int
	Subspaces() []int
	Cayley() *tensor.Tensor
	GeometricProductPaths() []bool
}

// Algebra holds immutable algebra metadata
type Algebra struct {
	dim       int
	subspaces []int
	cayley    *tensor.Tensor
	paths     []bool
}

// New wraps raw metadata after validating it
func New(dim int, subspaces []int, cayley *tensor.Tensor, paths []bool) (*Algebra, error) {
	a := &Algebra{
		dim:       dim,
		subspaces: append([]int(nil), subspaces...),
		cayley:    cayley,
		paths:     append([]bool(nil), paths...),
	}
	if _, err := Validate(a); err != nil {
		return nil, err
	}
	return a, nil
}

// Dim returns the dimension of the underlying vector space
func (a *Algebra) Dim() int { return a.dim }

// Subspaces returns the number of blades per grade
func (a *Algebra) Subspaces() []int { return append([]int(nil), a.subspaces...) }

// Cayley returns the [B,B,B] structure constants
func (a *Algebra) Cayley() *tensor.Tensor { return a.cayley }

// GeometricProductPaths returns the [G,G,G] grade path mask
func (a *Algebra) GeometricProductPaths() []bool { return append([]bool(nil), a.paths...) }

// NumBlades returns B
func (a *Algebra) NumBlades() int { return a.cayley.Shape()[0] }

// NumGrades returns G
func (a *Algebra) NumGrades() int { return len(a.subspaces) }

// Layout is the set of index tables derived from Metadata. Layers build one
// at construction and never touch the raw metadata again.
type Layout struct {
	Dim        int
	NumGrades  int
	NumBlades  int
	Subspaces  []int
	BladeGrade []int // blade index -> grade
	GradeStart []int // grade -> first blade index

	// Paths is the row-major [G,G,G] mask, PathGrades lists the grade triple
	// of every true entry in mask order, and PathIndex maps a flat grade
	// triple to its position in PathGrades (or -1).
	Paths      []bool
	PathGrades [][3]int
	PathIndex  []int

	// Cayley is the flat [B,B,B] copy of the structure constants.
	Cayley []float32

	// Quadratic holds q(e_i) for each basis blade, i.e. the scalar part of
	// reverse(e_i) * e_i. The quadratic form of a grade is sum_i Quadratic[i]*x_i^2.
	Quadratic []float32
}

// NumPaths returns P, the number of true grade triples
func (l *Layout) NumPaths() int { return len(l.PathGrades) }

// Validate checks that m is internally consistent and returns its layout.
func Validate(m Metadata) (*Layout, error) {
	if m == nil {
		return nil, errors.New("algebra metadata is nil")
	}
	dim := m.Dim()
	if dim <= 0 {
		return nil, errors.Errorf("algebra dim must be positive, got %d", dim)
	}
	subspaces := m.Subspaces()
	if len(subspaces) == 0 {
		return nil, errors.New("algebra has no grades")
	}
	numBlades := 0
	for g, s := range subspaces {
		if s <= 0 {
			return nil, errors.Errorf("subspace %d must hold at least one blade, got %d", g, s)
		}
		numBlades += s
	}

	cayley := m.Cayley()
	if cayley == nil {
		return nil, errors.New("algebra cayley tensor is nil")
	}
	cs := cayley.Shape()
	if len(cs) != 3 {
		return nil, errors.Errorf("cayley tensor must be rank 3, got shape %v", cs)
	}
	if cs[0] != cs[1] || cs[1] != cs[2] {
		return nil, errors.Errorf("cayley tensor must be cubic, got shape %v", cs)
	}
	if cs[0] != numBlades {
		return nil, errors.Errorf("subspaces %v sum to %d blades but cayley has %d", subspaces, numBlades, cs[0])
	}

	numGrades := len(subspaces)
	paths := m.GeometricProductPaths()
	if len(paths) != numGrades*numGrades*numGrades {
		return nil, errors.Errorf("product path mask has %d entries, want %d for %d grades",
			len(paths), numGrades*numGrades*numGrades, numGrades)
	}

	l := &Layout{
		Dim:        dim,
		NumGrades:  numGrades,
		NumBlades:  numBlades,
		Subspaces:  subspaces,
		BladeGrade: make([]int, numBlades),
		GradeStart: make([]int, numGrades),
		Paths:      paths,
		PathIndex:  make([]int, len(paths)),
		Cayley:     append([]float32(nil), cayley.Float32s()...),
		Quadratic:  make([]float32, numBlades),
	}

	blade := 0
	for g, s := range subspaces {
		l.GradeStart[g] = blade
		for i := 0; i < s; i++ {
			l.BladeGrade[blade] = g
			blade++
		}
	}

	for idx, ok := range paths {
		l.PathIndex[idx] = -1
		if !ok {
			continue
		}
		l.PathIndex[idx] = len(l.PathGrades)
		gi := idx / (numGrades * numGrades)
		gj := (idx / numGrades) % numGrades
		gk := idx % numGrades
		l.PathGrades = append(l.PathGrades, [3]int{gi, gj, gk})
	}

	for i := 0; i < numBlades; i++ {
		g := l.BladeGrade[i]
		l.Quadratic[i] = reverseSign(g) * l.Cayley[i*numBlades*numBlades+i]
	}
	return l, nil
}

// BladeTripleIndex returns the flat [B,B,B] offset of (i, j, k)
func (l *Layout) BladeTripleIndex(i, j, k int) int {
	return (i*l.NumBlades+j)*l.NumBlades + k
}

// GradeTripleIndex returns the flat [G,G,G] offset of (gi, gj, gk)
func (l *Layout) GradeTripleIndex(gi, gj, gk int) int {
	return (gi*l.NumGrades+gj)*l.NumGrades + gk
}

// reverseSign is the sign reversion applies to a grade-g blade
func reverseSign(g int) float32 {
	if (g*(g-1)/2)%2 == 0 {
		return 1
	}
	return -1
}
