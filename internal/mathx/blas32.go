package mathx

import (
	"gonum.org/v1/gonum/blas"
	b32 "gonum.org/v1/gonum/blas/blas32"
)

// General wraps a row-major float32 matrix view. Stride may exceed Cols when
// the rows are interleaved with other data (e.g. one channel of a
// [batch, channels, blades] tensor).
func General(data []float32, rows, cols, stride int) b32.General {
	return b32.General{Rows: rows, Cols: cols, Data: data, Stride: stride}
}

// GemmNN computes C = alpha*A*B + beta*C for row-major float32 matrices.
// A is (ar x ac), B is (br x bc) where ac==br. C is (ar x bc).
func GemmNN(alpha float32, A []float32, ar, ac int, B []float32, br, bc int, beta float32, C []float32) {
	a := b32.General{Rows: ar, Cols: ac, Data: A, Stride: ac}
	b := b32.General{Rows: br, Cols: bc, Data: B, Stride: bc}
	c := b32.General{Rows: ar, Cols: bc, Data: C, Stride: bc}
	b32.Gemm(blas.NoTrans, blas.NoTrans, alpha, a, b, beta, c)
}

// GemmNT computes C = alpha*A*B^T + beta*C for row-major float32 matrices.
// A is (ar x ac), B is (br x bc) where ac==bc. C is (ar x br).
func GemmNT(alpha float32, A []float32, ar, ac int, B []float32, br, bc int, beta float32, C []float32) {
	a := b32.General{Rows: ar, Cols: ac, Data: A, Stride: ac}
	b := b32.General{Rows: br, Cols: bc, Data: B, Stride: bc}
	c := b32.General{Rows: ar, Cols: br, Data: C, Stride: br}
	b32.Gemm(blas.NoTrans, blas.Trans, alpha, a, b, beta, c)
}

// GemmTN computes C = alpha*A^T*B + beta*C for row-major float32 matrices.
// A is (ar x ac), B is (br x bc) where ar==br. C is (ac x bc).
func GemmTN(alpha float32, A []float32, ar, ac int, B []float32, br, bc int, beta float32, C []float32) {
	a := b32.General{Rows: ar, Cols: ac, Data: A, Stride: ac}
	b := b32.General{Rows: br, Cols: bc, Data: B, Stride: bc}
	c := b32.General{Rows: ac, Cols: bc, Data: C, Stride: bc}
	b32.Gemm(blas.Trans, blas.NoTrans, alpha, a, b, beta, c)
}

// GemmViews computes C = alpha*A*B + beta*C on strided views built with General.
func GemmViews(alpha float32, a, b b32.General, beta float32, c b32.General) {
	b32.Gemm(blas.NoTrans, blas.NoTrans, alpha, a, b, beta, c)
}
