package controllers

import (
	"gonum.org/v1/gonum/mat"
)

// maxMassCond bounds the condition number of an invertible mass matrix.
const maxMassCond = 1e12

// opspace holds the operational-space matrices for one snapshot.
type opspace struct {
	mInv      *mat.Dense
	lambda    *mat.Dense
	lambdaPos *mat.Dense
	lambdaOri *mat.Dense
	singular  bool
}

// pinv is the SVD pseudo-inverse of a with singular values below threshold
// zeroed. The flag reports whether any value was dropped.
func pinv(a mat.Matrix, threshold float64) (*mat.Dense, bool) {
	r, c := a.Dims()
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFull) {
		return mat.NewDense(c, r, nil), true
	}
	vals := svd.Values(nil)
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	sinv := mat.NewDense(c, r, nil)
	dropped := len(vals) < min(r, c)
	for i, s := range vals {
		if s < threshold {
			dropped = true
			continue
		}
		sinv.Set(i, i, 1/s)
	}
	var tmp, out mat.Dense
	tmp.Mul(&v, sinv)
	out.Mul(&tmp, u.T())
	return &out, dropped
}

// invertMass inverts m by Cholesky, falling back to the thresholded
// pseudo-inverse when m is not safely positive definite.
func invertMass(m mat.Symmetric, threshold float64) (*mat.Dense, bool) {
	var chol mat.Cholesky
	if chol.Factorize(m) && chol.Cond() < maxMassCond {
		var inv mat.SymDense
		if err := chol.InverseTo(&inv); err == nil {
			return mat.DenseCopyOf(&inv), false
		}
	}
	inv, _ := pinv(m, threshold)
	return inv, true
}

// taskInertia returns (j mInv j')^+ and whether it was regularized.
func taskInertia(j mat.Matrix, mInv *mat.Dense, threshold float64) (*mat.Dense, bool) {
	var tmp, inv mat.Dense
	tmp.Mul(j, mInv)
	inv.Mul(&tmp, j.T())
	return pinv(&inv, threshold)
}

// computeOpspace builds the matrices the end-effector laws need. With
// coupled set only the full task inertia is computed; otherwise the
// position and orientation blocks are computed independently. The full
// inertia is always available when needFull is set (null-space projection).
func computeOpspace(m mat.Symmetric, j, jv, jw mat.Matrix, threshold float64, coupled, needFull bool) opspace {
	var op opspace
	op.mInv, op.singular = invertMass(m, threshold)
	if coupled || needFull {
		var s bool
		op.lambda, s = taskInertia(j, op.mInv, threshold)
		op.singular = op.singular || s
	}
	if !coupled {
		var sp, so bool
		op.lambdaPos, sp = taskInertia(jv, op.mInv, threshold)
		op.lambdaOri, so = taskInertia(jw, op.mInv, threshold)
		op.singular = op.singular || sp || so
	}
	return op
}

// nullspace returns the dynamically consistent projector N = I - Jbar J with
// Jbar = mInv J' lambda.
func (op opspace) nullspace(j mat.Matrix) *mat.Dense {
	_, n := j.Dims()
	var jbar, tmp, jbarJ mat.Dense
	tmp.Mul(op.mInv, j.T())
	jbar.Mul(&tmp, op.lambda)
	jbarJ.Mul(&jbar, j)
	out := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		out.Set(i, i, 1)
	}
	out.Sub(out, &jbarJ)
	return out
}
