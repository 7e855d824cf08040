package transform

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// rigidTol bounds how far the rotation block of an input matrix may drift from
// a true member of SO(3) before we refuse it.
const rigidTol = 1e-6

// RigidTransform is a rigid body transform: a rotation in SO(3) plus a translation.
// It maps points from one frame into another, e.g. camera-to-world or its inverse.
type RigidTransform struct {
	rot   [9]float64 // row-major 3x3
	trans r3.Vector
}

// NewIdentityRigidTransform returns the transform that maps every point to itself.
func NewIdentityRigidTransform() *RigidTransform {
	return &RigidTransform{rot: [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}}
}

// NewRigidTransform builds a transform from a 3x3 rotation matrix and a translation,
// validating that the rotation is orthonormal with determinant +1.
func NewRigidTransform(rotation *mat.Dense, translation r3.Vector) (*RigidTransform, error) {
	r, c := rotation.Dims()
	if r != 3 || c != 3 {
		return nil, errors.Errorf("rotation must be 3x3, got %dx%d", r, c)
	}
	if err := checkRotation(rotation); err != nil {
		return nil, err
	}
	rt := &RigidTransform{trans: translation}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			rt.rot[i*3+j] = rotation.At(i, j)
		}
	}
	return rt, nil
}

// NewRigidTransformFromMatrix builds a transform from a 4x4 homogeneous matrix.
// The bottom row must be (0 0 0 1) and the rotation block must be orthonormal
// with determinant +1, both within tolerance.
func NewRigidTransformFromMatrix(m *mat.Dense) (*RigidTransform, error) {
	r, c := m.Dims()
	if r != 4 || c != 4 {
		return nil, errors.Errorf("pose matrix must be 4x4, got %dx%d", r, c)
	}
	for j, want := range []float64{0, 0, 0, 1} {
		if math.Abs(m.At(3, j)-want) > rigidTol {
			return nil, errors.Errorf("pose matrix bottom row is not (0 0 0 1): got %v at column %d", m.At(3, j), j)
		}
	}
	rotation := mat.DenseCopyOf(m.Slice(0, 3, 0, 3))
	translation := r3.Vector{X: m.At(0, 3), Y: m.At(1, 3), Z: m.At(2, 3)}
	return NewRigidTransform(rotation, translation)
}

func checkRotation(rotation *mat.Dense) error {
	var rtr mat.Dense
	rtr.Mul(rotation.T(), rotation)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.0
			if i == j {
				want = 1.0
			}
			if math.Abs(rtr.At(i, j)-want) > rigidTol {
				return errors.New("rotation block is not orthonormal")
			}
		}
	}
	if det := mat.Det(rotation); math.Abs(det-1) > rigidTol {
		return errors.Errorf("rotation block has determinant %f, want 1", det)
	}
	return nil
}

// Invert returns the inverse transform. Inversion of a rigid transform is exact:
// R' = Rᵀ, t' = -Rᵀt.
func (rt *RigidTransform) Invert() *RigidTransform {
	inv := &RigidTransform{}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			inv.rot[i*3+j] = rt.rot[j*3+i]
		}
	}
	inv.trans = r3.Vector{
		X: -(inv.rot[0]*rt.trans.X + inv.rot[1]*rt.trans.Y + inv.rot[2]*rt.trans.Z),
		Y: -(inv.rot[3]*rt.trans.X + inv.rot[4]*rt.trans.Y + inv.rot[5]*rt.trans.Z),
		Z: -(inv.rot[6]*rt.trans.X + inv.rot[7]*rt.trans.Y + inv.rot[8]*rt.trans.Z),
	}
	return inv
}

// Compose returns the transform equivalent to applying other first, then rt.
func (rt *RigidTransform) Compose(other *RigidTransform) *RigidTransform {
	out := &RigidTransform{}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var sum float64
			for k := 0; k < 3; k++ {
				sum += rt.rot[i*3+k] * other.rot[k*3+j]
			}
			out.rot[i*3+j] = sum
		}
	}
	out.trans = rt.TransformPoint(other.trans)
	return out
}

// TransformPoint applies the transform to a point.
func (rt *RigidTransform) TransformPoint(p r3.Vector) r3.Vector {
	return r3.Vector{
		X: rt.rot[0]*p.X + rt.rot[1]*p.Y + rt.rot[2]*p.Z + rt.trans.X,
		Y: rt.rot[3]*p.X + rt.rot[4]*p.Y + rt.rot[5]*p.Z + rt.trans.Y,
		Z: rt.rot[6]*p.X + rt.rot[7]*p.Y + rt.rot[8]*p.Z + rt.trans.Z,
	}
}

// Translation returns the translation component.
func (rt *RigidTransform) Translation() r3.Vector {
	return rt.trans
}

// Matrix returns the transform as a 4x4 homogeneous matrix.
func (rt *RigidTransform) Matrix() *mat.Dense {
	m := mat.NewDense(4, 4, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m.Set(i, j, rt.rot[i*3+j])
		}
	}
	m.Set(0, 3, rt.trans.X)
	m.Set(1, 3, rt.trans.Y)
	m.Set(2, 3, rt.trans.Z)
	m.Set(3, 3, 1)
	return m
}
