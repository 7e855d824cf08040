package transform

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

func rotX(theta float64) *mat.Dense {
	c, s := math.Cos(theta), math.Sin(theta)
	return mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, c, -s,
		0, s, c,
	})
}

func rotZ(theta float64) *mat.Dense {
	c, s := math.Cos(theta), math.Sin(theta)
	return mat.NewDense(3, 3, []float64{
		c, -s, 0,
		s, c, 0,
		0, 0, 1,
	})
}

func poseMatrix(rot *mat.Dense, trans r3.Vector) *mat.Dense {
	m := mat.NewDense(4, 4, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m.Set(i, j, rot.At(i, j))
		}
	}
	m.Set(0, 3, trans.X)
	m.Set(1, 3, trans.Y)
	m.Set(2, 3, trans.Z)
	m.Set(3, 3, 1)
	return m
}

func TestDoubleInversionIsIdentity(t *testing.T) {
	for _, tc := range []struct {
		name  string
		rot   *mat.Dense
		trans r3.Vector
	}{
		{"identity", rotZ(0), r3.Vector{}},
		{"translation only", rotZ(0), r3.Vector{X: 1.5, Y: -2, Z: 0.25}},
		{"yaw", rotZ(math.Pi / 3), r3.Vector{X: -0.5, Y: 4, Z: 1}},
		{"tilted", rotX(0.7), r3.Vector{X: 2, Y: 0.1, Z: -3}},
		{"composed axes", func() *mat.Dense {
			var m mat.Dense
			m.Mul(rotZ(1.1), rotX(-0.4))
			return &m
		}(), r3.Vector{X: 0.3, Y: 0.3, Z: 0.3}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			pose, err := NewRigidTransformFromMatrix(poseMatrix(tc.rot, tc.trans))
			test.That(t, err, test.ShouldBeNil)
			back := pose.Invert().Invert()
			orig := pose.Matrix()
			double := back.Matrix()
			for i := 0; i < 4; i++ {
				for j := 0; j < 4; j++ {
					test.That(t, double.At(i, j), test.ShouldAlmostEqual, orig.At(i, j), 1e-10)
				}
			}
		})
	}
}

func TestInversionRoundTripsPoints(t *testing.T) {
	pose, err := NewRigidTransformFromMatrix(poseMatrix(rotZ(0.9), r3.Vector{X: 1, Y: 2, Z: 3}))
	test.That(t, err, test.ShouldBeNil)
	inv := pose.Invert()
	p := r3.Vector{X: -0.7, Y: 0.2, Z: 1.9}
	q := inv.TransformPoint(pose.TransformPoint(p))
	test.That(t, q.X, test.ShouldAlmostEqual, p.X, 1e-10)
	test.That(t, q.Y, test.ShouldAlmostEqual, p.Y, 1e-10)
	test.That(t, q.Z, test.ShouldAlmostEqual, p.Z, 1e-10)
}

func TestComposeMatchesMatrixProduct(t *testing.T) {
	a, err := NewRigidTransformFromMatrix(poseMatrix(rotZ(0.4), r3.Vector{X: 1, Y: 0, Z: 0}))
	test.That(t, err, test.ShouldBeNil)
	b, err := NewRigidTransformFromMatrix(poseMatrix(rotX(-1.2), r3.Vector{Y: 2, Z: -1}))
	test.That(t, err, test.ShouldBeNil)

	var want mat.Dense
	want.Mul(a.Matrix(), b.Matrix())
	got := a.Compose(b).Matrix()
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			test.That(t, got.At(i, j), test.ShouldAlmostEqual, want.At(i, j), 1e-10)
		}
	}

	// composing with the inverse yields the identity
	ident := a.Compose(a.Invert()).Matrix()
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			want := 0.0
			if i == j {
				want = 1.0
			}
			test.That(t, ident.At(i, j), test.ShouldAlmostEqual, want, 1e-10)
		}
	}
}

func TestNonRigidPosesRejected(t *testing.T) {
	t.Run("scaled rotation", func(t *testing.T) {
		scaled := rotZ(0.3)
		scaled.Scale(2, scaled)
		_, err := NewRigidTransformFromMatrix(poseMatrix(scaled, r3.Vector{}))
		test.That(t, err, test.ShouldNotBeNil)
	})

	t.Run("reflection", func(t *testing.T) {
		mirror := mat.NewDense(3, 3, []float64{
			-1, 0, 0,
			0, 1, 0,
			0, 0, 1,
		})
		_, err := NewRigidTransformFromMatrix(poseMatrix(mirror, r3.Vector{}))
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "determinant")
	})

	t.Run("bad bottom row", func(t *testing.T) {
		m := poseMatrix(rotZ(0), r3.Vector{})
		m.Set(3, 0, 0.5)
		_, err := NewRigidTransformFromMatrix(m)
		test.That(t, err, test.ShouldNotBeNil)
	})

	t.Run("wrong shape", func(t *testing.T) {
		_, err := NewRigidTransformFromMatrix(mat.NewDense(3, 4, nil))
		test.That(t, err, test.ShouldNotBeNil)
	})
}
