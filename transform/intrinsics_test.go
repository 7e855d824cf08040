package transform

import (
	"errors"
	"testing"

	"go.viam.com/test"
)

var sensorIntrinsics = PinholeCameraIntrinsics{
	Width:  1280,
	Height: 720,
	Fx:     920.2,
	Fy:     918.1,
	Ppx:    628.8,
	Ppy:    370.7,
}

func TestIntrinsicsCheckValid(t *testing.T) {
	good := sensorIntrinsics
	test.That(t, good.CheckValid(), test.ShouldBeNil)

	var nilIntrinsics *PinholeCameraIntrinsics
	err := nilIntrinsics.CheckValid()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, errors.Is(err, ErrNoIntrinsics), test.ShouldBeTrue)

	badSize := sensorIntrinsics
	badSize.Width = 0
	test.That(t, badSize.CheckValid(), test.ShouldNotBeNil)

	badFocal := sensorIntrinsics
	badFocal.Fx = -1
	test.That(t, badFocal.CheckValid(), test.ShouldNotBeNil)

	badPrincipal := sensorIntrinsics
	badPrincipal.Ppy = -0.5
	test.That(t, badPrincipal.CheckValid(), test.ShouldNotBeNil)
}

func TestProjectionRoundTrip(t *testing.T) {
	params := sensorIntrinsics
	u, v, d := 140.0, 500.0, 2.5
	x, y, z := params.PixelToPoint(u, v, d)
	test.That(t, z, test.ShouldEqual, d)
	u2, v2 := params.PointToPixel(x, y, z)
	test.That(t, u2, test.ShouldAlmostEqual, u, .01)
	test.That(t, v2, test.ShouldAlmostEqual, v, .01)
}

func TestPointToPixelBehindCamera(t *testing.T) {
	params := sensorIntrinsics
	u, v := params.PointToPixel(0.1, 0.1, 0)
	test.That(t, u, test.ShouldBeLessThan, 0)
	test.That(t, v, test.ShouldBeLessThan, 0)
	u, v = params.PointToPixel(0.1, 0.1, -1)
	test.That(t, u, test.ShouldBeLessThan, 0)
	test.That(t, v, test.ShouldBeLessThan, 0)
}

func TestScaledTo(t *testing.T) {
	params := sensorIntrinsics
	scaled := params.ScaledTo(640, 360)
	test.That(t, scaled.Width, test.ShouldEqual, 640)
	test.That(t, scaled.Height, test.ShouldEqual, 360)
	test.That(t, scaled.Fx, test.ShouldAlmostEqual, params.Fx/2)
	test.That(t, scaled.Fy, test.ShouldAlmostEqual, params.Fy/2)
	test.That(t, scaled.Ppx, test.ShouldAlmostEqual, params.Ppx/2)
	test.That(t, scaled.Ppy, test.ShouldAlmostEqual, params.Ppy/2)
}

func TestDepthIntrinsics(t *testing.T) {
	t.Run("explicit depth intrinsics win", func(t *testing.T) {
		depth := sensorIntrinsics.ScaledTo(640, 360)
		got, degraded, err := DepthIntrinsics(depth, &sensorIntrinsics, 640, 360)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, degraded, test.ShouldBeFalse)
		test.That(t, got, test.ShouldEqual, depth)
	})

	t.Run("scaling fallback is flagged degraded", func(t *testing.T) {
		got, degraded, err := DepthIntrinsics(nil, &sensorIntrinsics, 640, 360)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, degraded, test.ShouldBeTrue)
		test.That(t, got.Width, test.ShouldEqual, 640)
		test.That(t, got.Fx, test.ShouldAlmostEqual, sensorIntrinsics.Fx/2)
	})

	t.Run("no intrinsics at all", func(t *testing.T) {
		_, _, err := DepthIntrinsics(nil, nil, 640, 360)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, errors.Is(err, ErrNoIntrinsics), test.ShouldBeTrue)
	})
}
