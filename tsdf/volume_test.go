package tsdf

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/edaniels/golog"
	"go.viam.com/test"
)

func TestVolumeConfigValidate(t *testing.T) {
	test.That(t, DefaultVolumeConfig().Validate(), test.ShouldBeNil)

	for _, tc := range []struct {
		name   string
		mutate func(*VolumeConfig)
	}{
		{"zero voxel length", func(c *VolumeConfig) { c.VoxelLength = 0 }},
		{"negative truncation", func(c *VolumeConfig) { c.TruncationDistance = -0.08 }},
		{"truncation below voxel length", func(c *VolumeConfig) { c.TruncationDistance = 0.01 }},
		{"zero far plane", func(c *VolumeConfig) { c.DepthFarPlane = 0 }},
		{"zero weight cap", func(c *VolumeConfig) { c.WeightCap = 0 }},
		{"zero extraction weight", func(c *VolumeConfig) { c.MinExtractionWeight = 0 }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultVolumeConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, errors.Is(err, ErrInvalidConfig), test.ShouldBeTrue)
		})
	}
}

func TestIntegratePlane(t *testing.T) {
	logger := golog.NewTestLogger(t)
	volume, err := NewVolume(DefaultVolumeConfig(), logger)
	test.That(t, err, test.ShouldBeNil)

	// flat plane at 1.0 m, camera at origin looking down +z with identity
	// rotation, voxel grid 0.02 m, truncation 0.08 m
	test.That(t, volume.Integrate(planeFrame(t, 1.0)), test.ShouldBeNil)
	test.That(t, volume.FrameCount(), test.ShouldEqual, 1)
	test.That(t, volume.BlockCount(), test.ShouldBeGreaterThan, 0)

	t.Run("voxel layer nearest the plane is close to zero", func(t *testing.T) {
		// centers at z = 0.99 and 1.01 bracket the surface
		near := volume.voxelAt(voxelCoords{i: 0, j: 0, k: 49})
		test.That(t, near, test.ShouldNotBeNil)
		test.That(t, near.weight, test.ShouldEqual, float32(1))
		test.That(t, near.dist, test.ShouldAlmostEqual, 0.01, 1e-4)

		behind := volume.voxelAt(voxelCoords{i: 0, j: 0, k: 50})
		test.That(t, behind, test.ShouldNotBeNil)
		test.That(t, behind.dist, test.ShouldAlmostEqual, -0.01, 1e-4)
	})

	t.Run("voxels three truncations in front stay untouched", func(t *testing.T) {
		// z = 1.0 - 3*0.08 = 0.76
		far := volume.voxelAt(voxelCoords{i: 0, j: 0, k: 37})
		if far != nil {
			test.That(t, far.weight, test.ShouldEqual, float32(0))
		}
	})

	t.Run("blocks allocated only near the surface", func(t *testing.T) {
		for bc := range volume.blocks {
			test.That(t, bc.K, test.ShouldBeBetweenOrEqual, int32(2), int32(3))
		}
	})
}

func TestRepeatedIntegrationConvergesAndCapsWeight(t *testing.T) {
	logger := golog.NewTestLogger(t)
	cfg := DefaultVolumeConfig()
	cfg.WeightCap = 3
	volume, err := NewVolume(cfg, logger)
	test.That(t, err, test.ShouldBeNil)

	frame := planeFrame(t, 1.0)
	surface := voxelCoords{i: 0, j: 0, k: 49}
	var lastWeight float32
	for n := 1; n <= 5; n++ {
		test.That(t, volume.Integrate(frame), test.ShouldBeNil)
		vox := volume.voxelAt(surface)
		test.That(t, vox, test.ShouldNotBeNil)
		// converged at the surface, weight monotone and never above the cap
		test.That(t, vox.dist, test.ShouldAlmostEqual, 0.01, 1e-4)
		test.That(t, vox.weight, test.ShouldBeGreaterThanOrEqualTo, lastWeight)
		test.That(t, vox.weight, test.ShouldBeLessThanOrEqualTo, float32(3))
		lastWeight = vox.weight
	}
	test.That(t, lastWeight, test.ShouldEqual, float32(3))
	test.That(t, volume.FrameCount(), test.ShouldEqual, 5)
}

func TestIntegrateRejectsInvalidFrames(t *testing.T) {
	logger := golog.NewTestLogger(t)
	volume, err := NewVolume(DefaultVolumeConfig(), logger)
	test.That(t, err, test.ShouldBeNil)

	err = volume.Integrate(nil)
	test.That(t, errors.Is(err, ErrInvalidFrame), test.ShouldBeTrue)

	err = volume.Integrate(&Frame{})
	test.That(t, errors.Is(err, ErrInvalidFrame), test.ShouldBeTrue)
	test.That(t, volume.FrameCount(), test.ShouldEqual, 0)
}

func TestExtractMeshEmptyVolume(t *testing.T) {
	logger := golog.NewTestLogger(t)
	volume, err := NewVolume(DefaultVolumeConfig(), logger)
	test.That(t, err, test.ShouldBeNil)
	mesh := volume.ExtractMesh()
	test.That(t, mesh.VertexCount(), test.ShouldEqual, 0)
	test.That(t, mesh.TriangleCount(), test.ShouldEqual, 0)
}

func TestExtractMeshPlane(t *testing.T) {
	logger := golog.NewTestLogger(t)
	volume, err := NewVolume(DefaultVolumeConfig(), logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, volume.Integrate(planeFrame(t, 1.0)), test.ShouldBeNil)

	mesh := volume.ExtractMesh()
	test.That(t, mesh.TriangleCount(), test.ShouldBeGreaterThan, 0)
	test.That(t, mesh.VertexCount(), test.ShouldBeGreaterThan, 0)
	test.That(t, mesh.Colors, test.ShouldBeNil)

	for _, v := range mesh.Vertices {
		test.That(t, v.Z, test.ShouldAlmostEqual, 1.0, 1e-4)
	}
	for _, tri := range mesh.Triangles {
		for _, idx := range tri {
			test.That(t, idx, test.ShouldBeBetweenOrEqual, 0, mesh.VertexCount()-1)
		}
	}

	mesh.ComputeNormals()
	test.That(t, len(mesh.Normals), test.ShouldEqual, mesh.VertexCount())
	for _, n := range mesh.Normals {
		// plane faces the camera at the origin, so normals point back down -z
		test.That(t, n.Z, test.ShouldBeLessThan, -0.99)
	}
}

func TestExtractMeshConfidenceThreshold(t *testing.T) {
	logger := golog.NewTestLogger(t)
	cfg := DefaultVolumeConfig()
	cfg.MinExtractionWeight = 2
	volume, err := NewVolume(cfg, logger)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, volume.Integrate(planeFrame(t, 1.0)), test.ShouldBeNil)
	// every voxel has weight 1, below the confidence threshold: no surface
	test.That(t, volume.ExtractMesh().TriangleCount(), test.ShouldEqual, 0)

	test.That(t, volume.Integrate(planeFrame(t, 1.0)), test.ShouldBeNil)
	test.That(t, volume.ExtractMesh().TriangleCount(), test.ShouldBeGreaterThan, 0)
}

func TestExtractMeshReflectsNewEvidence(t *testing.T) {
	logger := golog.NewTestLogger(t)
	volume, err := NewVolume(DefaultVolumeConfig(), logger)
	test.That(t, err, test.ShouldBeNil)

	// left half of the image observes the plane, right half has no readings
	half := NewEmptyDepthMap(32, 24)
	for y := 0; y < 24; y++ {
		for x := 0; x < 16; x++ {
			half.Set(x, y, 1.0)
		}
	}
	halfFrame, err := NewFrame(half, nil, &testIntrinsics, nil, identityPose(), logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, volume.Integrate(halfFrame), test.ShouldBeNil)
	first := volume.ExtractMesh().TriangleCount()
	test.That(t, first, test.ShouldBeGreaterThan, 0)

	test.That(t, volume.Integrate(planeFrame(t, 1.0)), test.ShouldBeNil)
	second := volume.ExtractMesh().TriangleCount()
	test.That(t, second, test.ShouldBeGreaterThan, first)
}

func TestIntegrateWithColor(t *testing.T) {
	logger := golog.NewTestLogger(t)
	volume, err := NewVolume(DefaultVolumeConfig(), logger)
	test.That(t, err, test.ShouldBeNil)

	img := image.NewNRGBA(image.Rect(0, 0, 32, 24))
	for y := 0; y < 24; y++ {
		for x := 0; x < 32; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 20, G: 200, B: 40, A: 255})
		}
	}
	frame, err := NewFrame(planeDepth(32, 24, 1.0), img, &testIntrinsics, nil, identityPose(), logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, volume.Integrate(frame), test.ShouldBeNil)

	mesh := volume.ExtractMesh()
	test.That(t, mesh.Colors, test.ShouldNotBeNil)
	test.That(t, len(mesh.Colors), test.ShouldEqual, mesh.VertexCount())
	for _, c := range mesh.Colors {
		test.That(t, c.R, test.ShouldEqual, uint8(20))
		test.That(t, c.G, test.ShouldEqual, uint8(200))
		test.That(t, c.B, test.ShouldEqual, uint8(40))
	}
}

func TestFarPlaneCutoff(t *testing.T) {
	logger := golog.NewTestLogger(t)
	volume, err := NewVolume(DefaultVolumeConfig(), logger)
	test.That(t, err, test.ShouldBeNil)

	// beyond the 4 m far plane: no evidence at all
	test.That(t, volume.Integrate(planeFrame(t, 5.0)), test.ShouldBeNil)
	test.That(t, volume.BlockCount(), test.ShouldEqual, 0)
	test.That(t, volume.ExtractMesh().TriangleCount(), test.ShouldEqual, 0)
	// the frame itself is well formed, so it still counts
	test.That(t, volume.FrameCount(), test.ShouldEqual, 1)
}
