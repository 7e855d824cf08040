package tsdf

import (
	"image"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/viam-labs/roomscan/transform"
)

// ErrInvalidFrame marks a frame that cannot contribute evidence to a volume.
// A frame failing with it is skipped; sibling frames in the chunk continue.
var ErrInvalidFrame = errors.New("invalid frame")

// Frame is one validated posed RGB-D observation, ready for integration.
// It is ephemeral: constructed, integrated, discarded.
type Frame struct {
	Depth      *DepthMap
	Color      *image.NRGBA
	Intrinsics *transform.PinholeCameraIntrinsics
	CamToWorld *transform.RigidTransform
	WorldToCam *transform.RigidTransform

	// DegradedIntrinsics is set when the depth intrinsics were derived by
	// rescaling color intrinsics rather than calibrated directly.
	DegradedIntrinsics bool
}

// NewFrame validates and packages one observation. camToWorld is the 4x4
// homogeneous camera-to-world matrix; the world-to-camera transform the volume
// needs is derived here, once per frame. depthIntrinsics may be nil, in which
// case colorIntrinsics is rescaled to the depth resolution and the frame is
// flagged as degraded. color is optional; a color image whose resolution does
// not match the depth map is dropped with a warning rather than failing the frame.
func NewFrame(
	depth *DepthMap,
	color *image.NRGBA,
	depthIntrinsics, colorIntrinsics *transform.PinholeCameraIntrinsics,
	camToWorld *mat.Dense,
	logger golog.Logger,
) (*Frame, error) {
	if depth == nil || !depth.HasData() {
		return nil, errors.Wrap(ErrInvalidFrame, "missing or empty depth map")
	}
	intrinsics, degraded, err := transform.DepthIntrinsics(
		depthIntrinsics, colorIntrinsics, depth.Width(), depth.Height())
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidFrame, "no usable intrinsics: %s", err)
	}
	if intrinsics.Width != depth.Width() || intrinsics.Height != depth.Height() {
		return nil, errors.Wrapf(ErrInvalidFrame,
			"intrinsics resolution (%d, %d) does not match depth map (%d, %d)",
			intrinsics.Width, intrinsics.Height, depth.Width(), depth.Height())
	}
	if degraded {
		logger.Warnf("depth intrinsics derived by scaling color intrinsics to (%d, %d); accuracy degraded",
			depth.Width(), depth.Height())
	}
	if camToWorld == nil {
		return nil, errors.Wrap(ErrInvalidFrame, "missing camera pose")
	}
	pose, err := transform.NewRigidTransformFromMatrix(camToWorld)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidFrame, "non-rigid camera pose: %s", err)
	}
	if color != nil {
		bounds := color.Bounds()
		if bounds.Dx() != depth.Width() || bounds.Dy() != depth.Height() {
			logger.Warnf("color image (%d, %d) does not match depth resolution (%d, %d); dropping color",
				bounds.Dx(), bounds.Dy(), depth.Width(), depth.Height())
			color = nil
		}
	}
	return &Frame{
		Depth:              depth,
		Color:              color,
		Intrinsics:         intrinsics,
		CamToWorld:         pose,
		WorldToCam:         pose.Invert(),
		DegradedIntrinsics: degraded,
	}, nil
}

func (f *Frame) checkIntegrable() error {
	if f == nil {
		return errors.Wrap(ErrInvalidFrame, "nil frame")
	}
	if f.Depth == nil || !f.Depth.HasData() {
		return errors.Wrap(ErrInvalidFrame, "missing or empty depth map")
	}
	if f.Intrinsics == nil {
		return errors.Wrap(ErrInvalidFrame, "missing intrinsics")
	}
	if err := f.Intrinsics.CheckValid(); err != nil {
		return errors.Wrapf(ErrInvalidFrame, "bad intrinsics: %s", err)
	}
	if f.WorldToCam == nil {
		return errors.Wrap(ErrInvalidFrame, "missing world-to-camera transform")
	}
	return nil
}
