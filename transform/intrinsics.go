// Package transform provides the camera and pose math used to place posed
// depth observations into a shared world frame.
package transform

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrNoIntrinsics is when a camera does not have intrinsics parameters or other parameters.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// NewNoIntrinsicsError is used when the intrinsics are not defined.
func NewNoIntrinsicsError(msg string) error {
	return errors.Wrapf(ErrNoIntrinsics, msg)
}

// PinholeCameraIntrinsics holds the parameters necessary to do a perspective projection
// of a 3D scene to the 2D plane.
type PinholeCameraIntrinsics struct {
	Width  int     `json:"width_px"`
	Height int     `json:"height_px"`
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Ppx    float64 `json:"ppx"`
	Ppy    float64 `json:"ppy"`
}

// CheckValid checks if the fields for PinholeCameraIntrinsics have valid inputs.
func (params *PinholeCameraIntrinsics) CheckValid() error {
	if params == nil {
		return NewNoIntrinsicsError("Intrinsics do not exist")
	}
	if params.Width <= 0 || params.Height <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid size (%#v, %#v)", params.Width, params.Height))
	}
	if params.Fx <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fx = %#v", params.Fx))
	}
	if params.Fy <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fy = %#v", params.Fy))
	}
	if params.Ppx < 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid principal X point Ppx = %#v", params.Ppx))
	}
	if params.Ppy < 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid principal Y point Ppy = %#v", params.Ppy))
	}
	return nil
}

// PixelToPoint transforms a pixel with depth to a 3D point in the camera frame.
// The intrinsics parameters should be the ones of the sensor used to obtain the
// image that contains the pixel.
func (params *PinholeCameraIntrinsics) PixelToPoint(x, y, z float64) (float64, float64, float64) {
	xOverZ := (x - params.Ppx) / params.Fx
	yOverZ := (y - params.Ppy) / params.Fy
	return xOverZ * z, yOverZ * z, z
}

// PointToPixel projects a 3D point in the camera frame to a pixel in an image plane.
// The intrinsics parameters should be the ones of the sensor we want to project to.
func (params *PinholeCameraIntrinsics) PointToPixel(x, y, z float64) (float64, float64) {
	if z > 0. {
		xPx := math.Round((x/z)*params.Fx + params.Ppx)
		yPx := math.Round((y/z)*params.Fy + params.Ppy)
		return xPx, yPx
	}
	// if depth is behind the camera plane, return negative coordinates so that
	// cropping to image bounds will filter the point out
	return -1.0, -1.0
}

// GetCameraMatrix creates a new camera matrix and returns it.
// Camera matrix:
// [[fx 0 ppx],
//
//	[0 fy ppy],
//	[0 0  1]]
func (params *PinholeCameraIntrinsics) GetCameraMatrix() *mat.Dense {
	if params == nil {
		return nil
	}
	cameraMatrix := mat.NewDense(3, 3, nil)
	cameraMatrix.Set(0, 0, params.Fx)
	cameraMatrix.Set(1, 1, params.Fy)
	cameraMatrix.Set(0, 2, params.Ppx)
	cameraMatrix.Set(1, 2, params.Ppy)
	cameraMatrix.Set(2, 2, 1)
	return cameraMatrix
}

// ScaledTo returns a copy of the intrinsics rescaled to another sensor resolution.
// Focal lengths and the principal point scale with the respective axis ratios.
func (params *PinholeCameraIntrinsics) ScaledTo(width, height int) *PinholeCameraIntrinsics {
	scaleX := float64(width) / float64(params.Width)
	scaleY := float64(height) / float64(params.Height)
	return &PinholeCameraIntrinsics{
		Width:  width,
		Height: height,
		Fx:     params.Fx * scaleX,
		Fy:     params.Fy * scaleY,
		Ppx:    params.Ppx * scaleX,
		Ppy:    params.Ppy * scaleY,
	}
}

// DepthIntrinsics selects the intrinsics for a depth sensor of the given resolution.
// An explicit depth intrinsic wins. When only a color intrinsic is known, it is
// rescaled to the depth resolution; the returned flag reports that lossy fallback
// so callers can surface the degraded accuracy.
func DepthIntrinsics(depth, color *PinholeCameraIntrinsics, width, height int) (*PinholeCameraIntrinsics, bool, error) {
	if depth != nil {
		if err := depth.CheckValid(); err != nil {
			return nil, false, err
		}
		return depth, false, nil
	}
	if color == nil {
		return nil, false, NewNoIntrinsicsError("neither depth nor color intrinsics available")
	}
	if err := color.CheckValid(); err != nil {
		return nil, false, err
	}
	scaled := color.ScaledTo(width, height)
	if err := scaled.CheckValid(); err != nil {
		return nil, false, err
	}
	return scaled, true, nil
}
