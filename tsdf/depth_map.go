// Package tsdf fuses posed RGB-D frames into a sparse truncated
// signed-distance volume and extracts triangle meshes from it.
package tsdf

import (
	"github.com/pkg/errors"
)

// DepthMap holds one depth image in meters. A depth of 0 means the sensor had
// no measurement at that pixel.
type DepthMap struct {
	width  int
	height int

	data []float32
}

// NewEmptyDepthMap returns a depth map of the given dimensions with no measurements.
func NewEmptyDepthMap(width, height int) *DepthMap {
	return &DepthMap{
		width:  width,
		height: height,
		data:   make([]float32, width*height),
	}
}

// NewDepthMap wraps a row-major buffer of depths in meters.
func NewDepthMap(width, height int, data []float32) (*DepthMap, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid depth map dimensions (%d, %d)", width, height)
	}
	if len(data) != width*height {
		return nil, errors.Errorf("depth buffer has %d values, want %d", len(data), width*height)
	}
	return &DepthMap{width: width, height: height, data: data}, nil
}

// HasData reports whether the map holds a usable buffer.
func (dm *DepthMap) HasData() bool {
	return dm.width > 0 && dm.height > 0 && dm.data != nil
}

// Width returns the width of the depth map.
func (dm *DepthMap) Width() int {
	return dm.width
}

// Height returns the height of the depth map.
func (dm *DepthMap) Height() int {
	return dm.height
}

// GetDepth returns the depth in meters at (x, y).
func (dm *DepthMap) GetDepth(x, y int) float32 {
	return dm.data[y*dm.width+x]
}

// Set sets the depth in meters at (x, y).
func (dm *DepthMap) Set(x, y int, d float32) {
	dm.data[y*dm.width+x] = d
}
