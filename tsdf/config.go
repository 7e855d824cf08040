package tsdf

import (
	"github.com/pkg/errors"
)

// ErrInvalidConfig marks volume parameters a session cannot be built from.
var ErrInvalidConfig = errors.New("invalid volume configuration")

// VolumeConfig are the fixed parameters of a TSDF volume. They cannot change
// over the volume's lifetime; a different resolution requires a new volume.
type VolumeConfig struct {
	// VoxelLength is the edge length of one voxel in meters.
	VoxelLength float64 `json:"voxel_length_m"`
	// TruncationDistance bounds the magnitude of stored signed distances, in
	// meters. It should be at least a few voxel lengths to avoid aliasing.
	TruncationDistance float64 `json:"truncation_distance_m"`
	// DepthFarPlane is the maximum usable depth reading in meters; deeper
	// pixels contribute no evidence.
	DepthFarPlane float64 `json:"depth_far_plane_m"`
	// WeightCap bounds the accumulated per-voxel confidence so long-lived
	// voxels stay updatable.
	WeightCap float64 `json:"weight_cap"`
	// MinExtractionWeight is the confidence below which a voxel is treated as
	// having no data during mesh extraction.
	MinExtractionWeight float64 `json:"min_extraction_weight"`
}

// DefaultVolumeConfig returns the parameters used for room-scale scans.
func DefaultVolumeConfig() VolumeConfig {
	return VolumeConfig{
		VoxelLength:         0.02,
		TruncationDistance:  0.08,
		DepthFarPlane:       4.0,
		WeightCap:           100,
		MinExtractionWeight: 1,
	}
}

// Validate checks that the parameters can describe a usable volume.
func (c VolumeConfig) Validate() error {
	if c.VoxelLength <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "voxel length must be positive, got %f", c.VoxelLength)
	}
	if c.TruncationDistance <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "truncation distance must be positive, got %f", c.TruncationDistance)
	}
	if c.TruncationDistance < c.VoxelLength {
		return errors.Wrapf(ErrInvalidConfig,
			"truncation distance %f is smaller than voxel length %f", c.TruncationDistance, c.VoxelLength)
	}
	if c.DepthFarPlane <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "depth far plane must be positive, got %f", c.DepthFarPlane)
	}
	if c.WeightCap <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "weight cap must be positive, got %f", c.WeightCap)
	}
	if c.MinExtractionWeight <= 0 {
		return errors.Wrapf(ErrInvalidConfig,
			"minimum extraction weight must be positive, got %f", c.MinExtractionWeight)
	}
	return nil
}
