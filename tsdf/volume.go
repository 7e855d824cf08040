package tsdf

import (
	"math"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
)

// blockEdgeVoxels is the number of voxels along one edge of a voxel block, the
// unit of sparse allocation.
const blockEdgeVoxels = 16

const voxelsPerBlock = blockEdgeVoxels * blockEdgeVoxels * blockEdgeVoxels

// BlockCoords addresses a voxel block on the infinite block grid.
type BlockCoords struct {
	I, J, K int32
}

// voxelCoords addresses a single voxel on the infinite voxel grid.
type voxelCoords struct {
	i, j, k int32
}

// voxel accumulates truncated signed-distance evidence. dist is in meters,
// clamped to the truncation band. weight 0 means no observation yet. The color
// channels hold weighted running averages in [0, 255].
type voxel struct {
	dist    float32
	weight  float32
	r, g, b float32
}

type voxelBlock struct {
	voxels [voxelsPerBlock]voxel
}

func voxelIndex(i, j, k int32) int32 {
	return (k*blockEdgeVoxels+j)*blockEdgeVoxels + i
}

// Volume is a sparse TSDF grid. Blocks are allocated lazily the first time a
// frame's truncation band touches them. A Volume is not safe for concurrent
// use; the owning session serializes access to it.
type Volume struct {
	cfg        VolumeConfig
	blocks     map[BlockCoords]*voxelBlock
	frameCount int
	hasColor   bool
	logger     golog.Logger
}

// NewVolume creates an empty volume with the given fixed parameters.
func NewVolume(cfg VolumeConfig, logger golog.Logger) (*Volume, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Volume{
		cfg:    cfg,
		blocks: map[BlockCoords]*voxelBlock{},
		logger: logger,
	}, nil
}

// Config returns the volume's fixed parameters.
func (v *Volume) Config() VolumeConfig {
	return v.cfg
}

// FrameCount returns how many frames have been successfully integrated.
func (v *Volume) FrameCount() int {
	return v.frameCount
}

// BlockCount returns how many voxel blocks have been allocated.
func (v *Volume) BlockCount() int {
	return len(v.blocks)
}

func (v *Volume) blockEdge() float64 {
	return v.cfg.VoxelLength * blockEdgeVoxels
}

func floorDiv(a, b int32) int32 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// voxelAt returns the voxel at a global voxel coordinate, or nil if its block
// was never allocated.
func (v *Volume) voxelAt(c voxelCoords) *voxel {
	bc := BlockCoords{
		I: floorDiv(c.i, blockEdgeVoxels),
		J: floorDiv(c.j, blockEdgeVoxels),
		K: floorDiv(c.k, blockEdgeVoxels),
	}
	block, ok := v.blocks[bc]
	if !ok {
		return nil
	}
	li := c.i - bc.I*blockEdgeVoxels
	lj := c.j - bc.J*blockEdgeVoxels
	lk := c.k - bc.K*blockEdgeVoxels
	return &block.voxels[voxelIndex(li, lj, lk)]
}

// voxelCenter returns the world-space center of a voxel.
func (v *Volume) voxelCenter(c voxelCoords) r3.Vector {
	return r3.Vector{
		X: (float64(c.i) + 0.5) * v.cfg.VoxelLength,
		Y: (float64(c.j) + 0.5) * v.cfg.VoxelLength,
		Z: (float64(c.k) + 0.5) * v.cfg.VoxelLength,
	}
}

// Integrate fuses one frame's depth (and color, when present) evidence into the
// volume using the projective signed-distance update. Work is bounded to blocks
// within the truncation band of observed surface points; the sparse rest of
// space is never scanned.
func (v *Volume) Integrate(frame *Frame) error {
	if err := frame.checkIntegrable(); err != nil {
		return err
	}
	touched := v.touchBlocks(frame)
	for bc := range touched {
		v.integrateBlock(bc, frame)
	}
	v.frameCount++
	if frame.Color != nil {
		v.hasColor = true
	}
	return nil
}

// touchBlocks back-projects every valid depth pixel to world space and
// allocates all blocks within the truncation band of that surface point,
// returning the set to update.
func (v *Volume) touchBlocks(frame *Frame) map[BlockCoords]struct{} {
	touched := make(map[BlockCoords]struct{})
	trunc := v.cfg.TruncationDistance
	edge := v.blockEdge()
	width, height := frame.Depth.Width(), frame.Depth.Height()
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			d := float64(frame.Depth.GetDepth(x, y))
			if d <= 0 || d > v.cfg.DepthFarPlane {
				continue
			}
			px, py, pz := frame.Intrinsics.PixelToPoint(float64(x), float64(y), d)
			p := frame.CamToWorld.TransformPoint(r3.Vector{X: px, Y: py, Z: pz})
			minI := int32(math.Floor((p.X - trunc) / edge))
			maxI := int32(math.Floor((p.X + trunc) / edge))
			minJ := int32(math.Floor((p.Y - trunc) / edge))
			maxJ := int32(math.Floor((p.Y + trunc) / edge))
			minK := int32(math.Floor((p.Z - trunc) / edge))
			maxK := int32(math.Floor((p.Z + trunc) / edge))
			for bi := minI; bi <= maxI; bi++ {
				for bj := minJ; bj <= maxJ; bj++ {
					for bk := minK; bk <= maxK; bk++ {
						bc := BlockCoords{I: bi, J: bj, K: bk}
						if _, ok := touched[bc]; ok {
							continue
						}
						touched[bc] = struct{}{}
						if _, ok := v.blocks[bc]; !ok {
							v.blocks[bc] = &voxelBlock{}
						}
					}
				}
			}
		}
	}
	return touched
}

// integrateBlock applies the projective SDF update to every voxel of one block.
func (v *Volume) integrateBlock(bc BlockCoords, frame *Frame) {
	block := v.blocks[bc]
	trunc := v.cfg.TruncationDistance
	width, height := frame.Depth.Width(), frame.Depth.Height()
	const wNew = 1.0
	for lk := int32(0); lk < blockEdgeVoxels; lk++ {
		for lj := int32(0); lj < blockEdgeVoxels; lj++ {
			for li := int32(0); li < blockEdgeVoxels; li++ {
				center := v.voxelCenter(voxelCoords{
					i: bc.I*blockEdgeVoxels + li,
					j: bc.J*blockEdgeVoxels + lj,
					k: bc.K*blockEdgeVoxels + lk,
				})
				pCam := frame.WorldToCam.TransformPoint(center)
				if pCam.Z <= 0 {
					continue
				}
				u, uy := frame.Intrinsics.PointToPixel(pCam.X, pCam.Y, pCam.Z)
				ux, vy := int(u), int(uy)
				if ux < 0 || ux >= width || vy < 0 || vy >= height {
					continue
				}
				d := float64(frame.Depth.GetDepth(ux, vy))
				if d <= 0 || d > v.cfg.DepthFarPlane {
					continue
				}
				sdf := d - pCam.Z
				if sdf < -trunc {
					// deep inside an occluder; one frame must not erase
					// far-side surface evidence
					continue
				}
				if sdf > trunc {
					// free space well in front of the surface, outside the
					// evidence band
					continue
				}
				vox := &block.voxels[voxelIndex(li, lj, lk)]
				oldWeight := float64(vox.weight)
				newWeight := oldWeight + wNew
				vox.dist = float32((float64(vox.dist)*oldWeight + sdf*wNew) / newWeight)
				if frame.Color != nil {
					c := frame.Color.NRGBAAt(ux, vy)
					vox.r = float32((float64(vox.r)*oldWeight + float64(c.R)*wNew) / newWeight)
					vox.g = float32((float64(vox.g)*oldWeight + float64(c.G)*wNew) / newWeight)
					vox.b = float32((float64(vox.b)*oldWeight + float64(c.B)*wNew) / newWeight)
				}
				vox.weight = float32(math.Min(newWeight, v.cfg.WeightCap))
			}
		}
	}
}
