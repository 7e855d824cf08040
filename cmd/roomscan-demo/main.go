// Command roomscan-demo drives the fusion session manager with synthetic depth
// frames: several concurrent scan sessions each sweep a camera across a flat
// wall, stream the frames in chunks, and finalize a mesh.
package main

import (
	"context"
	"math"
	"sync"

	"github.com/edaniels/golog"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.viam.com/utils"
	"gonum.org/v1/gonum/mat"

	"github.com/viam-labs/roomscan/fusion"
	"github.com/viam-labs/roomscan/transform"
	"github.com/viam-labs/roomscan/tsdf"
)

var logger = golog.NewDevelopmentLogger("roomscan-demo")

func main() {
	utils.ContextualMain(mainWithArgs, logger)
}

// Arguments for the command.
type Arguments struct {
	Sessions  int     `flag:"sessions,default=2,usage=number of concurrent scan sessions"`
	Chunks    int     `flag:"chunks,default=4,usage=chunks to stream per session"`
	ChunkSize int     `flag:"chunk-size,default=5,usage=frames per chunk"`
	WallDist  float64 `flag:"wall,default=1.5,usage=distance to the synthetic wall in meters"`
	Debug     bool    `flag:"debug,usage=enable debug logging"`
}

var demoIntrinsics = transform.PinholeCameraIntrinsics{
	Width: 64, Height: 48,
	Fx: 80, Fy: 80,
	Ppx: 32, Ppy: 24,
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	var argsParsed Arguments
	if err := utils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}
	if argsParsed.Debug {
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		debugLogger, err := cfg.Build()
		if err != nil {
			return err
		}
		logger = debugLogger.Sugar()
	}

	manager, err := fusion.NewManager(tsdf.DefaultVolumeConfig(), logger,
		fusion.WithMeshObserver(func(token string, mesh *tsdf.Mesh) {
			logger.Infow("preview mesh",
				"token", token[:8],
				"vertices", mesh.VertexCount(),
				"triangles", mesh.TriangleCount())
		}))
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	errs := make([]error, argsParsed.Sessions)
	for i := 0; i < argsParsed.Sessions; i++ {
		token := uuid.NewString()
		idx := i
		wg.Add(1)
		utils.PanicCapturingGo(func() {
			defer wg.Done()
			errs[idx] = runSession(ctx, manager, token, argsParsed, logger)
		})
	}
	wg.Wait()
	return multierr.Combine(errs...)
}

// runSession streams synthetic chunks for one token and finalizes its mesh.
func runSession(ctx context.Context, manager *fusion.Manager, token string, args Arguments, logger golog.Logger) error {
	if err := manager.InitSession(token); err != nil {
		return err
	}
	frameNum := 0
	for c := 0; c < args.Chunks; c++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		frames := make([]*tsdf.Frame, 0, args.ChunkSize)
		for f := 0; f < args.ChunkSize; f++ {
			frame, err := wallFrame(frameNum, args.WallDist, logger)
			if err != nil {
				return err
			}
			frames = append(frames, frame)
			frameNum++
		}
		res, err := manager.IntegrateChunk(token, frames)
		if err != nil {
			return err
		}
		logger.Infow("chunk integrated",
			"token", token[:8],
			"chunk", c,
			"processed", res.Processed,
			"failed", res.Failed,
			"total_frames", res.TotalFrames)
	}

	final, err := manager.Finalize(token)
	if err != nil {
		return err
	}
	logger.Infow("scan finalized",
		"token", token[:8],
		"vertices", final.Vertices,
		"triangles", final.Triangles,
		"total_frames", final.TotalFrames)
	return nil
}

// wallFrame synthesizes one depth frame of a flat wall, with the camera swept
// sideways a little each frame so successive frames overlap but extend the
// observed surface.
func wallFrame(frameNum int, wallDist float64, logger golog.Logger) (*tsdf.Frame, error) {
	depth := tsdf.NewEmptyDepthMap(demoIntrinsics.Width, demoIntrinsics.Height)
	for y := 0; y < demoIntrinsics.Height; y++ {
		for x := 0; x < demoIntrinsics.Width; x++ {
			// mild radial falloff so the wall is not perfectly planar
			dx := (float64(x) - demoIntrinsics.Ppx) / demoIntrinsics.Fx
			dy := (float64(y) - demoIntrinsics.Ppy) / demoIntrinsics.Fy
			d := wallDist + 0.02*math.Sin(3*dx)*math.Cos(3*dy)
			depth.Set(x, y, float32(d))
		}
	}

	// identity rotation, camera slides along x
	tx := 0.05 * float64(frameNum)
	pose := mat.NewDense(4, 4, []float64{
		1, 0, 0, tx,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
	return tsdf.NewFrame(depth, nil, &demoIntrinsics, nil, pose, logger)
}
