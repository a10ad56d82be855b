// Package main is a command that aligns a source point cloud file onto a
// target and writes the resulting rigid transform.
//
// A YAML config describes the coarse-to-fine schedule:
//
//	estimation: point_to_plane
//	normals_k: 10
//	levels:
//	  - {voxel_size: 0.05, search_radius: 0.1, max_iteration: 20}
//	  - {voxel_size: -1, search_radius: 0.02, max_iteration: 30}
//
// Without a config a single full-resolution point-to-point level is run.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"github.com/cloudalign/cloudalign/pointcloud"
	"github.com/cloudalign/cloudalign/registration"
	"github.com/cloudalign/cloudalign/spatialmath"
	"github.com/cloudalign/cloudalign/utils"
)

var logger = golog.NewDevelopmentLogger("align")

func main() {
	goutils.ContextualMain(mainWithArgs, logger)
}

type levelConfig struct {
	VoxelSize       float64 `yaml:"voxel_size"`
	SearchRadius    float64 `yaml:"search_radius"`
	RelativeFitness float64 `yaml:"relative_fitness"`
	RelativeRMSE    float64 `yaml:"relative_rmse"`
	MaxIteration    int     `yaml:"max_iteration"`
}

type alignConfig struct {
	Estimation string        `yaml:"estimation"`
	NormalsK   int           `yaml:"normals_k"`
	Levels     []levelConfig `yaml:"levels"`
}

func defaultConfig() alignConfig {
	return alignConfig{
		Estimation: "point_to_point",
		NormalsK:   10,
		Levels:     []levelConfig{{VoxelSize: -1, SearchRadius: 0.1}},
	}
}

func readConfig(fn string) (alignConfig, error) {
	cfg := defaultConfig()
	if fn == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(fn)
	if err != nil {
		return alignConfig{}, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return alignConfig{}, errors.Wrapf(err, "parsing %s", fn)
	}
	if len(cfg.Levels) == 0 {
		return alignConfig{}, errors.New("config needs at least one level")
	}
	return cfg, nil
}

func (cfg alignConfig) estimation() (registration.TransformationEstimation, error) {
	switch cfg.Estimation {
	case "", "point_to_point":
		return registration.PointToPoint{}, nil
	case "point_to_plane":
		return registration.PointToPlane{}, nil
	default:
		return nil, errors.Errorf("unknown estimation %q", cfg.Estimation)
	}
}

func (cfg alignConfig) schedule() (voxelSizes, searchRadii []float64, criteria []registration.ICPConvergenceCriteria) {
	for _, lvl := range cfg.Levels {
		c := registration.NewICPConvergenceCriteria()
		if lvl.RelativeFitness > 0 {
			c.RelativeFitness = lvl.RelativeFitness
		}
		if lvl.RelativeRMSE > 0 {
			c.RelativeRMSE = lvl.RelativeRMSE
		}
		if lvl.MaxIteration > 0 {
			c.MaxIteration = lvl.MaxIteration
		}
		voxelSizes = append(voxelSizes, lvl.VoxelSize)
		searchRadii = append(searchRadii, lvl.SearchRadius)
		criteria = append(criteria, c)
	}
	return voxelSizes, searchRadii, criteria
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	flags := flag.NewFlagSet(args[0], flag.ContinueOnError)
	configPath := flags.String("config", "", "alignment schedule (YAML)")
	sourcePath := flags.String("source", "", "source point cloud (.pcd)")
	targetPath := flags.String("target", "", "target point cloud (.pcd)")
	outPath := flags.String("out", "", "write the 4x4 transform here instead of stdout")
	if err := flags.Parse(args[1:]); err != nil {
		return err
	}
	if *sourcePath == "" || *targetPath == "" {
		return errors.New("both -source and -target are required")
	}

	cfg, err := readConfig(*configPath)
	if err != nil {
		return err
	}
	estimation, err := cfg.estimation()
	if err != nil {
		return err
	}

	var source, target *pointcloud.PointCloud
	loadTime, err := utils.RunInParallel(ctx, []utils.SimpleFunc{
		func(ctx context.Context) error {
			var err error
			source, err = pointcloud.NewFromFile(*sourcePath, logger)
			return err
		},
		func(ctx context.Context) error {
			var err error
			target, err = pointcloud.NewFromFile(*targetPath, logger)
			return err
		},
	})
	if err != nil {
		return err
	}
	logger.Infow("loaded point clouds",
		"source", source.Size(),
		"target", target.Size(),
		"took", loadTime,
	)

	if _, ok := estimation.(registration.PointToPlane); ok && !target.HasNormals() {
		logger.Infow("estimating target normals", "k", cfg.NormalsK)
		if err := target.EstimateNormals(ctx, cfg.NormalsK, r3.Vector{}); err != nil {
			return err
		}
	}

	voxelSizes, searchRadii, criteria := cfg.schedule()
	result, err := registration.RegisterMultiScaleICP(
		ctx, source, target,
		voxelSizes, searchRadii, criteria,
		spatialmath.NewRigidTransform(), estimation,
		registration.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	logger.Infow("alignment finished",
		"fitness", result.Fitness,
		"inlierRMSE", result.InlierRMSE,
		"correspondences", result.Correspondences.Len(),
	)

	formatted := fmt.Sprintf("%.12g", mat.Formatted(result.Transformation.Matrix()))
	if *outPath == "" {
		fmt.Println(formatted)
		return nil
	}
	return os.WriteFile(*outPath, []byte(formatted+"\n"), 0o644)
}
