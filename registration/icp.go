package registration

import (
	"context"
	"math"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/cloudalign/cloudalign/pointcloud"
	"github.com/cloudalign/cloudalign/spatialmath"
)

// ICPConvergenceCriteria bounds a single-scale registration run. The loop
// stops when BOTH the fitness delta and the RMSE delta between consecutive
// iterations drop below their thresholds, or when MaxIteration is reached;
// either delta alone is not sufficient.
type ICPConvergenceCriteria struct {
	RelativeFitness float64
	RelativeRMSE    float64
	MaxIteration    int
}

// NewICPConvergenceCriteria returns criteria with the standard defaults.
func NewICPConvergenceCriteria() ICPConvergenceCriteria {
	return ICPConvergenceCriteria{
		RelativeFitness: 1e-6,
		RelativeRMSE:    1e-6,
		MaxIteration:    30,
	}
}

func (c ICPConvergenceCriteria) validate() error {
	if c.RelativeFitness < 0 || c.RelativeRMSE < 0 {
		return errors.New("convergence thresholds must be non-negative")
	}
	if c.MaxIteration < 1 {
		return errors.Errorf("max iteration must be at least 1, got %d", c.MaxIteration)
	}
	return nil
}

// RegistrationResult reports one alignment: the cumulative transform from the
// original source frame onto the target, the correspondences under it, the
// fitness (fraction of source points with a match, in [0,1]) and the inlier
// RMSE over those matches. Results are immutable values; the loop returns a
// fresh one each iteration and the caller keeps only the last.
type RegistrationResult struct {
	Transformation  spatialmath.RigidTransform
	Correspondences CorrespondenceSet
	Fitness         float64
	InlierRMSE      float64
}

// StageTimerFunc receives the wall-clock duration of a named registration
// stage. It is an optional observation hook, never required for correctness.
type StageTimerFunc func(stage string, d time.Duration)

type options struct {
	logger     golog.Logger
	stageTimer StageTimerFunc
}

// Option configures a registration call.
type Option func(*options)

// WithLogger makes the registration loop log per-iteration fitness and RMSE
// at debug level.
func WithLogger(logger golog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithStageTimer installs a profiling hook called with the duration of each
// registration stage ("correspondences", "solve").
func WithStageTimer(f StageTimerFunc) Option {
	return func(o *options) { o.stageTimer = f }
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) time(stage string, start time.Time) {
	if o.stageTimer != nil {
		o.stageTimer(stage, time.Since(start))
	}
}

// resultAndCorrespondences scores transformed source points against the
// target index: correspondences under maxDistance, fitness and inlier RMSE.
// sourceSize is the full source count, the fitness denominator.
func resultAndCorrespondences(
	ctx context.Context,
	transformed *pointcloud.PointCloud,
	target *pointcloud.KDTree,
	maxDistance float64,
	transformation spatialmath.RigidTransform,
	o options,
) (RegistrationResult, error) {
	result := RegistrationResult{Transformation: transformation}
	if maxDistance <= 0 {
		return result, nil
	}

	start := time.Now()
	corres, err := FindCorrespondences(ctx, transformed, target, maxDistance)
	o.time("correspondences", start)
	if err != nil {
		return RegistrationResult{}, err
	}

	result.Correspondences = corres
	if corres.Len() == 0 {
		return result, nil
	}
	var squaredError float64
	for _, sq := range corres.SquaredDistances {
		squaredError += sq
	}
	result.Fitness = float64(corres.Len()) / float64(transformed.Size())
	result.InlierRMSE = math.Sqrt(squaredError / float64(corres.Len()))
	return result, nil
}

// EvaluateRegistration scores an existing alignment without iterating:
// fitness and inlier RMSE of source under the given transformation against
// target.
func EvaluateRegistration(
	ctx context.Context,
	source, target *pointcloud.PointCloud,
	maxDistance float64,
	transformation spatialmath.RigidTransform,
	opts ...Option,
) (RegistrationResult, error) {
	o := buildOptions(opts)
	if source.Size() == 0 {
		return RegistrationResult{}, errors.New("source point cloud is empty")
	}
	kd, err := pointcloud.BuildKDTree(target)
	if err != nil {
		return RegistrationResult{}, err
	}
	transformed := source.Clone()
	transformed.Transform(transformation)
	return resultAndCorrespondences(ctx, transformed, kd, maxDistance, transformation, o)
}

// RegisterICP aligns source onto target with single-scale ICP: repeatedly
// find correspondences under the current cumulative transform, solve an
// incremental transform from them, left-multiply it into the cumulative one,
// and re-transform the working copy of the source, until the convergence
// criteria or the iteration cap is hit. Precondition violations (empty
// source, unindexable target, invalid criteria, point-to-plane without
// normals) abort immediately with no partial result. An empty correspondence
// set is not an error; it yields zero fitness and identity increments.
func RegisterICP(
	ctx context.Context,
	source, target *pointcloud.PointCloud,
	maxDistance float64,
	init spatialmath.RigidTransform,
	estimation TransformationEstimation,
	criteria ICPConvergenceCriteria,
	opts ...Option,
) (RegistrationResult, error) {
	o := buildOptions(opts)
	if err := criteria.validate(); err != nil {
		return RegistrationResult{}, err
	}
	if source.Size() == 0 {
		return RegistrationResult{}, errors.New("source point cloud is empty")
	}
	switch estimation.(type) {
	case PointToPlane, *PointToPlane:
		if !target.HasNormals() {
			return RegistrationResult{}, errors.New("point-to-plane registration requires target normals")
		}
	}
	kd, err := pointcloud.BuildKDTree(target)
	if err != nil {
		return RegistrationResult{}, err
	}

	working := source.Clone()
	working.Transform(init)
	cumulative := init

	result, err := resultAndCorrespondences(ctx, working, kd, maxDistance, cumulative, o)
	if err != nil {
		return RegistrationResult{}, err
	}

	for i := 0; i < criteria.MaxIteration; i++ {
		if o.logger != nil {
			o.logger.Debugw("icp iteration",
				"iteration", i,
				"fitness", result.Fitness,
				"inlierRMSE", result.InlierRMSE,
				"correspondences", result.Correspondences.Len(),
			)
		}

		start := time.Now()
		update, err := estimation.ComputeTransformation(ctx, working, target, result.Correspondences)
		o.time("solve", start)
		if err != nil {
			return RegistrationResult{}, err
		}
		cumulative = update.Compose(cumulative)
		working.Transform(update)

		prevFitness := result.Fitness
		prevRMSE := result.InlierRMSE
		result, err = resultAndCorrespondences(ctx, working, kd, maxDistance, cumulative, o)
		if err != nil {
			return RegistrationResult{}, err
		}

		if math.Abs(prevFitness-result.Fitness) < criteria.RelativeFitness &&
			math.Abs(prevRMSE-result.InlierRMSE) < criteria.RelativeRMSE {
			break
		}
	}
	return result, nil
}

// RegisterMultiScaleICP composes RegisterICP over a coarse-to-fine pyramid.
// Each level i downsamples both clouds at voxelSizes[i] (-1 meaning full
// resolution) and runs ICP with maxDistances[i] and criteria[i], seeding the
// next finer level with its result. The three per-level lists must have equal
// non-zero length; that and every other precondition is checked before any
// level starts. Levels run strictly in sequence.
func RegisterMultiScaleICP(
	ctx context.Context,
	source, target *pointcloud.PointCloud,
	voxelSizes []float64,
	maxDistances []float64,
	criteria []ICPConvergenceCriteria,
	init spatialmath.RigidTransform,
	estimation TransformationEstimation,
	opts ...Option,
) (RegistrationResult, error) {
	o := buildOptions(opts)
	levels := len(voxelSizes)
	if levels == 0 {
		return RegistrationResult{}, errors.New("multiscale registration needs at least one level")
	}
	if len(maxDistances) != levels || len(criteria) != levels {
		return RegistrationResult{}, errors.Errorf(
			"per-level lists must have equal length: %d voxel sizes, %d search distances, %d criteria",
			levels, len(maxDistances), len(criteria))
	}
	for i, vs := range voxelSizes {
		if vs <= 0 && vs != -1 {
			return RegistrationResult{}, errors.Errorf("voxel size at level %d must be positive or -1, got %f", i, vs)
		}
		if i > 0 && vs > 0 && voxelSizes[i-1] > 0 && vs >= voxelSizes[i-1] {
			return RegistrationResult{}, errors.New("voxel sizes must decrease from coarse to fine")
		}
		if err := criteria[i].validate(); err != nil {
			return RegistrationResult{}, errors.Wrapf(err, "criteria at level %d", i)
		}
	}

	cumulative := init
	var result RegistrationResult
	for i := 0; i < levels; i++ {
		srcLevel, tgtLevel := source, target
		if voxelSizes[i] != -1 {
			var err error
			if srcLevel, err = source.VoxelDownsample(voxelSizes[i]); err != nil {
				return RegistrationResult{}, err
			}
			if tgtLevel, err = target.VoxelDownsample(voxelSizes[i]); err != nil {
				return RegistrationResult{}, err
			}
		}
		if o.logger != nil {
			o.logger.Debugw("multiscale level",
				"level", i,
				"voxelSize", voxelSizes[i],
				"sourcePoints", srcLevel.Size(),
				"targetPoints", tgtLevel.Size(),
			)
		}
		var err error
		result, err = RegisterICP(ctx, srcLevel, tgtLevel, maxDistances[i], cumulative, estimation, criteria[i], opts...)
		if err != nil {
			return RegistrationResult{}, errors.Wrapf(err, "multiscale level %d", i)
		}
		cumulative = result.Transformation
	}
	return result, nil
}
