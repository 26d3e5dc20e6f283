package engine

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unixsysdev/nano-go-cgenn/internal/config"
)

func newTestRunner(t *testing.T, opts ...config.Option) *Runner {
	t.Helper()
	opts = append([]config.Option{
		config.WithMetric([]float32{1, 1}),
		config.WithFeatures(2),
		config.WithBatchSize(4),
		config.WithSeed(11),
		config.WithLearningRate(0.01),
	}, opts...)
	cfg, err := config.LoadConfig("", opts...)
	require.NoError(t, err)
	r, err := NewRunner(cfg, zerolog.Nop())
	require.NoError(t, err)
	return r
}

func TestRunnerForward(t *testing.T) {
	r := newTestRunner(t)
	in, err := r.RandomBatch(1)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 2, 4}, in.Shape())

	out, err := r.Forward(in)
	require.NoError(t, err)
	assert.Equal(t, in.Shape(), out.Shape())
}

func TestRunnerHonoursLayerOptions(t *testing.T) {
	r := newTestRunner(t, config.WithFirstOrder(false), config.WithoutNormalization())
	assert.False(t, r.Layer().IncludesFirstOrder())
	assert.Len(t, r.Layer().Parameters(), 2)

	r = newTestRunner(t)
	assert.True(t, r.Layer().IncludesFirstOrder())
	assert.Len(t, r.Layer().Parameters(), 5)
}

func TestRunnerFitReducesLoss(t *testing.T) {
	r := newTestRunner(t)
	in, err := r.RandomBatch(2)
	require.NoError(t, err)
	target, err := r.RandomBatch(3)
	require.NoError(t, err)

	losses, err := r.Fit(in, target, 20)
	require.NoError(t, err)
	require.Len(t, losses, 20)
	assert.Less(t, losses[19], losses[0])
}

func TestRunnerTrainStepRejectsBadTarget(t *testing.T) {
	r := newTestRunner(t)
	in, err := r.RandomBatch(2)
	require.NoError(t, err)
	other := newTestRunner(t, config.WithBatchSize(3))
	target, err := other.RandomBatch(3)
	require.NoError(t, err)

	_, err = r.TrainStep(in, target)
	assert.Error(t, err)
}

func TestCheckpointRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gp.safetensors")
	src := newTestRunner(t)
	in, err := src.RandomBatch(4)
	require.NoError(t, err)
	target, err := src.RandomBatch(5)
	require.NoError(t, err)
	_, err = src.Fit(in, target, 3)
	require.NoError(t, err)
	require.NoError(t, src.SaveCheckpoint(path))

	dst := newTestRunner(t, config.WithSeed(12))
	require.NoError(t, dst.LoadCheckpoint(path))

	a, err := src.Forward(in)
	require.NoError(t, err)
	b, err := dst.Forward(in)
	require.NoError(t, err)
	assert.Equal(t, a.Float32s(), b.Float32s())
}

func TestCheckpointRejectsOtherAlgebra(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gp.safetensors")
	require.NoError(t, newTestRunner(t).SaveCheckpoint(path))

	other := newTestRunner(t, config.WithMetric([]float32{1, -1}))
	assert.Error(t, other.LoadCheckpoint(path))

	noNorm := newTestRunner(t, config.WithoutNormalization())
	assert.Error(t, noNorm.LoadCheckpoint(path))

	assert.Error(t, noNorm.LoadCheckpoint(filepath.Join(t.TempDir(), "missing")))
}

func TestFormatMetric(t *testing.T) {
	assert.Equal(t, "1,-1,0.5", formatMetric([]float32{1, -1, 0.5}))
}
