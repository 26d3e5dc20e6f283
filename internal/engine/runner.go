package engine

import (
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/unixsysdev/nano-go-cgenn/internal/algebra"
	"github.com/unixsysdev/nano-go-cgenn/internal/config"
	"github.com/unixsysdev/nano-go-cgenn/internal/layers"
	"github.com/unixsysdev/nano-go-cgenn/internal/optim"
	"github.com/unixsysdev/nano-go-cgenn/internal/sampling"
	"github.com/unixsysdev/nano-go-cgenn/internal/tensor"
	"github.com/unixsysdev/nano-go-cgenn/pkg/safetensors"
)

// Runner owns an algebra, one geometric product layer and its optimizer.
// Calls are serialised so parameter updates never overlap a forward pass.
type Runner struct {
	config    *config.Config
	algebra   *algebra.Algebra
	layer     *layers.SteerableGeometricProduct
	optimizer *optim.SGD
	log       zerolog.Logger
	mu        sync.Mutex
}

// NewRunner builds the algebra and layer described by cfg
func NewRunner(cfg *config.Config, log zerolog.Logger) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}

	alg, err := algebra.NewFromMetric(cfg.Metric)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build algebra")
	}

	opts := []layers.GPOption{layers.WithRand(sampling.NewRand(cfg.Seed))}
	if !cfg.IncludeFirstOrder {
		opts = append(opts, layers.WithoutFirstOrder())
	}
	if cfg.NormalizationInit == nil {
		opts = append(opts, layers.WithoutNormalization())
	} else {
		opts = append(opts, layers.WithNormalizationInit(float32(*cfg.NormalizationInit)))
	}
	layer, err := layers.NewSteerableGeometricProduct(alg, cfg.Features, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create layer")
	}

	opt, err := optim.NewSGD(float32(cfg.LearningRate))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create optimizer")
	}

	log.Info().
		Int("dim", alg.Dim()).
		Ints("subspaces", alg.Subspaces()).
		Int("blades", alg.NumBlades()).
		Int("features", cfg.Features).
		Int("paths", layer.Weight().Value.Shape()[1]).
		Int("parameters", layer.NumParameters()).
		Bool("first_order", layer.IncludesFirstOrder()).
		Msg("geometric product layer ready")

	return &Runner{
		config:    cfg,
		algebra:   alg,
		layer:     layer,
		optimizer: opt,
		log:       log,
	}, nil
}

// Layer returns the managed layer
func (r *Runner) Layer() *layers.SteerableGeometricProduct { return r.layer }

// RandomBatch draws a [batch, features, B] standard normal input
func (r *Runner) RandomBatch(seed int64) (*tensor.Tensor, error) {
	t, err := tensor.NewTensor([]int{r.config.BatchSize, r.config.Features, r.algebra.NumBlades()})
	if err != nil {
		return nil, err
	}
	sampling.Normal(sampling.NewRand(seed), t.Float32s(), 1)
	return t, nil
}

// Forward runs the layer
func (r *Runner) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.layer.Forward(input)
}

// TrainStep does one SGD step on the mean squared error to target and
// returns the loss before the update.
func (r *Runner) TrainStep(input, target *tensor.Tensor) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	params := r.layer.Parameters()
	optim.ZeroGrad(params)

	out, trace, err := r.layer.ForwardTrace(input)
	if err != nil {
		return 0, errors.Wrap(err, "forward failed")
	}
	if !out.SameShape(target) {
		return 0, errors.Errorf("target shape %v does not match output %v", target.Shape(), out.Shape())
	}

	grad, err := tensor.NewTensor(out.Shape())
	if err != nil {
		return 0, err
	}
	o, y, g := out.Float32s(), target.Float32s(), grad.Float32s()
	n := float64(len(o))
	var loss float64
	for i := range o {
		d := float64(o[i]) - float64(y[i])
		loss += d * d
		g[i] = float32(2 * d / n)
	}
	loss /= n

	if _, err := r.layer.Backward(trace, grad); err != nil {
		return 0, errors.Wrap(err, "backward failed")
	}
	r.optimizer.Step(params)
	return loss, nil
}

// Fit runs steps training steps on a fixed batch and returns the losses
func (r *Runner) Fit(input, target *tensor.Tensor, steps int) ([]float64, error) {
	losses := make([]float64, 0, steps)
	for step := 0; step < steps; step++ {
		loss, err := r.TrainStep(input, target)
		if err != nil {
			return losses, errors.Wrapf(err, "step %d", step)
		}
		losses = append(losses, loss)
		r.log.Debug().Int("step", step).Float64("loss", loss).Msg("train step")
	}
	if len(losses) > 0 {
		r.log.Info().
			Int("steps", steps).
			Float64("first_loss", losses[0]).
			Float64("last_loss", losses[len(losses)-1]).
			Float64("mean_loss", stat.Mean(losses, nil)).
			Msg("training finished")
	}
	return losses, nil
}

// SaveCheckpoint writes every parameter to a safetensors file
func (r *Runner) SaveCheckpoint(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	params := r.layer.Parameters()
	entries := make([]safetensors.Entry, len(params))
	for i, p := range params {
		entries[i] = safetensors.Entry{Name: p.Name, Shape: p.Value.Shape(), Data: p.Value.Float32s()}
	}
	meta := map[string]string{
		"metric":   formatMetric(r.config.Metric),
		"features": strconv.Itoa(r.config.Features),
	}
	if err := safetensors.Save(path, entries, meta); err != nil {
		return errors.Wrap(err, "failed to save checkpoint")
	}
	r.log.Info().Str("path", path).Int("tensors", len(entries)).Msg("checkpoint saved")
	return nil
}

// LoadCheckpoint restores every parameter from a safetensors file written
// by SaveCheckpoint for the same algebra and layer configuration.
func (r *Runner) LoadCheckpoint(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := safetensors.Open(path)
	if err != nil {
		return errors.Wrap(err, "failed to open checkpoint")
	}
	if m, ok := f.Metadata["metric"]; ok && m != formatMetric(r.config.Metric) {
		return errors.Errorf("checkpoint metric %s does not match %s", m, formatMetric(r.config.Metric))
	}

	state := make(map[string][]float32, len(f.Header))
	for _, name := range f.Names() {
		data, _, err := f.ReadFloat32(name)
		if err != nil {
			return errors.Wrapf(err, "failed to read %s", name)
		}
		state[name] = data
	}
	if err := r.layer.LoadWeights(state); err != nil {
		return errors.Wrap(err, "failed to load checkpoint")
	}
	r.log.Info().Str("path", path).Int("tensors", len(state)).Msg("checkpoint loaded")
	return nil
}

func formatMetric(metric []float32) string {
	parts := make([]string, len(metric))
	for i, v := range metric {
		parts[i] = strconv.FormatFloat(float64(v), 'g', -1, 32)
	}
	return strings.Join(parts, ",")
}
