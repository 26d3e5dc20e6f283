package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/unixsysdev/nano-go-cgenn/internal/config"
	"github.com/unixsysdev/nano-go-cgenn/internal/engine"
)

func main() {
	fs := flag.NewFlagSet("cgenn", flag.ExitOnError)
	configPath := fs.String("config", "", "JSON config file (optional)")
	metric := fs.String("metric", "", "comma separated metric diagonal, e.g. 1,1,1")
	features := fs.Int("features", 0, "channel count (0 = keep config value)")
	batch := fs.Int("batch", 0, "batch size (0 = keep config value)")
	noFirstOrder := fs.Bool("no-first-order", false, "drop the linear residual term")
	noNorm := fs.Bool("no-norm", false, "use the identity instead of the grade normalization")
	steps := fs.Int("steps", -1, "training steps on a random regression target (-1 = keep config value)")
	lr := fs.Float64("lr", 0, "learning rate (0 = keep config value)")
	seed := fs.Int64("seed", 0, "initialisation seed (0 = keep config value)")
	save := fs.String("save", "", "write a safetensors checkpoint here")
	load := fs.String("load", "", "restore a safetensors checkpoint before running")
	verbose := fs.Bool("v", false, "debug logging")
	_ = fs.Parse(os.Args[1:])

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Logger()

	var opts []config.Option
	if *metric != "" {
		m, err := parseMetric(*metric)
		if err != nil {
			log.Fatal().Err(err).Msg("bad -metric")
		}
		opts = append(opts, config.WithMetric(m))
	}
	if *features > 0 {
		opts = append(opts, config.WithFeatures(*features))
	}
	if *batch > 0 {
		opts = append(opts, config.WithBatchSize(*batch))
	}
	if *noFirstOrder {
		opts = append(opts, config.WithFirstOrder(false))
	}
	if *noNorm {
		opts = append(opts, config.WithoutNormalization())
	}
	if *steps >= 0 {
		opts = append(opts, config.WithSteps(*steps))
	}
	if *lr > 0 {
		opts = append(opts, config.WithLearningRate(*lr))
	}
	if *seed != 0 {
		opts = append(opts, config.WithSeed(*seed))
	}
	if *save != "" {
		opts = append(opts, config.WithCheckpointPath(*save))
	}

	cfg, err := config.LoadConfig(*configPath, opts...)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	runner, err := engine.NewRunner(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize runner")
	}
	if *load != "" {
		if err := runner.LoadCheckpoint(*load); err != nil {
			log.Fatal().Err(err).Msg("failed to load checkpoint")
		}
	}

	input, err := runner.RandomBatch(cfg.Seed + 1)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to sample input")
	}

	if cfg.Steps > 0 {
		target, err := runner.RandomBatch(cfg.Seed + 2)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to sample target")
		}
		if _, err := runner.Fit(input, target, cfg.Steps); err != nil {
			log.Fatal().Err(err).Msg("training failed")
		}
	}

	output, err := runner.Forward(input)
	if err != nil {
		log.Fatal().Err(err).Msg("forward failed")
	}
	shape := output.Shape()
	fmt.Printf("Output shape: %v\n", shape)
	fmt.Printf("First multivector: %v\n", output.Float32s()[:shape[2]])

	if cfg.CheckpointPath != "" {
		if err := runner.SaveCheckpoint(cfg.CheckpointPath); err != nil {
			log.Fatal().Err(err).Msg("failed to save checkpoint")
		}
	}
}

func parseMetric(s string) ([]float32, error) {
	parts := strings.Split(s, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("metric entry %d: %w", i, err)
		}
		out[i] = float32(v)
	}
	return out, nil
}
