package knnindex

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"
)

// Config groups the two algorithm knobs (k, delta) with the operational
// knobs that go alongside them: a logger and a metrics registerer.
type Config struct {
	// K is the number of neighbors retained per item. Must be >= 1.
	K int `yaml:"k"`

	// Delta is the convergence threshold on the per-epoch improvement
	// ratio. Must be in (0, 1].
	Delta float64 `yaml:"delta"`

	// Logger receives structured progress logs. Not YAML-loadable;
	// defaults to slog.Default() when nil.
	Logger *slog.Logger `yaml:"-"`

	// Registerer receives Prometheus instrumentation. Not YAML-loadable;
	// defaults to prometheus.DefaultRegisterer when nil.
	Registerer prometheus.Registerer `yaml:"-"`

	// Name labels this index's logs and metrics. Purely cosmetic.
	Name string `yaml:"name"`
}

// DefaultConfig returns k=10, delta=0.05.
func DefaultConfig() Config {
	return Config{
		K:     10,
		Delta: 0.05,
		Name:  "default",
	}
}

// LoadConfig reads a YAML configuration file on top of DefaultConfig,
// using strict decoding so an unrecognized key fails loudly instead of
// being silently ignored.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("knnindex: failed to open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("knnindex: YAML syntax error in config: %w", err)
	}
	return cfg, nil
}
