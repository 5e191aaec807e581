// Package config loads txndict's process-level configuration: how to log
// and how to export telemetry. It never touches the transactional core
// itself, which takes its logger and meter as plain constructor arguments
// and has no configuration surface of its own.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sushant-115/txndict/pkg/logger"
	"github.com/sushant-115/txndict/pkg/telemetry"
)

// Config is the top-level YAML document accepted by Load.
type Config struct {
	Logger    logger.Config    `yaml:"logger"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// Default returns a Config suitable for local development: console logging
// at info level to stdout, telemetry disabled.
func Default() Config {
	return Config{
		Logger: logger.Config{
			Level:      "info",
			Format:     "console",
			OutputFile: "stdout",
		},
		Telemetry: telemetry.Config{
			Enabled:          false,
			ServiceName:      "txndict",
			PrometheusPort:   9464,
			TraceSampleRatio: 1.0,
		},
	}
}

// Load reads and parses a YAML config file at path. Fields absent from the
// file keep Default's values.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
