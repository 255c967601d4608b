// Package config loads the optional mutolink config file. Command-line
// flags override anything set here.
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/openmuto/mutolink/internal/logging"
)

// DefaultPath is where the CLI looks for a config file unless --config
// points elsewhere.
const DefaultPath = "/etc/mutolink/config.yaml"

// Config holds all mutolink configuration.
type Config struct {
	Link    LinkConfig     `yaml:"link" json:"link"`
	Logging logging.Config `yaml:"logging" json:"logging"`
	Monitor MonitorConfig  `yaml:"monitor" json:"monitor"`
}

// LinkConfig selects and parameterizes the transport.
type LinkConfig struct {
	Backend string `yaml:"backend" json:"backend"` // "usb", "pi" or "demo"
	Port    string `yaml:"port" json:"port"`
	Baud    int    `yaml:"baud" json:"baud"`
	DirPin  int    `yaml:"dir_pin" json:"dirPin"` // Pi backend only, 0 = none
}

// MonitorConfig parameterizes the telemetry monitor.
type MonitorConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"`
	PollHz     int    `yaml:"poll_hz" json:"pollHz"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Link: LinkConfig{
			Backend: "usb",
			Baud:    115200,
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "console",
		},
		Monitor: MonitorConfig{
			ListenAddr: ":8080",
			PollHz:     5,
		},
	}
}

// Load reads the config file at path, layering it over the defaults. A
// missing file is not an error and the defaults are returned; a
// malformed file is.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}
