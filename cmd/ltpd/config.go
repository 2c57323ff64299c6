package main

import (
	"fmt"
	"os"

	yaml "gopkg.in/yaml.v2"

	"github.com/deepspacecomm/ltpengine/ltp/engine"
)

// daemonConfig is ltpd's on-disk config: the protocol engine's own
// parameters (spec.md §6) plus the plumbing spec.md §1 calls out of
// scope -- listen address, per-peer-engine routing, and monitoring --
// which still has to live somewhere for a runnable binary.
type daemonConfig struct {
	Engine engine.Config `yaml:"engine"`

	ListenAddr     string            `yaml:"listenAddr"`
	Peers          map[uint64]string `yaml:"peers"`
	MonitoringAddr string            `yaml:"monitoringAddr"`
	LogLevel       string            `yaml:"logLevel"`
}

func defaultDaemonConfig() daemonConfig {
	return daemonConfig{
		Engine:         engine.DefaultConfig(),
		ListenAddr:     ":1113",
		MonitoringAddr: ":8080",
		LogLevel:       "info",
	}
}

func readDaemonConfig(path string) (*daemonConfig, error) {
	c := defaultDaemonConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ltpd: reading config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("ltpd: parsing config %q: %w", path, err)
	}
	return &c, nil
}
