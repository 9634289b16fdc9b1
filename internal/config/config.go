// Package config loads campaign settings from YAML and fills in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/linkprobe/model"
)

var (
	// ErrInvalidMCS indicates an MCS index outside the HT table.
	ErrInvalidMCS = errors.New("invalid mcs index")
	// ErrInvalid indicates any other unusable setting.
	ErrInvalid = errors.New("invalid configuration")
)

const (
	DefaultNodes              = 10
	DefaultInterferers        = 2
	DefaultSeed               = 2000
	DefaultInterferencePower  = 10.0
	DefaultMCSIndex           = 3
	DefaultDataRateMbps       = 6.5
	DefaultSimulationDuration = time.Second
	DefaultInterFlowGap       = time.Second
	DefaultInitialDelay       = 30 * time.Second
	DefaultPacketSize         = 1420
	DefaultPort               = 9
	DefaultDataDir            = "txtfiles"
	DefaultPrefix             = "wifi"
)

// Config is the full campaign configuration.
type Config struct {
	Network       NetworkConfig       `yaml:"network"`
	Campaign      CampaignConfig      `yaml:"campaign"`
	Storage       StorageConfig       `yaml:"storage"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// NetworkConfig describes the simulated deployment.
type NetworkConfig struct {
	Nodes             int     `yaml:"nodes"`
	Interferers       *int    `yaml:"interferers,omitempty"`
	Seed              uint64  `yaml:"seed"`
	InterferencePower float64 `yaml:"interference_power"`
	MCSIndex          *int    `yaml:"mcs_index,omitempty"`
	DataRateMbps      float64 `yaml:"data_rate_mbps"`
	SourceNode        *int    `yaml:"source_node,omitempty"`
	SinkNode          *int    `yaml:"sink_node,omitempty"`
	// PositionsFile optionally pins node and interferer positions.
	PositionsFile string `yaml:"positions_file,omitempty"`
}

// CampaignConfig describes timing and the operator's mode switches.
type CampaignConfig struct {
	SimulationDuration time.Duration `yaml:"simulation_duration"`
	InterFlowGap       time.Duration `yaml:"inter_flow_gap"`
	InitialDelay       time.Duration `yaml:"initial_delay"`
	PacketSize         int           `yaml:"packet_size"`
	Port               uint16        `yaml:"port"`
	LinkTest           bool          `yaml:"link_test"`
	UpdateRoutes       *bool         `yaml:"update_routes,omitempty"`
	Reset              bool          `yaml:"reset"`
	RealTime           bool          `yaml:"realtime"`
}

// StorageConfig locates the persisted matrices.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
	Prefix  string `yaml:"prefix"`
}

// ObservabilityConfig controls the metrics endpoint.
type ObservabilityConfig struct {
	MetricsAddr string `yaml:"metrics_addr"`
}

// Default returns a fully defaulted configuration.
func Default() Config {
	var cfg Config
	ApplyDefaults(&cfg)
	return cfg
}

// Load reads and parses a YAML config file and applies defaults.
func Load(path string) (Config, error) {
	cfg, err := Decode(path)
	if err != nil {
		return Config{}, err
	}
	ApplyDefaults(&cfg)
	return cfg, nil
}

// Decode parses a YAML config file without applying defaults, so callers
// can overlay their own values before the derived defaults are resolved.
func Decode(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes a YAML config file to disk.
func Save(path string, cfg Config) error {
	ApplyDefaults(&cfg)
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}

// ApplyDefaults fills in default values when empty. The sink defaults to
// the last node, so it is resolved after Nodes.
func ApplyDefaults(cfg *Config) {
	n := &cfg.Network
	if n.Nodes == 0 {
		n.Nodes = DefaultNodes
	}
	if n.Interferers == nil {
		n.Interferers = intPtr(DefaultInterferers)
	}
	if n.Seed == 0 {
		n.Seed = DefaultSeed
	}
	if n.InterferencePower == 0 {
		n.InterferencePower = DefaultInterferencePower
	}
	if n.MCSIndex == nil {
		n.MCSIndex = intPtr(DefaultMCSIndex)
	}
	if n.DataRateMbps == 0 {
		n.DataRateMbps = DefaultDataRateMbps
	}
	if n.SourceNode == nil {
		n.SourceNode = intPtr(0)
	}
	if n.SinkNode == nil {
		n.SinkNode = intPtr(n.Nodes - 1)
	}

	c := &cfg.Campaign
	if c.SimulationDuration == 0 {
		c.SimulationDuration = DefaultSimulationDuration
	}
	if c.InterFlowGap == 0 {
		c.InterFlowGap = DefaultInterFlowGap
	}
	if c.InitialDelay == 0 {
		c.InitialDelay = DefaultInitialDelay
	}
	if c.PacketSize == 0 {
		c.PacketSize = DefaultPacketSize
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.UpdateRoutes == nil {
		t := true
		c.UpdateRoutes = &t
	}

	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = DefaultDataDir
	}
	if cfg.Storage.Prefix == "" {
		cfg.Storage.Prefix = DefaultPrefix
	}
}

// Validate checks a defaulted configuration. An MCS index outside the HT
// table yields ErrInvalidMCS; everything else yields ErrInvalid.
func Validate(cfg Config) error {
	n := cfg.Network
	if n.MCSIndex == nil {
		return fmt.Errorf("%w: mcs_index is required", ErrInvalidMCS)
	}
	if _, err := model.LookupMCS(*n.MCSIndex); err != nil {
		return fmt.Errorf("%w: %d", ErrInvalidMCS, *n.MCSIndex)
	}
	if n.Nodes < 2 {
		return fmt.Errorf("%w: network.nodes must be at least 2, got %d", ErrInvalid, n.Nodes)
	}
	if n.Nodes > 253 {
		return fmt.Errorf("%w: network.nodes must fit a /24, got %d", ErrInvalid, n.Nodes)
	}
	if n.Interferers == nil || *n.Interferers < 0 {
		return fmt.Errorf("%w: network.interferers must not be negative", ErrInvalid)
	}
	if n.InterferencePower < 0 {
		return fmt.Errorf("%w: network.interference_power must not be negative", ErrInvalid)
	}
	if n.DataRateMbps <= 0 {
		return fmt.Errorf("%w: network.data_rate_mbps must be positive", ErrInvalid)
	}
	for name, idx := range map[string]*int{"source_node": n.SourceNode, "sink_node": n.SinkNode} {
		if idx == nil || *idx < 0 || *idx >= n.Nodes {
			return fmt.Errorf("%w: network.%s must be in [0,%d)", ErrInvalid, name, n.Nodes)
		}
	}

	c := cfg.Campaign
	if c.SimulationDuration <= 0 {
		return fmt.Errorf("%w: campaign.simulation_duration must be positive", ErrInvalid)
	}
	if c.InterFlowGap <= 0 {
		return fmt.Errorf("%w: campaign.inter_flow_gap must be positive", ErrInvalid)
	}
	if c.InitialDelay < 0 {
		return fmt.Errorf("%w: campaign.initial_delay must not be negative", ErrInvalid)
	}
	if c.PacketSize <= 0 || c.PacketSize > 65507 {
		return fmt.Errorf("%w: campaign.packet_size %d outside (0,65507]", ErrInvalid, c.PacketSize)
	}
	if cfg.Storage.DataDir == "" {
		return fmt.Errorf("%w: storage.data_dir is required", ErrInvalid)
	}
	return nil
}

// MCS returns the configured modulation and coding scheme.
func (c Config) MCS() (model.MCS, error) {
	if c.Network.MCSIndex == nil {
		return model.LookupMCS(DefaultMCSIndex)
	}
	return model.LookupMCS(*c.Network.MCSIndex)
}

func intPtr(v int) *int { return &v }
