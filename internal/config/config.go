// Package config loads the cluster topology description, expands ${VAR}
// placeholders from a supplied environment, and validates the result.
// Resolution is a pure transformation over its inputs so it can be tested
// without touching process state.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// NodeRecord is one topology entry: a node identity and its network address.
type NodeRecord struct {
	ID   int    `yaml:"id"`
	IP   string `yaml:"ip"`
	Port int    `yaml:"port"`
}

// APIConfig holds credentials for the external model provider.
type APIConfig struct {
	Key     string `yaml:"openrouter_api_key"`
	BaseURL string `yaml:"openrouter_base_url"`
	Model   string `yaml:"model"`
}

// NetworkConfig holds cluster coordination tunables. Values are seconds in
// the YAML source.
type NetworkConfig struct {
	HeartbeatInterval time.Duration
	LeaderTimeout     time.Duration
	ElectionTimeout   time.Duration
}

// TasksConfig bounds the task pipeline.
type TasksConfig struct {
	MaxRetries   int
	Timeout      time.Duration
	MaxPerWorker int
}

// Config is the fully resolved deployment configuration.
type Config struct {
	Nodes   []NodeRecord
	API     APIConfig
	Network NetworkConfig
	Tasks   TasksConfig
}

// rawConfig mirrors config.yaml. Duration-like fields are plain numbers of
// seconds there, matching the deployed configuration contract.
type rawConfig struct {
	Nodes []NodeRecord `yaml:"nodes"`
	API   APIConfig    `yaml:"api"`

	Network struct {
		HeartbeatInterval float64 `yaml:"heartbeat_interval"`
		LeaderTimeout     float64 `yaml:"leader_timeout"`
		ElectionTimeout   float64 `yaml:"election_timeout"`
	} `yaml:"network"`

	Tasks struct {
		MaxRetries   int     `yaml:"max_retries"`
		Timeout      float64 `yaml:"timeout"`
		MaxPerWorker int     `yaml:"max_per_worker"`
	} `yaml:"tasks"`
}

const (
	DefaultBaseURL = "https://openrouter.ai/api/v1"
	DefaultModel   = "mistralai/mixtral-8x7b-instruct"

	defaultHeartbeatInterval = 5 * time.Second
	defaultLeaderTimeout     = 15 * time.Second
	defaultElectionTimeout   = 3 * time.Second
	defaultTaskRetries       = 3
	defaultTaskTimeout       = 60 * time.Second
	defaultMaxPerWorker      = 3
)

// Load reads the raw topology text from disk. The bytes still contain
// unexpanded placeholders; pass them through Resolve.
func Load(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	return data, nil
}

// Resolve expands every ${NAME} placeholder in raw from env, parses the
// result, applies defaults and validates. It reads nothing beyond its
// arguments and is idempotent over identical inputs.
func Resolve(raw []byte, env map[string]string) (Config, error) {
	expanded, err := expandPlaceholders(raw, env)
	if err != nil {
		return Config{}, err
	}

	var rc rawConfig
	if err := yaml.Unmarshal(expanded, &rc); err != nil {
		return Config{}, fmt.Errorf("config parse failed: %w", err)
	}

	cfg := Config{
		Nodes: rc.Nodes,
		API:   rc.API,
		Network: NetworkConfig{
			HeartbeatInterval: secondsOr(rc.Network.HeartbeatInterval, defaultHeartbeatInterval),
			LeaderTimeout:     secondsOr(rc.Network.LeaderTimeout, defaultLeaderTimeout),
			ElectionTimeout:   secondsOr(rc.Network.ElectionTimeout, defaultElectionTimeout),
		},
		Tasks: TasksConfig{
			MaxRetries:   intOr(rc.Tasks.MaxRetries, defaultTaskRetries),
			Timeout:      secondsOr(rc.Tasks.Timeout, defaultTaskTimeout),
			MaxPerWorker: intOr(rc.Tasks.MaxPerWorker, defaultMaxPerWorker),
		},
	}
	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = DefaultBaseURL
	}
	if cfg.API.Model == "" {
		cfg.API.Model = DefaultModel
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Environ converts os.Environ-style "KEY=VALUE" pairs into the map form
// Resolve consumes.
func Environ(pairs []string) map[string]string {
	env := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		if key, value, ok := strings.Cut(pair, "="); ok {
			env[key] = value
		}
	}
	return env
}

// Node returns the topology record with the given id.
func (c Config) Node(id int) (NodeRecord, bool) {
	for _, rec := range c.Nodes {
		if rec.ID == id {
			return rec, true
		}
	}
	return NodeRecord{}, false
}

func (c Config) validate() error {
	if len(c.Nodes) == 0 {
		return fmt.Errorf("%w: no nodes declared", ErrInvalidTopology)
	}

	// Ids must be exactly {1..N}: unique and contiguous.
	seen := make(map[int]bool, len(c.Nodes))
	for _, rec := range c.Nodes {
		if seen[rec.ID] {
			return fmt.Errorf("%w: duplicate node id %d", ErrInvalidTopology, rec.ID)
		}
		seen[rec.ID] = true
		if strings.TrimSpace(rec.IP) == "" {
			return fmt.Errorf("%w: node %d has empty ip", ErrInvalidTopology, rec.ID)
		}
		if rec.Port < 1 || rec.Port > 65535 {
			return fmt.Errorf("%w: node %d port %d out of range", ErrInvalidTopology, rec.ID, rec.Port)
		}
	}
	for id := 1; id <= len(c.Nodes); id++ {
		if !seen[id] {
			return fmt.Errorf("%w: node ids must be contiguous 1..%d, missing %d",
				ErrInvalidTopology, len(c.Nodes), id)
		}
	}

	if strings.TrimSpace(c.API.Key) == "" {
		return fmt.Errorf("%w: api.openrouter_api_key is empty", ErrMissingCredential)
	}
	return nil
}

func secondsOr(v float64, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return time.Duration(v * float64(time.Second))
}

func intOr(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}
