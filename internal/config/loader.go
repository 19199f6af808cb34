package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// GPUSpec describes one device of the inventory handed to the resource manager.
type GPUSpec struct {
	Name          string `json:"name" yaml:"name" toml:"name"`
	TotalMemoryMB int    `json:"total_memory_mb" yaml:"total_memory_mb" toml:"total_memory_mb"`
	Affinity      string `json:"affinity" yaml:"affinity" toml:"affinity"`
	MaxTasks      int    `json:"max_tasks" yaml:"max_tasks" toml:"max_tasks"`
}

// EngineConfig points at one external collaborator engine.
type EngineConfig struct {
	BaseURL   string `json:"base_url" yaml:"base_url" toml:"base_url"`
	TimeoutMS int    `json:"timeout_ms" yaml:"timeout_ms" toml:"timeout_ms"`
}

// VideoServiceConfig configures the persistent video-synthesis process.
// When Bin is empty the daemon only dials Addr; when set, the process is
// spawned and owned by the daemon for its lifetime.
type VideoServiceConfig struct {
	Addr string `json:"addr" yaml:"addr" toml:"addr"`
	Bin  string `json:"bin" yaml:"bin" toml:"bin"`
}

// Config holds runtime parameters for the daemon.
// Zero values mean "unspecified" and will be replaced by defaults in main.
type Config struct {
	Addr            string    `json:"addr" yaml:"addr" toml:"addr"`
	PersonaDir      string    `json:"persona_dir" yaml:"persona_dir" toml:"persona_dir"`
	OutputDir       string    `json:"output_dir" yaml:"output_dir" toml:"output_dir"`
	GPUs            []GPUSpec `json:"gpus" yaml:"gpus" toml:"gpus"`
	ProbeIntervalS  int       `json:"probe_interval_s" yaml:"probe_interval_s" toml:"probe_interval_s"`
	MaxOutstanding  int       `json:"max_outstanding" yaml:"max_outstanding" toml:"max_outstanding"`
	TaskTimeoutS    int       `json:"task_timeout_s" yaml:"task_timeout_s" toml:"task_timeout_s"`
	VIPCallers      []string  `json:"vip_callers" yaml:"vip_callers" toml:"vip_callers"`
	CacheCapacity   int       `json:"cache_capacity" yaml:"cache_capacity" toml:"cache_capacity"`
	CacheRetentionH int       `json:"cache_retention_h" yaml:"cache_retention_h" toml:"cache_retention_h"`
	SweepIntervalM  int       `json:"sweep_interval_m" yaml:"sweep_interval_m" toml:"sweep_interval_m"`

	ASR   EngineConfig       `json:"asr" yaml:"asr" toml:"asr"`
	LLM   EngineConfig       `json:"llm" yaml:"llm" toml:"llm"`
	TTS   EngineConfig       `json:"tts" yaml:"tts" toml:"tts"`
	Video VideoServiceConfig `json:"video" yaml:"video" toml:"video"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
