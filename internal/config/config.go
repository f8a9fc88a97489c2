package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"

	"github.com/tetherhq/tether/internal/model"
	"github.com/tetherhq/tether/internal/permission"
)

// AgentCommand describes how to launch one agent family's CLI.
type AgentCommand struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// Config is the supervisor's own configuration: where it listens, which
// agent CLIs it knows how to launch, and the ambient defaults new sessions
// start with. It is deliberately small — per-session model/provider choices
// belong to the agent CLI being supervised, not to this process.
type Config struct {
	ListenAddr string `json:"listenAddr"`

	RelayURL     string `json:"relayUrl,omitempty"`
	RelayEnabled bool   `json:"relayEnabled"`

	DefaultPermissionMode model.PermissionMode `json:"defaultPermissionMode"`

	// AutoApproveEditGlobs are doublestar patterns matched against a
	// session's Edit/Write tool-call target path; a match auto-allows the
	// call regardless of permission mode (§4.6.1 path-scoped approvals).
	AutoApproveEditGlobs []string `json:"autoApproveEditGlobs,omitempty"`

	// ExcludeProjectGlobs are doublestar patterns matched against a
	// discovered project's resolved path; a match hides it from the
	// Project Scanner's results (§4.5).
	ExcludeProjectGlobs []string `json:"excludeProjectGlobs,omitempty"`

	// BashPatterns maps a command pattern (e.g. "git commit *") to an
	// explicit allow/deny verdict for Bash tool calls, bypassing the
	// mode-based prompt (§4.6.1 arbitrary-exec column).
	BashPatterns map[string]permission.PermissionAction `json:"bashPatterns,omitempty"`

	AgentCommands map[model.AgentFamily]AgentCommand `json:"agentCommands"`

	LogLevel string `json:"logLevel"`
}

func defaultConfig() *Config {
	return &Config{
		ListenAddr:            ":4096",
		DefaultPermissionMode: model.ModeDefault,
		AgentCommands:         map[model.AgentFamily]AgentCommand{},
		LogLevel:              "info",
	}
}

// Load loads configuration from multiple sources, in priority order:
//  1. Global config (XDG config dir)
//  2. Project config (.tether/tether.json(c) under directory)
//  3. Environment variables (via .env, then actual env)
func Load(directory string) (*Config, error) {
	cfg := defaultConfig()

	globalPath := GetPaths().Config
	_ = loadConfigFile(filepath.Join(globalPath, "tether.json"), cfg)
	_ = loadConfigFile(filepath.Join(globalPath, "tether.jsonc"), cfg)

	if directory != "" {
		_ = loadConfigFile(filepath.Join(directory, ".tether", "tether.json"), cfg)
		_ = loadConfigFile(filepath.Join(directory, ".tether", "tether.jsonc"), cfg)
	}

	// .env files are a convenience for development; real secrets still come
	// from the process environment, which always wins below.
	_ = godotenv.Load(filepath.Join(directory, ".env"))

	applyEnvOverrides(cfg)

	return cfg, nil
}

func loadConfigFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err // callers ignore this error, so a missing file merges nothing
	}

	// jsonc strips // and /* */ comments before standard json decoding,
	// so config files may use either .json or .jsonc freely.
	data := jsonc.ToJSON(raw)

	var fileCfg Config
	if err := json.Unmarshal(data, &fileCfg); err != nil {
		return model.WrapError(model.ErrFormat, "parse config "+path, err)
	}

	mergeConfig(cfg, &fileCfg)
	return nil
}

func mergeConfig(target, source *Config) {
	if source.ListenAddr != "" {
		target.ListenAddr = source.ListenAddr
	}
	if source.RelayURL != "" {
		target.RelayURL = source.RelayURL
	}
	if source.RelayEnabled {
		target.RelayEnabled = true
	}
	if source.DefaultPermissionMode.Valid() {
		target.DefaultPermissionMode = source.DefaultPermissionMode
	}
	if source.LogLevel != "" {
		target.LogLevel = source.LogLevel
	}
	if len(source.AutoApproveEditGlobs) > 0 {
		target.AutoApproveEditGlobs = source.AutoApproveEditGlobs
	}
	if len(source.ExcludeProjectGlobs) > 0 {
		target.ExcludeProjectGlobs = source.ExcludeProjectGlobs
	}
	if len(source.BashPatterns) > 0 {
		target.BashPatterns = source.BashPatterns
	}
	for family, cmd := range source.AgentCommands {
		if target.AgentCommands == nil {
			target.AgentCommands = make(map[model.AgentFamily]AgentCommand)
		}
		target.AgentCommands[family] = cmd
	}
}

func applyEnvOverrides(cfg *Config) {
	if addr := os.Getenv("TETHER_LISTEN_ADDR"); addr != "" {
		cfg.ListenAddr = addr
	}
	if url := os.Getenv("TETHER_RELAY_URL"); url != "" {
		cfg.RelayURL = url
		cfg.RelayEnabled = true
	}
	if mode := os.Getenv("TETHER_PERMISSION_MODE"); mode != "" {
		pm := model.PermissionMode(mode)
		if pm.Valid() {
			cfg.DefaultPermissionMode = pm
		}
	}
	if level := os.Getenv("TETHER_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
}

// Save writes cfg as indented JSON to path, creating parent directories as
// needed.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
