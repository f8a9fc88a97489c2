package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetherhq/tether/internal/model"
	"github.com/tetherhq/tether/internal/permission"
)

func isolateHome(t *testing.T, dir string) {
	t.Helper()
	old := os.Getenv("HOME")
	os.Setenv("HOME", dir)
	t.Cleanup(func() { os.Setenv("HOME", old) })
}

func TestLoadDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)

	cfg, err := Load(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, ":4096", cfg.ListenAddr)
	assert.Equal(t, model.ModeDefault, cfg.DefaultPermissionMode)
	assert.False(t, cfg.RelayEnabled)
}

func TestLoadProjectConfig(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)

	projectCfg := `{
		"listenAddr": ":9000",
		"defaultPermissionMode": "acceptEdits",
		"agentCommands": {
			"claude": {"command": "claude", "args": ["--print"]}
		}
	}`
	configPath := filepath.Join(tmpDir, ".tether", "tether.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(configPath), 0755))
	require.NoError(t, os.WriteFile(configPath, []byte(projectCfg), 0644))

	cfg, err := Load(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, model.ModeAcceptEdits, cfg.DefaultPermissionMode)
	assert.Equal(t, "claude", cfg.AgentCommands[model.FamilyClaude].Command)
}

func TestLoadJSONCComments(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)

	jsoncCfg := `{
		// listen address for the transport
		"listenAddr": ":7000",
		/* permission mode
		   defaults to acceptEdits here */
		"defaultPermissionMode": "acceptEdits"
	}`
	configPath := filepath.Join(tmpDir, ".tether", "tether.jsonc")
	require.NoError(t, os.MkdirAll(filepath.Dir(configPath), 0755))
	require.NoError(t, os.WriteFile(configPath, []byte(jsoncCfg), 0644))

	cfg, err := Load(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.ListenAddr)
	assert.Equal(t, model.ModeAcceptEdits, cfg.DefaultPermissionMode)
}

func TestLoadMergesGlobalAndProject(t *testing.T) {
	tmpHome := t.TempDir()
	tmpProject := t.TempDir()
	isolateHome(t, tmpHome)

	globalCfg := `{"listenAddr": ":1111", "logLevel": "debug"}`
	globalDir := filepath.Join(tmpHome, ".config", "tether")
	require.NoError(t, os.MkdirAll(globalDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(globalDir, "tether.json"), []byte(globalCfg), 0644))

	projectCfg := `{"listenAddr": ":2222"}`
	projectDir := filepath.Join(tmpProject, ".tether")
	require.NoError(t, os.MkdirAll(projectDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, "tether.json"), []byte(projectCfg), 0644))

	cfg, err := Load(tmpProject)
	require.NoError(t, err)

	// project overrides global...
	assert.Equal(t, ":2222", cfg.ListenAddr)
	// ...but fields the project config doesn't set survive from global.
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestEnvVarOverridesFile(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)

	os.Setenv("TETHER_LISTEN_ADDR", ":5555")
	defer os.Unsetenv("TETHER_LISTEN_ADDR")

	fileCfg := `{"listenAddr": ":3333"}`
	configPath := filepath.Join(tmpDir, ".tether", "tether.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(configPath), 0755))
	require.NoError(t, os.WriteFile(configPath, []byte(fileCfg), 0644))

	cfg, err := Load(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, ":5555", cfg.ListenAddr)
}

func TestEnvRelayURLEnablesRelay(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)

	os.Setenv("TETHER_RELAY_URL", "wss://relay.example.com")
	defer os.Unsetenv("TETHER_RELAY_URL")

	cfg, err := Load(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, "wss://relay.example.com", cfg.RelayURL)
	assert.True(t, cfg.RelayEnabled)
}

func TestInvalidPermissionModeEnvIsIgnored(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)

	os.Setenv("TETHER_PERMISSION_MODE", "not-a-real-mode")
	defer os.Unsetenv("TETHER_PERMISSION_MODE")

	cfg, err := Load(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, model.ModeDefault, cfg.DefaultPermissionMode)
}

func TestLoadProjectConfigAutoApproveEditGlobs(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)

	projectCfg := `{"autoApproveEditGlobs": ["docs/**", "*.md"]}`
	configPath := filepath.Join(tmpDir, ".tether", "tether.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(configPath), 0755))
	require.NoError(t, os.WriteFile(configPath, []byte(projectCfg), 0644))

	cfg, err := Load(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, []string{"docs/**", "*.md"}, cfg.AutoApproveEditGlobs)
}

func TestLoadProjectConfigBashPatterns(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)

	projectCfg := `{"bashPatterns": {"git commit *": "allow", "rm *": "deny"}}`
	configPath := filepath.Join(tmpDir, ".tether", "tether.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(configPath), 0755))
	require.NoError(t, os.WriteFile(configPath, []byte(projectCfg), 0644))

	cfg, err := Load(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, permission.ActionAllow, cfg.BashPatterns["git commit *"])
	assert.Equal(t, permission.ActionDeny, cfg.BashPatterns["rm *"])
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := &Config{
		ListenAddr:            ":8080",
		DefaultPermissionMode: model.ModePlan,
		AgentCommands: map[model.AgentFamily]AgentCommand{
			model.FamilyCodex: {Command: "codex"},
		},
		LogLevel: "warn",
	}

	path := filepath.Join(tmpDir, "saved.json")
	require.NoError(t, Save(cfg, path))

	isolateHome(t, tmpDir)
	loaded, err := loadFileOnly(t, path)
	require.NoError(t, err)

	assert.Equal(t, cfg.ListenAddr, loaded.ListenAddr)
	assert.Equal(t, cfg.DefaultPermissionMode, loaded.DefaultPermissionMode)
	assert.Equal(t, "codex", loaded.AgentCommands[model.FamilyCodex].Command)
}

func loadFileOnly(t *testing.T, path string) (*Config, error) {
	t.Helper()
	cfg := defaultConfig()
	err := loadConfigFile(path, cfg)
	return cfg, err
}
