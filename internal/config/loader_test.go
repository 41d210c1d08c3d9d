package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoader(t *testing.T) {
	loader := NewLoader("/path/to/config.json")
	assert.NotNil(t, loader)
	assert.Equal(t, "/path/to/config.json", loader.GetConfigPath())
}

func TestLoaderLoad(t *testing.T) {
	t.Run("should return defaults when file doesn't exist", func(t *testing.T) {
		tmpDir := t.TempDir()

		cfg, err := NewLoader(filepath.Join(tmpDir, "missing.json")).WithEnvFile("").Load(tmpDir)

		require.NoError(t, err)
		assert.Equal(t, "file", cfg.Storage.Driver)
		assert.Equal(t, tmpDir, cfg.Cwd)
		assert.NotEmpty(t, cfg.DataDir)
		assert.Equal(t, filepath.Join(cfg.DataDir, "tandem.log"), cfg.Logging.File)
	})

	t.Run("should load values from file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.json")
		testConfig := `{
			"model": {"provider": "anthropic", "name": "claude-sonnet-4", "temperature": 0.2},
			"approval": "auto",
			"max_turns": 7,
			"data_dir": "` + tmpDir + `",
			"storage": {"driver": "sqlite"},
			"mcp_servers": {"fs": {"command": "mcp-fs", "args": ["--root", "."], "enabled": true}}
		}`
		require.NoError(t, os.WriteFile(configPath, []byte(testConfig), 0644))

		cfg, err := NewLoader(configPath).WithEnvFile("").Load(tmpDir)

		require.NoError(t, err)
		assert.Equal(t, "anthropic", cfg.Model.Provider)
		assert.Equal(t, 0.2, cfg.Model.Temperature)
		assert.Equal(t, ApprovalAuto, cfg.Approval)
		assert.Equal(t, 7, cfg.MaxTurns)
		assert.Equal(t, filepath.Join(tmpDir, "tandem.db"), cfg.Storage.Path)
		require.Contains(t, cfg.MCPServers, "fs")
		assert.Equal(t, []string{"--root", "."}, cfg.MCPServers["fs"].Args)
	})

	t.Run("should read well-known env vars", func(t *testing.T) {
		tmpDir := t.TempDir()
		t.Setenv("TELEGRAM_BOT_TOKEN", "123456789:ABCdefGHIjklMNOpqrsTUVwxyz")
		t.Setenv("TELEGRAM_AUTHORIZED_CHAT_ID", "42")
		t.Setenv("TANDEM_GROQ_API_KEY", "gsk-test")

		cfg, err := NewLoader(filepath.Join(tmpDir, "missing.json")).WithEnvFile("").Load(tmpDir)

		require.NoError(t, err)
		assert.Equal(t, "42", cfg.Telegram.AuthorizedChatID)
		assert.True(t, cfg.Telegram.Enabled())
		assert.Equal(t, "gsk-test", cfg.GroqAPIKey)
	})

	t.Run("should load dotenv file", func(t *testing.T) {
		tmpDir := t.TempDir()
		envFile := filepath.Join(tmpDir, ".env")
		require.NoError(t, os.WriteFile(envFile, []byte("TANDEM_MAX_TURNS=3\n"), 0644))
		t.Cleanup(func() { os.Unsetenv("TANDEM_MAX_TURNS") })

		cfg, err := NewLoader(filepath.Join(tmpDir, "missing.json")).WithEnvFile(envFile).Load(tmpDir)

		require.NoError(t, err)
		assert.Equal(t, 3, cfg.MaxTurns)
	})

	t.Run("should fail on malformed file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.json")
		require.NoError(t, os.WriteFile(configPath, []byte("{not json"), 0644))

		_, err := NewLoader(configPath).WithEnvFile("").Load(tmpDir)
		assert.Error(t, err)
	})
}

func TestLoaderWatchRequiresLoad(t *testing.T) {
	err := NewLoader("").Watch("", func(*Config) {})
	assert.Error(t, err)
}
