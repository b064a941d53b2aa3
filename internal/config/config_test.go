package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "nonexistent.toml"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "memoryvault-telegram", cfg.App.Name)
	assert.Equal(t, "0.0.0.0:8000", cfg.HTTPAddr())
	assert.Equal(t, 6, cfg.Auth.CodeLength)
	assert.Equal(t, 10, cfg.Auth.CodeExpireMinute)
	assert.Equal(t, "https://api.telegram.org", cfg.Telegram.APIBaseURL)
	assert.Equal(t, "memory.embedding.backfill", cfg.RabbitMQ.BackfillQueue)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[app]
port = 9001

[auth]
code_length = 8

[telegram]
bot_token = "file-token"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9001, cfg.App.Port)
	assert.Equal(t, 8, cfg.Auth.CodeLength)
	assert.Equal(t, "file-token", cfg.Telegram.BotToken)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[telegram]\nbot_token = \"file-token\"\n"), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("TELEGRAM_BOT_TOKEN", "env-token")
	t.Setenv("APP_PORT", "9100")
	t.Setenv("AUTH_CODE_EXPIRE_MINUTE", "5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "env-token", cfg.Telegram.BotToken)
	assert.Equal(t, 9100, cfg.App.Port)
	assert.Equal(t, 5, cfg.Auth.CodeExpireMinute)
}

func TestEnvIntFallbackOnGarbage(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "nonexistent.toml"))
	t.Setenv("APP_PORT", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8000, cfg.App.Port)
}

func TestMySQLDSN(t *testing.T) {
	cfg := defaultConfig()
	cfg.MySQL.User = "vault"
	cfg.MySQL.Password = "pw"
	cfg.MySQL.Host = "db.internal"
	cfg.MySQL.Port = 3307
	cfg.MySQL.DB = "memories"
	cfg.MySQL.Params = "parseTime=true"

	assert.Equal(t, "vault:pw@tcp(db.internal:3307)/memories?parseTime=true", cfg.MySQLDSN())
}
