package main

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func requireConfigError(t *testing.T, err error, contains string) {
	t.Helper()
	require.Error(t, err)
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr), "expected ConfigError, got %T", err)
	assert.Contains(t, cfgErr.Error(), contains)
}

func TestLoadConfig_CreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "config.json")

	cfg, err := LoadConfig(path, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, 1799, cfg.Listener.Port)
	assert.True(t, cfg.StoreTypes().Contains("msg"))

	// Vytvořený soubor jde znovu načíst
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var roundTrip Config
	require.NoError(t, json.Unmarshal(data, &roundTrip))
	assert.Equal(t, 5*time.Second, roundTrip.Listener.ShutdownGrace.Duration)
	assert.Contains(t, roundTrip.Forwarding.Telegram.Templates, DefaultTemplate)
}

func TestLoadConfig_MergesWithDefaults(t *testing.T) {
	path := writeConfig(t, `{
		// komentáře jsou povolené
		"listener": {"port": 17990, "store_types": ["msg", "pos"],},
		"forwarding": {
			"rules": [{"type": "msg", "dst": "*"}],
			"telegram": {"templates": {"status": "{type}"}}
		}
	}`)

	cfg, err := LoadConfig(path, discardLogger())
	require.NoError(t, err)

	assert.Equal(t, 17990, cfg.Listener.Port)
	assert.Equal(t, "0.0.0.0", cfg.Listener.Host, "unset keys keep defaults")
	assert.Equal(t, 2048, cfg.Listener.BufferSize)
	assert.True(t, cfg.StoreTypes().Contains("pos"))

	templates := cfg.Forwarding.Telegram.Templates
	assert.Contains(t, templates, "status")
	assert.Contains(t, templates, DefaultTemplate)
	assert.Contains(t, templates, "msg")

	require.Len(t, cfg.Rules(), 1)
	assert.Equal(t, ForwardRule{"type": "msg", "dst": "*"}, cfg.Rules()[0])
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("TELEGRAM_CHAT_ID", "-10042")
	t.Setenv("POSTGRES_URL", "postgres://u:p@db:5432/x")
	t.Setenv("VALKEY_ADDR", "")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("HTTP_PORT", "9090")

	path := writeConfig(t, `{"forwarding": {"enabled": true}}`)
	cfg, err := LoadConfig(path, discardLogger())
	require.NoError(t, err)

	assert.Equal(t, "123:abc", cfg.Forwarding.Telegram.BotToken)
	assert.Equal(t, "-10042", cfg.Forwarding.Telegram.ChatID)
	assert.Equal(t, "postgres://u:p@db:5432/x", cfg.Database.PostgresURL)
	assert.Equal(t, "", cfg.Cache.ValkeyAddr)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "9090", cfg.HTTP.Port)
}

func TestLoadConfig_Errors(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("TELEGRAM_CHAT_ID", "")
	t.Setenv("LOG_LEVEL", "info")

	tests := []struct {
		name     string
		content  string
		contains string
		logLevel string // hodnota LOG_LEVEL, "-" = proměnná není nastavená
	}{
		{"invalid json", `{"listener": `, "parse", ""},
		{"bad duration", `{"listener": {"shutdown_grace": "soon"}}`, "parse", ""},
		{"unknown rule key", `{"forwarding": {"rules": [{"channel": "1"}]}}`, `unknown key "channel"`, ""},
		{"non-string rule value", `{"forwarding": {"rules": [{"dst": 232}]}}`, "must be a string", ""},
		{"rule not an object", `{"forwarding": {"rules": ["msg"]}}`, "parse", ""},
		{"missing token", `{"forwarding": {"enabled": true}}`, "bot_token", ""},
		{"bad port", `{"listener": {"port": 70000}}`, "listener.port", ""},
		{"bad buffer", `{"listener": {"buffer_size": 0}}`, "buffer_size", ""},
		{"bad table", `{"database": {"table_name": "messages; DROP TABLE x"}}`, "table_name", ""},
		{"bad level", `{"logging": {"level": "loud"}}`, "logging.level", "-"},
		{"bad level from env", `{}`, "logging.level", "loud"},
		{"other provider", `{"forwarding": {"provider": "discord"}}`, "not supported", ""},
		{"templates removed", `{"forwarding": {"telegram": {"templates": null}}}`, `"default" template`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			switch tt.logLevel {
			case "":
			case "-":
				t.Setenv("LOG_LEVEL", "")
				require.NoError(t, os.Unsetenv("LOG_LEVEL"))
			default:
				t.Setenv("LOG_LEVEL", tt.logLevel)
			}
			_, err := LoadConfig(writeConfig(t, tt.content), discardLogger())
			requireConfigError(t, err, tt.contains)
		})
	}
}

func TestLoadConfig_UnwritableDefaultIsNotFatal(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))

	// Rodičovský "adresář" je soubor, zápis musí selhat
	cfg, err := LoadConfig(filepath.Join(blocker, "config.json"), discardLogger())
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Listener.Port, cfg.Listener.Port)
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Listener.Port = 0
	cfg.Forwarding.Workers = 0
	delete(cfg.Forwarding.Telegram.Templates, DefaultTemplate)

	err := cfg.Validate()
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Len(t, cfgErr.Problems, 3)
}

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	// Každé volání vrací vlastní mapu šablon
	other := DefaultConfig()
	other.Forwarding.Telegram.Templates["x"] = "y"
	assert.NotContains(t, cfg.Forwarding.Telegram.Templates, "x")
}

func TestDuration_JSON(t *testing.T) {
	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`"1m30s"`), &d))
	assert.Equal(t, 90*time.Second, d.Duration)

	assert.Error(t, json.Unmarshal([]byte(`5`), &d))

	b, err := json.Marshal(Duration{2 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, `"2s"`, string(b))
}
