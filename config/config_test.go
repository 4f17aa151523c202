package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/devcubo3/trabalho-mae/config"
)

func TestDefaults(t *testing.T) {
	t.Setenv("PORT", "")

	cfg, err := config.LoadJSON(`{}`)
	require.NoError(t, err)

	require.Equal(t, 5000, cfg.Server.Port)
	require.Equal(t, 8, cfg.Server.MaxInFlight())
	require.Equal(t, 300*time.Second, cfg.Server.RequestTimeout)
	require.Equal(t, "uploads", cfg.Storage.UploadDir)
	require.Equal(t, "resultados", cfg.Storage.ResultDir)
	require.Equal(t, config.BackendFS, cfg.Storage.Backend)
	require.Equal(t, "BRADESCO", cfg.Account.Bank)
	require.Equal(t, "3050", cfg.Account.Branch)
	require.Equal(t, "7223-0", cfg.Account.Number)
	require.NotNil(t, cfg.Options)
	require.Contains(t, cfg.Options.DefaultUserAgent, config.DefaultUserAgent)
}

func TestPortFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "8123")

	cfg, err := config.LoadJSON(`{}`)
	require.NoError(t, err)
	require.Equal(t, 8123, cfg.Server.Port)
}

func TestPrefixedEnvironment(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("EXTRATOR_PIPELINE_WORKERS", "5")
	t.Setenv("EXTRATOR_SERVER_REQUEST_TIMEOUT", "45s")
	t.Setenv("EXTRATOR_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, err := config.LoadJSON(`{}`)
	require.NoError(t, err)
	require.Equal(t, "sk-test", cfg.OpenAI.APIKey)
	require.Equal(t, 5, cfg.Pipeline.Workers)
	require.Equal(t, 45*time.Second, cfg.Server.RequestTimeout)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"secret_key": "hello",
		"server": {"workers": 3, "threads": 2},
		"storage": {"backend": "sqlite", "db_path": "x.db"},
		"options": {"enable_stats": true}
	}`), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "hello", cfg.SecretKey)
	require.Equal(t, 6, cfg.Server.MaxInFlight())
	require.Equal(t, config.BackendSQLite, cfg.Storage.Backend)
	require.True(t, cfg.Options.EnableStats)
}

func TestValidate(t *testing.T) {
	t.Setenv("PORT", "")

	for _, row := range []struct {
		description string
		content     string
	}{
		{description: "zero workers", content: `{"server": {"workers": 0}}`},
		{description: "negative timeout", content: `{"server": {"request_timeout": "-1s"}}`},
		{description: "unknown backend", content: `{"storage": {"backend": "ftp"}}`},
		{description: "s3 without bucket", content: `{"storage": {"backend": "s3"}}`},
		{description: "port out of range", content: `{"server": {"port": 70000}}`},
	} {
		t.Run(row.description, func(t *testing.T) {
			_, err := config.LoadJSON(row.content)
			require.Error(t, err)
		})
	}
}

// withDotEnv runs the test from a directory holding .env.local. Every key is registered with
// t.Setenv first so whatever godotenv sets is restored afterwards.
func withDotEnv(t *testing.T, content string, keys ...string) {
	t.Helper()
	dir := t.TempDir()
	if content != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, config.DotEnvFile), []byte(content), 0o600))
	}
	for _, key := range keys {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
	t.Chdir(dir)
}

func TestLoadDotEnv_ParsesKeyValue(t *testing.T) {
	withDotEnv(t, "# local overrides\nOPENAI_API_KEY=sk-from-file\nEXTRATOR_PIPELINE_WORKERS=7\n",
		"OPENAI_API_KEY", "EXTRATOR_PIPELINE_WORKERS")

	cfg, err := config.Load("")
	require.NoError(t, err)
	require.Equal(t, "sk-from-file", cfg.OpenAI.APIKey)
	require.Equal(t, 7, cfg.Pipeline.Workers)
}

func TestLoadDotEnv_EnvVarPrecedence(t *testing.T) {
	withDotEnv(t, "OPENAI_API_KEY=sk-from-file\nPORT=6000\n", "PORT")
	t.Setenv("OPENAI_API_KEY", "sk-from-env")

	cfg, err := config.Load("")
	require.NoError(t, err)
	require.Equal(t, "sk-from-env", cfg.OpenAI.APIKey)
	require.Equal(t, 6000, cfg.Server.Port)
}

func TestLoadDotEnv_FileNotFound(t *testing.T) {
	withDotEnv(t, "", "PORT")

	cfg, err := config.Load("")
	require.NoError(t, err)
	require.Equal(t, 5000, cfg.Server.Port)
}
