package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "phishguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("PORT", "")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	require.Len(t, cfg.Server.Listeners, 1)
	l := cfg.Server.Listeners[0]
	assert.Equal(t, StringOrSlice{"127.0.0.1"}, l.Address)
	assert.Equal(t, IntOrSlice{5001}, l.Port)
	assert.Equal(t, "http", l.Protocol)

	assert.Equal(t, 5*time.Second, cfg.Server.parsedTimeout)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "phishing_model.gob", cfg.Model.Path)
	assert.Equal(t, "feedback.csv", cfg.Feedback.Path)
	assert.False(t, cfg.Cache.Enabled)
	assert.False(t, cfg.RateLimit.Enabled)

	assert.Equal(t, 100, cfg.Training.Trees)
	assert.EqualValues(t, 42, cfg.Training.Seed)
	assert.Equal(t, 0.2, cfg.Training.TestSize)
}

func TestLoadConfig_File(t *testing.T) {
	t.Setenv("PORT", "")

	path := writeConfig(t, `
server:
  listeners:
    - address: ["0.0.0.0", "::"]
      port: 8080
    - address: 127.0.0.1
      port: [9001, 9002]
      protocol: HTTP
  timeout: 2s
  shutdown_timeout: bogus
  cors_origins: ["chrome-extension://abc"]
  allowed_networks: 10.0.0.0/8
logging:
  level: debug
model:
  path: /var/lib/phishguard/model.gob
cache:
  enabled: true
rate_limit:
  enabled: true
  client_qps: 5
  cleanup_interval: 30s
training:
  trees: 250
  max_depth: 12
  test_size: 0.25
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Len(t, cfg.Server.Listeners, 2)
	assert.Equal(t, StringOrSlice{"0.0.0.0", "::"}, cfg.Server.Listeners[0].Address)
	assert.Equal(t, IntOrSlice{8080}, cfg.Server.Listeners[0].Port)
	assert.Equal(t, IntOrSlice{9001, 9002}, cfg.Server.Listeners[1].Port)
	assert.Equal(t, "http", cfg.Server.Listeners[1].Protocol)

	assert.Equal(t, 2*time.Second, cfg.Server.parsedTimeout)
	assert.Equal(t, 10*time.Second, cfg.Server.parsedShutdownTimeout, "invalid duration falls back")
	assert.Equal(t, StringOrSlice{"10.0.0.0/8"}, cfg.Server.AllowedNetworks)
	assert.Equal(t, "/var/lib/phishguard/model.gob", cfg.Model.Path)

	assert.Equal(t, 65536, cfg.Cache.Size)
	assert.Equal(t, 5, cfg.RateLimit.ClientQPS)
	assert.Equal(t, 10, cfg.RateLimit.ClientBurst)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.parsedCleanupInterval)
	assert.Greater(t, cfg.RateLimit.HardMaxGoroutines, cfg.RateLimit.MaxGoroutines)

	assert.Equal(t, 250, cfg.Training.Trees)
	assert.Equal(t, 12, cfg.Training.MaxDepth)
	assert.Equal(t, 0.25, cfg.Training.TestSize)
}

func TestLoadConfig_PortOverride(t *testing.T) {
	t.Setenv("PORT", "8443")
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, IntOrSlice{8443}, cfg.Server.Listeners[0].Port)

	t.Setenv("PORT", "not-a-port")
	cfg, err = LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, IntOrSlice{defaultPort}, cfg.Server.Listeners[0].Port)
}

func TestLoadConfig_Errors(t *testing.T) {
	t.Setenv("PORT", "")

	tests := map[string]string{
		"https without tls": "server:\n  listeners:\n    - protocol: https\n",
		"unknown protocol":  "server:\n  listeners:\n    - protocol: gopher\n",
		"bad test size":     "training:\n  test_size: 1\n",
		"bad yaml":          "server: [\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, body))
			assert.Error(t, err)
		})
	}

	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("PHISHGUARD_CONFIG", "")
	t.Chdir(t.TempDir())

	assert.Equal(t, "flag.yaml", resolveConfigPath("flag.yaml"))
	assert.Equal(t, "", resolveConfigPath(""))

	require.NoError(t, os.WriteFile(defaultConfigFile, nil, 0644))
	assert.Equal(t, defaultConfigFile, resolveConfigPath(""))

	t.Setenv("PHISHGUARD_CONFIG", "/etc/phishguard.yaml")
	assert.Equal(t, "/etc/phishguard.yaml", resolveConfigPath(""))
}
