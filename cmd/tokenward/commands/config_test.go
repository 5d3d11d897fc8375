package commands

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tokenward.toml")
	if err := os.WriteFile(path, []byte(contents), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

const baseConfig = `
log_format = "json"

[broker]
authorize_url = "https://us.broker.example/authorize"

[storage]
type = "file"
dir = "/tmp/tokenward-test-secrets"

[environments.sandbox]
consumer_key = "CKEY"
consumer_secret = "CSECRET"
base_url = "https://apisb.broker.example"
`

func TestLoadConfigFromFile(t *testing.T) {
	path := writeConfigFile(t, baseConfig)

	cfg, err := loadConfig(path, nil, func() []string { return nil })
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %s", cfg.LogFormat)
	}
	if cfg.Environments["sandbox"].ConsumerKey != "CKEY" {
		t.Errorf("sandbox consumer key = %q", cfg.Environments["sandbox"].ConsumerKey)
	}
	// Defaults fill what the file doesn't set.
	if cfg.Broker.Timezone != "America/New_York" {
		t.Errorf("Timezone = %s", cfg.Broker.Timezone)
	}
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, baseConfig)

	environ := func() []string {
		return []string{
			"TOKENWARD_SERVER__PORT=9999",
			"TOKENWARD_ENVIRONMENTS__SANDBOX__CONSUMER_KEY=ENVKEY",
			// Secret-store variables must not pollute the config tree.
			"TOKENWARD_SECRET_SANDBOX_OAUTH=raw-secret-blob",
		}
	}

	cfg, err := loadConfig(path, nil, environ)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want env override", cfg.Server.Port)
	}
	if cfg.Environments["sandbox"].ConsumerKey != "ENVKEY" {
		t.Errorf("consumer key = %q, want env override", cfg.Environments["sandbox"].ConsumerKey)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	path := writeConfigFile(t, `
[storage]
type = "env"

[broker]
authorize_url = "https://us.broker.example/authorize"

[environments.sandbox]
consumer_key = "CKEY"
consumer_secret = "CSECRET"
base_url = "https://apisb.broker.example"
`)

	if _, err := loadConfig(path, nil, func() []string { return nil }); err == nil {
		t.Fatal("loadConfig accepted read-only storage for a writing lifecycle")
	}
}
