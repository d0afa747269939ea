package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
env: production
log:
  log_level: warn
credentials_dir: /var/lib/rsa/creds
brokers:
  tradier:
    credentials: "abc123"
    sandbox: true
discord:
  token: bot-token
  channel_id: "12345"
`)
	t.Cleanup(func() { Env = nil })

	if err := LoadConfig(path); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if Env.Env != "production" {
		t.Errorf("env = %q", Env.Env)
	}
	if Env.Log.LogLevel != "warn" {
		t.Errorf("log level = %q", Env.Log.LogLevel)
	}
	if Env.CredentialsDir != "/var/lib/rsa/creds" {
		t.Errorf("credentials dir = %q", Env.CredentialsDir)
	}
	if !Env.Brokers["tradier"].Sandbox {
		t.Error("tradier sandbox flag not parsed")
	}
	if Env.Discord.Token != "bot-token" || Env.Discord.ChannelID != "12345" {
		t.Errorf("discord = %+v", Env.Discord)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Cleanup(func() { Env = nil })

	// No config file anywhere: defaults still apply.
	t.Chdir(t.TempDir())

	if err := LoadConfig(""); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if Env.Env != "development" {
		t.Errorf("env = %q, want development", Env.Env)
	}
	if Env.GracefulShutdownTimeout != 10*time.Second {
		t.Errorf("graceful shutdown timeout = %s", Env.GracefulShutdownTimeout)
	}
	if Env.CredentialsDir != "./creds" {
		t.Errorf("credentials dir = %q", Env.CredentialsDir)
	}
	if Env.Discord.Prefix != "!" {
		t.Errorf("discord prefix = %q", Env.Discord.Prefix)
	}
	if Env.Discord.OTPWait != 300*time.Second {
		t.Errorf("otp wait = %s", Env.Discord.OTPWait)
	}
}

func TestLoadConfigMissingExplicitPath(t *testing.T) {
	t.Cleanup(func() { Env = nil })

	if err := LoadConfig("/does/not/exist/config.yml"); err == nil {
		t.Error("explicit missing config path should fail")
	}
}

func TestBrokerCredentialsEnvWins(t *testing.T) {
	Env = &EnvConfig{Brokers: map[string]BrokerConfig{
		"tradier": {Credentials: "from-config"},
	}}
	t.Cleanup(func() { Env = nil })

	t.Setenv("TRADIER", "from-env")
	if got := BrokerCredentials("tradier"); got != "from-env" {
		t.Errorf("credentials = %q, want env value", got)
	}

	t.Setenv("TRADIER", "")
	if got := BrokerCredentials("tradier"); got != "from-config" {
		t.Errorf("credentials = %q, want config value", got)
	}
}
