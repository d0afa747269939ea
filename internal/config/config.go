package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	ServiceName    = "override-rsa"
	ServiceVersion = ""
)

var (
	Env *EnvConfig
)

type EnvConfig struct {
	Env                     string                    `mapstructure:"env"`
	Log                     LogConfig                 `mapstructure:"log"`
	GracefulShutdownTimeout time.Duration             `mapstructure:"graceful_shutdown_timeout"`
	CredentialsDir          string                    `mapstructure:"credentials_dir"`
	Brokers                 map[string]BrokerConfig   `mapstructure:"brokers"`
	Database                map[string]DatabaseConfig `mapstructure:"database"`
	Redis                   map[string]RedisConfig    `mapstructure:"redis"`
	NatsJetstream           NatsJetstreamConfig       `mapstructure:"nats_jetstream"`
	Discord                 DiscordConfig             `mapstructure:"discord"`
	HealthPort              string                    `mapstructure:"health_port"`
}

type LogConfig struct {
	ShowCaller bool   `mapstructure:"show_caller"`
	LogLevel   string `mapstructure:"log_level"`
}

type BrokerConfig struct {
	// Credentials is one or more colon-delimited login tuples, comma
	// separated for multiple identities of the same brokerage. The
	// uppercased broker environment variable (e.g. ROBINHOOD) wins over
	// the config file.
	Credentials    string `mapstructure:"credentials"`
	BaseURL        string `mapstructure:"base_url"`
	Sandbox        bool   `mapstructure:"sandbox"`
	AccountNumbers string `mapstructure:"account_numbers"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	ReconnectFactor float64       `mapstructure:"reconnect_factor"`
	MinJitter       time.Duration `mapstructure:"min_jitter"`
	MaxJitter       time.Duration `mapstructure:"max_jitter"`
	MaxRetry        int           `mapstructure:"max_retry"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxActiveConns  int           `mapstructure:"max_active_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type RedisConfig struct {
	CacheDSN string `mapstructure:"cache_dsn"`
}

type NatsJetstreamConfig struct {
	URL             string        `mapstructure:"url"`
	MaxRetries      int           `mapstructure:"max_retries"`
	ReconnectFactor float64       `mapstructure:"reconnect_factor"`
	MinJitter       time.Duration `mapstructure:"min_jitter"`
	MaxJitter       time.Duration `mapstructure:"max_jitter"`
}

type DiscordConfig struct {
	Token     string        `mapstructure:"token"`
	ChannelID string        `mapstructure:"channel_id"`
	Prefix    string        `mapstructure:"prefix"`
	OTPWait   time.Duration `mapstructure:"otp_wait"`
}

func LoadConfig(configPath string) error {
	viper.Reset()

	configPath = strings.TrimSpace(configPath)
	if configPath == "" {
		viper.SetConfigName("config")
		viper.SetConfigType("yml")
		viper.AddConfigPath(".")
	} else {
		ext := strings.ToLower(filepath.Ext(configPath))
		if ext == ".yml" || ext == ".yaml" {
			viper.SetConfigFile(configPath)
		} else {
			viper.SetConfigName(filepath.Base(configPath))
			viper.SetConfigType("yml")
			configDir := filepath.Dir(configPath)
			if configDir == "." || configDir == "" {
				viper.AddConfigPath(".")
			} else {
				viper.AddConfigPath(configDir)
			}
		}
	}

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	err := viper.ReadInConfig()
	if err != nil {
		// The tool is usable from env vars alone, a missing config
		// file only fails the run when a path was given explicitly.
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound || configPath != "" {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	err = viper.Unmarshal(&Env)
	if err != nil {
		return fmt.Errorf("failed to unmarshal config file: %w", err)
	}
	if Env == nil {
		Env = &EnvConfig{}
	}

	applyDefaults(Env)

	return nil
}

func applyDefaults(cfg *EnvConfig) {
	if cfg.Env == "" {
		cfg.Env = "development"
	}
	if cfg.Log.LogLevel == "" {
		cfg.Log.LogLevel = "info"
	}
	if cfg.GracefulShutdownTimeout <= 0 {
		cfg.GracefulShutdownTimeout = 10 * time.Second
	}
	if cfg.CredentialsDir == "" {
		cfg.CredentialsDir = "./creds"
	}
	if cfg.Discord.Prefix == "" {
		cfg.Discord.Prefix = "!"
	}
	if cfg.Discord.OTPWait <= 0 {
		cfg.Discord.OTPWait = 300 * time.Second
	}
	if cfg.Discord.Token == "" {
		cfg.Discord.Token = strings.TrimSpace(os.Getenv("DISCORD_TOKEN"))
	}
	if cfg.Discord.ChannelID == "" {
		cfg.Discord.ChannelID = strings.TrimSpace(os.Getenv("DISCORD_CHANNEL"))
	}
}

// BrokerCredentials resolves the raw credential string for a broker. The
// uppercased environment variable matching the broker name takes precedence
// over the brokers section of the config file.
func BrokerCredentials(name string) string {
	if raw := strings.TrimSpace(os.Getenv(strings.ToUpper(name))); raw != "" {
		return raw
	}
	if Env == nil {
		return ""
	}
	return strings.TrimSpace(Env.Brokers[strings.ToLower(name)].Credentials)
}

// Broker returns the per-broker config section, zero-valued when absent.
func Broker(name string) BrokerConfig {
	if Env == nil {
		return BrokerConfig{}
	}
	return Env.Brokers[strings.ToLower(name)]
}
