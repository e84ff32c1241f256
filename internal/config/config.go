package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. SIGNER_SERVER_PORT.
const EnvPrefix = "SIGNER"

// Connector types.
const (
	ConnectorLocal  = "local"
	ConnectorVault  = "vault"
	ConnectorAWSKMS = "awskms"
)

// Config holds the application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Signer    SignerConfig    `mapstructure:"signer"`
	Connector ConnectorConfig `mapstructure:"connector"`
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// ServerConfig holds the server configuration.
type ServerConfig struct {
	Port           string        `mapstructure:"port"`
	Address        string        `mapstructure:"address"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// UpstreamRPCURL receives JSON-RPC methods other than eth_signTransaction.
	UpstreamRPCURL string `mapstructure:"upstream_rpc_url"`
	// RateLimit is the sustained requests per second; zero disables limiting.
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
}

// ListenAddr returns host:port.
func (s ServerConfig) ListenAddr() string {
	return s.Address + ":" + s.Port
}

// AuthConfig holds the HMAC credentials. An empty APIKey disables auth.
type AuthConfig struct {
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
}

// SignerConfig holds signing pipeline settings.
type SignerConfig struct {
	SignTimeout time.Duration `mapstructure:"sign_timeout"`
	// Preload loads every key the connector can list at startup.
	Preload bool `mapstructure:"preload"`
}

// ConnectorConfig selects and configures the key backend.
type ConnectorConfig struct {
	Type   string       `mapstructure:"type"`
	Local  LocalConfig  `mapstructure:"local"`
	Vault  VaultConfig  `mapstructure:"vault"`
	AWSKMS AWSKMSConfig `mapstructure:"awskms"`
}

// LocalConfig holds the configuration for the keystore backend.
type LocalConfig struct {
	KeyDir   string `mapstructure:"key_dir"`
	Password string `mapstructure:"password"`
	Mock     bool   `mapstructure:"mock"`
	// LightKDF encrypts new keystore files with cheap scrypt parameters.
	LightKDF bool `mapstructure:"light_kdf"`
}

// VaultConfig holds the Vault configuration.
type VaultConfig struct {
	Address     string `mapstructure:"address"`
	Token       string `mapstructure:"token"`
	TransitPath string `mapstructure:"transit_path"`
}

// AWSKMSConfig holds the AWS KMS configuration.
type AWSKMSConfig struct {
	Region   string `mapstructure:"region"`
	Profile  string `mapstructure:"profile"`
	Endpoint string `mapstructure:"endpoint"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// New returns a viper instance with defaults and environment binding set.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.port", "3000")
	v.SetDefault("server.address", "0.0.0.0")
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.upstream_rpc_url", "")
	v.SetDefault("server.rate_limit", 0)
	v.SetDefault("server.rate_burst", 10)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("auth.api_secret", "")
	v.SetDefault("signer.sign_timeout", 20*time.Second)
	v.SetDefault("signer.preload", false)
	v.SetDefault("connector.type", ConnectorLocal)
	v.SetDefault("connector.local.key_dir", "./keys")
	v.SetDefault("connector.local.password", "")
	v.SetDefault("connector.local.mock", false)
	v.SetDefault("connector.local.light_kdf", false)
	v.SetDefault("connector.vault.address", "http://127.0.0.1:8200")
	v.SetDefault("connector.vault.token", "")
	v.SetDefault("connector.vault.transit_path", "transit")
	v.SetDefault("connector.awskms.region", "")
	v.SetDefault("connector.awskms.profile", "")
	v.SetDefault("connector.awskms.endpoint", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	return v
}

// Load reads configuration into a Config. configFile may be empty, in which
// case config.yaml is looked up in the working directory and is optional.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "failed to read config file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the connector selection and required fields.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if c.Server.RateLimit < 0 {
		return errors.New("server.rate_limit must not be negative")
	}
	if (c.Auth.APIKey == "") != (c.Auth.APISecret == "") {
		return errors.New("auth.api_key and auth.api_secret must be set together")
	}
	switch c.Connector.Type {
	case ConnectorLocal:
		if c.Connector.Local.KeyDir == "" && !c.Connector.Local.Mock {
			return errors.New("connector.local.key_dir is required unless connector.local.mock is set")
		}
	case ConnectorVault:
		if c.Connector.Vault.Address == "" {
			return errors.New("connector.vault.address is required")
		}
		if c.Connector.Vault.TransitPath == "" {
			return errors.New("connector.vault.transit_path is required")
		}
	case ConnectorAWSKMS:
	default:
		return errors.Errorf("unknown connector type %q (want %s, %s or %s)",
			c.Connector.Type, ConnectorLocal, ConnectorVault, ConnectorAWSKMS)
	}
	return nil
}
