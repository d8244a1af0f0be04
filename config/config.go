package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Log      LogConfig       `yaml:"log"`
	Archive  ArchiveConfig   `yaml:"archive"`
	Transfer TransferConfig  `yaml:"transfer"`
	Pipeline PipelineConfig  `yaml:"pipeline"`
	Auth     AuthConfig      `yaml:"auth"`
	Users    []User          `yaml:"users"`
	Carriers []CarrierConfig `yaml:"carriers"`
}

// PipelineConfig bounds the in-memory document store.
type PipelineConfig struct {
	MaxDocuments int `yaml:"max_documents"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type ArchiveConfig struct {
	Endpoint   string `yaml:"endpoint"`
	AccessKey  string `yaml:"access_key"`
	SecretKey  string `yaml:"secret_key"`
	Bucket     string `yaml:"bucket"`
	UseSSL     bool   `yaml:"use_ssl"`
	ExpireDays int    `yaml:"expire_days"`
}

// TransferConfig tunes the BiPRO transfer layer: network timeouts, the retry
// policy for transient failures and the adaptive concurrency window.
type TransferConfig struct {
	TimeoutSeconds       int `yaml:"timeout_seconds"`
	MaxWorkers           int `yaml:"max_workers"`
	ConcurrencyFloor     int `yaml:"concurrency_floor"`
	ConcurrencyCeiling   int `yaml:"concurrency_ceiling"`
	RetryMaxAttempts     int `yaml:"retry_max_attempts"`
	RetryBaseDelayMillis int `yaml:"retry_base_delay_ms"`
	CooldownSeconds      int `yaml:"cooldown_seconds"`
}

type AuthConfig struct {
	JWTSecret        string `yaml:"jwt_secret"`
	TokenExpireHours int    `yaml:"token_expire_hours"`
}

// Operator roles. Operators drive syncs and inspect documents; admins can
// additionally force document state transitions.
const (
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

type User struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Role     string `yaml:"role"`
}

// TokenExpiryPolicy values control what happens when a carrier's STS response
// does not declare a token validity window.
const (
	// TokenExpiryAssumeDefault treats an undeclared validity window as 10 minutes.
	TokenExpiryAssumeDefault = "assume_default"
	// TokenExpiryIndefinite trusts the token until the carrier rejects it.
	TokenExpiryIndefinite = "indefinite"
)

// CarrierConfig holds the endpoints, credentials and capability flags for one
// carrier (VU) connection. Immutable after Load.
type CarrierConfig struct {
	Name        string `yaml:"name"`
	Endpoint    string `yaml:"endpoint"`
	STSEndpoint string `yaml:"sts_endpoint"`

	Username string `yaml:"username"`
	Password string `yaml:"password"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`

	// ConsumerID is sent as a BiPRO header when the carrier requires it.
	ConsumerID string `yaml:"consumer_id"`
	// SupportsAck reports whether the carrier implements acknowledgeShipment.
	SupportsAck bool `yaml:"supports_ack"`
	// TokenExpiryPolicy applies when the STS omits the validity window.
	TokenExpiryPolicy string `yaml:"token_expiry_policy"`
	// Categories restricts listShipments to these category codes when set.
	Categories []string `yaml:"categories"`
}

// UsesCertificate reports whether the carrier authenticates with a client
// certificate instead of username/password.
func (c *CarrierConfig) UsesCertificate() bool {
	return c.CertFile != "" && c.KeyFile != ""
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Archive.ExpireDays == 0 {
		cfg.Archive.ExpireDays = 7
	}
	if cfg.Auth.TokenExpireHours == 0 {
		cfg.Auth.TokenExpireHours = 24
	}
	if cfg.Transfer.TimeoutSeconds == 0 {
		cfg.Transfer.TimeoutSeconds = 30
	}
	if cfg.Transfer.MaxWorkers == 0 {
		cfg.Transfer.MaxWorkers = 4
	}
	if cfg.Transfer.ConcurrencyFloor == 0 {
		cfg.Transfer.ConcurrencyFloor = 1
	}
	if cfg.Transfer.ConcurrencyCeiling == 0 {
		cfg.Transfer.ConcurrencyCeiling = 8
	}
	if cfg.Transfer.RetryMaxAttempts == 0 {
		cfg.Transfer.RetryMaxAttempts = 4
	}
	if cfg.Transfer.RetryBaseDelayMillis == 0 {
		cfg.Transfer.RetryBaseDelayMillis = 500
	}
	if cfg.Transfer.CooldownSeconds == 0 {
		cfg.Transfer.CooldownSeconds = 30
	}
	if cfg.Pipeline.MaxDocuments == 0 {
		cfg.Pipeline.MaxDocuments = 1000
	}

	for i := range cfg.Users {
		switch cfg.Users[i].Role {
		case "":
			cfg.Users[i].Role = RoleOperator
		case RoleOperator, RoleAdmin:
		default:
			return nil, fmt.Errorf("user %q: unknown role %q", cfg.Users[i].Username, cfg.Users[i].Role)
		}
	}

	for i := range cfg.Carriers {
		if err := cfg.Carriers[i].validate(); err != nil {
			return nil, fmt.Errorf("carrier %q: %w", cfg.Carriers[i].Name, err)
		}
	}

	return &cfg, nil
}

func (c *CarrierConfig) validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	if c.STSEndpoint == "" {
		return fmt.Errorf("sts_endpoint is required")
	}
	hasPassword := c.Username != "" && c.Password != ""
	if !hasPassword && !c.UsesCertificate() {
		return fmt.Errorf("either username/password or cert_file/key_file is required")
	}
	switch c.TokenExpiryPolicy {
	case "":
		c.TokenExpiryPolicy = TokenExpiryAssumeDefault
	case TokenExpiryAssumeDefault, TokenExpiryIndefinite:
	default:
		return fmt.Errorf("unknown token_expiry_policy %q", c.TokenExpiryPolicy)
	}
	return nil
}

// FindUser finds a user by username
func (c *Config) FindUser(username string) *User {
	for i := range c.Users {
		if c.Users[i].Username == username {
			return &c.Users[i]
		}
	}
	return nil
}

// FindCarrier finds a carrier configuration by name
func (c *Config) FindCarrier(name string) *CarrierConfig {
	for i := range c.Carriers {
		if c.Carriers[i].Name == name {
			return &c.Carriers[i]
		}
	}
	return nil
}
