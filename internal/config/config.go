package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix             = "INKROOM"
	defaultHTTPAddress    = "0.0.0.0:8080"
	defaultDatabasePath   = "inkroom.db"
	defaultLogLevel       = "info"
	defaultTokenTTL       = 720
	defaultAllowedOrigins = "*"
	defaultOutboundBuffer = 256
	defaultCommandBuffer  = 1024
)

// AppConfig captures runtime configuration for the relay server.
type AppConfig struct {
	HTTPAddress         string
	DatabasePath        string
	LogLevel            string
	SigningSecret       string
	TokenTTL            time.Duration
	AllowedOrigins      []string
	RelayOutboundBuffer int
	RelayCommandBuffer  int
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTL)
	configViper.SetDefault("cors.allowed_origins", defaultAllowedOrigins)
	configViper.SetDefault("relay.outbound_buffer", defaultOutboundBuffer)
	configViper.SetDefault("relay.command_buffer", defaultCommandBuffer)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:         configViper.GetString("http.address"),
		DatabasePath:        configViper.GetString("database.path"),
		LogLevel:            configViper.GetString("log.level"),
		SigningSecret:       configViper.GetString("auth.signing_secret"),
		TokenTTL:            time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		AllowedOrigins:      splitList(configViper.GetString("cors.allowed_origins")),
		RelayOutboundBuffer: configViper.GetInt("relay.outbound_buffer"),
		RelayCommandBuffer:  configViper.GetInt("relay.command_buffer"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	if len(c.AllowedOrigins) == 0 {
		return fmt.Errorf("cors.allowed_origins is required")
	}
	if c.RelayOutboundBuffer <= 0 {
		return fmt.Errorf("relay.outbound_buffer must be positive")
	}
	if c.RelayCommandBuffer <= 0 {
		return fmt.Errorf("relay.command_buffer must be positive")
	}
	return nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
