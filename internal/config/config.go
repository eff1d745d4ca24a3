package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
)

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Server struct {
		Addr string
	}
	Database struct {
		Path string
	}
	Auth struct {
		JWTSecret       string
		SecretBucket    string
		SecretKey       string
		TokenTTLMinutes int
		HashCost        int
		HashWorkers     int
		AdminName       string
		AdminEmail      string
		AdminPassword   string
	}
	Storage struct {
		Region   string
		Endpoint string
	}
	AWS struct {
		Profile string
	}
	Log struct {
		Level string
	}
}

// Load reads configuration from environment variables and optional config files.
func Load() (Config, error) {
	// existing environment wins over .env
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("CASHBOOK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", "0.0.0.0:8080")
	v.SetDefault("database.path", "data/cashbook.db")
	v.SetDefault("auth.jwtsecret", "")
	v.SetDefault("auth.secretbucket", "")
	v.SetDefault("auth.secretkey", "")
	v.SetDefault("auth.tokenttlminutes", 60)
	v.SetDefault("auth.hashcost", bcrypt.DefaultCost)
	v.SetDefault("auth.hashworkers", 0)
	v.SetDefault("auth.adminname", "Administrator")
	v.SetDefault("auth.adminemail", "")
	v.SetDefault("auth.adminpassword", "")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("aws.profile", "")
	v.SetDefault("log.level", "info")

	v.SetConfigName("config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// Validate checks the values the server cannot start without.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Auth.JWTSecret) == "" && strings.TrimSpace(c.Auth.SecretBucket) == "" {
		return errors.New("auth jwt secret or secret bucket is required")
	}
	if c.Auth.SecretBucket != "" && strings.TrimSpace(c.Auth.SecretKey) == "" {
		return errors.New("auth secret key is required when a secret bucket is set")
	}
	if c.Auth.TokenTTLMinutes <= 0 {
		return fmt.Errorf("auth token ttl must be positive, got %d minutes", c.Auth.TokenTTLMinutes)
	}
	if c.Auth.HashCost < bcrypt.MinCost || c.Auth.HashCost > bcrypt.MaxCost {
		return fmt.Errorf("auth hash cost %d out of range [%d, %d]", c.Auth.HashCost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	if (c.Auth.AdminEmail == "") != (c.Auth.AdminPassword == "") {
		return errors.New("auth admin email and admin password must be set together")
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	return nil
}
