package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds the realtime server configuration, loaded from the
// environment with the PULSE_ prefix. A local .env file is honored in
// development.
type Config struct {
	Addr      string `envconfig:"ADDR" default:":8080"`
	JWTSecret string `envconfig:"JWT_SECRET" default:"dev-secret-change-me"`

	ReadBufferSize  int           `envconfig:"READ_BUFFER_SIZE" default:"1024"`
	WriteBufferSize int           `envconfig:"WRITE_BUFFER_SIZE" default:"1024"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("PULSE", &cfg); err != nil {
		return nil, fmt.Errorf("envconfig.Process: %w", err)
	}
	return &cfg, nil
}
