// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	StoreMongo  = "mongo"
	StoreMemory = "memory"
)

type Config struct {
	Env      string `envconfig:"APP_ENV" default:"development"`
	GRPCPort string `envconfig:"GRPC_PORT" default:"50051"`
	HTTPPort string `envconfig:"HTTP_PORT" default:"8080"`

	Store         string `envconfig:"STORE" default:"mongo"`
	MongoURI      string `envconfig:"MONGODB_URI"`
	MongoDatabase string `envconfig:"MONGODB_DATABASE" default:"telehealth"`

	JWTSecret    string        `envconfig:"JWT_SECRET"`
	JWTKeys      string        `envconfig:"JWT_KEYS"` // kid:secret,kid2:secret2
	JWTActiveKid string        `envconfig:"JWT_ACTIVE_KID"`
	TokenTTL     time.Duration `envconfig:"TOKEN_TTL" default:"24h"`
	RateLimitRPM int           `envconfig:"RATE_LIMIT_RPM" default:"10"`

	TLSCert    string `envconfig:"TLS_CERT"`
	TLSKey     string `envconfig:"TLS_KEY"`
	RequireTLS bool   `envconfig:"REQUIRE_TLS"`

	RedisURL     string `envconfig:"REDIS_URL"`
	RedisChannel string `envconfig:"REDIS_CHANNEL" default:"telehealth:relay"`

	AllowedOrigins  []string `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:5173"`
	SendQueueSize   int      `envconfig:"SEND_QUEUE_SIZE" default:"64"`
	VideoRoomPrefix string   `envconfig:"VIDEO_ROOM_PREFIX" default:"MediConnect_Appointment_"`
}

// Load reads a .env file outside production, then the environment.
func Load() (Config, error) {
	if os.Getenv("APP_ENV") != "production" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("couldn't load .env", "error", err)
		}
	}

	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return Config{}, fmt.Errorf("process env: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) IsProduction() bool  { return c.Env == "production" }
func (c Config) IsDevelopment() bool { return c.Env == "development" }

// Validate rejects configurations the server cannot start with.
func (c Config) Validate() error {
	switch c.Store {
	case StoreMongo:
		if c.MongoURI == "" {
			return errors.New("MONGODB_URI must be set when STORE=mongo")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown STORE %q", c.Store)
	}

	if c.JWTSecret == "" && c.JWTKeys == "" {
		return errors.New("either JWT_SECRET or JWT_KEYS must be set")
	}
	if c.JWTKeys != "" {
		keys, err := c.KeyRing()
		if err != nil {
			return err
		}
		if c.JWTActiveKid == "" {
			return errors.New("JWT_ACTIVE_KID must be set when JWT_KEYS is used")
		}
		if _, ok := keys[c.JWTActiveKid]; !ok {
			return fmt.Errorf("JWT_ACTIVE_KID %q is not in JWT_KEYS", c.JWTActiveKid)
		}
	}
	if c.TokenTTL <= 0 {
		return errors.New("TOKEN_TTL must be positive")
	}
	if c.RequireTLS && (c.TLSCert == "" || c.TLSKey == "") {
		return errors.New("REQUIRE_TLS is true but TLS_CERT/TLS_KEY are not configured")
	}
	if c.SendQueueSize <= 0 {
		return errors.New("SEND_QUEUE_SIZE must be positive")
	}
	return nil
}

// KeyRing parses JWT_KEYS into kid -> secret.
func (c Config) KeyRing() (map[string]string, error) {
	keys := map[string]string{}
	for _, p := range strings.Split(c.JWTKeys, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		kid, secret, ok := strings.Cut(p, ":")
		if !ok || kid == "" || secret == "" {
			return nil, fmt.Errorf("invalid JWT_KEYS entry: %s", p)
		}
		keys[kid] = secret
	}
	if len(keys) == 0 {
		return nil, errors.New("JWT_KEYS has no entries")
	}
	return keys, nil
}
