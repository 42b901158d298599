package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const defaultFirebaseJWKSURL = "https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com"

// Config holds all configuration for the studio BFF server.
// It is built once at startup and passed explicitly to every component.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Firebase   FirebaseConfig
	Upstream   UpstreamConfig
	Generation GenerationConfig
	RateLimit  RateLimitConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type FirebaseConfig struct {
	ProjectID string
	JWKSURL   string
}

// UpstreamConfig configures outbound calls to the AI provider.
type UpstreamConfig struct {
	AllowedHosts   []string
	Timeout        time.Duration
	MaxBodyBytes   int64
	RequestsPerSec float64
	SecretName     string
	StatusCacheTTL time.Duration
}

// GenerationConfig holds the fixed parameters merged into every job body.
type GenerationConfig struct {
	GuidanceScale   float64
	NumImages       int
	OutputFormat    string
	SafetyTolerance string
}

type RateLimitConfig struct {
	RequestsPerMinute int
}

// Load reads configuration from environment variables and returns a validated Config.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("STUDIO_PORT", 8080),
			Env:  envString("STUDIO_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Firebase: FirebaseConfig{
			ProjectID: os.Getenv("FIREBASE_PROJECT_ID"),
			JWKSURL:   envString("FIREBASE_JWKS_URL", defaultFirebaseJWKSURL),
		},
		Upstream: UpstreamConfig{
			AllowedHosts:   envList("UPSTREAM_ALLOWED_HOSTS", []string{"queue.fal.run", "fal.run"}),
			Timeout:        envDuration("UPSTREAM_TIMEOUT", 60*time.Second),
			MaxBodyBytes:   int64(envInt("UPSTREAM_MAX_BODY_BYTES", 10<<20)),
			RequestsPerSec: envFloat("UPSTREAM_RPS", 0),
			SecretName:     envString("UPSTREAM_SECRET_NAME", "FAL_KEY"),
			StatusCacheTTL: envDuration("STATUS_CACHE_TTL", 5*time.Minute),
		},
		Generation: GenerationConfig{
			GuidanceScale:   envFloat("GEN_GUIDANCE_SCALE", 3.5),
			NumImages:       envInt("GEN_NUM_IMAGES", 1),
			OutputFormat:    envString("GEN_OUTPUT_FORMAT", "jpeg"),
			SafetyTolerance: envString("GEN_SAFETY_TOLERANCE", "2"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 60),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Firebase.ProjectID == "" {
		return fmt.Errorf("FIREBASE_PROJECT_ID is required")
	}
	if !strings.HasPrefix(c.Firebase.JWKSURL, "https://") && !strings.HasPrefix(c.Firebase.JWKSURL, "http://") {
		return fmt.Errorf("FIREBASE_JWKS_URL must start with http:// or https://, got %q", c.Firebase.JWKSURL)
	}

	if len(c.Upstream.AllowedHosts) == 0 {
		return fmt.Errorf("UPSTREAM_ALLOWED_HOSTS must list at least one host")
	}
	if c.Upstream.Timeout <= 0 {
		return fmt.Errorf("UPSTREAM_TIMEOUT must be positive, got %s", c.Upstream.Timeout)
	}
	if c.Upstream.RequestsPerSec < 0 {
		return fmt.Errorf("UPSTREAM_RPS must not be negative, got %v", c.Upstream.RequestsPerSec)
	}

	if c.Generation.NumImages < 1 {
		return fmt.Errorf("GEN_NUM_IMAGES must be at least 1, got %d", c.Generation.NumImages)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// envList splits a comma separated variable, dropping empty entries.
func envList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
