package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Addr            string
	DBDriver        string
	DSN             string
	TokenSecret     string
	TokenTTL        time.Duration
	ChallengeTTL    time.Duration
	RateLimits      RateLimits
	JanitorSchedule string
	LogLevel        string
	LogFormat       string
}

type RateLimits struct {
	PostPerMinute    int
	CommentPerMinute int
	VotePerMinute    int
	JoinPerMinute    int
}

const devSecret = "dev-token-secret"

// Load reads configuration from, in increasing priority: defaults, the
// YAML file at path (or ./threadly.yaml when path is empty), a .env file
// and THREADLY_* environment variables. A missing file is not an error.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("THREADLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("threadly")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !(path != "" && errors.Is(err, os.ErrNotExist)) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	addr := v.GetString("addr")
	if addr == "" {
		if port := os.Getenv("PORT"); port != "" {
			addr = ":" + port
		} else {
			addr = ":8080"
		}
	}
	cfg := Config{
		Addr:         addr,
		DBDriver:     v.GetString("db.driver"),
		DSN:          v.GetString("db.dsn"),
		TokenSecret:  v.GetString("token.secret"),
		TokenTTL:     v.GetDuration("token.ttl"),
		ChallengeTTL: v.GetDuration("challenge.ttl"),
		RateLimits: RateLimits{
			PostPerMinute:    v.GetInt("rl.post_per_min"),
			CommentPerMinute: v.GetInt("rl.comment_per_min"),
			VotePerMinute:    v.GetInt("rl.vote_per_min"),
			JoinPerMinute:    v.GetInt("rl.join_per_min"),
		},
		JanitorSchedule: v.GetString("janitor.schedule"),
		LogLevel:        v.GetString("log.level"),
		LogFormat:       v.GetString("log.format"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", "")
	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.dsn", "threadly.db")
	v.SetDefault("token.secret", devSecret)
	v.SetDefault("token.ttl", 24*time.Hour)
	v.SetDefault("challenge.ttl", 5*time.Minute)
	v.SetDefault("rl.post_per_min", 10)
	v.SetDefault("rl.comment_per_min", 30)
	v.SetDefault("rl.vote_per_min", 120)
	v.SetDefault("rl.join_per_min", 30)
	v.SetDefault("janitor.schedule", "@every 10m")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

func (c Config) Validate() error {
	switch c.DBDriver {
	case "sqlite", "postgres", "pgx":
	default:
		return fmt.Errorf("unsupported db driver %q", c.DBDriver)
	}
	if c.DSN == "" {
		return errors.New("db dsn is required")
	}
	if c.TokenTTL <= 0 || c.ChallengeTTL <= 0 {
		return errors.New("token and challenge ttl must be positive")
	}
	return nil
}

// DevSecret reports whether the token secret was left at its default.
func (c Config) DevSecret() bool {
	return c.TokenSecret == devSecret
}
