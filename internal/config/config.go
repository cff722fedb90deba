package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the API service.
type Config struct {
	AppName            string
	AppEnv             string
	AppPort            string
	DatabaseURL        string
	RedisURL           string
	NATSURL            string
	EventSubjectPrefix string
	JWTSecret          string
	JWTIssuer          string
	OpenAIAPIKey       string
	OpenAIBaseURL      string
	OpenAIModel        string
	OpenAIMaxTokens    int
	MatchThreshold     float64
	SweepInterval      time.Duration
	BenchmarkCacheTTL  time.Duration
	InsightWindowDays  int
	OptimizeRateLimit  int
	OptimizeRateWindow time.Duration
	ShutdownTimeout    time.Duration
	AutoMigrate        bool
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("DQA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "Design Quality API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("events.prefix", "quality")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.max_tokens", 1500)
	v.SetDefault("metrics.match_threshold", 0.5)
	v.SetDefault("optimization.sweep_interval", "1h")
	v.SetDefault("optimization.insight_window_days", 7)
	v.SetDefault("optimization.rate_limit", 10)
	v.SetDefault("optimization.rate_window", "1m")
	v.SetDefault("benchmarks.cache_ttl", "5m")
	v.SetDefault("shutdown.timeout", "5s")
	v.SetDefault("database.auto_migrate", true)

	sweep, err := parseDuration(v, "optimization.sweep_interval")
	if err != nil {
		return Config{}, err
	}
	cacheTTL, err := parseDuration(v, "benchmarks.cache_ttl")
	if err != nil {
		return Config{}, err
	}
	rateWindow, err := parseDuration(v, "optimization.rate_window")
	if err != nil {
		return Config{}, err
	}
	shutdown, err := parseDuration(v, "shutdown.timeout")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppName:            v.GetString("app.name"),
		AppEnv:             v.GetString("app.env"),
		AppPort:            v.GetString("app.port"),
		DatabaseURL:        v.GetString("database.url"),
		RedisURL:           v.GetString("redis.url"),
		NATSURL:            v.GetString("nats.url"),
		EventSubjectPrefix: v.GetString("events.prefix"),
		JWTSecret:          v.GetString("jwt.secret"),
		JWTIssuer:          v.GetString("jwt.issuer"),
		OpenAIAPIKey:       v.GetString("openai_api_key"),
		OpenAIBaseURL:      v.GetString("openai.base_url"),
		OpenAIModel:        v.GetString("openai.model"),
		OpenAIMaxTokens:    v.GetInt("openai.max_tokens"),
		MatchThreshold:     v.GetFloat64("metrics.match_threshold"),
		SweepInterval:      sweep,
		BenchmarkCacheTTL:  cacheTTL,
		InsightWindowDays:  v.GetInt("optimization.insight_window_days"),
		OptimizeRateLimit:  v.GetInt("optimization.rate_limit"),
		OptimizeRateWindow: rateWindow,
		ShutdownTimeout:    shutdown,
		AutoMigrate:        v.GetBool("database.auto_migrate"),
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	if cfg.MatchThreshold <= 0 || cfg.MatchThreshold > 1 {
		return Config{}, fmt.Errorf("match threshold must be in (0, 1], got %v", cfg.MatchThreshold)
	}

	if cfg.InsightWindowDays <= 0 {
		cfg.InsightWindowDays = 7
	}

	return cfg, nil
}

func parseDuration(v *viper.Viper, key string) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	duration, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if duration <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return duration, nil
}
