// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Like bucket policies for the Rate Guard.
const (
	// LikeBucketShared counts likes and unlikes against one budget.
	LikeBucketShared = "shared"
	// LikeBucketSeparate gives likes and unlikes independent budgets.
	LikeBucketSeparate = "separate"
)

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	Env        string `mapstructure:"APP_ENV"`
	Port       string `mapstructure:"PORT"`
	DBHost     string `mapstructure:"DB_HOST"`
	DBPort     string `mapstructure:"DB_PORT"`
	DBUser     string `mapstructure:"DB_USER"`
	DBPassword string `mapstructure:"DB_PASSWORD"`
	DBName     string `mapstructure:"DB_NAME"`
	DBSSLMode  string `mapstructure:"DB_SSLMODE"`
	RedisURL   string `mapstructure:"REDIS_URL"`

	RabbitMQURL   string `mapstructure:"RABBITMQ_URL"`
	AuditExchange string `mapstructure:"AUDIT_EXCHANGE"`

	SpamThreshold         float64 `mapstructure:"MODERATION_SPAM_THRESHOLD"`
	ToxicityThreshold     float64 `mapstructure:"MODERATION_TOXICITY_THRESHOLD"`
	ReportReviewThreshold int64   `mapstructure:"MODERATION_REPORT_REVIEW_THRESHOLD"`
	ReportHideThreshold   int64   `mapstructure:"MODERATION_REPORT_HIDE_THRESHOLD"`
	SensitiveOutcome      string  `mapstructure:"MODERATION_SENSITIVE_OUTCOME"`
	SensitiveWordsFile    string  `mapstructure:"SENSITIVE_WORDS_FILE"`

	RequireApproval  bool `mapstructure:"COMMENT_REQUIRE_APPROVAL"`
	MaxDepth         int  `mapstructure:"COMMENT_MAX_DEPTH"`
	MaxCommentLength int  `mapstructure:"COMMENT_MAX_LENGTH"`

	LikeRateMax        int           `mapstructure:"RATE_LIKE_MAX"`
	LikeRateWindow     time.Duration `mapstructure:"RATE_LIKE_WINDOW"`
	LikeBucket         string        `mapstructure:"RATE_LIKE_BUCKET"`
	ReportRateMax      int           `mapstructure:"RATE_REPORT_MAX"`
	ReportRateWindow   time.Duration `mapstructure:"RATE_REPORT_WINDOW"`
	ReportDedupeWindow time.Duration `mapstructure:"REPORT_DEDUPE_WINDOW"`

	PopularLikeThreshold  int64 `mapstructure:"POPULAR_LIKE_THRESHOLD"`
	ReviewReportThreshold int64 `mapstructure:"REVIEW_REPORT_THRESHOLD"`

	FanoutQueueSize     int           `mapstructure:"FANOUT_QUEUE_SIZE"`
	FanoutWorkers       int           `mapstructure:"FANOUT_WORKERS"`
	FanoutBatchSize     int           `mapstructure:"FANOUT_BATCH_SIZE"`
	FanoutFlushInterval time.Duration `mapstructure:"FANOUT_FLUSH_INTERVAL"`
	FanoutMaxRetries    int           `mapstructure:"FANOUT_MAX_RETRIES"`
	FanoutDedupeTTL     time.Duration `mapstructure:"FANOUT_DEDUPE_TTL"`
	ModeratorIDs        string        `mapstructure:"MODERATOR_IDS"`

	TracingEnabled  bool   `mapstructure:"TRACING_ENABLED"`
	TracingExporter string `mapstructure:"TRACING_EXPORTER"`
	OTLPEndpoint    string `mapstructure:"OTLP_ENDPOINT"`
}

// LoadConfig loads application configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	// The base config file is optional.
	_ = viper.ReadInConfig()

	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	if env != "development" && env != "test" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("required profile-specific config 'config.%s.yml' not found: %w", env, err)
		}
		log.Printf("Loaded profile-specific configuration: config.%s.yml", env)
	}

	setDefaults()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	config.DBSSLMode = strings.ToLower(strings.TrimSpace(config.DBSSLMode))
	config.LikeBucket = strings.ToLower(strings.TrimSpace(config.LikeBucket))
	config.SensitiveOutcome = strings.ToLower(strings.TrimSpace(config.SensitiveOutcome))

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("PORT", "8375")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "user")
	viper.SetDefault("DB_PASSWORD", "password")
	viper.SetDefault("DB_NAME", "threadline")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("REDIS_URL", "localhost:6379")
	viper.SetDefault("RABBITMQ_URL", "")
	viper.SetDefault("AUDIT_EXCHANGE", "comment_audit")

	viper.SetDefault("MODERATION_SPAM_THRESHOLD", 0.7)
	viper.SetDefault("MODERATION_TOXICITY_THRESHOLD", 0.8)
	viper.SetDefault("MODERATION_REPORT_REVIEW_THRESHOLD", 5)
	viper.SetDefault("MODERATION_REPORT_HIDE_THRESHOLD", 10)
	viper.SetDefault("MODERATION_SENSITIVE_OUTCOME", "review")
	viper.SetDefault("SENSITIVE_WORDS_FILE", "")

	viper.SetDefault("COMMENT_REQUIRE_APPROVAL", false)
	viper.SetDefault("COMMENT_MAX_DEPTH", 5)
	viper.SetDefault("COMMENT_MAX_LENGTH", 10000)

	viper.SetDefault("RATE_LIKE_MAX", 30)
	viper.SetDefault("RATE_LIKE_WINDOW", time.Minute)
	viper.SetDefault("RATE_LIKE_BUCKET", LikeBucketShared)
	viper.SetDefault("RATE_REPORT_MAX", 5)
	viper.SetDefault("RATE_REPORT_WINDOW", 10*time.Minute)
	viper.SetDefault("REPORT_DEDUPE_WINDOW", 24*time.Hour)

	viper.SetDefault("POPULAR_LIKE_THRESHOLD", 10)
	viper.SetDefault("REVIEW_REPORT_THRESHOLD", 5)

	viper.SetDefault("FANOUT_QUEUE_SIZE", 1024)
	viper.SetDefault("FANOUT_WORKERS", 2)
	viper.SetDefault("FANOUT_BATCH_SIZE", 32)
	viper.SetDefault("FANOUT_FLUSH_INTERVAL", 200*time.Millisecond)
	viper.SetDefault("FANOUT_MAX_RETRIES", 5)
	viper.SetDefault("FANOUT_DEDUPE_TTL", 24*time.Hour)
	viper.SetDefault("MODERATOR_IDS", "")

	viper.SetDefault("TRACING_ENABLED", false)
	viper.SetDefault("TRACING_EXPORTER", "stdout")
	viper.SetDefault("OTLP_ENDPOINT", "localhost:4318")
}

// Validate ensures that configuration values are present and within range.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if c.SpamThreshold <= 0 || c.SpamThreshold > 1 {
		return errors.New("MODERATION_SPAM_THRESHOLD must be in (0, 1]")
	}
	if c.ToxicityThreshold <= 0 || c.ToxicityThreshold > 1 {
		return errors.New("MODERATION_TOXICITY_THRESHOLD must be in (0, 1]")
	}
	if c.ReportReviewThreshold <= 0 {
		return errors.New("MODERATION_REPORT_REVIEW_THRESHOLD must be positive")
	}
	if c.ReportHideThreshold < c.ReportReviewThreshold {
		return errors.New("MODERATION_REPORT_HIDE_THRESHOLD must not be below the review threshold")
	}
	switch c.SensitiveOutcome {
	case "review", "hide", "spam", "none":
	default:
		return fmt.Errorf("MODERATION_SENSITIVE_OUTCOME %q is not one of review, hide, spam, none", c.SensitiveOutcome)
	}
	if c.MaxDepth < 0 {
		return errors.New("COMMENT_MAX_DEPTH must not be negative")
	}
	if c.MaxCommentLength <= 0 {
		return errors.New("COMMENT_MAX_LENGTH must be positive")
	}
	if c.LikeRateMax <= 0 || c.LikeRateWindow <= 0 {
		return errors.New("RATE_LIKE_MAX and RATE_LIKE_WINDOW must be positive")
	}
	if c.LikeBucket != LikeBucketShared && c.LikeBucket != LikeBucketSeparate {
		return fmt.Errorf("RATE_LIKE_BUCKET %q is not one of shared, separate", c.LikeBucket)
	}
	if c.ReportRateMax <= 0 || c.ReportRateWindow <= 0 {
		return errors.New("RATE_REPORT_MAX and RATE_REPORT_WINDOW must be positive")
	}
	if c.ReportDedupeWindow <= 0 {
		return errors.New("REPORT_DEDUPE_WINDOW must be positive")
	}
	if c.FanoutQueueSize <= 0 || c.FanoutWorkers <= 0 || c.FanoutBatchSize <= 0 {
		return errors.New("FANOUT_QUEUE_SIZE, FANOUT_WORKERS and FANOUT_BATCH_SIZE must be positive")
	}
	if c.FanoutFlushInterval <= 0 {
		return errors.New("FANOUT_FLUSH_INTERVAL must be positive")
	}
	if _, err := c.Moderators(); err != nil {
		return err
	}

	if c.IsProduction() {
		if c.DBPassword == "password" || c.DBPassword == "" {
			return errors.New("a strong DB_PASSWORD is required in production")
		}
		if c.DBSSLMode == "disable" || c.DBSSLMode == "" {
			return errors.New("DB_SSLMODE must not be disabled in production")
		}
		if c.RabbitMQURL == "" {
			log.Println("WARNING: RABBITMQ_URL is empty in production; audit events will only be logged.")
		}
	}

	return nil
}

// IsProduction reports whether the process runs with production safeguards.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// Moderators parses MODERATOR_IDS into user IDs.
func (c *Config) Moderators() ([]uint, error) {
	var ids []uint
	for _, raw := range strings.Split(c.ModeratorIDs, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || id == 0 {
			return nil, fmt.Errorf("MODERATOR_IDS contains invalid user id %q", raw)
		}
		ids = append(ids, uint(id))
	}
	return ids, nil
}
