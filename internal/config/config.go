package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Twilio       TwilioConfig       `mapstructure:"twilio"`
	SMTP         SMTPConfig         `mapstructure:"smtp"`
	Blackout     BlackoutConfig     `mapstructure:"blackout"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	Dispatch     DispatchConfig     `mapstructure:"dispatch"`
	Conversation ConversationConfig `mapstructure:"conversation"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeoutSeconds"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

type TwilioConfig struct {
	AccountSID string `mapstructure:"account_sid"`
	AuthToken  string `mapstructure:"auth_token"`
	FromNumber string `mapstructure:"from_number"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	// Operator mailboxes that receive immediate and high priority alerts.
	Recipients []string `mapstructure:"recipients"`
}

// BlackoutConfig tunes the prayer-time calendar lookups. FailOpen controls
// what happens when the calendar source is unavailable: false (the default)
// treats unknown windows as blocked.
type BlackoutConfig struct {
	CalendarURL    string        `mapstructure:"calendar_url"`
	Timezone       string        `mapstructure:"timezone"`
	BufferMinutes  int           `mapstructure:"buffer_minutes"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	FailOpen       bool          `mapstructure:"fail_open"`
}

type SchedulerConfig struct {
	SendOffset    time.Duration `mapstructure:"send_offset"`
	MinOffset     time.Duration `mapstructure:"min_offset"`
	MaxOffset     time.Duration `mapstructure:"max_offset"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type DispatchConfig struct {
	Workers      int           `mapstructure:"workers"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
	RatePerSec   float64       `mapstructure:"rate_per_sec"`
	RateBurst    int           `mapstructure:"rate_burst"`
	SendTimeout  time.Duration `mapstructure:"send_timeout"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
}

type ConversationConfig struct {
	EscalationThreshold  float64       `mapstructure:"escalation_threshold"`
	AbandonAfter         time.Duration `mapstructure:"abandon_after"`
	AbandonSweepInterval time.Duration `mapstructure:"abandon_sweep_interval"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.timeoutSeconds", 30)

	viper.SetDefault("database.sslmode", "disable")

	viper.SetDefault("redis.url", "redis://localhost:6379/0")
	viper.SetDefault("redis.max_retries", 3)
	viper.SetDefault("redis.retry_backoff", 100*time.Millisecond)
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.min_idle_conns", 2)

	viper.SetDefault("blackout.calendar_url", "https://api.aladhan.com/v1/timingsByCity")
	viper.SetDefault("blackout.buffer_minutes", 10)
	viper.SetDefault("blackout.cache_ttl", 24*time.Hour)
	viper.SetDefault("blackout.request_timeout", 5*time.Second)
	viper.SetDefault("blackout.fail_open", false)

	viper.SetDefault("scheduler.send_offset", 3*time.Hour)
	viper.SetDefault("scheduler.min_offset", 2*time.Hour)
	viper.SetDefault("scheduler.max_offset", 4*time.Hour)
	viper.SetDefault("scheduler.sweep_interval", time.Minute)

	viper.SetDefault("dispatch.workers", 4)
	viper.SetDefault("dispatch.poll_interval", 5*time.Second)
	viper.SetDefault("dispatch.batch_size", 50)
	viper.SetDefault("dispatch.rate_per_sec", 10.0)
	viper.SetDefault("dispatch.rate_burst", 10)
	viper.SetDefault("dispatch.send_timeout", 10*time.Second)
	viper.SetDefault("dispatch.max_attempts", 5)

	viper.SetDefault("conversation.escalation_threshold", 0.5)
	viper.SetDefault("conversation.abandon_after", 36*time.Hour)
	viper.SetDefault("conversation.abandon_sweep_interval", time.Hour)

	viper.SetDefault("logging.level", "info")
}
