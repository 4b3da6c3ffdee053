package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig
	DB         DBConfig
	Redis      RedisConfig
	JWT        JWTConfig
	Recognizer RecognizerConfig
	Engine     EngineConfig
	Log        LogConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"`
	Environment     string        `mapstructure:"environment"`
}

// DBConfig holds PostgreSQL connection settings for the decision audit store.
type DBConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN returns the PostgreSQL connection string.
func (d *DBConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

// RedisConfig holds snapshot cache settings.
type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	SnapshotTTL time.Duration `mapstructure:"snapshot_ttl"`
}

// JWTConfig holds bearer token verification settings.
type JWTConfig struct {
	Secret   string `mapstructure:"secret"`
	Audience string `mapstructure:"audience"`
}

// RecognizerConfig holds settings for the external text recognition service.
type RecognizerConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// EngineConfig holds verification engine tuning. Decision thresholds are
// not configurable: they are part of the scoring profile.
type EngineConfig struct {
	BufferCapacity    int           `mapstructure:"buffer_capacity"`
	RequiredFrames    int           `mapstructure:"required_frames"`
	ConsistencyWindow int           `mapstructure:"consistency_window"`
	SessionTTL        time.Duration `mapstructure:"session_ttl"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"`
}

// Load reads configuration from environment variables with the IDVERIFY_ prefix.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("IDVERIFY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Server defaults
	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.max_upload_bytes", 10<<20)
	v.SetDefault("server.environment", "development")

	// DB defaults
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "idverify")
	v.SetDefault("db.password", "idverify_secret")
	v.SetDefault("db.name", "idverify_db")
	v.SetDefault("db.sslmode", "disable")

	// Redis defaults
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.snapshot_ttl", "5m")

	// JWT defaults
	v.SetDefault("jwt.secret", "change-me-in-production")
	v.SetDefault("jwt.audience", "idverify-api")

	// Recognizer defaults
	v.SetDefault("recognizer.endpoint", "localhost:50051")
	v.SetDefault("recognizer.timeout", "8s")

	// Engine defaults
	v.SetDefault("engine.buffer_capacity", 10)
	v.SetDefault("engine.required_frames", 3)
	v.SetDefault("engine.consistency_window", 3)
	v.SetDefault("engine.session_ttl", "10m")
	v.SetDefault("engine.sweep_interval", "1m")

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")

	// Bind environment variables explicitly for nested keys
	envBindings := map[string]string{
		"server.port":               "IDVERIFY_SERVER_PORT",
		"server.read_timeout":       "IDVERIFY_SERVER_READ_TIMEOUT",
		"server.write_timeout":      "IDVERIFY_SERVER_WRITE_TIMEOUT",
		"server.shutdown_timeout":   "IDVERIFY_SERVER_SHUTDOWN_TIMEOUT",
		"server.max_upload_bytes":   "IDVERIFY_SERVER_MAX_UPLOAD_BYTES",
		"server.environment":        "IDVERIFY_SERVER_ENVIRONMENT",
		"db.host":                   "IDVERIFY_DB_HOST",
		"db.port":                   "IDVERIFY_DB_PORT",
		"db.user":                   "IDVERIFY_DB_USER",
		"db.password":               "IDVERIFY_DB_PASSWORD",
		"db.name":                   "IDVERIFY_DB_NAME",
		"db.sslmode":                "IDVERIFY_DB_SSLMODE",
		"redis.addr":                "IDVERIFY_REDIS_ADDR",
		"redis.password":            "IDVERIFY_REDIS_PASSWORD",
		"redis.db":                  "IDVERIFY_REDIS_DB",
		"redis.snapshot_ttl":        "IDVERIFY_REDIS_SNAPSHOT_TTL",
		"jwt.secret":                "IDVERIFY_JWT_SECRET",
		"jwt.audience":              "IDVERIFY_JWT_AUDIENCE",
		"recognizer.endpoint":       "IDVERIFY_RECOGNIZER_ENDPOINT",
		"recognizer.timeout":        "IDVERIFY_RECOGNIZER_TIMEOUT",
		"engine.buffer_capacity":    "IDVERIFY_ENGINE_BUFFER_CAPACITY",
		"engine.required_frames":    "IDVERIFY_ENGINE_REQUIRED_FRAMES",
		"engine.consistency_window": "IDVERIFY_ENGINE_CONSISTENCY_WINDOW",
		"engine.session_ttl":        "IDVERIFY_ENGINE_SESSION_TTL",
		"engine.sweep_interval":     "IDVERIFY_ENGINE_SWEEP_INTERVAL",
		"log.level":                 "IDVERIFY_LOG_LEVEL",
		"log.encoding":              "IDVERIFY_LOG_ENCODING",
	}
	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}

	cfg := &Config{}

	// Railway/Heroku/Render set a PORT env var. Use it if IDVERIFY_SERVER_PORT
	// is not explicitly set.
	serverPort := v.GetString("server.port")
	if port := os.Getenv("PORT"); port != "" && os.Getenv("IDVERIFY_SERVER_PORT") == "" {
		serverPort = ":" + port
	}

	cfg.Server = ServerConfig{
		Port:            serverPort,
		ReadTimeout:     v.GetDuration("server.read_timeout"),
		WriteTimeout:    v.GetDuration("server.write_timeout"),
		ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
		MaxUploadBytes:  v.GetInt64("server.max_upload_bytes"),
		Environment:     v.GetString("server.environment"),
	}
	cfg.DB = DBConfig{
		Host:     v.GetString("db.host"),
		Port:     v.GetInt("db.port"),
		User:     v.GetString("db.user"),
		Password: v.GetString("db.password"),
		Name:     v.GetString("db.name"),
		SSLMode:  v.GetString("db.sslmode"),
	}
	cfg.Redis = RedisConfig{
		Addr:        v.GetString("redis.addr"),
		Password:    v.GetString("redis.password"),
		DB:          v.GetInt("redis.db"),
		SnapshotTTL: v.GetDuration("redis.snapshot_ttl"),
	}
	cfg.JWT = JWTConfig{
		Secret:   v.GetString("jwt.secret"),
		Audience: v.GetString("jwt.audience"),
	}
	cfg.Recognizer = RecognizerConfig{
		Endpoint: v.GetString("recognizer.endpoint"),
		Timeout:  v.GetDuration("recognizer.timeout"),
	}
	cfg.Engine = EngineConfig{
		BufferCapacity:    v.GetInt("engine.buffer_capacity"),
		RequiredFrames:    v.GetInt("engine.required_frames"),
		ConsistencyWindow: v.GetInt("engine.consistency_window"),
		SessionTTL:        v.GetDuration("engine.session_ttl"),
		SweepInterval:     v.GetDuration("engine.sweep_interval"),
	}
	cfg.Log = LogConfig{
		Level:    v.GetString("log.level"),
		Encoding: v.GetString("log.encoding"),
	}

	return cfg, nil
}
