package services

import (
	"log/slog"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	JWT        JWTConfig
	WebSocket  WebSocketConfig
	VoiceAgent VoiceAgentConfig
	Scoring    ScoringConfig
}

type ServerConfig struct {
	Port string
}

type DatabaseConfig struct {
	URL          string
	Seed         bool
	LogLevel     string
	MaxIdleConns int
	MaxOpenConns int
}

type JWTConfig struct {
	Secret string
}

type WebSocketConfig struct {
	AllowedOrigins string
}

type VoiceAgentConfig struct {
	URL    string
	APIKey string
}

// ScoringConfig carries the review-retrieval policy. MaxRetries is the
// ceiling for the post-session review poll; StatusMaxRetries is the shorter
// ceiling used by the session-status poll. Both are configuration, not
// constants, because the two flows need different ceilings.
type ScoringConfig struct {
	BaseURL          string
	GeminiAPIKey     string
	MaxRetries       int
	StatusMaxRetries int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
}

// LoadConfig loads configuration from environment variables and config files
func LoadConfig() *Config {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("websocket.allowed_origins", "")
	viper.SetDefault("jwt.secret", "")
	viper.SetDefault("database.url", "")
	viper.SetDefault("database.seed", "true")
	viper.SetDefault("database.log_level", "silent")
	viper.SetDefault("database.max_idle_conns", "10")
	viper.SetDefault("database.max_open_conns", "100")
	viper.SetDefault("voiceagent.url", "")
	viper.SetDefault("voiceagent.api_key", "")
	viper.SetDefault("scoring.base_url", "")
	viper.SetDefault("scoring.gemini_api_key", "")
	viper.SetDefault("scoring.max_retries", "10")
	viper.SetDefault("scoring.status_max_retries", "5")
	viper.SetDefault("scoring.base_delay_ms", "2000")
	viper.SetDefault("scoring.max_delay_ms", "10000")

	// Map environment variables to config keys
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("websocket.allowed_origins", "WEBSOCKET_ALLOWED_ORIGINS")
	viper.BindEnv("jwt.secret", "JWT_SECRET")
	viper.BindEnv("database.url", "DATABASE_URL")
	viper.BindEnv("database.seed", "DATABASE_SEED")
	viper.BindEnv("database.log_level", "DATABASE_LOG_LEVEL")
	viper.BindEnv("database.max_idle_conns", "DATABASE_MAX_IDLE_CONNS")
	viper.BindEnv("database.max_open_conns", "DATABASE_MAX_OPEN_CONNS")
	viper.BindEnv("voiceagent.url", "VOICEAGENT_URL")
	viper.BindEnv("voiceagent.api_key", "VOICEAGENT_API_KEY")
	viper.BindEnv("scoring.base_url", "SCORING_BASE_URL")
	viper.BindEnv("scoring.gemini_api_key", "GEMINI_API_KEY")
	viper.BindEnv("scoring.max_retries", "SCORING_MAX_RETRIES")
	viper.BindEnv("scoring.status_max_retries", "SCORING_STATUS_MAX_RETRIES")
	viper.BindEnv("scoring.base_delay_ms", "SCORING_BASE_DELAY_MS")
	viper.BindEnv("scoring.max_delay_ms", "SCORING_MAX_DELAY_MS")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			slog.Warn("Config file not found, using defaults and environment variables")
		} else {
			slog.Error("Error reading config file", "error", err)
		}
	}

	return &Config{
		Server: ServerConfig{
			Port: viper.GetString("server.port"),
		},
		Database: DatabaseConfig{
			URL:          viper.GetString("database.url"),
			Seed:         viper.GetBool("database.seed"),
			LogLevel:     viper.GetString("database.log_level"),
			MaxIdleConns: viper.GetInt("database.max_idle_conns"),
			MaxOpenConns: viper.GetInt("database.max_open_conns"),
		},
		JWT: JWTConfig{
			Secret: viper.GetString("jwt.secret"),
		},
		WebSocket: WebSocketConfig{
			AllowedOrigins: viper.GetString("websocket.allowed_origins"),
		},
		VoiceAgent: VoiceAgentConfig{
			URL:    viper.GetString("voiceagent.url"),
			APIKey: viper.GetString("voiceagent.api_key"),
		},
		Scoring: ScoringConfig{
			BaseURL:          viper.GetString("scoring.base_url"),
			GeminiAPIKey:     viper.GetString("scoring.gemini_api_key"),
			MaxRetries:       viper.GetInt("scoring.max_retries"),
			StatusMaxRetries: viper.GetInt("scoring.status_max_retries"),
			BaseDelay:        time.Duration(viper.GetInt("scoring.base_delay_ms")) * time.Millisecond,
			MaxDelay:         time.Duration(viper.GetInt("scoring.max_delay_ms")) * time.Millisecond,
		},
	}
}
