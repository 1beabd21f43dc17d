// internal/config/config.go
package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds every runtime knob, loaded from the environment with the
// STOLIK_ prefix. Defaults match the production deployment.
type Config struct {
	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`

	ListenAddr string `envconfig:"LISTEN_ADDR" default:":8080"`
	JWTSecret  string `envconfig:"JWT_SECRET" default:"dev-secret-change-me"`

	TurnTimeoutSeconds     int `envconfig:"TURN_TIMEOUT_SECONDS" default:"60"`
	DisconnectGraceSeconds int `envconfig:"DISCONNECT_GRACE_SECONDS" default:"60"`

	MaxLobbyHours             int `envconfig:"MAX_LOBBY_HOURS" default:"24"`
	FinishedMatchGraceMinutes int `envconfig:"FINISHED_MATCH_GRACE_MINUTES" default:"10"`

	TimerSweepIntervalSeconds int `envconfig:"TIMER_SWEEP_INTERVAL_SECONDS" default:"1"`
	CleanupIntervalSeconds    int `envconfig:"CLEANUP_INTERVAL_SECONDS" default:"30"`

	BotInitialDelayMinSeconds int     `envconfig:"BOT_INITIAL_DELAY_MIN_SECONDS" default:"5"`
	BotInitialDelayMaxSeconds int     `envconfig:"BOT_INITIAL_DELAY_MAX_SECONDS" default:"60"`
	BotJoinProbability        float64 `envconfig:"BOT_JOIN_PROBABILITY" default:"0.7"`
	MatchmakingEnabled        bool    `envconfig:"MATCHMAKING_ENABLED" default:"true"`

	// ThreePlayerForfeitSplit controls the 3p forfeit outcome: when true the two
	// survivors draw at 0.5 each, when false the next seat in turn order takes
	// the full win.
	ThreePlayerForfeitSplit bool `envconfig:"THREE_PLAYER_FORFEIT_SPLIT" default:"true"`
}

// Load reads the configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	err := envconfig.Process("STOLIK", &cfg)
	return cfg, err
}

func (c Config) TurnTimeout() time.Duration {
	return time.Duration(c.TurnTimeoutSeconds) * time.Second
}

func (c Config) DisconnectGrace() time.Duration {
	return time.Duration(c.DisconnectGraceSeconds) * time.Second
}

func (c Config) TimerSweepInterval() time.Duration {
	return time.Duration(c.TimerSweepIntervalSeconds) * time.Second
}

func (c Config) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalSeconds) * time.Second
}

func (c Config) MaxLobbyAge() time.Duration {
	return time.Duration(c.MaxLobbyHours) * time.Hour
}

func (c Config) FinishedMatchGrace() time.Duration {
	return time.Duration(c.FinishedMatchGraceMinutes) * time.Minute
}
