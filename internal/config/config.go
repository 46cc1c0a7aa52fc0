package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config keeps runtime settings for the bot. All values come from the
// environment; the token, the secret word and the leader list are required.
type Config struct {
	Token       string  `envconfig:"BOT_TOKEN" required:"true"`
	DatabaseURL string  `envconfig:"DATABASE_URL" default:"rrclan.db"`
	SecretWord  string  `envconfig:"SECRET_WORD" required:"true"`
	LeaderIDs   []int64 `envconfig:"LEADER_IDS" required:"true"`
	// RosterTime enables the daily roster report to leaders when set ("HH:MM").
	RosterTime string `envconfig:"ROSTER_TIME"`
}

// Load reads configuration from environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, fmt.Errorf("process env: %w", err)
	}
	return cfg, nil
}

// IsLeader reports whether the given Telegram id may run privileged commands.
func (c Config) IsLeader(id int64) bool {
	for _, leaderID := range c.LeaderIDs {
		if leaderID == id {
			return true
		}
	}
	return false
}
