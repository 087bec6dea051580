package config

import (
	"strings"

	"github.com/caarlos0/env/v10"
)

// envOverlay holds settings that usually come from the environment, most
// importantly the bearer token.
type envOverlay struct {
	Token     string `env:"SLACK_TOKEN"`
	ChannelID string `env:"SLACK_CHANNEL_ID"`
	APIURL    string `env:"SLACK_API_URL"`
	LogLevel  string `env:"RIVER_LOG_LEVEL"`
}

// applyEnv overrides cfg with any non-empty environment values.
func applyEnv(cfg *Config) error {
	var ov envOverlay
	if err := env.Parse(&ov); err != nil {
		return err
	}
	if v := strings.TrimSpace(ov.Token); v != "" {
		cfg.Slack.Token = v
	}
	if v := strings.TrimSpace(ov.ChannelID); v != "" {
		cfg.Slack.ChannelID = v
	}
	if v := strings.TrimSpace(ov.APIURL); v != "" {
		cfg.Slack.APIURL = v
	}
	if v := strings.TrimSpace(ov.LogLevel); v != "" {
		cfg.Logging.Level = v
	}
	return nil
}
