package app

import (
	"strings"
	"time"

	"slackriver/internal/config"
	"slackriver/internal/display"
	"slackriver/internal/slack"
	"slackriver/internal/storage"
	logx "slackriver/pkg/logx"
)

const defaultPollInterval = 5 * time.Second

func mapSlackConfig(cfg *config.Config) (slack.Config, error) {
	sc := cfg.Slack
	timeout, err := config.ParseDuration("slack.request_timeout", sc.RequestTimeout, 10*time.Second)
	if err != nil {
		return slack.Config{}, err
	}
	return slack.Config{
		BaseURL:        strings.TrimSpace(sc.APIURL),
		Token:          strings.TrimSpace(sc.Token),
		ChannelID:      strings.TrimSpace(sc.ChannelID),
		PageLimit:      sc.PageLimit,
		RequestTimeout: timeout,
		RatePerSec:     sc.RatePerSec,
	}, nil
}

func mapPollInterval(cfg *config.Config) (time.Duration, error) {
	return config.ParseDuration("slack.poll_interval", cfg.Slack.PollInterval, defaultPollInterval)
}

func mapDisplayConfig(cfg *config.Config) (display.Config, error) {
	dc := cfg.Display
	hold, err := config.ParseDuration("display.duration", dc.Duration, 8*time.Second)
	if err != nil {
		return display.Config{}, err
	}
	frame, err := config.ParseDuration("display.frame_interval", dc.FrameInterval, 100*time.Millisecond)
	if err != nil {
		return display.Config{}, err
	}
	mode := strings.ToLower(strings.TrimSpace(dc.Mode))
	if mode == "" {
		mode = display.ModeTerminal
	}
	return display.Config{
		Mode:          mode,
		Duration:      hold,
		FrameInterval: frame,
		Step:          dc.Step,
		Lanes:         dc.Lanes,
		Width:         dc.Width,
	}, nil
}

// mapLogConfig sends console output to stderr when the terminal marquee
// owns stdout.
func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		Stderr:  isTerminalMode(cfg),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func isTerminalMode(cfg *config.Config) bool {
	m := strings.ToLower(strings.TrimSpace(cfg.Display.Mode))
	return m == "" || m == display.ModeTerminal
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDuration("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(sc.Path),
		BusyTimeout: busy,
		RedisAddr:   strings.TrimSpace(sc.RedisAddr),
	}, true, nil
}
