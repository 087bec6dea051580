package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks a parsed config, env overlay included. Errors name the
// offending field.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	s := cfg.Slack
	if strings.TrimSpace(s.Token) == "" {
		errs = append(errs, errors.New("slack.token is required (or set SLACK_TOKEN)"))
	}
	if strings.TrimSpace(s.ChannelID) == "" {
		errs = append(errs, errors.New("slack.channel_id is required (or set SLACK_CHANNEL_ID)"))
	}
	if raw := strings.TrimSpace(s.APIURL); raw != "" {
		if u, err := url.Parse(raw); err != nil || !u.IsAbs() {
			errs = append(errs, fmt.Errorf("slack.api_url: must be an absolute URL, got %q", raw))
		}
	}
	if s.PageLimit < 0 || s.PageLimit > 1000 {
		errs = append(errs, fmt.Errorf("slack.page_limit: must be between 1 and 1000, got %d", s.PageLimit))
	}
	if s.RatePerSec < 0 {
		errs = append(errs, fmt.Errorf("slack.rate_per_sec: must be >= 0, got %d", s.RatePerSec))
	}

	durations := []struct{ path, raw string }{
		{"slack.poll_interval", s.PollInterval},
		{"slack.request_timeout", s.RequestTimeout},
		{"display.duration", cfg.Display.Duration},
		{"display.frame_interval", cfg.Display.FrameInterval},
	}
	if cfg.Storage != nil {
		durations = append(durations, struct{ path, raw string }{"storage.busy_timeout", cfg.Storage.BusyTimeout})
	}
	for _, d := range durations {
		if _, err := ParseDuration(d.path, d.raw, 0); err != nil {
			errs = append(errs, err)
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Display.Mode)) {
	case "", "terminal", "desktop", "log":
	default:
		errs = append(errs, fmt.Errorf("display.mode: unknown mode %q", cfg.Display.Mode))
	}
	if cfg.Display.Lanes < 0 || cfg.Display.Step < 0 || cfg.Display.Width < 0 || cfg.Display.WarnLive < 0 {
		errs = append(errs, errors.New("display: lanes, step, width and warn_live must be >= 0"))
	}

	if st := cfg.Storage; st != nil {
		switch strings.ToLower(strings.TrimSpace(st.Driver)) {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(st.Path) == "" {
				errs = append(errs, fmt.Errorf("storage.path is required when storage.driver=%s", st.Driver))
			}
		case "redis":
			if strings.TrimSpace(st.RedisAddr) == "" {
				errs = append(errs, errors.New("storage.redis_addr is required when storage.driver=redis"))
			}
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", st.Driver))
		}
	}

	return errors.Join(errs...)
}
