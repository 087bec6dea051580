package config

import (
	"strings"

	logx "slackriver/pkg/logx"
)

// SummarizeConfigChange returns the changed sections and safe structured
// attrs for logging. The Slack token is never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	o, n := oldCfg.Slack, newCfg.Slack
	if strings.TrimSpace(o.APIURL) != strings.TrimSpace(n.APIURL) ||
		o.ChannelID != n.ChannelID ||
		strings.TrimSpace(o.PollInterval) != strings.TrimSpace(n.PollInterval) ||
		o.PageLimit != n.PageLimit ||
		strings.TrimSpace(o.RequestTimeout) != strings.TrimSpace(n.RequestTimeout) ||
		o.RatePerSec != n.RatePerSec ||
		o.Token != n.Token {
		changed = append(changed, "slack")
		attrs = append(attrs,
			logx.String("slack.channel_id", n.ChannelID),
			logx.String("slack.poll_interval", strings.TrimSpace(n.PollInterval)),
			logx.Int("slack.rate_per_sec", n.RatePerSec),
			logx.Bool("slack.token_changed", o.Token != n.Token),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Display != newCfg.Display {
		changed = append(changed, "display")
		attrs = append(attrs,
			logx.String("display.mode", newCfg.Display.Mode),
			logx.Int("display.warn_live", newCfg.Display.WarnLive),
		)
	}

	var oldSt, newSt StorageConfig
	if oldCfg.Storage != nil {
		oldSt = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		newSt = *newCfg.Storage
	}
	if oldSt != newSt {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newSt.Driver))
	}

	if strings.TrimSpace(oldCfg.Status.Schedule) != strings.TrimSpace(newCfg.Status.Schedule) {
		changed = append(changed, "status")
		attrs = append(attrs, logx.String("status.schedule", strings.TrimSpace(newCfg.Status.Schedule)))
	}

	return changed, attrs
}

// RestartRequired lists changed sections that only take effect on restart.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "display", "storage", "status":
			out = append(out, s)
		}
	}
	return out
}
