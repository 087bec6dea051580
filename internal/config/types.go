package config

// Config is the on-disk configuration. Durations are Go duration strings
// ("500ms", "5s", "1m"); empty means the documented default.
type Config struct {
	Slack   SlackConfig    `json:"slack"`
	Logging LoggingConfig  `json:"logging"`
	Display DisplayConfig  `json:"display"`
	Storage *StorageConfig `json:"storage,omitempty"`
	Status  StatusConfig   `json:"status"`
}

// SlackConfig selects the channel to follow.
//
// Token, ChannelID and APIURL may be supplied by SLACK_TOKEN,
// SLACK_CHANNEL_ID and SLACK_API_URL instead; the environment wins.
type SlackConfig struct {
	APIURL         string `json:"api_url,omitempty"` // default: https://slack.com/api/
	Token          string `json:"token,omitempty"`   // do not log
	ChannelID      string `json:"channel_id"`
	PollInterval   string `json:"poll_interval,omitempty"`   // default 5s
	PageLimit      int    `json:"page_limit,omitempty"`      // default 10
	RequestTimeout string `json:"request_timeout,omitempty"` // default 10s
	RatePerSec     int    `json:"rate_per_sec,omitempty"`    // default 1
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// DisplayConfig controls how messages are shown.
//
// Mode is one of "terminal", "desktop" or "log". The terminal marquee writes
// to stdout, so console logs move to stderr in that mode.
type DisplayConfig struct {
	Mode          string `json:"mode"`
	Duration      string `json:"duration,omitempty"`       // desktop/log hold; default 8s
	FrameInterval string `json:"frame_interval,omitempty"` // terminal; default 100ms
	Step          int    `json:"step,omitempty"`           // terminal cells per frame
	Lanes         int    `json:"lanes,omitempty"`
	Width         int    `json:"width,omitempty"` // 0 = detect
	WarnLive      int    `json:"warn_live,omitempty"`
}

// StorageConfig controls the optional user directory persistence.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./river_users" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
	RedisAddr   string `json:"redis_addr,omitempty"`
}

// StatusConfig schedules the periodic status log line. An empty schedule
// disables it.
type StatusConfig struct {
	Schedule string `json:"schedule"`
}
