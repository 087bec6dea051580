package slack

import (
	"errors"
	"time"
)

var (
	// ErrNotOK is returned when the API answers with "ok": false or a non-2xx status.
	ErrNotOK = errors.New("slack api not ok")
	// ErrDecode is returned when a response body is not the expected envelope.
	ErrDecode = errors.New("slack api decode failed")
)

// Config configures the Web API client.
//
// Defaults (when fields are zero):
//   - BaseURL: "https://slack.com/api/"
//   - PageLimit: 10
//   - RequestTimeout: 10s
//   - RatePerSec: 1
type Config struct {
	BaseURL        string
	Token          string
	ChannelID      string
	PageLimit      int
	RequestTimeout time.Duration
	RatePerSec     int
}

// RawMessage is one record of conversations.history, before mention
// substitution and timestamp parsing.
type RawMessage struct {
	Type    string `json:"type"`
	SubType string `json:"subtype,omitempty"`
	User    string `json:"user"`
	Text    string `json:"text"`
	TS      string `json:"ts"`
}

type historyResponse struct {
	OK       bool         `json:"ok"`
	Error    string       `json:"error,omitempty"`
	Messages []RawMessage `json:"messages"`
}

type usersInfoResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	User  *struct {
		Profile *struct {
			DisplayName string `json:"display_name"`
			RealName    string `json:"real_name"`
		} `json:"profile"`
	} `json:"user"`
}
