// Package display renders messages for the session supervisor.
package display

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"slackriver/internal/chat"
	"slackriver/internal/session"
	logx "slackriver/pkg/logx"
)

const (
	ModeTerminal = "terminal"
	ModeDesktop  = "desktop"
	ModeLog      = "log"
)

type Config struct {
	Mode          string
	Duration      time.Duration
	FrameInterval time.Duration
	Step          int
	Lanes         int
	Width         int
}

// Renderer is a session.Renderer whose background work, if any, runs in Run.
type Renderer interface {
	session.Renderer
	Run(ctx context.Context)
}

// New builds the renderer for cfg.Mode. out is only used by the terminal mode.
func New(cfg Config, out io.Writer, log logx.Logger) (Renderer, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Duration <= 0 {
		cfg.Duration = 8 * time.Second
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Mode)) {
	case "", ModeTerminal:
		return NewTerminal(cfg, out, log), nil
	case ModeDesktop:
		return NewDesktop(cfg.Duration, log), nil
	case ModeLog:
		return NewLog(cfg.Duration, log), nil
	default:
		return nil, fmt.Errorf("unknown display mode: %s", cfg.Mode)
	}
}

// timedSession completes after a fixed hold time or when ctx ends.
type timedSession struct {
	id   string
	done chan struct{}
}

func (s *timedSession) ID() string            { return s.id }
func (s *timedSession) Done() <-chan struct{} { return s.done }

func hold(ctx context.Context, d time.Duration) *timedSession {
	s := &timedSession{id: uuid.NewString(), done: make(chan struct{})}
	go func() {
		defer close(s.done)
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
		}
	}()
	return s
}

func headline(msg chat.Message) string {
	if label := msg.Author.Label(); label != "" {
		return "@" + label
	}
	return "slack"
}

// flatten keeps a message on one line.
func flatten(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
