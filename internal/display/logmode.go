package display

import (
	"context"
	"time"

	"slackriver/internal/chat"
	"slackriver/internal/session"
	logx "slackriver/pkg/logx"
)

// Log writes each message as a log line and keeps its session open for a
// fixed duration. Useful on headless hosts.
type Log struct {
	hold time.Duration
	log  logx.Logger
}

func NewLog(d time.Duration, log logx.Logger) *Log {
	return &Log{hold: d, log: log}
}

func (l *Log) Show(ctx context.Context, msg chat.Message) (session.Session, error) {
	s := hold(ctx, l.hold)
	l.log.Info("message",
		logx.String("session", s.id),
		logx.String("from", headline(msg)),
		logx.Time("at", msg.Timestamp),
		logx.String("text", msg.Content),
	)
	return s, nil
}

func (l *Log) Run(ctx context.Context) { <-ctx.Done() }
