package display

import (
	"context"
	"fmt"
	"time"

	"github.com/gen2brain/beeep"

	"slackriver/internal/chat"
	"slackriver/internal/session"
	logx "slackriver/pkg/logx"
)

const maxNotificationBody = 200

// Desktop raises an OS notification per message.
type Desktop struct {
	hold   time.Duration
	log    logx.Logger
	notify func(title, body string) error
}

func NewDesktop(d time.Duration, log logx.Logger) *Desktop {
	return &Desktop{
		hold: d,
		log:  log,
		notify: func(title, body string) error {
			return beeep.Notify(title, body, "")
		},
	}
}

func (d *Desktop) Show(ctx context.Context, msg chat.Message) (session.Session, error) {
	body := truncateCells(flatten(msg.Content), maxNotificationBody)
	if err := d.notify(headline(msg), body); err != nil {
		return nil, fmt.Errorf("desktop notify: %w", err)
	}
	s := hold(ctx, d.hold)
	d.log.Debug("notification shown", logx.String("session", s.id))
	return s, nil
}

func (d *Desktop) Run(ctx context.Context) { <-ctx.Done() }
