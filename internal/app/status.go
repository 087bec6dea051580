package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/robfig/cron/v3"

	logx "slackriver/pkg/logx"
)

var statusParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Status is a point-in-time view of the pipeline.
type Status struct {
	StartedAt     time.Time
	Cursor        string
	Cycles        uint64
	Live          int
	Started       uint64
	Reclaimed     uint64
	Failed        uint64
	CachedUsers   int
	Lookups       uint64
	LookupFails   uint64
	ActiveWorkers int64

	// PersistDropped counts users not saved because the write queue was full.
	PersistDropped uint64
	// OnScreen is set by renderers that track visible items (terminal).
	OnScreen *int
}

// Fields renders s for a log line; counts use thousands separators.
func (s Status) Fields() []logx.Field {
	fields := []logx.Field{
		logx.String("up", strings.TrimSuffix(humanize.Time(s.StartedAt), " ago")),
		logx.String("cursor", s.Cursor),
		logx.String("cycles", humanize.Comma(int64(s.Cycles))),
		logx.Int("live", s.Live),
		logx.String("sessions", humanize.Comma(int64(s.Started))),
		logx.String("reclaimed", humanize.Comma(int64(s.Reclaimed))),
		logx.Uint64("failed", s.Failed),
		logx.Int("cached_users", s.CachedUsers),
		logx.Uint64("lookups", s.Lookups),
		logx.Uint64("lookup_failures", s.LookupFails),
		logx.Int64("goroutines", s.ActiveWorkers),
	}
	if s.PersistDropped > 0 {
		fields = append(fields, logx.Uint64("persist_dropped", s.PersistDropped))
	}
	if s.OnScreen != nil {
		fields = append(fields, logx.Int("on_screen", *s.OnScreen))
	}
	return fields
}

// startStatus schedules a periodic status line. An empty schedule returns
// a nil cron.
func startStatus(schedule string, log logx.Logger, snap func() Status) (*cron.Cron, error) {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		return nil, nil
	}
	sched, err := statusParser.Parse(schedule)
	if err != nil {
		return nil, fmt.Errorf("status.schedule: %w", err)
	}
	c := cron.New(cron.WithParser(statusParser))
	c.Schedule(sched, cron.FuncJob(func() {
		log.Info("status", snap().Fields()...)
	}))
	c.Start()
	return c, nil
}

func validateStatusSchedule(schedule string) error {
	if strings.TrimSpace(schedule) == "" {
		return nil
	}
	if _, err := statusParser.Parse(strings.TrimSpace(schedule)); err != nil {
		return fmt.Errorf("status.schedule: %w", err)
	}
	return nil
}
