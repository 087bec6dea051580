package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/robfig/cron/v3"

	"slackriver/internal/config"
	"slackriver/internal/display"
	"slackriver/internal/eventbus"
	"slackriver/internal/mention"
	"slackriver/internal/runtime/supervisor"
	"slackriver/internal/session"
	"slackriver/internal/slack"
	"slackriver/internal/storage"
	"slackriver/internal/stream"
	logx "slackriver/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	client   *slack.Client
	resolver *mention.Resolver
	stream   *stream.Stream
	render   display.Renderer
	sessions *session.Supervisor

	sub    *stream.Subscription
	handle *session.Handle
	status *cron.Cron

	startedAt time.Time
	stopping  atomic.Bool
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateStatusSchedule(cfg.Status.Schedule); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	slackCfg, err := mapSlackConfig(cfg)
	if err != nil {
		return nil, err
	}
	client, err := slack.New(slackCfg, log.With(logx.String("comp", "slack")))
	if err != nil {
		return nil, err
	}

	cache := mention.NewCache()
	var opts []mention.Option
	if store != nil {
		warmCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		users, err := store.LoadUsers(warmCtx)
		cancel()
		if err != nil {
			log.Warn("user directory load failed; starting cold", logx.Err(err))
		} else {
			log.Info("saved users loaded; refreshed on first use", logx.Int("users", cache.Warm(users)))
		}
		opts = append(opts, mention.WithPersister(store))
	}
	resolver := mention.NewResolver(client, cache, log.With(logx.String("comp", "mention")), opts...)

	interval, err := mapPollInterval(cfg)
	if err != nil {
		return nil, err
	}
	st := stream.New(client, resolver, interval, log.With(logx.String("comp", "stream")), bus)

	dispCfg, err := mapDisplayConfig(cfg)
	if err != nil {
		return nil, err
	}
	render, err := display.New(dispCfg, logx.Stdout(), log.With(logx.String("comp", "display")))
	if err != nil {
		return nil, err
	}
	sessions := session.New(render, log.With(logx.String("comp", "sessions")), bus, cfg.Display.WarnLive)

	return &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		client:   client,
		resolver: resolver,
		stream:   st,
		render:   render,
		sessions: sessions,
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)
	a.startedAt = time.Now()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapSlackConfig(cfg); err != nil {
			return err
		}
		if _, err := mapDisplayConfig(cfg); err != nil {
			return err
		}
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		return validateStatusSchedule(cfg.Status.Schedule)
	})

	a.sup.Go0("display", a.render.Run)
	a.sup.Go0("mention.persist", a.resolver.RunPersister)

	// Polling starts from now: history before startup is never shown.
	a.sub = a.stream.Start(a.sup.Context(), a.startedAt)
	a.handle = a.sessions.Run(a.sup.Context(), a.sub)
	a.sup.Go("pipeline", func(c context.Context) error {
		select {
		case <-c.Done():
			return nil
		case <-a.handle.Done():
		}
		if a.stopping.Load() || c.Err() != nil {
			return nil
		}
		return errors.New("session supervisor exited unexpectedly")
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Trace("event", logx.String("type", e.Type), logx.Time("time", e.Time), logx.Any("data", e.Data))
			}
		}
	})

	a.startReload()
	a.sup.GoRestart("config.watch", a.cfgm.Watch, supervisor.WithRestartBackoff(time.Second, 30*time.Second))

	statusCron, err := startStatus(a.cfgm.Get().Status.Schedule, a.log.With(logx.String("comp", "status")), a.Status)
	if err != nil {
		a.handle.Stop()
		a.sup.Cancel()
		return err
	}
	a.status = statusCron

	sdNotify(a.log, daemon.SdNotifyReady)
	a.log.Info("app started",
		logx.String("config", a.cfgm.Path()),
		logx.String("channel", a.cfgm.Get().Slack.ChannelID),
		logx.Duration("poll_interval", a.stream.Interval()),
		logx.String("display", a.cfgm.Get().Display.Mode),
	)
	return nil
}

// startReload applies hot-reloadable settings: logging, poll interval and
// request rate. Everything else is logged as needing a restart.
func (a *App) startReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
}

func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(mapLogConfig(newCfg))

	if d, err := mapPollInterval(newCfg); err != nil {
		a.log.Warn("invalid poll interval; keeping previous", logx.Err(err))
	} else if d != a.stream.Interval() {
		a.stream.SetInterval(d)
	}
	a.client.SetRate(newCfg.Slack.RatePerSec)

	restart := config.RestartRequired(sections)
	o, n := oldCfg.Slack, newCfg.Slack
	if o.Token != n.Token || o.ChannelID != n.ChannelID || o.APIURL != n.APIURL ||
		o.PageLimit != n.PageLimit || o.RequestTimeout != n.RequestTimeout {
		restart = append(restart, "slack")
	}
	if len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.String("sections", strings.Join(restart, ",")))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Status reports pipeline counters. It is safe to call from any goroutine
// after Start.
func (a *App) Status() Status {
	s := Status{
		StartedAt:      a.startedAt,
		CachedUsers:    a.resolver.Cache().Len(),
		PersistDropped: a.resolver.Dropped(),
	}
	s.Lookups, s.LookupFails = a.resolver.Stats()
	if m, ok := a.render.(interface{ Live() int }); ok {
		onScreen := m.Live()
		s.OnScreen = &onScreen
	}
	if a.sub != nil {
		s.Cursor = a.sub.Cursor()
		s.Cycles = a.sub.Cycles()
	}
	if a.handle != nil {
		hs := a.handle.Stats()
		s.Live, s.Started, s.Reclaimed, s.Failed = hs.Live, hs.Started, hs.Reclaimed, hs.Failed
	}
	if a.sup != nil {
		s.ActiveWorkers = a.sup.Snapshot().Active
	}
	return s
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.stopping.Store(true)
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdNotify(a.log, daemon.SdNotifyStopping)

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if dl, ok := ctx.Deadline(); ok && time.Until(dl) < max {
			max = time.Until(dl)
		}
		if max > 0 {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	// Let an in-flight poll finish before tearing down its context.
	step("stream", 3*time.Second, func(c context.Context) error {
		a.handle.Stop()
		select {
		case <-a.sub.Done():
			return nil
		case <-c.Done():
			return c.Err()
		}
	})
	step("sessions", time.Second, a.handle.Wait)

	a.sup.Cancel()

	step("status", time.Second, func(c context.Context) error {
		if a.status == nil {
			return nil
		}
		select {
		case <-a.status.Stop().Done():
			return nil
		case <-c.Done():
			return c.Err()
		}
	})
	// The supervisor wait includes the final user flush, so storage closes after it.
	step("supervisor", 3*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped", a.Status().Fields()...)
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
