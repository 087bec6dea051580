package session

import (
	"context"
	"sync/atomic"

	"slackriver/internal/chat"
	"slackriver/internal/eventbus"
	logx "slackriver/pkg/logx"
)

// Session is one message on screen. Done is closed when it has finished
// and its resources may be released.
type Session interface {
	ID() string
	Done() <-chan struct{}
}

// Renderer starts a display session for a message. Show must not block for
// the lifetime of the session.
type Renderer interface {
	Show(ctx context.Context, msg chat.Message) (Session, error)
}

// Feed is a running message stream.
type Feed interface {
	C() <-chan chat.Batch
	Stop()
	Done() <-chan struct{}
}

// Supervisor starts a session for every incoming message and drops
// finished ones each time a batch arrives. The live set has no hard bound.
type Supervisor struct {
	render   Renderer
	log      logx.Logger
	bus      eventbus.Bus
	warnLive int
}

func New(render Renderer, log logx.Logger, bus eventbus.Bus, warnLive int) *Supervisor {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	return &Supervisor{render: render, log: log, bus: bus, warnLive: warnLive}
}

// Handle controls one Run.
type Handle struct {
	feed Feed
	done chan struct{}

	live      atomic.Int64
	started   atomic.Uint64
	reclaimed atomic.Uint64
	failed    atomic.Uint64
}

// Stop stops the feed. Sessions already started keep running until they
// complete on their own.
func (h *Handle) Stop() { h.feed.Stop() }

// Wait blocks until the supervisor loop has exited.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handle) Done() <-chan struct{} { return h.done }

// Live is the size of the live set as of the last batch.
func (h *Handle) Live() int { return int(h.live.Load()) }

type Stats struct {
	Live      int    `json:"live"`
	Started   uint64 `json:"started"`
	Reclaimed uint64 `json:"reclaimed"`
	Failed    uint64 `json:"failed"`
}

func (h *Handle) Stats() Stats {
	return Stats{
		Live:      h.Live(),
		Started:   h.started.Load(),
		Reclaimed: h.reclaimed.Load(),
		Failed:    h.failed.Load(),
	}
}

// Run consumes feed until it closes or ctx is canceled.
func (s *Supervisor) Run(ctx context.Context, feed Feed) *Handle {
	h := &Handle{feed: feed, done: make(chan struct{})}
	go s.loop(ctx, h)
	return h
}

func (s *Supervisor) loop(ctx context.Context, h *Handle) {
	defer close(h.done)

	// Only this goroutine touches live.
	var live []Session
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-h.feed.C():
			if !ok {
				s.log.Info("feed closed", logx.Int("live", len(live)))
				return
			}
			live = s.reclaim(live, h)
			for _, msg := range batch {
				sess, err := s.render.Show(ctx, msg)
				if err != nil {
					h.failed.Add(1)
					s.log.Warn("display session failed to start", logx.Err(err))
					s.bus.Publish(eventbus.Event{Type: eventbus.TypeSessionFailed, Data: err.Error()})
					continue
				}
				live = append(live, sess)
				h.started.Add(1)
				s.bus.Publish(eventbus.Event{Type: eventbus.TypeSessionStart, Data: sess.ID()})
			}
			h.live.Store(int64(len(live)))
			if s.warnLive > 0 && len(live) > s.warnLive {
				s.log.Warn("many live display sessions", logx.Int("live", len(live)), logx.Int("warn_live", s.warnLive))
			}
		}
	}
}

// reclaim drops every session whose Done channel is closed. It never waits.
func (s *Supervisor) reclaim(live []Session, h *Handle) []Session {
	kept := live[:0]
	for _, sess := range live {
		select {
		case <-sess.Done():
			h.reclaimed.Add(1)
			s.bus.Publish(eventbus.Event{Type: eventbus.TypeSessionReclaim, Data: sess.ID()})
		default:
			kept = append(kept, sess)
		}
	}
	clear(live[len(kept):])
	return kept
}
