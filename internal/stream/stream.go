package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"slackriver/internal/chat"
	"slackriver/internal/eventbus"
	"slackriver/internal/slack"
	logx "slackriver/pkg/logx"
)

// Fetcher returns one page of history newer than cursor, newest first.
type Fetcher interface {
	FetchSince(ctx context.Context, cursor string) ([]slack.RawMessage, error)
}

// Resolver fills in authors and mention tokens.
type Resolver interface {
	Resolve(ctx context.Context, userID string) (chat.UserRef, bool)
	Substitute(ctx context.Context, text string) string
}

const defaultInterval = 5 * time.Second

// Stream polls channel history on a fixed interval and emits each cycle's
// new messages, oldest first.
type Stream struct {
	fetch   Fetcher
	resolve Resolver
	log     logx.Logger
	bus     eventbus.Bus

	interval atomic.Int64

	// after is time.After; tests replace it to observe waits.
	after func(time.Duration) <-chan time.Time
}

func New(fetch Fetcher, resolve Resolver, interval time.Duration, log logx.Logger, bus eventbus.Bus) *Stream {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	s := &Stream{fetch: fetch, resolve: resolve, log: log, bus: bus, after: time.After}
	s.SetInterval(interval)
	return s
}

// SetInterval changes the poll interval; the running loop picks it up at
// its next wait.
func (s *Stream) SetInterval(d time.Duration) {
	if d <= 0 {
		d = defaultInterval
	}
	s.interval.Store(int64(d))
}

func (s *Stream) Interval() time.Duration { return time.Duration(s.interval.Load()) }

// Subscription is one running poll loop. It has a single consumer and
// cannot be restarted.
type Subscription struct {
	out  chan chat.Batch
	stop chan struct{}
	done chan struct{}

	stopOnce sync.Once

	mu     sync.Mutex
	cursor string

	cycles atomic.Uint64
}

// C delivers batches. It is closed when the loop exits.
func (sub *Subscription) C() <-chan chat.Batch { return sub.out }

// Stop ends polling. An in-flight request is allowed to finish; its page is
// discarded.
func (sub *Subscription) Stop() { sub.stopOnce.Do(func() { close(sub.stop) }) }

// Done is closed after the loop has exited.
func (sub *Subscription) Done() <-chan struct{} { return sub.done }

// Cursor is the oldest bound the next request will use.
func (sub *Subscription) Cursor() string {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.cursor
}

// Cycles counts completed poll cycles.
func (sub *Subscription) Cycles() uint64 { return sub.cycles.Load() }

func (sub *Subscription) setCursor(c string) {
	sub.mu.Lock()
	sub.cursor = c
	sub.mu.Unlock()
}

func (sub *Subscription) stopped() bool {
	select {
	case <-sub.stop:
		return true
	default:
		return false
	}
}

// Start begins polling for messages newer than start. Cancelling ctx aborts
// immediately, including any request in flight.
func (s *Stream) Start(ctx context.Context, start time.Time) *Subscription {
	sub := &Subscription{
		out:    make(chan chat.Batch),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		cursor: formatCursor(start),
	}
	go s.run(ctx, sub)
	return sub
}

func (s *Stream) run(ctx context.Context, sub *Subscription) {
	defer close(sub.done)
	defer close(sub.out)

	s.log.Info("polling started", logx.String("cursor", sub.Cursor()), logx.Duration("interval", s.Interval()))
	defer s.log.Info("polling stopped", logx.String("cursor", sub.Cursor()), logx.Uint64("cycles", sub.Cycles()))

	for {
		if ctx.Err() != nil || sub.stopped() {
			return
		}
		if !s.cycle(ctx, sub) {
			return
		}
		sub.cycles.Add(1)

		select {
		case <-ctx.Done():
			return
		case <-sub.stop:
			return
		case <-s.after(s.Interval()):
		}
	}
}

// cycle runs one fetch and emission. It returns false when the
// subscription ended while a batch was waiting for the consumer.
func (s *Stream) cycle(ctx context.Context, sub *Subscription) bool {
	cursor := sub.Cursor()
	page, err := s.fetch.FetchSince(ctx, cursor)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		s.log.Warn("poll failed; retrying next cycle", logx.String("cursor", cursor), logx.Err(err))
		s.bus.Publish(eventbus.Event{Type: eventbus.TypePollFailed, Data: err.Error()})
		return true
	}
	if len(page) == 0 || sub.stopped() {
		return true
	}

	batch := s.decode(ctx, page)
	if len(batch) > 0 {
		select {
		case sub.out <- batch:
		case <-sub.stop:
			return false
		case <-ctx.Done():
			return false
		}
	}

	// page[0] is the newest record; its raw ts bounds the next request.
	next := page[0].TS
	if cmp, ok := compareTS(next, cursor); ok && cmp > 0 {
		sub.setCursor(next)
	} else {
		s.log.Warn("page did not advance cursor", logx.String("cursor", cursor), logx.String("newest", next))
	}

	s.log.Debug("batch emitted", logx.Int("count", len(batch)), logx.String("cursor", sub.Cursor()))
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeBatch, Data: BatchInfo{Count: len(batch), Cursor: sub.Cursor()}})
	return true
}

// decode turns a newest-first page into oldest-first messages.
func (s *Stream) decode(ctx context.Context, page []slack.RawMessage) chat.Batch {
	batch := make(chat.Batch, 0, len(page))
	for i := len(page) - 1; i >= 0; i-- {
		raw := page[i]
		ts, err := parseTS(raw.TS)
		if err != nil {
			s.log.Warn("skipping message with bad timestamp", logx.String("ts", raw.TS), logx.Err(err))
			continue
		}
		var author chat.UserRef
		if raw.User != "" {
			author, _ = s.resolve.Resolve(ctx, raw.User)
		}
		batch = append(batch, chat.Message{
			Author:    author,
			Content:   s.resolve.Substitute(ctx, raw.Text),
			Timestamp: ts,
		})
	}
	return batch
}

// BatchInfo is the payload of eventbus.TypeBatch.
type BatchInfo struct {
	Count  int    `json:"count"`
	Cursor string `json:"cursor"`
}
