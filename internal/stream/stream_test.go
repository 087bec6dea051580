package stream

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"slackriver/internal/chat"
	"slackriver/internal/eventbus"
	"slackriver/internal/slack"
	logx "slackriver/pkg/logx"
)

type fetchResult struct {
	page []slack.RawMessage
	err  error
}

// scriptFetcher replays results in order, then returns empty pages.
type scriptFetcher struct {
	mu      sync.Mutex
	script  []fetchResult
	cursors []string
	calls   chan string
}

func newScriptFetcher(results ...fetchResult) *scriptFetcher {
	return &scriptFetcher{script: results, calls: make(chan string, 64)}
}

func (f *scriptFetcher) FetchSince(_ context.Context, cursor string) ([]slack.RawMessage, error) {
	f.mu.Lock()
	f.cursors = append(f.cursors, cursor)
	var r fetchResult
	if len(f.script) > 0 {
		r = f.script[0]
		f.script = f.script[1:]
	}
	f.mu.Unlock()
	select {
	case f.calls <- cursor:
	default:
	}
	return r.page, r.err
}

func (f *scriptFetcher) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cursors...)
}

type mapResolver map[string]chat.UserRef

func (m mapResolver) Resolve(_ context.Context, id string) (chat.UserRef, bool) {
	u, ok := m[id]
	return u, ok
}

func (m mapResolver) Substitute(_ context.Context, text string) string {
	if u, ok := m["U1"]; ok {
		return strings.ReplaceAll(text, "<@U1>", "@"+u.Label()+" ")
	}
	return text
}

// countingAfter fires immediately and counts waits.
type countingAfter struct{ n atomic.Int64 }

func (c *countingAfter) after(time.Duration) <-chan time.Time {
	c.n.Add(1)
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func newTestStream(f Fetcher, r Resolver) (*Stream, *countingAfter) {
	s := New(f, r, time.Millisecond, logx.Nop(), eventbus.New())
	ca := &countingAfter{}
	s.after = ca.after
	return s, ca
}

func waitCalls(t *testing.T, f *scriptFetcher, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-f.calls:
		case <-time.After(2 * time.Second):
			t.Fatalf("fetch call %d never happened", i+1)
		}
	}
}

func TestStreamEmitsOldestFirstAndAdvancesCursor(t *testing.T) {
	f := newScriptFetcher(fetchResult{page: []slack.RawMessage{
		{User: "U1", Text: "hi <@U1>", TS: "100.000"},
		{Text: "yo", TS: "90.000"},
	}})
	s, _ := newTestStream(f, mapResolver{"U1": {Name: "bob", DisplayName: "Bob"}})

	sub := s.Start(context.Background(), time.Unix(80, 0))
	defer sub.Stop()

	var batch chat.Batch
	select {
	case batch = <-sub.C():
	case <-time.After(2 * time.Second):
		t.Fatal("no batch emitted")
	}
	if len(batch) != 2 {
		t.Fatalf("len(batch) = %d, want 2", len(batch))
	}
	if batch[0].Content != "yo" || !batch[0].Timestamp.Equal(time.Unix(90, 0)) {
		t.Fatalf("first = %+v, want yo@90", batch[0])
	}
	if batch[1].Content != "hi @Bob " || !batch[1].Timestamp.Equal(time.Unix(100, 0)) {
		t.Fatalf("second = %+v, want 'hi @Bob '@100", batch[1])
	}
	if batch[1].Author.Label() != "Bob" || !batch[0].Author.IsZero() {
		t.Fatalf("authors = %+v / %+v", batch[0].Author, batch[1].Author)
	}

	waitCalls(t, f, 2)
	got := f.seen()
	if got[0] != "80" {
		t.Fatalf("first cursor = %q, want whole-second start 80", got[0])
	}
	if got[1] != "100.000" {
		t.Fatalf("second cursor = %q, want raw newest ts 100.000", got[1])
	}
}

func TestStreamNotOKEmitsNothingAndRetriesSameCursor(t *testing.T) {
	f := newScriptFetcher(
		fetchResult{err: slack.ErrNotOK},
		fetchResult{err: errors.New("dial tcp: connection refused")},
	)
	s, waits := newTestStream(f, mapResolver{})
	bus := s.bus
	events, unsub := bus.Subscribe(8)
	defer unsub()

	sub := s.Start(context.Background(), time.Unix(50, 0))
	waitCalls(t, f, 3)
	sub.Stop()

	for b := range sub.C() {
		t.Fatalf("unexpected batch %+v", b)
	}
	for _, c := range f.seen() {
		if c != "50" {
			t.Fatalf("cursor moved to %q after failures", c)
		}
	}
	if waits.n.Load() < 2 {
		t.Fatalf("waits = %d, want at least 2", waits.n.Load())
	}
	e := <-events
	if e.Type != eventbus.TypePollFailed {
		t.Fatalf("event = %q, want %q", e.Type, eventbus.TypePollFailed)
	}
}

func TestStreamEmptyPagesKeepCursor(t *testing.T) {
	f := newScriptFetcher(fetchResult{page: []slack.RawMessage{}}, fetchResult{})
	s, waits := newTestStream(f, mapResolver{})

	sub := s.Start(context.Background(), time.Unix(7, 0))
	waitCalls(t, f, 3)
	sub.Stop()
	<-sub.Done()

	seen := f.seen()
	if seen[0] != "7" || seen[1] != "7" || seen[2] != "7" {
		t.Fatalf("cursors = %v, want unchanged", seen[:3])
	}
	if waits.n.Load() < 2 {
		t.Fatalf("waits = %d, want at least 2", waits.n.Load())
	}
	if sub.Cursor() != "7" {
		t.Fatalf("Cursor() = %q", sub.Cursor())
	}
}

func TestStreamCursorNeverRegresses(t *testing.T) {
	f := newScriptFetcher(
		fetchResult{page: []slack.RawMessage{{Text: "a", TS: "100.500"}}},
		fetchResult{page: []slack.RawMessage{{Text: "b", TS: "100.2"}}},
		fetchResult{page: []slack.RawMessage{{Text: "c", TS: "101.000001"}}},
	)
	s, _ := newTestStream(f, mapResolver{})
	sub := s.Start(context.Background(), time.Unix(0, 0))
	defer sub.Stop()

	for i := 0; i < 3; i++ {
		select {
		case <-sub.C():
		case <-time.After(2 * time.Second):
			t.Fatalf("batch %d missing", i)
		}
	}
	waitCalls(t, f, 4)

	seen := f.seen()
	want := []string{"0", "100.500", "100.500", "101.000001"}
	for i, w := range want {
		if seen[i] != w {
			t.Fatalf("cursor[%d] = %q, want %q (all: %v)", i, seen[i], w, seen)
		}
	}
	for i := 1; i < len(seen); i++ {
		if cmp, ok := compareTS(seen[i], seen[i-1]); !ok || cmp < 0 {
			t.Fatalf("cursor regressed: %q after %q", seen[i], seen[i-1])
		}
	}
}

func TestStreamSkipsBadTimestamps(t *testing.T) {
	f := newScriptFetcher(fetchResult{page: []slack.RawMessage{
		{Text: "new", TS: "200.1"},
		{Text: "broken", TS: "not-a-ts"},
		{Text: "old", TS: "150.1"},
	}})
	s, _ := newTestStream(f, mapResolver{})
	sub := s.Start(context.Background(), time.Unix(0, 0))
	defer sub.Stop()

	b := <-sub.C()
	if len(b) != 2 || b[0].Content != "old" || b[1].Content != "new" {
		t.Fatalf("batch = %+v", b)
	}
}

func TestStreamStopClosesChannels(t *testing.T) {
	f := newScriptFetcher()
	s := New(f, mapResolver{}, time.Hour, logx.Nop(), nil)
	sub := s.Start(context.Background(), time.Unix(0, 0))
	waitCalls(t, f, 1)

	sub.Stop()
	sub.Stop()
	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit after Stop")
	}
	if _, ok := <-sub.C(); ok {
		t.Fatal("C() should be closed")
	}
}

func TestStreamContextCancel(t *testing.T) {
	f := newScriptFetcher()
	s := New(f, mapResolver{}, time.Hour, logx.Nop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	sub := s.Start(ctx, time.Unix(0, 0))
	waitCalls(t, f, 1)
	cancel()
	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit after cancel")
	}
}

func TestSetIntervalDefaults(t *testing.T) {
	t.Parallel()
	s := New(newScriptFetcher(), mapResolver{}, 0, logx.Nop(), nil)
	if s.Interval() != defaultInterval {
		t.Fatalf("Interval() = %v, want %v", s.Interval(), defaultInterval)
	}
	s.SetInterval(3 * time.Second)
	if s.Interval() != 3*time.Second {
		t.Fatalf("Interval() = %v", s.Interval())
	}
}
