package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"slackriver/internal/chat"
	"slackriver/internal/eventbus"
	logx "slackriver/pkg/logx"
)

type fakeSession struct {
	id   string
	done chan struct{}
}

func (f *fakeSession) ID() string            { return f.id }
func (f *fakeSession) Done() <-chan struct{} { return f.done }
func (f *fakeSession) finish()               { close(f.done) }

type fakeRenderer struct {
	mu       sync.Mutex
	sessions []*fakeSession
	failOn   string
}

func (r *fakeRenderer) Show(_ context.Context, msg chat.Message) (Session, error) {
	if r.failOn != "" && msg.Content == r.failOn {
		return nil, errors.New("no display")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &fakeSession{id: fmt.Sprintf("s%d", len(r.sessions)), done: make(chan struct{})}
	r.sessions = append(r.sessions, s)
	return s, nil
}

func (r *fakeRenderer) session(i int) *fakeSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[i]
}

type fakeFeed struct {
	ch       chan chat.Batch
	done     chan struct{}
	stopOnce sync.Once
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{ch: make(chan chat.Batch), done: make(chan struct{})}
}

func (f *fakeFeed) C() <-chan chat.Batch  { return f.ch }
func (f *fakeFeed) Done() <-chan struct{} { return f.done }
func (f *fakeFeed) Stop() {
	f.stopOnce.Do(func() {
		close(f.ch)
		close(f.done)
	})
}

func batchOf(texts ...string) chat.Batch {
	b := make(chat.Batch, 0, len(texts))
	for i, s := range texts {
		b = append(b, chat.Message{Content: s, Timestamp: time.Unix(int64(100+i), 0)})
	}
	return b
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSupervisorReclaimsFinishedSessionsOnNextBatch(t *testing.T) {
	r := &fakeRenderer{}
	feed := newFakeFeed()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(32)
	defer unsub()
	h := New(r, logx.Nop(), bus, 0).Run(context.Background(), feed)
	defer feed.Stop()

	// s0..s2 show messages a..c; s3 shows d.
	feed.ch <- batchOf("a", "b", "c")
	waitFor(t, "three live sessions", func() bool { return h.Live() == 3 })

	r.session(0).finish()
	r.session(1).finish()
	if h.Live() != 3 {
		t.Fatalf("Live() = %d before next batch, want 3", h.Live())
	}

	feed.ch <- batchOf("d")
	waitFor(t, "reclaim", func() bool { return h.Live() == 2 })

	st := h.Stats()
	if st.Started != 4 || st.Reclaimed != 2 {
		t.Fatalf("stats = %+v", st)
	}

	live := map[string]bool{}
	for i := 0; i < 6; i++ {
		var e eventbus.Event
		select {
		case e = <-events:
		case <-time.After(2 * time.Second):
			t.Fatalf("missing event %d", i)
		}
		id, _ := e.Data.(string)
		switch e.Type {
		case eventbus.TypeSessionStart:
			live[id] = true
		case eventbus.TypeSessionReclaim:
			if !live[id] {
				t.Fatalf("reclaimed %s, which was not live", id)
			}
			delete(live, id)
		}
	}
	if len(live) != 2 || !live["s2"] || !live["s3"] {
		t.Fatalf("live after sweep = %v, want {s2 s3}", live)
	}
}

func TestReclaimKeepsUnfinishedSessionsInOrder(t *testing.T) {
	t.Parallel()
	mk := func(id string, finished bool) *fakeSession {
		s := &fakeSession{id: id, done: make(chan struct{})}
		if finished {
			s.finish()
		}
		return s
	}
	tests := []struct {
		name     string
		finished []bool
		want     []string
	}{
		{name: "none finished", finished: []bool{false, false, false}, want: []string{"a", "b", "c"}},
		{name: "all finished", finished: []bool{true, true, true}, want: nil},
		{name: "middle finished", finished: []bool{false, true, false}, want: []string{"a", "c"}},
		{name: "first two finished", finished: []bool{true, true, false}, want: []string{"c"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var live []Session
			for i, id := range []string{"a", "b", "c"} {
				live = append(live, mk(id, tt.finished[i]))
			}
			h := &Handle{}
			kept := New(&fakeRenderer{}, logx.Nop(), nil, 0).reclaim(live, h)

			var got []string
			for _, s := range kept {
				got = append(got, s.ID())
			}
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Fatalf("kept = %v, want %v", got, tt.want)
			}
			if int(h.reclaimed.Load()) != 3-len(tt.want) {
				t.Fatalf("reclaimed = %d", h.reclaimed.Load())
			}
		})
	}
}

func TestSupervisorStartsOneSessionPerMessageInOrder(t *testing.T) {
	r := &fakeRenderer{}
	feed := newFakeFeed()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	h := New(r, logx.Nop(), bus, 0).Run(context.Background(), feed)
	feed.ch <- batchOf("one", "two")
	feed.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.Wait(ctx); err != nil {
		t.Fatalf("Wait() = %v", err)
	}

	for _, want := range []string{"s0", "s1"} {
		e := <-events
		if e.Type != eventbus.TypeSessionStart || e.Data != want {
			t.Fatalf("event = %+v, want start of %s", e, want)
		}
	}
}

func TestSupervisorSkipsFailedSessions(t *testing.T) {
	r := &fakeRenderer{failOn: "bad"}
	feed := newFakeFeed()
	h := New(r, logx.Nop(), nil, 1).Run(context.Background(), feed)
	defer feed.Stop()

	feed.ch <- batchOf("ok", "bad", "ok too")
	waitFor(t, "two live sessions", func() bool { return h.Live() == 2 })
	if h.Stats().Failed != 1 {
		t.Fatalf("failed = %d, want 1", h.Stats().Failed)
	}
}

func TestSupervisorStopLeavesSessionsRunning(t *testing.T) {
	r := &fakeRenderer{}
	feed := newFakeFeed()
	h := New(r, logx.Nop(), nil, 0).Run(context.Background(), feed)

	feed.ch <- batchOf("x")
	waitFor(t, "one live session", func() bool { return h.Live() == 1 })
	h.Stop()
	<-h.Done()

	select {
	case <-r.session(0).Done():
		t.Fatal("session should keep running after Stop")
	default:
	}
}

func TestSupervisorExitsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := New(&fakeRenderer{}, logx.Nop(), nil, 0).Run(ctx, newFakeFeed())
	cancel()
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit")
	}
}
