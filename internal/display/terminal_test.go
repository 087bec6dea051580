package display

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"slackriver/internal/chat"
	logx "slackriver/pkg/logx"
)

func newTestTerminal(width, lanes, step int) (*Terminal, *bytes.Buffer) {
	var buf bytes.Buffer
	t := NewTerminal(Config{Width: width, Lanes: lanes, Step: step, FrameInterval: time.Millisecond}, &buf, logx.Nop())
	return t, &buf
}

func plain(s string) string { return s }

func TestPlaceQueuesBehindLaneTail(t *testing.T) {
	t.Parallel()
	term, _ := newTestTerminal(20, 2, 1)
	msg := chat.Message{Author: chat.UserRef{Name: "a"}, Content: "0123456789"}

	s1, _ := term.Show(context.Background(), msg)
	s2, _ := term.Show(context.Background(), msg)
	s3, _ := term.Show(context.Background(), msg)

	a, b, c := s1.(*item), s2.(*item), s3.(*item)
	if a.x != 20 || b.x != 20 {
		t.Fatalf("first two items should enter at the right edge: %d, %d", a.x, b.x)
	}
	if want := a.tail() + laneGap; c.x != want {
		t.Fatalf("third item x = %d, want %d (queued behind lane tail)", c.x, want)
	}
	if term.Live() != 3 {
		t.Fatalf("Live() = %d", term.Live())
	}
}

func TestAdvanceCompletesOffscreenItems(t *testing.T) {
	t.Parallel()
	term, _ := newTestTerminal(4, 1, 2)
	s, _ := term.Show(context.Background(), chat.Message{Content: "hi"})
	w := s.(*item).width

	frames := 0
	for {
		select {
		case <-s.Done():
			// entering from x=4 needs (4+w)/2 steps, rounded up
			if want := (4 + w + 1) / 2; frames != want {
				t.Fatalf("completed after %d frames, want %d", frames, want)
			}
			if term.Live() != 0 {
				t.Fatalf("Live() = %d after completion", term.Live())
			}
			return
		default:
		}
		if frames > 100 {
			t.Fatal("item never completed")
		}
		term.advance()
		frames++
	}
}

func TestRenderLaneClipsBothEdges(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		items []*item
		width int
		want  string
	}{
		{
			name:  "entering on the right",
			items: []*item{{text: "hello", width: 5, x: 7, style: plain}},
			width: 10,
			want:  "       hel",
		},
		{
			name:  "leaving on the left",
			items: []*item{{text: "hello", width: 5, x: -3, style: plain}},
			width: 10,
			want:  "lo",
		},
		{
			name: "two items with gap",
			items: []*item{
				{text: "bb", width: 2, x: 6, style: plain},
				{text: "aa", width: 2, x: 1, style: plain},
			},
			width: 10,
			want:  " aa   bb",
		},
		{
			name:  "offscreen item skipped",
			items: []*item{{text: "x", width: 1, x: -1}},
			width: 10,
			want:  "",
		},
	}
	for _, tt := range tests {
		if got := renderLane(tt.items, tt.width); got != tt.want {
			t.Fatalf("%s: renderLane() = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestSkipCellsWideRunes(t *testing.T) {
	t.Parallel()
	if got := skipCells("日本", 1); got != " 本" {
		t.Fatalf("skipCells half a wide rune = %q", got)
	}
	if got := skipCells("日本", 2); got != "本" {
		t.Fatalf("skipCells whole rune = %q", got)
	}
	if got := skipCells("ab", 5); got != "" {
		t.Fatalf("skipCells past end = %q", got)
	}
}

func TestTerminalRunReleasesSessionsOnCancel(t *testing.T) {
	t.Parallel()
	term, buf := newTestTerminal(1000, 1, 1)
	s, _ := term.Show(context.Background(), chat.Message{Content: "a long message that stays on screen"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		term.Run(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	select {
	case <-s.Done():
	default:
		t.Fatal("session not released when painter stopped")
	}
	if !strings.Contains(buf.String(), "\x1b[H") {
		t.Fatal("no frame was written")
	}
}

func TestLogSessionCompletesAfterHold(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	l := NewLog(10*time.Millisecond, logx.NewWriter(&out, "INFO"))
	s, err := l.Show(context.Background(), chat.Message{Author: chat.UserRef{DisplayName: "Bob"}, Content: "hey"})
	if err != nil {
		t.Fatalf("Show() error: %v", err)
	}
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("log session never completed")
	}
	if !strings.Contains(out.String(), `"from":"@Bob"`) {
		t.Fatalf("log output = %s", out.String())
	}
}

func TestDesktopNotifyFailure(t *testing.T) {
	t.Parallel()
	d := NewDesktop(time.Millisecond, logx.Nop())
	var title, body string
	d.notify = func(t, b string) error {
		title, body = t, b
		return nil
	}
	s, err := d.Show(context.Background(), chat.Message{Content: "line one\nline two"})
	if err != nil || s == nil {
		t.Fatalf("Show() = %v, %v", s, err)
	}
	if title != "slack" || body != "line one line two" {
		t.Fatalf("notify(%q, %q)", title, body)
	}

	d.notify = func(string, string) error { return errors.New("no dbus") }
	if _, err := d.Show(context.Background(), chat.Message{Content: "x"}); err == nil {
		t.Fatal("expected notify error")
	}
}

func TestNewRejectsUnknownMode(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Mode: "hologram"}, nil, logx.Nop()); err == nil {
		t.Fatal("expected error")
	}
	r, err := New(Config{Mode: "LOG"}, nil, logx.Nop())
	if err != nil {
		t.Fatalf("New(log) error: %v", err)
	}
	if _, ok := r.(*Log); !ok {
		t.Fatalf("New(log) = %T", r)
	}
}
