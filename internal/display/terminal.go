package display

import (
	"context"
	"hash/fnv"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/mattn/go-runewidth"
	"golang.org/x/term"

	"slackriver/internal/chat"
	"slackriver/internal/session"
	logx "slackriver/pkg/logx"
)

const (
	defaultWidth = 80
	laneGap      = 4
)

var authorPalette = []lipgloss.Color{
	lipgloss.Color("111"),
	lipgloss.Color("157"),
	lipgloss.Color("216"),
	lipgloss.Color("36"),
	lipgloss.Color("183"),
	lipgloss.Color("230"),
}

// item is one message crossing the screen. x is the column of its first
// cell and may be negative while it leaves on the left.
type item struct {
	id    string
	text  string
	width int
	x     int
	style func(string) string
	done  chan struct{}
}

func (it *item) ID() string            { return it.id }
func (it *item) Done() <-chan struct{} { return it.done }

// offscreen reports whether the whole item has scrolled past column 0.
func (it *item) offscreen() bool { return it.x+it.width <= 0 }

func (it *item) tail() int { return it.x + it.width }

// Terminal scrolls messages right to left across a fixed number of lanes.
// A session completes once its text has fully left the screen.
type Terminal struct {
	out      io.Writer
	log      logx.Logger
	interval time.Duration
	step     int
	width    int

	mu    sync.Mutex
	lanes [][]*item
	drawn bool
}

func NewTerminal(cfg Config, out io.Writer, log logx.Logger) *Terminal {
	if out == nil {
		out = logx.Stdout()
	}
	lanes := cfg.Lanes
	if lanes <= 0 {
		lanes = 5
	}
	step := cfg.Step
	if step <= 0 {
		step = 2
	}
	interval := cfg.FrameInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	width := cfg.Width
	if width <= 0 {
		width = detectWidth(out)
	}
	return &Terminal{
		out:      out,
		log:      log,
		interval: interval,
		step:     step,
		width:    width,
		lanes:    make([][]*item, lanes),
	}
}

func detectWidth(out io.Writer) int {
	f, ok := out.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return defaultWidth
	}
	w, _, err := term.GetSize(int(f.Fd()))
	if err != nil || w <= 0 {
		return defaultWidth
	}
	return w
}

func authorStyle(author chat.UserRef) func(string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(author.Name))
	st := lipgloss.NewStyle().Foreground(authorPalette[h.Sum32()%uint32(len(authorPalette))])
	return func(s string) string { return st.Render(s) }
}

func (t *Terminal) Show(_ context.Context, msg chat.Message) (session.Session, error) {
	text := headline(msg) + ": " + flatten(msg.Content)
	it := &item{
		id:    uuid.NewString(),
		text:  text,
		width: runewidth.StringWidth(text),
		style: authorStyle(msg.Author),
		done:  make(chan struct{}),
	}
	t.mu.Lock()
	t.place(it)
	t.mu.Unlock()
	return it, nil
}

// place puts it in the lane whose last item leaves room soonest. The item
// enters at the right edge, or queues behind that lane's tail.
func (t *Terminal) place(it *item) {
	best, bestTail := 0, 0
	for i, lane := range t.lanes {
		tail := 0
		if n := len(lane); n > 0 {
			tail = lane[n-1].tail()
		}
		if i == 0 || tail < bestTail {
			best, bestTail = i, tail
		}
	}
	it.x = max(t.width, bestTail+laneGap)
	t.lanes[best] = append(t.lanes[best], it)
}

// Run paints frames until ctx ends, then releases every remaining session.
func (t *Terminal) Run(ctx context.Context) {
	tick := time.NewTicker(t.interval)
	defer tick.Stop()
	defer t.release()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if frame, ok := t.advance(); ok {
				if _, err := io.WriteString(t.out, frame); err != nil {
					t.log.Debug("terminal write failed", logx.Err(err))
				}
			}
		}
	}
}

// advance moves every item one step left, completes the ones that left the
// screen, and returns the frame to draw. ok is false when nothing changed.
func (t *Terminal) advance() (frame string, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	active := 0
	for i, lane := range t.lanes {
		kept := lane[:0]
		for _, it := range lane {
			it.x -= t.step
			if it.offscreen() {
				close(it.done)
				continue
			}
			kept = append(kept, it)
		}
		clear(lane[len(kept):])
		t.lanes[i] = kept
		active += len(kept)
	}
	if active == 0 && !t.drawn {
		return "", false
	}
	t.drawn = active > 0

	var b strings.Builder
	b.WriteString("\x1b[H")
	for _, lane := range t.lanes {
		b.WriteString(renderLane(lane, t.width))
		b.WriteString("\x1b[K\n")
	}
	return b.String(), true
}

func (t *Terminal) release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, lane := range t.lanes {
		for _, it := range lane {
			close(it.done)
		}
		t.lanes[i] = nil
	}
}

// Live counts items still on screen or queued to enter.
func (t *Terminal) Live() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, lane := range t.lanes {
		n += len(lane)
	}
	return n
}

// renderLane draws the visible cells of one lane, padded with spaces
// between items. Items must not overlap.
func renderLane(items []*item, width int) string {
	sorted := append([]*item(nil), items...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].x < sorted[j].x })

	var b strings.Builder
	col := 0
	for _, it := range sorted {
		if it.offscreen() || it.x >= width {
			continue
		}
		start := max(it.x, 0)
		if start < col {
			continue
		}
		seg := skipCells(it.text, start-it.x)
		seg = runewidth.Truncate(seg, width-start, "")
		if seg == "" {
			continue
		}
		b.WriteString(strings.Repeat(" ", start-col))
		if it.style != nil {
			b.WriteString(it.style(seg))
		} else {
			b.WriteString(seg)
		}
		col = start + runewidth.StringWidth(seg)
	}
	return b.String()
}

// skipCells drops the first n display cells of s. A wide rune cut in half
// becomes a space so columns stay aligned.
func skipCells(s string, n int) string {
	if n <= 0 {
		return s
	}
	for i, r := range s {
		if n <= 0 {
			return s[i:]
		}
		w := runewidth.RuneWidth(r)
		if w > n {
			return strings.Repeat(" ", w-n) + s[i+len(string(r)):]
		}
		n -= w
	}
	return ""
}

func truncateCells(s string, n int) string {
	return runewidth.Truncate(s, n, "…")
}
