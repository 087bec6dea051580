package stream

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// parseTS converts a platform timestamp ("<unix-seconds>.<fraction>") to a
// time. The fraction is dropped: precision is whole seconds.
func parseTS(ts string) (time.Time, error) {
	sec, _, _ := strings.Cut(strings.TrimSpace(ts), ".")
	n, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q: %w", ts, err)
	}
	return time.Unix(n, 0), nil
}

// formatCursor renders a start instant as a whole-second platform timestamp.
func formatCursor(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}

// compareTS orders two platform timestamps without floating point.
// ok is false when either side is not a timestamp.
func compareTS(a, b string) (cmp int, ok bool) {
	as, af, _ := strings.Cut(strings.TrimSpace(a), ".")
	bs, bf, _ := strings.Cut(strings.TrimSpace(b), ".")
	ai, err := strconv.ParseInt(as, 10, 64)
	if err != nil {
		return 0, false
	}
	bi, err := strconv.ParseInt(bs, 10, 64)
	if err != nil {
		return 0, false
	}
	switch {
	case ai < bi:
		return -1, true
	case ai > bi:
		return 1, true
	}
	for len(af) < len(bf) {
		af += "0"
	}
	for len(bf) < len(af) {
		bf += "0"
	}
	return strings.Compare(af, bf), true
}
