package stream

import (
	"testing"
	"time"
)

func TestParseTSTruncatesFraction(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "1700000000.123456", want: 1700000000},
		{in: "90.000", want: 90},
		{in: "42", want: 42},
		{in: "", wantErr: true},
		{in: "abc.1", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseTS(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("parseTS(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseTS(%q) error: %v", tt.in, err)
		}
		if !got.Equal(time.Unix(tt.want, 0)) {
			t.Fatalf("parseTS(%q) = %v, want %d", tt.in, got, tt.want)
		}
	}
}

func TestCompareTS(t *testing.T) {
	t.Parallel()
	tests := []struct {
		a, b string
		want int
		ok   bool
	}{
		{a: "100.000", b: "100", want: 0, ok: true},
		{a: "100.5", b: "100.4999", want: 1, ok: true},
		{a: "99.9", b: "100", want: -1, ok: true},
		{a: "101", b: "100.999999", want: 1, ok: true},
		{a: "x", b: "1", ok: false},
	}
	for _, tt := range tests {
		got, ok := compareTS(tt.a, tt.b)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Fatalf("compareTS(%q, %q) = %d, %v; want %d, %v", tt.a, tt.b, got, ok, tt.want, tt.ok)
		}
	}
	if formatCursor(time.Unix(1700000000, 999)) != "1700000000" {
		t.Fatal("formatCursor should render whole seconds")
	}
}
