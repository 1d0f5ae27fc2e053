package main

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/five82/tether/internal/app"
)

func TestParseArgs(t *testing.T) {
	got, err := parseArgs([]string{"-c", "/tmp/t.toml", "--poll", "10", "--listen", ":9000", "--headless", "-v"})
	if err != nil {
		t.Fatalf("parseArgs returned error: %v", err)
	}
	want := app.Options{
		ConfigPath: "/tmp/t.toml",
		PollEvery:  10 * time.Second,
		Listen:     ":9000",
		Headless:   true,
		Verbose:    true,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("options mismatch (-want +got):\n%s", diff)
	}
}

func TestParseArgs_Rejects(t *testing.T) {
	for _, args := range [][]string{
		{"--poll", "soon"},
		{"--poll", "-3"},
		{"extra"},
		{"--nope"},
	} {
		if _, err := parseArgs(args); err == nil {
			t.Errorf("parseArgs(%q) expected error", args)
		}
	}
}

func TestParsePoll(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{in: "", want: 0},
		{in: "3", want: 3 * time.Second},
		{in: "1500ms", want: 1500 * time.Millisecond},
		{in: " 2m ", want: 2 * time.Minute},
	}
	for _, tt := range tests {
		got, err := parsePoll(tt.in)
		if err != nil {
			t.Fatalf("parsePoll(%q) returned error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("parsePoll(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
