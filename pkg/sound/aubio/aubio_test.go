package aubio

import (
	"errors"
	"testing"
	"time"
)

func TestParseTempo(t *testing.T) {
	got, err := parseTempo("some warning\n120.5 bpm\n")
	if err != nil || got != 120.5 {
		t.Fatalf("parseTempo() = %v, %v; want 120.5", got, err)
	}
	if _, err := parseTempo("nothing\n"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("parseTempo() err = %v; want %v", err, ErrNotFound)
	}
}

func TestParseBeats(t *testing.T) {
	got, err := parseBeats("0.5\n1.0\nfoo\n1.5\n")
	if err != nil || len(got) != 3 || got[2] != 1.5 {
		t.Fatalf("parseBeats() = %v, %v; want [0.5 1 1.5]", got, err)
	}
}

func TestParseFragments(t *testing.T) {
	data := "NOISY: 0.000000\nQUIET: 10.000000\nNOISY: 12.500000\nQUIET: 20.000000\nNOISY: 20.500000\nQUIET: 58.000000\n"
	got, err := parseFragments(data, true, time.Minute, time.Second)
	if err != nil {
		t.Fatalf("parseFragments() err = %v; want nil", err)
	}
	want := [][2]time.Duration{
		{10 * time.Second, 12500 * time.Millisecond},
		{58 * time.Second, time.Minute},
	}
	if len(got) != len(want) {
		t.Fatalf("parseFragments() = %v; want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("parseFragments()[%d] = %v; want %v", i, got[i], want[i])
		}
	}
}

func TestParseVersion(t *testing.T) {
	got, err := parseVersion("aubio version 0.4.9\nextra\n")
	if err != nil || got != "0.4.9" {
		t.Fatalf("parseVersion() = %q, %v; want 0.4.9", got, err)
	}
	if _, err := parseVersion("command not found\n"); err == nil {
		t.Fatal("parseVersion() err = nil; want error")
	}
}
