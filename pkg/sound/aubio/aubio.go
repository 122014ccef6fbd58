// Package aubio runs the aubio command line tool.
package aubio

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

var ErrNotFound = errors.New("aubio: no value found")

type App struct {
	bin string
}

// New returns an app running the given binary, aubio from PATH if empty.
func New(bin string) *App {
	if bin == "" {
		bin = "aubio"
	}
	return &App{bin: bin}
}

// Version returns the installed aubio version.
func (a *App) Version(ctx context.Context) (string, error) {
	data, err := a.run(ctx, "--version")
	if err != nil {
		return "", fmt.Errorf("aubio: couldn't get version: %w", err)
	}
	return parseVersion(string(data))
}

func parseVersion(data string) (string, error) {
	line := strings.TrimSpace(data)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	if !strings.HasPrefix(line, "aubio version") {
		return "", fmt.Errorf("aubio: invalid version: %s", line)
	}
	return strings.TrimSpace(strings.TrimPrefix(line, "aubio version")), nil
}

// Beats returns the beat positions in seconds.
func (a *App) Beats(ctx context.Context, input string) ([]float64, error) {
	data, err := a.run(ctx, "beat", input)
	if err != nil {
		return nil, fmt.Errorf("aubio: couldn't get beats: %w", err)
	}
	return parseBeats(string(data))
}

func parseBeats(data string) ([]float64, error) {
	var beats []float64
	for _, line := range strings.Split(data, "\n") {
		b, err := strconv.ParseFloat(strings.TrimSpace(line), 64)
		if err != nil {
			continue
		}
		beats = append(beats, b)
	}
	if len(beats) == 0 {
		return nil, fmt.Errorf("%w: beats", ErrNotFound)
	}
	return beats, nil
}

// Tempo returns the estimated tempo in bpm.
func (a *App) Tempo(ctx context.Context, input string) (float64, error) {
	data, err := a.run(ctx, "tempo", input)
	if err != nil {
		return 0, fmt.Errorf("aubio: couldn't get tempo: %w", err)
	}
	return parseTempo(string(data))
}

func parseTempo(data string) (float64, error) {
	for _, line := range strings.Split(data, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasSuffix(line, " bpm") {
			continue
		}
		t, err := strconv.ParseFloat(strings.TrimSuffix(line, " bpm"), 64)
		if err != nil {
			continue
		}
		return t, nil
	}
	return 0, fmt.Errorf("%w: tempo", ErrNotFound)
}

// Silences returns the quiet fragments longer than minDuration. The last
// fragment ends at duration when the audio ends quiet.
func (a *App) Silences(ctx context.Context, input string, duration, minDuration time.Duration) ([][2]time.Duration, error) {
	data, err := a.run(ctx, "quiet", "-i", input, "-s", "-70")
	if err != nil {
		return nil, fmt.Errorf("aubio: couldn't get silences: %w", err)
	}
	return parseFragments(string(data), true, duration, minDuration)
}

func parseFragments(data string, silence bool, duration, minDuration time.Duration) ([][2]time.Duration, error) {
	data = strings.TrimSpace(data)
	if data == "" {
		return nil, nil
	}
	lines := strings.Split(data, "\n")
	if silence != strings.HasPrefix(lines[0], "QUIET: ") {
		lines = lines[1:]
	}

	var fragments [][2]time.Duration
	for i := 0; i < len(lines); i += 2 {
		t0, err := toTimestamp(lines[i])
		if err != nil {
			return nil, fmt.Errorf("aubio: couldn't parse entry: %w", err)
		}
		t1 := duration
		if i+1 < len(lines) {
			t1, err = toTimestamp(lines[i+1])
			if err != nil {
				return nil, fmt.Errorf("aubio: couldn't parse entry: %w", err)
			}
		}
		if t1-t0 > minDuration {
			fragments = append(fragments, [2]time.Duration{t0, t1})
		}
	}
	return fragments, nil
}

func toTimestamp(line string) (time.Duration, error) {
	line = strings.TrimSpace(line)
	split := strings.Split(line, ": ")
	if len(split) != 2 {
		return 0, fmt.Errorf("invalid line: %s", line)
	}
	if split[0] != "QUIET" && split[0] != "NOISY" {
		return 0, fmt.Errorf("invalid type: %s", split[0])
	}
	f, err := strconv.ParseFloat(split[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration: %w", err)
	}
	return time.Duration(f * float64(time.Second)), nil
}

func (a *App) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, a.bin, args...)
	data, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, err
	}
	return data, nil
}
