// Package ffmpeg runs the ffmpeg command line tool.
package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

type App struct {
	bin string
}

// New returns an app running the given binary, ffmpeg from PATH if empty.
func New(bin string) *App {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &App{bin: bin}
}

// ToMP3 transcodes the input audio to a 320k MP3 file.
func (a *App) ToMP3(ctx context.Context, input, output string) error {
	// Use a temporary file if the input and output are the same
	tmp := output
	if input == output {
		tmp = fmt.Sprintf("%s.tmp%s", strings.TrimSuffix(input, filepath.Ext(input)), ".mp3")
	}
	cmd := exec.CommandContext(ctx, a.bin, mp3Args(input, tmp)...)
	data, err := cmd.CombinedOutput()
	if err != nil {
		if tmp != output {
			_ = os.Remove(tmp)
		}
		return fmt.Errorf("ffmpeg: couldn't convert %s: %w: %s", input, err, lastLine(string(data)))
	}
	if tmp != output {
		_ = os.Remove(output)
		if err := os.Rename(tmp, output); err != nil {
			return fmt.Errorf("ffmpeg: couldn't rename temporary file: %w", err)
		}
	}
	return nil
}

func mp3Args(input, output string) []string {
	return []string{"-y", "-loglevel", "error", "-i", input, "-vn", "-codec:a", "libmp3lame", "-b:a", "320k", output}
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return lines[len(lines)-1]
}
