// Package ui renders analysis and generation progress to the terminal.
package ui

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/igolaizola/sunoprompt/pkg/music"
)

var styles = NewPalette("#7D56F4", "#04B575", "#FF0000", "#FFA500", "#626262")

// Palette holds the styles used by the renderer.
type Palette struct {
	title lipgloss.Style
	ok    lipgloss.Style
	err   lipgloss.Style
	warn  lipgloss.Style
	help  lipgloss.Style
}

func NewPalette(t, s, e, w, h string) *Palette {
	return &Palette{
		title: NewBold(t).MarginTop(1),
		ok:    NewBold(s),
		err:   NewBold(e),
		warn:  NewStyle(w),
		help:  NewEm(h),
	}
}

func NewStyle(fg string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(fg))
}

func NewBold(fg string) lipgloss.Style {
	return NewStyle(fg).Bold(true)
}

func NewEm(fg string) lipgloss.Style {
	return NewStyle(fg).Italic(true)
}

// Bar returns a text progress bar of the given width for a 0-100 value.
func Bar(progress float64, width int) string {
	p := math.Max(0, math.Min(100, progress))
	filled := int(math.Round(p / 100 * float64(width)))
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", width-filled) + "]"
}

// Progress rewrites the current line with the progress bar and status.
func Progress(w io.Writer, ev music.ProgressEvent) {
	line := fmt.Sprintf("%s %3.0f%% %s", Bar(ev.Progress, 30), ev.Progress, ev.Status)
	fmt.Fprintf(w, "\r\033[K%s", styles.ok.Render(line))
}

// Done ends a progress line.
func Done(w io.Writer) {
	fmt.Fprintln(w)
}

func Title(w io.Writer, s string) {
	fmt.Fprintln(w, styles.title.Render(s))
}

func Error(w io.Writer, s string) {
	fmt.Fprintln(w, styles.err.Render(s))
}

func Warn(w io.Writer, s string) {
	fmt.Fprintln(w, styles.warn.Render(s))
}

func Help(w io.Writer, s string) {
	fmt.Fprintln(w, styles.help.Render(s))
}

// Metadata prints the metadata sorted by key.
func Metadata(w io.Writer, md music.Metadata) {
	Title(w, "File metadata")
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %s: %v\n", k, md[k])
	}
}

// Analysis prints the analysis values and the prompt options.
func Analysis(w io.Writer, r *music.AnalysisResult) {
	a := r.Analysis
	Title(w, "Analysis")
	fmt.Fprintf(w, "  Tempo: %.0f BPM\n", a.Tempo)
	if a.Key != "" {
		fmt.Fprintf(w, "  Key: %s\n", a.Key)
	}
	fmt.Fprintf(w, "  Energy: %s\n", a.Energy)
	fmt.Fprintf(w, "  Genre: %s\n", a.Genre)
	fmt.Fprintf(w, "  Mood: %s\n", a.Mood)
	vocals := "no"
	if a.HasVocals {
		vocals = "yes"
		if a.VocalGender != nil && *a.VocalGender != "" {
			vocals = *a.VocalGender
		}
	}
	fmt.Fprintf(w, "  Vocals: %s\n", vocals)
	if len(a.Instruments) > 0 {
		fmt.Fprintf(w, "  Instruments: %s\n", strings.Join(a.Instruments, ", "))
	}

	Title(w, "Prompts")
	for _, p := range r.Prompts {
		fmt.Fprintln(w, styles.ok.Render("  "+p.Name))
		for _, line := range strings.Split(p.Prompt.String(), "\n") {
			fmt.Fprintf(w, "    %s\n", line)
		}
	}
}

// Generation rewrites the current line with the generation status.
func Generation(w io.Writer, status *music.GenerationStatus, total int) {
	fmt.Fprintf(w, "\r\033[K%s", styles.warn.Render(GenerationLine(status, total)))
}

// GenerationLine describes the generation status with the number of
// completed tracks.
func GenerationLine(status *music.GenerationStatus, total int) string {
	s := status.Status
	if s == "" {
		s = music.Queued
	}
	if total > 0 {
		s = fmt.Sprintf("%s (%d/%d complete)", s, len(status.Results), total)
	}
	return s
}

// Tracks prints the generated tracks.
func Tracks(w io.Writer, tracks []music.Track) {
	Title(w, "Tracks")
	for i, t := range tracks {
		title := t.Title
		if title == "" {
			title = fmt.Sprintf("Track %d", i+1)
		}
		fmt.Fprintf(w, "  %s %s\n", styles.ok.Render(title), styles.help.Render(t.AudioURL))
	}
}
