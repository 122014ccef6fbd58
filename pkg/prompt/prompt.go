// Package prompt builds music generation prompts from analysis features.
package prompt

import (
	"fmt"
	"strings"

	"github.com/igolaizola/sunoprompt/pkg/music"
)

// Variation names.
const (
	Basic         = "Basic"
	Detailed      = "Detailed"
	StyleFocused  = "Style-Focused"
	TempoFocused  = "Tempo-Focused"
	AdvancedMode  = "Advanced Mode"
	lyricsPending = "Your lyrics here..."
)

type Features struct {
	Tempo       float64
	Key         string
	Energy      string
	Genre       string
	Mood        string
	Instruments []string
	HasVocals   bool
	Lyrics      string
	VocalGender string
	FadeOut     bool
	TempoChange bool
}

// Variations returns every prompt variation, the advanced one in custom
// mode.
func Variations(f Features) []music.PromptVariation {
	return []music.PromptVariation{
		{Name: Basic, Prompt: music.Prompt{Text: f.basic()}},
		{Name: Detailed, Prompt: music.Prompt{Text: f.detailed()}},
		{Name: StyleFocused, Prompt: music.Prompt{Text: f.style()}},
		{Name: TempoFocused, Prompt: music.Prompt{Text: f.tempo()}},
		{Name: AdvancedMode, Prompt: music.Prompt{Style: f.styleTags(), Lyrics: f.lyrics()}},
	}
}

func tempoLabel(bpm float64) string {
	switch {
	case bpm > 170:
		return "hyper-speed"
	case bpm > 150:
		return "fast-paced"
	case bpm > 130:
		return "up-tempo"
	case bpm > 110:
		return "moderate tempo"
	case bpm > 90:
		return "mid-tempo"
	case bpm > 70:
		return "slow-groove"
	default:
		return "ballad tempo"
	}
}

func energyLabel(energy string) string {
	switch energy {
	case "high":
		return "high-energy"
	case "medium":
		return "driving"
	default:
		return "mellow"
	}
}

func (f Features) basic() string {
	parts := []string{f.Genre, strings.ToLower(f.Mood), tempoLabel(f.Tempo)}
	if f.Tempo > 100 {
		parts = append(parts, fmt.Sprintf("%d bpm", int(f.Tempo)))
	}
	parts = append(parts, energyLabel(f.Energy))
	if len(f.Instruments) > 0 {
		parts = append(parts, strings.Join(first(f.Instruments, 3), ", "))
	}
	if f.HasVocals {
		parts = append(parts, "vocals")
	} else {
		parts = append(parts, "instrumental")
	}
	if f.Key != "" {
		parts = append(parts, "in "+f.Key)
	}
	return join(parts)
}

func (f Features) detailed() string {
	var extra []string
	if f.TempoChange {
		extra = append(extra, "tempo changes")
	} else {
		extra = append(extra, "steady groove")
	}
	if f.FadeOut {
		extra = append(extra, "fade-out ending")
	}
	return join(append([]string{f.basic()}, extra...))
}

func (f Features) style() string {
	parts := []string{f.Genre, strings.ToLower(f.Mood)}
	parts = append(parts, first(f.Instruments, 2)...)
	if f.HasVocals {
		parts = append(parts, "vocals")
	}
	return join(parts)
}

func (f Features) tempo() string {
	parts := []string{f.Genre, fmt.Sprintf("%d bpm", int(f.Tempo)), f.Energy + " energy", strings.ToLower(f.Mood)}
	return join(parts)
}

func (f Features) keyMode() string {
	if f.Key == "" {
		return ""
	}
	if strings.Contains(strings.ToLower(f.Key), "minor") || strings.Contains(strings.ToLower(f.Key), "major") {
		return f.Key
	}
	return f.Key + " Major"
}

func (f Features) styleTags() string {
	tags := []string{
		fmt.Sprintf("[%s]", f.Genre),
		fmt.Sprintf("[%s]", f.Mood),
		fmt.Sprintf("[BPM: %d]", int(f.Tempo)),
	}
	if k := f.keyMode(); k != "" {
		tags = append(tags, fmt.Sprintf("[Key: %s]", k))
	}
	tags = append(tags, fmt.Sprintf("[%s energy]", f.Energy))
	if len(f.Instruments) > 0 {
		tags = append(tags, fmt.Sprintf("[Instrumentation: %s]", strings.Join(f.Instruments, ", ")))
	}
	switch {
	case strings.Contains(f.Genre, "Trance"):
		tags = append(tags, "[Uplifting]", "[Euphoric]", "[Pluck Lead]", "[Rolling Bassline]")
	case strings.Contains(f.Genre, "Hardcore"):
		tags = append(tags, "[Distorted Kick]", "[High-Energy]", "[Aggressive Synth]")
	case strings.Contains(f.Genre, "House"):
		tags = append(tags, "[Four-on-the-floor]", "[Groovy Bassline]", "[Piano Chords]")
	case strings.Contains(f.Genre, "Drum & Bass"):
		tags = append(tags, "[Breakbeat]", "[Deep Sub-bass]", "[Reese Bass]")
	}
	return strings.Join(tags, " ")
}

func (f Features) electronic() bool {
	for _, g := range []string{"Trance", "EDM", "Hardcore", "Electronic", "House", "Techno"} {
		if strings.Contains(f.Genre, g) {
			return true
		}
	}
	return false
}

// lyrics renders the structured lyrics template with the metadata header.
func (f Features) lyrics() string {
	lines := []string{
		"[TITLE: Your Song Title Here]",
		fmt.Sprintf("[Genre: %s]", f.Genre),
		fmt.Sprintf("[Mood: %s]", f.Mood),
		fmt.Sprintf("[Energy: %s]", f.Energy),
		fmt.Sprintf("[BPM: %d]", int(f.Tempo)),
	}
	if k := f.keyMode(); k != "" {
		lines = append(lines, fmt.Sprintf("[Key: %s]", k))
	}
	if f.HasVocals {
		if f.VocalGender != "" {
			lines = append(lines, fmt.Sprintf("[Vocal Style: %s Lead]", f.VocalGender))
		} else {
			lines = append(lines, "[Vocal Style: Lead Vocals]")
		}
	}
	if len(f.Instruments) > 0 {
		lines = append(lines, fmt.Sprintf("[Instrumentation: %s]", strings.Join(f.Instruments, ", ")))
	}

	verse, chorus := lyricsPending, lyricsPending
	if f.Lyrics != "" {
		verse, chorus = f.Lyrics, "(Chorus lyrics from above)"
	}
	var sections [][2]string
	if f.electronic() {
		lines = append(lines, "[Structure: Extended DJ Mix]")
		sections = [][2]string{
			{"INTRO", "[Instrumental Only]"},
			{"BUILDUP 1", "Main synth lead teases the melody."},
		}
		if f.HasVocals {
			sections = append(sections, [2]string{"VERSE 1", verse})
		}
		drop := "(Big lead melody, full beat)"
		if f.HasVocals {
			drop = chorus
		}
		sections = append(sections,
			[2]string{"BREAKDOWN", "Pads open up, melody emerges."},
			[2]string{"BUILDUP 2", "Snare roll tension, risers."},
			[2]string{"DROP / CHORUS", drop},
			[2]string{"OUTRO", "(Instrumental fade-out)"},
		)
	} else {
		lines = append(lines, "[Structure: Standard Song]")
		sections = [][2]string{
			{"INTRO", "[Instrumental]"},
			{"VERSE 1", verse},
			{"PRE-CHORUS", "Builds tension leading to the chorus..."},
			{"CHORUS", chorus},
			{"VERSE 2", lyricsPending},
			{"CHORUS", chorus},
			{"BRIDGE", "A change of pace, different chords or melody..."},
			{"CHORUS", chorus},
			{"OUTRO", "Fade out or a final impactful chord."},
		}
	}

	var b strings.Builder
	b.WriteString(strings.Join(lines, "\n"))
	for _, s := range sections {
		fmt.Fprintf(&b, "\n\n[%s]\n%s", s[0], s[1])
	}
	return b.String()
}

func first(vs []string, n int) []string {
	if len(vs) > n {
		return vs[:n]
	}
	return vs
}

func join(parts []string) string {
	var out []string
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ", ")
}
