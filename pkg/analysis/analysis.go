// Package analysis extracts audio features from an uploaded file and turns
// them into an analysis result with prompt variations.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/igolaizola/sunoprompt/pkg/music"
	"github.com/igolaizola/sunoprompt/pkg/prompt"
	"github.com/igolaizola/sunoprompt/pkg/sound"
	"github.com/igolaizola/sunoprompt/pkg/sound/aubio"
	"github.com/igolaizola/sunoprompt/pkg/sound/ffmpeg"
)

// UnknownGenre is reported when no genre rule matches the tempo.
const UnknownGenre = "Unknown"

// Options tune one analysis. ModelQuality, DemucsModel and SaveVocals are
// accepted for analyzers with transcription and stem separation; Pipeline
// ignores them.
type Options struct {
	SelectedGenre string
	Genres        []music.Genre
	ModelQuality  string
	DemucsModel   string
	SaveVocals    bool
}

type stage struct {
	status   string
	progress float64
}

// Progress stages reported by Pipeline.Analyze, in order.
var (
	stageFeatures    = stage{"Analyzing audio features...", 10}
	stageTempo       = stage{"Detecting tempo...", 25}
	stageClassify    = stage{"Classifying genre and mood...", 30}
	stageInstruments = stage{"Analyzing instruments...", 35}
	stagePrompts     = stage{"Generating prompts...", 90}
)

var stages = []stage{stageFeatures, stageTempo, stageClassify, stageInstruments, stagePrompts}

// Progress is called with a status message and a percentage.
type Progress func(status string, progress float64)

// Analyzer extracts metadata and analysis results from audio files.
type Analyzer interface {
	Metadata(ctx context.Context, path string) (music.Metadata, error)
	Analyze(ctx context.Context, path string, opts *Options, fn Progress) (*music.AnalysisResult, error)
}

type Config struct {
	AubioBin  string
	FFmpegBin string
	Debug     bool
}

// Pipeline decodes MP3 audio, converting other formats with ffmpeg, and
// detects tempo with aubio.
type Pipeline struct {
	aubio  *aubio.App
	ffmpeg *ffmpeg.App
	logger *log.Logger
}

var _ Analyzer = (*Pipeline)(nil)

func New(cfg *Config) *Pipeline {
	logger := log.NewWithOptions(os.Stderr, log.Options{Prefix: "analysis"})
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	return &Pipeline{
		aubio:  aubio.New(cfg.AubioBin),
		ffmpeg: ffmpeg.New(cfg.FFmpegBin),
		logger: logger,
	}
}

// Check reports the version of the beat tracking tool, failing when it can't
// be run.
func (p *Pipeline) Check(ctx context.Context) (string, error) {
	v, err := p.aubio.Version(ctx)
	if err != nil {
		return "", fmt.Errorf("analysis: %w", err)
	}
	return v, nil
}

// features holds everything measured on one file.
type features struct {
	Tempo       float64 `json:"tempo"`
	Energy      float64 `json:"energy_value"`
	EnergyLevel string  `json:"energy"`
	Duration    float64 `json:"duration"`
	SampleRate  int     `json:"sample_rate"`
	Channels    int     `json:"channels"`
	Beats       int     `json:"beats"`
	FadeOut     bool    `json:"fade_out"`
	TempoChange bool    `json:"tempo_change"`
	Silences    int     `json:"silences"`
}

// Metadata returns the display metadata with a quick tempo and energy
// estimation.
func (p *Pipeline) Metadata(ctx context.Context, path string) (music.Metadata, error) {
	mp3Path, cleanup, err := p.toMP3(ctx, path)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	a, err := sound.NewAnalyzer(mp3Path)
	if err != nil {
		return nil, err
	}
	energy := a.Energy()
	md := music.Metadata{
		"Duration (s)":     round(a.Duration().Seconds(), 2),
		"Sample Rate (Hz)": a.SampleRate(),
		"Channels":         sound.Channels,
		"Energy":           titleCase(sound.EnergyLevel(energy)),
	}
	if tempo, err := p.aubio.Tempo(ctx, mp3Path); err != nil {
		p.logger.Warn("couldn't perform quick tempo detection", "err", err)
	} else {
		md["Tempo (BPM)"] = round(tempo, 2)
	}
	return md, nil
}

// Analyze runs the full analysis reporting progress along the way.
func (p *Pipeline) Analyze(ctx context.Context, path string, opts *Options, fn Progress) (*music.AnalysisResult, error) {
	if opts == nil {
		opts = &Options{}
	}
	if fn == nil {
		fn = func(string, float64) {}
	}

	fn(stageFeatures.status, stageFeatures.progress)
	mp3Path, cleanup, err := p.toMP3(ctx, path)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	a, err := sound.NewAnalyzer(mp3Path)
	if err != nil {
		return nil, err
	}
	f := features{
		Energy:     a.Energy(),
		Duration:   round(a.Duration().Seconds(), 2),
		SampleRate: a.SampleRate(),
		Channels:   sound.Channels,
		FadeOut:    a.HasFadeOut(),
	}
	f.EnergyLevel = sound.EnergyLevel(f.Energy)

	fn(stageTempo.status, stageTempo.progress)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.Tempo, err = p.aubio.Tempo(ctx, mp3Path)
	if err != nil {
		return nil, fmt.Errorf("analysis: couldn't detect tempo: %w", err)
	}
	f.Tempo = round(f.Tempo, 2)
	if beats, err := p.aubio.Beats(ctx, mp3Path); err != nil {
		p.logger.Warn("couldn't detect beats", "err", err)
	} else {
		f.Beats = len(beats)
		silences, err := p.aubio.Silences(ctx, mp3Path, a.Duration(), time.Second)
		if err != nil {
			p.logger.Warn("couldn't detect silences", "err", err)
		}
		f.Silences = len(silences)
		var splits []float64
		for _, s := range silences {
			splits = append(splits, s[1].Seconds())
		}
		f.TempoChange = a.TempoChange(beats, splits)
	}

	fn(stageClassify.status, stageClassify.progress)
	genre := classifyGenre(f.Tempo, opts.SelectedGenre, opts.Genres)
	mood := classifyMood(f.Tempo, f.EnergyLevel)

	// Instrument detection and vocal separation need external models.
	fn(stageInstruments.status, stageInstruments.progress)

	fn(stagePrompts.status, stagePrompts.progress)
	full, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("analysis: couldn't marshal features: %w", err)
	}
	feats := prompt.Features{
		Tempo:       f.Tempo,
		Energy:      f.EnergyLevel,
		Genre:       genre,
		Mood:        mood,
		FadeOut:     f.FadeOut,
		TempoChange: f.TempoChange,
	}
	p.logger.Debug("analyzed", "file", filepath.Base(path), "tempo", f.Tempo, "energy", f.Energy, "genre", genre, "mood", mood)
	return &music.AnalysisResult{
		Success: true,
		Analysis: music.Analysis{
			Tempo:            f.Tempo,
			Energy:           music.Energy{Label: f.EnergyLevel},
			Genre:            genre,
			Mood:             mood,
			HasVocals:        false,
			Instruments:      []string{},
			FullAnalysisData: full,
		},
		Prompts: prompt.Variations(feats),
	}, nil
}

// toMP3 returns an MP3 version of the file, converting it when needed.
func (p *Pipeline) toMP3(ctx context.Context, path string) (string, func(), error) {
	if strings.EqualFold(filepath.Ext(path), ".mp3") {
		return path, func() {}, nil
	}
	tmp, err := os.CreateTemp("", "sunoprompt-*.mp3")
	if err != nil {
		return "", nil, fmt.Errorf("analysis: couldn't create temp file: %w", err)
	}
	_ = tmp.Close()
	cleanup := func() { _ = os.Remove(tmp.Name()) }
	if err := p.ffmpeg.ToMP3(ctx, path, tmp.Name()); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("analysis: %w", err)
	}
	return tmp.Name(), cleanup, nil
}

// classifyGenre returns the selected genre or the first genre whose tempo
// range contains the tempo.
func classifyGenre(tempo float64, selected string, genres []music.Genre) string {
	if selected != "" && !strings.EqualFold(selected, "auto") {
		return selected
	}
	for _, g := range genres {
		if g.Rules.Tempo.Contains(tempo) {
			return g.Genre
		}
	}
	return UnknownGenre
}

func classifyMood(tempo float64, energy string) string {
	switch energy {
	case "high":
		if tempo > 120 {
			return "Energetic"
		}
		return "Intense"
	case "medium":
		if tempo > 110 {
			return "Upbeat"
		}
		return "Groovy"
	default:
		if tempo < 90 {
			return "Calm"
		}
		return "Melancholic"
	}
}

func round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
