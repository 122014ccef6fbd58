package music

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
)

// Generation statuses reported by the backend.
const (
	Queued     = "queued"
	Processing = "processing"
	Completed  = "completed"
	Failed     = "failed"
)

// EventKind identifies the variant of a ProgressEvent.
type EventKind int

const (
	ProgressKind EventKind = iota
	ResultKind
	ErrorKind
)

// ProgressEvent is one record of the analysis stream. Exactly one of the
// variants is meaningful, Result takes precedence over Error and Error over
// the progress fields.
type ProgressEvent struct {
	Status   string          `json:"status,omitempty"`
	Progress float64         `json:"progress,omitempty"`
	Result   *AnalysisResult `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
}

func (e *ProgressEvent) Kind() EventKind {
	switch {
	case e.Result != nil:
		return ResultKind
	case e.Error != "":
		return ErrorKind
	default:
		return ProgressKind
	}
}

type AnalysisResult struct {
	Success  bool              `json:"success,omitempty"`
	Analysis Analysis          `json:"analysis"`
	Prompts  []PromptVariation `json:"prompts"`
}

// Prompt returns the variation with the given name.
func (r *AnalysisResult) Prompt(name string) (PromptVariation, bool) {
	for _, p := range r.Prompts {
		if p.Name == name {
			return p, true
		}
	}
	return PromptVariation{}, false
}

type Analysis struct {
	Tempo            float64         `json:"tempo"`
	Key              string          `json:"key"`
	Energy           Energy          `json:"energy"`
	Genre            string          `json:"genre"`
	Mood             string          `json:"mood"`
	HasVocals        bool            `json:"has_vocals"`
	Instruments      []string        `json:"instruments,omitempty"`
	Lyrics           *string         `json:"lyrics,omitempty"`
	VocalGender      *string         `json:"vocal_gender,omitempty"`
	FullAnalysisData json.RawMessage `json:"full_analysis_data,omitempty"`
}

// Energy is either a level label (low, medium, high) or a numeric value.
type Energy struct {
	Label string
	Value float64
}

func (e Energy) String() string {
	if e.Label != "" {
		return e.Label
	}
	return strconv.FormatFloat(e.Value, 'f', -1, 64)
}

func (e Energy) MarshalJSON() ([]byte, error) {
	if e.Label != "" {
		return json.Marshal(e.Label)
	}
	return json.Marshal(e.Value)
}

func (e *Energy) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*e = Energy{}
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*e = Energy{Label: s}
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("music: invalid energy %s: %w", b, err)
	}
	*e = Energy{Value: v}
	return nil
}

type PromptVariation struct {
	Name   string `json:"name"`
	Prompt Prompt `json:"prompt"`
}

// Prompt is a plain text description or, in custom mode, a style and lyrics
// pair.
type Prompt struct {
	Text   string
	Style  string
	Lyrics string
}

// Custom reports whether the prompt carries style and lyrics.
func (p Prompt) Custom() bool {
	return p.Text == "" && (p.Style != "" || p.Lyrics != "")
}

func (p Prompt) String() string {
	if !p.Custom() {
		return p.Text
	}
	return fmt.Sprintf("style: %s\nlyrics:\n%s", p.Style, p.Lyrics)
}

type customPrompt struct {
	Style  string `json:"style_prompt"`
	Lyrics string `json:"lyrics_prompt"`
}

func (p Prompt) MarshalJSON() ([]byte, error) {
	if p.Custom() {
		return json.Marshal(customPrompt{Style: p.Style, Lyrics: p.Lyrics})
	}
	return json.Marshal(p.Text)
}

func (p *Prompt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*p = Prompt{}
	case len(b) > 0 && b[0] == '{':
		var c customPrompt
		if err := json.Unmarshal(b, &c); err != nil {
			return fmt.Errorf("music: invalid custom prompt: %w", err)
		}
		*p = Prompt{Style: c.Style, Lyrics: c.Lyrics}
	default:
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("music: invalid prompt: %w", err)
		}
		*p = Prompt{Text: s}
	}
	return nil
}

type GenerationRequest struct {
	PromptName   string `json:"prompt_name,omitempty"`
	IsCustom     bool   `json:"is_custom"`
	Prompt       Prompt `json:"prompt"`
	Title        string `json:"title,omitempty"`
	Tags         string `json:"tags,omitempty"`
	Instrumental bool   `json:"instrumental"`
}

// GenerationID is one element of the generation submission response.
type GenerationID struct {
	ID string `json:"id"`
}

type GenerationStatus struct {
	Status  string  `json:"status"`
	Results []Track `json:"results,omitempty"`
	Message string  `json:"message,omitempty"`
	Error   string  `json:"error,omitempty"`
}

// Terminal reports whether no further status change is expected.
func (s *GenerationStatus) Terminal() bool {
	return s.Status == Completed || s.Status == Failed
}

type Track struct {
	ID             string `json:"id,omitempty"`
	AudioURL       string `json:"audio_url"`
	Title          string `json:"title"`
	IsInstrumental bool   `json:"is_instrumental,omitempty"`
}

// Metadata maps display keys to values as returned by the preprocess step.
type Metadata map[string]any

type Preprocessed struct {
	Success  bool     `json:"success"`
	Metadata Metadata `json:"metadata"`
	Filepath string   `json:"filepath"`
}

type Genre struct {
	Genre string     `json:"genre" yaml:"genre"`
	Rules GenreRules `json:"rules" yaml:"rules"`
}

type GenreRules struct {
	Tempo Range `json:"tempo" yaml:"tempo"`
}

type Range struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Contains reports whether v is within the range, both ends included.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

type Account struct {
	Default bool `json:"default"`
}

// Entry is a stored history record. Payload holds the saved object and the
// id and timestamp fields are merged into it when encoded.
type Entry struct {
	ID        string
	Timestamp string
	Payload   json.RawMessage
}

func (e Entry) MarshalJSON() ([]byte, error) {
	fields := map[string]json.RawMessage{}
	if len(e.Payload) > 0 {
		if err := json.Unmarshal(e.Payload, &fields); err != nil {
			return nil, fmt.Errorf("music: history payload is not an object: %w", err)
		}
	}
	id, _ := json.Marshal(e.ID)
	ts, _ := json.Marshal(e.Timestamp)
	fields["id"] = id
	fields["timestamp"] = ts
	return json.Marshal(fields)
}

func (e *Entry) UnmarshalJSON(b []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return fmt.Errorf("music: history entry is not an object: %w", err)
	}
	if v, ok := fields["id"]; ok {
		_ = json.Unmarshal(v, &e.ID)
	}
	if v, ok := fields["timestamp"]; ok {
		_ = json.Unmarshal(v, &e.Timestamp)
	}
	e.Payload = append(e.Payload[:0], b...)
	return nil
}

// Generator is the external music generation service.
type Generator interface {
	Generate(ctx context.Context, req *GenerationRequest) ([]GenerationID, error)
	Status(ctx context.Context, ids []string) (*GenerationStatus, error)
	Credits(ctx context.Context) (float64, error)
	Download(ctx context.Context, u string, w io.Writer) error
}
