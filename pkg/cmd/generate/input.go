package generate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/igolaizola/sunoprompt/pkg/music"
)

// item is one line of a batch input file. Prompt is used in simple mode,
// style and lyrics in custom mode.
type item struct {
	Prompt       string  `json:"prompt,omitempty" csv:"prompt"`
	Style        string  `json:"style,omitempty" csv:"style"`
	Lyrics       string  `json:"lyrics,omitempty" csv:"lyrics"`
	Title        string  `json:"title,omitempty" csv:"title"`
	Tags         string  `json:"tags,omitempty" csv:"tags"`
	Instrumental optBool `json:"instrumental,omitempty" csv:"instrumental"`
}

// optBool is a boolean that can be left empty.
type optBool struct {
	set   bool
	value bool
}

func (b *optBool) UnmarshalCSV(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		*b = optBool{}
		return nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return fmt.Errorf("invalid instrumental value %q: %w", s, err)
	}
	*b = optBool{set: true, value: v}
	return nil
}

func (b *optBool) UnmarshalJSON(data []byte) error {
	var v *bool
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if v == nil {
		*b = optBool{}
		return nil
	}
	*b = optBool{set: true, value: *v}
	return nil
}

func (i *item) request(instrumental bool) *music.GenerationRequest {
	if i.Instrumental.set {
		instrumental = i.Instrumental.value
	}
	req := &music.GenerationRequest{
		Title:        i.Title,
		Tags:         i.Tags,
		Instrumental: instrumental,
	}
	if i.Prompt != "" {
		req.Prompt = music.Prompt{Text: i.Prompt}
	} else {
		req.Prompt = music.Prompt{Style: i.Style, Lyrics: i.Lyrics}
		req.IsCustom = true
	}
	return req
}

// loadItems reads a csv or json file with generation items.
func loadItems(path string) ([]*item, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("couldn't read input file: %w", err)
	}
	var is []*item
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(b, &is); err != nil {
			return nil, fmt.Errorf("couldn't unmarshal items: %w", err)
		}
	case ".csv":
		if err := gocsv.UnmarshalBytes(b, &is); err != nil {
			return nil, fmt.Errorf("couldn't unmarshal items: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported input format: %s", filepath.Ext(path))
	}
	var out []*item
	for n, i := range is {
		if i.Prompt == "" && i.Style == "" && i.Lyrics == "" {
			return nil, fmt.Errorf("item %d has no prompt", n+1)
		}
		out = append(out, i)
	}
	return out, nil
}
