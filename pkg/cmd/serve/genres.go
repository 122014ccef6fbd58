package serve

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/igolaizola/sunoprompt/pkg/music"
	"gopkg.in/yaml.v3"
)

//go:embed genres.yaml
var defaultGenres []byte

// LoadGenres reads the genre definitions from a YAML file. The built-in list
// is used when path is empty.
func LoadGenres(path string) ([]music.Genre, error) {
	b := defaultGenres
	if path != "" {
		var err error
		b, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("serve: couldn't read genres file: %w", err)
		}
	}
	var genres []music.Genre
	if err := yaml.Unmarshal(b, &genres); err != nil {
		return nil, fmt.Errorf("serve: couldn't parse genres %q: %w", path, err)
	}
	for _, g := range genres {
		if g.Genre == "" {
			return nil, fmt.Errorf("serve: genre without name in %q", path)
		}
		if g.Rules.Tempo.Min > g.Rules.Tempo.Max {
			return nil, fmt.Errorf("serve: invalid tempo range for %s", g.Genre)
		}
	}
	return genres, nil
}
