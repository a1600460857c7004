package extract

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/PuerkitoBio/goquery"
	"gopkg.in/yaml.v3"
)

//go:embed selectors.yaml
var defaultSelectorsYAML []byte

// Selectors is the catalogue of candidate selectors per logical field.
type Selectors struct {
	Histogram struct {
		Container  []string `yaml:"container"`
		Bar        []string `yaml:"bar"`
		LabelAttrs []string `yaml:"label_attrs"`
	} `yaml:"histogram"`

	Films struct {
		Item       []string `yaml:"item"`
		Poster     []string `yaml:"poster"`
		SlugAttrs  []string `yaml:"slug_attrs"`
		TitleAttrs []string `yaml:"title_attrs"`
		Title      []string `yaml:"title"`
		Rating     []string `yaml:"rating"`
	} `yaml:"films"`

	Liked struct {
		Exact         []string `yaml:"exact"`
		Tokens        []string `yaml:"tokens"`
		FallbackToken string   `yaml:"fallback_token"`
	} `yaml:"liked"`

	Pagination []string `yaml:"pagination"`

	Profile struct {
		Name      []string `yaml:"name"`
		Stat      []string `yaml:"stat"`
		StatValue []string `yaml:"stat_value"`
		StatLabel []string `yaml:"stat_label"`
	} `yaml:"profile"`
}

// DefaultSelectors returns the embedded catalogue.
func DefaultSelectors() Selectors {
	var s Selectors
	if err := yaml.Unmarshal(defaultSelectorsYAML, &s); err != nil {
		panic(fmt.Errorf("embedded selectors: %w", err))
	}
	return s
}

// LoadSelectors reads an override file on top of the defaults. Keys missing
// from the file keep their default candidates. An empty path returns the
// defaults.
func LoadSelectors(path string) (Selectors, error) {
	s := DefaultSelectors()
	if path == "" {
		return s, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("read selectors file: %w", err)
	}
	if err := yaml.Unmarshal(b, &s); err != nil {
		return s, fmt.Errorf("parse selectors file %s: %w", path, err)
	}
	return s, nil
}

// firstMatch returns the matches of the first candidate that matches at
// least one element under root, and the candidate used.
func firstMatch(root *goquery.Selection, candidates []string) (*goquery.Selection, string) {
	for _, c := range candidates {
		if sel := root.Find(c); sel.Length() > 0 {
			return sel, c
		}
	}
	return root.Slice(0, 0), ""
}
