package agents

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

// Input parts a specialist may read.
const (
	ReadMessage = "message"
	ReadProfile = "profile"
	ReadState   = "state"
	ReadReport  = "report"
)

// Spec describes one specialist in the catalogue.
type Spec struct {
	Name     Capability `yaml:"name"`
	StateKey string     `yaml:"state_key"`
	Start    string     `yaml:"start"`
	Done     string     `yaml:"done"`
	Reads    []string   `yaml:"reads"`
	Prompt   string     `yaml:"prompt"`
}

// ReadsPart reports whether the spec reads the given input part.
func (s Spec) ReadsPart(part string) bool {
	for _, r := range s.Reads {
		if r == part {
			return true
		}
	}
	return false
}

type catalog struct {
	Specialists []Spec `yaml:"specialists"`
}

// LoadCatalog parses the embedded specialist catalogue.
func LoadCatalog() ([]Spec, error) {
	return parseCatalog(catalogYAML)
}

func parseCatalog(data []byte) ([]Spec, error) {
	var c catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing specialist catalogue: %w", err)
	}
	if len(c.Specialists) == 0 {
		return nil, fmt.Errorf("specialist catalogue is empty")
	}

	seen := make(map[Capability]bool)
	for _, s := range c.Specialists {
		if !s.Name.Known() {
			return nil, fmt.Errorf("catalogue: unknown specialist %q", s.Name)
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("catalogue: %s listed twice", s.Name)
		}
		seen[s.Name] = true
		if s.StateKey != s.Name.StateKey() {
			return nil, fmt.Errorf("catalogue: %s writes %q, want %q", s.Name, s.StateKey, s.Name.StateKey())
		}
		if s.Prompt == "" {
			return nil, fmt.Errorf("catalogue: %s has no prompt", s.Name)
		}
		for _, r := range s.Reads {
			switch r {
			case ReadMessage, ReadProfile, ReadState, ReadReport:
			default:
				return nil, fmt.Errorf("catalogue: %s reads unknown input %q", s.Name, r)
			}
		}
	}
	return c.Specialists, nil
}
