// Package catalog provides the authored, read-only naming content: name
// directions, candidate name details and the numerology snapshot.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"

	"github.com/ashureev/qiming/internal/domain"
	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when a direction id or name has no catalog record.
var ErrNotFound = errors.New("catalog entry not found")

//go:embed data/catalog.yaml
var defaultContent []byte

// Catalog is the read-only content consumed by the flow engine.
type Catalog interface {
	// Directions returns all directions in authored order.
	Directions() []domain.NameDirection

	// Direction looks up a direction by id.
	Direction(id string) (domain.NameDirection, bool)

	// NameDetail looks up the detail record for a candidate name.
	NameDetail(name string) (domain.NameDetail, bool)

	// NumerologySnapshot returns the chart and element analysis.
	NumerologySnapshot() domain.NumerologySnapshot
}

type document struct {
	Directions []domain.NameDirection    `yaml:"directions"`
	Names      []domain.NameDetail       `yaml:"names"`
	Numerology domain.NumerologySnapshot `yaml:"numerology"`
}

type content struct {
	directions []domain.NameDirection
	names      map[string]domain.NameDetail
	numerology domain.NumerologySnapshot
}

// Static is an in-memory Catalog. Its content can be swapped atomically by
// Reload, which is what Watch uses for hot reloads.
type Static struct {
	mu sync.RWMutex
	c  *content
}

var _ Catalog = (*Static)(nil)

// Default returns the catalog embedded in the binary.
func Default() (*Static, error) {
	return Parse(defaultContent)
}

// Load reads a catalog override from a YAML file.
func Load(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse builds a catalog from YAML.
func Parse(data []byte) (*Static, error) {
	c, err := parse(data)
	if err != nil {
		return nil, err
	}
	return &Static{c: c}, nil
}

func parse(data []byte) (*content, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(doc.Directions) == 0 {
		return nil, errors.New("parse catalog: no directions")
	}

	seen := make(map[string]bool, len(doc.Directions))
	for _, d := range doc.Directions {
		if d.ID == "" {
			return nil, errors.New("parse catalog: direction without id")
		}
		if seen[d.ID] {
			return nil, fmt.Errorf("parse catalog: duplicate direction %q", d.ID)
		}
		if len(d.SampleNames) == 0 {
			return nil, fmt.Errorf("parse catalog: direction %q has no sample names", d.ID)
		}
		seen[d.ID] = true
	}

	names := make(map[string]domain.NameDetail, len(doc.Names))
	for _, n := range doc.Names {
		names[n.Name] = n
	}
	return &content{
		directions: doc.Directions,
		names:      names,
		numerology: doc.Numerology,
	}, nil
}

// Reload replaces the content with the YAML in data. On error the previous
// content is kept.
func (s *Static) Reload(data []byte) error {
	c, err := parse(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.c = c
	s.mu.Unlock()
	return nil
}

func (s *Static) snapshot() *content {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.c
}

// Directions returns a copy of all directions.
func (s *Static) Directions() []domain.NameDirection {
	src := s.snapshot().directions
	out := make([]domain.NameDirection, len(src))
	for i, d := range src {
		d.SampleNames = slices.Clone(d.SampleNames)
		out[i] = d
	}
	return out
}

// Direction looks up a direction by id.
func (s *Static) Direction(id string) (domain.NameDirection, bool) {
	for _, d := range s.snapshot().directions {
		if d.ID == id {
			d.SampleNames = slices.Clone(d.SampleNames)
			return d, true
		}
	}
	return domain.NameDirection{}, false
}

// NameDetail looks up the detail record for a name.
func (s *Static) NameDetail(name string) (domain.NameDetail, bool) {
	d, ok := s.snapshot().names[name]
	if !ok {
		return domain.NameDetail{}, false
	}
	return d.Clone(), true
}

// NumerologySnapshot returns a copy of the numerology snapshot.
func (s *Static) NumerologySnapshot() domain.NumerologySnapshot {
	return s.snapshot().numerology.Clone()
}

// Validate lists sample names that have no detail record. These are data
// defects in the authored content; the flow still runs and shows an empty
// candidate for them.
func (s *Static) Validate() []string {
	c := s.snapshot()
	var missing []string
	for _, d := range c.directions {
		for _, n := range d.SampleNames {
			if _, ok := c.names[n]; !ok {
				missing = append(missing, d.ID+"/"+n)
			}
		}
	}
	return missing
}
