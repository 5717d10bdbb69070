package template

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/swm-sink/ai-pod-nobody-knows-sub000/pkg/flowgraph/registry"
)

// ErrUnknownTemplate is returned by Set.Render for an unregistered name.
var ErrUnknownTemplate = errors.New("unknown template")

// Set is a named collection of templates rendered with one Expander.
// It is safe for concurrent use.
type Set struct {
	exp   *Expander
	texts *registry.Registry[string, string]
}

// NewSet creates an empty set. Unless overridden by opts, rendering
// requires every ${var} to be defined and leaves $var untouched.
func NewSet(opts ...Option) *Set {
	all := append([]Option{WithMissingAction(MissingError), WithDollarStyle(false)}, opts...)
	return &Set{
		exp:   NewExpander(all...),
		texts: registry.New[string, string](),
	}
}

// Add registers or replaces the template called name.
func (s *Set) Add(name, text string) *Set {
	s.texts.Register(name, text)
	return s
}

// Merge registers every entry of texts, replacing existing names.
func (s *Set) Merge(texts map[string]string) *Set {
	s.texts.RegisterMany(texts)
	return s
}

// Has reports whether name is registered.
func (s *Set) Has(name string) bool {
	return s.texts.Has(name)
}

// Names returns the registered names, sorted.
func (s *Set) Names() []string {
	return s.texts.Keys()
}

// Render expands the template called name with vars.
func (s *Set) Render(name string, vars map[string]any) (string, error) {
	text, ok := s.texts.Get(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTemplate, name)
	}
	out, err := s.exp.Expand(text, vars)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return out, nil
}

// ReadYAML merges a YAML mapping of name to template text into s.
func (s *Set) ReadYAML(r io.Reader) error {
	var texts map[string]string
	if err := yaml.NewDecoder(r).Decode(&texts); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode templates: %w", err)
	}
	s.Merge(texts)
	return nil
}

// LoadFile merges the YAML template file at path into s.
func (s *Set) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open templates: %w", err)
	}
	defer f.Close()
	return s.ReadYAML(f)
}
