// Package prompts manages prompt techniques and renders the templates that
// turn a program under test into an LLM prompt.
package prompts

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrTechniqueNotFound is returned when a technique id is not registered.
var ErrTechniqueNotFound = errors.New("prompt technique not found")

// Technique categories. Each category has an embedded base template; a
// technique either uses its category template or supplies inline text.
const (
	CategoryZeroShot       = "zero-shot"
	CategoryFewShot        = "few-shot"
	CategoryChainOfThought = "chain-of-thought"
)

// Technique describes one registered prompting technique.
type Technique struct {
	ID          string    `yaml:"id"`
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Category    string    `yaml:"category"`
	Version     string    `yaml:"version"`
	Template    string    `yaml:"template,omitempty"` // inline template text; empty = category template
	Active      bool      `yaml:"active"`
	CreatedAt   time.Time `yaml:"created_at,omitempty"`
}

// builtinTechniques are always registered.
func builtinTechniques() []Technique {
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return []Technique{
		{
			ID:          "zero-shot-v1",
			Name:        "Zero-shot",
			Description: "Direct instruction to generate a test file, no examples.",
			Category:    CategoryZeroShot,
			Version:     "1.0",
			Active:      true,
			CreatedAt:   created,
		},
		{
			ID:          "few-shot-v1",
			Name:        "Few-shot",
			Description: "Instruction with a worked example of a function and its test file.",
			Category:    CategoryFewShot,
			Version:     "1.0",
			Active:      true,
			CreatedAt:   created,
		},
		{
			ID:          "cot-v1",
			Name:        "Chain-of-thought",
			Description: "Asks the model to reason about edge cases before emitting the test file.",
			Category:    CategoryChainOfThought,
			Version:     "1.0",
			Active:      true,
			CreatedAt:   created,
		},
	}
}

// Registry holds the registered techniques for one process.
type Registry struct {
	techniques map[string]Technique
}

// NewRegistry creates a registry populated with the built-in techniques.
func NewRegistry() *Registry {
	r := &Registry{techniques: make(map[string]Technique)}
	for _, t := range builtinTechniques() {
		r.techniques[t.ID] = t
	}
	return r
}

// Get returns the technique with the given id.
func (r *Registry) Get(id string) (Technique, error) {
	t, ok := r.techniques[id]
	if !ok {
		return Technique{}, fmt.Errorf("%w: %s", ErrTechniqueNotFound, id)
	}
	return t, nil
}

// Register adds or replaces a technique.
func (r *Registry) Register(t Technique) error {
	if t.ID == "" {
		return fmt.Errorf("technique id cannot be empty")
	}
	switch t.Category {
	case CategoryZeroShot, CategoryFewShot, CategoryChainOfThought:
	default:
		if t.Template == "" {
			return fmt.Errorf("technique %s: unknown category %q requires inline template text", t.ID, t.Category)
		}
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	r.techniques[t.ID] = t
	return nil
}

// List returns techniques sorted by id. category filters when non-empty;
// activeOnly drops deactivated techniques.
func (r *Registry) List(category string, activeOnly bool) []Technique {
	var out []Technique
	for _, t := range r.techniques {
		if activeOnly && !t.Active {
			continue
		}
		if category != "" && t.Category != category {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Categories returns the distinct categories of registered techniques, sorted.
func (r *Registry) Categories() []string {
	seen := make(map[string]bool)
	for _, t := range r.techniques {
		seen[t.Category] = true
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// LoadFile registers additional techniques from a YAML file. Entries may
// reference a built-in category template or carry inline template text.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read techniques file %s: %w", path, err)
	}

	var file struct {
		Techniques []Technique `yaml:"techniques"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse techniques file %s: %w", path, err)
	}

	for i := range file.Techniques {
		if err := r.Register(file.Techniques[i]); err != nil {
			return fmt.Errorf("techniques file %s: %w", path, err)
		}
	}
	return nil
}
