package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed *.tpl.md
var templateFS embed.FS

// CategoryTemplate names an embedded base template.
type CategoryTemplate string

const (
	// ZeroShotTemplate is the base template for zero-shot techniques.
	ZeroShotTemplate CategoryTemplate = "zero_shot.tpl.md"
	// FewShotTemplate is the base template for few-shot techniques.
	FewShotTemplate CategoryTemplate = "few_shot.tpl.md"
	// ChainOfThoughtTemplate is the base template for chain-of-thought techniques.
	ChainOfThoughtTemplate CategoryTemplate = "chain_of_thought.tpl.md"
)

// categoryTemplates maps technique categories to their embedded templates.
func categoryTemplate(category string) (CategoryTemplate, bool) {
	switch category {
	case CategoryZeroShot:
		return ZeroShotTemplate, true
	case CategoryFewShot:
		return FewShotTemplate, true
	case CategoryChainOfThought:
		return ChainOfThoughtTemplate, true
	default:
		return "", false
	}
}

// TemplateData holds the data for prompt rendering.
type TemplateData struct {
	PackageName string   // package of the source under test
	ModulePath  string   // module identifier for import statements
	SourceCode  string   // full source text of the PUT
	Functions   []string // exported function names of the PUT
	Feedback    string   // bounded summary of the previous attempt's failure, empty on iteration 1
}

// Renderer renders prompt templates for techniques.
type Renderer struct {
	templates map[CategoryTemplate]*template.Template
}

// templateFuncs are available inside all prompt templates.
func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"join": strings.Join,
	}
}

// NewRenderer creates a renderer with all embedded category templates parsed.
func NewRenderer() (*Renderer, error) {
	r := &Renderer{templates: make(map[CategoryTemplate]*template.Template)}

	for _, name := range []CategoryTemplate{ZeroShotTemplate, FewShotTemplate, ChainOfThoughtTemplate} {
		content, err := templateFS.ReadFile(string(name))
		if err != nil {
			return nil, fmt.Errorf("failed to read template %s: %w", name, err)
		}
		tmpl, err := template.New(string(name)).Funcs(templateFuncs()).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		r.templates[name] = tmpl
	}
	return r, nil
}

// RenderCategory renders the embedded base template for a category.
func (r *Renderer) RenderCategory(category string, data TemplateData) (string, error) {
	name, ok := categoryTemplate(category)
	if !ok {
		return "", fmt.Errorf("no base template for category %q", category)
	}
	tmpl, ok := r.templates[name]
	if !ok {
		return "", fmt.Errorf("template %s not loaded", name)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", name, err)
	}
	return buf.String(), nil
}

// RenderInline renders technique-supplied template text.
func (r *Renderer) RenderInline(techniqueID, text string, data TemplateData) (string, error) {
	tmpl, err := template.New(techniqueID).Funcs(templateFuncs()).Parse(text)
	if err != nil {
		return "", fmt.Errorf("failed to parse inline template for technique %s: %w", techniqueID, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render inline template for technique %s: %w", techniqueID, err)
	}
	return buf.String(), nil
}

// Manager combines the technique registry and the renderer. It is the prompt
// collaborator the generation loop consumes.
type Manager struct {
	registry *Registry
	renderer *Renderer
}

// NewManager creates a manager with built-in techniques and templates.
func NewManager() (*Manager, error) {
	renderer, err := NewRenderer()
	if err != nil {
		return nil, err
	}
	return &Manager{registry: NewRegistry(), renderer: renderer}, nil
}

// Registry exposes the technique registry for listing and user registration.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Render produces the prompt for a technique. An inactive technique renders
// normally; activity only affects listing.
func (m *Manager) Render(techniqueID string, data TemplateData) (string, error) {
	technique, err := m.registry.Get(techniqueID)
	if err != nil {
		return "", err
	}
	if technique.Template != "" {
		return m.renderer.RenderInline(technique.ID, technique.Template, data)
	}
	return m.renderer.RenderCategory(technique.Category, data)
}
