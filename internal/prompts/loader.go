// Package prompts provides the registry of LLM prompt templates.
// Templates are stored as JSON files and embedded at compile time.
package prompts

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/jonathan/match-orchestrator/internal/llm"
)

//go:embed *.json
var promptFiles embed.FS

// Shape is the declared form of a template's reply.
type Shape string

const (
	// ShapeJSON replies are a single JSON object validated against Schema.
	ShapeJSON Shape = "json"
	// ShapeText replies are free text carrying tagged sections.
	ShapeText Shape = "text"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*\.(\w+)\s*\}\}`)

// Template is one role description plus instruction body.
type Template struct {
	ID          string        `json:"-"`
	System      string        `json:"system"`
	User        string        `json:"user"`
	Shape       Shape         `json:"shape"`
	Schema      string        `json:"schema,omitempty"`
	Tier        llm.ModelTier `json:"tier"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float32       `json:"temperature"`
	// Sections lists the tagged sections a text reply carries.
	Sections []string `json:"sections,omitempty"`
	// RequiredSections must be present for a text reply to be valid.
	RequiredSections []string `json:"required_sections,omitempty"`

	vars []string
}

// Variables returns the placeholder names the template references, sorted.
func (t Template) Variables() []string {
	return append([]string(nil), t.vars...)
}

// Rendered is a template with every placeholder substituted.
type Rendered struct {
	Template
	SystemText string
	UserText   string
}

// TemplateError reports a template that cannot be rendered: the id is unknown
// or the caller did not supply every placeholder.
type TemplateError struct {
	TemplateID string
	Missing    []string
	Reason     string
}

func (e *TemplateError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("template %q: missing variables %s", e.TemplateID, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("template %q: %s", e.TemplateID, e.Reason)
}

// Registry is an immutable table of templates keyed by id.
type Registry struct {
	templates map[string]Template
}

// Load builds a registry from the embedded prompt files.
func Load() (*Registry, error) {
	return LoadFS(promptFiles)
}

// MustLoad is Load for program initialization; it panics on error.
func MustLoad() *Registry {
	r, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load prompts: %v", err))
	}
	return r
}

// LoadFS builds a registry from every *.json file at the root of fsys.
// Template ids must be unique across files.
func LoadFS(fsys fs.FS) (*Registry, error) {
	files, err := fs.Glob(fsys, "*.json")
	if err != nil {
		return nil, err
	}

	var all []Template
	for _, filename := range files {
		data, err := fs.ReadFile(fsys, filename)
		if err != nil {
			return nil, fmt.Errorf("failed to read prompt file %s: %w", filename, err)
		}

		var parsed map[string]Template
		if err := json.Unmarshal(data, &parsed); err != nil {
			return nil, fmt.Errorf("failed to parse prompt file %s: %w", filename, err)
		}
		for id, t := range parsed {
			t.ID = id
			all = append(all, t)
		}
	}
	return NewRegistry(all...)
}

// NewRegistry builds a registry from explicit templates.
func NewRegistry(templates ...Template) (*Registry, error) {
	r := &Registry{templates: make(map[string]Template, len(templates))}
	for _, t := range templates {
		if t.ID == "" {
			return nil, fmt.Errorf("template without id")
		}
		if _, dup := r.templates[t.ID]; dup {
			return nil, fmt.Errorf("duplicate template id %q", t.ID)
		}
		if t.Shape == "" {
			t.Shape = ShapeJSON
		}
		if t.Shape != ShapeJSON && t.Shape != ShapeText {
			return nil, fmt.Errorf("template %q: unknown shape %q", t.ID, t.Shape)
		}
		for _, req := range t.RequiredSections {
			if !slices.Contains(t.Sections, req) {
				return nil, fmt.Errorf("template %q: required section %q not declared", t.ID, req)
			}
		}
		if t.Tier == "" {
			t.Tier = llm.TierStandard
		}
		t.vars = placeholders(t.System + "\n" + t.User)
		r.templates[t.ID] = t
	}
	return r, nil
}

// Get returns the template with the given id.
func (r *Registry) Get(id string) (Template, error) {
	t, ok := r.templates[id]
	if !ok {
		return Template{}, &TemplateError{TemplateID: id, Reason: "unknown template"}
	}
	return t, nil
}

// IDs returns every template id, sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.templates))
	for id := range r.templates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Require checks that the template exists and that the named variables cover
// all of its placeholders.
func (r *Registry) Require(id string, provided ...string) error {
	t, err := r.Get(id)
	if err != nil {
		return err
	}
	have := make(map[string]struct{}, len(provided))
	for _, p := range provided {
		have[p] = struct{}{}
	}
	var missing []string
	for _, v := range t.vars {
		if _, ok := have[v]; !ok {
			missing = append(missing, v)
		}
	}
	if len(missing) > 0 {
		return &TemplateError{TemplateID: id, Missing: missing}
	}
	return nil
}

// Render substitutes vars into the template. Every placeholder must have an
// entry in vars; an empty value counts as supplied.
func (r *Registry) Render(id string, vars map[string]string) (*Rendered, error) {
	t, err := r.Get(id)
	if err != nil {
		return nil, err
	}

	var missing []string
	for _, v := range t.vars {
		if _, ok := vars[v]; !ok {
			missing = append(missing, v)
		}
	}
	if len(missing) > 0 {
		return nil, &TemplateError{TemplateID: id, Missing: missing}
	}

	return &Rendered{
		Template:   t,
		SystemText: Format(t.System, vars),
		UserText:   Format(t.User, vars),
	}, nil
}

// Format replaces placeholders in the form {{.Key}} with values from data.
// Placeholders without a value are left as they are.
func Format(template string, data map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(template, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		if v, ok := data[name]; ok {
			return v
		}
		return m
	})
}

func placeholders(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, m := range placeholderRe.FindAllStringSubmatch(text, -1) {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		out = append(out, m[1])
	}
	sort.Strings(out)
	return out
}
