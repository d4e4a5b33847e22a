package compose

import (
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Template IDs used by the pipeline.
const (
	TemplateAnswerQuestion = "answer-question"
	TemplateExplainFinding = "explain-finding"
)

// defaultTemplates carries the built-in prompts. Overridable per deployment
// through a YAML file (general.templatesPath).
var defaultTemplates = map[string]string{
	TemplateAnswerQuestion: "You are a helpful {{.language}} farming assistant for farmers in Kerala. " +
		"Answer the farmer's question clearly in {{.language}}.\n" +
		"Farmer: {{.question}}",
	TemplateExplainFinding: "You are a Kerala farming assistant.\n" +
		"A plant analysis result is: {{.finding}}.\n" +
		"Explain this in simple {{.language}} for a farmer, " +
		"with advice on what to do if it is a disease.",
}

// Templates is an immutable registry of named prompt templates. Built once
// at startup and shared read-only across concurrent pipeline runs.
type Templates struct {
	set map[string]*template.Template
}

// templateFile is the YAML override schema:
//
//	templates:
//	  answer-question: |
//	    ... {{.question}} ... {{.language}} ...
type templateFile struct {
	Templates map[string]string `yaml:"templates"`
}

// DefaultTemplates returns the registry with only the built-in prompts.
func DefaultTemplates() *Templates {
	t, err := buildTemplates(nil)
	if err != nil {
		// Built-ins are compile-time constants; a parse failure is a bug.
		panic(fmt.Sprintf("built-in templates invalid: %v", err))
	}
	return t
}

// LoadTemplates returns the built-in registry merged with overrides from the
// given YAML file. An empty path means defaults only.
func LoadTemplates(path string) (*Templates, error) {
	if path == "" {
		return DefaultTemplates(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read templates file %s: %w", path, err)
	}

	var f templateFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse templates file %s: %w", path, err)
	}

	return buildTemplates(f.Templates)
}

func buildTemplates(overrides map[string]string) (*Templates, error) {
	sources := make(map[string]string, len(defaultTemplates)+len(overrides))
	for id, src := range defaultTemplates {
		sources[id] = src
	}
	for id, src := range overrides {
		sources[id] = src
	}

	set := make(map[string]*template.Template, len(sources))
	for id, src := range sources {
		tmpl, err := template.New(id).Option("missingkey=error").Parse(src)
		if err != nil {
			return nil, fmt.Errorf("template %q: %w", id, err)
		}
		set[id] = tmpl
	}
	return &Templates{set: set}, nil
}

// Render fills the named template with the given variables.
func (t *Templates) Render(id string, vars map[string]string) (string, error) {
	tmpl, ok := t.set[id]
	if !ok {
		return "", fmt.Errorf("unknown prompt template: %s", id)
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, vars); err != nil {
		return "", fmt.Errorf("render template %s: %w", id, err)
	}
	return sb.String(), nil
}

// Has reports whether a template with the given ID is registered.
func (t *Templates) Has(id string) bool {
	_, ok := t.set[id]
	return ok
}

// languageNames maps ISO-639-1 tags to the display names the prompts use.
// Unknown tags fall back to the tag itself.
var languageNames = map[string]string{
	"ml": "Malayalam",
	"en": "English",
	"hi": "Hindi",
	"ta": "Tamil",
	"te": "Telugu",
	"kn": "Kannada",
}

// LanguageName resolves a language tag to its prompt display name.
func LanguageName(tag string) string {
	if name, ok := languageNames[strings.ToLower(tag)]; ok {
		return name
	}
	return tag
}
