// Package prompts holds the subject-specific prompt tables consumed by the
// diagram agent. Tables load once from an embedded YAML spec (overridable
// via DIAGRAM_PROMPTS_YAML) and are immutable afterwards; every lookup is
// pure and falls back domain -> global, never failing on an unknown key.
package prompts

import (
	"embed"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

const promptsYAMLEnv = "DIAGRAM_PROMPTS_YAML"

//go:embed subjects.yaml
var subjectsFS embed.FS

type yamlPromptSpec struct {
	Version int                       `yaml:"version"`
	Global  yamlPromptSet             `yaml:"global"`
	Domains map[string]yamlDomainSpec `yaml:"domains"`
}

type yamlPromptSet struct {
	System string `yaml:"system"`
	Style  string `yaml:"style"`
	Tool   string `yaml:"tool"`
}

type yamlDomainSpec struct {
	System       string                  `yaml:"system"`
	Style        string                  `yaml:"style"`
	Tool         string                  `yaml:"tool"`
	DiagramTypes map[string]yamlTypeSpec `yaml:"diagram_types"`
}

type yamlTypeSpec struct {
	Style string            `yaml:"style"`
	Tool  string            `yaml:"tool"`
	Tools map[string]string `yaml:"tools"`
}

var (
	specOnce  sync.Once
	specCache *yamlPromptSpec
	specErr   error
)

func currentSpec() *yamlPromptSpec {
	specOnce.Do(func() {
		specCache, specErr = loadSpec()
	})
	if specErr != nil || specCache == nil {
		return &yamlPromptSpec{}
	}
	return specCache
}

func loadSpec() (*yamlPromptSpec, error) {
	var data []byte
	var err error
	if path := strings.TrimSpace(os.Getenv(promptsYAMLEnv)); path != "" {
		data, err = os.ReadFile(path)
	} else {
		data, err = subjectsFS.ReadFile("subjects.yaml")
	}
	if err != nil {
		return nil, err
	}
	var spec yamlPromptSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, err
	}
	return &spec, nil
}

func normalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(strings.ReplaceAll(s, "-", "_")))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// SystemPrompt returns the decide-stage system prompt fragment for a
// domain, falling back to the global prompt for unknown domains.
func SystemPrompt(domain string) string {
	spec := currentSpec()
	d := spec.Domains[normalizeKey(domain)]
	return firstNonEmpty(d.System, spec.Global.System, defaultSystemPrompt)
}

// StyleGuidance returns image style guidance for (domain, diagram_type),
// falling back type -> domain -> global.
func StyleGuidance(domain, diagramType string) string {
	spec := currentSpec()
	d := spec.Domains[normalizeKey(domain)]
	t := d.DiagramTypes[normalizeKey(diagramType)]
	return firstNonEmpty(t.Style, d.Style, spec.Global.Style, defaultStyleGuidance)
}

// ToolGuidance returns argument-building guidance for (domain,
// diagram_type, tool), falling back tool -> type -> domain -> global.
func ToolGuidance(domain, diagramType, tool string) string {
	spec := currentSpec()
	d := spec.Domains[normalizeKey(domain)]
	t := d.DiagramTypes[normalizeKey(diagramType)]
	return firstNonEmpty(t.Tools[normalizeKey(tool)], t.Tool, d.Tool, spec.Global.Tool, defaultToolGuidance)
}

// Last-resort strings used when both the YAML spec and its global section
// are unavailable.
const (
	defaultSystemPrompt = "You decide whether an assignment question needs a generated diagram. Call a diagram tool only when the question requires a figure to answer; otherwise decline. Never include computed results in a diagram description."

	defaultStyleGuidance = "Clean textbook figure, black line art on white, labeled components, no answer values."

	defaultToolGuidance = "Describe only quantities given in the question. Leave anything the student must determine blank."
)
