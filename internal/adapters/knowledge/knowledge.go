package knowledge

// Package knowledge serves the knowledge base port from YAML documents.
//
// A knowledge base holds four artifact kinds: definitions, playbooks,
// thresholds and templates. The built-in document is embedded; a directory of
// *.yaml files can replace it. Lookups never fail: a missing artifact is
// reported as absent and the engine records the absence as a coverage gap.

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/kubilitics/kubilitics-brain/internal/adapters"
)

//go:embed default.yaml
var defaultDocument []byte

// Document is the YAML layout of a knowledge base file.
type Document struct {
	Definitions []adapters.Artifact `yaml:"definitions"`
	Playbooks   []adapters.Artifact `yaml:"playbooks"`
	Thresholds  []adapters.Artifact `yaml:"thresholds"`
	Templates   []adapters.Artifact `yaml:"templates"`
}

// Base is an immutable in-memory knowledge base.
type Base struct {
	byKind map[string]map[string]adapters.Artifact
}

var _ adapters.KnowledgeBase = (*Base)(nil)

// Default returns the embedded knowledge base.
func Default() (*Base, error) {
	return Parse(defaultDocument)
}

// Parse builds a Base from one YAML document.
func Parse(data []byte) (*Base, error) {
	b := &Base{byKind: map[string]map[string]adapters.Artifact{}}
	if err := b.merge(data); err != nil {
		return nil, err
	}
	return b, nil
}

// LoadDir merges every *.yaml / *.yml file in dir, in lexical order. Later
// files override earlier refs.
func LoadDir(dir string) (*Base, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read knowledge dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	b := &Base{byKind: map[string]map[string]adapters.Artifact{}}
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		if err := b.merge(data); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}
	return b, nil
}

// FromArtifacts builds a Base from already-loaded artifacts.
func FromArtifacts(artifacts []adapters.Artifact) *Base {
	b := &Base{byKind: map[string]map[string]adapters.Artifact{}}
	for _, a := range artifacts {
		b.put(a.Kind, a)
	}
	return b
}

func (b *Base) merge(data []byte) error {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse knowledge document: %w", err)
	}
	for kind, list := range map[string][]adapters.Artifact{
		adapters.ArtifactDefinition: doc.Definitions,
		adapters.ArtifactPlaybook:   doc.Playbooks,
		adapters.ArtifactThreshold:  doc.Thresholds,
		adapters.ArtifactTemplate:   doc.Templates,
	} {
		for _, a := range list {
			if a.Ref == "" {
				return fmt.Errorf("%s artifact without ref", kind)
			}
			if kind == adapters.ArtifactThreshold && a.Value == nil {
				return fmt.Errorf("threshold %s has no value", a.Ref)
			}
			b.put(kind, a)
		}
	}
	return nil
}

func (b *Base) put(kind string, a adapters.Artifact) {
	a.Kind = kind
	if b.byKind[kind] == nil {
		b.byKind[kind] = map[string]adapters.Artifact{}
	}
	b.byKind[kind][a.Ref] = a
}

func (b *Base) get(kind, ref string) (adapters.Artifact, bool) {
	a, ok := b.byKind[kind][ref]
	return a, ok
}

// Definition looks up a term definition.
func (b *Base) Definition(_ context.Context, term string) (adapters.Artifact, bool) {
	return b.get(adapters.ArtifactDefinition, term)
}

// Playbook looks up a playbook.
func (b *Base) Playbook(_ context.Context, name string) (adapters.Artifact, bool) {
	return b.get(adapters.ArtifactPlaybook, name)
}

// Threshold looks up a numeric threshold.
func (b *Base) Threshold(_ context.Context, name string) (adapters.Artifact, bool) {
	return b.get(adapters.ArtifactThreshold, name)
}

// Template looks up a text template.
func (b *Base) Template(_ context.Context, name string) (adapters.Artifact, bool) {
	return b.get(adapters.ArtifactTemplate, name)
}

// Artifacts returns every artifact sorted by kind then ref.
func (b *Base) Artifacts() []adapters.Artifact {
	var out []adapters.Artifact
	for _, byRef := range b.byKind {
		for _, a := range byRef {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Ref < out[j].Ref
	})
	return out
}

// Render executes a template artifact body against data.
func Render(a adapters.Artifact, data any) (string, error) {
	tmpl, err := template.New(a.Ref).Option("missingkey=error").Parse(a.Body)
	if err != nil {
		return "", fmt.Errorf("failed to parse template %s: %w", a.Ref, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", a.Ref, err)
	}
	return strings.TrimSpace(buf.String()), nil
}
