package executor

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Template is a pre-vetted resolution program for a known identifier family.
// Templates skip code generation entirely and run in the local WASI runner.
type Template struct {
	Name         string   `yaml:"name"`
	Identifier   string   `yaml:"identifier"`
	WasmPath     string   `yaml:"wasm_path"`
	AllowedHosts []string `yaml:"allowed_hosts"`
}

// Registry maps oracle identifiers to vetted templates. Misses are normal:
// unknown identifiers fall through to code generation.
type Registry struct {
	byIdentifier map[string]Template
}

func LoadRegistry(path string) (*Registry, error) {
	r := &Registry{byIdentifier: make(map[string]Template)}
	if path == "" {
		return r, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("registry: read %s: %w", path, err)
	}

	var doc struct {
		Templates []Template `yaml:"templates"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("registry: parse %s: %w", path, err)
	}

	for _, t := range doc.Templates {
		if t.Identifier == "" || t.WasmPath == "" {
			return nil, fmt.Errorf("registry: template %q needs identifier and wasm_path", t.Name)
		}
		key := strings.ToUpper(t.Identifier)
		if _, dup := r.byIdentifier[key]; dup {
			return nil, fmt.Errorf("registry: duplicate template for identifier %s", t.Identifier)
		}
		r.byIdentifier[key] = t
	}
	return r, nil
}

// Lookup returns the template registered for identifier, if any.
func (r *Registry) Lookup(identifier string) (Template, bool) {
	t, ok := r.byIdentifier[strings.ToUpper(identifier)]
	return t, ok
}

func (r *Registry) Len() int { return len(r.byIdentifier) }
