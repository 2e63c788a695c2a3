package template

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Format identifies a template source syntax.
type Format string

const (
	FormatYAML     Format = "yaml"
	FormatJSON     Format = "json"
	FormatCUE      Format = "cue"
	FormatStarlark Format = "starlark"
)

// FormatFromPath picks a format from the file extension. Unknown
// extensions are read as YAML.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".cue":
		return FormatCUE
	case ".star", ".starlark", ".bzl":
		return FormatStarlark
	default:
		return FormatYAML
	}
}

// ParseFormat parses a user supplied format name.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "yaml", "yml":
		return FormatYAML, nil
	case "json":
		return FormatJSON, nil
	case "cue":
		return FormatCUE, nil
	case "star", "starlark":
		return FormatStarlark, nil
	default:
		return "", fmt.Errorf("unknown template format %q", s)
	}
}

// Loader reads template sources into validated BatchTemplates.
type Loader struct {
	schema   *SchemaValidator
	starlark *StarlarkEvaluator
	validate *validator.Validate

	// Vars are exposed to Starlark templates as "vars".
	Vars map[string]interface{}
}

// NewLoader creates a loader with the built-in schema.
func NewLoader() (*Loader, error) {
	schema, err := NewSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &Loader{
		schema:   schema,
		starlark: NewStarlarkEvaluator(DefaultScriptTimeout),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}, nil
}

// LoadFile reads and validates the template at path.
func (l *Loader) LoadFile(ctx context.Context, path string) (*BatchTemplate, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template: %w", err)
	}
	return l.Parse(ctx, path, content, FormatFromPath(path))
}

// Parse validates content in the given format. source names the input in
// error messages.
func (l *Loader) Parse(ctx context.Context, source string, content []byte, format Format) (*BatchTemplate, error) {
	var (
		raw map[string]interface{}
		err error
	)

	switch format {
	case FormatYAML, FormatJSON:
		raw, err = decodeYAML(source, content)
		if err != nil {
			return nil, err
		}
		if problems := l.schema.Validate(raw); len(problems) > 0 {
			return nil, &ValidationError{Source: source, Problems: problems}
		}
	case FormatCUE:
		var problems []Problem
		raw, problems = l.schema.CompileCUE(source, content)
		if len(problems) > 0 {
			return nil, &ValidationError{Source: source, Problems: problems}
		}
	case FormatStarlark:
		raw, err = l.starlark.Evaluate(ctx, filepath.Base(source), content, l.Vars)
		if err != nil {
			return nil, newValidationError(source, "%v", err)
		}
		raw = normalize(raw).(map[string]interface{})
		if problems := l.schema.Validate(raw); len(problems) > 0 {
			return nil, &ValidationError{Source: source, Problems: problems}
		}
	default:
		return nil, fmt.Errorf("unsupported template format %q", format)
	}

	return l.build(source, raw)
}

// build converts schema-checked data into a BatchTemplate and applies the
// struct and cross-field rules.
func (l *Loader) build(source string, raw map[string]interface{}) (*BatchTemplate, error) {
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to encode template: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(encoded))
	dec.DisallowUnknownFields()

	var tpl BatchTemplate
	if err := dec.Decode(&tpl); err != nil {
		return nil, newValidationError(source, "%v", err)
	}
	tpl.applyDefaults()

	var problems []Problem
	if err := l.validate.Struct(&tpl); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return nil, fmt.Errorf("failed to validate template: %w", err)
		}
		for _, fe := range verrs {
			problems = append(problems, Problem{
				Path:    fe.Namespace(),
				Message: fmt.Sprintf("failed %q rule", fe.Tag()),
			})
		}
	}
	problems = append(problems, checkReferences(&tpl)...)

	if len(problems) > 0 {
		return nil, &ValidationError{Source: source, Problems: problems}
	}
	return &tpl, nil
}

// checkReferences enforces rules that span fields: unique project
// identifiers, unique cycle and module names per project, ordered dates.
func checkReferences(tpl *BatchTemplate) []Problem {
	var problems []Problem

	identifiers := make(map[string]int)
	for i := range tpl.Projects {
		p := &tpl.Projects[i]
		path := fmt.Sprintf("projects[%d]", i)

		id := p.ProjectIdentifier()
		if prev, ok := identifiers[id]; ok {
			problems = append(problems, Problem{
				Path:    path,
				Message: fmt.Sprintf("project identifier %q already used by projects[%d]", id, prev),
			})
		} else {
			identifiers[id] = i
		}

		cycles := make(map[string]bool)
		for j, c := range p.Cycles {
			if cycles[c.Name] {
				problems = append(problems, Problem{
					Path:    fmt.Sprintf("%s.cycles[%d]", path, j),
					Message: fmt.Sprintf("duplicate cycle name %q", c.Name),
				})
			}
			cycles[c.Name] = true
			if c.StartDate != nil && c.EndDate != nil && *c.EndDate < *c.StartDate {
				problems = append(problems, Problem{
					Path:    fmt.Sprintf("%s.cycles[%d]", path, j),
					Message: fmt.Sprintf("end_date %s is before start_date %s", *c.EndDate, *c.StartDate),
				})
			}
		}

		modules := make(map[string]bool)
		for j, m := range p.Modules {
			if modules[m.Name] {
				problems = append(problems, Problem{
					Path:    fmt.Sprintf("%s.modules[%d]", path, j),
					Message: fmt.Sprintf("duplicate module name %q", m.Name),
				})
			}
			modules[m.Name] = true
		}
	}

	return problems
}

func decodeYAML(source string, content []byte) (map[string]interface{}, error) {
	var doc interface{}
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, newValidationError(source, "%v", err)
	}
	if doc == nil {
		return nil, newValidationError(source, "template is empty")
	}

	m, ok := normalize(doc).(map[string]interface{})
	if !ok {
		return nil, newValidationError(source, "template must be a mapping, got %T", doc)
	}
	return m, nil
}

// normalize converts YAML maps to string-keyed maps and drops null fields,
// so an empty optional key behaves like an absent one.
func normalize(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			if item == nil {
				continue
			}
			out[k] = normalize(item)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			if item == nil {
				continue
			}
			out[fmt.Sprint(k)] = normalize(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	default:
		return v
	}
}
