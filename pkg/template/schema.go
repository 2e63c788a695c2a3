package template

import (
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

// batchTemplateSchema is the closed schema every template source must satisfy.
const batchTemplateSchema = `
#Date: =~"^[0-9]{4}-[0-9]{2}-[0-9]{2}$"

#Name: string & !=""

#Issue: {
	name:         #Name
	priority?:    string
	description?: string
	cycle?:       string
	module?:      string
	sub_issues?: [...#Issue]
}

#Cycle: {
	name:         #Name
	start_date?:  #Date
	end_date?:    #Date
	description?: string
}

#Module: {
	name:         #Name
	description?: string
}

#Project: {
	name: #Name
	// Plane project identifiers: letters and digits, at most 12.
	slug?:        =~"^[A-Za-z0-9]{1,12}$"
	description?: string
	cycles?: [...#Cycle]
	modules?: [...#Module]
	issues?: [...#Issue]
}

#BatchTemplate: {
	batch_name:      #Name
	workspace_slug?: string
	projects: [#Project, ...#Project]
}
`

// SchemaValidator checks raw template data against #BatchTemplate.
type SchemaValidator struct {
	mu  sync.Mutex
	ctx *cue.Context
	def cue.Value
}

// NewSchemaValidator compiles the built-in schema.
func NewSchemaValidator() (*SchemaValidator, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(batchTemplateSchema, cue.Filename("batch_template.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile template schema: %w", err)
	}

	def := schema.LookupPath(cue.ParsePath("#BatchTemplate"))
	if err := def.Err(); err != nil {
		return nil, fmt.Errorf("failed to look up #BatchTemplate: %w", err)
	}

	return &SchemaValidator{ctx: ctx, def: def}, nil
}

// Validate checks decoded YAML/JSON/Starlark data.
func (sv *SchemaValidator) Validate(data map[string]interface{}) []Problem {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	val := sv.ctx.Encode(data)
	if err := val.Err(); err != nil {
		return convertCUEErrors(err)
	}
	return sv.check(val)
}

// CompileCUE evaluates a CUE template source, checks it against the schema
// and returns its concrete data.
func (sv *SchemaValidator) CompileCUE(source string, content []byte) (map[string]interface{}, []Problem) {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	val := sv.ctx.CompileBytes(content, cue.Filename(source))
	if err := val.Err(); err != nil {
		return nil, convertCUEErrors(err)
	}

	if problems := sv.check(val); len(problems) > 0 {
		return nil, problems
	}

	var data map[string]interface{}
	if err := sv.def.Unify(val).Decode(&data); err != nil {
		return nil, convertCUEErrors(err)
	}
	return data, nil
}

func (sv *SchemaValidator) check(val cue.Value) []Problem {
	unified := sv.def.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return convertCUEErrors(err)
	}
	return nil
}

// convertCUEErrors flattens a CUE error list into problems.
func convertCUEErrors(err error) []Problem {
	var problems []Problem

	for _, e := range cueerrors.Errors(err) {
		p := Problem{
			Path:    strings.Join(e.Path(), "."),
			Message: cueerrors.Details(e, nil),
		}
		if pos := cueerrors.Positions(e); len(pos) > 0 {
			p.Line = pos[0].Line()
			p.Column = pos[0].Column()
		}
		problems = append(problems, p)
	}

	if len(problems) == 0 {
		problems = append(problems, Problem{Message: err.Error()})
	}
	return problems
}
