// Package template loads and validates batch templates.
//
// A template declares one batch: a workspace and an ordered list of projects,
// each with cycles, modules and a tree of issues. Templates may be written
// in YAML or JSON, in CUE, or produced procedurally by a Starlark script.
// Every source is checked against the closed #BatchTemplate CUE schema and
// then against struct tags and cross-field rules before it reaches the
// engine, so the engine can assume structural validity.
package template
