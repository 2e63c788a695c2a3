package template

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// DefaultScriptTimeout bounds the execution of a Starlark template.
const DefaultScriptTimeout = 10 * time.Second

// StarlarkEvaluator runs procedural templates. A script either assigns a
// dict to the global "template", or defines batch_name, workspace_slug and
// projects as globals. The caller's variables are visible as "vars".
type StarlarkEvaluator struct {
	timeout time.Duration
}

// NewStarlarkEvaluator creates a new Starlark evaluator.
func NewStarlarkEvaluator(timeout time.Duration) *StarlarkEvaluator {
	if timeout == 0 {
		timeout = DefaultScriptTimeout
	}
	return &StarlarkEvaluator{timeout: timeout}
}

// Evaluate executes script and returns the template data it produced.
func (se *StarlarkEvaluator) Evaluate(ctx context.Context, filename string, script []byte, vars map[string]interface{}) (map[string]interface{}, error) {
	evalCtx, cancel := context.WithTimeout(ctx, se.timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name:  "planesync",
		Print: func(_ *starlark.Thread, _ string) {},
	}

	type result struct {
		out map[string]interface{}
		err error
	}
	resultCh := make(chan result, 1)

	go func() {
		out, err := se.evaluateSync(thread, filename, script, vars)
		resultCh <- result{out: out, err: err}
	}()

	select {
	case <-evalCtx.Done():
		thread.Cancel("timeout")
		return nil, fmt.Errorf("starlark execution timeout after %v", se.timeout)
	case r := <-resultCh:
		return r.out, r.err
	}
}

func (se *StarlarkEvaluator) evaluateSync(thread *starlark.Thread, filename string, script []byte, vars map[string]interface{}) (map[string]interface{}, error) {
	if vars == nil {
		vars = map[string]interface{}{}
	}
	starlarkVars, err := toStarlarkValue(vars)
	if err != nil {
		return nil, fmt.Errorf("failed to convert vars: %w", err)
	}

	predeclared := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
		"vars":   starlarkVars,
	}

	globals, err := starlark.ExecFile(thread, filename, script, predeclared)
	if err != nil {
		return nil, fmt.Errorf("starlark execution failed: %w", err)
	}

	if tpl, ok := globals["template"]; ok {
		out, err := fromStarlarkValue(tpl)
		if err != nil {
			return nil, fmt.Errorf("failed to convert template: %w", err)
		}
		m, ok := out.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("global template must be a dict, got %s", tpl.Type())
		}
		return m, nil
	}

	output := make(map[string]interface{})
	for _, name := range []string{"batch_name", "workspace_slug", "projects"} {
		val, ok := globals[name]
		if !ok {
			continue
		}
		goVal, err := fromStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert %s: %w", name, err)
		}
		output[name] = goVal
	}
	if len(output) == 0 {
		return nil, fmt.Errorf("script defines neither template nor projects")
	}
	return output, nil
}

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []string:
		list := make([]starlark.Value, len(val))
		for i, s := range val {
			list[i] = starlark.String(s)
		}
		return starlark.NewList(list), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			starlarkItem, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = starlarkItem
		}
		return starlark.NewList(list), nil
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		dict := starlark.NewDict(len(val))
		for _, k := range keys {
			starlarkVal, err := toStarlarkValue(val[k])
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), starlarkVal); err != nil {
				return nil, err
			}
		}
		return dict, nil
	case map[string]string:
		dict := starlark.NewDict(len(val))
		for k, s := range val {
			if err := dict.SetKey(starlark.String(k), starlark.String(s)); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value to a Go value.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case starlark.Tuple:
		list := make([]interface{}, len(val))
		for i, item := range val {
			goItem, err := fromStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = goItem
		}
		return list, nil
	case *starlark.List:
		list := make([]interface{}, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]interface{})
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string, got %s", item[0].Type())
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]interface{})
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}
