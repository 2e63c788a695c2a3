// Package policy checks batch templates against Rego policies before any
// remote call is made.
//
// An Engine holds compiled policies. Each policy is a Rego module whose
// package defines a deny set; entries are either strings or objects with
// message, severity and path keys. The input document is:
//
//	{
//	  "template": {"batch_name": "...", "projects": [...]},
//	  "counts":   {"projects": 1, "cycles": 2, "modules": 0, "issues": 7},
//	  "context":  {"operation": "create", "workspace": "acme", "dry_run": false}
//	}
//
// Entries with severity error or critical block the batch; everything else
// is reported as a warning. Engine implements engine.Guard, so it can be
// passed as engine.Options.Guard:
//
//	pe, err := policy.NewEngine(logger)
//	if err != nil {
//	    return err
//	}
//	if err := pe.LoadPolicies(ctx, []string{"./policies"}); err != nil {
//	    return err
//	}
//	exec := engine.NewExecutor(client, store, engine.Options{Guard: pe})
//
// # Built-in policies
//
//   - batch-limits: at most 500 resources per batch (error)
//   - cycle-dates: cycle dates come in ordered pairs (error)
//   - issue-priority: priorities Plane accepts (warning)
//   - issue-nesting: sub-issues at most 4 levels deep (warning)
//   - duplicate-names: repeated project, cycle or module names (warning)
//
// # Hot reload
//
// Loader.Watch uses fsnotify to reload policy files after they change:
//
//	loader := policy.NewLoader(logger)
//	err := loader.Watch(ctx, paths, func(p []policy.Policy) error {
//	    return pe.ReplacePolicies(ctx, p)
//	})
package policy
