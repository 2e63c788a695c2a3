package commands

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/planesync/planesync/pkg/engine"
	"github.com/planesync/planesync/pkg/policy"
)

// validateOutput is the --json form of validate.
type validateOutput struct {
	Plan   *engine.CreationPlan `json:"plan"`
	Policy *policy.PolicyResult `json:"policy,omitempty"`
}

func newValidateCommand() *cobra.Command {
	var (
		file   string
		format string
		vars   map[string]string
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a template and show its creation plan",
		Long: `Validate a batch template without touching Plane.

This command checks:
  - Template syntax and schema
  - Cycle and module references
  - Policy compliance (OPA/rego)

and prints every remote call a create run would make, in order, with the
number of ledger rows it would write.`,
		Example: `  # Validate a YAML template
  planesync validate -f q1.yaml

  # Validate a Starlark template with variables
  planesync validate -f q1.star --var quarter=Q1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			s, err := loadSettings()
			if err != nil {
				return err
			}

			log.Info().Str("template", file).Msg("Validating template")

			tpl, err := loadTemplate(ctx, file, format, vars)
			if err != nil {
				return err
			}

			plan := engine.Plan(tpl, s.EngineOptions())

			var result *policy.PolicyResult
			if s.Policy.Enabled {
				pe, err := newPolicyEngine(ctx, s, log.Logger)
				if err != nil {
					return err
				}
				result, err = pe.Evaluate(ctx, tpl, &policy.PolicyContext{
					Operation: "validate",
					Workspace: plan.Workspace,
					DryRun:    true,
				})
				if err != nil {
					return err
				}
			}

			if jsonOutput {
				if err := printJSON(validateOutput{Plan: plan, Policy: result}); err != nil {
					return err
				}
			} else {
				if err := plan.Render(os.Stdout); err != nil {
					return err
				}
				printPolicyResult(result)
			}

			if result != nil && !result.Allowed {
				return fmt.Errorf("template denied by %d policy violation(s)", len(result.Violations))
			}
			if plan.Workspace == "" {
				return engine.ErrNoWorkspace
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "template file")
	cmd.Flags().StringVar(&format, "format", "", "template format (yaml, json, cue, starlark); default from extension")
	cmd.Flags().StringToStringVar(&vars, "var", nil, "variables for Starlark templates (key=value)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func printPolicyResult(result *policy.PolicyResult) {
	if result == nil {
		return
	}
	for _, v := range result.Violations {
		fmt.Printf("✗ %s [%s] %s", v.Policy, v.Severity, v.Message)
		if v.Path != "" {
			fmt.Printf(" (%s)", v.Path)
		}
		fmt.Println()
	}
	for _, v := range result.Warnings {
		fmt.Printf("! %s [%s] %s", v.Policy, v.Severity, v.Message)
		if v.Path != "" {
			fmt.Printf(" (%s)", v.Path)
		}
		fmt.Println()
	}
	for _, e := range result.Errors {
		fmt.Printf("? %s\n", e)
	}
	if result.Allowed {
		fmt.Printf("✓ %d policies passed\n", len(result.EvaluatedPolicies))
	}
}
