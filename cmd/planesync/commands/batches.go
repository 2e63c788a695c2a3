package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/planesync/planesync/pkg/stores"
)

func newBatchesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batches",
		Short: "Inspect batches and their ledger",
		Long: `Inspect batches recorded in the ledger.

Each batch keeps one row per resource it created that has not been cleaned
up yet, and an operation log of what happened during its runs.`,
	}

	cmd.AddCommand(newBatchesListCommand())
	cmd.AddCommand(newBatchesShowCommand())

	return cmd
}

func newBatchesListCommand() *cobra.Command {
	var (
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List batches, newest first",
		Example: `  planesync batches list
  planesync batches list --limit 10 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := openApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			batches, err := a.store.ListBatches(ctx, limit, offset)
			if err != nil {
				return err
			}

			if jsonOutput {
				if batches == nil {
					batches = []*stores.SyncBatch{}
				}
				return printJSON(batches)
			}

			if len(batches) == 0 {
				fmt.Println("No batches")
				return nil
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTEMPLATE\tWORKSPACE\tSTATUS\tCREATED")
			for _, b := range batches {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					b.ID, b.TemplateName, b.WorkspaceSlug, b.Status, b.CreatedAt.Local().Format(time.DateTime))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of batches")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of batches to skip")

	return cmd
}

// batchShowOutput is the --json form of batches show.
type batchShowOutput struct {
	Batch     *stores.SyncBatch         `json:"batch"`
	Resources []*stores.CreatedResource `json:"resources"`
	Events    []*stores.Event           `json:"events,omitempty"`
}

func newBatchesShowCommand() *cobra.Command {
	var events bool

	cmd := &cobra.Command{
		Use:   "show <batch-id>",
		Short: "Show a batch and its remaining resources",
		Example: `  planesync batches show 3f2a9c1e-...
  planesync batches show 3f2a9c1e-... --events`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := openApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			batch, err := a.store.GetBatch(ctx, args[0])
			if err != nil {
				return err
			}
			rows, err := a.store.ListResources(ctx, batch.ID, stores.OrderCreation)
			if err != nil {
				return err
			}
			out := batchShowOutput{Batch: batch, Resources: rows}
			if events {
				out.Events, err = a.store.GetEvents(ctx, stores.EventFilter{BatchID: &batch.ID})
				if err != nil {
					return err
				}
			}

			if jsonOutput {
				if out.Resources == nil {
					out.Resources = []*stores.CreatedResource{}
				}
				return printJSON(out)
			}

			printBatch(batch)
			fmt.Printf("\nResources (%d):\n", len(rows))
			printResources(rows)
			if events {
				fmt.Printf("\nEvents (%d):\n", len(out.Events))
				printEvents(out.Events)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&events, "events", false, "include the operation log")

	return cmd
}

func printBatch(b *stores.SyncBatch) {
	fmt.Printf("Batch:     %s\n", b.ID)
	fmt.Printf("Template:  %s\n", b.TemplateName)
	fmt.Printf("Workspace: %s\n", b.WorkspaceSlug)
	fmt.Printf("Status:    %s\n", b.Status)
	fmt.Printf("Created:   %s\n", b.CreatedAt.Local().Format(time.DateTime))
	fmt.Printf("Updated:   %s\n", b.UpdatedAt.Local().Format(time.DateTime))
	if b.Error != nil {
		fmt.Printf("Error:     %s\n", *b.Error)
	}
}

func printResources(rows []*stores.CreatedResource) {
	if len(rows) == 0 {
		fmt.Println("  (none)")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 2, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  TYPE\tNAME\tPROJECT\tREMOTE ID\tPARENT")
	for _, r := range rows {
		parent := "-"
		if r.ParentID != nil {
			parent = *r.ParentID
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\n", r.ResourceType, r.Name, r.ProjectSlug, r.RemoteID, parent)
	}
	_ = tw.Flush()
}

func printEvents(events []*stores.Event) {
	tw := tabwriter.NewWriter(os.Stdout, 2, 0, 2, ' ', 0)
	for _, e := range events {
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format("15:04:05.000"), e.Level, e.Step, e.Message)
	}
	_ = tw.Flush()
}
