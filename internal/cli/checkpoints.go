package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"agentcore/internal/storage"
)

// checkpointStore is the part of storage.DB the checkpoints commands use.
type checkpointStore interface {
	ListThreads(ctx context.Context) ([]storage.ThreadSummary, error)
	ListCheckpoints(ctx context.Context, agentID string) ([]*storage.Checkpoint, error)
	TombstoneAgent(ctx context.Context, agentID string) (int64, error)
	PruneTombstones(ctx context.Context, olderThan time.Duration) (int64, error)
	ListDelegations(ctx context.Context, sessionID string) ([]storage.Delegation, error)
}

// NewCheckpointsCmd creates the checkpoints command group.
func NewCheckpointsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "checkpoints",
		Aliases: []string{"cp"},
		Short:   "Inspect and prune persisted conversations",
	}

	cmd.AddCommand(newCheckpointsListCmd())
	cmd.AddCommand(newCheckpointsShowCmd())
	cmd.AddCommand(newCheckpointsDeleteCmd())
	cmd.AddCommand(newCheckpointsPruneCmd())
	cmd.AddCommand(newCheckpointsDelegationsCmd())

	return cmd
}

func withStore(cmd *cobra.Command, fn func(checkpointStore) error) error {
	cliCtx := GetCLIContext(cmd)
	if cliCtx == nil {
		return fmt.Errorf("CLI context not initialized")
	}
	db, err := cliCtx.GetStorage()
	if err != nil {
		return fmt.Errorf("open checkpoint store: %w", err)
	}
	return fn(db)
}

func newCheckpointsListCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conversation threads",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(s checkpointStore) error {
				return listThreads(cmd.Context(), s, cmd.OutOrStdout(), jsonOutput)
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func newCheckpointsShowCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "show <agent-id>",
		Short: "Show an agent's checkpoints, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(s checkpointStore) error {
				return showCheckpoints(cmd.Context(), s, cmd.OutOrStdout(), args[0], jsonOutput)
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON, including data")
	return cmd
}

func newCheckpointsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <agent-id>",
		Short: "Tombstone every checkpoint of an agent",
		Long: `Tombstone every checkpoint of an agent. Tombstoned checkpoints are no
longer resumed and are removed by 'checkpoints prune'.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(s checkpointStore) error {
				n, err := s.TombstoneAgent(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Tombstoned %d checkpoint(s) of %s\n", n, args[0])
				return nil
			})
		},
	}
}

func newCheckpointsPruneCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete tombstoned checkpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("older-than") {
				if cliCtx := GetCLIContext(cmd); cliCtx != nil {
					olderThan = cliCtx.Config.Storage.PruneAfter
				}
			}
			return withStore(cmd, func(s checkpointStore) error {
				n, err := s.PruneTombstones(cmd.Context(), olderThan)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d checkpoint(s)\n", n)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "only prune tombstones older than this (default: storage.prune_after)")
	return cmd
}

func newCheckpointsDelegationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delegations <session-id>",
		Short: "List sub-agent runs started by a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(s checkpointStore) error {
				return listDelegations(cmd.Context(), s, cmd.OutOrStdout(), args[0])
			})
		},
	}
}

func listThreads(ctx context.Context, s checkpointStore, out io.Writer, jsonOutput bool) error {
	threads, err := s.ListThreads(ctx)
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(out, threads)
	}
	if len(threads) == 0 {
		fmt.Fprintln(out, "No checkpoints")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "AGENT\tSTATUS\tRUNS\tUPDATED\tPREVIEW")
	for _, t := range threads {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			t.AgentID, t.Status, t.RunCount, t.UpdatedAt.Format(time.DateTime), truncatePreview(t.Preview, 50))
	}
	return w.Flush()
}

func showCheckpoints(ctx context.Context, s checkpointStore, out io.Writer, agentID string, jsonOutput bool) error {
	cps, err := s.ListCheckpoints(ctx, agentID)
	if err != nil {
		return err
	}
	if len(cps) == 0 {
		return fmt.Errorf("no checkpoints for agent %s", agentID)
	}
	if jsonOutput {
		return writeJSON(out, cps)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNODE\tSESSION\tCREATED\tPREVIEW")
	for _, cp := range cps {
		id := cp.ID
		if cp.Tombstone {
			id += " (deleted)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			id, cp.NodePath, cp.SessionID, cp.CreatedAt.Format(time.DateTime), truncatePreview(cp.Preview, 40))
	}
	return w.Flush()
}

func listDelegations(ctx context.Context, s checkpointStore, out io.Writer, sessionID string) error {
	ds, err := s.ListDelegations(ctx, sessionID)
	if err != nil {
		return err
	}
	if len(ds) == 0 {
		fmt.Fprintln(out, "No delegations")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "AGENT\tDEPTH\tSTATUS\tTOKENS\tDURATION\tDESCRIPTION")
	for _, d := range ds {
		fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%s\t%s\n",
			d.AgentType, d.Depth, d.Status, d.Tokens, d.Duration.Round(time.Millisecond), truncatePreview(d.Description, 40))
	}
	return w.Flush()
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncatePreview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
