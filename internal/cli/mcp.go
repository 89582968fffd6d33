package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"agentcore/internal/mcp/bridge"
	"agentcore/internal/mcp/client"
	"agentcore/internal/mcp/protocol"
)

// inspectSession is the session id the CLI attaches servers under.
const inspectSession = "cli-inspect"

// toolLister is the part of client.Manager the mcp commands use.
type toolLister interface {
	ServerIDs() []string
	ServerName(serverID string) string
	Attach(ctx context.Context, sessionID, serverID string) error
	ListTools(ctx context.Context, sessionID, serverID string) ([]protocol.Tool, error)
}

// NewMCPCmd creates the mcp command group.
func NewMCPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Inspect configured capability servers",
	}
	cmd.AddCommand(newMCPServersCmd())
	cmd.AddCommand(newMCPToolsCmd())
	return cmd
}

func newMCPServersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "servers",
		Short: "List configured servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx := GetCLIContext(cmd)
			if cliCtx == nil {
				return fmt.Errorf("CLI context not initialized")
			}
			servers := cliCtx.Config.MCP.Servers
			if len(servers) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No servers configured")
				return nil
			}

			ids := make([]string, 0, len(servers))
			for id := range servers {
				ids = append(ids, id)
			}
			sort.Strings(ids)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tTRANSPORT\tTARGET")
			for _, id := range ids {
				s := servers[id]
				target := s.URL
				if target == "" {
					target = strings.TrimSpace(s.Command + " " + strings.Join(s.Args, " "))
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", id, s.Name, s.Transport, target)
			}
			return w.Flush()
		},
	}
}

func newMCPToolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools [server-id...]",
		Short: "Connect to servers and list the tools they expose",
		Long: `Connect to each server (all configured servers by default) and list
its tools under the names an agent session would see them.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx := GetCLIContext(cmd)
			if cliCtx == nil {
				return fmt.Errorf("CLI context not initialized")
			}
			wd, err := os.Getwd()
			if err != nil {
				return err
			}

			mgr := client.NewManager(cliCtx.Config.MCP.Servers, wd)
			defer mgr.CloseAll()
			return listMCPTools(cmd.Context(), mgr, args, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
}

func listMCPTools(ctx context.Context, servers toolLister, ids []string, out, errOut io.Writer) error {
	if len(ids) == 0 {
		ids = servers.ServerIDs()
	}
	if len(ids) == 0 {
		fmt.Fprintln(out, "No servers configured")
		return nil
	}

	var (
		discovered []bridge.Discovered
		described  []string
		failed     int
	)
	for _, id := range ids {
		if err := servers.Attach(ctx, inspectSession, id); err != nil {
			fmt.Fprintf(errOut, "%s: %v\n", id, err)
			failed++
			continue
		}
		tools, err := servers.ListTools(ctx, inspectSession, id)
		if err != nil {
			fmt.Fprintf(errOut, "%s: %v\n", id, err)
			failed++
			continue
		}
		for _, t := range tools {
			discovered = append(discovered, bridge.Discovered{
				ServerID:   id,
				ServerName: servers.ServerName(id),
				Tool:       t.Name,
			})
			described = append(described, t.Description)
		}
	}

	names := bridge.ExposeNames(discovered)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SERVER\tTOOL\tEXPOSED AS\tDESCRIPTION")
	for i, d := range discovered {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.ServerID, d.Tool, names[i], truncatePreview(firstLine(described[i]), 60))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if failed == len(ids) {
		return fmt.Errorf("no server could be reached")
	}
	return nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}
