package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"agentcore/internal/runner"
	"agentcore/internal/storage"
)

const cancelGrace = 10 * time.Second

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	var (
		sessionID    string
		noCheckpoint bool
		autoApprove  bool
		workDir      string
	)

	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Run one prompt to completion",
		Long: `Run a single prompt through an agent session and print the reply.

The prompt is read from stdin when no argument is given. Reusing --session
resumes the conversation from its latest checkpoint.`,
		Example: `  agentcore run "list the go files in this repo"
  echo "summarize README.md" | agentcore run --session docs
  agentcore run --auto-approve "run the tests"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx := GetCLIContext(cmd)
			if cliCtx == nil {
				return fmt.Errorf("CLI context not initialized")
			}

			prompt, err := readPrompt(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			if sessionID == "" {
				sessionID = uuid.New().String()
			}

			var db *storage.DB
			if !noCheckpoint {
				if db, err = cliCtx.GetStorage(); err != nil {
					return fmt.Errorf("open checkpoint store: %w", err)
				}
			}

			cfg := *cliCtx.Config
			if autoApprove {
				cfg.Approval.AutoApprove = true
			}

			presenter := NewTerminalPresenter(os.Stdin, cmd.ErrOrStderr())
			app, err := NewApp(&cfg, db, AppOptions{Presenter: presenter, WorkDir: workDir})
			if err != nil {
				return err
			}
			presenter.Bind(app.Gate)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sink := newTerminalSink(cmd.OutOrStdout(), cmd.ErrOrStderr(), cliCtx.Verbose)
			runErr := runPrompt(ctx, app, sessionID, prompt, sink)

			closeCtx, cancel := context.WithTimeout(context.Background(), cancelGrace)
			defer cancel()
			if err := app.Close(closeCtx); err != nil && runErr == nil {
				runErr = err
			}
			if !cliCtx.Quiet {
				fmt.Fprintf(cmd.ErrOrStderr(), "session: %s\n", sessionID)
			}
			return runErr
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session id (default: new session)")
	cmd.Flags().BoolVar(&noCheckpoint, "no-checkpoint", false, "do not persist the conversation")
	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "approve every tool call without asking")
	cmd.Flags().StringVarP(&workDir, "workdir", "w", "", "working directory for tools (default: current directory)")

	return cmd
}

// runPrompt submits prompt and blocks until the session is idle. An
// interrupt cancels the run and waits for it to wind down.
func runPrompt(ctx context.Context, app *App, sessionID, prompt string, sink *terminalSink) error {
	if _, err := app.Orchestrator.Submit(ctx, sessionID, runner.Message{Content: prompt}, sink); err != nil {
		return err
	}

	if err := app.Orchestrator.Wait(ctx, sessionID); err != nil {
		if !errors.Is(err, context.Canceled) {
			return err
		}
		app.Orchestrator.Cancel(sessionID)
		waitCtx, cancel := context.WithTimeout(context.Background(), cancelGrace)
		defer cancel()
		_ = app.Orchestrator.Wait(waitCtx, sessionID)
		return fmt.Errorf("interrupted")
	}
	return sink.Err()
}

func readPrompt(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read prompt: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", fmt.Errorf("no prompt given")
	}
	return prompt, nil
}
