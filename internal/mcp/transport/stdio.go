package transport

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/rs/zerolog/log"
)

const stdioExitGrace = 2 * time.Second

// StdioOptions configures a server subprocess.
type StdioOptions struct {
	Command string
	Args    []string
	// Env is added to the parent environment.
	Env     map[string]string
	WorkDir string
}

// StartStdio launches the server and speaks to it over its stdin and stdout.
// Stderr lines are logged at debug level. Closing the transport closes stdin
// and kills the process if it has not exited shortly after.
func StartStdio(opts StdioOptions) (*Stream, error) {
	if opts.Command == "" {
		return nil, fmt.Errorf("stdio transport: command is required")
	}
	cmd := exec.Command(opts.Command, opts.Args...)
	if len(opts.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range opts.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}
	cmd.Dir = opts.WorkDir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		stdin.Close()
		return nil, fmt.Errorf("start %s: %w", opts.Command, err)
	}
	go logStderr(opts.Command, stderr)

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	return NewStream(stdout, stdin, func() error {
		select {
		case <-exited:
			return nil
		case <-time.After(stdioExitGrace):
		}
		log.Debug().Str("command", opts.Command).Msg("capability server did not exit; killing it")
		if err := cmd.Process.Kill(); err != nil {
			return err
		}
		<-exited
		return nil
	}), nil
}

func logStderr(command string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		log.Debug().Str("command", command).Str("stderr", scanner.Text()).Msg("capability server")
	}
}
