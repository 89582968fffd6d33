package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/term"

	"agentcore/internal/policy/approval"
	"agentcore/pkg/logger"
)

// Resolver answers approval requests. *approval.Gate implements it.
type Resolver interface {
	Resolve(requestID string, approved, always bool) error
	Answer(requestID string, answers map[string]string) error
}

// TerminalPresenter prompts for approvals on the controlling terminal.
// Without a terminal every request is rejected, so unattended runs never
// hang on a prompt.
type TerminalPresenter struct {
	in          *bufio.Reader
	out         io.Writer
	interactive bool

	mu       sync.Mutex // serializes prompts
	resolver Resolver
}

var _ approval.Presenter = (*TerminalPresenter)(nil)

// NewTerminalPresenter reads answers from in and writes prompts to out.
func NewTerminalPresenter(in *os.File, out io.Writer) *TerminalPresenter {
	return newTerminalPresenter(in, out, term.IsTerminal(int(in.Fd())))
}

func newTerminalPresenter(in io.Reader, out io.Writer, interactive bool) *TerminalPresenter {
	return &TerminalPresenter{
		in:          bufio.NewReader(in),
		out:         out,
		interactive: interactive,
	}
}

// Bind sets where answers go. The gate is built after its presenter.
func (p *TerminalPresenter) Bind(r Resolver) {
	p.mu.Lock()
	p.resolver = r
	p.mu.Unlock()
}

// Present implements approval.Presenter.
func (p *TerminalPresenter) Present(req *approval.Request) {
	r := *req
	go p.prompt(&r)
}

// Resolved implements approval.Presenter.
func (p *TerminalPresenter) Resolved(req *approval.Request, res approval.Resolution) {
	if !res.Auto {
		return
	}
	fmt.Fprintf(p.out, "  auto-%s: %s\n", res.Decision, req.Title)
}

func (p *TerminalPresenter) prompt(req *approval.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.resolver == nil {
		return
	}

	var err error
	switch {
	case req.Kind == approval.KindQuestion:
		err = p.resolver.Answer(req.ID, p.askQuestions(req))
	case !p.interactive:
		fmt.Fprintf(p.out, "Rejected %q: no terminal to confirm on\n", req.Title)
		err = p.resolver.Resolve(req.ID, false, false)
	default:
		approved, always := p.confirm(req)
		err = p.resolver.Resolve(req.ID, approved, always)
	}
	if err != nil {
		logger.Debug().Err(err).Str("request_id", req.ID).Msg("Approval already resolved")
	}
}

func (p *TerminalPresenter) confirm(req *approval.Request) (approved, always bool) {
	fmt.Fprintf(p.out, "\n[%s] %s\n", req.Kind, req.Title)
	if req.Details != "" {
		fmt.Fprintln(p.out, indent(req.Details, "    "))
	}
	for {
		fmt.Fprint(p.out, "Allow? [y]es / [n]o / [a]lways for this session: ")
		line, err := p.in.ReadString('\n')
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, false
		case "a", "always":
			return true, true
		case "n", "no":
			return false, false
		}
		if err != nil {
			return false, false
		}
	}
}

func (p *TerminalPresenter) askQuestions(req *approval.Request) map[string]string {
	answers := make(map[string]string, len(req.Questions))
	if !p.interactive {
		return answers
	}
	for _, q := range req.Questions {
		fmt.Fprintf(p.out, "\n%s\n", q.Text)
		for i, opt := range q.Options {
			fmt.Fprintf(p.out, "  %d) %s\n", i+1, opt)
		}
		fmt.Fprint(p.out, "> ")
		line, _ := p.in.ReadString('\n')
		answers[q.ID] = pickOption(strings.TrimSpace(line), q.Options)
	}
	return answers
}

// pickOption maps a 1-based index onto options; anything else is taken as
// typed.
func pickOption(input string, options []string) string {
	if n, err := strconv.Atoi(input); err == nil && n >= 1 && n <= len(options) {
		return options[n-1]
	}
	return input
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
