package cli

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentcore/internal/policy/approval"
)

type recordedResolution struct {
	id       string
	approved bool
	always   bool
	answers  map[string]string
}

type fakeResolver struct {
	mu   sync.Mutex
	got  []recordedResolution
	done chan struct{}
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{done: make(chan struct{}, 4)}
}

func (f *fakeResolver) Resolve(id string, approved, always bool) error {
	f.mu.Lock()
	f.got = append(f.got, recordedResolution{id: id, approved: approved, always: always})
	f.mu.Unlock()
	f.done <- struct{}{}
	return nil
}

func (f *fakeResolver) Answer(id string, answers map[string]string) error {
	f.mu.Lock()
	f.got = append(f.got, recordedResolution{id: id, answers: answers})
	f.mu.Unlock()
	f.done <- struct{}{}
	return nil
}

func (f *fakeResolver) wait(t *testing.T) recordedResolution {
	t.Helper()
	select {
	case <-f.done:
	case <-time.After(5 * time.Second):
		t.Fatal("request was not resolved")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.got[len(f.got)-1]
}

func TestTerminalPresenter_Confirm(t *testing.T) {
	tests := []struct {
		input        string
		wantApproved bool
		wantAlways   bool
	}{
		{"y\n", true, false},
		{"YES\n", true, false},
		{"a\n", true, true},
		{"n\n", false, false},
		{"maybe\nn\n", false, false},
		{"", false, false},
	}

	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			var out bytes.Buffer
			p := newTerminalPresenter(strings.NewReader(tt.input), &out, true)
			r := newFakeResolver()
			p.Bind(r)

			p.Present(&approval.Request{ID: "r1", Kind: approval.KindShell, Title: "Run ls", Details: "ls -la"})
			got := r.wait(t)

			assert.Equal(t, "r1", got.id)
			assert.Equal(t, tt.wantApproved, got.approved)
			assert.Equal(t, tt.wantAlways, got.always)
		})
	}
}

func TestTerminalPresenter_NonInteractiveRejects(t *testing.T) {
	var out bytes.Buffer
	p := newTerminalPresenter(strings.NewReader("y\n"), &out, false)
	r := newFakeResolver()
	p.Bind(r)

	p.Present(&approval.Request{ID: "r1", Kind: approval.KindWrite, Title: "Write file"})
	got := r.wait(t)
	assert.False(t, got.approved)
	assert.Contains(t, out.String(), "no terminal")
}

func TestTerminalPresenter_Questions(t *testing.T) {
	var out bytes.Buffer
	p := newTerminalPresenter(strings.NewReader("2\nblue\n"), &out, true)
	r := newFakeResolver()
	p.Bind(r)

	p.Present(&approval.Request{
		ID:   "q1",
		Kind: approval.KindQuestion,
		Questions: []approval.Question{
			{ID: "size", Text: "Which size?", Options: []string{"small", "large"}},
			{ID: "color", Text: "Which color?"},
		},
	})
	got := r.wait(t)
	require.NotNil(t, got.answers)
	assert.Equal(t, "large", got.answers["size"])
	assert.Equal(t, "blue", got.answers["color"])
}

func TestTerminalPresenter_ResolvedPrintsAuto(t *testing.T) {
	var out bytes.Buffer
	p := newTerminalPresenter(strings.NewReader(""), &out, true)

	p.Resolved(&approval.Request{Title: "Run ls"}, approval.Resolution{Decision: approval.DecisionApproved})
	assert.Empty(t, out.String())

	p.Resolved(&approval.Request{Title: "Run ls"}, approval.Resolution{Decision: approval.DecisionApproved, Auto: true})
	assert.Contains(t, out.String(), "auto-approved: Run ls")
}

func TestPickOption(t *testing.T) {
	opts := []string{"a", "b"}
	assert.Equal(t, "a", pickOption("1", opts))
	assert.Equal(t, "b", pickOption("2", opts))
	assert.Equal(t, "3", pickOption("3", opts))
	assert.Equal(t, "free text", pickOption("free text", opts))
}
