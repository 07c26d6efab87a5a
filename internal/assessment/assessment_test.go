package assessment

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/opencode-sh/reflection3/internal/hostclient"
	"github.com/opencode-sh/reflection3/internal/registry"
	"github.com/opencode-sh/reflection3/internal/types"
)

// response describes how one auxiliary session (one candidate model) should
// behave when polled.
type response struct {
	timeout bool
	text    string
}

// sequentialClient is a minimal hostclient.Client fake: the Nth CreateSession
// call is answered according to responses[N], so tests can assert
// candidate-fallback behavior without racing wall-clock polling.
type sequentialClient struct {
	responses  []response
	createdIDs []string
	deletedIDs []string
}

func (s *sequentialClient) ListSessions(ctx context.Context, directory string) ([]hostclient.SessionRef, error) {
	return nil, nil
}

func (s *sequentialClient) GetSession(ctx context.Context, id string) (types.Session, error) {
	return types.Session{ID: id}, nil
}

func (s *sequentialClient) CreateSession(ctx context.Context, directory string) (hostclient.SessionRef, error) {
	id := "aux-" + string(rune('a'+len(s.createdIDs)))
	s.createdIDs = append(s.createdIDs, id)
	return hostclient.SessionRef{ID: id, Directory: directory}, nil
}

func (s *sequentialClient) DeleteSession(ctx context.Context, id, directory string) error {
	s.deletedIDs = append(s.deletedIDs, id)
	return nil
}

func (s *sequentialClient) PromptAsync(ctx context.Context, id string, req hostclient.PromptRequest) error {
	return nil
}

func (s *sequentialClient) Messages(ctx context.Context, id string) ([]types.Message, error) {
	idx := len(s.deletedIDs) // candidates fully resolved so far == index of the in-flight one
	if idx >= len(s.responses) {
		return nil, nil
	}
	resp := s.responses[idx]
	if resp.timeout {
		return nil, nil
	}
	return []types.Message{completedMessage(resp.text)}, nil
}

func (s *sequentialClient) Toast(ctx context.Context, directory, title, message string, variant hostclient.ToastVariant, durationMs int) error {
	return nil
}

func (s *sequentialClient) Events(ctx context.Context) (<-chan hostclient.Event, error) {
	return nil, nil
}

func completedMessage(text string) types.Message {
	done := int64(1000)
	return types.Message{
		Role:        types.RoleAssistant,
		CompletedAt: &done,
		Parts:       []types.Part{{Kind: types.PartText, Text: text}},
	}
}

func TestRunner_Run_SucceedsOnFirstCandidate(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	client := &sequentialClient{responses: []response{{text: "status: complete"}}}
	runner := &Runner{Client: client, Registry: reg, PollInterval: 2 * time.Millisecond, Timeout: 200 * time.Millisecond}

	result, ok := runner.Run(context.Background(), []string{"openai/gpt-5"}, Request{Directory: "/workspace"})

	if !ok {
		t.Fatal("expected success on first candidate")
	}
	if result.Text != "status: complete" {
		t.Errorf("Text = %q", result.Text)
	}
	if result.ModelUsed != "openai/gpt-5" {
		t.Errorf("ModelUsed = %q", result.ModelUsed)
	}
	if len(client.deletedIDs) != 1 {
		t.Errorf("expected exactly one session deleted, got %d", len(client.deletedIDs))
	}
	if reg.IsJudge(client.createdIDs[0]) {
		t.Error("judge registry entry should be removed after the run completes")
	}
}

func TestRunner_Run_FallsBackToSecondCandidate(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	client := &sequentialClient{responses: []response{
		{timeout: true},
		{text: "status: in_progress"},
	}}
	runner := &Runner{Client: client, Registry: reg, PollInterval: 2 * time.Millisecond, Timeout: 10 * time.Millisecond}

	result, ok := runner.Run(context.Background(), []string{"candidate-a", "candidate-b"}, Request{Directory: "/workspace"})

	if !ok {
		t.Fatal("expected second candidate to succeed")
	}
	if result.ModelUsed != "candidate-b" {
		t.Errorf("ModelUsed = %q, want candidate-b", result.ModelUsed)
	}
	if len(client.deletedIDs) != 2 {
		t.Errorf("both auxiliary sessions must be deleted, got %d", len(client.deletedIDs))
	}
}

func TestRunner_Run_AllCandidatesFail(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	client := &sequentialClient{responses: []response{{timeout: true}, {timeout: true}}}
	runner := &Runner{Client: client, Registry: reg, PollInterval: 2 * time.Millisecond, Timeout: 6 * time.Millisecond}

	_, ok := runner.Run(context.Background(), []string{"a", "b"}, Request{Directory: "/workspace"})

	if ok {
		t.Fatal("expected failure when every candidate times out")
	}
	if len(client.deletedIDs) != 2 {
		t.Errorf("sessions must still be deleted on timeout, got %d", len(client.deletedIDs))
	}
}

func TestRunner_Run_NoCandidatesNeverCallsClient(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	client := &sequentialClient{}
	runner := &Runner{Client: client, Registry: reg, PollInterval: time.Millisecond, Timeout: time.Millisecond}

	_, ok := runner.Run(context.Background(), nil, Request{Directory: "/workspace"})
	if ok {
		t.Fatal("an empty candidate list can never succeed")
	}
	if len(client.createdIDs) != 0 {
		t.Error("no auxiliary session should be created when there are no candidates")
	}
}

func TestComposePrompt_IncludesAttemptHistoryOnlyAfterFirstAttempt(t *testing.T) {
	t.Parallel()

	first := ComposePrompt(Request{Context: types.TaskContext{TaskType: types.TaskCoding}, AttemptIndex: 0, MaxAttempts: 3})
	if strings.Contains(first, "Reflection History") {
		t.Error("attempt 0 (the first attempt) must not include a Reflection History section")
	}

	second := ComposePrompt(Request{Context: types.TaskContext{TaskType: types.TaskCoding}, AttemptIndex: 1, MaxAttempts: 3})
	if !strings.Contains(second, "attempt 2 of 3") {
		t.Errorf("expected attempt counter in prompt, got: %s", second)
	}
}

func TestComposePrompt_TruncatesLongSections(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 5000)
	prompt := ComposePrompt(Request{LastAssistantText: long, ProjectInstructions: long})

	// 4000-char cap on the last response + 800-char cap on project
	// instructions + headers/schema should keep the whole prompt well under
	// the length of the two uncapped inputs combined (10000 chars).
	if len(prompt) >= 10000 {
		t.Errorf("expected truncation to keep the prompt well under 10000 chars, got %d", len(prompt))
	}
}
