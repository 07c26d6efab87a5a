// Package assessment implements the Self-Assessment Protocol (spec.md
// §4.3): for each candidate judge model, create an ephemeral auxiliary
// session, post the self-assessment prompt, poll for a completed reply
// within JUDGE_RESPONSE_TIMEOUT, and guarantee the session is deleted and
// removed from the judge registry on every exit path. The bounded
// iterate-then-poll shape is grounded on the teacher's
// executor.Executor.Run loop.
package assessment

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/opencode-sh/reflection3/internal/hostclient"
	"github.com/opencode-sh/reflection3/internal/registry"
	"github.com/opencode-sh/reflection3/internal/types"
)

// Request bundles everything the self-assessment prompt (spec.md §4.3.1)
// needs.
type Request struct {
	Directory           string
	Context             types.TaskContext
	LastAssistantText   string
	PromptOverride      string
	ProjectInstructions string
	AttemptIndex        int
	MaxAttempts         int
}

// Result is what a successful self-assessment run produces.
type Result struct {
	Text      string
	ModelUsed string
}

// Runner executes the protocol against a hostclient.Client.
type Runner struct {
	Client       hostclient.Client
	Registry     *registry.Store
	PollInterval time.Duration
	Timeout      time.Duration
	Logger       *slog.Logger
}

// NewRunner constructs a Runner with the given collaborators.
func NewRunner(client hostclient.Client, reg *registry.Store, pollInterval, timeout time.Duration, logger *slog.Logger) *Runner {
	return &Runner{Client: client, Registry: reg, PollInterval: pollInterval, Timeout: timeout, Logger: logger}
}

// Run tries each candidate model spec in order, returning the first
// successful (text, model) pair. ok is false if every candidate failed
// (transport failure or timeout), matching spec.md §4.3 step 4/failure
// semantics — the caller is responsible for marking the human message
// reflected and emitting the warning toast.
func (r *Runner) Run(ctx context.Context, candidates []string, req Request) (Result, bool) {
	prompt := req.PromptOverride
	if strings.TrimSpace(prompt) == "" {
		prompt = ComposePrompt(req)
	}

	for _, candidate := range candidates {
		select {
		case <-ctx.Done():
			return Result{}, false
		default:
		}

		text, ok := r.tryCandidate(ctx, req.Directory, prompt, hostclient.ModelSpec(candidate))
		if ok {
			return Result{Text: text, ModelUsed: candidate}, true
		}
	}
	return Result{}, false
}

// tryCandidate implements one iteration of spec.md §4.3 steps 2-5: create,
// post, poll, and always tear down.
func (r *Runner) tryCandidate(ctx context.Context, directory, prompt string, model hostclient.ModelSpec) (string, bool) {
	sess, err := r.Client.CreateSession(ctx, directory)
	if err != nil {
		r.warn("failed to create auxiliary session", err)
		return "", false
	}

	r.Registry.RegisterJudge(sess.ID)
	defer func() {
		r.Registry.UnregisterJudge(sess.ID)
		deleteCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = r.Client.DeleteSession(deleteCtx, sess.ID, directory)
	}()

	promptReq := hostclient.PromptRequest{
		Parts: []hostclient.PromptPart{{Text: prompt}},
		Model: model,
	}
	if err := r.Client.PromptAsync(ctx, sess.ID, promptReq); err != nil {
		r.warn("failed to post self-assessment prompt", err)
		return "", false
	}

	return r.poll(ctx, sess.ID)
}

// poll repeats spec.md §4.3 step 3's polling loop until a completed
// assistant reply appears or JUDGE_RESPONSE_TIMEOUT elapses.
func (r *Runner) poll(ctx context.Context, sessionID string) (string, bool) {
	pollCtx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	ticker := time.NewTicker(r.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-pollCtx.Done():
			return "", false
		case <-ticker.C:
			messages, err := r.Client.Messages(ctx, sessionID)
			if err != nil {
				r.warn("failed to poll auxiliary session messages", err)
				continue
			}
			if text, ready := lastCompletedAssistantText(messages); ready {
				return text, true
			}
		}
	}
}

func lastCompletedAssistantText(messages []types.Message) (string, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m.Role != types.RoleAssistant {
			continue
		}
		if !m.IsComplete() {
			return "", false
		}
		text := m.LastText()
		return text, text != ""
	}
	return "", false
}

func (r *Runner) warn(msg string, err error) {
	if r.Logger != nil {
		r.Logger.Warn(msg, slog.String("error", err.Error()))
	}
}

const requiredChecksRules = `Honor these rules when filling in the JSON:
- Tests must have been run AFTER the latest code changes, not just at some earlier point.
- If local test commands are required, report the exact commands that were run in this session.
- A PR and passing CI are required whenever the task is a coding task.
- Never report a passing status for skipped or flaky tests.
- Never report success if the agent pushed directly to the default branch.
- If you are stuck or repeating yourself without progress, propose an alternate approach and set "stuck": true.
- Populate "needs_user_action" only with steps that genuinely require a human (auth, credentials, approvals, uploads).
- If the task required code changes but no write-like tool was ever invoked, set "status": "in_progress" and "stuck": true.`

// jsonSchemaBlock documents the SelfAssessment JSON shape (spec.md §3) the
// respondent must produce.
const jsonSchemaBlock = `Respond with a single JSON object matching this shape (omit optional fields if not applicable):
{
  "status": "complete" | "in_progress" | "blocked" | "stuck" | "waiting_for_user",
  "confidence": 0.0-1.0,
  "evidence": {
    "tests": {"ran": bool, "results": "pass"|"fail"|"unknown", "ran_after_changes": bool, "commands": [string], "skipped": bool, "skip_reason": string},
    "build": {"ran": bool, "results": "pass"|"fail"|"unknown", "ran_after_changes": bool},
    "pr": {"ran": bool, "url": string, "ci_status": "pass"|"fail"|"unknown", "checked": bool}
  },
  "remaining_work": [string],
  "next_steps": [string],
  "needs_user_action": [string],
  "stuck": bool,
  "alternate_approach": string
}`

// ComposePrompt builds the self-assessment prompt per spec.md §4.3.1.
func ComposePrompt(req Request) string {
	var b strings.Builder

	b.WriteString("SELF-ASSESS REFLECTION-3\n\n")

	b.WriteString("## Task Context\n")
	fmt.Fprintf(&b, "- Task Summary: %s\n", truncate(req.Context.TaskSummary, 2000))
	fmt.Fprintf(&b, "- Task Type: %s\n", req.Context.TaskType)
	fmt.Fprintf(&b, "- Agent Mode: %s\n", req.Context.AgentMode)
	b.WriteString("- Required Checks:\n")
	for _, line := range requiredChecksLines(req.Context) {
		fmt.Fprintf(&b, "  - %s\n", line)
	}
	fmt.Fprintf(&b, "- Detected Signals: %s\n\n", joinSignals(req.Context.DetectedSignals))

	b.WriteString("## Tool Commands Run\n")
	for _, cmd := range lastN(req.Context.RecentCommands, 6) {
		fmt.Fprintf(&b, "- %s\n", cmd)
	}
	b.WriteString("\n")

	b.WriteString("## Recent Tool Activity\n")
	b.WriteString(req.Context.ToolsSummary)
	b.WriteString("\n\n")

	if strings.TrimSpace(req.LastAssistantText) != "" {
		b.WriteString("## Agent's Last Response\n")
		b.WriteString(truncate(req.LastAssistantText, 4000))
		b.WriteString("\n\n")
	}

	if req.AttemptIndex > 0 {
		fmt.Fprintf(&b, "## Reflection History\nThis is attempt %d of %d. If you are repeating yourself without progress, set \"stuck\": true.\n\n",
			req.AttemptIndex+1, req.MaxAttempts)
	}

	if strings.TrimSpace(req.ProjectInstructions) != "" {
		b.WriteString("## Project Instructions\n")
		b.WriteString(truncate(req.ProjectInstructions, 800))
		b.WriteString("\n\n")
	}

	b.WriteString(jsonSchemaBlock)
	b.WriteString("\n\n")
	b.WriteString(requiredChecksRules)

	return b.String()
}

func requiredChecksLines(ctx types.TaskContext) []string {
	var lines []string
	if ctx.RequiresTests {
		lines = append(lines, "Tests must pass")
	}
	if ctx.RequiresLocalTests {
		lines = append(lines, "Local test commands must have been run in this session")
	}
	if ctx.RequiresBuild {
		lines = append(lines, "Build must pass")
	}
	if ctx.RequiresPR {
		lines = append(lines, "A pull request must be created")
	}
	if ctx.RequiresCI {
		lines = append(lines, "CI checks must pass")
	}
	if len(lines) == 0 {
		lines = append(lines, "none")
	}
	return lines
}

func joinSignals(signals []types.DetectedSignal) string {
	if len(signals) == 0 {
		return "none"
	}
	parts := make([]string, len(signals))
	for i, s := range signals {
		parts[i] = string(s)
	}
	return strings.Join(parts, ", ")
}

func lastN(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
