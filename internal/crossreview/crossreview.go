// Package crossreview implements the optional Cross-Review pass
// (spec.md §4.6): when a self-assessment comes back "complete", the
// opus/gpt-5.2-codex pair cross-checks each other's verdict through a
// short auxiliary session, reusing the same create/prompt/poll/teardown
// machinery internal/assessment uses for the primary self-assessment.
package crossreview

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/opencode-sh/reflection3/internal/hostclient"
	"github.com/opencode-sh/reflection3/internal/registry"
	"github.com/opencode-sh/reflection3/internal/types"
)

// pairedModels names the two judge identities spec.md §4.6 pairs against
// each other. Matching is substring-based against the assessment's
// ModelUsed so any provider-qualified form of either name still pairs
// ("anthropic/opus-4" and "openai/gpt-5.2-codex" both match).
const (
	modelOpus        = "opus"
	modelGPT5Codex   = "gpt-5.2-codex"
)

// Partner returns the cross-review partner model for modelUsed, and
// ok=false if modelUsed is not one of the paired models.
func Partner(modelUsed string) (string, bool) {
	lower := strings.ToLower(modelUsed)
	switch {
	case strings.Contains(lower, modelOpus):
		return modelGPT5Codex, true
	case strings.Contains(lower, modelGPT5Codex):
		return modelOpus, true
	default:
		return "", false
	}
}

// ComposeReviewPrompt builds the "REVIEW" prompt described in spec.md
// §4.6: task context, detected signals, the last assistant reply, the
// raw self-assessment text, and the evaluator's verdict.
func ComposeReviewPrompt(ctx types.TaskContext, lastAssistantText, rawAssessment string, analysis types.ReflectionAnalysis) string {
	var b strings.Builder
	b.WriteString("REVIEW\n\n")
	fmt.Fprintf(&b, "Task Summary: %s\n", ctx.TaskSummary)
	fmt.Fprintf(&b, "Task Type: %s\n", ctx.TaskType)
	if len(ctx.DetectedSignals) > 0 {
		names := make([]string, len(ctx.DetectedSignals))
		for i, s := range ctx.DetectedSignals {
			names[i] = string(s)
		}
		fmt.Fprintf(&b, "Detected Signals: %s\n", strings.Join(names, ", "))
	}
	b.WriteString("\nLast Assistant Reply:\n")
	b.WriteString(truncate(lastAssistantText, 2000))

	b.WriteString("\n\nRaw Self-Assessment:\n")
	b.WriteString(truncate(rawAssessment, 2000))

	verdictJSON, err := json.Marshal(analysis)
	if err == nil {
		b.WriteString("\n\nEvaluator Verdict:\n")
		b.Write(verdictJSON)
	}

	b.WriteString("\n\nProvide a short critique of this verdict. Your response does not change the verdict; it is recorded alongside it.\n")
	return b.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}

// Reviewer runs the cross-review pass.
type Reviewer struct {
	Client       hostclient.Client
	Registry     *registry.Store
	PollInterval time.Duration
	Timeout      time.Duration
	Logger       *slog.Logger
}

// Review runs the REVIEW prompt against modelUsed's paired partner model,
// returning the critique text (possibly empty) and ok=false if modelUsed
// has no partner or the call fails for any reason. Cross-review is
// best-effort: callers should treat ok=false as "skip, leave CrossReview
// unset" rather than a fatal error (spec.md §4.6: it never changes the
// verdict).
func (r *Reviewer) Review(ctx context.Context, directory, modelUsed string, taskCtx types.TaskContext, lastAssistantText, rawAssessment string, analysis types.ReflectionAnalysis) (string, bool) {
	partner, ok := Partner(modelUsed)
	if !ok {
		return "", false
	}

	prompt := ComposeReviewPrompt(taskCtx, lastAssistantText, rawAssessment, analysis)

	sess, err := r.Client.CreateSession(ctx, directory)
	if err != nil {
		r.warn("failed to create cross-review session", err)
		return "", false
	}

	r.Registry.RegisterJudge(sess.ID)
	defer func() {
		r.Registry.UnregisterJudge(sess.ID)
		deleteCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = r.Client.DeleteSession(deleteCtx, sess.ID, directory)
	}()

	req := hostclient.PromptRequest{
		Parts: []hostclient.PromptPart{{Text: prompt}},
		Model: hostclient.ModelSpec(partner),
	}
	if err := r.Client.PromptAsync(ctx, sess.ID, req); err != nil {
		r.warn("failed to post cross-review prompt", err)
		return "", false
	}

	text, ok := r.poll(ctx, sess.ID)
	if !ok || text == "" {
		return "", false
	}
	return text, true
}

func (r *Reviewer) poll(ctx context.Context, sessionID string) (string, bool) {
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
				continue
			}
			for i := len(messages) - 1; i >= 0; i-- {
				m := messages[i]
				if m.Role != types.RoleAssistant {
					continue
				}
				if !m.IsComplete() {
					return "", false
				}
				return m.LastText(), true
			}
		}
	}
}

func (r *Reviewer) warn(msg string, err error) {
	if r.Logger != nil {
		r.Logger.Warn(msg, slog.String("error", err.Error()))
	}
}
