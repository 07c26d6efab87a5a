// Package routing implements the optional Routing Classifier (spec.md
// §4.5): parsing the operator's per-category model YAML (already decoded
// into config.RoutingConfig), and classifying a task into one of
// backend/architecture/frontend/default via a short auxiliary-session
// prompt. Grounded on spec.md §4.5 itself and the teacher's config YAML
// shape for the operator-facing configuration surface.
package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/opencode-sh/reflection3/internal/config"
	"github.com/opencode-sh/reflection3/internal/hostclient"
	"github.com/opencode-sh/reflection3/internal/registry"
	"github.com/opencode-sh/reflection3/internal/types"
)

// ModelRef is a parsed "provider/model" spec.
type ModelRef struct {
	Provider string
	Model    string
}

// String serializes back to "provider/model" form, the inverse of Parse
// (spec.md §8's L4 round-trip law).
func (m ModelRef) String() string {
	return m.Provider + "/" + m.Model
}

// Parse splits a "provider/model" spec on "/". It returns ok=false if the
// spec has no "/" or either side is empty (spec.md §4.5).
func Parse(spec string) (ModelRef, bool) {
	provider, model, found := strings.Cut(spec, "/")
	if !found || provider == "" || model == "" {
		return ModelRef{}, false
	}
	return ModelRef{Provider: provider, Model: model}, true
}

// Category names accepted by the routing YAML (spec.md §6.2).
const (
	CategoryBackend      = "backend"
	CategoryArchitecture = "architecture"
	CategoryFrontend     = "frontend"
	CategoryDefault      = "default"
)

// GetRoutingModel implements `getRoutingModel(category)` from spec.md §4.5:
// parse(models[category] ∨ models.default) iff routing is enabled.
func GetRoutingModel(cfg config.RoutingConfig, category string) (ModelRef, bool) {
	if !cfg.Enabled {
		return ModelRef{}, false
	}
	spec := categorySpec(cfg.Models, category)
	if spec == "" {
		spec = cfg.Models.Default
	}
	if spec == "" {
		return ModelRef{}, false
	}
	return Parse(spec)
}

func categorySpec(models config.RoutingModels, category string) string {
	switch category {
	case CategoryBackend:
		return models.Backend
	case CategoryArchitecture:
		return models.Architecture
	case CategoryFrontend:
		return models.Frontend
	default:
		return ""
	}
}

var copilotGPT4VariantRe = regexp.MustCompile(`(?i)^gpt-4(\.1)?o?$`)

// ApplyCopilotEscapeHatch canonicalizes github-copilot gpt-4/4o/4.1
// variants to "github-copilot/gpt-4.1" when the model is used for the
// classifier call itself (spec.md §4.5).
func ApplyCopilotEscapeHatch(ref ModelRef) ModelRef {
	if strings.EqualFold(ref.Provider, "github-copilot") && copilotGPT4VariantRe.MatchString(ref.Model) {
		return ModelRef{Provider: "github-copilot", Model: "gpt-4.1"}
	}
	return ref
}

// ComposeClassificationPrompt builds the "CLASSIFY TASK ROUTING" prompt
// (spec.md §4.5).
func ComposeClassificationPrompt(taskSummary string, taskType types.TaskType, recentUserMessages []string) string {
	var b strings.Builder
	b.WriteString("CLASSIFY TASK ROUTING\n\n")
	fmt.Fprintf(&b, "Task Summary: %s\n", truncate(taskSummary, 2000))
	fmt.Fprintf(&b, "Task Type: %s\n\n", taskType)

	b.WriteString("Recent User Messages:\n")
	for _, m := range lastN(recentUserMessages, 4) {
		fmt.Fprintf(&b, "- %s\n", truncate(m, 500))
	}

	b.WriteString("\nRespond with a single JSON object: {\"category\": \"backend\"|\"architecture\"|\"frontend\"|\"default\"}\n")
	return b.String()
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

type classificationResponse struct {
	Category string `json:"category"`
}

// Classifier runs the classification prompt through a short-lived
// auxiliary session, reusing the same create/prompt/poll/teardown shape
// internal/assessment.Runner uses for self-assessment.
type Classifier struct {
	Client       hostclient.Client
	Registry     *registry.Store
	PollInterval time.Duration
	Timeout      time.Duration
	Logger       *slog.Logger
}

// Classify returns the category string the judge model chose, or ok=false
// on any transport/timeout/parse failure — callers should fall back to
// CategoryDefault in that case.
func (c *Classifier) Classify(ctx context.Context, directory string, model ModelRef, taskSummary string, taskType types.TaskType, recentUserMessages []string) (string, bool) {
	model = ApplyCopilotEscapeHatch(model)
	prompt := ComposeClassificationPrompt(taskSummary, taskType, recentUserMessages)

	sess, err := c.Client.CreateSession(ctx, directory)
	if err != nil {
		c.warn("failed to create routing classifier session", err)
		return "", false
	}

	c.Registry.RegisterJudge(sess.ID)
	defer func() {
		c.Registry.UnregisterJudge(sess.ID)
		deleteCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = c.Client.DeleteSession(deleteCtx, sess.ID, directory)
	}()

	req := hostclient.PromptRequest{
		Parts: []hostclient.PromptPart{{Text: prompt}},
		Model: hostclient.ModelSpec(model.String()),
	}
	if err := c.Client.PromptAsync(ctx, sess.ID, req); err != nil {
		c.warn("failed to post routing classification prompt", err)
		return "", false
	}

	text, ok := c.poll(ctx, sess.ID)
	if !ok {
		return "", false
	}

	var resp classificationResponse
	if err := json.Unmarshal([]byte(types.StripCodeFence(text)), &resp); err != nil {
		c.warn("failed to parse routing classification response", err)
		return "", false
	}
	if resp.Category == "" {
		return "", false
	}
	return resp.Category, true
}

func (c *Classifier) poll(ctx context.Context, sessionID string) (string, bool) {
	pollCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	ticker := time.NewTicker(c.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-pollCtx.Done():
			return "", false
		case <-ticker.C:
			messages, err := c.Client.Messages(ctx, sessionID)
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
				text := m.LastText()
				return text, text != ""
			}
		}
	}
}

func (c *Classifier) warn(msg string, err error) {
	if c.Logger != nil {
		c.Logger.Warn(msg, slog.String("error", err.Error()))
	}
}
