package signals

import (
	"strings"
	"testing"

	"github.com/opencode-sh/reflection3/internal/types"
)

func TestInferTaskType(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		text string
		want types.TaskType
	}{
		{"research plus coding verb", "Investigate and fix the login bug", types.TaskCoding},
		{"pure research", "Investigate performance characteristics", types.TaskResearch},
		{"github issue URL implies coding", "See https://github.com/acme/widget/issues/42 for context", types.TaskCoding},
		{"docs mention", "Update the README with install instructions", types.TaskDocs},
		{"ops verb beats coding noun", "Create a filter to label emails", types.TaskOps},
		{"setup verb", "Please configure the CI runner", types.TaskOps},
		{"personal assistant noun", "Check my gmail inbox for invites", types.TaskOps},
		{"plain coding verb", "Fix the null pointer in the parser", types.TaskCoding},
		{"coding noun", "There is a regression in the build entities step", types.TaskOps},
		{"nothing matches", "Tell me a joke", types.TaskOther},
		{"case and whitespace invariant", "  INVESTIGATE AND FIX the login bug  ", types.TaskCoding},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := InferTaskType(tc.text); got != tc.want {
				t.Errorf("InferTaskType(%q) = %q, want %q", tc.text, got, tc.want)
			}
		})
	}
}

func textMessage(role types.Role, text string) types.Message {
	return types.Message{Role: role, Parts: []types.Part{{Kind: types.PartText, Text: text}}}
}

func TestInferAgentMode(t *testing.T) {
	t.Parallel()

	t.Run("marker token detected", func(t *testing.T) {
		t.Parallel()
		msgs := []types.Message{textMessage(types.RoleAssistant, "Entering read-only mode now.")}
		if got := InferAgentMode(msgs, "do the thing"); got != types.AgentModePlan {
			t.Errorf("AgentMode = %q, want plan", got)
		}
	})

	t.Run("system reminder mentions plan mode", func(t *testing.T) {
		t.Parallel()
		msgs := []types.Message{textMessage(types.RoleUser, "<system-reminder>plan mode is engaged</system-reminder>")}
		if got := InferAgentMode(msgs, ""); got != types.AgentModePlan {
			t.Errorf("AgentMode = %q, want plan", got)
		}
	})

	t.Run("imperative plan request in last human message", func(t *testing.T) {
		t.Parallel()
		if got := InferAgentMode(nil, "please draft a plan for the migration"); got != types.AgentModePlan {
			t.Errorf("AgentMode = %q, want plan", got)
		}
	})

	t.Run("default is build", func(t *testing.T) {
		t.Parallel()
		msgs := []types.Message{textMessage(types.RoleUser, "fix the bug")}
		if got := InferAgentMode(msgs, "fix the bug"); got != types.AgentModeBuild {
			t.Errorf("AgentMode = %q, want build", got)
		}
	})
}

func toolPart(name, command string) types.Part {
	return types.Part{Kind: types.PartTool, ToolName: name, ToolInput: map[string]interface{}{"command": command}}
}

func TestExtract_DetectedSignalsAndPushedToDefaultBranch(t *testing.T) {
	t.Parallel()

	session := types.Session{
		Directory: "/workspace",
		Messages: []types.Message{
			textMessage(types.RoleUser, "Fix the failing test and open a PR"),
			{Role: types.RoleAssistant, Parts: []types.Part{
				toolPart("bash", "npm test"),
				toolPart("bash", "gh pr create --fill"),
				toolPart("bash", "git push origin main"),
			}},
		},
	}

	ctx := Extract(session, nil, nil)

	if !ctx.HasSignal(types.SignalTestCommand) {
		t.Error("expected test-command signal")
	}
	if !ctx.HasSignal(types.SignalGHPRCreate) {
		t.Error("expected gh-pr-create signal")
	}
	if !ctx.HasSignal(types.SignalGHPR) {
		t.Error("expected gh-pr signal (gh-pr-create implies gh-pr)")
	}
	if !ctx.HasSignal(types.SignalGitPush) {
		t.Error("expected git-push signal")
	}
	if !ctx.PushedToDefaultBranch {
		t.Error("expected PushedToDefaultBranch = true for 'git push origin main'")
	}
	if ctx.TaskType != types.TaskCoding {
		t.Errorf("TaskType = %q, want coding", ctx.TaskType)
	}
}

func TestExtract_ToolsSummary(t *testing.T) {
	t.Parallel()

	t.Run("lists tool invocations as plain text", func(t *testing.T) {
		t.Parallel()
		session := types.Session{
			Messages: []types.Message{
				{Role: types.RoleAssistant, Parts: []types.Part{
					toolPart("bash", "npm test"),
					{Kind: types.PartTool, ToolName: "read_file", ToolStatus: types.ToolError},
				}},
			},
		}

		ctx := Extract(session, nil, nil)

		want := "bash (success)\nread_file (error)"
		if ctx.ToolsSummary != want {
			t.Errorf("ToolsSummary = %q, want %q", ctx.ToolsSummary, want)
		}
	})

	t.Run("no tool calls", func(t *testing.T) {
		t.Parallel()
		session := types.Session{Messages: []types.Message{textMessage(types.RoleUser, "hello")}}

		ctx := Extract(session, nil, nil)

		if ctx.ToolsSummary != "no tool calls" {
			t.Errorf("ToolsSummary = %q, want %q", ctx.ToolsSummary, "no tool calls")
		}
	})

	t.Run("caps at the most recent maxToolsSummary invocations", func(t *testing.T) {
		t.Parallel()
		var parts []types.Part
		for i := 0; i < maxToolsSummary+3; i++ {
			parts = append(parts, toolPart("bash", "cmd"))
		}
		session := types.Session{Messages: []types.Message{{Role: types.RoleAssistant, Parts: parts}}}

		ctx := Extract(session, nil, nil)

		if got := strings.Count(ctx.ToolsSummary, "\n") + 1; got != maxToolsSummary {
			t.Errorf("got %d lines, want %d", got, maxToolsSummary)
		}
	})
}

func TestExtract_PushedToDefaultBranch_FalseForFeatureBranch(t *testing.T) {
	t.Parallel()

	session := types.Session{
		Messages: []types.Message{
			{Role: types.RoleAssistant, Parts: []types.Part{toolPart("bash", "git push origin feature/my-branch")}},
		},
	}

	ctx := Extract(session, nil, nil)
	if ctx.PushedToDefaultBranch {
		t.Error("pushing a feature branch must not set PushedToDefaultBranch")
	}
	if !ctx.HasSignal(types.SignalGitPush) {
		t.Error("a non-default-branch push is still a git-push signal")
	}
}

func TestExtract_RequiresFlags(t *testing.T) {
	t.Parallel()

	probe := fakeProbe{hasTestScript: true}
	session := types.Session{
		Messages: []types.Message{
			textMessage(types.RoleUser, "fix the bug in the parser"),
		},
	}

	ctx := Extract(session, nil, probe)

	if !ctx.RequiresTests {
		t.Error("coding task with hasTestScript should require tests")
	}
	if !ctx.RequiresPR || !ctx.RequiresCI {
		t.Error("coding task always requires PR and CI")
	}
	if !ctx.RequiresLocalTests {
		t.Error("requiresLocalTests mirrors requiresTests")
	}
	if !ctx.RequiresLocalTestsEvidence {
		t.Error("no local test command was run, so evidence is still required")
	}
}

func TestExtract_RequiresLocalTestsEvidence_FalseWhenCommandRan(t *testing.T) {
	t.Parallel()

	probe := fakeProbe{hasTestScript: true}
	session := types.Session{
		Messages: []types.Message{
			textMessage(types.RoleUser, "fix the bug in the parser"),
			{Role: types.RoleAssistant, Parts: []types.Part{toolPart("bash", "go test ./...")}},
		},
	}

	ctx := Extract(session, nil, probe)
	if ctx.RequiresLocalTestsEvidence {
		t.Error("a recorded go test command should satisfy requiresLocalTestsEvidence")
	}
}

func TestExtract_NonCodingTaskNeverRequiresTests(t *testing.T) {
	t.Parallel()

	probe := fakeProbe{hasTestScript: true}
	session := types.Session{
		Messages: []types.Message{textMessage(types.RoleUser, "research the best database for this use case")},
	}

	ctx := Extract(session, nil, probe)
	if ctx.RequiresTests || ctx.RequiresPR || ctx.RequiresCI {
		t.Error("a research task must never require tests/PR/CI")
	}
}

func TestIsHumanOnly(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		action string
		want   bool
	}{
		{"pure 2fa request", "Please enter the 2FA code from your authenticator app", true},
		{"credential request", "Provide the API key for the staging environment", true},
		{"agent can run this", "Run the auth tests to confirm the fix", false},
		{"approval but agent-actionable via gh", "approve and merge the PR via gh", false},
		{"unrelated", "Write the changelog entry", false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := IsHumanOnly(tc.action); got != tc.want {
				t.Errorf("IsHumanOnly(%q) = %v, want %v", tc.action, got, tc.want)
			}
		})
	}
}

func TestPartitionHumanOnly(t *testing.T) {
	t.Parallel()

	humanOnly, agentActionable := PartitionHumanOnly([]string{
		"Enter the verification code sent to your phone",
		"Run the test suite",
		"Grant access to the staging database",
	})

	if len(humanOnly) != 2 {
		t.Errorf("humanOnly = %v, want 2 items", humanOnly)
	}
	if len(agentActionable) != 1 {
		t.Errorf("agentActionable = %v, want 1 item", agentActionable)
	}
}

type fakeProbe struct {
	hasTestScript  bool
	hasBuildScript bool
	hasTestsDir    bool
}

func (f fakeProbe) HasTestScript(string) bool  { return f.hasTestScript }
func (f fakeProbe) HasBuildScript(string) bool { return f.hasBuildScript }
func (f fakeProbe) HasTestsDir(string) bool    { return f.hasTestsDir }
