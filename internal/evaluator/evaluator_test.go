package evaluator

import (
	"testing"

	"github.com/opencode-sh/reflection3/internal/types"
)

func ptrBool(b bool) *bool       { return &b }
func ptrFloat(f float64) *float64 { return &f }

func codingCtx() types.TaskContext {
	return types.TaskContext{
		TaskType:            types.TaskCoding,
		RequiresTests:        true,
		RequiresLocalTests:   true,
		RequiresPR:           true,
		RequiresCI:           true,
	}
}

// TestEvaluate_S1 is spec.md §8 scenario S1: tests claimed complete but
// tests.ran=false must force an incomplete, HIGH-severity verdict.
func TestEvaluate_S1_TestsNotRun(t *testing.T) {
	t.Parallel()

	assessment := types.SelfAssessment{
		Status:     types.StatusComplete,
		Confidence: ptrFloat(0.95),
		Evidence: types.SelfAssessmentEvidence{
			Tests: &types.Evidence{Ran: ptrBool(false)},
		},
	}

	got := Evaluate(assessment, codingCtx())

	if got.Complete {
		t.Error("Complete should be false when tests were not run")
	}
	if got.Severity != types.SeverityHigh {
		t.Errorf("Severity = %q, want HIGH", got.Severity)
	}
	if !containsStr(got.Missing, "Run tests") {
		t.Errorf("Missing = %v, want to contain 'Run tests'", got.Missing)
	}
}

// TestEvaluate_S2 is spec.md §8 scenario S2: a fully satisfied coding task
// (tests pass, PR created with CI pass, matching gh signals) is complete.
func TestEvaluate_S2_FullySatisfied(t *testing.T) {
	t.Parallel()

	ctx := codingCtx()
	ctx.DetectedSignals = []types.DetectedSignal{types.SignalGHPRCreate, types.SignalGHPRChecks, types.SignalGHPR}
	ctx.RecentCommands = []string{"go test ./..."}

	assessment := types.SelfAssessment{
		Status:     types.StatusComplete,
		Confidence: ptrFloat(0.95),
		Evidence: types.SelfAssessmentEvidence{
			Tests: &types.Evidence{
				Ran: ptrBool(true), Results: types.EvidencePass, RanAfterChanges: ptrBool(true),
				Commands: []string{"go test ./..."},
			},
			PR: &types.Evidence{
				Ran: ptrBool(true), URL: "https://github.com/acme/widget/pull/1",
				Checked: ptrBool(true), CIStatus: types.EvidencePass,
			},
		},
	}

	got := Evaluate(assessment, ctx)

	if !got.Complete {
		t.Errorf("expected complete=true, got analysis=%+v", got)
	}
	if got.Severity != types.SeverityNone {
		t.Errorf("Severity = %q, want NONE", got.Severity)
	}
	if len(got.Missing) != 0 {
		t.Errorf("Missing should be empty, got %v", got.Missing)
	}
}

// TestEvaluate_S3 is spec.md §8 scenario S3: stuck=true must add "Rethink
// approach" to missing regardless of other evidence.
func TestEvaluate_S3_Stuck(t *testing.T) {
	t.Parallel()

	assessment := types.SelfAssessment{Status: types.StatusInProgress, Stuck: true}
	got := Evaluate(assessment, codingCtx())

	if !containsStr(got.Missing, "Rethink approach") {
		t.Errorf("Missing = %v, want to contain 'Rethink approach'", got.Missing)
	}
	if got.Complete {
		t.Error("a stuck assessment must never be complete")
	}
}

func TestEvaluate_RequiresLocalTests_NoCommands(t *testing.T) {
	t.Parallel()

	assessment := types.SelfAssessment{
		Evidence: types.SelfAssessmentEvidence{
			Tests: &types.Evidence{Ran: ptrBool(true), Results: types.EvidencePass, RanAfterChanges: ptrBool(true)},
		},
	}
	got := Evaluate(assessment, codingCtx())
	if !containsStr(got.Missing, "Provide local test commands") {
		t.Errorf("Missing = %v, want 'Provide local test commands'", got.Missing)
	}
}

func TestEvaluate_RequiresLocalTests_CommandNotInSession(t *testing.T) {
	t.Parallel()

	ctx := codingCtx()
	ctx.RecentCommands = []string{"ls -la"}

	assessment := types.SelfAssessment{
		Evidence: types.SelfAssessmentEvidence{
			Tests: &types.Evidence{
				Ran: ptrBool(true), Results: types.EvidencePass, RanAfterChanges: ptrBool(true),
				Commands: []string{"go test ./..."},
			},
		},
	}
	got := Evaluate(assessment, ctx)
	if !containsStr(got.Missing, "Provide local test commands from this session") {
		t.Errorf("Missing = %v, want 'Provide local test commands from this session'", got.Missing)
	}
}

func TestEvaluate_SkippedTests(t *testing.T) {
	t.Parallel()

	assessment := types.SelfAssessment{
		Evidence: types.SelfAssessmentEvidence{
			Tests: &types.Evidence{Ran: ptrBool(true), Skipped: ptrBool(true), Results: types.EvidencePass, RanAfterChanges: ptrBool(true)},
		},
	}
	got := Evaluate(assessment, codingCtx())
	if !containsStr(got.Missing, "Do not skip required tests") {
		t.Errorf("Missing = %v, want 'Do not skip required tests'", got.Missing)
	}
}

func TestEvaluate_PR_NotCreated(t *testing.T) {
	t.Parallel()

	ctx := codingCtx()
	got := Evaluate(types.SelfAssessment{}, ctx)
	if !containsStr(got.Missing, "Create PR") {
		t.Errorf("Missing = %v, want 'Create PR'", got.Missing)
	}
}

func TestEvaluate_PR_CreatedButMissingCIEvidence(t *testing.T) {
	t.Parallel()

	ctx := codingCtx()
	assessment := types.SelfAssessment{
		Evidence: types.SelfAssessmentEvidence{
			PR: &types.Evidence{Ran: ptrBool(true)},
		},
	}
	got := Evaluate(assessment, ctx)
	for _, want := range []string{"Provide PR link", "Provide PR creation evidence", "Verify CI checks", "Provide CI check evidence"} {
		if !containsStr(got.Missing, want) {
			t.Errorf("Missing = %v, want to contain %q", got.Missing, want)
		}
	}
}

func TestEvaluate_PushedToDefaultBranch(t *testing.T) {
	t.Parallel()

	ctx := codingCtx()
	ctx.PushedToDefaultBranch = true
	got := Evaluate(types.SelfAssessment{}, ctx)
	if !containsStr(got.Missing, "Avoid direct push to default branch") {
		t.Errorf("Missing = %v, want 'Avoid direct push to default branch'", got.Missing)
	}
}

func TestEvaluate_RequiresHumanAction_FromNeedsUserAction(t *testing.T) {
	t.Parallel()

	assessment := types.SelfAssessment{
		Status:          types.StatusWaitingForUser,
		NeedsUserAction: []string{"Enter the 2FA code from your authenticator app"},
	}
	got := Evaluate(assessment, types.TaskContext{TaskType: types.TaskOps})

	if !got.RequiresHumanAction {
		t.Error("RequiresHumanAction should be true")
	}
	if got.ShouldContinue {
		t.Error("ShouldContinue should be false when the only outstanding item is human-only")
	}
	if got.Reason != "User action required before continuing." {
		t.Errorf("Reason = %q", got.Reason)
	}
	if got.Severity != types.SeverityLow {
		t.Errorf("Severity = %q, want LOW (requiresHumanAction with otherwise-empty lists)", got.Severity)
	}
}

func TestEvaluate_NeedsUserAction_AgentActionableFeedsNextActions(t *testing.T) {
	t.Parallel()

	assessment := types.SelfAssessment{
		NeedsUserAction: []string{"Run the full test suite to confirm"},
	}
	got := Evaluate(assessment, types.TaskContext{})

	if !containsStr(got.NextActions, "Run the full test suite to confirm") {
		t.Errorf("NextActions = %v, want the agent-actionable item", got.NextActions)
	}
	if got.RequiresHumanAction {
		t.Error("an agent-actionable needs_user_action item should not set RequiresHumanAction")
	}
}

func TestEvaluate_NextStepsDeduped(t *testing.T) {
	t.Parallel()

	assessment := types.SelfAssessment{
		NeedsUserAction: []string{"fix the bug"},
		NextSteps:       []string{"fix the bug", "add a test"},
	}
	got := Evaluate(assessment, types.TaskContext{})

	count := 0
	for _, a := range got.NextActions {
		if a == "fix the bug" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("'fix the bug' should appear exactly once in NextActions, appeared %d times: %v", count, got.NextActions)
	}
	if !containsStr(got.NextActions, "add a test") {
		t.Errorf("NextActions = %v, want 'add a test'", got.NextActions)
	}
}

func TestEvaluate_ConfidenceBelowThreshold(t *testing.T) {
	t.Parallel()

	assessment := types.SelfAssessment{Status: types.StatusComplete, Confidence: ptrFloat(0.5)}
	got := Evaluate(assessment, types.TaskContext{})
	if got.Complete {
		t.Error("confidence below 0.8 must never be complete")
	}
}

func TestAdaptJudgeVerdict(t *testing.T) {
	t.Parallel()

	verdict := JudgeVerdict{
		Complete:    false,
		Severity:    "MEDIUM",
		Feedback:    "CI has not been verified yet.",
		Missing:     []string{"Verify CI checks"},
		NextActions: []string{"Verify CI checks"},
	}
	got := AdaptJudgeVerdict(verdict)

	if got.Complete {
		t.Error("Complete should mirror the verdict")
	}
	if got.Severity != types.SeverityMedium {
		t.Errorf("Severity = %q, want MEDIUM", got.Severity)
	}
	if got.Reason != "CI has not been verified yet." {
		t.Errorf("Reason = %q", got.Reason)
	}
	if !got.ShouldContinue {
		t.Error("ShouldContinue should be true: 'Verify CI checks' is agent-actionable")
	}
}

func TestParseJudgeVerdict_StripsCodeFence(t *testing.T) {
	t.Parallel()

	raw := "```json\n{\"complete\":true,\"severity\":\"NONE\"}\n```"
	verdict, err := ParseJudgeVerdict(raw)
	if err != nil {
		t.Fatalf("ParseJudgeVerdict: %v", err)
	}
	if !verdict.Complete {
		t.Error("expected complete=true")
	}
}

func containsStr(items []string, want string) bool {
	for _, item := range items {
		if item == want {
			return true
		}
	}
	return false
}
