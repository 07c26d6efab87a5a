// Package evaluator implements the Assessment Evaluator (spec.md §4.4): a
// pure function turning a SelfAssessment and TaskContext into a
// ReflectionAnalysis verdict. It is grounded on the teacher's
// config.Validate/applyDefaults style of sequential, independently-readable
// checks rather than one large boolean expression.
package evaluator

import (
	"regexp"
	"strings"

	"github.com/opencode-sh/reflection3/internal/signals"
	"github.com/opencode-sh/reflection3/internal/types"
)

// Evaluate implements spec.md §4.4's 15-step procedure.
func Evaluate(assessment types.SelfAssessment, ctx types.TaskContext) types.ReflectionAnalysis {
	var missing, nextActions []string

	// Steps 1-2: seed `missing` from the judge's own remaining_work.
	missing = append(missing, assessment.RemainingWork...)

	// Step 3: partition needs_user_action; only the agent-actionable half
	// feeds missing/nextActions, the human-only half feeds requiresHumanAction
	// (step 10) instead.
	humanOnlyNeeds, agentActionableNeeds := signals.PartitionHumanOnly(assessment.NeedsUserAction)
	missing = append(missing, agentActionableNeeds...)
	nextActions = append(nextActions, agentActionableNeeds...)

	// Step 4: tests.
	if ctx.RequiresTests {
		missing = append(missing, evaluateTests(assessment.Evidence.Tests)...)
	}

	// Step 5: local test command evidence.
	if ctx.RequiresLocalTests {
		missing = append(missing, evaluateLocalTestCommands(assessment.Evidence.Tests, ctx.RecentCommands)...)
	}

	// Step 6: build, same ran/passed pattern as tests.
	if ctx.RequiresBuild {
		missing = append(missing, evaluateBuild(assessment.Evidence.Build)...)
	}

	// Step 7: PR + CI.
	if ctx.RequiresPR {
		missing = append(missing, evaluatePR(assessment.Evidence.PR, ctx)...)
	}

	// Step 8.
	if ctx.PushedToDefaultBranch {
		missing = append(missing, "Avoid direct push to default branch")
	}

	// Step 9.
	if assessment.Stuck {
		missing = append(missing, "Rethink approach")
	}

	// Step 10.
	requiresHumanAction := len(humanOnlyNeeds) > 0 ||
		anyHumanOnly(missing) ||
		anyHumanOnly(nextActions) ||
		anyHumanOnly(assessment.NextSteps)

	// Step 11.
	confidence := 0.0
	if assessment.Confidence != nil {
		confidence = *assessment.Confidence
	}
	complete := assessment.Status == types.StatusComplete &&
		len(missing) == 0 &&
		confidence >= 0.8 &&
		!requiresHumanAction

	// Step 12.
	severity := computeSeverity(missing, nextActions, requiresHumanAction)

	// Step 13: append next_steps, deduplicated against what's already there.
	nextActions = appendDeduped(nextActions, assessment.NextSteps)

	// Step 14.
	_, agentMissing := signals.PartitionHumanOnly(missing)
	_, agentNextActions := signals.PartitionHumanOnly(nextActions)
	shouldContinue := len(agentMissing) > 0 || len(agentNextActions) > 0

	// Step 15.
	reason := computeReason(complete, requiresHumanAction, shouldContinue, missing, nextActions)

	return types.ReflectionAnalysis{
		Complete:            complete,
		ShouldContinue:      shouldContinue,
		Reason:              reason,
		Missing:             missing,
		NextActions:         nextActions,
		RequiresHumanAction: requiresHumanAction,
		Severity:            severity,
	}
}

func anyHumanOnly(items []string) bool {
	for _, item := range items {
		if signals.IsHumanOnly(item) {
			return true
		}
	}
	return false
}

func boolValue(b *bool) bool {
	return b != nil && *b
}

func evaluateTests(tests *types.Evidence) []string {
	if !boolValue(evidenceRan(tests)) {
		return []string{"Run tests"}
	}
	var out []string
	if boolValue(tests.Skipped) || strings.TrimSpace(tests.SkipReason) != "" {
		out = append(out, "Do not skip required tests")
	}
	if tests.Results != types.EvidencePass {
		out = append(out, "Fix failing tests")
	}
	if !boolValue(tests.RanAfterChanges) {
		out = append(out, "Re-run tests after latest changes")
	}
	return out
}

func evaluateBuild(build *types.Evidence) []string {
	if !boolValue(evidenceRan(build)) {
		return []string{"Run build"}
	}
	var out []string
	if build.Results != types.EvidencePass {
		out = append(out, "Fix failing build")
	}
	if !boolValue(build.RanAfterChanges) {
		out = append(out, "Re-run build after latest changes")
	}
	return out
}

func evidenceRan(e *types.Evidence) *bool {
	if e == nil {
		return nil
	}
	return e.Ran
}

func evaluateLocalTestCommands(tests *types.Evidence, recentCommands []string) []string {
	if tests == nil || len(tests.Commands) == 0 {
		return []string{"Provide local test commands"}
	}
	if !anyCommandRanThisSession(tests.Commands, recentCommands) {
		return []string{"Provide local test commands from this session"}
	}
	return nil
}

func anyCommandRanThisSession(claimed, recent []string) bool {
	recentSet := make(map[string]bool, len(recent))
	for _, c := range recent {
		recentSet[normalizeForComparison(c)] = true
	}
	for _, c := range claimed {
		if recentSet[normalizeForComparison(c)] {
			return true
		}
	}
	return false
}

var commandWhitespaceRe = regexp.MustCompile(`\s+`)

func normalizeForComparison(cmd string) string {
	return strings.ToLower(commandWhitespaceRe.ReplaceAllString(strings.TrimSpace(cmd), " "))
}

func evaluatePR(pr *types.Evidence, ctx types.TaskContext) []string {
	created := pr != nil && boolValue(pr.Ran)
	if !created {
		return []string{"Create PR"}
	}
	if !ctx.RequiresCI {
		return nil
	}

	var out []string
	if strings.TrimSpace(pr.URL) == "" {
		out = append(out, "Provide PR link")
	}
	if !(ctx.HasSignal(types.SignalGHPRCreate) || ctx.HasSignal(types.SignalGHPR)) {
		out = append(out, "Provide PR creation evidence")
	}
	if !boolValue(pr.Checked) {
		out = append(out, "Verify CI checks")
	} else if pr.CIStatus != types.EvidencePass {
		out = append(out, "Fix failing CI")
	}
	if !(ctx.HasSignal(types.SignalGHPRChecks) || ctx.HasSignal(types.SignalGHPRView) || ctx.HasSignal(types.SignalGHPRStatus)) {
		out = append(out, "Provide CI check evidence")
	}
	return out
}

var (
	testOrBuildRe = regexp.MustCompile(`(?i)test|build`)
	ciOrCheckRe   = regexp.MustCompile(`(?i)ci|check`)
)

func computeSeverity(missing, nextActions []string, requiresHumanAction bool) types.Severity {
	union := append(append([]string{}, missing...), nextActions...)

	switch {
	case anyMatches(union, testOrBuildRe):
		return types.SeverityHigh
	case anyMatches(union, ciOrCheckRe):
		return types.SeverityMedium
	case len(union) > 0:
		return types.SeverityLow
	case requiresHumanAction:
		return types.SeverityLow
	default:
		return types.SeverityNone
	}
}

func anyMatches(items []string, re *regexp.Regexp) bool {
	for _, item := range items {
		if re.MatchString(item) {
			return true
		}
	}
	return false
}

func appendDeduped(existing, additional []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, e := range existing {
		seen[e] = true
	}
	out := existing
	for _, a := range additional {
		if seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}

func computeReason(complete, requiresHumanAction, shouldContinue bool, missing, nextActions []string) string {
	switch {
	case complete:
		return "Self-assessment confirms completion of all required workflow steps."
	case requiresHumanAction && !shouldContinue:
		return "User action required before continuing."
	case len(missing) > 0 || len(nextActions) > 0:
		return "Missing required workflow steps."
	default:
		return "Task not confirmed complete."
	}
}
