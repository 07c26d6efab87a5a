package evaluator

import (
	"encoding/json"

	"github.com/opencode-sh/reflection3/internal/signals"
	"github.com/opencode-sh/reflection3/internal/types"
)

// JudgeVerdict is the JSON shape requested from the second auxiliary
// session in spec.md §4.4's fallback path, used when the primary
// self-assessment text could not be parsed as a SelfAssessment.
type JudgeVerdict struct {
	Complete            bool     `json:"complete"`
	Severity            string   `json:"severity"`
	Feedback            string   `json:"feedback"`
	Missing             []string `json:"missing"`
	NextActions         []string `json:"next_actions"`
	RequiresHumanAction bool     `json:"requires_human_action"`
}

// ParseJudgeVerdict tolerantly parses the fallback judge's raw output,
// reusing the same markdown-fence stripping ParseSelfAssessment applies.
func ParseJudgeVerdict(raw string) (JudgeVerdict, error) {
	var verdict JudgeVerdict
	cleaned := types.StripCodeFence(raw)
	if err := json.Unmarshal([]byte(cleaned), &verdict); err != nil {
		return JudgeVerdict{}, err
	}
	return verdict, nil
}

// AdaptJudgeVerdict turns a fallback JudgeVerdict into a ReflectionAnalysis,
// applying the same human-only partitioning step 3/10 apply to a regular
// self-assessment.
func AdaptJudgeVerdict(verdict JudgeVerdict) types.ReflectionAnalysis {
	_, agentMissing := signals.PartitionHumanOnly(verdict.Missing)
	_, agentNextActions := signals.PartitionHumanOnly(verdict.NextActions)

	requiresHumanAction := verdict.RequiresHumanAction || anyHumanOnly(verdict.Missing) || anyHumanOnly(verdict.NextActions)
	shouldContinue := len(agentMissing) > 0 || len(agentNextActions) > 0

	reason := verdict.Feedback
	if reason == "" {
		reason = computeReason(verdict.Complete, requiresHumanAction, shouldContinue, verdict.Missing, verdict.NextActions)
	}

	severity := types.Severity(verdict.Severity)
	if severity == "" {
		severity = computeSeverity(verdict.Missing, verdict.NextActions, requiresHumanAction)
	}

	return types.ReflectionAnalysis{
		Complete:            verdict.Complete,
		ShouldContinue:      shouldContinue,
		Reason:              reason,
		Missing:             verdict.Missing,
		NextActions:         verdict.NextActions,
		RequiresHumanAction: requiresHumanAction,
		Severity:            severity,
	}
}
