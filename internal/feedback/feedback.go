// Package feedback composes the prompt-injection text the orchestrator
// posts back to the primary session (spec.md §4.7), in the teacher's
// fmt.Sprintf-heavy, allocation-conscious message-building style.
package feedback

import (
	"fmt"
	"strings"

	"github.com/opencode-sh/reflection3/internal/types"
)

// Compose implements spec.md §4.7's precedence: planning-loop dominates
// action-loop; neither dominates when both are false; otherwise an
// attempt-scoped incomplete message, escalating to a final-attempt message
// once attempt > 2.
func Compose(attempt, maxAttempts int, analysis types.ReflectionAnalysis, planningLoop, actionLoop bool) string {
	switch {
	case planningLoop:
		return planningLoopMessage()
	case actionLoop:
		return actionLoopMessage(attempt, maxAttempts)
	case attempt <= 2:
		return incompleteMessage(analysis)
	default:
		return finalAttemptMessage(attempt, maxAttempts, analysis)
	}
}

func planningLoopMessage() string {
	var b strings.Builder
	b.WriteString("STOP: Planning Loop Detected\n\n")
	b.WriteString("You have made many tool calls without writing anything. Do not read, ")
	b.WriteString("search, or re-plan further. Your next action must be a write: edit a file, ")
	b.WriteString("apply a patch, or run a command that changes the workspace.\n")
	return b.String()
}

func actionLoopMessage(attempt, maxAttempts int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "STOP: Action Loop Detected (attempt %d/%d)\n\n", attempt, maxAttempts)
	b.WriteString("You have repeated the same command without it changing the outcome. ")
	b.WriteString("Do not run that command again. Choose one:\n")
	b.WriteString("1. Diagnose and fix the root cause instead of retrying.\n")
	b.WriteString("2. Ask the user for help if you are blocked.\n")
	b.WriteString("3. Try a genuinely different approach.\n")
	return b.String()
}

func incompleteMessage(analysis types.ReflectionAnalysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Not yet complete (severity: %s)\n\n", analysis.Severity)
	if analysis.Reason != "" {
		b.WriteString(analysis.Reason)
		b.WriteString("\n")
	}
	writeBulletSection(&b, "Missing", analysis.Missing)
	writeBulletSection(&b, "Next Actions", analysis.NextActions)
	return b.String()
}

func finalAttemptMessage(attempt, maxAttempts int, analysis types.ReflectionAnalysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Final Attempt (%d/%d)\n\n", attempt, maxAttempts)

	items := analysis.Missing
	if len(items) == 0 {
		items = analysis.NextActions
	}
	if len(items) > 3 {
		items = items[:3]
	}
	if len(items) > 0 {
		fmt.Fprintf(&b, "Still missing: %s\n\n", strings.Join(items, "; "))
	}

	b.WriteString("This is your last attempt before the reflection loop stops. Either complete ")
	b.WriteString("the remaining work now, or clearly state what is blocking you and record it as ")
	b.WriteString("a needed human action.\n")
	return b.String()
}

func writeBulletSection(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n### %s\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
}
