// Package signals implements the Signal Extractor (spec.md §4.1): turning a
// session's raw message history into a TaskContext — task type, agent mode,
// workflow-requirement flags, and the closed set of detected signals. The
// precompiled regexp-table idiom (a package-level map/slice of
// *regexp.Regexp built once via regexp.MustCompile, matched in a fixed
// precedence order) is grounded on the teacher's
// internal/parser/intent_parser.go.
package signals

import (
	"regexp"
	"strings"

	"github.com/opencode-sh/reflection3/internal/types"
)

var (
	researchVerbRe           = regexp.MustCompile(`(?i)\b(research|investigate|analyze|compare|evaluate|study)\b`)
	codingActionVerbRe       = regexp.MustCompile(`(?i)\b(fix|implement|add|create|build|feature|refactor|improve|update)\b`)
	githubIssueURLRe         = regexp.MustCompile(`(?i)github\.com/[\w.\-]+/[\w.\-]+/issues/\d+`)
	docsRe                   = regexp.MustCompile(`(?i)\b(docs?|readme|documentation)\b`)
	opsVerbsRe               = regexp.MustCompile(`(?i)\b(deploy|release|infra|ops|oncall|incident|runbook)\b`)
	personalAssistantNounsRe = regexp.MustCompile(`(?i)\b(gmail|email|filter|inbox|calendar|linkedin|recruiter|browser)\b`)
	setupVerbsRe             = regexp.MustCompile(`(?i)\b(clean up|organize|configure|setup|set up|install)\b`)
	codingVerbsOrNounsRe     = regexp.MustCompile(`(?i)\b(fix|implement|add|create|build|feature|refactor|improve|update|bug|error|regression)\b`)
)

// InferTaskType applies spec.md §4.1's six-step precedence order to the
// concatenation of user messages and the last assistant reply. It is
// invariant under leading/trailing whitespace and case (spec.md §8 L2).
func InferTaskType(text string) types.TaskType {
	text = strings.TrimSpace(text)

	switch {
	case (researchVerbRe.MatchString(text) && codingActionVerbRe.MatchString(text)) || githubIssueURLRe.MatchString(text):
		return types.TaskCoding
	case researchVerbRe.MatchString(text):
		return types.TaskResearch
	case docsRe.MatchString(text):
		return types.TaskDocs
	case opsVerbsRe.MatchString(text) || personalAssistantNounsRe.MatchString(text) || setupVerbsRe.MatchString(text):
		// Must be checked before coding verbs so "create filter" and "build
		// entities" land in ops, not coding.
		return types.TaskOps
	case codingVerbsOrNounsRe.MatchString(text):
		return types.TaskCoding
	default:
		return types.TaskOther
	}
}

var (
	planMarkerTokens = []string{
		"plan mode active",
		"plan mode is active",
		"read-only mode",
		"read-only phase",
	}
	systemReminderPlanRe = regexp.MustCompile(`(?i)plan mode|read-only phase`)
	imperativePlanRe     = regexp.MustCompile(`(?i)\b(create|make|draft|generate|propose)\s+(a\s+)?plan\b`)
)

// InferAgentMode classifies the session as plan or build per spec.md §4.1.
// allMessages is the full message history in session order, scanned for
// plan-mode markers; lastHumanText is the text of the last non-reflection
// user message (used for the imperative check).
func InferAgentMode(allMessages []types.Message, lastHumanText string) types.AgentMode {
	for _, m := range allMessages {
		text := concatText(m)
		lower := strings.ToLower(text)
		for _, tok := range planMarkerTokens {
			if strings.Contains(lower, tok) {
				return types.AgentModePlan
			}
		}
		if m.Role == types.RoleUser && systemReminderPlanRe.MatchString(text) {
			return types.AgentModePlan
		}
	}
	if imperativePlanRe.MatchString(lastHumanText) {
		return types.AgentModePlan
	}
	return types.AgentModeBuild
}

func concatText(m types.Message) string {
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Kind == types.PartText {
			b.WriteString(p.Text)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// WorkspaceProbe answers the filesystem/package-manifest lookups spec.md
// §4.1's workflow-requirement flags depend on. Defined as an interface (not
// a concrete filesystem walk) so tests can substitute a fake without
// touching disk.
type WorkspaceProbe interface {
	HasTestScript(directory string) bool
	HasBuildScript(directory string) bool
	HasTestsDir(directory string) bool
}

var (
	testMentionRe  = regexp.MustCompile(`(?i)\btest(s|ing|ed)?\b`)
	buildMentionRe = regexp.MustCompile(`(?i)\bbuild(s|ing)?\b`)
	prMentionRe    = regexp.MustCompile(`(?i)\bpull request|\bpr\b`)
	ciMentionRe    = regexp.MustCompile(`(?i)\bci\b|continuous integration`)

	testCommandRe  = regexp.MustCompile(`(?i)\b(npm|yarn|pnpm)\s+(run\s+)?test|pytest|go\s+test|jest|mocha|rspec|cargo\s+test`)
	buildCommandRe = regexp.MustCompile(`(?i)\b(npm|yarn|pnpm)\s+(run\s+)?build|go\s+build|make\s+build|cargo\s+build`)

	ghPRCreateRe = regexp.MustCompile(`(?i)\bgh\s+pr\s+create\b`)
	ghPRViewRe   = regexp.MustCompile(`(?i)\bgh\s+pr\s+view\b`)
	ghPRStatusRe = regexp.MustCompile(`(?i)\bgh\s+pr\s+status\b`)
	ghPRChecksRe = regexp.MustCompile(`(?i)\bgh\s+pr\s+checks\b`)
	ghPRRe       = regexp.MustCompile(`(?i)\bgh\s+pr\b`)
	ghIssueRe    = regexp.MustCompile(`(?i)\bgh\s+issue\b`)

	gitPushRe          = regexp.MustCompile(`(?i)\bgit\s+push\b`)
	pushToDefaultRe    = regexp.MustCompile(`(?i)\bgit\s+push\s+(?:origin\s+|head:)?(?:main|master)\b`)
	shellToolNames     = map[string]bool{"bash": true, "shell": true, "exec": true}
)

// shellCommand extracts the raw shell command text from a tool Part, if the
// part represents a shell invocation.
func shellCommand(p types.Part) (string, bool) {
	if p.Kind != types.PartTool {
		return "", false
	}
	if !shellToolNames[strings.ToLower(p.ToolName)] {
		return "", false
	}
	cmd, ok := p.ToolInput["command"].(string)
	if !ok || strings.TrimSpace(cmd) == "" {
		return "", false
	}
	return cmd, true
}

// detectionResult is the intermediate output of scanMessages before it is
// folded into a TaskContext.
type detectionResult struct {
	signals               map[types.DetectedSignal]bool
	pushedToDefaultBranch bool
	recentCommands        []string
}

// scanMessages implements spec.md §4.1's "Signal detection": a scan of the
// message history for shell commands and user text, recording tokens from
// the closed set in spec.md §3.
func scanMessages(messages []types.Message) detectionResult {
	res := detectionResult{signals: make(map[types.DetectedSignal]bool)}

	for _, m := range messages {
		for _, p := range m.Parts {
			if p.Kind == types.PartText {
				text := p.Text
				if testMentionRe.MatchString(text) {
					res.signals[types.SignalTestMention] = true
				}
				if buildMentionRe.MatchString(text) {
					res.signals[types.SignalBuildMention] = true
				}
				if prMentionRe.MatchString(text) {
					res.signals[types.SignalPRMention] = true
				}
				if ciMentionRe.MatchString(text) {
					res.signals[types.SignalCIMention] = true
				}
				continue
			}

			cmd, ok := shellCommand(p)
			if !ok {
				continue
			}
			res.recentCommands = append(res.recentCommands, cmd)

			if testCommandRe.MatchString(cmd) {
				res.signals[types.SignalTestCommand] = true
			}
			if buildCommandRe.MatchString(cmd) {
				res.signals[types.SignalBuildCommand] = true
			}
			if ghPRCreateRe.MatchString(cmd) {
				res.signals[types.SignalGHPRCreate] = true
			}
			if ghPRViewRe.MatchString(cmd) {
				res.signals[types.SignalGHPRView] = true
			}
			if ghPRStatusRe.MatchString(cmd) {
				res.signals[types.SignalGHPRStatus] = true
			}
			if ghPRChecksRe.MatchString(cmd) {
				res.signals[types.SignalGHPRChecks] = true
			}
			if ghPRRe.MatchString(cmd) {
				res.signals[types.SignalGHPR] = true
			}
			if ghIssueRe.MatchString(cmd) {
				res.signals[types.SignalGHIssue] = true
			}
			if gitPushRe.MatchString(cmd) {
				res.signals[types.SignalGitPush] = true
			}
			if pushToDefaultRe.MatchString(cmd) {
				res.pushedToDefaultBranch = true
			}
		}
	}

	return res
}

const maxRecentCommands = 20

// maxToolsSummary bounds how many of the most recent tool invocations
// (spec.md §3 toolsSummary: "last N shell/tool invocations as plain text")
// are rendered, independent of maxRecentCommands, which is shell-only.
const maxToolsSummary = 10

// Extract builds a TaskContext for the given session. excludeIDs names
// reflection-injected user messages (identified by the caller before this
// is invoked) so they never leak into task-type/agent-mode inference.
// probe answers the package-manifest/filesystem lookups; pass nil to skip
// them (hasTestScript/hasBuildScript/hasTestsDir all false).
func Extract(session types.Session, excludeIDs map[string]bool, probe WorkspaceProbe) types.TaskContext {
	humanMessages := session.HumanMessages(excludeIDs)

	var textBuilder strings.Builder
	for _, m := range humanMessages {
		textBuilder.WriteString(concatText(m))
		textBuilder.WriteString("\n")
	}
	if assistant, ok := session.LastAssistantMessage(); ok {
		textBuilder.WriteString(assistant.LastText())
	}
	combinedText := textBuilder.String()

	var lastHumanText string
	if len(humanMessages) > 0 {
		lastHumanText = concatText(humanMessages[len(humanMessages)-1])
	}

	taskType := InferTaskType(combinedText)
	agentMode := InferAgentMode(session.Messages, lastHumanText)

	detection := scanMessages(session.Messages)

	var detectedSignals []types.DetectedSignal
	for _, sig := range []types.DetectedSignal{
		types.SignalTestMention, types.SignalBuildMention, types.SignalPRMention,
		types.SignalCIMention, types.SignalTestCommand, types.SignalBuildCommand,
		types.SignalGHPR, types.SignalGHPRCreate, types.SignalGHPRView,
		types.SignalGHPRStatus, types.SignalGHPRChecks, types.SignalGHIssue,
		types.SignalGitPush,
	} {
		if detection.signals[sig] {
			detectedSignals = append(detectedSignals, sig)
		}
	}

	recentCommands := detection.recentCommands
	if len(recentCommands) > maxRecentCommands {
		recentCommands = recentCommands[len(recentCommands)-maxRecentCommands:]
	}

	hasTestScript, hasBuildScript, hasTestsDir := false, false, false
	if probe != nil {
		hasTestScript = probe.HasTestScript(session.Directory)
		hasBuildScript = probe.HasBuildScript(session.Directory)
		hasTestsDir = probe.HasTestsDir(session.Directory)
	}

	isCoding := taskType == types.TaskCoding
	requiresTests := isCoding && (hasTestScript || hasTestsDir || detection.signals[types.SignalTestMention])
	requiresBuild := isCoding && (hasBuildScript || detection.signals[types.SignalBuildMention])
	requiresPR := isCoding
	requiresCI := isCoding
	requiresLocalTests := requiresTests
	requiresLocalTestsEvidence := requiresTests && !hasLocalTestCommandRun(recentCommands)

	ctx := types.TaskContext{
		TaskSummary:                 strings.TrimSpace(combinedText),
		TaskType:                    taskType,
		AgentMode:                   agentMode,
		HumanMessages:               humanMessages,
		ToolsSummary:                summarizeTools(session.Messages),
		DetectedSignals:             detectedSignals,
		RecentCommands:              recentCommands,
		PushedToDefaultBranch:       detection.pushedToDefaultBranch,
		RequiresTests:               requiresTests,
		RequiresBuild:               requiresBuild,
		RequiresPR:                  requiresPR,
		RequiresCI:                  requiresCI,
		RequiresLocalTests:          requiresLocalTests,
		RequiresLocalTestsEvidence:  requiresLocalTestsEvidence,
	}
	return ctx
}

// hasLocalTestCommandRun reports whether any recorded command looks like a
// test invocation, independent of the generic test-command signal (kept
// separate so callers needing exact-command comparisons against evidence
// can reuse this probe).
func hasLocalTestCommandRun(commands []string) bool {
	for _, c := range commands {
		if testCommandRe.MatchString(c) {
			return true
		}
	}
	return false
}

// summarizeTools renders the last maxToolsSummary tool invocations (of any
// kind, not just shell commands — see maxRecentCommands for the shell-only
// list) as plain text, one per line, per spec.md §3's toolsSummary field.
func summarizeTools(messages []types.Message) string {
	var lines []string
	for _, m := range messages {
		for _, p := range m.Parts {
			if p.Kind != types.PartTool {
				continue
			}
			lines = append(lines, formatToolInvocation(p))
		}
	}
	if len(lines) == 0 {
		return "no tool calls"
	}
	if len(lines) > maxToolsSummary {
		lines = lines[len(lines)-maxToolsSummary:]
	}
	return strings.Join(lines, "\n")
}

func formatToolInvocation(p types.Part) string {
	status := string(p.ToolStatus)
	if status == "" {
		status = string(types.ToolSuccess)
	}
	return p.ToolName + " (" + status + ")"
}

var (
	humanOnlyRe    = regexp.MustCompile(`(?i)(auth|oauth|2fa|mfa|captcha|otp|log\s*in|sign\s*in|verification code|passcode|api key|secret|token|credential|access key|session cookie|permission|consent|approve|approval|access request|grant access|invite|upload)`)
	agentActionRe  = regexp.MustCompile(`(?i)\b(run|rerun|execute|test|build|compile|lint|format|commit|push|merge|pr|ci|check|gh|npm|node|python|bash|curl|script|edit|write|update|fix|implement|add|remove|change|create|open|verify|capture|screenshot|record)\b`)
)

// IsHumanOnly classifies an action string per spec.md §4.1: it matches a
// human-only pattern AND does not also match an agent-action pattern.
func IsHumanOnly(action string) bool {
	return humanOnlyRe.MatchString(action) && !agentActionRe.MatchString(action)
}

// PartitionHumanOnly splits items into (humanOnly, agentActionable) per the
// §4.1 classification, preserving order within each bucket.
func PartitionHumanOnly(items []string) (humanOnly, agentActionable []string) {
	for _, item := range items {
		if IsHumanOnly(item) {
			humanOnly = append(humanOnly, item)
		} else {
			agentActionable = append(agentActionable, item)
		}
	}
	return humanOnly, agentActionable
}
