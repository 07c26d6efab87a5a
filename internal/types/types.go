// Package types defines the data model shared across the reflection
// sidecar's components: the host's Session/Message/Part shapes, the
// per-attempt TaskContext, the self-assessment JSON document, and the
// evaluator's verdict. The in-memory registries that back the
// orchestrator's invariants live in internal/registry.
package types

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// Role identifies who authored a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// TaskType classifies what a human asked for (spec §4.1).
type TaskType string

const (
	TaskCoding   TaskType = "coding"
	TaskDocs     TaskType = "docs"
	TaskResearch TaskType = "research"
	TaskOps      TaskType = "ops"
	TaskOther    TaskType = "other"
)

// AgentMode classifies the operating mode the agent appeared to be in.
type AgentMode string

const (
	AgentModePlan    AgentMode = "plan"
	AgentModeBuild    AgentMode = "build"
	AgentModeUnknown AgentMode = "unknown"
)

// Severity ranks how serious an incomplete verdict is.
type Severity string

const (
	SeverityNone    Severity = "NONE"
	SeverityLow     Severity = "LOW"
	SeverityMedium  Severity = "MEDIUM"
	SeverityHigh    Severity = "HIGH"
	SeverityBlocker Severity = "BLOCKER"
)

// ToolStatus is the lifecycle state of a tool Part.
type ToolStatus string

const (
	ToolRunning ToolStatus = "running"
	ToolSuccess ToolStatus = "success"
	ToolError   ToolStatus = "error"
)

// Part is one piece of a Message: either free text or a tool invocation.
// Exactly one of Text or Tool-prefixed fields is meaningful, selected by Kind.
type Part struct {
	Kind PartKind `json:"kind"`

	// Text is populated when Kind == PartText.
	Text string `json:"text,omitempty"`

	// ToolName, ToolInput, and ToolStatus are populated when Kind == PartTool.
	ToolName   string                 `json:"tool_name,omitempty"`
	ToolInput  map[string]interface{} `json:"tool_input,omitempty"`
	ToolStatus ToolStatus             `json:"tool_status,omitempty"`
}

// PartKind discriminates the two Part shapes.
type PartKind string

const (
	PartText PartKind = "text"
	PartTool PartKind = "tool"
)

// IsWriteLikeTool reports whether name is a write-like tool per spec §4.2.
func IsWriteLikeTool(name string) bool {
	switch name {
	case "edit", "write", "apply_patch":
		return true
	}
	lower := strings.ToLower(name)
	if strings.Contains(lower, "version-control") || strings.Contains(lower, "vcs") {
		return true
	}
	if strings.Contains(lower, "pr_create") || strings.Contains(lower, "pr_update") {
		return true
	}
	return false
}

// IsReadLikeTool reports whether name is a read-like tool per spec §4.2.
func IsReadLikeTool(name string) bool {
	switch name {
	case "read", "grep", "glob", "todowrite", "todoread", "task":
		return true
	}
	lower := strings.ToLower(name)
	if strings.HasPrefix(lower, "context7_") {
		return true
	}
	if strings.Contains(lower, "web_fetch") || strings.Contains(lower, "knowledge_graph") || strings.Contains(lower, "knowledge-graph") {
		return true
	}
	return false
}

// Message is one turn in a Session: a role, timing, and an ordered list of
// Parts.
type Message struct {
	ID           string     `json:"id"`
	Role         Role       `json:"role"`
	CreatedAt    int64      `json:"created_at"`
	CompletedAt  *int64     `json:"completed_at,omitempty"`
	AbortError   string     `json:"abort_error,omitempty"`
	Parts        []Part     `json:"parts"`
}

// IsComplete reports whether the message finished (has a completion time
// and no abort marker).
func (m Message) IsComplete() bool {
	return m.CompletedAt != nil && m.AbortError == ""
}

// LastText returns the last non-empty text Part's content, or "" if the
// message has none. This implements SPEC_FULL.md's "last reply" Open
// Question resolution.
func (m Message) LastText() string {
	for i := len(m.Parts) - 1; i >= 0; i-- {
		p := m.Parts[i]
		if p.Kind == PartText && strings.TrimSpace(p.Text) != "" {
			return p.Text
		}
	}
	return ""
}

// Session is the host-owned conversation the core observes. The core never
// mutates Messages directly; it only reads a snapshot and posts new prompts
// through hostclient.Client.
type Session struct {
	ID         string    `json:"id"`
	ParentID   string    `json:"parent_id,omitempty"`
	Directory  string    `json:"directory"`
	Messages   []Message `json:"messages"`
}

// LastAssistantMessage returns the last assistant message in the session,
// or the zero Message and false if there is none.
func (s Session) LastAssistantMessage() (Message, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleAssistant {
			return s.Messages[i], true
		}
	}
	return Message{}, false
}

// HumanMessages returns the ordered list of user messages whose text does
// not originate from the core's own feedback injection (callers identify
// reflection-injected messages by ID before calling this, via
// excludeIDs).
func (s Session) HumanMessages(excludeIDs map[string]bool) []Message {
	var out []Message
	for _, m := range s.Messages {
		if m.Role != RoleUser {
			continue
		}
		if excludeIDs != nil && excludeIDs[m.ID] {
			continue
		}
		out = append(out, m)
	}
	return out
}

// DetectedSignal is a closed-set token recorded by the Signal Extractor.
type DetectedSignal string

const (
	SignalTestMention      DetectedSignal = "test-mention"
	SignalBuildMention     DetectedSignal = "build-mention"
	SignalPRMention        DetectedSignal = "pr-mention"
	SignalCIMention        DetectedSignal = "ci-mention"
	SignalTestCommand      DetectedSignal = "test-command"
	SignalBuildCommand     DetectedSignal = "build-command"
	SignalGHPR             DetectedSignal = "gh-pr"
	SignalGHPRCreate       DetectedSignal = "gh-pr-create"
	SignalGHPRView         DetectedSignal = "gh-pr-view"
	SignalGHPRStatus       DetectedSignal = "gh-pr-status"
	SignalGHPRChecks       DetectedSignal = "gh-pr-checks"
	SignalGHIssue          DetectedSignal = "gh-issue"
	SignalGitPush          DetectedSignal = "git-push"
)

// TaskContext is derived fresh per reflection attempt and discarded
// afterward (spec §3 Lifecycles).
type TaskContext struct {
	TaskSummary   string         `json:"task_summary"`
	TaskType      TaskType       `json:"task_type"`
	AgentMode     AgentMode      `json:"agent_mode"`
	HumanMessages []Message      `json:"-"`
	ToolsSummary  string         `json:"tools_summary"`

	DetectedSignals []DetectedSignal `json:"detected_signals"`
	RecentCommands  []string         `json:"recent_commands"`

	PushedToDefaultBranch bool `json:"pushed_to_default_branch"`

	RequiresTests               bool `json:"requires_tests"`
	RequiresBuild                bool `json:"requires_build"`
	RequiresPR                   bool `json:"requires_pr"`
	RequiresCI                   bool `json:"requires_ci"`
	RequiresLocalTests            bool `json:"requires_local_tests"`
	RequiresLocalTestsEvidence    bool `json:"requires_local_tests_evidence"`
}

// HasSignal reports whether sig is present in DetectedSignals.
func (t TaskContext) HasSignal(sig DetectedSignal) bool {
	for _, s := range t.DetectedSignals {
		if s == sig {
			return true
		}
	}
	return false
}

// Evidence describes what a self-assessment claims was run or checked for
// one category (tests, build, or PR).
type Evidence struct {
	Ran            *bool    `json:"ran,omitempty"`
	Results        string   `json:"results,omitempty"`
	RanAfterChanges *bool   `json:"ran_after_changes,omitempty"`
	Commands       []string `json:"commands,omitempty"`
	Skipped        *bool    `json:"skipped,omitempty"`
	SkipReason     string   `json:"skip_reason,omitempty"`
	URL            string   `json:"url,omitempty"`
	CIStatus       string   `json:"ci_status,omitempty"`
	Checked        *bool    `json:"checked,omitempty"`
}

// EvidenceResult values for Evidence.Results / Evidence.CIStatus.
const (
	EvidencePass    = "pass"
	EvidenceFail    = "fail"
	EvidenceUnknown = "unknown"
)

// SelfAssessmentEvidence groups the three evidence categories a
// self-assessment may report.
type SelfAssessmentEvidence struct {
	Tests *Evidence `json:"tests,omitempty"`
	Build *Evidence `json:"build,omitempty"`
	PR    *Evidence `json:"pr,omitempty"`
}

// SelfAssessmentStatus is the coarse status an auxiliary judge reports.
type SelfAssessmentStatus string

const (
	StatusComplete       SelfAssessmentStatus = "complete"
	StatusInProgress     SelfAssessmentStatus = "in_progress"
	StatusBlocked        SelfAssessmentStatus = "blocked"
	StatusStuck          SelfAssessmentStatus = "stuck"
	StatusWaitingForUser SelfAssessmentStatus = "waiting_for_user"
)

// SelfAssessment is the JSON document an auxiliary judge session returns.
// Every field is optional: a judge model may omit any of them, and the
// evaluator must tolerate that (spec §3, §4.4).
type SelfAssessment struct {
	Status          SelfAssessmentStatus    `json:"status,omitempty"`
	Confidence      *float64                `json:"confidence,omitempty"`
	Evidence        SelfAssessmentEvidence  `json:"evidence,omitempty"`
	RemainingWork   []string                `json:"remaining_work,omitempty"`
	NextSteps       []string                `json:"next_steps,omitempty"`
	NeedsUserAction []string                `json:"needs_user_action,omitempty"`
	Stuck           bool                    `json:"stuck,omitempty"`
	AlternateApproach string                `json:"alternate_approach,omitempty"`
}

// ParseSelfAssessment tolerantly parses raw judge output as a SelfAssessment.
// Judge models routinely wrap JSON in markdown code fences or surround it
// with prose; this strips a single leading/trailing fenced block before
// unmarshalling, matching the resilience the pack's own assessment parsers
// apply to LLM output.
func ParseSelfAssessment(raw string) (SelfAssessment, error) {
	var sa SelfAssessment
	cleaned := StripCodeFence(raw)
	if err := json.Unmarshal([]byte(cleaned), &sa); err != nil {
		return SelfAssessment{}, err
	}
	return sa, nil
}

// StripCodeFence removes a single leading/trailing markdown code fence
// (```...```) from raw, if present, so judge-model output that wraps its
// JSON in a fenced block still unmarshals cleanly. Shared by
// ParseSelfAssessment and the evaluator's fallback judge-verdict parsing.
func StripCodeFence(raw string) string {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	if len(lines) < 2 {
		return text
	}
	lines = lines[1:]
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// ReflectionAnalysis is the evaluator's verdict (spec §3, §4.4).
type ReflectionAnalysis struct {
	ID                  string   `json:"id"`
	SessionID           string   `json:"session_id"`
	Complete            bool     `json:"complete"`
	ShouldContinue       bool     `json:"should_continue"`
	Reason              string   `json:"reason"`
	Missing             []string `json:"missing,omitempty"`
	NextActions         []string `json:"next_actions,omitempty"`
	RequiresHumanAction bool     `json:"requires_human_action"`
	Severity            Severity `json:"severity"`
	CrossReview         string   `json:"cross_review,omitempty"`
}

// NewReflectionAnalysisID returns a fresh unique ID for an analysis record.
func NewReflectionAnalysisID() string {
	return uuid.New().String()
}

// VerdictSignal is the small external artifact peer subsystems poll for
// (spec §3, §6.3).
type VerdictSignal struct {
	SessionID string   `json:"sessionId"`
	Complete  bool     `json:"complete"`
	Severity  Severity `json:"severity"`
	Timestamp int64    `json:"timestamp"`
}

// ShortSessionID truncates a session ID to its short display form, matching
// the host runtime's own convention of showing the first 8 characters.
func ShortSessionID(sessionID string) string {
	if len(sessionID) <= 8 {
		return sessionID
	}
	return sessionID[:8]
}
