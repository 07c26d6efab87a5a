// Package loopdetect implements the two pathological-pattern detectors from
// spec.md §4.2: the planning loop (many read-like tool calls, almost no
// writes) and the action loop (the same write-like command repeated without
// progress). Both are pure functions over a message slice, restartable from
// any prefix of the log (spec.md §4.2), matching the teacher's preference
// for small, side-effect-free helpers around the core executor loop.
package loopdetect

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/opencode-sh/reflection3/internal/types"
)

var (
	shellWriteRe = regexp.MustCompile(`(?i)\b(npm|yarn|pnpm)\s+(run\s+)?(build|test|lint|fmt|format)\b|\bgit\s+(add|commit|push|checkout|switch|merge|rebase)\b|^\s*(mkdir|rm|mv|cp)\b`)
	shellReadRe  = regexp.MustCompile(`(?i)\bgit\s+(status|log|diff|show|branch|remote|tag)\b|^\s*(ls|cat|head|tail|find|grep|rg|wc|file)\b`)

	shellToolNames = map[string]bool{"bash": true, "shell": true, "exec": true}
)

func isShellTool(name string) bool {
	return shellToolNames[strings.ToLower(name)]
}

func shellCommandOf(p types.Part) (string, bool) {
	if !isShellTool(p.ToolName) {
		return "", false
	}
	cmd, ok := p.ToolInput["command"].(string)
	return cmd, ok
}

// classify reports whether a tool Part counts as a tool call at all, and if
// so whether spec.md §4.2 treats it as write-like or read-like (both false
// means "neither", still a tool call for planning-loop's total count).
func classify(p types.Part) (isTool, isWrite, isRead bool) {
	if p.Kind != types.PartTool {
		return false, false, false
	}

	if cmd, ok := shellCommandOf(p); ok {
		switch {
		case shellWriteRe.MatchString(cmd):
			return true, true, false
		case shellReadRe.MatchString(cmd):
			return true, false, true
		default:
			return true, false, false
		}
	}

	if types.IsWriteLikeTool(p.ToolName) {
		return true, true, false
	}
	if types.IsReadLikeTool(p.ToolName) {
		return true, false, true
	}
	return true, false, false
}

// PlanningLoopDetected implements spec.md §4.2's planning-loop detector. It
// is only consulted for coding tasks; any other task type always returns
// false.
func PlanningLoopDetected(messages []types.Message, taskType types.TaskType) bool {
	if taskType != types.TaskCoding {
		return false
	}

	var total, writes int
	for _, m := range messages {
		if m.Role != types.RoleAssistant {
			continue
		}
		for _, p := range m.Parts {
			isTool, isWrite, _ := classify(p)
			if !isTool {
				continue
			}
			total++
			if isWrite {
				writes++
			}
		}
	}

	if total < 8 {
		return false
	}
	return writes == 0 || float64(writes)/float64(total) < 0.1
}

var (
	timestampRe  = regexp.MustCompile(`\d{10,}`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// NormalizeCommand collapses whitespace, replaces runs of 10+ digits with
// the token TIMESTAMP, and lowercases the result, per spec.md §4.2.
func NormalizeCommand(cmd string) string {
	cmd = whitespaceRe.ReplaceAllString(strings.TrimSpace(cmd), " ")
	cmd = timestampRe.ReplaceAllString(cmd, "TIMESTAMP")
	return strings.ToLower(cmd)
}

var droppedReadOnlyTools = map[string]bool{
	"read": true, "glob": true, "grep": true, "todowrite": true, "todoread": true,
}

func isDroppedReadOnly(name string) bool {
	return droppedReadOnlyTools[strings.ToLower(name)]
}

const actionLoopKeyPrefixLen = 100

// actionKey builds the "name:serialized-input-prefix(100)" key spec.md
// §4.2 dictates. Shell tool calls are keyed on their normalized command;
// everything else is keyed on its JSON-serialized input (encoding/json
// sorts map keys, so the serialization is deterministic).
func actionKey(p types.Part) string {
	var body string
	if cmd, ok := shellCommandOf(p); ok {
		body = NormalizeCommand(cmd)
	} else if len(p.ToolInput) > 0 {
		if encoded, err := json.Marshal(p.ToolInput); err == nil {
			body = string(encoded)
		}
	}
	if len(body) > actionLoopKeyPrefixLen {
		body = body[:actionLoopKeyPrefixLen]
	}
	return p.ToolName + ":" + body
}

// ActionLoopDetected implements spec.md §4.2's action-loop detector.
func ActionLoopDetected(messages []types.Message) bool {
	counts := make(map[string]int)
	total := 0

	for _, m := range messages {
		if m.Role != types.RoleAssistant {
			continue
		}
		for _, p := range m.Parts {
			if p.Kind != types.PartTool || isDroppedReadOnly(p.ToolName) {
				continue
			}
			total++
			counts[actionKey(p)]++
		}
	}

	if total < 4 {
		return false
	}

	var repeated int
	for _, c := range counts {
		if c >= 3 {
			repeated += c
		}
	}
	return float64(repeated)/float64(total) >= 0.6
}
