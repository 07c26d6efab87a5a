// Package orchestrator implements the Reflection Orchestrator (spec.md
// §4.8): the per-session, 18-step reflection algorithm that composes every
// other package — signal extraction, loop detection, self-assessment,
// evaluation, optional cross-review, routing, artifact writes, and
// feedback composition — into one HandleIdle call triggered by a
// session-idle event.
//
// HandleIdle returns a Result sum type rather than an error, grounded on
// the teacher's execerrors sentinel-error style (a small closed set of
// named outcomes) adapted to an enum because these are not failure paths:
// NoTarget/Aborted are ordinary early-outs, not exceptional conditions.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/opencode-sh/reflection3/internal/artifact"
	"github.com/opencode-sh/reflection3/internal/assessment"
	"github.com/opencode-sh/reflection3/internal/config"
	"github.com/opencode-sh/reflection3/internal/crossreview"
	"github.com/opencode-sh/reflection3/internal/evaluator"
	"github.com/opencode-sh/reflection3/internal/feedback"
	"github.com/opencode-sh/reflection3/internal/hostclient"
	"github.com/opencode-sh/reflection3/internal/loopdetect"
	"github.com/opencode-sh/reflection3/internal/logging"
	"github.com/opencode-sh/reflection3/internal/registry"
	"github.com/opencode-sh/reflection3/internal/routing"
	"github.com/opencode-sh/reflection3/internal/signals"
	"github.com/opencode-sh/reflection3/internal/types"
)

// judgeSignatureTexts identify a judge session's own messages (spec.md
// §4.9): the core must never reflect on a session carrying one of these.
var judgeSignatureTexts = []string{
	"ANALYZE REFLECTION-3",
	"SELF-ASSESS REFLECTION-3",
	"REVIEW REFLECTION-3 COMPLETION",
	"TASK VERIFICATION",
}

// ResultKind enumerates HandleIdle's possible outcomes.
type ResultKind string

const (
	ResultOK               ResultKind = "ok"
	ResultNoTarget         ResultKind = "no_target"
	ResultAborted          ResultKind = "aborted"
	ResultTransportFailure ResultKind = "transport_failure"
	ResultParseFallback    ResultKind = "parse_fallback"
)

// Result is the outcome of one HandleIdle call. Analysis is set only when
// Kind == ResultOK.
type Result struct {
	Kind     ResultKind
	Analysis *types.ReflectionAnalysis
}

func okResult(a types.ReflectionAnalysis) Result { return Result{Kind: ResultOK, Analysis: &a} }
func noTarget() Result                           { return Result{Kind: ResultNoTarget} }
func aborted() Result                            { return Result{Kind: ResultAborted} }
func transportFailure() Result                   { return Result{Kind: ResultTransportFailure} }
func parseFallback() Result                      { return Result{Kind: ResultParseFallback} }

// Orchestrator holds every collaborator HandleIdle needs and the registries
// that back spec.md §5's concurrency invariants.
type Orchestrator struct {
	Client      hostclient.Client
	Registry    *registry.Store
	Config      *config.Config
	Probe       signals.WorkspaceProbe
	Assessment  *assessment.Runner
	Routing     *routing.Classifier
	CrossReview *crossreview.Reviewer
	Artifact    *artifact.Writer
	Debug       *logging.DebugSink
	Logger      *slog.Logger

	AbortCooldown  time.Duration
	AbortRaceDelay time.Duration
}

// HandleIdle runs one reflection attempt for sessionID, following spec.md
// §4.8's numbered steps. Callers are responsible for the IDLE_WAIT/RUNNING/
// COOLDOWN_ABORT state transitions around this call (TryEnterRunning before,
// ExitRunning after, and the abort-race delay + re-check described in
// §4.8's Transitions).
func (o *Orchestrator) HandleIdle(ctx context.Context, sessionID string) Result {
	reflectionStart := time.Now()
	o.debugf("reflection start session=%s", sessionID)

	// Step 2: load messages.
	session, err := o.Client.GetSession(ctx, sessionID)
	if err != nil {
		o.warn("failed to load session", err)
		return transportFailure()
	}
	if len(session.Messages) < 2 {
		return noTarget()
	}

	// Step 3: judge session / judge-signature exclusion.
	if o.Registry.IsJudge(sessionID) || containsJudgeSignature(session.Messages) {
		return noTarget()
	}

	excludeIDs := o.Registry.InjectedFeedbackIDs(sessionID)

	// Step 4: agentMode plan check needs the full TaskContext machinery, but
	// a plan-mode check on the raw messages suffices here and avoids doing
	// the more expensive Extract before we know we even need it.
	humanMessages := session.HumanMessages(excludeIDs)
	var lastHumanText string
	if len(humanMessages) > 0 {
		lastHumanText = concatAllText(humanMessages[len(humanMessages)-1])
	}
	if signals.InferAgentMode(session.Messages, lastHumanText) == types.AgentModePlan {
		return noTarget()
	}

	// Step 5: resolve humanMsgId.
	if len(humanMessages) == 0 {
		return noTarget()
	}
	humanMsg := humanMessages[len(humanMessages)-1]
	humanMsgID := humanMsg.ID

	// Step 6.
	if last, ok := o.Registry.LastReflected(sessionID); ok && last == humanMsgID {
		return noTarget()
	}

	maxAttempts := o.Config.Attempts.MaxAttempts

	// Step 7.
	if o.Registry.AttemptCount(sessionID, humanMsgID) >= maxAttempts {
		o.Registry.SetLastReflected(sessionID, humanMsgID)
		o.toast(session.Directory, "Max attempts", fmt.Sprintf("Reflection stopped after %d attempts.", maxAttempts), hostclient.ToastWarning)
		return noTarget()
	}

	// Step 8: compute TaskContext and lastAssistantText.
	taskCtx := signals.Extract(session, excludeIDs, o.Probe)
	lastAssistantText := ""
	if m, ok := session.LastAssistantMessage(); ok {
		lastAssistantText = m.LastText()
	}

	preferredModel, _ := config.ReadPreferredModel(session.Directory)
	promptOverride, _ := config.ReadPromptOverride(session.Directory)
	projectInstructions, _ := config.ReadProjectInstructions(session.Directory)
	candidates := o.Config.CandidateModels(preferredModel)
	attemptIndex := o.Registry.AttemptCount(sessionID, humanMsgID)

	// Step 9: self-assessment.
	assessResult, ok := o.Assessment.Run(ctx, candidates, assessment.Request{
		Directory:           session.Directory,
		Context:             taskCtx,
		LastAssistantText:   lastAssistantText,
		PromptOverride:      promptOverride,
		ProjectInstructions: projectInstructions,
		AttemptIndex:        attemptIndex,
		MaxAttempts:         maxAttempts,
	})
	if !ok {
		o.Registry.SetLastReflected(sessionID, humanMsgID)
		o.toast(session.Directory, "Reflection failed", "No judge model produced a self-assessment.", hostclient.ToastWarning)
		return transportFailure()
	}

	// Step 10: re-check invariants after the (potentially long) self-assessment poll.
	if o.invariantsViolated(sessionID, reflectionStart, humanMsgID) {
		o.Registry.SetLastReflected(sessionID, humanMsgID)
		return aborted()
	}

	// Step 11: parse, falling back to the LLM judge on failure.
	selfAssessment, parseErr := types.ParseSelfAssessment(assessResult.Text)
	var analysis types.ReflectionAnalysis
	if parseErr != nil {
		verdict, fallbackText, fbOK := o.runJudgeFallback(ctx, session.Directory, candidates, assessResult.Text)
		if !fbOK {
			o.Registry.SetLastReflected(sessionID, humanMsgID)
			return parseFallback()
		}
		analysis = evaluator.AdaptJudgeVerdict(verdict)
		assessResult.Text = fallbackText
	} else {
		analysis = evaluator.Evaluate(selfAssessment, taskCtx)
	}
	analysis.ID = types.NewReflectionAnalysisID()
	analysis.SessionID = sessionID

	// Step 12: complete verdict.
	if analysis.Complete {
		if o.CrossReview != nil {
			if critique, crOK := o.CrossReview.Review(ctx, session.Directory, assessResult.ModelUsed, taskCtx, lastAssistantText, assessResult.Text, analysis); crOK {
				analysis.CrossReview = critique
			}
		}

		var routingInfo *artifact.RoutingInfo
		if o.Routing != nil && o.Config.Routing.Enabled {
			routingInfo = o.classifyRouting(ctx, session.Directory, taskCtx, humanMessages)
		}

		o.writeVerdictAndRecord(session.Directory, sessionID, taskCtx, assessResult.Text, analysis, routingInfo)
		o.Registry.ClearAttempts(sessionID, humanMsgID)
		o.Registry.SetLastReflected(sessionID, humanMsgID)
		o.toast(session.Directory, "Task complete", "Task complete ✓", hostclient.ToastSuccess)
		return okResult(analysis)
	}

	// Step 13: human action required, nothing the agent can do next.
	if analysis.RequiresHumanAction && !analysis.ShouldContinue {
		o.writeVerdictAndRecord(session.Directory, sessionID, taskCtx, assessResult.Text, analysis, nil)
		o.Registry.ClearAttempts(sessionID, humanMsgID)
		o.Registry.SetLastReflected(sessionID, humanMsgID)
		first := "See analysis record for details."
		if len(analysis.Missing) > 0 {
			first = analysis.Missing[0]
		}
		o.toast(session.Directory, "Action needed", "Action needed: "+first, hostclient.ToastWarning)
		return okResult(analysis)
	}

	// Step 14: re-check invariants before injecting feedback.
	if o.invariantsViolated(sessionID, reflectionStart, humanMsgID) {
		return aborted()
	}

	// Step 15: increment attempt ledger.
	attempt := o.Registry.IncrementAttempt(sessionID, humanMsgID)
	if attempt >= maxAttempts {
		o.writeVerdictAndRecord(session.Directory, sessionID, taskCtx, assessResult.Text, analysis, nil)
		o.Registry.SetLastReflected(sessionID, humanMsgID)
		o.toast(session.Directory, "Max attempts", fmt.Sprintf("Reflection stopped after %d attempts.", maxAttempts), hostclient.ToastWarning)
		return okResult(analysis)
	}

	// Step 16: loop detectors + feedback composition.
	planningLoop := loopdetect.PlanningLoopDetected(session.Messages, taskCtx.TaskType)
	actionLoop := loopdetect.ActionLoopDetected(session.Messages)
	feedbackText := feedback.Compose(attempt, maxAttempts, analysis, planningLoop, actionLoop)

	// Step 17: compute routing model (if enabled) and post feedback.
	var model hostclient.ModelSpec
	var routingTag string
	if o.Routing != nil && o.Config.Routing.Enabled {
		if info := o.classifyRouting(ctx, session.Directory, taskCtx, humanMessages); info != nil {
			model = hostclient.ModelSpec(info.Provider + "/" + info.Model)
			routingTag = info.Category
		}
	}

	if err := o.Client.PromptAsync(ctx, sessionID, hostclient.PromptRequest{
		Parts: []hostclient.PromptPart{{Text: feedbackText}},
		Model: model,
	}); err != nil {
		o.warn("failed to inject feedback", err)
		o.Registry.SetLastReflected(sessionID, humanMsgID)
		return transportFailure()
	}
	o.recordInjectedFeedback(ctx, sessionID, feedbackText)

	// Step 18.
	o.Registry.SetLastReflected(sessionID, humanMsgID)
	msg := "Pushed agent to continue"
	if routingTag != "" {
		msg = fmt.Sprintf("%s (routed: %s)", msg, routingTag)
	}
	o.toast(session.Directory, "Reflection", msg, hostclient.ToastInfo)
	return okResult(analysis)
}

// invariantsViolated implements spec.md §4.8 steps 10/14: an abort observed
// after reflectionStart, or the resolved humanMsgId changing, invalidates
// the in-flight reflection.
func (o *Orchestrator) invariantsViolated(sessionID string, reflectionStart time.Time, humanMsgID string) bool {
	if _, wasAborted := o.Registry.AbortedSince(sessionID, reflectionStart); wasAborted {
		return true
	}
	session, err := o.Client.GetSession(context.Background(), sessionID)
	if err != nil {
		return true
	}
	excludeIDs := o.Registry.InjectedFeedbackIDs(sessionID)
	humanMessages := session.HumanMessages(excludeIDs)
	if len(humanMessages) == 0 {
		return true
	}
	return humanMessages[len(humanMessages)-1].ID != humanMsgID
}

func containsJudgeSignature(messages []types.Message) bool {
	for _, m := range messages {
		text := concatAllText(m)
		for _, sig := range judgeSignatureTexts {
			if strings.Contains(text, sig) {
				return true
			}
		}
	}
	return false
}

func concatAllText(m types.Message) string {
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Kind == types.PartText {
			b.WriteString(p.Text)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// runJudgeFallback implements spec.md §4.4's fallback path: a second
// auxiliary-session call asking a plain JSON verdict instead of a full
// SelfAssessment, reusing the same candidate list and Assessment.Run
// machinery via a judge-verdict-specific prompt override.
func (o *Orchestrator) runJudgeFallback(ctx context.Context, directory string, candidates []string, rawAssessment string) (evaluator.JudgeVerdict, string, bool) {
	prompt := composeFallbackPrompt(rawAssessment)
	result, ok := o.Assessment.Run(ctx, candidates, assessment.Request{
		Directory:      directory,
		PromptOverride: prompt,
	})
	if !ok {
		return evaluator.JudgeVerdict{}, "", false
	}
	verdict, err := evaluator.ParseJudgeVerdict(result.Text)
	if err != nil {
		o.warn("judge fallback response was not parseable", err)
		return evaluator.JudgeVerdict{}, "", false
	}
	return verdict, result.Text, true
}

func composeFallbackPrompt(rawAssessment string) string {
	var b strings.Builder
	b.WriteString("ANALYZE REFLECTION-3\n\n")
	b.WriteString("The following self-assessment text could not be parsed as the expected JSON shape:\n\n")
	b.WriteString(rawAssessment)
	b.WriteString("\n\nRe-derive the verdict from this text and respond with a single JSON object: ")
	b.WriteString(`{"complete": bool, "severity": "NONE"|"LOW"|"MEDIUM"|"HIGH"|"BLOCKER", "feedback": string, "missing": [string], "next_actions": [string], "requires_human_action": bool}`)
	return b.String()
}

func (o *Orchestrator) classifyRouting(ctx context.Context, directory string, taskCtx types.TaskContext, humanMessages []types.Message) *artifact.RoutingInfo {
	texts := make([]string, 0, len(humanMessages))
	for _, m := range humanMessages {
		texts = append(texts, strings.TrimSpace(concatAllText(m)))
	}

	category, ok := o.Routing.Classify(ctx, directory, pickClassifierModel(o.Config), taskCtx.TaskSummary, taskCtx.TaskType, texts)
	if !ok {
		category = routing.CategoryDefault
	}

	model, ok := routing.GetRoutingModel(o.Config.Routing, category)
	if !ok {
		return nil
	}
	return &artifact.RoutingInfo{Category: category, Provider: model.Provider, Model: model.Model}
}

// pickClassifierModel resolves the model the classifier call itself uses:
// the first configured candidate model, or none (host default).
func pickClassifierModel(cfg *config.Config) routing.ModelRef {
	for _, m := range cfg.Models {
		if ref, ok := routing.Parse(m); ok {
			return ref
		}
	}
	return routing.ModelRef{}
}

func (o *Orchestrator) writeVerdictAndRecord(directory, sessionID string, taskCtx types.TaskContext, assessmentText string, analysis types.ReflectionAnalysis, routingInfo *artifact.RoutingInfo) {
	if o.Artifact == nil {
		return
	}
	if err := o.Artifact.WriteVerdict(directory, sessionID, analysis.Complete, analysis.Severity); err != nil {
		o.warn("failed to write verdict signal", err)
	}
	if err := o.Artifact.WriteAnalysisRecord(directory, sessionID, taskCtx, assessmentText, analysis, routingInfo); err != nil {
		o.warn("failed to write analysis record", err)
	}
}

// recordInjectedFeedback discovers the message id the just-posted feedback
// prompt was given and records it so the next humanMsgId resolution
// excludes it (see registry.Store.MarkInjectedFeedback).
func (o *Orchestrator) recordInjectedFeedback(ctx context.Context, sessionID, feedbackText string) {
	messages, err := o.Client.Messages(ctx, sessionID)
	if err != nil {
		return
	}
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m.Role != types.RoleUser {
			continue
		}
		if strings.TrimSpace(concatAllText(m)) == strings.TrimSpace(feedbackText) {
			o.Registry.MarkInjectedFeedback(sessionID, m.ID)
		}
		break
	}
}

func (o *Orchestrator) toast(directory, title, message string, variant hostclient.ToastVariant) {
	if err := o.Client.Toast(context.Background(), directory, title, message, variant, 5000); err != nil {
		o.warn("failed to publish toast", err)
	}
}

func (o *Orchestrator) warn(msg string, err error) {
	if o.Logger != nil {
		o.Logger.Warn(msg, slog.String("error", err.Error()))
	}
	o.debugf("%s: %v", msg, err)
}

func (o *Orchestrator) debugf(format string, args ...interface{}) {
	if o.Debug != nil && o.Debug.Enabled() {
		o.Debug.Log(fmt.Sprintf(format, args...))
	}
}
