package autopilot

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"autopilot/pkg/gate"
	"autopilot/pkg/goal"
	"autopilot/pkg/logx"
	"autopilot/pkg/metrics"
	"autopilot/pkg/persistence"
	"autopilot/pkg/planner"
)

// StepFunc performs one step's actual work. The engine appends
// step:start before calling it and step:done after it returns nil.
type StepFunc func(ctx context.Context) error

// Control actions.
const (
	ActionCancel = "cancel"
	ActionPause  = "pause"
	ActionResume = "resume"
)

// Message kinds. Free-text guidance uses an empty kind; answers to
// clarifying questions and control requests are routed by kind.
const (
	KindAnswer = "answer"
	KindPause  = "pause"
	KindResume = "resume"
)

// Engine owns session lifecycles. All mutations to a given session are
// serialized through a per-id lock so a user message and an automated
// step completion can never race each other.
type Engine struct {
	logger    *logx.Logger
	store     *persistence.Store
	generator *planner.Generator
	gate      *gate.Orchestrator
	exporter  *EventExporter

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine wires a session engine. The gate orchestrator may be nil
// when verification is handled elsewhere.
func NewEngine(store *persistence.Store, generator *planner.Generator, gateOrch *gate.Orchestrator) *Engine {
	return &Engine{
		logger:    logx.NewLogger("autopilot"),
		store:     store,
		generator: generator,
		gate:      gateOrch,
		locks:     make(map[string]*sync.Mutex),
	}
}

// SetExporter attaches a JSONL event exporter. Every appended event is
// mirrored to it best-effort.
func (e *Engine) SetExporter(exporter *EventExporter) {
	e.exporter = exporter
}

func (e *Engine) sessionLock(sessionID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[sessionID] = lock
	}
	return lock
}

// Create materializes a new session for a prompt: a goal in the state
// machine, a pending session row, and a plan event once planning
// completes.
func (e *Engine) Create(ctx context.Context, projectID, uiSessionID, prompt string) (*Session, error) {
	g := &goal.Goal{
		ID:        persistence.NewID(),
		ProjectID: projectID,
		Prompt:    prompt,
		Title:     planner.DeriveTitle(prompt),
		State:     goal.StateDraft,
		Metadata: goal.Metadata{
			AcceptanceCriteria:  planner.ExtractAcceptanceCriteria(prompt),
			ClarifyingQuestions: planner.ExtractClarifyingQuestions(prompt),
		},
	}
	if err := e.store.CreateGoal(g); err != nil {
		return nil, fmt.Errorf("failed to create goal: %w", err)
	}

	row := &persistence.SessionRow{
		ID:          persistence.NewID(),
		ProjectID:   projectID,
		GoalID:      g.ID,
		UISessionID: uiSessionID,
		Status:      string(StatusPending),
	}
	if err := e.store.CreateSession(row); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	metrics.SessionsByStatus.WithLabelValues(string(StatusPending)).Inc()

	plan := e.generator.Generate(ctx, prompt)
	steps := make([]string, 0, len(plan))
	for _, node := range plan {
		steps = append(steps, node.Prompt)
	}
	if err := e.appendEvent(row.ID, EventPlan, EventPayload{Steps: steps}); err != nil {
		return nil, err
	}
	if err := e.store.TransitionGoal(g.ID, goal.StateDraft, goal.StatePlanned); err != nil {
		return nil, err
	}
	e.logger.Info("created session %s for goal %s with %d planned steps", row.ID, g.ID, len(steps))

	return e.StatusSnapshot(row.ID)
}

// AdvanceStep dispatches one step: it appends step:start, runs the
// step's work, and appends step:done. Cancellation is cooperative and
// checked here, before committing to the step; paused sessions and
// goals waiting on user input skip dispatch without error. When the
// last planned step completes the session finishes and the goal moves
// to verification.
func (e *Engine) AdvanceStep(ctx context.Context, sessionID, stepPrompt string, work StepFunc) error {
	lock := e.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	row, err := e.store.GetSession(sessionID)
	if err != nil {
		return err
	}
	status := Status(row.Status)
	if IsTerminalStatus(status) {
		e.logger.Info("session %s is %s, not dispatching step", sessionID, status)
		return nil
	}
	if status == StatusPaused {
		e.logger.Info("session %s is paused, not dispatching step", sessionID)
		return nil
	}

	g, err := e.loadGoal(row.GoalID)
	if err != nil {
		return err
	}
	if g != nil && len(g.Metadata.ClarifyingQuestions) > 0 {
		return e.parkForUserInput(row, g)
	}
	if g != nil {
		if err := e.ensureGoalExecuting(g); err != nil {
			return err
		}
	}

	if status != StatusRunning {
		if err := e.updateStatus(row.ID, status, StatusRunning, ""); err != nil {
			return err
		}
	}
	if err := e.appendEvent(row.ID, EventStepStart, EventPayload{Step: stepPrompt}); err != nil {
		return err
	}

	if work != nil {
		if err := work(ctx); err != nil {
			e.logger.Error("step failed in session %s: %v", sessionID, err)
			if g != nil {
				if terr := e.store.TransitionGoal(g.ID, goal.StateExecuting, goal.StateFailed); terr != nil {
					e.logger.Warn("failed to mark goal %s failed: %v", g.ID, terr)
				}
			}
			if serr := e.updateStatus(row.ID, StatusRunning, StatusFailed, err.Error()); serr != nil {
				return serr
			}
			return fmt.Errorf("step %q failed: %w", stepPrompt, err)
		}
	}

	if err := e.appendEvent(row.ID, EventStepDone, EventPayload{Step: stepPrompt}); err != nil {
		return err
	}
	metrics.StepsCompleted.WithLabelValues(row.ProjectID).Inc()

	return e.maybeFinish(ctx, row, g)
}

// parkForUserInput moves the goal to needs-user-input and surfaces the
// first open question as the session's status message. The session
// stays active so the client keeps polling for the answer.
func (e *Engine) parkForUserInput(row *persistence.SessionRow, g *goal.Goal) error {
	switch g.State {
	case goal.StatePlanned:
		if err := e.store.TransitionGoal(g.ID, goal.StatePlanned, goal.StateExecuting); err != nil {
			return err
		}
		fallthrough
	case goal.StateExecuting:
		if err := e.store.TransitionGoal(g.ID, goal.StateExecuting, goal.StateNeedsUserInput); err != nil {
			return err
		}
	case goal.StateNeedsUserInput:
		// Already parked.
	default:
		return fmt.Errorf("goal %s cannot wait for input from state %s", g.ID, g.State)
	}

	question := g.Metadata.ClarifyingQuestions[0]
	if err := e.store.UpdateSessionStatus(row.ID, row.Status, question); err != nil {
		return err
	}
	e.logger.Info("session %s waiting for user input: %s", row.ID, question)
	return nil
}

func (e *Engine) ensureGoalExecuting(g *goal.Goal) error {
	switch g.State {
	case goal.StateExecuting:
		return nil
	case goal.StatePlanned, goal.StateNeedsUserInput, goal.StateFailed:
		return e.store.TransitionGoal(g.ID, g.State, goal.StateExecuting)
	default:
		return fmt.Errorf("goal %s cannot execute from state %s", g.ID, g.State)
	}
}

// maybeFinish completes the session once every planned step is done.
func (e *Engine) maybeFinish(ctx context.Context, row *persistence.SessionRow, g *goal.Goal) error {
	snapshot, err := e.StatusSnapshot(row.ID)
	if err != nil {
		return err
	}
	progress := DeriveProgress(snapshot.Events)
	if len(progress.Steps) == 0 || progress.Current != "" || progress.Next != "" {
		return nil
	}
	if len(progress.Completed) < len(progress.Steps) {
		return nil
	}

	if g != nil {
		if err := e.store.TransitionGoal(g.ID, goal.StateExecuting, goal.StateVerifying); err != nil {
			return err
		}
	}
	if err := e.updateStatus(row.ID, snapshot.Status, StatusCompleted, "all steps completed"); err != nil {
		return err
	}
	e.logger.Info("session %s completed all %d steps", row.ID, len(progress.Steps))

	if g != nil && e.gate != nil {
		e.verifyGoal(ctx, row, g)
	}
	return nil
}

// verifyGoal runs the test gate for a completed session and moves the
// goal to ready-to-merge or failed based on the outcome. Gate errors
// leave the goal in verifying for a later retry.
func (e *Engine) verifyGoal(ctx context.Context, row *persistence.SessionRow, g *goal.Goal) {
	outcome, err := e.gate.Run(ctx, gate.RunRequest{
		ProjectID:  row.ProjectID,
		ProjectDir: row.ProjectID,
		BranchID:   g.ID,
		Scope:      gate.ScopeAll,
		Source:     persistence.RunSourceAutopilot,
	})
	if err != nil {
		e.logger.Warn("verification run for goal %s did not start: %v", g.ID, err)
		return
	}
	to := goal.StateFailed
	if outcome.Passed {
		to = goal.StateReadyToMerge
	}
	if err := e.store.TransitionGoal(g.ID, goal.StateVerifying, to); err != nil {
		e.logger.Error("failed to record verification outcome for goal %s: %v", g.ID, err)
		return
	}
	e.logger.Info("goal %s verification %s (run %s)", g.ID, to, outcome.RunID)
}

// SendMessage injects user guidance into a running session. It never
// fails hard: an absent or terminal session yields a status note
// instead of an error.
func (e *Engine) SendMessage(sessionID, text, kind string, metadata map[string]string) string {
	lock := e.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	row, err := e.store.GetSession(sessionID)
	if err != nil {
		e.logger.Warn("message for unknown session %s ignored: %v", sessionID, err)
		return "session not found, message ignored"
	}
	status := Status(row.Status)
	if IsTerminalStatus(status) {
		e.logger.Info("message for %s session %s ignored", status, sessionID)
		return fmt.Sprintf("session already %s, message ignored", status)
	}

	if err := e.appendEvent(row.ID, EventMessage, EventPayload{Text: text, Kind: kind, Metadata: metadata}); err != nil {
		e.logger.Error("failed to record message for session %s: %v", sessionID, err)
		return "message could not be recorded"
	}

	switch kind {
	case KindAnswer:
		if err := e.applyAnswer(row); err != nil {
			e.logger.Warn("answer for session %s did not unblock the goal: %v", sessionID, err)
			return "answer recorded but session is still blocked"
		}
		return "answer recorded, session unblocked"
	case KindPause:
		if err := e.controlLocked(row, ActionPause); err != nil {
			return "pause request ignored: " + err.Error()
		}
		return "session paused"
	case KindResume:
		if err := e.controlLocked(row, ActionResume); err != nil {
			return "resume request ignored: " + err.Error()
		}
		return "session resumed"
	}
	return "message delivered"
}

// applyAnswer clears the goal's clarifying questions and releases it
// back to executing.
func (e *Engine) applyAnswer(row *persistence.SessionRow) error {
	g, err := e.loadGoal(row.GoalID)
	if err != nil || g == nil {
		return err
	}
	meta := g.Metadata
	meta.ClarifyingQuestions = nil
	if err := e.store.UpdateGoalMetadata(g.ID, meta); err != nil {
		return err
	}
	if g.State == goal.StateNeedsUserInput {
		if err := e.store.TransitionGoal(g.ID, goal.StateNeedsUserInput, goal.StateExecuting); err != nil {
			return err
		}
	}
	return e.store.UpdateSessionStatus(row.ID, row.Status, "")
}

// Control applies cancel, pause, or resume to a session.
func (e *Engine) Control(sessionID, action string) error {
	lock := e.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	row, err := e.store.GetSession(sessionID)
	if err != nil {
		return err
	}
	return e.controlLocked(row, action)
}

func (e *Engine) controlLocked(row *persistence.SessionRow, action string) error {
	status := Status(row.Status)
	if IsTerminalStatus(status) {
		e.logger.Info("control %s for %s session %s ignored", action, status, row.ID)
		return nil
	}

	switch action {
	case ActionCancel:
		if err := e.cancelGoal(row.GoalID); err != nil {
			return err
		}
		if err := e.updateStatus(row.ID, status, StatusCancelled, "cancelled by user"); err != nil {
			return err
		}
	case ActionPause:
		if status != StatusRunning {
			return fmt.Errorf("cannot pause a %s session", status)
		}
		if err := e.updateStatus(row.ID, status, StatusPaused, "paused by user"); err != nil {
			return err
		}
	case ActionResume:
		if status != StatusPaused {
			return fmt.Errorf("cannot resume a %s session", status)
		}
		if err := e.updateStatus(row.ID, status, StatusRunning, ""); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown control action %q", action)
	}

	return e.appendEvent(row.ID, EventControl, EventPayload{Action: action})
}

// cancelGoal moves a session's goal to cancelled. In-flight external
// jobs are not force-killed; dispatch simply stops.
func (e *Engine) cancelGoal(goalID string) error {
	g, err := e.loadGoal(goalID)
	if err != nil || g == nil {
		return err
	}
	if goal.IsTerminal(g.State) {
		return nil
	}
	return e.store.TransitionGoal(g.ID, g.State, goal.StateCancelled)
}

// StatusSnapshot returns the full session object including its event
// log. This is the unit exchanged with polling clients.
func (e *Engine) StatusSnapshot(sessionID string) (*Session, error) {
	row, err := e.store.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	rows, err := e.store.ListEvents(sessionID)
	if err != nil {
		return nil, err
	}

	session := &Session{
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
		ID:            row.ID,
		ProjectID:     row.ProjectID,
		GoalID:        row.GoalID,
		UISessionID:   row.UISessionID,
		Status:        Status(row.Status),
		StatusMessage: row.StatusMessage,
		Events:        make([]Event, 0, len(rows)),
	}
	for _, r := range rows {
		session.Events = append(session.Events, decodeEvent(r))
	}
	return session, nil
}

// ResumeActive finds the most recent active sessions for a client-held
// UI session id, letting an in-progress run survive a client restart.
// Failures are logged and treated as "no active session".
func (e *Engine) ResumeActive(uiSessionID string, limit int) []*Session {
	if uiSessionID == "" {
		return nil
	}
	rows, err := e.store.ListActiveSessionsByUI(uiSessionID, limit)
	if err != nil {
		e.logger.Warn("session resume for ui session %s failed: %v", uiSessionID, err)
		return nil
	}

	sessions := make([]*Session, 0, len(rows))
	for _, row := range rows {
		snapshot, err := e.StatusSnapshot(row.ID)
		if err != nil {
			e.logger.Warn("failed to load resumed session %s: %v", row.ID, err)
			continue
		}
		sessions = append(sessions, snapshot)
	}
	if len(sessions) > 0 {
		e.logger.Info("resumed %d active session(s) for ui session %s", len(sessions), uiSessionID)
	}
	return sessions
}

func (e *Engine) loadGoal(goalID string) (*goal.Goal, error) {
	if goalID == "" {
		return nil, nil //nolint:nilnil // absent goal is a valid, quiet case
	}
	return e.store.GetGoal(goalID)
}

func (e *Engine) updateStatus(sessionID string, from, to Status, message string) error {
	if err := e.store.UpdateSessionStatus(sessionID, string(to), message); err != nil {
		return err
	}
	e.logger.DebugState("transition", string(to), sessionID)
	metrics.SessionsByStatus.WithLabelValues(string(from)).Dec()
	metrics.SessionsByStatus.WithLabelValues(string(to)).Inc()
	return nil
}

func (e *Engine) appendEvent(sessionID string, eventType EventType, payload EventPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", eventType, err)
	}
	seq, err := e.store.AppendEvent(sessionID, string(eventType), string(body))
	if err != nil {
		return err
	}
	if e.exporter != nil {
		e.exporter.Export(sessionID, Event{Seq: seq, Type: eventType, Payload: payload})
	}
	return nil
}
