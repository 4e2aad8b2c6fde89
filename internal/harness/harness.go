package harness

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/roach88/calt/internal/domain"
	"github.com/roach88/calt/internal/engine"
	"github.com/roach88/calt/internal/gate"
	"github.com/roach88/calt/internal/store"
	"github.com/roach88/calt/internal/testutil"
	"github.com/roach88/calt/internal/tools"
)

// origin attributes every harness action.
var origin = engine.Origin{Actor: "harness", Channel: "test"}

// epoch is the fixed clock start for every scenario.
var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// Harness drives one scenario against a real engine.
type Harness struct {
	engine    *engine.Engine
	sessionID string
	logger    *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory database and a temporary
// data root, with a fixed clock and sequential IDs so traces are identical
// across runs. An error means the scenario could not be set up; action and
// assertion mismatches are reported in the result.
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	dataRoot, err := os.MkdirTemp("", "calt-harness-")
	if err != nil {
		return nil, fmt.Errorf("failed to create data root: %w", err)
	}
	defer os.RemoveAll(dataRoot)

	reg, err := tools.NewBuiltinRegistry(tools.BuiltinOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to build tool registry: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng, err := engine.New(st, reg, dataRoot,
		engine.WithClock(testutil.NewFixedClock(epoch, time.Second)),
		engine.WithIDGenerator(testutil.NewSequenceIDs("id")),
		engine.WithProbe(gate.StaticProbe(scenario.Isolated)),
		engine.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	ctx := context.Background()
	if _, err := eng.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start engine: %w", err)
	}

	sess, err := eng.CreateSession(ctx, engine.CreateSessionRequest{
		Goal:          scenario.Session.Goal,
		Mode:          scenario.Session.Mode,
		SafetyProfile: scenario.Session.SafetyProfile,
		Origin:        origin,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	h := &Harness{engine: eng, sessionID: sess.ID, logger: logger}
	if err := h.seed(scenario.Files); err != nil {
		return nil, fmt.Errorf("failed to seed workspace: %w", err)
	}

	result := NewResult()
	for i, a := range scenario.Actions {
		h.execute(ctx, i, a, result)
	}

	if err := h.collect(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to collect final state: %w", err)
	}

	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(errMsg)
	}

	return result, nil
}

func (h *Harness) seed(files map[string]string) error {
	root := h.engine.Workspace(h.sessionID)
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

// execute runs one action and checks it against its expect clause.
func (h *Harness) execute(ctx context.Context, i int, a Action, result *Result) {
	run, err := h.call(ctx, a)

	want := ExpectClause{}
	if a.Expect != nil {
		want = *a.Expect
	}
	label := fmt.Sprintf("actions[%d] %s", i, a.Do)
	if a.Step != "" {
		label += " " + a.Step
	}

	switch {
	case want.Error == "" && err != nil:
		result.AddError(fmt.Sprintf("%s: unexpected error: %v", label, err))
	case want.Error != "" && err == nil:
		result.AddError(fmt.Sprintf("%s: expected error %s, got success", label, want.Error))
	case want.Error != "" && domain.CodeOf(err) != want.Error:
		result.AddError(fmt.Sprintf("%s: expected error %s, got %s: %v", label, want.Error, domain.CodeOf(err), err))
	}

	if want.Run != "" {
		if run == nil {
			result.AddError(fmt.Sprintf("%s: expected a %s run, none was recorded", label, want.Run))
		} else if run.Status != want.Run {
			result.AddError(fmt.Sprintf("%s: expected run %s, got %s", label, want.Run, run.Status))
		}
	}

	if want.Session != "" {
		sess, err := h.engine.GetSession(ctx, h.sessionID)
		switch {
		case err != nil:
			result.AddError(fmt.Sprintf("%s: get session: %v", label, err))
		case sess.Status != want.Session:
			result.AddError(fmt.Sprintf("%s: expected session %s, got %s", label, want.Session, sess.Status))
		}
	}

	h.logger.Info("action completed", "action", i, "do", a.Do, "step", a.Step, "error", err)
}

// call performs the action. The returned run is set when execute recorded one.
func (h *Harness) call(ctx context.Context, a Action) (*domain.Run, error) {
	id := h.sessionID
	switch a.Do {
	case DoImport:
		_, err := h.engine.ImportPlan(ctx, id, []byte(a.Plan), origin)
		return nil, err
	case DoApprovePlan:
		_, err := h.engine.ApprovePlan(ctx, id, a.Version, origin)
		return nil, err
	case DoApproveStep:
		_, err := h.engine.ApproveStep(ctx, id, a.Step, origin)
		return nil, err
	case DoApproveAll:
		if _, err := h.engine.ApprovePlan(ctx, id, a.Version, origin); err != nil {
			return nil, err
		}
		p, err := h.engine.GetPlan(ctx, id, 0)
		if err != nil {
			return nil, err
		}
		for _, st := range p.Steps {
			if _, err := h.engine.ApproveStep(ctx, id, st.ID, origin); err != nil {
				return nil, err
			}
		}
		return nil, nil
	case DoSkip:
		_, err := h.engine.SkipStep(ctx, id, a.Step, origin)
		return nil, err
	case DoExecute:
		res, err := h.engine.ExecuteStep(ctx, engine.ExecuteRequest{
			SessionID:       id,
			StepID:          a.Step,
			ConfirmHighRisk: a.Confirm,
			Origin:          origin,
		})
		if res.Run.ID == "" {
			return nil, err
		}
		return &res.Run, err
	case DoStop:
		_, err := h.engine.StopSession(ctx, id, origin)
		return nil, err
	}
	return nil, fmt.Errorf("unknown action %q", a.Do)
}

// collect records the trace and the final state tables.
func (h *Harness) collect(ctx context.Context, result *Result) error {
	events, err := h.engine.ListEvents(ctx, h.sessionID)
	if err != nil {
		return err
	}
	for _, ev := range events {
		result.AddEvent(ev)
	}

	sess, err := h.engine.GetSession(ctx, h.sessionID)
	if err != nil {
		return err
	}
	result.Session = sess
	result.State[TableSessions] = []map[string]any{{
		"id":             sess.ID,
		"status":         string(sess.Status),
		"mode":           string(sess.Mode),
		"safety_profile": string(sess.SafetyProfile),
		"plan_version":   sess.PlanVersion,
		"needs_replan":   sess.NeedsReplan,
	}}

	if sess.PlanVersion > 0 {
		p, err := h.engine.GetPlan(ctx, h.sessionID, 0)
		if err != nil {
			return err
		}
		for _, st := range p.Steps {
			result.State[TableSteps] = append(result.State[TableSteps], map[string]any{
				"id":           st.ID,
				"tool":         st.Tool,
				"status":       string(st.Status),
				"risk":         string(st.Risk),
				"plan_version": st.PlanVersion,
			})
		}
	}

	runs, err := h.engine.ListRuns(ctx, h.sessionID)
	if err != nil {
		return err
	}
	for _, r := range runs {
		result.State[TableRuns] = append(result.State[TableRuns], map[string]any{
			"id":           r.ID,
			"step_id":      r.StepID,
			"tool":         r.Tool,
			"status":       string(r.Status),
			"error_kind":   r.ErrorKind,
			"plan_version": r.PlanVersion,
			"target":       r.Target,
		})
	}

	root := h.engine.Workspace(h.sessionID)
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		result.State[TableFiles] = append(result.State[TableFiles], map[string]any{
			"path":    filepath.ToSlash(rel),
			"content": string(data),
		})
		return nil
	})
}
