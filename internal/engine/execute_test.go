package engine

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/calt/internal/domain"
)

const previewApplyPlan = `
title: Update notes
steps:
  - id: preview
    title: Preview the new notes
    tool: write_file_preview
    inputs: {path: notes.txt, content: "new notes\n"}
  - id: apply
    title: Write the new notes
    tool: write_file_apply
    inputs:
      path: notes.txt
      content: "new notes\n"
      preview: "${steps.preview.output}"
`

const applyOnlyPlan = `
steps:
  - id: apply
    title: Write the new notes
    tool: write_file_apply
    inputs: {path: notes.txt, content: "new notes\n"}
`

func TestScenario_HappyPath(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	sess := f.session(t, "", "")
	f.writeFile(t, sess.ID, "notes.txt", "hello")
	f.importPlan(t, sess.ID, readPlan)
	f.approveAll(t, sess.ID)

	res, err := f.execute(sess.ID, "read", false)
	require.NoError(t, err)

	assert.Equal(t, domain.SessionSucceeded, res.Session.Status)
	assert.Equal(t, domain.RunSucceeded, res.Run.Status)
	assert.Equal(t, "hello", res.Run.Output["content"])
	assert.Equal(t, "notes.txt", res.Run.Target)
	assert.Equal(t, domain.StepSucceeded, f.step(t, sess.ID, "read").Status)
	assert.Contains(t, f.eventTypes(t, sess.ID), domain.EventStepExecuted)

	artifacts, err := f.eng.ListArtifacts(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, artifacts, 1, "only the read result")
	assert.Equal(t, domain.ArtifactResult, artifacts[0].Kind)
	assert.Equal(t, "read_file.json", artifacts[0].Name)

	a, data, err := f.eng.ReadArtifact(ctx, sess.ID, artifacts[0].ID)
	require.NoError(t, err)
	assert.Equal(t, artifacts[0], a)
	assert.Contains(t, string(data), `"content": "hello"`)
	assert.EqualValues(t, len(data), a.Size)
}

func TestScenario_ApprovalGating(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	sess := f.session(t, "", "")
	f.writeFile(t, sess.ID, "notes.txt", "hello")
	f.importPlan(t, sess.ID, readPlan)

	_, err := f.execute(sess.ID, "read", false)
	assert.True(t, domain.Is(err, domain.CodeApprovalRequired), "plan not approved: %v", err)

	_, err = f.eng.ApprovePlan(ctx, sess.ID, 1, tester)
	require.NoError(t, err)
	_, err = f.execute(sess.ID, "read", false)
	assert.True(t, domain.Is(err, domain.CodeApprovalRequired), "step not approved: %v", err)

	assert.Equal(t, domain.StepPending, f.step(t, sess.ID, "read").Status)
	assert.Empty(t, f.runs(t, sess.ID))

	rejected, err := f.eng.SearchEvents(ctx, SearchRequest{SessionID: sess.ID, Type: domain.EventStepRejected})
	require.NoError(t, err)
	require.Len(t, rejected, 2)
	assert.Equal(t, string(domain.CodeApprovalRequired), rejected[0].Payload["code"])
	assert.Equal(t, "tester", rejected[0].Actor)
}

func TestScenario_TwoPhaseApply(t *testing.T) {
	f := newFixture(t, true)
	sess := f.session(t, "", "")
	f.writeFile(t, sess.ID, "notes.txt", "old notes\n")
	f.importPlan(t, sess.ID, previewApplyPlan)
	f.approveAll(t, sess.ID)

	res, err := f.execute(sess.ID, "preview", false)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionAwaitingStepApproval, res.Session.Status)
	require.Len(t, res.Artifacts, 2)
	assert.Equal(t, domain.ArtifactDiff, res.Artifacts[1].Kind)

	_, err = f.execute(sess.ID, "apply", false)
	assert.True(t, domain.Is(err, domain.CodeConfirmationRequired), "high risk: %v", err)

	res, err = f.execute(sess.ID, "apply", true)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionSucceeded, res.Session.Status)
	data, err := os.ReadFile(filepath.Join(f.eng.Workspace(sess.ID), "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "new notes\n", string(data))

	// Reverse order on a fresh session.
	other := f.session(t, "", "")
	f.writeFile(t, other.ID, "notes.txt", "old notes\n")
	f.importPlan(t, other.ID, applyOnlyPlan)
	f.approveAll(t, other.ID)

	_, err = f.execute(other.ID, "apply", true)
	assert.True(t, domain.Is(err, domain.CodePreviewRequired), "got %v", err)
	assert.Empty(t, f.runs(t, other.ID))
	data, err = os.ReadFile(filepath.Join(f.eng.Workspace(other.ID), "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "old notes\n", string(data))
}

func TestExecute_DeclaredLowRiskDoesNotSkipConfirmation(t *testing.T) {
	f := newFixture(t, true)
	sess := f.session(t, "", "")
	f.writeFile(t, sess.ID, "notes.txt", "old notes\n")
	f.importPlan(t, sess.ID, `
steps:
  - id: preview
    title: Preview the new notes
    tool: write_file_preview
    inputs: {path: notes.txt, content: "new notes\n"}
  - id: apply
    title: Write the new notes
    tool: write_file_apply
    risk: low
    inputs:
      path: notes.txt
      content: "new notes\n"
      preview: "${steps.preview.output}"
`)
	f.approveAll(t, sess.ID)
	assert.Equal(t, domain.RiskHigh, f.step(t, sess.ID, "apply").Risk)

	_, err := f.execute(sess.ID, "preview", false)
	require.NoError(t, err)
	_, err = f.execute(sess.ID, "apply", false)
	assert.True(t, domain.Is(err, domain.CodeConfirmationRequired), "got %v", err)
	data, err := os.ReadFile(filepath.Join(f.eng.Workspace(sess.ID), "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "old notes\n", string(data))

	_, err = f.execute(sess.ID, "apply", true)
	require.NoError(t, err)
}

func TestScenario_FailureThenReplan(t *testing.T) {
	f := newFixture(t, false)
	sess := f.session(t, "", "")
	f.writeFile(t, sess.ID, "notes.txt", "hello")
	f.importPlan(t, sess.ID, `
steps:
  - {id: read, title: Read, tool: read_file, inputs: {path: missing.txt}}
`)
	f.approveAll(t, sess.ID)

	res, err := f.execute(sess.ID, "read", false)
	assert.True(t, domain.Is(err, domain.CodeToolFailure), "got %v", err)
	assert.Equal(t, domain.RunFailed, res.Run.Status)
	assert.Equal(t, domain.FailureTool, res.Run.ErrorKind)
	assert.Equal(t, domain.SessionFailed, res.Session.Status)
	assert.True(t, res.Session.NeedsReplan)
	assert.Equal(t, domain.StepFailed, f.step(t, sess.ID, "read").Status)

	_, err = f.execute(sess.ID, "read", false)
	assert.True(t, domain.Is(err, domain.CodeSessionHalted), "halted: %v", err)

	res2 := f.importPlan(t, sess.ID, readPlan)
	assert.Equal(t, 2, res2.Plan.Version)
	assert.False(t, res2.Session.NeedsReplan)
	f.approveAll(t, sess.ID)

	res, err = f.execute(sess.ID, "read", false)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionSucceeded, res.Session.Status)
	assert.Equal(t, 2, res.Run.PlanVersion)
	assert.Len(t, f.runs(t, sess.ID), 2)
}

func TestScenario_ProfileDifference(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	run := func(profile domain.SafetyProfile) (domain.Session, error) {
		sess := f.session(t, "", profile)
		f.writeFile(t, sess.ID, "notes.txt", "old notes\n")
		f.importPlan(t, sess.ID, previewApplyPlan)
		f.approveAll(t, sess.ID)
		_, err := f.execute(sess.ID, "preview", false)
		require.NoError(t, err)
		_, err = f.execute(sess.ID, "apply", true)
		return sess, err
	}

	strict, err := run(domain.ProfileStrict)
	assert.True(t, domain.Is(err, domain.CodeIsolationRequired), "strict: %v", err)
	assert.NotContains(t, f.eventTypes(t, strict.ID), domain.EventSafetyWarning)

	dev, err := run(domain.ProfileDev)
	require.NoError(t, err)
	warnings, err := f.eng.SearchEvents(ctx, SearchRequest{SessionID: dev.ID, Type: domain.EventSafetyWarning})
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Summary, "isolation")
}

func TestDevProfile_ApplyNeverSucceedsWithoutPreview(t *testing.T) {
	f := newFixture(t, false)

	sess := f.session(t, "", domain.ProfileDev)
	f.writeFile(t, sess.ID, "notes.txt", "old notes\n")
	f.importPlan(t, sess.ID, applyOnlyPlan)
	f.approveAll(t, sess.ID)

	_, err := f.execute(sess.ID, "apply", false)
	assert.True(t, domain.Is(err, domain.CodePreviewRequired), "got %v", err)
	assert.Empty(t, f.runs(t, sess.ID))
	assert.Equal(t, domain.StepApproved, f.step(t, sess.ID, "apply").Status)

	// A preview run exists but the apply is not pinned to it.
	unpinned := f.session(t, "", domain.ProfileDev)
	f.writeFile(t, unpinned.ID, "notes.txt", "old notes\n")
	f.importPlan(t, unpinned.ID, `
steps:
  - id: preview
    title: Preview the new notes
    tool: write_file_preview
    inputs: {path: notes.txt, content: "new notes\n"}
  - id: apply
    title: Write the new notes
    tool: write_file_apply
    inputs: {path: notes.txt, content: "new notes\n"}
`)
	f.approveAll(t, unpinned.ID)
	_, err = f.execute(unpinned.ID, "preview", false)
	require.NoError(t, err)

	res, err := f.execute(unpinned.ID, "apply", false)
	assert.True(t, domain.Is(err, domain.CodeToolFailure), "got %v", err)
	assert.Equal(t, domain.RunFailed, res.Run.Status)
	assert.Equal(t, domain.SessionFailed, res.Session.Status)

	for _, id := range []string{sess.ID, unpinned.ID} {
		for _, r := range f.runs(t, id) {
			if r.Tool == "write_file_apply" {
				assert.NotEqual(t, domain.RunSucceeded, r.Status)
			}
		}
		data, err := os.ReadFile(filepath.Join(f.eng.Workspace(id), "notes.txt"))
		require.NoError(t, err)
		assert.Equal(t, "old notes\n", string(data))
	}
}

func TestDryRun_NeverMutates(t *testing.T) {
	for _, profile := range []domain.SafetyProfile{domain.ProfileStrict, domain.ProfileDev} {
		t.Run(string(profile), func(t *testing.T) {
			f := newFixture(t, true)
			sess := f.session(t, domain.ModeDryRun, profile)
			f.writeFile(t, sess.ID, "notes.txt", "old notes\n")
			f.importPlan(t, sess.ID, previewApplyPlan)
			f.approveAll(t, sess.ID)

			_, err := f.execute(sess.ID, "preview", false)
			require.NoError(t, err)
			_, err = f.execute(sess.ID, "apply", true)
			assert.True(t, domain.Is(err, domain.CodeDryRunViolation), "got %v", err)
			assert.Len(t, f.runs(t, sess.ID), 1)
		})
	}
}

func TestExecute_OutOfOrder(t *testing.T) {
	f := newFixture(t, false)
	sess := f.session(t, "", "")
	f.importPlan(t, sess.ID, `
steps:
  - {id: a, title: a, tool: echo}
  - {id: b, title: b, tool: echo}
`)
	f.approveAll(t, sess.ID)

	_, err := f.execute(sess.ID, "b", false)
	assert.True(t, domain.Is(err, domain.CodeStateConflict), "got %v", err)

	_, err = f.execute(sess.ID, "a", false)
	require.NoError(t, err)
	_, err = f.execute(sess.ID, "a", false)
	assert.True(t, domain.Is(err, domain.CodeStateConflict), "already succeeded: %v", err)

	_, err = f.execute(sess.ID, "ghost", false)
	assert.True(t, domain.Is(err, domain.CodeNotFound))
}

func TestExecute_ResolvesReferences(t *testing.T) {
	f := newFixture(t, false)
	sess := f.session(t, "", "")
	f.importPlan(t, sess.ID, `
steps:
  - id: a
    title: a
    tool: echo
    inputs: {x: {y: 42}, name: notes}
  - id: b
    title: b
    tool: echo
    inputs: {v: "${steps.a.output.x.y}", label: "file ${steps.a.output.name}.txt"}
`)
	f.approveAll(t, sess.ID)

	_, err := f.execute(sess.ID, "a", false)
	require.NoError(t, err)
	res, err := f.execute(sess.ID, "b", false)
	require.NoError(t, err)
	assert.Equal(t, float64(42), res.Run.Output["v"])
	assert.Equal(t, "file notes.txt", res.Run.Output["label"])
}

func TestExecute_UnresolvedReference(t *testing.T) {
	f := newFixture(t, false)
	sess := f.session(t, "", "")
	f.importPlan(t, sess.ID, `
steps:
  - {id: a, title: a, tool: echo, inputs: {x: 1}}
  - {id: b, title: b, tool: echo, inputs: {v: "${steps.a.output.missing}"}}
`)
	f.approveAll(t, sess.ID)

	_, err := f.execute(sess.ID, "a", false)
	require.NoError(t, err)
	_, err = f.execute(sess.ID, "b", false)
	require.True(t, domain.Is(err, domain.CodeUnresolvedReference), "got %v", err)

	var de *domain.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "${steps.a.output.missing}", de.Details["expression"])
	assert.Equal(t, domain.StepApproved, f.step(t, sess.ID, "b").Status)
	assert.Len(t, f.runs(t, sess.ID), 1)
}

func TestExecute_Timeout(t *testing.T) {
	f := newFixture(t, false)
	sess := f.session(t, "", "")
	f.importPlan(t, sess.ID, "steps:\n  - {id: h, title: h, tool: hang}\n")
	f.approveAll(t, sess.ID)

	res, err := f.execute(sess.ID, "h", false)
	assert.True(t, domain.Is(err, domain.CodeTimeout), "got %v", err)
	assert.Equal(t, domain.FailureTimeout, res.Run.ErrorKind)
	assert.Equal(t, domain.SessionFailed, res.Session.Status)
}

func TestExecute_VerificationFailure(t *testing.T) {
	f := newFixture(t, false)
	sess := f.session(t, "", "")
	f.writeFile(t, sess.ID, "notes.txt", "hello")
	f.importPlan(t, sess.ID, `
steps:
  - id: read
    title: Read
    tool: read_file
    inputs: {path: notes.txt}
    verification: {kind: expr, expression: 'output.content == "nope"'}
`)
	f.approveAll(t, sess.ID)

	res, err := f.execute(sess.ID, "read", false)
	assert.True(t, domain.Is(err, domain.CodeToolFailure), "got %v", err)
	assert.Equal(t, domain.FailureVerification, res.Run.ErrorKind)
	assert.Empty(t, res.Artifacts)
}

func TestExecute_InvalidResolvedInputsFailTheStep(t *testing.T) {
	f := newFixture(t, false)
	sess := f.session(t, "", "")
	f.importPlan(t, sess.ID, `
steps:
  - {id: a, title: a, tool: echo, inputs: {n: 3}}
  - {id: b, title: b, tool: read_file, inputs: {path: "${steps.a.output.n}"}}
`)
	f.approveAll(t, sess.ID)

	_, err := f.execute(sess.ID, "a", false)
	require.NoError(t, err)
	res, err := f.execute(sess.ID, "b", false)
	assert.True(t, domain.Is(err, domain.CodeToolFailure), "got %v", err)
	assert.Contains(t, res.Run.ErrorMessage, "/path")
}

func TestExecute_RedactsSecrets(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	sess := f.session(t, "", "")
	f.importPlan(t, sess.ID, "steps:\n  - {id: a, title: a, tool: echo, inputs: {password: hunter2, note: ok}}\n")
	f.approveAll(t, sess.ID)

	res, err := f.execute(sess.ID, "a", false)
	require.NoError(t, err)
	assert.Equal(t, "[REDACTED]", res.Run.Output["password"])

	_, data, err := f.eng.ReadArtifact(ctx, sess.ID, res.Artifacts[0].ID)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hunter2")

	hits, err := f.eng.SearchEvents(ctx, SearchRequest{SessionID: sess.ID, Text: "hunter2"})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestExecute_RedactedOutputIsNotReferenced(t *testing.T) {
	f := newFixture(t, false)
	sess := f.session(t, "", "")
	f.importPlan(t, sess.ID, `
steps:
  - {id: a, title: a, tool: echo, inputs: {password: hunter2, note: ok}}
  - {id: b, title: b, tool: echo, inputs: {v: "${steps.a.output.note}"}}
  - {id: c, title: c, tool: echo, inputs: {v: "${steps.a.output.password}"}}
`)
	f.approveAll(t, sess.ID)

	res, err := f.execute(sess.ID, "a", false)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"password"}}, res.Run.RedactedPaths)

	res, err = f.execute(sess.ID, "b", false)
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Run.Output["v"])

	_, err = f.execute(sess.ID, "c", false)
	require.Error(t, err)
	assert.True(t, domain.Is(err, domain.CodeUnresolvedReference), "got %v", err)
	assert.Contains(t, err.Error(), "value was redacted")
	assert.Equal(t, domain.StepApproved, f.step(t, sess.ID, "c").Status)
	assert.Len(t, f.runs(t, sess.ID), 2)
}

func TestExecute_ApplyPinnedByHashWhenDiffIsRedacted(t *testing.T) {
	f := newFixture(t, true)
	sess := f.session(t, "", "")
	f.writeFile(t, sess.ID, "app.env", "token=old\n")
	f.importPlan(t, sess.ID, `
steps:
  - id: preview
    title: Preview the env file
    tool: write_file_preview
    inputs: {path: app.env, content: "token=new\n"}
  - id: apply
    title: Write the env file
    tool: write_file_apply
    inputs:
      path: app.env
      content: "token=new\n"
      preview:
        path: "${steps.preview.output.path}"
        new_sha256: "${steps.preview.output.new_sha256}"
`)
	f.approveAll(t, sess.ID)

	res, err := f.execute(sess.ID, "preview", false)
	require.NoError(t, err)
	assert.Contains(t, res.Run.RedactedPaths, []string{"diff"})

	_, err = f.execute(sess.ID, "apply", true)
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(f.eng.Workspace(sess.ID), "app.env"))
	require.NoError(t, err)
	assert.Equal(t, "token=new\n", string(data))
}

func TestExecute_ConcurrentCallsRunOnce(t *testing.T) {
	f := newFixture(t, false)
	sess := f.session(t, "", "")
	f.importPlan(t, sess.ID, "steps:\n  - {id: s, title: s, tool: slow}\n")
	f.approveAll(t, sess.ID)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.execute(sess.ID, "s", false)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, domain.Is(err, domain.CodeStateConflict), "got %v", err)
	}
	assert.Equal(t, 1, succeeded)
	assert.Len(t, f.runs(t, sess.ID), 1)
	assert.Empty(t, f.eng.locks, "released session locks are dropped")
}

func TestLock_EntriesDroppedAfterUse(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	for range 3 {
		sess := f.session(t, "", "")
		f.importPlan(t, sess.ID, "steps:\n  - {id: s, title: s, tool: echo}\n")
		f.approveAll(t, sess.ID)
		_, err := f.execute(sess.ID, "s", false)
		require.NoError(t, err)
		_, err = f.eng.ApproveStep(ctx, sess.ID, "s", tester)
		assert.Error(t, err, "rejected calls release their lock too")
	}
	assert.Empty(t, f.eng.locks)

	unlock := f.eng.lock("held")
	assert.Len(t, f.eng.locks, 1)
	unlock()
	assert.Empty(t, f.eng.locks)
}

func TestStop_DuringExecutionKeepsSessionCancelled(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	sess := f.session(t, "", "")
	f.importPlan(t, sess.ID, "steps:\n  - {id: s, title: s, tool: slow}\n  - {id: t, title: t, tool: echo}\n")
	f.approveAll(t, sess.ID)

	done := make(chan ExecuteResult, 1)
	go func() {
		res, _ := f.execute(sess.ID, "s", false)
		done <- res
	}()
	require.Eventually(t, func() bool {
		got, err := f.eng.GetSession(ctx, sess.ID)
		return err == nil && got.Status == domain.SessionRunning
	}, time.Second, 5*time.Millisecond)

	_, err := f.eng.StopSession(ctx, sess.ID, tester)
	require.NoError(t, err)

	res := <-done
	assert.Equal(t, domain.RunSucceeded, res.Run.Status, "the in-flight call is not aborted")
	assert.Equal(t, domain.SessionCancelled, res.Session.Status)

	_, err = f.execute(sess.ID, "t", false)
	assert.True(t, domain.Is(err, domain.CodeSessionHalted))
}

func TestReadOnlyQueriesAreIdempotent(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	sess := f.session(t, "", "")
	f.writeFile(t, sess.ID, "notes.txt", "hello")
	f.importPlan(t, sess.ID, readPlan)
	f.approveAll(t, sess.ID)
	_, err := f.execute(sess.ID, "read", false)
	require.NoError(t, err)

	search := SearchRequest{SessionID: sess.ID, Text: "read"}
	first, err := f.eng.SearchEvents(ctx, search)
	require.NoError(t, err)
	second, err := f.eng.SearchEvents(ctx, search)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	a1, err := f.eng.ListArtifacts(ctx, sess.ID)
	require.NoError(t, err)
	a2, err := f.eng.ListArtifacts(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, a1, a2)

	s1, err := f.eng.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	s2, err := f.eng.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, s1, s2)
}

func TestReports(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	sess := f.session(t, "", "")
	f.importPlan(t, sess.ID, "steps:\n  - {id: a, title: a, tool: read_file, inputs: {path: missing.txt}}\n")
	f.approveAll(t, sess.ID)
	_, _ = f.execute(sess.ID, "a", false)

	r, err := f.eng.Reports(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, r.SuccessRates, 1)
	assert.Equal(t, "read_file", r.SuccessRates[0].Tool)
	assert.Zero(t, r.SuccessRates[0].Succeeded)
	require.Len(t, r.FailureReasons, 1)
	assert.Equal(t, domain.FailureTool, r.FailureReasons[0].Kind)

	_, err = f.eng.Reports(ctx, "ghost")
	assert.True(t, domain.Is(err, domain.CodeNotFound))
}

func TestSearchEvents_Validates(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	_, err := f.eng.SearchEvents(ctx, SearchRequest{SessionID: "ghost"})
	assert.True(t, domain.Is(err, domain.CodeNotFound))

	sess := f.session(t, "", "")
	_, err = f.eng.SearchEvents(ctx, SearchRequest{SessionID: sess.ID, Limit: -1})
	assert.True(t, domain.Is(err, domain.CodeInvalidInput))
	require.NoError(t, f.eng.RebuildSearchIndex(ctx))
}
