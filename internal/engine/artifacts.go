package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/roach88/calt/internal/canonical"
	"github.com/roach88/calt/internal/domain"
	"github.com/roach88/calt/internal/tools"
)

// writeArtifacts stores the run's result and the tool's own artifacts under
// artifacts/<run id>/ in the session directory. Contents are redacted before
// they touch disk.
func (e *Engine) writeArtifacts(run domain.Run, outcome tools.Outcome) ([]domain.Artifact, error) {
	red := e.store.Redactor()

	output := outcome.Output
	if output == nil {
		output = map[string]any{}
	}
	redacted, _ := red.Payload(output)
	result, err := canonical.MarshalIndent(redacted)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}

	files := append([]tools.ArtifactData{{
		Name:    run.Tool + ".json",
		Kind:    domain.ArtifactResult,
		Content: result,
	}}, outcome.Artifacts...)

	dir := filepath.Join(e.artifactDir(run.SessionID), run.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact directory: %w", err)
	}

	out := make([]domain.Artifact, 0, len(files))
	seen := make(map[string]bool, len(files))
	for i, f := range files {
		name, err := artifactName(f.Name)
		if err != nil {
			return nil, err
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate artifact name %q", name)
		}
		seen[name] = true

		content := f.Content
		if i > 0 {
			content = []byte(red.Text(string(content)))
		}
		if err := os.WriteFile(filepath.Join(dir, name), content, 0o644); err != nil {
			return nil, fmt.Errorf("write artifact %s: %w", name, err)
		}

		kind := f.Kind
		if kind == "" {
			kind = domain.ArtifactFile
		}
		out = append(out, domain.Artifact{
			ID:          e.ids.Generate(),
			SessionID:   run.SessionID,
			RunID:       run.ID,
			StepID:      run.StepID,
			PlanVersion: run.PlanVersion,
			Name:        name,
			Kind:        kind,
			Path:        filepath.ToSlash(filepath.Join("artifacts", run.ID, name)),
			SHA256:      canonical.ArtifactHash(content),
			Size:        int64(len(content)),
			CreatedAt:   e.clock.Now(),
		})
	}
	return out, nil
}

// artifactName accepts a plain file name; tools cannot place artifacts
// outside their run directory.
func artifactName(name string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("invalid artifact name %q", name)
	}
	return name, nil
}

// ListArtifacts returns the artifacts recorded for a session.
func (e *Engine) ListArtifacts(ctx context.Context, sessionID string) ([]domain.Artifact, error) {
	if _, err := e.store.GetSession(ctx, sessionID); err != nil {
		return nil, internal("get session", err)
	}
	out, err := e.store.ListArtifacts(ctx, sessionID)
	if err != nil {
		return nil, internal("list artifacts", err)
	}
	return out, nil
}

// ReadArtifact returns the stored bytes of one artifact of a session.
func (e *Engine) ReadArtifact(ctx context.Context, sessionID, artifactID string) (domain.Artifact, []byte, error) {
	list, err := e.ListArtifacts(ctx, sessionID)
	if err != nil {
		return domain.Artifact{}, nil, err
	}
	for _, a := range list {
		if a.ID != artifactID {
			continue
		}
		data, err := os.ReadFile(filepath.Join(e.sessionDir(sessionID), filepath.FromSlash(a.Path)))
		if err != nil {
			return domain.Artifact{}, nil, internal("read artifact", err)
		}
		return a, data, nil
	}
	return domain.Artifact{}, nil, domain.NotFound("artifact", artifactID)
}
