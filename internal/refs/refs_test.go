package refs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/calt/internal/domain"
)

func testScope() Scope {
	return Scope{
		Prior: []string{"a", "b"},
		Outputs: Outputs{
			"a": {
				"path":    "notes.txt",
				"content": "hello",
				"x":       map[string]any{"y": 42, "list": []any{1, 2}},
			},
		},
	}
}

func TestResolve_WholeOutput(t *testing.T) {
	got, err := Resolve(map[string]any{"prev": "${steps.a.output}"}, testScope())
	require.NoError(t, err)
	assert.Equal(t, testScope().Outputs["a"], got["prev"])
}

func TestResolve_NestedPathKeepsType(t *testing.T) {
	got, err := Resolve(map[string]any{"n": "${steps.a.output.x.y}"}, testScope())
	require.NoError(t, err)
	assert.Equal(t, 42, got["n"])
}

func TestResolve_Interpolation(t *testing.T) {
	got, err := Resolve(map[string]any{
		"msg": "file ${steps.a.output.path} has ${steps.a.output.x.y} lines",
	}, testScope())
	require.NoError(t, err)
	assert.Equal(t, "file notes.txt has 42 lines", got["msg"])
}

func TestResolve_RecursesThroughMapsAndLists(t *testing.T) {
	in := map[string]any{
		"outer": map[string]any{
			"items": []any{"${steps.a.output.content}", 7, true},
		},
	}
	got, err := Resolve(in, testScope())
	require.NoError(t, err)
	items := got["outer"].(map[string]any)["items"].([]any)
	assert.Equal(t, []any{"hello", 7, true}, items)

	// Input is not mutated.
	assert.Equal(t, "${steps.a.output.content}", in["outer"].(map[string]any)["items"].([]any)[0])
}

func TestResolve_SinglePass(t *testing.T) {
	scope := Scope{
		Prior:   []string{"a"},
		Outputs: Outputs{"a": {"text": "${steps.a.output.text}"}},
	}
	got, err := Resolve(map[string]any{"v": "${steps.a.output.text}"}, scope)
	require.NoError(t, err)
	assert.Equal(t, "${steps.a.output.text}", got["v"], "resolved values are not re-scanned")
}

func TestResolve_Failures(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"absent field", "${steps.a.output.missing}"},
		{"absent nested field", "${steps.a.output.x.z}"},
		{"walk into scalar", "${steps.a.output.path.deeper}"},
		{"array index unsupported", "${steps.a.output.x.list.0}"},
		{"prior step without output", "${steps.b.output}"},
		{"forward or unknown step", "${steps.c.output}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(map[string]any{"v": tt.expr}, testScope())
			require.Error(t, err)
			assert.True(t, domain.Is(err, domain.CodeUnresolvedReference))

			var de *domain.Error
			require.ErrorAs(t, err, &de)
			assert.Equal(t, tt.expr, de.Details["expression"])
		})
	}
}

func TestResolve_NullIsAValue(t *testing.T) {
	scope := Scope{Prior: []string{"a"}, Outputs: Outputs{"a": {"maybe": nil}}}
	got, err := Resolve(map[string]any{"v": "${steps.a.output.maybe}"}, scope)
	require.NoError(t, err)
	v, ok := got["v"]
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestResolve_RedactedValuesFail(t *testing.T) {
	scope := Scope{
		Prior: []string{"a"},
		Outputs: Outputs{"a": {
			"path":    "notes.txt",
			"content": "password: [REDACTED]",
			"auth":    map[string]any{"user": "bob", "api_key": "[REDACTED]"},
		}},
		Redacted: map[string][][]string{"a": {{"content"}, {"auth", "api_key"}}},
	}

	for _, expr := range []string{
		"${steps.a.output}",
		"${steps.a.output.content}",
		"${steps.a.output.auth}",
		"${steps.a.output.auth.api_key}",
		"copy of ${steps.a.output.content}",
	} {
		t.Run(expr, func(t *testing.T) {
			_, err := Resolve(map[string]any{"v": expr}, scope)
			require.Error(t, err)
			assert.True(t, domain.Is(err, domain.CodeUnresolvedReference))
			assert.Contains(t, err.Error(), "value was redacted")
		})
	}

	got, err := Resolve(map[string]any{
		"p": "${steps.a.output.path}",
		"u": "${steps.a.output.auth.user}",
	}, scope)
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", got["p"])
	assert.Equal(t, "bob", got["u"])
}

func TestResolve_NoReferences(t *testing.T) {
	got, err := Resolve(map[string]any{"path": "a.txt", "n": 3}, Scope{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"path": "a.txt", "n": 3}, got)

	got, err = Resolve(nil, Scope{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFind(t *testing.T) {
	found := Find(map[string]any{
		"b": []any{"${steps.s2.output.k}"},
		"a": "x ${steps.s1.output} y",
	})
	require.Len(t, found, 2)
	assert.Equal(t, Ref{Expr: "${steps.s1.output}", StepID: "s1"}, found[0])
	assert.Equal(t, Ref{Expr: "${steps.s2.output.k}", StepID: "s2", Path: []string{"k"}}, found[1])
}
