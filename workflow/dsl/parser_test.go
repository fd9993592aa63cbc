package dsl

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/orchestra/agent"
	"github.com/BaSui01/orchestra/agent/discovery"
	"github.com/BaSui01/orchestra/workflow"
)

const reviewYAML = `
version: "1.0"
name: review
description: score and route a document
variables:
  score:
    type: int
    default: 80
  reviewer:
    type: string
    required: true
agents:
  echo:
    description: echoes the task
  strict:
    require_healthy: true
steps:
  - name: intro
    type: agent
    agent: echo
    task: "reviewing for ${reviewer}"
  - name: gate
    type: condition
    condition: "${score} > 50"
    then:
      type: agent
      agent: echo
      task: approved
    else:
      type: agent
      agent: strict
      task: rejected
  - type: parallel
    steps:
      - type: agent
        agent: echo
        task: left
        context:
          side: "${reviewer}-left"
      - type: agent
        agent: echo
        task: right
`

func TestParser_Parse(t *testing.T) {
	def, defaults, err := NewParser().Parse([]byte(reviewYAML))
	require.NoError(t, err)

	assert.Equal(t, "review", def.Name)
	assert.Equal(t, "score and route a document", def.Description)
	assert.Equal(t, map[string]any{"score": 80}, defaults)
	require.Len(t, def.Steps, 3)

	intro, ok := def.Steps[0].(*workflow.AgentStep)
	require.True(t, ok)
	assert.Equal(t, "intro", intro.Name)
	assert.Equal(t, "reviewing for ${reviewer}", intro.Task)

	gate, ok := def.Steps[1].(*workflow.ConditionStep)
	require.True(t, ok)
	assert.Equal(t, "${score} > 50", gate.Expr)
	require.NotNil(t, gate.Then)
	elseStep, ok := gate.Else.(*workflow.AgentStep)
	require.True(t, ok)
	assert.True(t, elseStep.RequireHealthy, "declared agent requirement propagates to steps")

	fan, ok := def.Steps[2].(*workflow.ParallelStep)
	require.True(t, ok)
	require.Len(t, fan.Steps, 2)
	assert.Equal(t, workflow.KindParallel, fan.Kind())
}

func TestParser_ParseJSON(t *testing.T) {
	data := []byte(`{"version":"1","name":"j","steps":[{"type":"agent","agent":"echo","task":"hi"}]}`)
	def, _, err := NewParser().Parse(data)
	require.NoError(t, err)
	require.Len(t, def.Steps, 1)
}

func TestParser_ParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "review.yaml")
	require.NoError(t, os.WriteFile(path, []byte(reviewYAML), 0o600))

	def, _, err := NewParser().ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, "review", def.Name)

	_, _, err = NewParser().ParseFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParser_InvalidYAML(t *testing.T) {
	_, _, err := NewParser().Parse([]byte("steps: [unclosed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse YAML")
}

func TestWorkflowDSL_InitialContext(t *testing.T) {
	doc, err := NewParser().Decode([]byte(reviewYAML))
	require.NoError(t, err)

	_, err = doc.InitialContext(nil)
	assert.ErrorContains(t, err, `variable "reviewer" is required`)

	vars, err := doc.InitialContext(map[string]any{"reviewer": "ada", "score": 10})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"reviewer": "ada", "score": 10}, vars)
}

func TestValidator_Validate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr []string
	}{
		{
			name:    "missing header fields",
			yaml:    `steps: []`,
			wantErr: []string{"version is required", "name is required", "at least one step"},
		},
		{
			name:    "unsupported version",
			yaml:    "version: \"9\"\nname: x\nsteps:\n  - {type: agent, agent: a}",
			wantErr: []string{`unsupported version "9"`},
		},
		{
			name:    "unknown step type",
			yaml:    "version: \"1\"\nname: x\nsteps:\n  - {type: loop}\n  - {agent: a}",
			wantErr: []string{`steps[0]: invalid type "loop"`, "steps[1]: type is required"},
		},
		{
			name:    "agent without name",
			yaml:    "version: \"1\"\nname: x\nsteps:\n  - {type: agent, task: t}",
			wantErr: []string{"agent step requires agent"},
		},
		{
			name:    "undeclared agent",
			yaml:    "version: \"1\"\nname: x\nagents: {a: {}}\nsteps:\n  - {type: agent, agent: b}",
			wantErr: []string{`agent "b" not declared`},
		},
		{
			name:    "bad condition syntax",
			yaml:    "version: \"1\"\nname: x\nsteps:\n  - {type: condition, condition: \"${a} >\"}",
			wantErr: []string{"invalid condition"},
		},
		{
			name:    "empty parallel",
			yaml:    "version: \"1\"\nname: x\nsteps:\n  - {type: parallel}",
			wantErr: []string{"parallel step requires at least one sub-step"},
		},
		{
			name:    "duplicate names across nesting",
			yaml:    "version: \"1\"\nname: x\nsteps:\n  - {name: s, type: agent, agent: a}\n  - {type: parallel, steps: [{name: s, type: agent, agent: a}]}",
			wantErr: []string{`duplicate step name "s"`},
		},
		{
			name:    "variable default type mismatch",
			yaml:    "version: \"1\"\nname: x\nvariables: {n: {type: int, default: abc}, m: {type: blob}}\nsteps:\n  - {type: agent, agent: a}",
			wantErr: []string{"variable n: default abc is not a int", `variable m: invalid type "blob"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := NewParser().Parse([]byte(tt.yaml))
			require.ErrorIs(t, err, ErrInvalidDSL)
			for _, want := range tt.wantErr {
				assert.Contains(t, err.Error(), want)
			}
		})
	}
}

func TestParser_EndToEnd(t *testing.T) {
	reg := discovery.NewRegistry(discovery.DefaultRegistryConfig(), zap.NewNop())
	for _, name := range []string{"echo", "strict"} {
		a, err := agent.New(agent.Identity{Name: name}, agent.LogicFunc(
			func(_ context.Context, task string, _ map[string]any) (any, error) { return task, nil },
		), zap.NewNop())
		require.NoError(t, err)
		require.NoError(t, reg.Register(a))
	}

	parser := NewParser()
	doc, err := parser.Decode([]byte(reviewYAML))
	require.NoError(t, err)
	def, _, err := parser.Build(doc)
	require.NoError(t, err)
	vars, err := doc.InitialContext(map[string]any{"reviewer": "ada"})
	require.NoError(t, err)

	exec, err := workflow.NewEngine(reg, zap.NewNop()).Execute(context.Background(), def, vars)
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusCompleted, exec.Status)
	assert.Equal(t, "reviewing for ada", exec.Results["intro"])
	assert.Equal(t, "approved", exec.Results["gate"])
	subs, ok := exec.Results["step3"].([]workflow.SubResult)
	require.True(t, ok)
	assert.Len(t, subs, 2)
}
