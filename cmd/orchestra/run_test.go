package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/orchestra/workflow"
)

const releaseYAML = `
version: "1"
name: release
variables:
  service:
    type: string
    required: true
  replicas:
    type: int
    default: 1
steps:
  - name: shout
    type: agent
    agent: uppercase
    task: "deploy ${service}"
  - name: scale
    type: condition
    condition: "${replicas} > 2"
    then:
      name: big
      type: agent
      agent: echo
      task: "large rollout"
    else:
      name: small
      type: agent
      agent: echo
      task: "small rollout"
  - name: fan
    type: parallel
    steps:
      - name: wait
        type: agent
        agent: sleep
        task: 1ms
      - name: notify
        type: agent
        agent: announce
        task: "${service} released"
`

func writeWorkflow(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "workflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	err := root.ExecuteContext(t.Context())
	return out.String(), err
}

func TestParseVars(t *testing.T) {
	vars, err := parseVars([]string{"name=bob", "count=3", "ratio=0.5", "on=true", "empty=", "raw=a=b"})
	require.NoError(t, err)
	assert.Equal(t, "bob", vars["name"])
	assert.Equal(t, 3, vars["count"])
	assert.Equal(t, 0.5, vars["ratio"])
	assert.Equal(t, true, vars["on"])
	assert.Equal(t, "", vars["empty"])
	assert.Equal(t, "a=b", vars["raw"])

	_, err = parseVars([]string{"novalue"})
	assert.Error(t, err)
	_, err = parseVars([]string{"=x"})
	assert.Error(t, err)
}

func TestRunCommand(t *testing.T) {
	path := writeWorkflow(t, releaseYAML)

	out, err := execute(t, "run", path, "--var", "service=api", "--var", "replicas=3")
	require.NoError(t, err)

	var exec workflow.Execution
	require.NoError(t, json.Unmarshal([]byte(out), &exec))
	assert.Equal(t, workflow.StatusCompleted, exec.Status)
	assert.Equal(t, "release", exec.Workflow)
	assert.Equal(t, "DEPLOY API", exec.Results["shout"])
	assert.Equal(t, "large rollout", exec.Results["big"])
	assert.NotContains(t, exec.Results, "small")
	assert.Equal(t, "1ms", exec.Results["wait"])
	assert.NotEmpty(t, exec.Results["notify"])
	assert.Equal(t, -1, exec.FailedStep)
}

func TestRunCommand_DefaultsAndCompact(t *testing.T) {
	path := writeWorkflow(t, releaseYAML)

	out, err := execute(t, "run", path, "--var", "service=web", "--compact")
	require.NoError(t, err)
	assert.Equal(t, 1, bytes.Count([]byte(out), []byte("\n")), "compact output is a single line")

	var exec workflow.Execution
	require.NoError(t, json.Unmarshal([]byte(out), &exec))
	assert.Equal(t, "small rollout", exec.Results["small"])
}

func TestRunCommand_MissingVariable(t *testing.T) {
	path := writeWorkflow(t, releaseYAML)

	_, err := execute(t, "run", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"service" is required`)
}

func TestRunCommand_FailedWorkflow(t *testing.T) {
	path := writeWorkflow(t, `
version: "1"
name: broken
steps:
  - name: nap
    type: agent
    agent: sleep
    task: forever
`)

	out, err := execute(t, "run", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "finished with status failed")

	var exec workflow.Execution
	require.NoError(t, json.Unmarshal([]byte(out), &exec))
	assert.Equal(t, workflow.StatusFailed, exec.Status)
	assert.Equal(t, 0, exec.FailedStep)
}

func TestRunCommand_Timeout(t *testing.T) {
	path := writeWorkflow(t, `
version: "1"
name: slow
steps:
  - type: agent
    agent: sleep
    task: 1m
`)

	out, err := execute(t, "run", path, "--timeout", "20ms")
	require.Error(t, err)

	var exec workflow.Execution
	require.NoError(t, json.Unmarshal([]byte(out), &exec))
	assert.Equal(t, workflow.StatusCancelled, exec.Status)
}

func TestRunCommand_InvalidDSL(t *testing.T) {
	path := writeWorkflow(t, "version: \"1\"\nname: nothing\nsteps: []\n")

	_, err := execute(t, "run", path)
	assert.Error(t, err)

	_, err = execute(t, "run", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read workflow")
}
