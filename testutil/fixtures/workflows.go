// Package fixtures 提供预置的工作流定义与 DSL 样例。
package fixtures

import (
	"fmt"

	"github.com/BaSui01/orchestra/workflow"
)

// SingleStep 单个 Agent 步骤
func SingleStep(agentName, task string) *workflow.Definition {
	return workflow.NewDefinition("single",
		&workflow.AgentStep{Name: "only", Agent: agentName, Task: task},
	)
}

// Pipeline 顺序执行的多个 Agent 步骤，步骤名为 step-1..step-n
func Pipeline(agentName string, tasks ...string) *workflow.Definition {
	steps := make([]workflow.Step, 0, len(tasks))
	for i, task := range tasks {
		steps = append(steps, &workflow.AgentStep{
			Name:  fmt.Sprintf("step-%d", i+1),
			Agent: agentName,
			Task:  task,
		})
	}
	return workflow.NewDefinition("pipeline", steps...)
}

// Gate 条件分支：expr 为真走 then，否则走 else
func Gate(agentName, expr string) *workflow.Definition {
	return workflow.NewDefinition("gate",
		&workflow.ConditionStep{
			Name: "gate",
			Expr: expr,
			Then: &workflow.AgentStep{Name: "then", Agent: agentName, Task: "approved"},
			Else: &workflow.AgentStep{Name: "else", Agent: agentName, Task: "rejected"},
		},
	)
}

// FanOut 先执行 intro，再并发执行 left / right
func FanOut(agentName string) *workflow.Definition {
	return workflow.NewDefinition("fan-out",
		&workflow.AgentStep{Name: "intro", Agent: agentName, Task: "start"},
		&workflow.ParallelStep{Name: "fan", Steps: []workflow.Step{
			&workflow.AgentStep{Name: "left", Agent: agentName, Task: "left"},
			&workflow.AgentStep{Name: "right", Agent: agentName, Task: "right"},
		}},
	)
}

// ReleaseYAML 含变量、条件与并行步骤的 DSL，使用 echo agent
const ReleaseYAML = `
version: "1"
name: release
variables:
  service:
    type: string
    required: true
  replicas:
    type: int
    default: 1
agents:
  echo:
    description: echoes the task
steps:
  - name: announce
    type: agent
    agent: echo
    task: "releasing ${service}"
  - name: scale
    type: condition
    condition: "${replicas} > 2"
    then:
      name: wide
      type: agent
      agent: echo
      task: wide
    else:
      name: narrow
      type: agent
      agent: echo
      task: narrow
  - name: verify
    type: parallel
    steps:
      - name: smoke
        type: agent
        agent: echo
        task: smoke
      - name: metrics
        type: agent
        agent: echo
        task: metrics
`
