package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"go.uber.org/zap"

	"github.com/BaSui01/orchestra/agent"
	"github.com/BaSui01/orchestra/agent/collaboration"
	"github.com/BaSui01/orchestra/agent/discovery"
)

// 任意长度、任意失败位置的顺序工作流：观测到的进度单调不减，终态进度与失败位置一致
func TestProperty_ProgressMonotonicity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("progress never decreases", prop.ForAll(
		func(steps, failAt int) bool {
			reg := discovery.NewRegistry(discovery.DefaultRegistryConfig(), zap.NewNop())
			for i := 0; i < steps; i++ {
				name := fmt.Sprintf("agent-%d", i)
				shouldFail := i == failAt
				a, err := agent.New(agent.Identity{Name: name}, agent.LogicFunc(
					func(context.Context, string, map[string]any) (any, error) {
						if shouldFail {
							return nil, errors.New("fail")
						}
						return name, nil
					}), zap.NewNop())
				if err != nil || reg.Register(a) != nil {
					return false
				}
			}

			var (
				mu       sync.Mutex
				observed []float64
				engine   *Engine
			)
			pub := &recordingPublisher{hook: func(m collaboration.Message) {
				id, _ := m.Payload["execution_id"].(string)
				p, err := engine.GetProgress(id)
				if err != nil {
					return
				}
				mu.Lock()
				observed = append(observed, p)
				mu.Unlock()
			}}
			engine = NewEngine(reg, zap.NewNop(), WithPublisher(pub, "progress"))

			def := &Definition{Name: "prop"}
			for i := 0; i < steps; i++ {
				def.Steps = append(def.Steps, &AgentStep{Agent: fmt.Sprintf("agent-%d", i), Task: "t"})
			}
			exec, err := engine.Execute(context.Background(), def, nil)
			if err != nil {
				return false
			}
			final, err := engine.GetProgress(exec.ID)
			if err != nil {
				return false
			}
			observed = append(observed, final)

			for i := 1; i < len(observed); i++ {
				if observed[i] < observed[i-1] {
					return false
				}
			}

			if failAt >= 0 && failAt < steps {
				return exec.Status == StatusFailed &&
					exec.FailedStep == failAt &&
					final == float64(failAt)/float64(steps)*100
			}
			return exec.Status == StatusCompleted && final == 100
		},
		gen.IntRange(1, 6),
		gen.IntRange(-1, 6),
	))

	properties.TestingRun(t)
}
