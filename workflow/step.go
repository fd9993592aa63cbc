package workflow

import (
	"errors"
	"fmt"
	"strconv"
)

// StepKind 步骤类型
type StepKind string

const (
	KindAgent     StepKind = "agent"
	KindCondition StepKind = "condition"
	KindParallel  StepKind = "parallel"
)

// Step 工作流步骤，仅限 AgentStep、ConditionStep、ParallelStep 三种实现
type Step interface {
	// StepName 返回显式配置的名称，可为空
	StepName() string
	// Kind 返回步骤类型
	Kind() StepKind

	isStep()
}

// AgentStep 调用注册表中的一个 Agent
type AgentStep struct {
	Name  string `json:"name,omitempty" yaml:"name,omitempty"`
	Agent string `json:"agent" yaml:"agent"`
	Task  string `json:"task" yaml:"task"`
	// Context 覆盖运行上下文中的同名键，字符串值支持 ${key} 替换
	Context map[string]any `json:"context,omitempty" yaml:"context,omitempty"`
	// RequireHealthy 为 true 时拒绝调用最近一次探测不健康的 Agent
	RequireHealthy bool `json:"require_healthy,omitempty" yaml:"require_healthy,omitempty"`
}

// ConditionStep 按表达式结果选择分支
type ConditionStep struct {
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	Expr string `json:"expr" yaml:"expr"`
	Then Step   `json:"-" yaml:"-"`
	Else Step   `json:"-" yaml:"-"`
}

// ParallelStep 并发执行全部子步骤，全部成功才算成功
type ParallelStep struct {
	Name  string `json:"name,omitempty" yaml:"name,omitempty"`
	Steps []Step `json:"-" yaml:"-"`
}

func (s *AgentStep) StepName() string     { return s.Name }
func (s *ConditionStep) StepName() string { return s.Name }
func (s *ParallelStep) StepName() string  { return s.Name }

func (s *AgentStep) Kind() StepKind     { return KindAgent }
func (s *ConditionStep) Kind() StepKind { return KindCondition }
func (s *ParallelStep) Kind() StepKind  { return KindParallel }

func (*AgentStep) isStep()     {}
func (*ConditionStep) isStep() {}
func (*ParallelStep) isStep()  {}

// Definition 工作流定义，执行期间只读
type Definition struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Steps       []Step `json:"-" yaml:"-"`
}

// NewDefinition 创建工作流定义
func NewDefinition(name string, steps ...Step) *Definition {
	return &Definition{Name: name, Steps: steps}
}

// Validate 检查定义的结构，返回所有发现的问题
func (d *Definition) Validate() error {
	if d == nil {
		return fmt.Errorf("%w: definition is nil", ErrInvalidDefinition)
	}

	v := &validator{names: make(map[string]struct{})}
	for i, step := range d.Steps {
		v.check(step, "steps["+strconv.Itoa(i)+"]")
	}
	if len(v.errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidDefinition, errors.Join(v.errs...))
}

type validator struct {
	names map[string]struct{}
	errs  []error
}

func (v *validator) check(step Step, path string) {
	if step == nil || isNilStep(step) {
		v.errs = append(v.errs, fmt.Errorf("%s: step is nil", path))
		return
	}

	if name := step.StepName(); name != "" {
		if _, dup := v.names[name]; dup {
			v.errs = append(v.errs, fmt.Errorf("%s: duplicate step name %q", path, name))
		}
		v.names[name] = struct{}{}
	}

	switch s := step.(type) {
	case *AgentStep:
		if s.Agent == "" {
			v.errs = append(v.errs, fmt.Errorf("%s: agent name is required", path))
		}
	case *ConditionStep:
		if s.Expr == "" {
			v.errs = append(v.errs, fmt.Errorf("%s: condition expression is required", path))
		}
		if s.Then != nil {
			v.check(s.Then, path+".then")
		}
		if s.Else != nil {
			v.check(s.Else, path+".else")
		}
	case *ParallelStep:
		if len(s.Steps) == 0 {
			v.errs = append(v.errs, fmt.Errorf("%s: parallel step has no sub-steps", path))
		}
		for j, sub := range s.Steps {
			v.check(sub, path+".steps["+strconv.Itoa(j)+"]")
		}
	}
}

// isNilStep 识别包装了 nil 指针的接口值
func isNilStep(step Step) bool {
	switch s := step.(type) {
	case *AgentStep:
		return s == nil
	case *ConditionStep:
		return s == nil
	case *ParallelStep:
		return s == nil
	}
	return false
}

// topLevelName 返回顶层步骤的有效名称（step1、step2 ...）
func topLevelName(step Step, index int) string {
	if name := step.StepName(); name != "" {
		return name
	}
	return "step" + strconv.Itoa(index+1)
}

// childName 返回嵌套步骤的有效名称
func childName(step Step, parent, suffix string) string {
	if name := step.StepName(); name != "" {
		return name
	}
	return parent + "." + suffix
}
