package dsl

// SupportedVersions DSL 可接受的版本号
var SupportedVersions = []string{"1", "1.0"}

// WorkflowDSL 工作流 DSL 顶层结构
type WorkflowDSL struct {
	// Version DSL 版本
	Version string `yaml:"version" json:"version"`
	// Name 工作流名称
	Name string `yaml:"name" json:"name"`
	// Description 工作流描述
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Variables 变量定义，默认值合并进初始上下文
	Variables map[string]VariableDef `yaml:"variables,omitempty" json:"variables,omitempty"`

	// Agents 声明引用的 Agent，非空时 agent 步骤只能引用已声明的名称
	Agents map[string]AgentDef `yaml:"agents,omitempty" json:"agents,omitempty"`

	// Steps 顺序执行的步骤
	Steps []StepDef `yaml:"steps" json:"steps"`

	// Metadata 元数据
	Metadata map[string]any `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// VariableDef 变量定义
type VariableDef struct {
	Type        string `yaml:"type" json:"type"`                                   // string, int, float, bool, list, map
	Default     any    `yaml:"default,omitempty" json:"default,omitempty"`         // 默认值
	Description string `yaml:"description,omitempty" json:"description,omitempty"` // 描述
	Required    bool   `yaml:"required,omitempty" json:"required,omitempty"`       // 是否必填
}

// AgentDef Agent 声明
type AgentDef struct {
	Description    string   `yaml:"description,omitempty" json:"description,omitempty"`
	Capabilities   []string `yaml:"capabilities,omitempty" json:"capabilities,omitempty"`
	RequireHealthy bool     `yaml:"require_healthy,omitempty" json:"require_healthy,omitempty"` // 引用它的步骤默认要求健康
}

// 步骤类型
const (
	StepTypeAgent     = "agent"
	StepTypeCondition = "condition"
	StepTypeParallel  = "parallel"
)

// StepDef 步骤定义
type StepDef struct {
	Name string `yaml:"name,omitempty" json:"name,omitempty"`
	Type string `yaml:"type" json:"type"` // agent, condition, parallel

	// agent
	Agent          string         `yaml:"agent,omitempty" json:"agent,omitempty"`
	Task           string         `yaml:"task,omitempty" json:"task,omitempty"` // 支持 ${variable} 插值
	Context        map[string]any `yaml:"context,omitempty" json:"context,omitempty"`
	RequireHealthy bool           `yaml:"require_healthy,omitempty" json:"require_healthy,omitempty"`

	// condition
	Condition string   `yaml:"condition,omitempty" json:"condition,omitempty"`
	Then      *StepDef `yaml:"then,omitempty" json:"then,omitempty"`
	Else      *StepDef `yaml:"else,omitempty" json:"else,omitempty"`

	// parallel
	Steps []StepDef `yaml:"steps,omitempty" json:"steps,omitempty"`
}
