package dsl

import (
	"errors"
	"fmt"
	"maps"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/orchestra/workflow"
)

// ErrInvalidDSL DSL 未通过校验
var ErrInvalidDSL = errors.New("invalid workflow DSL")

// Parser DSL 解析器
type Parser struct {
	validator *Validator
}

// NewParser 创建 DSL 解析器
func NewParser() *Parser {
	return &Parser{validator: NewValidator()}
}

// ParseFile 从文件解析 DSL
func (p *Parser) ParseFile(filename string) (*workflow.Definition, map[string]any, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, nil, fmt.Errorf("read DSL file: %w", err)
	}
	return p.Parse(data)
}

// Parse 从 YAML（或 JSON）字节解析 DSL，返回定义与变量默认值
func (p *Parser) Parse(data []byte) (*workflow.Definition, map[string]any, error) {
	doc, err := p.Decode(data)
	if err != nil {
		return nil, nil, err
	}
	return p.Build(doc)
}

// Decode 仅反序列化并校验，不构建定义
func (p *Parser) Decode(data []byte) (*WorkflowDSL, error) {
	var doc WorkflowDSL
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	if errs := p.validator.Validate(&doc); len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDSL, errors.Join(errs...))
	}
	return &doc, nil
}

// Build 将已校验的 DSL 转换为工作流定义
func (p *Parser) Build(doc *WorkflowDSL) (*workflow.Definition, map[string]any, error) {
	def := &workflow.Definition{
		Name:        doc.Name,
		Description: doc.Description,
		Steps:       make([]workflow.Step, 0, len(doc.Steps)),
	}
	for i := range doc.Steps {
		step, err := p.buildStep(doc, &doc.Steps[i])
		if err != nil {
			return nil, nil, fmt.Errorf("build steps[%d]: %w", i, err)
		}
		def.Steps = append(def.Steps, step)
	}
	if err := def.Validate(); err != nil {
		return nil, nil, err
	}
	return def, doc.Defaults(), nil
}

func (p *Parser) buildStep(doc *WorkflowDSL, sd *StepDef) (workflow.Step, error) {
	switch sd.Type {
	case StepTypeAgent:
		requireHealthy := sd.RequireHealthy
		if decl, ok := doc.Agents[sd.Agent]; ok && decl.RequireHealthy {
			requireHealthy = true
		}
		return &workflow.AgentStep{
			Name:           sd.Name,
			Agent:          sd.Agent,
			Task:           sd.Task,
			Context:        maps.Clone(sd.Context),
			RequireHealthy: requireHealthy,
		}, nil

	case StepTypeCondition:
		step := &workflow.ConditionStep{Name: sd.Name, Expr: sd.Condition}
		if sd.Then != nil {
			then, err := p.buildStep(doc, sd.Then)
			if err != nil {
				return nil, fmt.Errorf("then: %w", err)
			}
			step.Then = then
		}
		if sd.Else != nil {
			els, err := p.buildStep(doc, sd.Else)
			if err != nil {
				return nil, fmt.Errorf("else: %w", err)
			}
			step.Else = els
		}
		return step, nil

	case StepTypeParallel:
		step := &workflow.ParallelStep{Name: sd.Name, Steps: make([]workflow.Step, 0, len(sd.Steps))}
		for j := range sd.Steps {
			sub, err := p.buildStep(doc, &sd.Steps[j])
			if err != nil {
				return nil, fmt.Errorf("steps[%d]: %w", j, err)
			}
			step.Steps = append(step.Steps, sub)
		}
		return step, nil

	default:
		return nil, fmt.Errorf("unsupported step type %q", sd.Type)
	}
}

// Defaults 返回带默认值的变量
func (d *WorkflowDSL) Defaults() map[string]any {
	vars := make(map[string]any, len(d.Variables))
	for name, def := range d.Variables {
		if def.Default != nil {
			vars[name] = def.Default
		}
	}
	return vars
}

// InitialContext 以默认值为底合并调用方输入，缺少必填变量时报错
func (d *WorkflowDSL) InitialContext(input map[string]any) (map[string]any, error) {
	vars := d.Defaults()
	maps.Copy(vars, input)

	var missing []error
	for name, def := range d.Variables {
		if _, ok := vars[name]; def.Required && !ok {
			missing = append(missing, fmt.Errorf("variable %q is required", name))
		}
	}
	if len(missing) > 0 {
		return nil, errors.Join(missing...)
	}
	return vars, nil
}
