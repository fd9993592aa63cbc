package dsl

import (
	"fmt"
	"regexp"
	"slices"

	"github.com/BaSui01/orchestra/workflow/expr"
)

// Validator DSL 验证器
type Validator struct{}

// NewValidator 创建验证器
func NewValidator() *Validator {
	return &Validator{}
}

var placeholderPattern = regexp.MustCompile(`\$\{[^}]*\}`)

// Validate 验证 DSL 定义，返回全部问题
func (v *Validator) Validate(dsl *WorkflowDSL) []error {
	var errs []error

	// 基础字段验证
	if dsl.Version == "" {
		errs = append(errs, fmt.Errorf("version is required"))
	} else if !slices.Contains(SupportedVersions, dsl.Version) {
		errs = append(errs, fmt.Errorf("unsupported version %q", dsl.Version))
	}
	if dsl.Name == "" {
		errs = append(errs, fmt.Errorf("name is required"))
	}
	if len(dsl.Steps) == 0 {
		errs = append(errs, fmt.Errorf("steps must have at least one step"))
	}

	for name, def := range dsl.Variables {
		errs = append(errs, validateVariable(name, def)...)
	}

	names := make(map[string]bool)
	for i := range dsl.Steps {
		errs = append(errs, v.validateStep(dsl, &dsl.Steps[i], fmt.Sprintf("steps[%d]", i), names)...)
	}
	return errs
}

func validateVariable(name string, def VariableDef) []error {
	var errs []error
	switch def.Type {
	case "", "string", "int", "float", "bool", "list", "map":
	default:
		errs = append(errs, fmt.Errorf("variable %s: invalid type %q", name, def.Type))
		return errs
	}
	if def.Default != nil && def.Type != "" && !matchesType(def.Type, def.Default) {
		errs = append(errs, fmt.Errorf("variable %s: default %v is not a %s", name, def.Default, def.Type))
	}
	return errs
}

func matchesType(typ string, v any) bool {
	switch typ {
	case "string":
		_, ok := v.(string)
		return ok
	case "int":
		_, ok := v.(int)
		return ok
	case "float":
		switch v.(type) {
		case float64, int:
			return true
		}
		return false
	case "bool":
		_, ok := v.(bool)
		return ok
	case "list":
		_, ok := v.([]any)
		return ok
	case "map":
		_, ok := v.(map[string]any)
		return ok
	}
	return true
}

// validateStep 验证单个步骤，递归检查分支与并行子步骤
func (v *Validator) validateStep(dsl *WorkflowDSL, step *StepDef, path string, names map[string]bool) []error {
	var errs []error

	if step.Name != "" {
		if names[step.Name] {
			errs = append(errs, fmt.Errorf("%s: duplicate step name %q", path, step.Name))
		}
		names[step.Name] = true
	}

	switch step.Type {
	case StepTypeAgent:
		if step.Agent == "" {
			errs = append(errs, fmt.Errorf("%s: agent step requires agent", path))
		} else if len(dsl.Agents) > 0 {
			if _, ok := dsl.Agents[step.Agent]; !ok {
				errs = append(errs, fmt.Errorf("%s: agent %q not declared in agents", path, step.Agent))
			}
		}
		if step.Condition != "" || step.Then != nil || step.Else != nil || len(step.Steps) > 0 {
			errs = append(errs, fmt.Errorf("%s: agent step only accepts agent, task, context and require_healthy", path))
		}

	case StepTypeCondition:
		if step.Condition == "" {
			errs = append(errs, fmt.Errorf("%s: condition step requires condition expression", path))
		} else if err := checkExpression(step.Condition); err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid condition: %w", path, err))
		}
		if step.Then != nil {
			errs = append(errs, v.validateStep(dsl, step.Then, path+".then", names)...)
		}
		if step.Else != nil {
			errs = append(errs, v.validateStep(dsl, step.Else, path+".else", names)...)
		}

	case StepTypeParallel:
		if len(step.Steps) == 0 {
			errs = append(errs, fmt.Errorf("%s: parallel step requires at least one sub-step", path))
		}
		for j := range step.Steps {
			errs = append(errs, v.validateStep(dsl, &step.Steps[j], fmt.Sprintf("%s.steps[%d]", path, j), names)...)
		}

	case "":
		errs = append(errs, fmt.Errorf("%s: type is required", path))

	default:
		errs = append(errs, fmt.Errorf("%s: invalid type %q", path, step.Type))
	}

	return errs
}

// checkExpression 用占位值替换 ${...} 后做一次语法检查
func checkExpression(source string) error {
	_, err := expr.Evaluate(placeholderPattern.ReplaceAllString(source, "0"), nil)
	return err
}
