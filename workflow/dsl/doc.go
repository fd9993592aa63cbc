// Package dsl 提供 YAML/JSON 声明式工作流定义，
// 支持变量默认值、${var} 插值、条件分支与并行分组，
// 解析结果为 workflow.Definition 与初始上下文。
package dsl
