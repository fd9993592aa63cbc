// Package config 提供 Orchestra 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量 的优先级加载，
// Reloader 在配置文件变更后重新加载并通知订阅方。
package config
