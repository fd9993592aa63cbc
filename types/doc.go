/*
Package types 提供 orchestra 运行时的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 agent、workflow、
cmd 等上层模块提供统一的错误码与 Context 传播工具，以避免循环依赖。

# 主要能力

  - Error / ErrorCode：结构化错误体系，含 HTTP 状态码与 Retryable 标记
  - Context 传播：WithTraceID / WithTenantID / WithUserID / WithExecutionID
*/
package types
