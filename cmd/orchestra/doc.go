/*
Package main 提供 Orchestra 服务端程序入口。

# 概述

cmd/orchestra 基于 cobra 组织子命令：serve 启动 HTTP API 与 Metrics 服务，
run 在内存运行时上执行单个工作流 DSL 文件，migrate 管理执行记录表结构，
health 与 version 用于运维探测。

# 核心类型

  - Server：组装运行时、中间件链、API 与 Metrics 双端口及优雅关闭
  - Middleware：HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 中间件链：Recovery、RequestID、SecurityHeaders、OTelTracing、
    MetricsMiddleware、RequestLogger、CORS，以及 JWTAuth + TenantRateLimiter
    或 RateLimiter + APIKeyAuth
  - 内置 Agent：echo、uppercase、sleep、announce
  - 配置热重载：轮询配置文件，日志级别即时生效
  - 优雅关闭：信号 → 结束长连接 → 关闭 HTTP → 关闭 Metrics → 停止运行时
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
