/*
包 server 提供 HTTP/HTTPS 服务器生命周期管理，支持非阻塞启动、
上下文驱动的优雅关闭与异步错误传播。

# 概述

Manager 封装 net/http.Server。serve 命令为 API 服务与 Prometheus
指标端点各创建一个 Manager，由 Run 在上下文取消（通常来自
signal.NotifyContext）或服务异常退出时统一执行优雅关闭。

# 核心类型

  - Manager：持有 http.Server、net.Listener 与异步错误通道，
    提供 Start/Run/Shutdown 生命周期方法。
  - Config：监听地址、读写超时、空闲超时、最大请求头大小、
    优雅关闭超时，以及可选的 *tls.Config。

# 主要能力

  - 非阻塞启动：Start 在后台 goroutine 中运行服务，配置 TLS 时以 HTTPS 监听。
  - 实际地址：ListenAddr 返回绑定后的地址，便于以 ":0" 启动的测试。
  - 优雅关闭：Shutdown 在配置的超时内完成请求排空与连接释放，可重复调用。
*/
package server
