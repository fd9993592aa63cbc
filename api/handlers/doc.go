/*
Package handlers 提供 Orchestra HTTP API 的请求处理器实现。

# 核心类型

  - HealthHandler    存活、就绪与版本端点，就绪检查可插拔
  - AgentHandler     Agent 列表、详情、直接提交任务、熔断器重置与健康探测
  - WorkflowHandler  从 DSL 提交工作流，查询执行、进度、历史，取消与删除
  - MessageHandler   向通信总线发布消息，查询消息归档，并通过 WebSocket 推送指定接收方的消息
  - StatsHandler     注册表、总线、引擎、消息归档与 Redis 的统计快照
  - Response         统一 JSON 响应结构（success + data + error + timestamp）

运行时各组件的哨兵错误经 ToAPIError 映射为 types.ErrorCode，
再由 types.StatusFor 决定 HTTP 状态码。
*/
package handlers
