/*
Package agent 实现受熔断器保护的 Agent 执行单元。

# 概述

每个 Agent 包装一段不透明的领域逻辑（Logic），并维护自己的运行时状态：
生命周期状态、连续失败计数、最后失败时间以及熔断标志。熔断器按 Agent
独立维护，一个不可靠的后端不会拖垮其他 Agent。

# 状态机

	Idle → Processing → {Completed | Failed} → Idle

熔断标志与生命周期状态正交：连续失败达到阈值后由 Closed 变为 Open，
只能通过 ResetBreaker 显式恢复，单次成功不会关闭已打开的熔断器。

# 调用约定

Submit 永远返回 TaskResult，不会向调用方传播 panic 或错误：
超时、panic 与普通错误走同一套失败记账流程。熔断器打开时 Submit
立即返回带 ErrBreakerOpen 的失败结果，不会调用底层逻辑。
*/
package agent
