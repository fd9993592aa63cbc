/*
Package workflow 提供工作流定义与执行引擎。

# 概述

工作流是有序的步骤列表，在一个共享的运行上下文上依次执行。步骤是封闭的
三种类型：

  - AgentStep：通过注册表查找 Agent 并调用 Submit
  - ConditionStep：对 ${key} 替换后的表达式求值，选择 Then 或 Else 分支
  - ParallelStep：并发执行全部子步骤，等待全部结束后汇总

# 执行语义

Engine.Execute 同步返回终态 Execution。顺序步骤遇到失败立即停止
（fail-fast），并记录失败步骤下标与全部错误；并行步骤收集每个子步骤的
失败原因。Cancel 设置协作式取消标记，在下一个步骤开始前生效，正在进行
的 Agent 调用会正常结束。GetProgress 按 CurrentStep/TotalSteps 返回
百分比，对同一执行单调不减。

终态执行在内存中保留一段时间（WithRetention），配置 WithStore 后同时写入
持久化存储，Get 会依次查找三处。
*/
package workflow
