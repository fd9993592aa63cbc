/*
Package testutil 提供 Orchestra 测试的共享工具和辅助函数。

# 概述

testutil 包为各包的单元测试提供统一的辅助能力，避免重复实现
相似的测试基础设施。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 异步断言: AssertEventuallyTrue / WaitForChannel
  - 数据工具: MustJSON

# 子包

  - testutil/mocks: MockLogic，可脚本化的 Agent 业务逻辑，支持固定响应、
    错误注入、延迟、第 N 次调用后失败以及调用记录
  - testutil/fixtures: 预置工作流定义与 YAML DSL 样例

# 使用示例

	ctx := testutil.TestContext(t)
	logic := mocks.NewMockLogic().WithResponse("ok").WithFailAfter(2)
	a, _ := agent.New(agent.Identity{Name: "worker"}, logic, zap.NewNop())
	res := a.Submit(ctx, "task", nil)
*/
package testutil
