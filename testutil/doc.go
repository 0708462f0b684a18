// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供 duochat 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / CancelledContext，自动注册 Cleanup
  - 可控时钟: FakeClock，配合 conversation.WithClock 验证时间限制
  - 异步辅助: AssertEventuallyTrue / WaitFor / WaitForChannel

# 子包

  - testutil/mocks: MockProvider，按调用顺序编排流式片段，
    支持流中途错误、无完成标记、阻塞与调用记录

# 使用示例

	provider := mocks.NewMockProvider().WithFragments("Hello", " world")
	exec := conversation.NewTurnExecutor(provider, zap.NewNop())
	msg, err := exec.RunTurn(testutil.TestContext(t), state, nil)
*/
package testutil
