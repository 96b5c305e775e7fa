// Copyright 2026 infergate Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供 infergate 测试的共享工具和辅助函数。

# 概述

testutil 包为整个项目的单元测试与基准测试提供统一的辅助能力，
避免各包重复实现相似的测试基础设施。所有测试应优先使用此包
中的工具函数和 Mock 实现。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 断言工具: AssertNoError / AssertError
  - 异步断言: AssertEventuallyTrue / AssertEventuallyEqual，
    支持超时轮询等待条件满足
  - 等待工具: WaitFor / WaitForChannel，用于 completion handle
    与并发状态的收敛等待
  - 数据工具: MustJSON / MustParseJSON，简化测试数据构造

# 子包

  - testutil/mocks: Mock 实现，包括 MockInvoker（推理后端），
    支持 Builder 模式、延迟注入、错误注入与调用记录

# 使用示例

	ctx := testutil.TestContext(t)
	inv := mocks.NewMockInvoker().WithDelay(10 * time.Millisecond)
	handle, err := b.Submit(ctx, "completion", "prompt")
	testutil.AssertNoError(t, err)
	_, ok := testutil.WaitForChannel(handle.Done(), time.Second)
*/
package testutil
