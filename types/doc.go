/*
Package types 提供 infergate 最底层的公共类型定义。

types 不依赖任何内部包，为 broker、backend、circuitbreaker 等上层模块
提供统一的错误码契约，以避免循环依赖。

# 错误码

所有经 completion handle 交付给调用方的终态错误均为 *types.Error，
Code 取值覆盖排队失败（QUEUE_FULL）、等待超时（TIMED_OUT）、主动取消
（CANCELLED）、后端失败（BACKEND_ERROR）、熔断拒绝（BACKEND_UNAVAILABLE）
以及生命周期错误（BROKER_CLOSED、UNKNOWN_CLASS）。

# 使用示例

	res, err := handle.Wait(ctx)
	if types.GetErrorCode(err) == types.ErrQueueFull {
	    // 退避后重试
	}
*/
package types
