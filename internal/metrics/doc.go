/*
包 metrics 提供基于 Prometheus 的 broker 指标采集能力，覆盖
队列、准入、批量、后端与熔断器五个维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
注册机制并支持注入自定义 Registerer（测试隔离）。所有指标按
namespace 隔离，按工作负载类（class）label 分组。

# 主要能力

  - 队列/准入指标：排队数、在途数 Gauge 与排队等待耗时直方图，
    与状态转换同步更新，无最终一致性延迟。
  - 结局指标：提交总数与按 outcome 分组的终态计数
    （success / queue_full / timed_out / cancelled /
    backend_error / backend_unavailable）。
  - 批量指标：当前窗口成员数 Gauge 与已派发批次大小直方图。
  - 后端指标：按 class/status 分组的调用耗时直方图。
  - 熔断器指标：状态 Gauge（0=closed, 1=open, 2=half-open）。

所有记录方法对 nil 接收者安全，未注入收集器时为无操作。
*/
package metrics
