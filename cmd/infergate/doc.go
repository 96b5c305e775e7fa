// Copyright (c) infergate Authors.
// Licensed under the MIT License.

/*
Package main 提供 infergate 服务端程序入口。

# 概述

cmd/infergate 是推理请求代理的可执行入口，提供 HTTP API 服务、
健康检查和版本查询等子命令。程序支持 YAML 配置文件加载、
结构化日志（zap）、Prometheus 指标采集与 OpenTelemetry 遥测。

# 核心类型

  - Server        — 主服务器，管理 HTTP 服务、broker 与优雅关闭
  - BrokerHandler — /v1/requests、/v1/snapshot 等端点的处理器
  - Middleware    — HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve（启动服务）、version、health
  - 中间件链：Recovery、RequestID、RequestLogger、
    MetricsMiddleware、RateLimiter（基于 IP）
  - 代理 API：提交请求并同步等待、取消请求、状态快照
  - 优雅关闭：信号监听 → 关闭 HTTP → 关闭 broker → 关闭遥测
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
