/*
包 metrics 提供基于 Prometheus 的编排运行时指标采集能力，覆盖
HTTP、Agent、注册表健康探测、通信总线、工作流与数据库六个维度。

# 概述

Collector 使用 promauto 将全部指标注册到给定的 Registerer（默认
prometheus.DefaultRegisterer），并按 namespace 隔离。Collector 同时实现
agent.Observer、discovery.Observer、collaboration.Observer 与
workflow.Observer，运行时组件只需通过 WithObserver 选项挂载即可。

# 主要能力

  - HTTP 指标：请求总数、耗时、请求/响应体大小，状态码归类为 2xx/3xx/4xx/5xx。
  - Agent 指标：提交次数（success/failure/rejected）、耗时、尝试次数、
    状态转换计数与熔断器状态 Gauge。
  - 健康探测指标：探测次数、探测耗时与最近健康状态 Gauge。
  - 总线指标：分发消息数、投递次数、处理器 panic 与丢弃消息数，
    以及通过 RegisterQueueDepth 挂载的队列深度 GaugeFunc。
  - 工作流指标：执行次数、执行耗时、按类型统计的步骤结果，
    以及通过 RegisterActiveExecutions 挂载的活跃执行数 GaugeFunc。
  - 数据库指标：活跃/空闲连接数 Gauge 与查询耗时 Histogram。
*/
package metrics
