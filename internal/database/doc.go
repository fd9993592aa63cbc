/*
包 database 提供基于 GORM 的数据库连接与连接池管理，支持
postgres、mysql 与 sqlite 三种驱动、后台健康检查与统计信息上报。

# 概述

Open 根据 config.DatabaseConfig 选择 GORM 方言并建立连接；
PoolManager 接管连接池参数、周期性 Ping 与统计上报（例如写入
Prometheus 的 db_connections_open/idle 指标）。工作流执行记录的
SQL 存储后端（persistence.SQLExecutionStore）使用 PoolManager.DB()。

# 核心类型

  - PoolManager：连接池管理器，提供 DB/Ping/Stats/GetStats/Close。
  - PoolConfig：最大打开/空闲连接数、连接生命周期与健康检查间隔。
  - StatsReporter：每次健康检查成功后接收连接池统计的回调。
*/
package database
