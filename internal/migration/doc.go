/*
包 migration 提供数据库 Schema 迁移管理能力，支持 PostgreSQL、
MySQL 与 SQLite 三种数据库，基于 golang-migrate 实现。

# 概述

本包通过 embed.FS 内嵌各方言的 SQL 迁移文件（工作流执行记录表
workflow_executions 及其索引），结合 golang-migrate 引擎实现版本化的
Schema 变更管理。SQLite 使用纯 Go 的 modernc.org/sqlite 驱动。

# 核心接口与类型

  - Migrator：迁移器接口，定义 Up/Down/DownAll/Steps/Force/
    Version/Status/Info/Close 操作集。
  - DefaultMigrator：Migrator 的默认实现，封装 golang-migrate 实例。
  - Config：数据库类型、连接 URL、可选的外部迁移目录、迁移表名与锁超时。
  - CLI：为 orchestra migrate 子命令提供格式化输出。
*/
package migration
