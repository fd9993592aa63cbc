/*
包 cache 提供基于 Redis 的缓存管理能力，支持连接池、健康检查、
JSON 序列化与统计信息采集。

# 概述

Manager 封装 go-redis 客户端，负责连接生命周期管理，包括初始化、
后台健康检查与优雅关闭。注册表的健康记录镜像（discovery.CacheHealthStore）
与 Redis 持久化后端共享同一个 Manager 持有的连接池。

# 核心类型

  - Manager：缓存管理器，提供 Get/Set/Delete/Exists/Expire 等基础操作，
    以及 GetJSON/SetJSON 便捷序列化方法。
  - Config：缓存配置，包含地址、密码、连接池大小、默认 TTL 与健康检查间隔。
  - Stats：从 Redis INFO 解析出的命中、内存与连接统计。

# 错误语义

未命中返回 ErrCacheMiss，可用 IsCacheMiss 判断；关闭后的调用返回 ErrClosed。
*/
package cache
