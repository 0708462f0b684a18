// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 提供基于 GORM 的数据库连接池管理，支持 SQLite、PostgreSQL
与 MySQL 三种方言，用于对话记录归档。

# 核心类型

  - PoolManager：连接池管理器，持有 GORM DB 与底层 sql.DB，
    提供 DB/Ping/Stats/Close 与事务方法。
  - PoolConfig：最大连接数、空闲连接数、生命周期与健康检查间隔。
  - StatsFunc：健康检查成功后的统计回调，用于上报 Prometheus 指标。

# 主要能力

  - 方言选择：Dialector 按 driver 返回 glebarez/sqlite（纯 Go，无需 CGO）、
    postgres 或 mysql 方言；Open 一步完成打开与池化。
  - 健康检查：后台定时 PingContext，Close 时等待检查协程退出。
  - 事务管理：WithTransaction 单次执行，WithTransactionRetry 对死锁、
    序列化失败与 "database is locked" 指数退避重试。
*/
package database
