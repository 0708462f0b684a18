// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 migration 管理归档库（dc_transcripts / dc_transcript_messages）的
版本化 Schema 迁移，基于 golang-migrate，支持 PostgreSQL、MySQL 与 SQLite。

# 概述

各方言的 SQL 迁移文件通过 embed.FS 内嵌在二进制中。默认情况下服务启动时
由 GORM AutoMigrate 建表；生产环境可关闭 database.auto_migrate，改用
duochat migrate 子命令显式执行迁移。两种方式产生的表结构一致。

# 核心类型

  - Migrator：Up/Down/DownAll/Steps/Force/Version/Status/Info/Close。
  - DefaultMigrator：基于 golang-migrate 的实现，Open 按数据库配置
    打开一条独立连接。
  - CLI：终端输出层。
*/
package migration
