// 版权所有 2025 RelayPool Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 migration 管理调度器的数据库 Schema 版本。底层使用 golang-migrate，
迁移脚本按 PostgreSQL、MySQL、SQLite 三种方言分目录经 embed.FS 内嵌，
二进制不依赖外部 SQL 文件即可完成建库与升级。

# 迁移模型

每个版本由一对 up/down 脚本组成，文件名形如 000001_init_schema.up.sql。
Migrator 接口暴露 Up、Down、DownAll、Goto、Force、Version、Status、Info
操作；DefaultMigrator 是唯一实现，持有 golang-migrate 实例并管理底层
连接的生命周期。Force 只改写版本记录不执行脚本，用于迁移失败后清除
dirty 状态。

SQLite 走纯 Go 的 glebarez 驱动，与 internal/database 的 GORM 层共用
同一实现，免 cgo。

# 入口

  - NewMigratorFromDatabaseConfig：从应用的 config.DatabaseConfig 构建
    迁移器，Driver 字段经 ParseDatabaseType 归一化。
  - NewMigratorFromURL：接受命令行直接传入的连接 URL。
  - BuildDatabaseURL：按方言拼接 golang-migrate 认识的连接串。
  - CLI：包装 Migrator，为 migrate 子命令输出人类可读的结果
    （RunUp/RunDown/RunStatus/RunVersion 等）。
*/
package migration
