// 版权所有 2025 RelayPool Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 建立并管理账号与分组持久化所用的 GORM 连接。

# 概述

Open 按 driver 构建 postgres/mysql/sqlite 方言连接，其中 sqlite
走纯 Go 的 glebarez 实现，与迁移层共用同一驱动。PoolManager 在
连接之上应用 database/sql 的连接池参数，后台定时探活并输出
连接数诊断。事务语义由存储层（scheduler.GormStore）自行承担，
本包不做包装。

# 核心类型

  - PoolManager：持有 GORM DB 与底层 sql.DB，提供 DB/Ping/
    Stats/GetStats/Close，关闭后方法返回 ErrPoolClosed。
  - PoolConfig：最大空闲/打开连接数、连接生命周期、空闲超时
    与健康检查间隔，Validate 校验取值关系。
  - PoolStats：对外 JSON 友好的连接池统计，统计端点直接复用。
*/
package database
