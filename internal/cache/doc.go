// 版权所有 2025 RelayPool Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 封装 go-redis 客户端，承载调度核心依赖的三类易失状态：
会话粘滞映射、轮询游标与使用量计数。

# 概述

Manager 在构造时即验证 Redis 连通性，之后通过后台探活维持
可观测性。上层的 scheduler Redis 存储只依赖本包暴露的少量
原语（字符串/JSON 读写、批量读取、原子计数），不直接接触
go-redis 客户端。

# 核心类型

  - Manager：客户端包装，Close 之后所有方法返回 ErrClosed。
  - Config：地址、认证、连接池、默认 TTL、TLS 开关与探活间隔。

# 行为约定

  - Get/GetJSON 在键不存在时返回 ErrCacheMiss，用 IsCacheMiss 判别。
  - Set 的 ttl 传 0 时采用 Config.DefaultTTL。
  - Incr 将 INCR 与 EXPIRE 合并为一次 pipeline 往返。
  - MGet 对缺失的键返回 nil 占位，保持与入参等长。
  - TLSEnabled 时套用 tlsutil 的加固配置连接托管 Redis。
*/
package cache
