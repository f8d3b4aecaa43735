// Package scheduler 实现统一账户调度：在每次中继请求之前，
// 从上游账户池中挑选承载本次调用的账户。
//
// 调度决策依次经过：专属绑定短路 → 会话亲和短路 → 候选账户解析
// （共享池或分组）→ 优先级分层 + 策略排序 → 取首个账户。
// 支持六种调度策略（round_robin、least_used、least_recent、random、
// weighted_random、sequential），限流冷却排除，以及模型支持过滤。
//
// 跨请求协调完全依赖外部存储的按键原子性（SQL 存储账户与分组，
// Redis 存储会话映射、策略游标与使用计数），进程内不持有跨请求锁。
package scheduler
