// Copyright 2025 RelayPool Authors. All rights reserved.
// Use of this source code is governed by the MIT license.

/*
Package testutil 提供 RelayPool 测试的共享工具和辅助函数。

# 概述

testutil 包为集成测试与基准测试提供统一的辅助能力，
避免各测试重复实现相似的基础设施。包级单元测试就近使用
自己的局部辅助；跨包的集成与基准测试优先使用此包。

# 核心能力

  - 上下文辅助: TestContext / CancelledContext，自动注册 Cleanup 防止泄漏
  - 异步断言: AssertEventuallyTrue，支持超时轮询等待条件满足
  - 领域夹具: Account / Group 构造器，带可选项覆盖调度字段
  - TLS 材料: WriteSelfSignedCert 生成自签名证书供 HTTPS 测试使用
*/
package testutil
