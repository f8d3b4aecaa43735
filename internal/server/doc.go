// 版权所有 2025 RelayPool Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 管理 net/http.Server 的完整生命周期：绑定监听、
后台服务、优雅关闭与信号处理。

# 概述

Manager 把监听器、http.Server 与异步错误通道收拢到一处，
调用方只和 Start/StartTLS/Shutdown 三个入口打交道。监听端口
在 Start 时即绑定，Addr 返回实际地址（支持 ":0" 随机端口），
方便测试与多实例部署。

# 核心类型

  - Manager：服务器管理器，Start 后在独立 goroutine 中服务，
    Serve 的非正常退出通过 Errors() 通道上报。
  - Config：监听地址、读写/空闲超时、请求头上限与关闭超时。

# 行为约定

  - Start/StartTLS 只允许调用一次，重复启动返回 ErrAlreadyStarted；
    Shutdown 之后不可重启，再启动返回 ErrClosed。
  - StartTLS 在启动时即加载证书，路径或密钥错误立刻失败，
    TLS 参数套用 tlsutil 的加固配置（TLS 1.2+，仅 AEAD 套件）。
  - Shutdown 幂等，在 ShutdownTimeout 内排空在途请求。
  - WaitForShutdown 阻塞等待 SIGINT/SIGTERM 后触发优雅关闭。
  - IsRunning 仅在已启动且未关闭时为 true。
*/
package server
