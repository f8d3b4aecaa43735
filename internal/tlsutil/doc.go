// Package tlsutil 提供集中式 TLS 配置，覆盖对外 HTTPS 服务、
// 健康探测客户端与 Redis 连接三处（TLS 1.2+，仅 AEAD 密码套件，优先 X25519）。
package tlsutil
