// Package tlsutil 提供集中式 TLS 配置，
// 为 HTTP 服务端监听与 health 命令使用的 HTTP 客户端提供安全加固的 TLS 设置（TLS 1.2+，仅 AEAD 密码套件）。
package tlsutil
