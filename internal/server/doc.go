/*
包 server 提供 HTTP/HTTPS 服务器生命周期管理，支持非阻塞启动、
优雅关闭与系统信号监听。

  - Start/StartTLS：后台运行服务，TLS 配置来自 internal/tlsutil。
  - Shutdown：在 ShutdownTimeout 内排空请求。
  - WaitForShutdown：监听 ctx 与 SIGINT/SIGTERM，随后优雅关闭。
*/
package server
