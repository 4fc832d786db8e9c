/*
包 cache 封装 go-redis 客户端，为远程 Prompt 注册表提供键值存取。

# 核心类型

  - Manager：持有 Redis 客户端，提供 Get/Set/Delete/Keys 基础操作、
    GetJSON/SetJSON 序列化方法，以及后台健康检查。
  - Config：地址、密码、连接池大小、默认 TTL 与健康检查间隔。

# 错误语义

  - ErrCacheMiss：键不存在，使用 IsCacheMiss 判断。
  - ErrClosed：Close 之后的任何调用。
*/
package cache
