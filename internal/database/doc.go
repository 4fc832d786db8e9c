/*
包 database 提供基于 GORM 的数据库连接管理，供尝试审计日志使用。

# 核心类型

  - PoolManager：持有 GORM DB 与底层 sql.DB，提供 Ping、Stats、Close、
    WithTransaction 与 WithTransactionRetry。
  - PoolConfig：连接池参数与健康检查间隔。
  - Open / Dialector：按驱动名（postgres、mysql、sqlite）打开连接，
    SQLite 使用纯 Go 的 glebarez 驱动。
*/
package database
