/*
包 migration 管理审计表 structflow_attempts 的版本化 Schema，
基于 golang-migrate，支持 PostgreSQL、MySQL 与 SQLite。

各方言的 SQL 文件通过 embed 内嵌在 migrations/<driver>/ 下。
DefaultMigrator 复用 internal/database 打开的连接（SQLite 为纯 Go 的
glebarez 驱动），CLI 为 `structflow migrate` 子命令提供格式化输出。

生产环境建议通过迁移建表；开发环境可以改用 GormExporter 的 AutoMigrate。
*/
package migration
