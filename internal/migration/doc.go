/*
包 migration 基于 golang-migrate 管理会话库的 Schema 版本。

迁移文件以 embed.FS 内嵌，按方言分目录：

  - 000001_init_sessions：sessions、messages（(session_id, order_index) 唯一）、history_snapshots
  - 000002_searchable_documents（仅 postgres）：pgvector 向量列、HNSW 索引与 metadata GIN 索引，
    即 /knowledge/search 读取的 SV 表

方言差异（database/sql 驱动、迁移目录、golang-migrate 驱动）集中在 dialects 表中；
SQLite 通过 glebarez/go-sqlite 打开，golang-migrate 的日志转入 zap。

DefaultMigrator 提供 Up/Down/Force/Version/Status，CLI 负责终端输出，
由 `gustobot migrate up|down|status|version|force` 调用。database.auto_migrate
开启时 `gustobot serve` 在建立连接池前调用 EnsureSchema。
*/
package migration
