/*
包 cache 提供 Redis 连接管理与语义轮次缓存。

Manager 持有共享的 go-redis 客户端，负责连接、健康检查与关闭；
SemanticCache 在其上按命名空间（会话 ID）保存问答对：

  - vec:<hash>  问题向量（JSON 数组）
  - resp:<hash> 缓存的回答
  - meta:<hash> created_at / last_access / access_count

hash 为问题文本的 md5。查询时先比对精确 hash，再在命名空间内做余弦相似度扫描，
相似度不低于阈值即命中并刷新 meta。容量超限时按 last_access 最小者淘汰。
*/
package cache
