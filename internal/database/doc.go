/*
包 database 打开会话库并提供事务辅助。

Open 根据 database 配置段选择 gorm 方言（postgres、mysql 或纯 Go 的 sqlite），
SQL 日志经 zap 输出，慢查询单独告警。InTxRetry 对死锁、序列化失败以及
会话消息并发追加时的唯一约束冲突整体重跑事务；postgres 与 mysql 按错误码判断，
sqlite 按错误文本判断。
*/
package database
