// Package text2sql 实现自然语言到只读 SQL 的状态机：
//
//	schema_retrieval → query_analysis → sql_generation → sql_validation
//	  → (retry → sql_generation | sql_execution) → visualization → answer_formatter
//
// 只有通过校验的 SELECT/WITH 语句才会执行；重试次数有上限；
// 执行错误记录在 ExecutionError 中，不向调用方抛出。
package text2sql
