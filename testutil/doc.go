// Package testutil 是 agent 与 text2sql 测试共用的上下文辅助；
// 各能力接口（ChatModel、Embedder、Retriever、GraphClient）的模拟实现在 mocks 子包。
package testutil
