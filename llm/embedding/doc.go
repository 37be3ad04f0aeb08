// Package embedding 提供文本向量化能力（Embedder），用于语义缓存、SV/MV 检索的查询向量。
//
// OpenAIEmbedder 通过 go-openai 访问任意 OpenAI 兼容的 /embeddings 端点，
// 按批次请求并校验返回维度；维度不一致视为完整性错误（ErrIntegrity），不重试。
package embedding
