// Package rag 提供 GustoBot 各检索后端的适配器，统一产出 types.Document：
//
//   - SVClient：结构化向量库 HTTP 检索（POST {query, top_k, threshold}）
//   - PGVectorStore / KnowledgeService：SV 的服务端实现（pgvector 上的 /knowledge/search）
//   - MilvusStore / MVRetriever：语义向量库（Milvus REST v2）
//   - ExternalSearch：外部检索端点，只接受 {results: [...]}
//   - GraphRAGClient：图谱 RAG 服务，支持 naive/local/global/hybrid/mix/bypass 与流式输出
//
// 以及证据格式化（FormatBlocks）与来源去重。
package rag
