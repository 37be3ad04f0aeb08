/*
包 rerank 提供统一的文档重排序接入层，支持多服务商适配与分数融合。

# 概述

本包屏蔽不同重排序服务商在接口协议与评分语义上的差异，对上层暴露
一致的 Provider 接口；Reranker 在其之上把检索得到的 types.Document
重新排序并写回 rerank_score。

每个适配器：(a) 把文档映射为服务商请求体；(b) 以超时发起一次 HTTP
请求，遇到 429 时按指数退避重试；(c) 把结果按原始下标映射回文档。

# 核心接口

  - Provider：Rerank(ctx, req) → 按相关性排序的结果（原始下标 + 分数）
  - Reranker：Rerank(ctx, query, docs, topN) → 带 rerank_score 的文档
  - ZScoreFuse：alpha·sim_z + (1-alpha)·rerank_z 融合并重排

# 服务商

  - custom：自建服务，POST {query, documents, top_n}
  - cohere：Cohere Rerank v2 API
  - jina：Jina AI Reranker API，支持多语言模型
  - voyage：Voyage AI Rerank API
*/
package rerank
