// Package kb 实现知识库问答子图：
// guardrails → kb_router → (local_search | external_search) → finalize。
//
// 本地检索遵循 SV 优先策略：SV 过滤后非空则不再查询 MV；
// 两者都为空时提升为外部检索。每轮最多调用一次外部检索。
package kb
