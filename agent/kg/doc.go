// Package kg 实现知识图谱问答子图：
//
//	guardrails → planner → tools(并发: tool_selection → tool) → summarize → final_answer
//
// 每个规划任务独立选择工具：预定义 Cypher 模板、text-to-Cypher、图谱 RAG 或 text-to-SQL。
// 任务并发执行，结果按规划顺序合并。
package kg
