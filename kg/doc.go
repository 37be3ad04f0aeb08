// Package kg 是知识图谱（Neo4j）适配器：以只读会话执行参数化 Cypher，
// 把节点、关系、路径转换为普通 map，并提供 text-to-Cypher 所需的只读校验与 EXPLAIN 预检。
package kg
