/*
Package types 提供 GustoBot 全局共享的类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 workflow、llm、rag、kg、
text2sql、agent 与 api 等上层模块提供统一的类型契约，以避免循环依赖。

# 核心类型

  - Message / Role: 对话消息（user / assistant / system / tool，可带图片）
  - RouteType: 路由标签（chat / clarify / kb / kg / text2sql / image / file / reject）
  - RouterDecision: 顶层路由的结构化输出 {type, logic, question}
  - Document: 检索适配器产出的不可变文档（含 tool 来源标记）
  - KGTask: 分派给单个 KG 工具的任务单元
  - Statement: text-to-Cypher / text-to-SQL 状态机中的语句状态
  - SchemaContext: 数据库 schema 检索结果（表、列、外键关系）
  - Error / ErrorCode: 结构化错误体系，含 HTTP 状态码与 Retryable 标记

# 主要能力

  - 路由解析：ParseRoute / RouteType.Valid / AllRoutes
  - 来源去重：DedupSources（保持首次出现顺序）
*/
package types
