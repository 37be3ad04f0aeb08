/*
Package workflow 提供编译型状态图执行引擎，是 GustoBot 各子工作流的运行时基础。

# 概述

一个工作流由若干节点（NodeFunc：状态 → 新状态）与边组成。边分为无条件边
与条件边：条件边由 RouteFunc 根据当前状态返回下一个节点标签。图在 Build
时完成校验（入口存在、边目标存在、每个节点恰有一种出边、无孤立节点），
得到只读的 Graph，可被多个请求并发执行。

与 DAG 不同，状态图允许回边（例如 SQL 生成 → 校验 → 重新生成），因此执行器
通过 MaxSteps 限制单次运行的总步数，防止无限循环。

# 核心接口与类型

  - NodeFunc[S]: 节点函数，返回部分更新后的状态
  - RouteFunc[S]: 条件边的路由函数，返回下一节点标签
  - GraphBuilder[S]: 流式构建器（AddNode / AddEdge / AddConditionalEdges / SetEntry）
  - Graph[S]: 编译后的执行计划（Run）
  - FanOut: 有序 map-reduce：并发执行、按输入顺序合并结果

# 可观测性

执行器为每个节点创建 OpenTelemetry span（workflow.node），并以 zap 记录
节点耗时与失败原因。
*/
package workflow
