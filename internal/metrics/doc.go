/*
包 metrics 基于 prometheus/client_golang 采集 GustoBot 的运行指标：
HTTP 请求、路由决策、守卫结果、各检索工具调用、LLM 调用、语义缓存命中与会话库连接池。

Collector 的记录方法对 nil 接收者安全，未启用指标时组件直接持有 nil。
*/
package metrics
