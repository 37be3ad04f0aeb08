// Package router 实现每轮对话的顶层路由图：
// analyze_and_route 选出唯一路由，再分派到闲聊、追问、知识库、知识图谱、
// text-to-SQL、图像、文件或拒答节点。语义缓存在路由之前查询，命中则直接返回。
package router
