/*
gustobot 是 GustoBot 服务的命令行入口。

子命令:

	serve    启动 API 服务（默认 :8000）与 Prometheus 指标服务（默认 :9091）
	migrate  管理会话数据库迁移（up / down / status / version / force）
	health   对运行中的服务做 /ready 探测
	version  打印构建信息

配置按 默认值 → YAML（--config）→ .env → GUSTOBOT_* 环境变量 的顺序叠加。

API 路由:

	POST   /chat                        单轮对话
	POST   /chat/stream                 SSE 流式对话
	GET    /chat/ws                     WebSocket 对话
	GET    /chat/history/{session_id}   会话历史
	DELETE /chat/session/{session_id}   删除会话
	GET    /chat/sessions               会话列表
	GET    /chat/routes                 路由类型说明
	POST   /upload/file                 上传知识文件并触发入库
	POST   /upload/image                上传图片
	POST   /knowledge/search            本地 pgvector 知识检索
	GET    /health /ready /version      探针与版本
*/
package main
