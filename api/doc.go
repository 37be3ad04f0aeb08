// Package api 定义 GustoBot HTTP 接口的请求与响应结构。
//
// # 接口一览
//
//   - POST   /chat                       单轮问答
//   - POST   /chat/stream                SSE 流式问答（事件：metadata | message | done | error）
//   - GET    /chat/ws                    WebSocket 流式问答，事件与 SSE 相同
//   - GET    /chat/history/{session_id}  分页读取会话消息
//   - DELETE /chat/session/{session_id}  软删除会话
//   - GET    /chat/sessions              列出活跃会话
//   - GET    /chat/routes                可用路由说明
//   - POST   /upload/file, /upload/image 上传文件 / 图片
//   - POST   /knowledge/search           结构化向量检索（pgvector）
//   - GET    /health, /healthz, /ready, /version
//
// 错误统一返回 {success:false, error:{code, message, retryable}, timestamp}。
package api
