/*
Package handlers 实现 GustoBot 的 HTTP 处理器。

  - ChatHandler      POST /chat、POST /chat/stream（SSE）、GET /chat/ws（WebSocket），
    会话历史、会话列表、删除会话与路由目录
  - UploadHandler    POST /upload/file、POST /upload/image（multipart，大小与扩展名白名单）
  - KnowledgeHandler POST /knowledge/search，结构化向量库的服务端
  - HealthHandler    /health、/healthz、/ready、/version

错误统一输出 {success:false, error:{code, message, retryable}, timestamp}，
状态码由 types.ErrorCode 映射。
*/
package handlers
