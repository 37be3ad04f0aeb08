/*
Package llm 提供 GustoBot 使用的大语言模型能力接口与 OpenAI 兼容实现。

# 概述

业务层只依赖最小能力接口 ChatModel（Complete：消息 → 文本），
由 OpenAIClient 基于 go-openai 实现，兼容 OpenAI、DeepSeek、Qwen 等
OpenAI 协议的服务。瞬时错误（超时、429、5xx）通过 llm/retry 做有界
指数退避重试。

# 核心接口与类型

  - ChatModel: Complete(ctx, messages, opts...) → text
  - ImageGenerator: 文本生成图片（图片路由使用）
  - CallOption: 单次调用参数（模型、温度、最大 token、JSON 模式）
  - OpenAIClient: go-openai 实现，含错误分类
  - CompleteJSON: 结构化输出助手：解析失败时以更严格的提示重试一次

# 子包

  - llm/embedding: 文本向量化
  - llm/rerank: 重排序适配器与分数融合
  - llm/retry: 指数退避重试
  - llm/tokenizer: token 计数与截断
*/
package llm
