// Package tokenizer 提供 Token 计数与按 Token 截断（Clip），
// 用于 KB 上下文块裁剪与提示词预算控制。tiktoken 不可用时（离线、未知编码）
// 自动退回到 CJK 感知的字符估算。
package tokenizer
