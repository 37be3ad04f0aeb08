// Package config 提供 GustoBot 的配置管理功能。
//
// 配置优先级：默认值 → YAML 文件 → .env 文件 → 环境变量。
// 环境变量默认使用 GUSTOBOT_ 前缀，嵌套字段以下划线连接，
// 例如 GUSTOBOT_KB_TOP_K、GUSTOBOT_RERANK_PROVIDER。
// 加载完成后配置对象只读，由各组件在启动时读取。
package config
