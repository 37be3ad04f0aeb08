// =============================================================================
// 📦 GustoBot 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
		Database:  DefaultDatabaseConfig(),
		Redis:     DefaultRedisConfig(),
		LLM:       DefaultLLMConfig(),
		Embedding: DefaultEmbeddingConfig(),
		Rerank:    DefaultRerankConfig(),
		KB:        DefaultKBConfig(),
		SV:        DefaultSVConfig(),
		MV:        DefaultMVConfig(),
		KG:        DefaultKGConfig(),
		REL:       DefaultRELConfig(),
		GraphRAG:  DefaultGraphRAGConfig(),
		Text2SQL:  DefaultText2SQLConfig(),
		Router:    DefaultRouterConfig(),
		Session:   DefaultSessionConfig(),
		Cache:     DefaultCacheConfig(),
		Upload:    DefaultUploadConfig(),
		Ingest:    DefaultIngestConfig(),
		Breaker:   DefaultBreakerConfig(),
		Image:     DefaultImageConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8000,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    5 * time.Minute, // SSE 流式响应
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    20,
		RateLimitBurst:  40,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:        false,
		OTLPEndpoint:   "localhost:4317",
		ServiceName:    "gustobot",
		SampleRate:     0.1,
		Insecure:       true,
		Environment:    "development",
		ExportInterval: 30 * time.Second,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "gustobot",
		Password:        "",
		Name:            "gustobot",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		AutoMigrate:     true,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultLLMConfig 返回默认 LLM 配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:    "openai",
		Model:       "gpt-4o-mini",
		Temperature: 0.2,
		MaxTokens:   2048,
		Timeout:     60 * time.Second,
		MaxRetries:  3,
	}
}

// DefaultEmbeddingConfig 返回默认向量化配置
func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{
		Provider:  "openai",
		Model:     "text-embedding-3-small",
		Dimension: 1536,
		Timeout:   60 * time.Second,
		BatchSize: 64,
	}
}

// DefaultRerankConfig 返回默认重排序配置
func DefaultRerankConfig() RerankConfig {
	return RerankConfig{
		Enabled:       false,
		Provider:      "custom",
		TopN:          5,
		MaxCandidates: 50,
		Timeout:       30 * time.Second,
		MaxRetries:    3,
		FusionEnabled: false,
		FusionAlpha:   0.5,
	}
}

// DefaultKBConfig 返回默认知识库配置
func DefaultKBConfig() KBConfig {
	return KBConfig{
		TopK:                  5,
		SVTopK:                10,
		SimilarityThreshold:   0.5,
		SVSimilarityThreshold: 0.6,
		SVRerankThreshold:     0.3,
		EnableExternalSearch:  false,
		ExternalSearchTimeout: 10 * time.Second,
		ContextClipTokens:     512,
	}
}

// DefaultSVConfig 返回默认结构化向量库配置
func DefaultSVConfig() SVConfig {
	return SVConfig{
		URL:      "http://localhost:8100/knowledge/search",
		Timeout:  15 * time.Second,
		Table:    "searchable_documents",
		Distance: "cosine",
	}
}

// DefaultMVConfig 返回默认 Milvus 配置
func DefaultMVConfig() MVConfig {
	return MVConfig{
		Enabled:    true,
		Scheme:     "http",
		Host:       "localhost",
		Port:       19530,
		Database:   "default",
		Collection: "recipes",
		Dim:        1536,
		IndexType:  "IVF_FLAT",
		MetricType: "COSINE",
		Timeout:    30 * time.Second,
	}
}

// DefaultKGConfig 返回默认知识图谱配置
func DefaultKGConfig() KGConfig {
	return KGConfig{
		Enabled:             true,
		URI:                 "neo4j://localhost:7687",
		Username:            "neo4j",
		Database:            "neo4j",
		MaxAttempts:         3,
		ExecuteOnWarnings:   true,
		SemanticCheck:       false,
		QueryTimeout:        30 * time.Second,
		TemplateTopK:        3,
		MaxConcurrency:      4,
		DescriptiveKeywords: []string{"口味", "特色", "营养", "功效", "历史", "文化", "典故", "风味"},
	}
}

// DefaultRELConfig 返回默认关系库配置
func DefaultRELConfig() RELConfig {
	return RELConfig{
		Driver:           "mysql",
		StatementTimeout: 30 * time.Second,
	}
}

// DefaultGraphRAGConfig 返回默认图谱 RAG 配置
func DefaultGraphRAGConfig() GraphRAGConfig {
	return GraphRAGConfig{
		Enabled:       false,
		RetrievalMode: "hybrid",
		TopK:          10,
		Timeout:       60 * time.Second,
	}
}

// DefaultText2SQLConfig 返回默认 text-to-SQL 配置
func DefaultText2SQLConfig() Text2SQLConfig {
	return Text2SQLConfig{
		MaxRetries:        3,
		TopTables:         6,
		MaxRows:           1000,
		VisualizationRows: 10,
	}
}

// DefaultRouterConfig 返回默认路由配置
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		StatisticalKeywords: []string{
			"统计", "多少", "总数", "数量", "排名", "排行", "最多", "最少", "平均", "占比", "几道", "几种",
			"count", "sum", "avg", "average", "max", "min", "top",
		},
		ProceduralKeywords: []string{
			"怎么做", "如何做", "做法", "步骤", "食材", "配料", "用料", "烹饪方法", "怎么烧", "怎么炒",
		},
		ImageKeywords:  []string{"生成", "画", "创建", "做一张", "来一张", "图片"},
		GuardrailScope: "中餐菜谱、食材、烹饪技法、饮食文化与营养相关的问题（recipes/cooking only）",
		OutOfScopeKeywords: []string{
			"股票", "基金", "彩票", "政治", "选举", "赌博", "炒股", "比特币", "贷款",
		},
	}
}

// DefaultSessionConfig 返回默认会话配置
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MemoryTurns:        5,
		HistoryTTL:         7 * 24 * time.Hour,
		HistoryMaxMessages: 100,
	}
}

// DefaultCacheConfig 返回默认语义缓存配置
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:   true,
		Threshold: 0.92,
		MaxSize:   1000,
		TTL:       24 * time.Hour,
	}
}

// DefaultUploadConfig 返回默认上传配置
func DefaultUploadConfig() UploadConfig {
	return UploadConfig{
		Dir:             "./uploads",
		MaxSize:         10 << 20,
		FileExtensions:  []string{".txt", ".md", ".json", ".csv", ".log", ".xlsx", ".xls", ".pdf", ".doc", ".docx"},
		ImageExtensions: []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".webp"},
		PublicBaseURL:   "/uploads",
	}
}

// DefaultIngestConfig 返回默认导入服务配置
func DefaultIngestConfig() IngestConfig {
	return IngestConfig{
		URL:     "http://localhost:8100",
		Timeout: 120 * time.Second,
	}
}

// DefaultBreakerConfig 返回默认熔断配置
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Threshold:        5,
		ResetTimeout:     30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// DefaultImageConfig 返回默认图像配置
func DefaultImageConfig() ImageConfig {
	return ImageConfig{
		Enabled:     true,
		Model:       "dall-e-3",
		Size:        "1024x1024",
		VisionModel: "gpt-4o-mini",
	}
}
