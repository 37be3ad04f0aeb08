// =============================================================================
// 📦 GustoBot 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + .env + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithDotEnv(".env").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量（.env 中的值只在进程环境未设置时生效）
// =============================================================================
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 GustoBot 的完整配置结构
type Config struct {
	Server    ServerConfig    `yaml:"server" env:"SERVER"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
	// Database 会话/消息存储
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`
	Redis    RedisConfig    `yaml:"redis" env:"REDIS"`

	LLM       LLMConfig       `yaml:"llm" env:"LLM"`
	Embedding EmbeddingConfig `yaml:"embedding" env:"EMBEDDING"`
	Rerank    RerankConfig    `yaml:"rerank" env:"RERANK"`

	KB       KBConfig       `yaml:"kb" env:"KB"`
	SV       SVConfig       `yaml:"sv" env:"SV"`
	MV       MVConfig       `yaml:"mv" env:"MV"`
	KG       KGConfig       `yaml:"kg" env:"KG"`
	REL      RELConfig      `yaml:"rel" env:"REL"`
	GraphRAG GraphRAGConfig `yaml:"graphrag" env:"GR"`
	Text2SQL Text2SQLConfig `yaml:"text2sql" env:"TEXT2SQL"`

	Router  RouterConfig  `yaml:"router" env:"ROUTER"`
	Session SessionConfig `yaml:"session" env:"SESSION"`
	Cache   CacheConfig   `yaml:"cache" env:"SEM_CACHE"`
	Upload  UploadConfig  `yaml:"upload" env:"UPLOAD"`
	Ingest  IngestConfig  `yaml:"ingest" env:"INGEST"`
	Breaker BreakerConfig `yaml:"breaker" env:"BREAKER"`
	Image   ImageConfig   `yaml:"image" env:"IMAGE"`
	Auth    AuthConfig    `yaml:"auth" env:"AUTH"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port" env:"HTTP_PORT"`
	MetricsPort     int           `yaml:"metrics_port" env:"METRICS_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 每个客户端 IP 的限流
	RateLimitRPS   float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// 允许的 CORS 来源，空表示 *
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format           string   `yaml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
	// Insecure 为 false 时 OTLP 走 TLS
	Insecure bool `yaml:"insecure" env:"INSECURE"`
	// Environment 写入 deployment.environment 资源属性
	Environment    string        `yaml:"environment" env:"ENVIRONMENT"`
	ExportInterval time.Duration `yaml:"export_interval" env:"EXPORT_INTERVAL"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite
	Driver          string        `yaml:"driver" env:"DRIVER"`
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	User            string        `yaml:"user" env:"USER"`
	Password        string        `yaml:"password" env:"PASSWORD"`
	Name            string        `yaml:"name" env:"NAME"`
	SSLMode         string        `yaml:"ssl_mode" env:"SSL_MODE"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	// 启动时执行内嵌迁移
	AutoMigrate bool `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr         string `yaml:"addr" env:"ADDR"`
	Password     string `yaml:"password" env:"PASSWORD"`
	DB           int    `yaml:"db" env:"DB"`
	PoolSize     int    `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int    `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// LLMConfig 对话模型配置（OpenAI 兼容接口）
type LLMConfig struct {
	Provider    string        `yaml:"provider" env:"PROVIDER"`
	Model       string        `yaml:"model" env:"MODEL"`
	APIKey      string        `yaml:"api_key" env:"API_KEY"`
	BaseURL     string        `yaml:"base_url" env:"BASE_URL"`
	Temperature float64       `yaml:"temperature" env:"TEMPERATURE"`
	MaxTokens   int           `yaml:"max_tokens" env:"MAX_TOKENS"`
	Timeout     time.Duration `yaml:"timeout" env:"TIMEOUT"`
	MaxRetries  int           `yaml:"max_retries" env:"MAX_RETRIES"`
}

// EmbeddingConfig 向量化模型配置
type EmbeddingConfig struct {
	Provider  string        `yaml:"provider" env:"PROVIDER"`
	Model     string        `yaml:"model" env:"MODEL"`
	Dimension int           `yaml:"dimension" env:"DIMENSION"`
	APIKey    string        `yaml:"api_key" env:"API_KEY"`
	BaseURL   string        `yaml:"base_url" env:"BASE_URL"`
	Timeout   time.Duration `yaml:"timeout" env:"TIMEOUT"`
	BatchSize int           `yaml:"batch_size" env:"BATCH_SIZE"`
}

// RerankConfig 重排序配置
type RerankConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// custom | cohere | jina | voyage
	Provider      string        `yaml:"provider" env:"PROVIDER"`
	BaseURL       string        `yaml:"base_url" env:"BASE_URL"`
	APIKey        string        `yaml:"api_key" env:"API_KEY"`
	Model         string        `yaml:"model" env:"MODEL"`
	TopN          int           `yaml:"top_n" env:"TOP_N"`
	MaxCandidates int           `yaml:"max_candidates" env:"MAX_CANDIDATES"`
	Timeout       time.Duration `yaml:"timeout" env:"TIMEOUT"`
	MaxRetries    int           `yaml:"max_retries" env:"MAX_RETRIES"`
	// 分数融合：alpha·sim_z + (1-alpha)·rerank_z
	FusionEnabled bool    `yaml:"fusion_enabled" env:"FUSION_ENABLED"`
	FusionAlpha   float64 `yaml:"fusion_alpha" env:"SCORE_FUSION_ALPHA"`
}

// KBConfig 知识库子图配置
type KBConfig struct {
	TopK                  int           `yaml:"top_k" env:"TOP_K"`
	SVTopK                int           `yaml:"sv_top_k" env:"SV_TOP_K"`
	SimilarityThreshold   float64       `yaml:"similarity_threshold" env:"SIMILARITY_THRESHOLD"`
	SVSimilarityThreshold float64       `yaml:"sv_similarity_threshold" env:"SV_SIMILARITY_THRESHOLD"`
	SVRerankThreshold     float64       `yaml:"sv_rerank_threshold" env:"SV_RERANK_THRESHOLD"`
	EnableExternalSearch  bool          `yaml:"enable_external_search" env:"ENABLE_EXTERNAL_SEARCH"`
	ExternalSearchURL     string        `yaml:"external_search_url" env:"EXTERNAL_SEARCH_URL"`
	ExternalSearchTimeout time.Duration `yaml:"external_search_timeout" env:"EXTERNAL_SEARCH_TIMEOUT"`
	// 每条证据在提示词中的最大 token 数
	ContextClipTokens int `yaml:"context_clip_tokens" env:"CONTEXT_CLIP_TOKENS"`
}

// SVConfig 结构化向量库配置。
// URL 为 SV 检索服务地址（POST {query, top_k, threshold}）；
// PostgresDSN 非空时本进程同时提供 /knowledge/search（pgvector）。
type SVConfig struct {
	URL         string        `yaml:"url" env:"URL"`
	Timeout     time.Duration `yaml:"timeout" env:"TIMEOUT"`
	PostgresDSN string        `yaml:"postgres_dsn" env:"POSTGRES_DSN"`
	Table       string        `yaml:"table" env:"TABLE"`
	// cosine | l2
	Distance string `yaml:"distance" env:"DISTANCE"`
}

// MVConfig 语义向量库（Milvus）配置
type MVConfig struct {
	Enabled    bool          `yaml:"enabled" env:"ENABLED"`
	Scheme     string        `yaml:"scheme" env:"SCHEME"`
	Host       string        `yaml:"host" env:"HOST"`
	Port       int           `yaml:"port" env:"PORT"`
	Token      string        `yaml:"token" env:"TOKEN"`
	Database   string        `yaml:"database" env:"DATABASE"`
	Collection string        `yaml:"collection" env:"COLLECTION"`
	Dim        int           `yaml:"dim" env:"DIM"`
	IndexType  string        `yaml:"index_type" env:"INDEX_TYPE"`
	MetricType string        `yaml:"metric_type" env:"METRIC_TYPE"`
	Timeout    time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// KGConfig 知识图谱（Neo4j）配置
type KGConfig struct {
	Enabled  bool   `yaml:"enabled" env:"ENABLED"`
	URI      string `yaml:"uri" env:"URI"`
	Username string `yaml:"username" env:"USERNAME"`
	Password string `yaml:"password" env:"PASSWORD"`
	Database string `yaml:"database" env:"DATABASE"`
	// text-to-Cypher 最大尝试次数
	MaxAttempts int `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	// 最后一次尝试时，存在警告也执行
	ExecuteOnWarnings bool `yaml:"execute_on_warnings" env:"EXECUTE_ON_WARNINGS"`
	// 使用 LLM 做语义校验
	SemanticCheck  bool          `yaml:"semantic_check" env:"SEMANTIC_CHECK"`
	QueryTimeout   time.Duration `yaml:"query_timeout" env:"QUERY_TIMEOUT"`
	TemplateTopK   int           `yaml:"template_top_k" env:"TEMPLATE_TOP_K"`
	MaxConcurrency int           `yaml:"max_concurrency" env:"MAX_CONCURRENCY"`
	// 描述性关键词命中时优先 graphrag_query
	DescriptiveKeywords []string `yaml:"descriptive_keywords" env:"DESCRIPTIVE_KEYWORDS"`
}

// RELConfig 关系库（text-to-SQL 目标库）配置
type RELConfig struct {
	// postgres | mysql | sqlite
	Driver           string        `yaml:"driver" env:"DRIVER"`
	URL              string        `yaml:"url" env:"URL"`
	StatementTimeout time.Duration `yaml:"statement_timeout" env:"STATEMENT_TIMEOUT"`
}

// GraphRAGConfig 图谱 RAG 服务配置
type GraphRAGConfig struct {
	Enabled    bool   `yaml:"enabled" env:"ENABLED"`
	URL        string `yaml:"url" env:"URL"`
	WorkingDir string `yaml:"working_dir" env:"WORKING_DIR"`
	// naive | local | global | hybrid | mix | bypass
	RetrievalMode string        `yaml:"retrieval_mode" env:"RETRIEVAL_MODE"`
	TopK          int           `yaml:"top_k" env:"TOP_K"`
	Timeout       time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// Text2SQLConfig text-to-SQL 流水线配置
type Text2SQLConfig struct {
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	TopTables  int `yaml:"top_tables" env:"TOP_TABLES"`
	MaxRows    int `yaml:"max_rows" env:"MAX_ROWS"`
	// 可视化步骤读取的最大行数
	VisualizationRows int `yaml:"visualization_rows" env:"VISUALIZATION_ROWS"`
}

// RouterConfig 顶层路由配置
type RouterConfig struct {
	StatisticalKeywords []string `yaml:"statistical_keywords" env:"STATISTICAL_KEYWORDS"`
	ProceduralKeywords  []string `yaml:"procedural_keywords" env:"PROCEDURAL_KEYWORDS"`
	ImageKeywords       []string `yaml:"image_keywords" env:"IMAGE_KEYWORDS"`
	// 守卫检查声明的业务范围
	GuardrailScope string `yaml:"guardrail_scope" env:"GUARDRAIL_SCOPE"`
	// 守卫 LLM 不可用时的越界关键词
	OutOfScopeKeywords []string `yaml:"out_of_scope_keywords" env:"OUT_OF_SCOPE_KEYWORDS"`
}

// SessionConfig 会话与历史配置
type SessionConfig struct {
	// 路由前保留的最近人类轮次，非正数表示不限制
	MemoryTurns int           `yaml:"memory_turns" env:"MEMORY_TURNS"`
	HistoryTTL  time.Duration `yaml:"history_ttl" env:"HISTORY_TTL"`
	// 每个会话 Redis 历史列表的最大长度
	HistoryMaxMessages int `yaml:"history_max_messages" env:"HISTORY_MAX_MESSAGES"`
}

// CacheConfig 语义缓存配置
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled" env:"ENABLED"`
	Threshold float64       `yaml:"threshold" env:"THRESHOLD"`
	MaxSize   int           `yaml:"max_size" env:"MAX_SIZE"`
	TTL       time.Duration `yaml:"ttl" env:"TTL"`
}

// UploadConfig 上传配置
type UploadConfig struct {
	Dir             string   `yaml:"dir" env:"DIR"`
	MaxSize         int64    `yaml:"max_size" env:"MAX_SIZE"`
	FileExtensions  []string `yaml:"file_extensions" env:"FILE_EXTENSIONS"`
	ImageExtensions []string `yaml:"image_extensions" env:"IMAGE_EXTENSIONS"`
	// 返回给客户端的 file_url 前缀
	PublicBaseURL string `yaml:"public_base_url" env:"PUBLIC_BASE_URL"`
}

// IngestConfig 导入服务配置
type IngestConfig struct {
	URL     string        `yaml:"url" env:"SERVICE_URL"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// BreakerConfig 远程检索服务的熔断配置；Threshold <= 0 关闭熔断
type BreakerConfig struct {
	Threshold        int           `yaml:"threshold" env:"THRESHOLD"`
	ResetTimeout     time.Duration `yaml:"reset_timeout" env:"RESET_TIMEOUT"`
	HalfOpenMaxCalls int           `yaml:"half_open_max_calls" env:"HALF_OPEN_MAX_CALLS"`
}

// ImageConfig 图像生成 / 识别配置
type ImageConfig struct {
	Enabled     bool   `yaml:"enabled" env:"ENABLED"`
	Model       string `yaml:"model" env:"MODEL"`
	Size        string `yaml:"size" env:"SIZE"`
	VisionModel string `yaml:"vision_model" env:"VISION_MODEL"`
}

// AuthConfig 认证配置。鉴权策略不在范围内，这里只解析可选的 JWT 以获得 user_id。
type AuthConfig struct {
	JWTSecret string   `yaml:"jwt_secret" env:"JWT_SECRET"`
	APIKeys   []string `yaml:"api_keys" env:"API_KEYS"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	dotEnv     []string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "GUSTOBOT",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀；空字符串表示不加前缀（如 KB_TOP_K）
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithDotEnv 在读取环境变量前加载 .env 文件，不覆盖已存在的变量
func (l *Loader) WithDotEnv(paths ...string) *Loader {
	l.dotEnv = append(l.dotEnv, paths...)
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadDotEnv(); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func (l *Loader) loadDotEnv() error {
	for _, p := range l.dotEnv {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := envTag
		if prefix != "" {
			envKey = prefix + "_" + envTag
		}

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue, ok := os.LookupEnv(envKey)
		if !ok || envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration；纯数字按秒解释
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			if secs, err := strconv.ParseFloat(value, 64); err == nil {
				field.SetInt(int64(secs * float64(time.Second)))
				return nil
			}
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 逗号或竖线分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			sep := ","
			if strings.Contains(value, "|") && !strings.Contains(value, ",") {
				sep = "|"
			}
			parts := strings.Split(value, sep)
			out := make([]string, 0, len(parts))
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			field.Set(reflect.ValueOf(out))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.LLM.Model == "" {
		errs = append(errs, "llm.model is required")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, "llm.temperature must be between 0 and 2")
	}
	if c.Embedding.Model == "" {
		errs = append(errs, "embedding.model is required")
	}
	if c.KB.TopK <= 0 {
		errs = append(errs, "kb.top_k must be positive")
	}
	for name, v := range map[string]float64{
		"kb.similarity_threshold":    c.KB.SimilarityThreshold,
		"kb.sv_similarity_threshold": c.KB.SVSimilarityThreshold,
		"kb.sv_rerank_threshold":     c.KB.SVRerankThreshold,
		"sem_cache.threshold":        c.Cache.Threshold,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, name+" must be within [0,1]")
		}
	}
	if c.Rerank.Enabled {
		switch c.Rerank.Provider {
		case "custom", "cohere", "jina", "voyage":
		default:
			errs = append(errs, "rerank.provider must be one of custom|cohere|jina|voyage")
		}
		if c.Rerank.FusionAlpha < 0 || c.Rerank.FusionAlpha > 1 {
			errs = append(errs, "rerank.fusion_alpha must be within [0,1]")
		}
	}
	if c.KB.EnableExternalSearch && c.KB.ExternalSearchURL == "" {
		errs = append(errs, "kb.external_search_url is required when external search is enabled")
	}
	switch c.GraphRAG.RetrievalMode {
	case "naive", "local", "global", "hybrid", "mix", "bypass":
	default:
		errs = append(errs, "graphrag.retrieval_mode must be one of naive|local|global|hybrid|mix|bypass")
	}
	if c.Text2SQL.MaxRetries < 0 || c.KG.MaxAttempts <= 0 {
		errs = append(errs, "text2sql.max_retries must be >= 0 and kg.max_attempts > 0")
	}

	if len(errs) > 0 {
		sort.Strings(errs)
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// BaseURL 返回 Milvus REST 地址
func (m *MVConfig) BaseURL() string {
	scheme := m.Scheme
	if scheme == "" {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, m.Host, m.Port)
}
