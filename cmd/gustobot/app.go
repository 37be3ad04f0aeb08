package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jhlu2019/GustoBot-sub000/agent/guardrails"
	"github.com/jhlu2019/GustoBot-sub000/agent/kb"
	agentkg "github.com/jhlu2019/GustoBot-sub000/agent/kg"
	"github.com/jhlu2019/GustoBot-sub000/agent/router"
	"github.com/jhlu2019/GustoBot-sub000/api/handlers"
	"github.com/jhlu2019/GustoBot-sub000/config"
	"github.com/jhlu2019/GustoBot-sub000/internal/breaker"
	"github.com/jhlu2019/GustoBot-sub000/internal/cache"
	"github.com/jhlu2019/GustoBot-sub000/internal/database"
	"github.com/jhlu2019/GustoBot-sub000/internal/history"
	"github.com/jhlu2019/GustoBot-sub000/internal/metrics"
	"github.com/jhlu2019/GustoBot-sub000/internal/migration"
	"github.com/jhlu2019/GustoBot-sub000/internal/session"
	"github.com/jhlu2019/GustoBot-sub000/internal/tlsutil"
	"github.com/jhlu2019/GustoBot-sub000/kg"
	"github.com/jhlu2019/GustoBot-sub000/llm"
	"github.com/jhlu2019/GustoBot-sub000/llm/embedding"
	"github.com/jhlu2019/GustoBot-sub000/llm/rerank"
	"github.com/jhlu2019/GustoBot-sub000/llm/tokenizer"
	"github.com/jhlu2019/GustoBot-sub000/rag"
	"github.com/jhlu2019/GustoBot-sub000/text2sql"
	"github.com/jhlu2019/GustoBot-sub000/types"
)

// =============================================================================
// 🧩 组件装配
// =============================================================================

// App 进程内共享的组件。可选依赖连接失败时记录告警并降级，不阻止启动。
type App struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Collector

	redis    *cache.Manager
	db       *database.Pool
	neo4j    *kg.Neo4jClient
	graphRAG *rag.GraphRAGClient
	pgvector *rag.PGVectorStore

	router    *router.Router
	chat      *handlers.ChatHandler
	upload    *handlers.UploadHandler
	knowledge *handlers.KnowledgeHandler
	health    *handlers.HealthHandler
}

// newApp 按配置装配所有组件
func newApp(ctx context.Context, cfg *config.Config, collector *metrics.Collector, logger *zap.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger, metrics: collector}
	a.health = handlers.NewHealthHandler(logger)

	model, err := llm.NewOpenAIClient(llm.OpenAIConfig{
		Provider:    cfg.LLM.Provider,
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLM.Timeout,
		MaxRetries:  cfg.LLM.MaxRetries,
		ImageModel:  cfg.Image.Model,
		ImageSize:   cfg.Image.Size,
		HTTPClient:  tlsutil.SecureHTTPClient(cfg.LLM.Timeout),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create llm client: %w", err)
	}

	embedder, err := embedding.NewOpenAIEmbedder(embedding.OpenAIConfig{
		Provider:   cfg.Embedding.Provider,
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimension:  cfg.Embedding.Dimension,
		Timeout:    cfg.Embedding.Timeout,
		BatchSize:  cfg.Embedding.BatchSize,
		MaxRetries: cfg.LLM.MaxRetries,
		HTTPClient: tlsutil.SecureHTTPClient(cfg.Embedding.Timeout),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	a.openRedis()
	a.openDatabase(ctx)

	guard := guardrails.New(model, guardrails.Config{
		Scope:              cfg.Router.GuardrailScope,
		OutOfScopeKeywords: cfg.Router.OutOfScopeKeywords,
	}, logger)

	kbGraph, err := a.buildKB(ctx, model, guard, embedder)
	if err != nil {
		return nil, err
	}
	kgAgent, err := a.buildKG(ctx, model)
	if err != nil {
		return nil, err
	}

	deps := router.Deps{
		Model:   model,
		Guard:   guard,
		KB:      kbGraph,
		Metrics: collector,
	}
	if kgAgent != nil {
		deps.KG = kgAgent
	}
	if cfg.Image.Enabled {
		deps.Images = model
	}
	if cfg.Ingest.URL != "" {
		deps.Ingest = rag.NewIngestClient(cfg.Ingest.URL, cfg.Ingest.Timeout, logger)
	}

	var (
		hist     handlers.HistoryStore
		sessions handlers.SessionStore
		clearer  handlers.CacheClearer
	)
	if a.redis != nil {
		hist = history.New(a.redis.Client(), history.Config{
			MaxMessages: cfg.Session.HistoryMaxMessages,
			TTL:         cfg.Session.HistoryTTL,
		}, logger)
		if cfg.Cache.Enabled {
			sc := cache.NewSemanticCache(a.redis.Client(), embedder, cache.SemanticConfig{
				Threshold: cfg.Cache.Threshold,
				MaxSize:   cfg.Cache.MaxSize,
				TTL:       cfg.Cache.TTL,
			}, logger)
			deps.Cache = sc
			clearer = sc
		}
	}
	if a.db != nil {
		sessions = session.New(a.db, logger)
	}

	a.router, err = router.New(deps, router.Config{
		MemoryTurns:         cfg.Session.MemoryTurns,
		StatisticalKeywords: cfg.Router.StatisticalKeywords,
		ProceduralKeywords:  cfg.Router.ProceduralKeywords,
		ImageKeywords:       cfg.Router.ImageKeywords,
		VisionModel:         cfg.Image.VisionModel,
		MaxImageBytes:       cfg.Upload.MaxSize,
		UploadDir:           cfg.Upload.Dir,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("build router: %w", err)
	}

	a.chat = handlers.NewChatHandler(a.router, hist, sessions, clearer, handlers.ChatConfig{
		TurnTimeout: cfg.Server.WriteTimeout - 5*time.Second,
		UploadDir:   cfg.Upload.Dir,
	}, logger)

	a.upload, err = handlers.NewUploadHandler(handlers.UploadConfig{
		Dir:             cfg.Upload.Dir,
		MaxSize:         cfg.Upload.MaxSize,
		FileExtensions:  cfg.Upload.FileExtensions,
		ImageExtensions: cfg.Upload.ImageExtensions,
		PublicBaseURL:   cfg.Upload.PublicBaseURL,
	}, logger)
	if err != nil {
		return nil, err
	}

	if a.pgvector != nil {
		a.knowledge = handlers.NewKnowledgeHandler(rag.NewKnowledgeService(a.pgvector, embedder, logger), logger)
	}
	return a, nil
}

func (a *App) openRedis() {
	m, err := cache.NewManager(cache.FromRedisConfig(a.cfg.Redis), a.logger)
	if err != nil {
		a.logger.Warn("redis not available, history and semantic cache disabled", zap.Error(err))
		return
	}
	a.redis = m
	a.health.RegisterCheck("redis", true, m.Ping)
}

func (a *App) openDatabase(ctx context.Context) {
	if a.cfg.Database.AutoMigrate {
		if err := migration.EnsureSchema(ctx, a.cfg.Database, a.logger); err != nil {
			a.logger.Warn("session schema migration failed, sessions are not persisted", zap.Error(err))
			return
		}
	}
	pool, err := database.Open(a.cfg.Database, a.logger)
	if err != nil {
		a.logger.Warn("session database not available, sessions are not persisted", zap.Error(err))
		return
	}
	a.db = pool
	a.health.RegisterCheck("database", true, pool.Ping)
}

// buildKB 结构化向量库必需；语义向量库、外部搜索与重排序可选
func (a *App) buildKB(ctx context.Context, model llm.ChatModel, guard *guardrails.Guard, embedder embedding.Embedder) (*kb.Graph, error) {
	cfg := a.cfg
	deps := kb.Deps{
		Model:     model,
		Guard:     guard,
		Tokenizer: tokenizer.NewTiktokenTokenizer(cfg.LLM.Model, a.logger),
	}

	if cfg.SV.PostgresDSN != "" {
		store, err := rag.NewPGVectorStore(ctx, cfg.SV.PostgresDSN, cfg.SV.Table, cfg.SV.Distance, a.logger)
		if err != nil {
			a.logger.Warn("pgvector not available, /knowledge/search disabled", zap.Error(err))
		} else {
			a.pgvector = store
		}
	}

	switch {
	case cfg.SV.URL != "":
		deps.SV = a.instrument(rag.NewSVClient(cfg.SV.URL, cfg.SV.Timeout, a.logger))
	case a.pgvector != nil:
		// 未配置远端 SV 时直接查询本进程的 pgvector
		svc := rag.NewKnowledgeService(a.pgvector, embedder, a.logger)
		deps.SV = a.instrument(rag.RetrieverFunc{ToolName: types.ToolSV, Fn: func(ctx context.Context, req rag.SearchRequest) ([]types.Document, error) {
			resp, err := svc.Search(ctx, rag.KnowledgeSearchRequest{Query: req.Query, TopK: req.TopK, Threshold: req.Threshold, SourceTable: req.SourceTable})
			if err != nil {
				return nil, err
			}
			docs := make([]types.Document, 0, len(resp.Results))
			for _, r := range resp.Results {
				docs = append(docs, r.ToDocument(types.ToolSV))
			}
			return docs, nil
		}})
	default:
		return nil, errors.New("either sv.url or sv.postgres_dsn must be configured")
	}

	if cfg.MV.Enabled {
		store := rag.NewMilvusStore(rag.MilvusConfig{
			Scheme:     cfg.MV.Scheme,
			Host:       cfg.MV.Host,
			Port:       cfg.MV.Port,
			Token:      cfg.MV.Token,
			Database:   cfg.MV.Database,
			Collection: cfg.MV.Collection,
			Dim:        cfg.MV.Dim,
			IndexType:  cfg.MV.IndexType,
			MetricType: cfg.MV.MetricType,
			Timeout:    cfg.MV.Timeout,
		}, a.logger)
		deps.MV = a.instrument(rag.NewMVRetriever(store, embedder, cfg.KB.SimilarityThreshold, a.logger))
		a.health.RegisterCheck("milvus", false, func(ctx context.Context) error {
			_, err := store.Count(ctx)
			return err
		})
	}

	if cfg.KB.EnableExternalSearch {
		if sameEndpoint(cfg.KB.ExternalSearchURL, cfg.SV.URL) {
			// 外部搜索指向 SV 会把同一批证据当作外部证据重复使用
			a.logger.Warn("external search url equals sv url, external search disabled",
				zap.String("url", cfg.KB.ExternalSearchURL))
		} else {
			deps.External = a.instrument(rag.NewExternalSearch(cfg.KB.ExternalSearchURL, cfg.KB.ExternalSearchTimeout, a.logger))
		}
	}

	if cfg.Rerank.Enabled {
		provider, err := rerank.NewProvider(rerank.Config{
			Provider:   cfg.Rerank.Provider,
			APIKey:     cfg.Rerank.APIKey,
			BaseURL:    cfg.Rerank.BaseURL,
			Model:      cfg.Rerank.Model,
			Timeout:    cfg.Rerank.Timeout,
			MaxRetries: cfg.Rerank.MaxRetries,
			HTTPClient: tlsutil.SecureHTTPClient(cfg.Rerank.Timeout),
		})
		if err != nil {
			return nil, fmt.Errorf("create reranker: %w", err)
		}
		deps.Reranker = rerank.NewReranker(provider, rerank.RerankerOptions{
			TopN:          cfg.Rerank.TopN,
			MaxCandidates: cfg.Rerank.MaxCandidates,
			FusionEnabled: cfg.Rerank.FusionEnabled,
			FusionAlpha:   cfg.Rerank.FusionAlpha,
		}, a.logger).WithObserver(func(provider string, d time.Duration, err error) {
			a.metrics.RecordRetrieval("rerank_"+provider, err, d, 0)
		})
	}

	return kb.New(deps, kb.Config{
		TopK:                  cfg.KB.TopK,
		SVTopK:                cfg.KB.SVTopK,
		SimilarityThreshold:   cfg.KB.SimilarityThreshold,
		SVSimilarityThreshold: cfg.KB.SVSimilarityThreshold,
		SVRerankThreshold:     cfg.KB.SVRerankThreshold,
		ContextClipTokens:     cfg.KB.ContextClipTokens,
	}, a.logger)
}

// buildKG 图谱、图谱 RAG、text-to-SQL 都不可用时返回 nil，路由图改走模板回复。
// 守卫检查由路由图在进入 KG 前完成，这里不再重复。
func (a *App) buildKG(ctx context.Context, model llm.ChatModel) (*agentkg.Agent, error) {
	cfg := a.cfg
	deps := agentkg.Deps{Model: model, Library: agentkg.DefaultLibrary()}

	if cfg.KG.Enabled {
		client, err := kg.NewNeo4jClient(ctx, kg.Config{
			URI:          cfg.KG.URI,
			Username:     cfg.KG.Username,
			Password:     cfg.KG.Password,
			Database:     cfg.KG.Database,
			QueryTimeout: cfg.KG.QueryTimeout,
			MaxRows:      cfg.Text2SQL.MaxRows,
		}, a.logger)
		if err != nil {
			a.logger.Warn("neo4j not available, cypher tools disabled", zap.Error(err))
		} else {
			a.neo4j = client
			deps.Graph = client
			a.health.RegisterCheck("neo4j", false, func(ctx context.Context) error {
				_, err := client.Query(ctx, "RETURN 1 AS ok", nil)
				return err
			})
		}
	}

	mode, _ := rag.ParseGraphRAGMode(cfg.GraphRAG.RetrievalMode)
	if cfg.GraphRAG.Enabled && cfg.GraphRAG.URL != "" {
		a.graphRAG = rag.NewGraphRAGClient(rag.GraphRAGConfig{
			URL:        cfg.GraphRAG.URL,
			WorkingDir: cfg.GraphRAG.WorkingDir,
			Mode:       mode,
			TopK:       cfg.GraphRAG.TopK,
			Timeout:    cfg.GraphRAG.Timeout,
		}, a.logger)
		deps.GraphRAG = a.graphRAG
	}

	if cfg.REL.URL != "" {
		open := text2sql.Opener(cfg.REL.Driver, cfg.REL.URL)
		executor := text2sql.NewExecutor(open, cfg.REL.StatementTimeout, cfg.Text2SQL.MaxRows, a.logger)
		pipeline, err := text2sql.NewPipeline(model, text2sql.NewGormIntrospector(open), executor, text2sql.Config{
			Dialect:           cfg.REL.Driver,
			MaxRetries:        cfg.Text2SQL.MaxRetries,
			TopTables:         cfg.Text2SQL.TopTables,
			VisualizationRows: cfg.Text2SQL.VisualizationRows,
		}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("build text2sql pipeline: %w", err)
		}
		deps.SQL = pipeline
	}

	if deps.Graph == nil && deps.GraphRAG == nil && deps.SQL == nil {
		a.logger.Warn("no knowledge graph tools configured, kg and text2sql routes answer from templates")
		return nil, nil
	}

	return agentkg.New(deps, agentkg.Config{
		MaxConcurrency:      cfg.KG.MaxConcurrency,
		TemplateTopK:        cfg.KG.TemplateTopK,
		DescriptiveKeywords: cfg.KG.DescriptiveKeywords,
		StatisticalKeywords: cfg.Router.StatisticalKeywords,
		GraphRAGMode:        mode,
		Cypher: agentkg.CypherOptions{
			MaxAttempts:       cfg.KG.MaxAttempts,
			ExecuteOnWarnings: cfg.KG.ExecuteOnWarnings,
			SemanticCheck:     cfg.KG.SemanticCheck,
		},
	}, a.logger)
}

// Close 释放外部连接，按创建的逆序
func (a *App) Close(ctx context.Context) {
	if a.graphRAG != nil {
		_ = a.graphRAG.Close()
	}
	if a.neo4j != nil {
		if err := a.neo4j.Close(ctx); err != nil {
			a.logger.Warn("close neo4j", zap.Error(err))
		}
	}
	if a.pgvector != nil {
		a.pgvector.Close()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("close database", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("close redis", zap.Error(err))
		}
	}
}

// instrumentedRetriever 为检索适配器记录调用指标，并按工具熔断
type instrumentedRetriever struct {
	rag.Retriever
	metrics *metrics.Collector
	breaker *breaker.Breaker
}

func (a *App) instrument(r rag.Retriever) rag.Retriever {
	ir := instrumentedRetriever{Retriever: r, metrics: a.metrics}
	if bc := a.cfg.Breaker; bc.Threshold > 0 {
		ir.breaker = breaker.New(r.Name(), breaker.Config{
			Threshold:        bc.Threshold,
			ResetTimeout:     bc.ResetTimeout,
			HalfOpenMaxCalls: bc.HalfOpenMaxCalls,
			OnStateChange: func(name string, _, to breaker.State) {
				a.metrics.RecordBreakerState(name, int(to))
			},
		}, a.logger)
	}
	return ir
}

func (r instrumentedRetriever) Search(ctx context.Context, req rag.SearchRequest) ([]types.Document, error) {
	start := time.Now()
	var (
		docs []types.Document
		err  error
	)
	if r.breaker != nil {
		docs, err = breaker.Do(ctx, r.breaker, func(ctx context.Context) ([]types.Document, error) {
			return r.Retriever.Search(ctx, req)
		})
	} else {
		docs, err = r.Retriever.Search(ctx, req)
	}
	r.metrics.RecordRetrieval(r.Name(), err, time.Since(start), len(docs))
	return docs, err
}

// URL 透传底层适配器的地址，KB 子图据此判断外部检索与 SV 是否同源
func (r instrumentedRetriever) URL() string {
	if u, ok := r.Retriever.(interface{ URL() string }); ok {
		return u.URL()
	}
	return ""
}

func sameEndpoint(a, b string) bool {
	norm := func(s string) string { return strings.TrimRight(strings.ToLower(strings.TrimSpace(s)), "/") }
	return a != "" && norm(a) == norm(b)
}
