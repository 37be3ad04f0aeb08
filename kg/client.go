package kg

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jhlu2019/GustoBot-sub000/types"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
	"go.uber.org/zap"
)

// Querier 只读 Cypher 执行能力
type Querier interface {
	Query(ctx context.Context, statement string, params map[string]any) ([]map[string]any, error)
}

// Explainer 对语句做 EXPLAIN 预检，返回告警
type Explainer interface {
	Explain(ctx context.Context, statement string, params map[string]any) ([]string, error)
}

// SchemaProvider 提供图谱 schema 文本，供 Cypher 生成提示词使用
type SchemaProvider interface {
	Schema(ctx context.Context) (string, error)
}

// Config Neo4j 连接配置
type Config struct {
	URI          string
	Username     string
	Password     string
	Database     string
	QueryTimeout time.Duration
	MaxRows      int
}

// Neo4jClient 并发安全；driver 在进程内共享，每次查询开启只读会话
type Neo4jClient struct {
	driver neo4j.DriverWithContext
	cfg    Config
	logger *zap.Logger
}

// NewNeo4jClient 创建 driver 并校验连通性
func NewNeo4jClient(ctx context.Context, cfg Config, logger *zap.Logger) (*Neo4jClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 30 * time.Second
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = 1000
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	verifyCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("verify neo4j connectivity: %w", err)
	}

	logger.Info("neo4j connected", zap.String("uri", cfg.URI), zap.String("database", cfg.Database))
	return &Neo4jClient{driver: driver, cfg: cfg, logger: logger.With(zap.String("component", "neo4j"))}, nil
}

func (c *Neo4jClient) session(ctx context.Context) neo4j.SessionWithContext {
	return c.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: c.cfg.Database,
	})
}

// Query 在只读事务中执行语句，最多返回 MaxRows 行
func (c *Neo4jClient) Query(ctx context.Context, statement string, params map[string]any) ([]map[string]any, error) {
	session := c.session(ctx)
	defer session.Close(ctx)

	start := time.Now()
	rows, err := neo4j.ExecuteRead(ctx, session, func(tx neo4j.ManagedTransaction) ([]map[string]any, error) {
		res, err := tx.Run(ctx, statement, params)
		if err != nil {
			return nil, err
		}
		out := make([]map[string]any, 0)
		for res.Next(ctx) {
			if len(out) >= c.cfg.MaxRows {
				break
			}
			out = append(out, RecordToMap(res.Record().Keys, res.Record().Values))
		}
		return out, res.Err()
	}, neo4j.WithTxTimeout(c.cfg.QueryTimeout))
	if err != nil {
		c.logger.Warn("cypher query failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
		return nil, types.NewUpstreamError(types.ToolKG, 0, err).WithRetryable(false)
	}

	c.logger.Debug("cypher query", zap.Int("rows", len(rows)), zap.Duration("duration", time.Since(start)))
	return rows, nil
}

// Explain 执行 EXPLAIN：语法错误返回 error，服务端通知作为告警返回
func (c *Neo4jClient) Explain(ctx context.Context, statement string, params map[string]any) ([]string, error) {
	session := c.session(ctx)
	defer session.Close(ctx)

	return neo4j.ExecuteRead(ctx, session, func(tx neo4j.ManagedTransaction) ([]string, error) {
		res, err := tx.Run(ctx, "EXPLAIN "+statement, params)
		if err != nil {
			return nil, err
		}
		summary, err := res.Consume(ctx)
		if err != nil {
			return nil, err
		}
		var warnings []string
		for _, n := range summary.Notifications() {
			warnings = append(warnings, n.Title()+": "+n.Description())
		}
		return warnings, nil
	}, neo4j.WithTxTimeout(c.cfg.QueryTimeout))
}

// Schema 汇总节点标签属性与关系类型
func (c *Neo4jClient) Schema(ctx context.Context) (string, error) {
	nodeRows, err := c.Query(ctx, "CALL db.schema.nodeTypeProperties() YIELD nodeType, propertyName RETURN nodeType, collect(propertyName) AS props", nil)
	if err != nil {
		return "", err
	}
	relRows, err := c.Query(ctx, "CALL db.relationshipTypes() YIELD relationshipType RETURN relationshipType", nil)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("Node labels and properties:\n")
	for _, r := range nodeRows {
		fmt.Fprintf(&b, "- %v %v\n", r["nodeType"], r["props"])
	}
	rels := make([]string, 0, len(relRows))
	for _, r := range relRows {
		rels = append(rels, fmt.Sprint(r["relationshipType"]))
	}
	sort.Strings(rels)
	b.WriteString("Relationship types: ")
	b.WriteString(strings.Join(rels, ", "))
	return b.String(), nil
}

// Close 关闭 driver
func (c *Neo4jClient) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

// RecordToMap 把一条记录转换为普通值
func RecordToMap(keys []string, values []any) map[string]any {
	m := make(map[string]any, len(keys))
	for i, k := range keys {
		if i < len(values) {
			m[k] = PlainValue(values[i])
		}
	}
	return m
}

// PlainValue 将 driver 的图类型转换为可 JSON 序列化的值
func PlainValue(v any) any {
	switch x := v.(type) {
	case dbtype.Node:
		props := plainMap(x.Props)
		props["_labels"] = x.Labels
		return props
	case dbtype.Relationship:
		props := plainMap(x.Props)
		props["_type"] = x.Type
		return props
	case dbtype.Path:
		nodes := make([]any, len(x.Nodes))
		for i, n := range x.Nodes {
			nodes[i] = PlainValue(n)
		}
		rels := make([]any, len(x.Relationships))
		for i, r := range x.Relationships {
			rels[i] = PlainValue(r)
		}
		return map[string]any{"nodes": nodes, "relationships": rels}
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = PlainValue(e)
		}
		return out
	case map[string]any:
		return plainMap(x)
	default:
		return v
	}
}

func plainMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = PlainValue(v)
	}
	return out
}
