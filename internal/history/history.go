// Package history 保存每个会话最近的对话消息（Redis 列表），供路由前的记忆窗口使用。
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jhlu2019/GustoBot-sub000/types"
)

const defaultPrefix = "gustobot:history"

// Config 历史参数
type Config struct {
	// 每个会话保留的最大消息数，默认 100
	MaxMessages int
	// 每次追加后刷新的过期时间，默认 7 天
	TTL    time.Duration
	Prefix string
}

// Store 基于 Redis 列表的有界会话历史
type Store struct {
	rdb    redis.Cmdable
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

// New 创建历史存储
func New(rdb redis.Cmdable, cfg Config, logger *zap.Logger) *Store {
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = 100
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 7 * 24 * time.Hour
	}
	if cfg.Prefix == "" {
		cfg.Prefix = defaultPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		rdb:    rdb,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "history")),
		now:    time.Now,
	}
}

func (s *Store) key(sessionID string) string {
	return s.cfg.Prefix + ":" + sessionID
}

// Append 追加一条消息：打时间戳、截断到最近 MaxMessages 条并刷新 TTL。
func (s *Store) Append(ctx context.Context, sessionID string, role types.Role, content string, metadata map[string]any) error {
	if sessionID == "" {
		return types.NewInvalidRequestError("session id is required")
	}
	if !role.Valid() {
		return types.NewInvalidRequestError(fmt.Sprintf("invalid role %q", role))
	}
	msg := types.Message{Role: role, Content: content, Metadata: metadata, Timestamp: s.now().UTC()}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode history message: %w", err)
	}

	key := s.key(sessionID)
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, key, data)
		p.LTrim(ctx, key, int64(-s.cfg.MaxMessages), -1)
		p.Expire(ctx, key, s.cfg.TTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// GetRecent 按时间顺序返回最近 n 条；n <= 0 返回全部。
func (s *Store) GetRecent(ctx context.Context, sessionID string, n int) ([]types.Message, error) {
	start := int64(0)
	if n > 0 {
		start = int64(-n)
	}
	raw, err := s.rdb.LRange(ctx, s.key(sessionID), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	out := make([]types.Message, 0, len(raw))
	for _, r := range raw {
		var m types.Message
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			s.logger.Warn("skip corrupt history entry", zap.String("session_id", sessionID), zap.Error(err))
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// Len 当前保存的消息数
func (s *Store) Len(ctx context.Context, sessionID string) (int64, error) {
	return s.rdb.LLen(ctx, s.key(sessionID)).Result()
}

// Clear 删除会话历史
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	if err := s.rdb.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}
