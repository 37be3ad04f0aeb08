// Package session 把会话、消息与轮次快照持久化到关系库（gorm）。
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/jhlu2019/GustoBot-sub000/internal/database"
	"github.com/jhlu2019/GustoBot-sub000/types"
)

const (
	titleMaxRunes   = 50
	appendRetries   = 3
	defaultPageSize = 50
	maxPageSize     = 500
)

// ErrSessionNotFound 会话不存在
var ErrSessionNotFound = types.NewError(types.ErrNotFound, "session not found")

// Store 会话持久化
type Store struct {
	pool   *database.Pool
	logger *zap.Logger
	now    func() time.Time
}

// New 创建会话存储
func New(pool *database.Pool, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		pool:   pool,
		logger: logger.With(zap.String("component", "session_store")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) db(ctx context.Context) *gorm.DB {
	return s.pool.DB().WithContext(ctx)
}

// NewMessage 待写入的一条消息
type NewMessage struct {
	Role     types.Role
	Content  string
	Metadata map[string]any
}

// Turn 一个已回答的轮次
type Turn struct {
	SessionID string
	UserID    string
	Messages  []NewMessage
	// 快照内容：query 与完整响应
	Query    string
	Response map[string]any
}

// EnsureSession 返回会话，不存在时创建；已软删除的会话被重新激活。
func (s *Store) EnsureSession(ctx context.Context, id, userID, title string) (*Session, error) {
	var sess *Session
	err := s.pool.InTx(ctx, func(tx *gorm.DB) error {
		var err error
		sess, err = s.ensureSession(tx, id, userID, title)
		return err
	})
	return sess, err
}

func (s *Store) ensureSession(tx *gorm.DB, id, userID, title string) (*Session, error) {
	if id == "" {
		id = uuid.NewString()
	}
	var sess Session
	err := tx.Where("id = ?", id).Take(&sess).Error
	switch {
	case err == nil:
		if !sess.IsActive {
			s.logger.Info("reactivating session", zap.String("session_id", id))
			if err := tx.Model(&sess).Updates(map[string]any{"is_active": true, "updated_at": s.now()}).Error; err != nil {
				return nil, fmt.Errorf("reactivate session: %w", err)
			}
			sess.IsActive = true
		}
		return &sess, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("load session: %w", err)
	}

	now := s.now()
	sess = Session{
		ID:        id,
		Title:     Title(title),
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if userID != "" {
		sess.UserID = &userID
	}
	if err := tx.Create(&sess).Error; err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &sess, nil
}

// AppendMessage 追加一条消息，order_index 为当前最大值 +1。
// 并发写入撞到唯一约束时整体重试。
func (s *Store) AppendMessage(ctx context.Context, sessionID string, msg NewMessage) (*Message, error) {
	var out []Message
	err := s.pool.InTxRetry(ctx, appendRetries, func(tx *gorm.DB) error {
		var err error
		out, err = s.appendMessages(tx, sessionID, []NewMessage{msg})
		return err
	})
	if err != nil {
		return nil, err
	}
	return &out[0], nil
}

// RecordTurn 在一个事务内确保会话存在、追加本轮消息并写入快照。
func (s *Store) RecordTurn(ctx context.Context, turn Turn) ([]Message, error) {
	if turn.SessionID == "" {
		return nil, types.NewInvalidRequestError("session id is required")
	}
	var out []Message
	err := s.pool.InTxRetry(ctx, appendRetries, func(tx *gorm.DB) error {
		if _, err := s.ensureSession(tx, turn.SessionID, turn.UserID, turn.Query); err != nil {
			return err
		}
		msgs, err := s.appendMessages(tx, turn.SessionID, turn.Messages)
		if err != nil {
			return err
		}
		if turn.Response != nil {
			snap := HistorySnapshot{
				ID:           uuid.NewString(),
				SessionID:    turn.SessionID,
				Query:        turn.Query,
				ResponseData: JSONMap(turn.Response),
				CreatedAt:    s.now(),
			}
			if err := tx.Create(&snap).Error; err != nil {
				return fmt.Errorf("create snapshot: %w", err)
			}
		}
		out = msgs
		return nil
	})
	if err != nil {
		s.logger.Warn("record turn failed", zap.String("session_id", turn.SessionID), zap.Error(err))
		return nil, err
	}
	return out, nil
}

func (s *Store) appendMessages(tx *gorm.DB, sessionID string, msgs []NewMessage) ([]Message, error) {
	if sessionID == "" {
		return nil, types.NewInvalidRequestError("session id is required")
	}
	var exists int64
	if err := tx.Model(&Session{}).Where("id = ?", sessionID).Count(&exists).Error; err != nil {
		return nil, fmt.Errorf("check session: %w", err)
	}
	if exists == 0 {
		return nil, ErrSessionNotFound
	}

	var last struct{ Max *int }
	if err := tx.Model(&Message{}).Select("MAX(order_index) AS max").
		Where("session_id = ?", sessionID).Scan(&last).Error; err != nil {
		return nil, fmt.Errorf("read order index: %w", err)
	}
	next := 1
	if last.Max != nil {
		next = *last.Max + 1
	}

	now := s.now()
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if !m.Role.Valid() {
			return nil, types.NewInvalidRequestError(fmt.Sprintf("invalid role %q", m.Role))
		}
		row := Message{
			ID:         uuid.NewString(),
			SessionID:  sessionID,
			OrderIndex: next,
			Role:       string(m.Role),
			Content:    m.Content,
			Metadata:   JSONMap(m.Metadata),
			CreatedAt:  now,
		}
		if err := tx.Create(&row).Error; err != nil {
			return nil, fmt.Errorf("create message: %w", err)
		}
		out = append(out, row)
		next++
	}
	if err := tx.Model(&Session{}).Where("id = ?", sessionID).Update("updated_at", now).Error; err != nil {
		return nil, fmt.Errorf("touch session: %w", err)
	}
	return out, nil
}

// GetSession 读取会话（含已停用的）
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	var sess Session
	err := s.db(ctx).Where("id = ?", id).Take(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return &sess, nil
}

// ListMessages 按 order_index 升序分页返回消息与总数
func (s *Store) ListMessages(ctx context.Context, sessionID string, limit, offset int) ([]Message, int64, error) {
	limit, offset = page(limit, offset)

	var total int64
	q := s.db(ctx).Model(&Message{}).Where("session_id = ?", sessionID)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}
	var msgs []Message
	if err := s.db(ctx).Where("session_id = ?", sessionID).
		Order("order_index ASC").Limit(limit).Offset(offset).Find(&msgs).Error; err != nil {
		return nil, 0, fmt.Errorf("list messages: %w", err)
	}
	return msgs, total, nil
}

// ListSessions 返回用户的活跃会话，最近更新在前。userID 为空时列出匿名会话。
func (s *Store) ListSessions(ctx context.Context, userID string, limit, offset int) ([]Session, error) {
	limit, offset = page(limit, offset)
	q := s.db(ctx).Where("is_active = ?", true)
	if userID == "" {
		q = q.Where("user_id IS NULL")
	} else {
		q = q.Where("user_id = ?", userID)
	}
	var out []Session
	if err := q.Order("updated_at DESC").Limit(limit).Offset(offset).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

// DeleteSession 软删除
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	res := s.db(ctx).Model(&Session{}).Where("id = ? AND is_active = ?", id, true).
		Updates(map[string]any{"is_active": false, "updated_at": s.now()})
	if res.Error != nil {
		return fmt.Errorf("delete session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// Snapshots 会话的轮次快照，按时间升序
func (s *Store) Snapshots(ctx context.Context, sessionID string, limit int) ([]HistorySnapshot, error) {
	limit, _ = page(limit, 0)
	var out []HistorySnapshot
	if err := s.db(ctx).Where("session_id = ?", sessionID).
		Order("created_at ASC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return out, nil
}

// Title 由首个问题生成会话标题
func Title(question string) string {
	t := strings.Join(strings.Fields(question), " ")
	if t == "" {
		return "新对话"
	}
	if utf8.RuneCountInString(t) <= titleMaxRunes {
		return t
	}
	r := []rune(t)
	return string(r[:titleMaxRunes]) + "…"
}

func page(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
