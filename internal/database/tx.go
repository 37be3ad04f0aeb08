package database

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	mysqldrv "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// InTx 在事务中执行 fn，fn 返回错误即回滚
func (p *Pool) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	return p.db.WithContext(ctx).Transaction(fn)
}

// InTxRetry 事务遇到可重试错误时整体重跑，最多 attempts 次，间隔 50ms 起翻倍。
// 会话消息并发追加撞到 (session_id, order_index) 唯一约束属于这一类。
func (p *Pool) InTxRetry(ctx context.Context, attempts int, fn func(tx *gorm.DB) error) error {
	attempts = max(attempts, 1)
	backoff := 50 * time.Millisecond
	var err error
	for i := 1; i <= attempts; i++ {
		if err = p.InTx(ctx, fn); err == nil || !Retryable(err) {
			return err
		}
		if i == attempts {
			break
		}
		p.logger.Debug("retrying transaction", zap.Int("attempt", i), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return fmt.Errorf("transaction gave up after %d attempts: %w", attempts, err)
}

// postgres SQLSTATE
var pgRetryable = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
	"23505": true, // unique_violation
}

// mysql 错误号
var mysqlRetryable = map[uint16]bool{
	1205: true, // lock wait timeout
	1213: true, // deadlock
	1062: true, // duplicate entry
}

// sqlite 驱动只给出文本
var retryableText = []string{
	"database is locked",
	"unique constraint failed",
	"deadlock",
	"serializ",
	"duplicate",
	"connection reset",
	"broken pipe",
	"bad connection",
}

// Retryable 判断事务错误是否值得重试
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgRetryable[pgErr.Code]
	}
	var myErr *mysqldrv.MySQLError
	if errors.As(err, &myErr) {
		return mysqlRetryable[myErr.Number]
	}
	msg := strings.ToLower(err.Error())
	for _, s := range retryableText {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
