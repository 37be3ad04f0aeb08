package text2sql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/jhlu2019/GustoBot-sub000/types"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// DefaultMaxRows 单次查询返回行数上限
const DefaultMaxRows = 1000

// OpenFunc 打开一个引擎，返回释放函数
type OpenFunc func(ctx context.Context) (*gorm.DB, func(), error)

// Dialector 按驱动名构造 gorm 方言
func Dialector(driver, dsn string) (gorm.Dialector, error) {
	switch strings.ToLower(driver) {
	case "postgres", "postgresql", "pg":
		return postgres.Open(dsn), nil
	case "mysql", "mariadb":
		return mysql.Open(dsn), nil
	case "sqlite", "sqlite3":
		return sqlite.Open(dsn), nil
	default:
		return nil, types.NewInvalidRequestError(fmt.Sprintf("unsupported sql driver %q", driver))
	}
}

// Opener 每次调用新建单连接引擎；用完即释放，不在请求间共享
func Opener(driver, dsn string) OpenFunc {
	return func(ctx context.Context) (*gorm.DB, func(), error) {
		dial, err := Dialector(driver, dsn)
		if err != nil {
			return nil, nil, err
		}
		db, err := gorm.Open(dial, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
		if err != nil {
			return nil, nil, types.NewError(types.ErrUpstreamError, "open sql database").WithCause(err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, err
		}
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		return db, func() { _ = sqlDB.Close() }, nil
	}
}

// Result 查询结果
type Result struct {
	Columns   []string         `json:"columns"`
	Rows      []map[string]any `json:"rows"`
	Truncated bool             `json:"truncated"`
}

// Executor 在只读约束下执行已校验的 SELECT
type Executor struct {
	open    OpenFunc
	timeout time.Duration
	maxRows int
	logger  *zap.Logger
}

// NewExecutor 创建执行器
func NewExecutor(open OpenFunc, timeout time.Duration, maxRows int, logger *zap.Logger) *Executor {
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{open: open, timeout: timeout, maxRows: maxRows, logger: logger.With(zap.String("component", "sql_executor"))}
}

// Execute 再次校验后执行；未通过校验的语句不会触达数据库
func (e *Executor) Execute(ctx context.Context, stmt string) (*Result, error) {
	if v := Validate(stmt); !v.Valid {
		return nil, types.NewInvalidRequestError("sql rejected: " + strings.Join(v.Errors, "; "))
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	db, dispose, err := e.open(ctx)
	if err != nil {
		return nil, err
	}
	defer dispose()

	conn := db.WithContext(ctx)
	if err := applyStatementTimeout(conn, e.timeout); err != nil {
		e.logger.Debug("statement timeout not applied", zap.Error(err))
	}

	start := time.Now()
	var res *Result
	err = runReadOnly(conn, func(tx *gorm.DB) error {
		rows, err := tx.Raw(stmt).Rows()
		if err != nil {
			return err
		}
		defer rows.Close()
		res, err = scanRows(rows, e.maxRows)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.logger.Debug("sql executed",
		zap.Int("rows", len(res.Rows)),
		zap.Bool("truncated", res.Truncated),
		zap.Duration("duration", time.Since(start)))
	return res, nil
}

// runReadOnly 让数据库自身拒绝写入：pg/mysql 开只读事务，
// SQLite 驱动不认只读事务，改用连接级 query_only。引擎是单连接的，PRAGMA 作用于同一连接。
func runReadOnly(db *gorm.DB, fn func(tx *gorm.DB) error) error {
	if db.Dialector.Name() == "sqlite" {
		if err := db.Exec("PRAGMA query_only = ON").Error; err != nil {
			return fmt.Errorf("enable query_only: %w", err)
		}
		return fn(db)
	}
	return db.Transaction(fn, &sql.TxOptions{ReadOnly: true})
}

func applyStatementTimeout(db *gorm.DB, timeout time.Duration) error {
	ms := timeout.Milliseconds()
	switch db.Dialector.Name() {
	case "postgres":
		return db.Exec(fmt.Sprintf("SET statement_timeout = %d", ms)).Error
	case "mysql":
		return db.Exec(fmt.Sprintf("SET SESSION MAX_EXECUTION_TIME = %d", ms)).Error
	}
	return nil
}

func scanRows(rows *sql.Rows, maxRows int) (*Result, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	res := &Result{Columns: cols, Rows: []map[string]any{}}
	for rows.Next() {
		if len(res.Rows) >= maxRows {
			res.Truncated = true
			break
		}
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[c] = string(b)
			} else {
				row[c] = vals[i]
			}
		}
		res.Rows = append(res.Rows, row)
	}
	return res, rows.Err()
}
