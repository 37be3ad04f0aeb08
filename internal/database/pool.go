package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/jhlu2019/GustoBot-sub000/config"
)

// ErrClosed 连接池已关闭
var ErrClosed = errors.New("session database is closed")

// Driver 规范化后的驱动名
type Driver string

const (
	Postgres Driver = "postgres"
	MySQL    Driver = "mysql"
	SQLite   Driver = "sqlite"
)

// ParseDriver 接受 postgresql、sqlite3 等别名
func ParseDriver(s string) (Driver, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "postgres", "postgresql", "pg":
		return Postgres, nil
	case "mysql", "mariadb":
		return MySQL, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	}
	return "", fmt.Errorf("unsupported database driver %q", s)
}

// Options 连接池参数
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	// SlowQuery 超过即以 warn 记录；0 关闭
	SlowQuery time.Duration
}

// OptionsFor 由配置推导连接池参数。SQLite 只允许一个写连接。
func OptionsFor(c config.DatabaseConfig, driver Driver) Options {
	o := Options{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
		SlowQuery:       200 * time.Millisecond,
	}
	if c.MaxOpenConns > 0 {
		o.MaxOpenConns = c.MaxOpenConns
	}
	if c.MaxIdleConns > 0 {
		o.MaxIdleConns = c.MaxIdleConns
	}
	if c.ConnMaxLifetime > 0 {
		o.ConnMaxLifetime = c.ConnMaxLifetime
	}
	if driver == SQLite {
		o.MaxOpenConns, o.MaxIdleConns = 1, 1
	}
	return o
}

// DSN gorm 方言使用的连接串；sqlite 的 Name 即文件路径
func DSN(c config.DatabaseConfig) (string, error) {
	driver, err := ParseDriver(c.Driver)
	if err != nil {
		return "", err
	}
	return dsnFor(driver, c), nil
}

func dsnFor(driver Driver, c config.DatabaseConfig) string {
	switch driver {
	case Postgres:
		ssl := c.SSLMode
		if ssl == "" {
			ssl = "disable"
		}
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.Name, ssl)
	case MySQL:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			c.User, c.Password, c.Host, c.Port, c.Name)
	default:
		if c.Name == "" {
			return "gustobot.db"
		}
		return c.Name
	}
}

func dialector(driver Driver, dsn string) gorm.Dialector {
	switch driver {
	case Postgres:
		return postgres.Open(dsn)
	case MySQL:
		return mysql.Open(dsn)
	default:
		return sqlite.Open(dsn)
	}
}

// Pool 会话库连接。gorm 句柄只读共享，Close 之后所有操作返回 ErrClosed。
type Pool struct {
	db     *gorm.DB
	sqlDB  *sql.DB
	driver Driver
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// Open 按配置打开会话库，SQL 日志写入 zap
func Open(c config.DatabaseConfig, logger *zap.Logger) (*Pool, error) {
	driver, err := ParseDriver(c.Driver)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := OptionsFor(c, driver)
	db, err := gorm.Open(dialector(driver, dsnFor(driver, c)), &gorm.Config{
		Logger: newGormLogger(logger, opts.SlowQuery),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s session database: %w", driver, err)
	}
	return NewPool(db, driver, opts, logger)
}

// NewPool 包装已打开的 gorm 连接并应用连接池参数
func NewPool(db *gorm.DB, driver Driver, opts Options, logger *zap.Logger) (*Pool, error) {
	if db == nil {
		return nil, errors.New("gorm db is nil")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrap sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(opts.ConnMaxIdleTime)

	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{
		db:     db,
		sqlDB:  sqlDB,
		driver: driver,
		logger: logger.With(zap.String("component", "session_db"), zap.String("driver", string(driver))),
	}
	p.logger.Info("session database ready",
		zap.Int("max_open_conns", opts.MaxOpenConns),
		zap.Int("max_idle_conns", opts.MaxIdleConns),
	)
	return p, nil
}

func (p *Pool) Driver() Driver { return p.driver }

// DB gorm 句柄；调用方自行 WithContext
func (p *Pool) DB() *gorm.DB { return p.db }

// Ping 供 /ready 健康检查使用
func (p *Pool) Ping(ctx context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	return p.sqlDB.PingContext(ctx)
}

// Stats 连接池快照，服务端定期写入 Prometheus
func (p *Pool) Stats() sql.DBStats { return p.sqlDB.Stats() }

// Close 幂等
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.logger.Info("closing session database")
	return p.sqlDB.Close()
}
