package migration

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/jhlu2019/GustoBot-sub000/config"
)

// BuildDatabaseURL 按方言拼接 golang-migrate 使用的连接串。
// sqlite 的 database 参数即文件路径，其余连接参数被忽略。
func BuildDatabaseURL(dbType DatabaseType, host string, port int, database, user, password, sslMode string) string {
	switch dbType {
	case DatabaseTypePostgres:
		if sslMode == "" {
			sslMode = "require"
		}
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(user, password),
			Host:     net.JoinHostPort(host, strconv.Itoa(port)),
			Path:     "/" + database,
			RawQuery: "sslmode=" + sslMode,
		}
		return u.String()
	case DatabaseTypeMySQL:
		// multiStatements：迁移文件一次包含多条语句
		return fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=true&multiStatements=true",
			user, password, net.JoinHostPort(host, strconv.Itoa(port)), database)
	case DatabaseTypeSQLite:
		return "file:" + database + "?mode=rwc&_pragma=foreign_keys(1)"
	default:
		return ""
	}
}

// NewMigratorFromDatabaseConfig 根据会话库配置创建迁移器
func NewMigratorFromDatabaseConfig(dbCfg config.DatabaseConfig) (*DefaultMigrator, error) {
	return newFromDatabaseConfig(dbCfg, nil)
}

func newFromDatabaseConfig(dbCfg config.DatabaseConfig, logger *zap.Logger) (*DefaultMigrator, error) {
	dbType, err := ParseDatabaseType(dbCfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("invalid database type: %w", err)
	}

	name, sslMode := dbCfg.Name, dbCfg.SSLMode
	switch dbType {
	case DatabaseTypeMySQL:
		sslMode = ""
	case DatabaseTypeSQLite:
		if name == "" {
			name = "gustobot.db"
		}
	}

	return NewMigrator(&Config{
		DatabaseType: dbType,
		DatabaseURL:  BuildDatabaseURL(dbType, dbCfg.Host, dbCfg.Port, name, dbCfg.User, dbCfg.Password, sslMode),
		Logger:       logger,
	})
}

// NewMigratorFromURL 直接使用连接 URL 创建迁移器
func NewMigratorFromURL(dbType, dbURL string) (*DefaultMigrator, error) {
	dt, err := ParseDatabaseType(dbType)
	if err != nil {
		return nil, err
	}
	return NewMigrator(&Config{DatabaseType: dt, DatabaseURL: dbURL})
}

// EnsureSchema 服务启动时把会话库迁移到最新版本。
// 上次迁移中断留下 dirty 标记时拒绝启动，需要先 `gustobot migrate force`。
func EnsureSchema(ctx context.Context, dbCfg config.DatabaseConfig, logger *zap.Logger) error {
	m, err := newFromDatabaseConfig(dbCfg, logger)
	if err != nil {
		return err
	}
	defer m.Close()

	if _, dirty, err := m.Version(ctx); err != nil {
		return err
	} else if dirty {
		return fmt.Errorf("session schema is dirty, run `gustobot migrate force <version>` first")
	}
	return m.Up(ctx)
}
