// GustoBot 服务入口
//
// 使用方法:
//
//	gustobot serve                       # 启动服务
//	gustobot serve --config config.yaml  # 指定配置文件
//	gustobot migrate up                  # 运行数据库迁移
//	gustobot migrate status              # 查看迁移状态
//	gustobot health --addr http://localhost:8000
//	gustobot version
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jhlu2019/GustoBot-sub000/config"
	"github.com/jhlu2019/GustoBot-sub000/internal/metrics"
	"github.com/jhlu2019/GustoBot-sub000/internal/telemetry"
	"github.com/jhlu2019/GustoBot-sub000/internal/tlsutil"
)

// 构建时注入
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "gustobot",
		Short:         "GustoBot multi-agent culinary assistant",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	root.AddCommand(newServeCmd(), newMigrateCmd(), newHealthCmd(), newVersionCmd())
	return root
}

// loadConfig defaults → YAML → .env → GUSTOBOT_* 环境变量
func loadConfig() (*config.Config, error) {
	loader := config.NewLoader().WithDotEnv(".env")
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API and metrics servers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			logger := initLogger(cfg.Log)
			defer func() { _ = logger.Sync() }()

			logger.Info("starting GustoBot",
				zap.String("version", Version),
				zap.String("build_time", BuildTime),
				zap.String("git_commit", GitCommit),
			)

			tp, err := telemetry.Init(cfg.Telemetry, Version, logger)
			if err != nil {
				logger.Warn("failed to initialize telemetry", zap.Error(err))
			}

			tlsutil.UserAgent = "GustoBot/" + Version
			collector := metrics.NewCollector("gustobot", logger)
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			app, err := newApp(ctx, cfg, collector, logger)
			cancel()
			if err != nil {
				return err
			}

			srv := NewServer(cfg, app, collector, tp, logger)
			if err := srv.Start(); err != nil {
				srv.Shutdown()
				return err
			}
			srv.WaitForShutdown()
			logger.Info("GustoBot stopped")
			return nil
		},
	}
}

func newHealthCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check a running server's readiness",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := &http.Client{Timeout: 5 * time.Second}
			resp, err := client.Get(addr + "/ready")
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("health check failed: status %d", resp.StatusCode)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "OK")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8000", "server address")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "GustoBot %s\n", Version)
			fmt.Fprintf(out, "  Build Time: %s\n", BuildTime)
			fmt.Fprintf(out, "  Git Commit: %s\n", GitCommit)
		},
	}
}

// initLogger 按配置构建 zap logger
func initLogger(cfg config.LogConfig) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       encoding == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger.With(zap.String("service", "gustobot"))
}
