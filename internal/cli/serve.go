package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wwwzy/SREAgent/internal/app"
	"github.com/wwwzy/SREAgent/internal/server"
)

var (
	serveAddr            string
	serveShutdownTimeout time.Duration
)

// serveCmd 启动 HTTP/WebSocket 服务与后台任务。
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动 SREAgent 服务",
	Long: `启动 HTTP 与 WebSocket 接口，同时运行后端健康探测与数据保留任务。
按 Ctrl+C 或发送 SIGTERM 优雅退出。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if serveAddr != "" {
			cfg.Server.Addr = serveAddr
		}

		a, err := app.New(ctx, cfg)
		if err != nil {
			return fmt.Errorf("初始化失败: %w", err)
		}
		defer a.Close()
		logger := a.Logger

		deps := server.Deps{Chat: a.Chat, Decider: a.Decider, Version: Version}
		if p := a.Monitor.Prober(); p != nil {
			deps.Health = p
		}
		srv, err := server.New(cfg.Server, deps, logger.Named("server"))
		if err != nil {
			return err
		}

		if err := a.Monitor.Start(ctx); err != nil {
			return fmt.Errorf("启动后台任务失败: %w", err)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(srv.ListenAndServe)
		g.Go(func() error {
			// 后台任务出错时让服务一起退出
			if err := a.Monitor.Wait(); err != nil {
				return fmt.Errorf("后台任务异常退出: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			logger.Info("shutting down")
			a.Monitor.Stop()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), serveShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		fmt.Fprintf(cmd.OutOrStdout(), "SREAgent 已启动，监听 %s。按 Ctrl+C 停止。\n", cfg.Server.Addr)
		if err := g.Wait(); err != nil {
			logger.Error("server stopped with error", zap.Error(err))
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "关闭完成。")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "监听地址（覆盖 server.addr）")
	serveCmd.Flags().DurationVar(&serveShutdownTimeout, "shutdown-timeout", 15*time.Second, "优雅退出的最长等待时间")
}
