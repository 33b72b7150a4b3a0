package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wwwzy/SREAgent/internal/app"
	"github.com/wwwzy/SREAgent/internal/tui"
	"github.com/wwwzy/SREAgent/internal/ui"
)

var (
	chatUI        string
	chatSession   string
	chatNamespace string
	chatPod       string
	chatProgress  bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "进入交互式对话模式",
	Long: `进入多轮对话，用自然语言排查 Kubernetes 集群问题。
编排 agent 会按需把问题移交给指标、日志、Kubernetes 专家，并汇总结论。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var uiImpl ui.ChatUI
		switch chatUI {
		case "console", "":
			uiImpl = &ui.ConsoleChatUI{In: os.Stdin, Out: os.Stdout}
		case "tui":
			uiImpl = &tui.ChatUI{}
			// 全屏界面下日志不能写 stderr
			if cfg.Log.File == "" {
				cfg.Log.File = "sreagent.log"
			}
		default:
			return fmt.Errorf("未知 ui 类型: %s (支持: console, tui)", chatUI)
		}

		a, err := app.New(ctx, cfg)
		if err != nil {
			return fmt.Errorf("初始化失败: %w", err)
		}
		defer a.Close()

		return uiImpl.Run(ctx, a.Chat, ui.ChatOptions{
			SessionID:    chatSession,
			Namespace:    chatNamespace,
			Pod:          chatPod,
			ShowProgress: chatProgress,
		})
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatUI, "ui", "console", "交互界面类型: console/tui")
	chatCmd.Flags().StringVar(&chatSession, "session", "", "会话 ID（为空时自动生成）")
	chatCmd.Flags().StringVarP(&chatNamespace, "namespace", "n", "", "默认关注的 namespace")
	chatCmd.Flags().StringVar(&chatPod, "pod", "", "默认关注的 pod")
	chatCmd.Flags().BoolVar(&chatProgress, "progress", true, "显示各 agent 的中间输出")
}
