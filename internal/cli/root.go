package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wwwzy/SREAgent/internal/config"
)

var (
	cfgFile string
	cfg     *config.Config
)

// Version 在构建时通过 -ldflags "-X github.com/wwwzy/SREAgent/internal/cli.Version=..." 注入。
var Version = "dev"

// rootCmd 是没有子命令时调用的基础命令
var rootCmd = &cobra.Command{
	Use:   "sreagent",
	Short: "SREAgent 是一个面向 Kubernetes 的多 Agent 运维助手",
	Long: `SREAgent 由编排 agent 把问题移交给指标、日志、Kubernetes 等专家 agent，
汇总各方结论后回答用户，并在多轮对话之间保留上下文。`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

// Execute 由 main.main() 调用，只需要调用一次。
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "配置文件（默认按 ./config.yaml、$HOME/.sreagent/config.yaml 搜索）")
}

// loadConfig 读取配置文件和环境变量，在每个子命令执行前调用。
func loadConfig(*cobra.Command, []string) error {
	c, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}
	cfg = c
	return nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "显示版本",
	// 不需要加载配置
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "sreagent %s\n", Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
