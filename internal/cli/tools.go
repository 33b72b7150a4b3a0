package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/wwwzy/SREAgent/internal/agent"
	"github.com/wwwzy/SREAgent/internal/app"
	"github.com/wwwzy/SREAgent/internal/logging"
	"github.com/wwwzy/SREAgent/internal/registry"
	"github.com/wwwzy/SREAgent/internal/tools"
)

var toolsTeam string

// toolsCmd 按配置连接后端并列出可用工具与团队成员，不需要调用模型。
var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "列出已注册的工具与团队成员",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		logger, err := logging.New(cfg.Log)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		reg := registry.New(logger.Named("registry"))
		reg.Initialize(ctx, tools.Sources(app.NewBackends(cfg, logger))...)

		team := toolsTeam
		if team == "" {
			team = cfg.Workflow.Team
		}
		dir, err := agent.NewDirectory(team, reg)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "Category\tCount\tTools")
		fmt.Fprintln(w, "--------\t-----\t-----")
		for _, s := range reg.Summary(ctx) {
			fmt.Fprintf(w, "%s\t%d\t%s\n", s.Category, s.Count, strings.Join(s.Tools, ", "))
		}
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Agent (team %s)\tTools\tHandoffs\n", dir.Team().Name)
		fmt.Fprintln(w, "-----\t-----\t--------")
		for _, a := range dir.GetAll() {
			fmt.Fprintf(w, "%s\t%d\t%s\n", a.Name, len(a.Tools), strings.Join(a.HandoffTargets(), ", "))
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(toolsCmd)
	toolsCmd.Flags().StringVar(&toolsTeam, "team", "", "团队名称（默认取 workflow.team）")
}
