package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/wwwzy/SREAgent/internal/storage"
)

// storageCmd represents the storage command
var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "管理存储和数据库",
	Long:  `提供查看数据库概况、查询与清理审计记录和运行记录的命令。`,
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "显示数据库统计概况",
	RunE:  runInfo,
}

var (
	pruneDays  int
	pruneBatch int
)

var pruneAuditCmd = &cobra.Command{
	Use:   "prune-audit",
	Short: "清理旧的审计记录",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPrune(cmd, "audit records", func(s *storage.Storage) deleteFunc { return s.DeleteAuditRecordsBeforeLimited })
	},
}

var pruneRunsCmd = &cobra.Command{
	Use:   "prune-runs",
	Short: "清理旧的运行记录",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPrune(cmd, "run records", func(s *storage.Storage) deleteFunc { return s.DeleteRunRecordsBeforeLimited })
	},
}

var (
	listLimit   int
	listTrace   string
	listSession string
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "查询最近的工具调用审计记录",
	RunE:  runAudit,
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "查询最近的对话运行记录",
	RunE:  runRuns,
}

func init() {
	rootCmd.AddCommand(storageCmd)
	storageCmd.AddCommand(infoCmd, pruneAuditCmd, pruneRunsCmd, auditCmd, runsCmd)

	for _, c := range []*cobra.Command{pruneAuditCmd, pruneRunsCmd} {
		c.Flags().IntVar(&pruneDays, "days", 0, "保留最近 N 天的记录")
		c.Flags().IntVar(&pruneBatch, "batch", 500, "每批删除的行数（上限 900）")
	}
	for _, c := range []*cobra.Command{auditCmd, runsCmd} {
		c.Flags().IntVar(&listLimit, "limit", 20, "最多显示的条数")
		c.Flags().StringVar(&listTrace, "trace", "", "按 trace id 过滤")
		c.Flags().StringVar(&listSession, "session", "", "按会话 id 过滤")
	}
}

type deleteFunc func(ctx context.Context, before time.Time, limit int) (int64, error)

func openStore(ctx context.Context) (*storage.Storage, error) {
	if cfg == nil {
		return nil, errors.New("config not loaded")
	}
	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	return store, nil
}

func runPrune(cmd *cobra.Command, table string, pick func(*storage.Storage) deleteFunc) error {
	if pruneDays <= 0 {
		_ = cmd.Usage()
		return errors.New("must specify --days")
	}
	ctx := context.Background()
	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	del := pick(store)
	before := time.Now().UTC().AddDate(0, 0, -pruneDays)
	fmt.Printf("Pruning %s older than %d days (before %s)...\n", table, pruneDays, before.Format(time.RFC3339))

	// 分批删除，避免长时间持有写锁
	var total int64
	for {
		n, err := del(ctx, before, pruneBatch)
		if err != nil {
			return fmt.Errorf("prune %s: %w", table, err)
		}
		total += n
		if n == 0 {
			break
		}
	}
	fmt.Printf("Prune completed. Deleted %d records.\n", total)
	return nil
}

func runAudit(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	recs, err := store.QueryAuditRecords(ctx, storage.AuditQuery{
		TraceID:   listTrace,
		SessionID: listSession,
		Limit:     listLimit,
		Desc:      true,
	})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Time\tTrace\tAgent\tAction\tStatus\tDuration")
	for _, r := range recs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.CreatedAt.Local().Format(time.DateTime), shortID(r.TraceID), r.Agent, r.Action, r.Status,
			duration(r.StartedAt, r.FinishedAt))
	}
	return w.Flush()
}

func runRuns(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	recs, err := store.QueryRunRecords(ctx, storage.RunQuery{
		TraceID:   listTrace,
		SessionID: listSession,
		Limit:     listLimit,
		Desc:      true,
	})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Time\tTrace\tTeam\tMode\tReason\tEvents\tParticipants")
	for _, r := range recs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			r.StartedAt.Local().Format(time.DateTime), shortID(r.TraceID), r.Team, r.Mode, r.Reason, r.EventCount,
			strings.ReplaceAll(r.Participants, ",", ", "))
	}
	return w.Flush()
}

func runInfo(cmd *cobra.Command, args []string) error {
	if cfg == nil {
		return errors.New("config not loaded")
	}
	ctx := context.Background()

	dbPath := cfg.Storage.Path
	if abs, err := filepath.Abs(dbPath); err == nil {
		dbPath = abs
	}
	var dbSize string
	if info, err := os.Stat(dbPath); err != nil {
		if os.IsNotExist(err) {
			dbSize = "Not Found (Will be created on first run)"
		} else {
			dbSize = fmt.Sprintf("Error: %v", err)
		}
	} else {
		dbSize = fmt.Sprintf("%.2f MB (%s)", float64(info.Size())/1024/1024, dbPath)
	}

	store, err := openStore(ctx)
	if err != nil {
		fmt.Printf("Database File: %s\n", dbSize)
		return err
	}
	defer store.Close()

	auditCount, err := store.CountAuditRecords(ctx)
	if err != nil {
		return err
	}
	runCount, err := store.CountRunRecords(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Database File: %s\n\n", dbSize)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "Table\tCount")
	fmt.Fprintln(w, "-----\t-----")
	fmt.Fprintf(w, "AuditRecords\t%d\n", auditCount)
	fmt.Fprintf(w, "RunRecords\t%d\n", runCount)
	return w.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func duration(start, end time.Time) string {
	if start.IsZero() || end.IsZero() {
		return "-"
	}
	return end.Sub(start).Round(time.Millisecond).String()
}
