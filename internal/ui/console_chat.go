package ui

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/wwwzy/SREAgent/internal/chat"
	"github.com/wwwzy/SREAgent/internal/engine"
	"github.com/wwwzy/SREAgent/internal/result"
)

type ConsoleChatUI struct {
	In  io.Reader
	Out io.Writer
}

func (u *ConsoleChatUI) Run(ctx context.Context, backend ChatBackend, opts ChatOptions) error {
	in := u.In
	if in == nil {
		return fmt.Errorf("console ui: In is nil")
	}
	out := u.Out
	if out == nil {
		return fmt.Errorf("console ui: Out is nil")
	}

	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	namespace, pod := opts.Namespace, opts.Pod
	keyword := backend.Keyword()

	reader := bufio.NewReader(in)
	fmt.Fprintf(out, "进入 SREAgent 对话模式（团队 %s：%s）。\n", backend.Team(), strings.Join(backend.Agents(), ", "))
	fmt.Fprintln(out, "输入 exit/quit 退出，/reset 清空上下文，/ns <namespace> 与 /pod <pod> 设置目标。")
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "已退出。")
			return nil
		default:
		}

		fmt.Fprint(out, "你: ")
		line, err := reader.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return fmt.Errorf("读取输入失败: %w", err)
			}
			// 最后一行没有换行时先处理，下一轮再退出
			if strings.TrimSpace(line) == "" {
				fmt.Fprintln(out, "\n已退出。")
				return nil
			}
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		switch cmd, arg, _ := strings.Cut(line, " "); strings.ToLower(cmd) {
		case "exit", "quit":
			fmt.Fprintln(out, "已退出。")
			return nil
		case "/reset":
			backend.Reset(sessionID)
			namespace, pod = "", ""
			fmt.Fprintln(out, "上下文已清空。")
			continue
		case "/ns":
			namespace = strings.TrimSpace(arg)
			if namespace == "" {
				backend.ClearTarget(sessionID, true, false)
			}
			fmt.Fprintf(out, "namespace: %s\n", orNone(namespace))
			continue
		case "/pod":
			pod = strings.TrimSpace(arg)
			if pod == "" {
				backend.ClearTarget(sessionID, false, true)
			}
			fmt.Fprintf(out, "pod: %s\n", orNone(pod))
			continue
		}

		var sink engine.Sink
		if opts.ShowProgress {
			sink = func(_ context.Context, ev engine.Event) error {
				if rec, ok := result.FormatForDisplay(ev, keyword); ok {
					fmt.Fprintf(out, "  [%s] %s\n", rec.Agent, rec.Content)
				}
				return nil
			}
		}

		reply, err := backend.Chat(ctx, chat.Request{
			SessionID: sessionID,
			Message:   line,
			Namespace: namespace,
			Pod:       pod,
		}, sink)
		if errors.Is(err, engine.ErrCancelled) {
			fmt.Fprintln(out, "已退出。")
			return nil
		}
		if reply == nil {
			return err
		}

		answer := strings.TrimSpace(reply.Answer)
		if answer == "" {
			answer = "(无最终回复)"
		}
		fmt.Fprintf(out, "助手: %s\n", answer)
		if len(reply.Participants) > 0 {
			fmt.Fprintf(out, "(参与: %s)\n", strings.Join(displayNames(reply.Participants), ", "))
		}
		fmt.Fprintln(out)
	}
}

func displayNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, result.DisplayName(n))
	}
	return out
}

func orNone(s string) string {
	if s == "" {
		return "(未设置)"
	}
	return s
}
