package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"github.com/wwwzy/SREAgent/internal/chat"
	"github.com/wwwzy/SREAgent/internal/engine"
	"github.com/wwwzy/SREAgent/internal/result"
	"github.com/wwwzy/SREAgent/internal/ui"
)

type ChatUI struct{}

func (u *ChatUI) Run(ctx context.Context, backend ui.ChatBackend, opts ui.ChatOptions) error {
	m := newChatModel(ctx, backend, opts)
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

type entryKind int

const (
	entryUser entryKind = iota
	entryAgent
	entryAnswer
	entryError
)

type entry struct {
	kind    entryKind
	agent   string
	content string
}

// displayMsg 为运行中推送的一条可见记录；replyMsg 表示运行结束。
type displayMsg struct{ rec *result.DisplayRecord }

type replyMsg struct {
	reply *chat.Reply
	err   error
}

type streamTickMsg struct{}
type cancelMsg struct{}

type chatModel struct {
	ctx     context.Context
	backend ui.ChatBackend
	opts    ui.ChatOptions

	entries []entry
	// pending 在运行期间接收 displayMsg，最后是一条 replyMsg
	pending <-chan tea.Msg

	width  int
	height int

	viewport   viewport.Model
	input      textinput.Model
	spinner    spinner.Model
	thinking   bool
	followTail bool

	streaming  bool
	streamIdx  int
	streamPos  int
	streamFull []rune

	renderer *glamour.TermRenderer
}

func newChatModel(ctx context.Context, backend ui.ChatBackend, opts ui.ChatOptions) chatModel {
	if opts.SessionID == "" {
		opts.SessionID = uuid.NewString()
	}

	s := spinner.New()
	s.Spinner = spinner.MiniDot

	ti := textinput.New()
	ti.Placeholder = "输入问题，回车发送；/reset 清空上下文，/ns /pod 设置目标"
	ti.Prompt = ""
	ti.Focus()

	vp := viewport.New(0, 0)
	vp.SetContent("")

	return chatModel{
		ctx:        ctx,
		backend:    backend,
		opts:       opts,
		viewport:   vp,
		input:      ti,
		spinner:    s,
		followTail: true,
		streamIdx:  -1,
	}
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, waitCancel(m.ctx))
}

func waitCancel(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		<-ctx.Done()
		return cancelMsg{}
	}
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case cancelMsg:
		return m, tea.Quit

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		inputHeight := 3
		footerHeight := 1
		chatHeight := max(1, m.height-inputHeight-footerHeight-1)

		m.viewport.Width = m.width
		m.viewport.Height = chatHeight
		m.input.Width = max(10, m.width-4)

		m.resetMarkdownRenderer()
		m.updateViewportContent(m.renderChat())
		return m, nil

	case spinner.TickMsg:
		if m.thinking {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil

	case displayMsg:
		m.entries = append(m.entries, entry{kind: entryAgent, agent: msg.rec.Agent, content: msg.rec.Content})
		m.updateViewportContent(m.renderChat())
		return m, waitFor(m.pending)

	case replyMsg:
		m.thinking = false
		m.pending = nil
		if msg.reply == nil {
			m.entries = append(m.entries, entry{kind: entryError, content: fmt.Sprintf("发生错误：%v", msg.err)})
			m.updateViewportContent(m.renderChat())
			return m, nil
		}
		answer := strings.TrimSpace(msg.reply.Answer)
		if answer == "" {
			answer = "(无最终回复)"
		}
		m.entries = append(m.entries, entry{kind: entryAnswer, content: answer})
		m.startStreaming(len(m.entries) - 1)
		m.updateViewportContent(m.renderChat())
		return m, streamTick()

	case streamTickMsg:
		if !m.streaming {
			return m, nil
		}
		m.streamPos = min(len(m.streamFull), m.streamPos+32)
		m.updateViewportContent(m.renderChat())
		if m.streamPos >= len(m.streamFull) {
			m.streaming = false
			m.updateViewportContent(m.renderChat())
			return m, nil
		}
		return m, streamTick()

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "pgup", "pageup":
			m.viewport.PageUp()
			m.followTail = false
			return m, nil
		case "pgdown", "pagedown":
			m.viewport.PageDown()
			if m.viewport.AtBottom() {
				m.followTail = true
			}
			return m, nil
		}

		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)

		if msg.String() != "enter" || m.thinking {
			return m, cmd
		}
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return m, cmd
		}
		m.input.SetValue("")

		switch name, arg, _ := strings.Cut(text, " "); strings.ToLower(name) {
		case "exit", "quit":
			return m, tea.Quit
		case "/reset":
			m.backend.Reset(m.opts.SessionID)
			m.opts.Namespace, m.opts.Pod = "", ""
			m.entries = nil
			m.streaming = false
			m.updateViewportContent(m.renderChat())
			return m, cmd
		case "/ns":
			m.opts.Namespace = strings.TrimSpace(arg)
			if m.opts.Namespace == "" {
				m.backend.ClearTarget(m.opts.SessionID, true, false)
			}
			return m, cmd
		case "/pod":
			m.opts.Pod = strings.TrimSpace(arg)
			if m.opts.Pod == "" {
				m.backend.ClearTarget(m.opts.SessionID, false, true)
			}
			return m, cmd
		}

		m.entries = append(m.entries, entry{kind: entryUser, content: text})
		m.followTail = true
		m.thinking = true
		m.updateViewportContent(m.renderChat())

		m.pending = startChat(m.ctx, m.backend, chat.Request{
			SessionID: m.opts.SessionID,
			Message:   text,
			Namespace: m.opts.Namespace,
			Pod:       m.opts.Pod,
		}, m.backend.Keyword(), m.opts.ShowProgress)
		return m, tea.Batch(cmd, m.spinner.Tick, waitFor(m.pending))
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// startChat 在后台运行一次对话，事件与结果依次写入返回的 channel。
func startChat(ctx context.Context, backend ui.ChatBackend, req chat.Request, keyword string, progress bool) <-chan tea.Msg {
	ch := make(chan tea.Msg, 16)
	go func() {
		defer close(ch)
		var sink engine.Sink
		if progress {
			sink = func(ctx context.Context, ev engine.Event) error {
				rec, ok := result.FormatForDisplay(ev, keyword)
				if !ok {
					return nil
				}
				select {
				case ch <- displayMsg{rec: rec}:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
		reply, err := backend.Chat(ctx, req, sink)
		if errors.Is(err, engine.ErrCancelled) && reply != nil && reply.Answer == "" {
			reply.Answer = "(已取消)"
		}
		ch <- replyMsg{reply: reply, err: err}
	}()
	return ch
}

func waitFor(ch <-chan tea.Msg) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return msg
	}
}

func streamTick() tea.Cmd {
	return tea.Tick(45*time.Millisecond, func(time.Time) tea.Msg { return streamTickMsg{} })
}

func (m *chatModel) startStreaming(idx int) {
	m.streaming = true
	m.streamIdx = idx
	m.streamFull = []rune(m.entries[idx].content)
	m.streamPos = min(len(m.streamFull), 32)
}

func (m chatModel) View() string {
	title := "SREAgent Chat"
	if team := m.backend.Team(); team != "" {
		title += " · " + team
	}
	if m.opts.Namespace != "" {
		title += " · ns/" + m.opts.Namespace
	}
	header := lipgloss.NewStyle().Bold(true).Render(title)

	return lipgloss.JoinVertical(lipgloss.Left, header, m.viewport.View(), m.inputView(), m.footerView())
}

func (m chatModel) footerView() string {
	left := "Enter 发送 | PgUp/PgDn 滚动 | Ctrl+C 退出"
	right := ""
	if m.thinking {
		right = m.spinner.View() + " Agents working..."
	}
	style := lipgloss.NewStyle().Width(m.width).Padding(0, 1)
	gap := lipgloss.NewStyle().Width(max(0, m.width-lipgloss.Width(left)-lipgloss.Width(right)-2)).Render("")
	return style.Render(lipgloss.JoinHorizontal(lipgloss.Left, left, gap, right))
}

func (m chatModel) inputView() string {
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		Padding(0, 1).
		Width(max(1, m.input.Width+2)).
		Render(m.input.View())
}

func (m *chatModel) updateViewportContent(content string) {
	oldYOffset := m.viewport.YOffset
	m.viewport.SetContent(content)
	if m.followTail {
		m.viewport.GotoBottom()
		return
	}
	m.viewport.SetYOffset(oldYOffset)
}

func (m *chatModel) resetMarkdownRenderer() {
	if m.width <= 0 {
		return
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(m.bubbleMaxContentWidth()),
	)
	if err == nil {
		m.renderer = r
	}
}

func (m chatModel) renderChat() string {
	var b strings.Builder
	for i, e := range m.entries {
		content := e.content
		if m.streaming && m.streamIdx == i {
			content = string(m.streamFull[:m.streamPos])
			if strings.TrimSpace(content) == "" {
				content = "…"
			}
		}
		var line string
		switch e.kind {
		case entryUser:
			line = m.renderUser(content)
		case entryAnswer:
			line = m.renderAnswer(content, m.streaming && m.streamIdx == i)
		case entryError:
			line = m.renderNote("ERROR", content, lipgloss.Color("160"))
		default:
			line = m.renderNote(e.agent, content, lipgloss.Color("240"))
		}
		b.WriteString(line)
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m chatModel) bubbleMaxContentWidth() int {
	if m.width <= 0 {
		return 72
	}
	return max(20, m.width-8)
}

func (m chatModel) desiredContentWidth(s string) int {
	return min(m.bubbleMaxContentWidth(), max(10, maxLineWidth(s)))
}

func (m chatModel) wrapToWidth(s string, width int) string {
	if width <= 0 {
		return s
	}
	return lipgloss.NewStyle().Width(width).Render(s)
}

func maxLineWidth(s string) int {
	s = strings.TrimRight(s, "\n")
	if strings.TrimSpace(s) == "" {
		return 0
	}
	w := 0
	for _, line := range strings.Split(s, "\n") {
		w = max(w, lipgloss.Width(strings.TrimRight(line, " ")))
	}
	return w
}

// renderAnswer 在逐字输出结束后才做 markdown 渲染。
func (m chatModel) renderAnswer(content string, partial bool) string {
	md := content
	if !partial && m.renderer != nil && strings.TrimSpace(md) != "" {
		if rendered, err := m.renderer.Render(md); err == nil {
			md = strings.TrimRight(rendered, "\n")
		}
	}
	md = m.wrapToWidth(md, m.desiredContentWidth(md))
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("63")).
		Padding(0, 1).
		MaxWidth(max(20, m.width-4)).
		Render(md)
}

func (m chatModel) renderUser(content string) string {
	content = m.wrapToWidth(content, m.desiredContentWidth(content))
	bubble := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("205")).
		Padding(0, 1).
		MaxWidth(max(20, m.width-4)).
		Render(content)
	return lipgloss.NewStyle().Width(m.width).Align(lipgloss.Right).Render(bubble)
}

func (m chatModel) renderNote(label, content string, color lipgloss.Color) string {
	body := content
	if strings.TrimSpace(body) == "" {
		body = "(无输出)"
	}
	body = m.wrapToWidth(body, m.desiredContentWidth(body))
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(color).
		Foreground(lipgloss.Color("245")).
		Padding(0, 1).
		MaxWidth(max(20, m.width-4)).
		Render(label + "\n" + body)
}
