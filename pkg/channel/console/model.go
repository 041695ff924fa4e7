package console

import (
	"fmt"
	"strings"
	"time"

	"tracerbot/pkg/bus"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// SubmitFunc hands one typed line to the bot.
type SubmitFunc func(text string) error

// RuntimeInfo is shown in the console header.
type RuntimeInfo struct {
	ChatID      string
	NLUEndpoint string
}

type chatMessage struct {
	role    string
	content string
	at      time.Time
}

type outboundMsg struct {
	message bus.OutboundMessage
}

type submitResultMsg struct {
	err error
}

type bootTickMsg struct{}

type model struct {
	submitFn SubmitFunc
	runtime  RuntimeInfo

	theme     theme
	spinner   spinner.Model
	input     textinput.Model
	viewport  viewport.Model
	messages  []chatMessage
	width     int
	height    int
	isReady   bool
	waiting   bool
	lastErr   string
	booting   bool
	bootStep  int
	followLog bool
}

func newModel(submitFn SubmitFunc, info RuntimeInfo) *model {
	spin := spinner.New()
	spin.Spinner = spinner.Points
	spin.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("74"))

	in := textinput.New()
	in.Prompt = ""
	in.Placeholder = "Ketik pesan atau nomor pilihan..."
	in.Focus()
	in.CharLimit = 0

	vp := viewport.New(80, 12)

	return &model{
		submitFn:  submitFn,
		runtime:   info,
		theme:     defaultTheme(),
		spinner:   spin,
		input:     in,
		viewport:  vp,
		width:     100,
		height:    28,
		booting:   true,
		followLog: true,
	}
}

func (m *model) Init() tea.Cmd {
	return bootTickCmd()
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		m.resizeComponents()
		m.refreshViewport(false)
		m.isReady = true
		return m, nil
	case bootTickMsg:
		if !m.booting {
			return m, nil
		}

		m.bootStep++
		if m.bootStep < len(bootScriptLines())+1 {
			return m, bootTickCmd()
		}

		m.booting = false
		return m, textinput.Blink
	case tea.MouseMsg:
		if m.handleViewportMouse(typed) {
			return m, nil
		}
	case tea.KeyMsg:
		switch typed.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		}

		if m.booting {
			return m, nil
		}

		if handled := m.handleViewportKey(typed); handled {
			return m, nil
		}

		if typed.String() == "enter" {
			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				return m, nil
			}
			if isExitCommand(text) {
				return m, tea.Quit
			}

			m.lastErr = ""
			m.messages = append(m.messages, chatMessage{role: "user", content: text, at: time.Now()})
			m.input.SetValue("")
			m.waiting = true
			m.followLog = true
			m.refreshViewport(true)
			return m, tea.Batch(m.spinner.Tick, submitCmd(m.submitFn, text))
		}
	}

	m.input, cmd = m.input.Update(msg)

	switch typed := msg.(type) {
	case spinner.TickMsg:
		if !m.waiting {
			return m, nil
		}
		m.spinner, cmd = m.spinner.Update(typed)
		return m, cmd
	case submitResultMsg:
		if typed.err != nil {
			m.waiting = false
			m.lastErr = typed.err.Error()
			m.messages = append(m.messages, chatMessage{role: "error", content: typed.err.Error(), at: time.Now()})
			m.refreshViewport(false)
		}
	case outboundMsg:
		m.waiting = false
		m.messages = append(m.messages, messageFromOutbound(typed.message))
		m.refreshViewport(false)
	}

	return m, cmd
}

func (m *model) View() string {
	if !m.isReady {
		m.resizeComponents()
		m.refreshViewport(false)
	}
	if m.booting {
		return m.bootView()
	}

	header := m.theme.header.Width(m.width - 2).Render("🎓 Tracer Study Console")
	meta := m.theme.headerMeta.Render(fmt.Sprintf(
		"channel:console · chat:%s · nlu:%s · turns:%d",
		displayOrNA(m.runtime.ChatID),
		displayOrNA(m.runtime.NLUEndpoint),
		conversationTurns(m.messages),
	))
	line := m.theme.divider.Width(m.width - 2).Render(strings.Repeat("═", max(8, m.width-2)))

	status := m.theme.status.Render("💡 Enter kirim  ·  PgUp/PgDn gulir  ·  End terbaru  ·  🛑 Ctrl+C/Esc keluar")
	if m.waiting {
		status = m.theme.statusBusy.Render(fmt.Sprintf("%s menunggu balasan bot...", m.spinner.View()))
	}
	if m.lastErr != "" {
		status = m.theme.statusErr.Render("🚨 pesan gagal dikirim, coba lagi")
	}

	parts := []string{
		header,
		meta,
		line,
		m.theme.viewport.Width(m.width - 2).Render(m.viewport.View()),
		status,
		m.theme.inputLabel.Render("🧑‍🎓 Anda") + " " + m.theme.hint.Render("(ketik /exit, quit, atau :q)"),
		m.theme.input.Width(m.width - 2).Render(m.input.View()),
	}

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m *model) resizeComponents() {
	w := m.width - 6
	if w < 50 {
		w = 50
	}
	h := m.height - 10
	if h < 8 {
		h = 8
	}

	m.viewport.Width = w
	m.viewport.Height = h
	m.input.Width = w - 2
}

func (m *model) refreshViewport(forceBottom bool) {
	previousOffset := m.viewport.YOffset
	var sections []string
	for _, item := range m.messages {
		title, box := m.cardStyles(item.role)
		if box == nil {
			continue
		}
		stamp := m.theme.hint.Render(item.at.Format("15:04"))
		sections = append(sections, lipgloss.JoinVertical(lipgloss.Left,
			title+" "+stamp,
			box.Width(m.viewport.Width).Render(strings.TrimSpace(item.content)),
		))
	}

	m.viewport.SetContent(strings.Join(sections, "\n\n"))
	if m.followLog || forceBottom {
		m.viewport.GotoBottom()
		m.followLog = true
		return
	}

	maxOffset := m.viewport.TotalLineCount() - m.viewport.Height
	if maxOffset < 0 {
		maxOffset = 0
	}
	if previousOffset > maxOffset {
		previousOffset = maxOffset
	}
	m.viewport.SetYOffset(previousOffset)
}

func (m *model) cardStyles(role string) (string, *lipgloss.Style) {
	switch role {
	case "user":
		return m.theme.userTitle.Render("[ 🧑‍🎓 ]"), &m.theme.userBox
	case "bot":
		return m.theme.botTitle.Render("[ 🤖 ]"), &m.theme.botBox
	case "media":
		return m.theme.mediaTitle.Render("[ 📎 ]"), &m.theme.mediaBox
	case "error":
		return m.theme.errorTitle.Render("[ERROR]"), &m.theme.errorBox
	default:
		return "", nil
	}
}

func (m *model) bootView() string {
	header := m.theme.header.Width(m.width - 2).Render("🎓 Tracer Study Console")
	meta := m.theme.headerMeta.Render("starting")
	line := m.theme.divider.Width(m.width - 2).Render(strings.Repeat("═", max(8, m.width-2)))

	script := bootScriptLines()
	count := min(m.bootStep, len(script))
	visible := make([]string, 0, count+1)
	for i := 0; i < count; i++ {
		visible = append(visible, m.theme.bootLine.Render(script[i]))
	}
	if m.bootStep > len(script) {
		visible = append(visible, m.theme.bootDone.Render("✅ console siap"))
	}

	body := m.theme.viewport.Width(m.width - 2).Render(strings.Join(visible, "\n"))
	return lipgloss.JoinVertical(lipgloss.Left, header, meta, line, body)
}

func (m *model) handleViewportKey(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "pgup", "ctrl+b", "alt+up", "ctrl+up":
		m.viewport.PageUp()
		m.followLog = false
		return true
	case "pgdown", "ctrl+f", "alt+down", "ctrl+down":
		m.viewport.PageDown()
		if m.viewport.AtBottom() {
			m.followLog = true
		}
		return true
	case "home":
		m.viewport.GotoTop()
		m.followLog = false
		return true
	case "end":
		m.viewport.GotoBottom()
		m.followLog = true
		return true
	default:
		return false
	}
}

func (m *model) handleViewportMouse(msg tea.MouseMsg) bool {
	if msg.Action != tea.MouseActionPress {
		return false
	}

	switch msg.Button {
	case tea.MouseButtonWheelUp:
		m.viewport.ScrollUp(3)
		m.followLog = false
		return true
	case tea.MouseButtonWheelDown:
		m.viewport.ScrollDown(3)
		if m.viewport.AtBottom() {
			m.followLog = true
		}
		return true
	default:
		return false
	}
}

func messageFromOutbound(msg bus.OutboundMessage) chatMessage {
	at := time.Now()
	switch msg.Kind {
	case bus.OutboundImage:
		return chatMessage{role: "media", content: joinLines("🖼 "+msg.URL, msg.Content), at: at}
	case bus.OutboundFile:
		name := msg.Filename
		if name == "" {
			name = msg.URL
		}
		return chatMessage{role: "media", content: joinLines("📄 "+name, msg.Content), at: at}
	default:
		return chatMessage{role: "bot", content: msg.Content, at: at}
	}
}

func joinLines(head, tail string) string {
	if strings.TrimSpace(tail) == "" {
		return head
	}
	return head + "\n" + tail
}

func bootTickCmd() tea.Cmd {
	return tea.Tick(80*time.Millisecond, func(_ time.Time) tea.Msg {
		return bootTickMsg{}
	})
}

func bootScriptLines() []string {
	return []string{
		"[BOOT] memuat konfigurasi",
		"[BOOT] menghubungkan webhook NLU",
		"[BOOT] menyiapkan sesi percakapan",
	}
}

func submitCmd(submitFn SubmitFunc, text string) tea.Cmd {
	return func() tea.Msg {
		if submitFn == nil {
			return submitResultMsg{}
		}
		return submitResultMsg{err: submitFn(text)}
	}
}

func displayOrNA(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "n/a"
	}

	return trimmed
}

func conversationTurns(messages []chatMessage) int {
	count := 0
	for _, message := range messages {
		if message.role == "user" {
			count++
		}
	}

	return count
}

func isExitCommand(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "exit", "/exit", "quit", ":q":
		return true
	default:
		return false
	}
}
