package console

import (
	"context"
	"errors"
	"strings"
	"testing"

	"tracerbot/pkg/bus"

	tea "github.com/charmbracelet/bubbletea"
)

func readyModel(submitFn SubmitFunc) *model {
	m := newModel(submitFn, RuntimeInfo{ChatID: "local", NLUEndpoint: "http://rasa/webhook"})
	m.booting = false
	return m
}

func TestSendPublishesOutbound(t *testing.T) {
	mb := bus.NewMessageBus()
	t.Cleanup(mb.Close)

	adapter, err := NewAdapter(mb, nil, WithChatID("tester"))
	if err != nil {
		t.Fatalf("NewAdapter error: %v", err)
	}
	ctx := context.Background()

	if err := adapter.SendText(ctx, "tester", "Pilih status\n1. A"); err != nil {
		t.Fatalf("SendText error: %v", err)
	}
	if err := adapter.SendFile(ctx, "tester", "https://cdn.test/r.pdf", "r.pdf", "Rekap"); err != nil {
		t.Fatalf("SendFile error: %v", err)
	}

	text, _ := mb.ConsumeOutbound(ctx)
	if text.Channel != "console" || text.ChatID != "tester" || text.Kind != bus.OutboundText || text.Content != "Pilih status\n1. A" {
		t.Fatalf("text outbound = %#v", text)
	}
	if text.SessionKey != "console:tester" {
		t.Fatalf("session key = %q", text.SessionKey)
	}

	file, _ := mb.ConsumeOutbound(ctx)
	if file.Kind != bus.OutboundFile || file.Filename != "r.pdf" || file.Content != "Rekap" {
		t.Fatalf("file outbound = %#v", file)
	}
}

func TestSendFailsOnClosedBus(t *testing.T) {
	mb := bus.NewMessageBus()
	adapter, _ := NewAdapter(mb, nil)
	mb.Close()

	if err := adapter.SendImage(context.Background(), "local", "u", ""); err == nil {
		t.Fatal("expected error on closed bus")
	}
}

func TestInboundMessage(t *testing.T) {
	adapter, _ := NewAdapter(bus.NewMessageBus(), nil)

	msg := adapter.inbound("  1 ")
	if msg.Channel != "console" || msg.ChatID != "local" || msg.SessionKey != "console:local" {
		t.Fatalf("inbound = %#v", msg)
	}
	if msg.Content != "1" || msg.RequestID == "" || msg.ReceivedAt.IsZero() {
		t.Fatalf("inbound = %#v", msg)
	}
}

func TestRunRequiresHandler(t *testing.T) {
	adapter, _ := NewAdapter(bus.NewMessageBus(), nil)
	if err := adapter.Run(context.Background(), nil); err == nil {
		t.Fatal("expected error without handler")
	}
}

func TestEnterSubmitsAndWaits(t *testing.T) {
	var submitted []string
	m := readyModel(func(text string) error {
		submitted = append(submitted, text)
		return nil
	})

	m.input.SetValue(" halo ")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatal("expected submit command")
	}
	if !m.waiting {
		t.Fatal("expected waiting state after submit")
	}
	if len(m.messages) != 1 || m.messages[0].role != "user" || m.messages[0].content != "halo" {
		t.Fatalf("messages = %#v", m.messages)
	}

	if msg := submitCmd(m.submitFn, "halo")(); msg != (submitResultMsg{}) {
		t.Fatalf("submit result = %#v", msg)
	}
	if len(submitted) != 1 || submitted[0] != "halo" {
		t.Fatalf("submitted = %#v", submitted)
	}

	m.Update(outboundMsg{message: bus.OutboundMessage{Kind: bus.OutboundText, Content: "Halo juga"}})
	if m.waiting {
		t.Fatal("expected waiting cleared by bot reply")
	}
	if last := m.messages[len(m.messages)-1]; last.role != "bot" || last.content != "Halo juga" {
		t.Fatalf("last message = %#v", last)
	}
	if conversationTurns(m.messages) != 1 {
		t.Fatalf("turns = %d", conversationTurns(m.messages))
	}
}

func TestSubmitErrorIsShown(t *testing.T) {
	m := readyModel(nil)
	m.waiting = true

	m.Update(submitResultMsg{err: errors.New("dispatcher closed")})
	if m.waiting || m.lastErr != "dispatcher closed" {
		t.Fatalf("waiting=%v lastErr=%q", m.waiting, m.lastErr)
	}
	if !strings.Contains(m.View(), "gagal") {
		t.Fatal("expected error status in view")
	}
}

func TestExitCommandQuits(t *testing.T) {
	m := readyModel(nil)
	m.input.SetValue("/exit")

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("expected tea.QuitMsg")
	}
}

func TestMessageFromOutbound(t *testing.T) {
	image := messageFromOutbound(bus.OutboundMessage{Kind: bus.OutboundImage, URL: "https://cdn.test/a.png", Content: "Sertifikat"})
	if image.role != "media" || image.content != "🖼 https://cdn.test/a.png\nSertifikat" {
		t.Fatalf("image = %#v", image)
	}

	file := messageFromOutbound(bus.OutboundMessage{Kind: bus.OutboundFile, URL: "https://cdn.test/r.pdf"})
	if file.content != "📄 https://cdn.test/r.pdf" {
		t.Fatalf("file = %#v", file)
	}
}

func TestIsExitCommand(t *testing.T) {
	for _, input := range []string{"exit", "/exit", " QUIT ", ":q"} {
		if !isExitCommand(input) {
			t.Fatalf("isExitCommand(%q) = false", input)
		}
	}
	if isExitCommand("1") {
		t.Fatal("menu answer must not exit")
	}
}

func TestHandleViewportMouseWheelUpDisablesFollowLog(t *testing.T) {
	t.Parallel()

	m := readyModel(nil)
	m.viewport.Width = 40
	m.viewport.Height = 5
	m.viewport.SetContent(strings.Repeat("line\n", 40))
	m.viewport.GotoBottom()
	m.followLog = true

	previousOffset := m.viewport.YOffset
	handled := m.handleViewportMouse(tea.MouseMsg{Action: tea.MouseActionPress, Button: tea.MouseButtonWheelUp})
	if !handled {
		t.Fatal("expected wheel-up mouse event to be handled")
	}
	if m.followLog {
		t.Fatal("expected followLog to be disabled after wheel-up scroll")
	}
	if m.viewport.YOffset >= previousOffset {
		t.Fatalf("expected YOffset to decrease after wheel-up scroll, got %d want < %d", m.viewport.YOffset, previousOffset)
	}
}

func TestHandleViewportMouseWheelDownAtBottomEnablesFollowLog(t *testing.T) {
	t.Parallel()

	m := readyModel(nil)
	m.viewport.Width = 40
	m.viewport.Height = 5
	m.viewport.SetContent(strings.Repeat("line\n", 40))
	m.viewport.GotoBottom()

	maxOffset := m.viewport.TotalLineCount() - m.viewport.Height
	m.viewport.SetYOffset(max(0, maxOffset-1))
	m.followLog = false

	handled := m.handleViewportMouse(tea.MouseMsg{Action: tea.MouseActionPress, Button: tea.MouseButtonWheelDown})
	if !handled {
		t.Fatal("expected wheel-down mouse event to be handled")
	}
	if !m.viewport.AtBottom() {
		t.Fatalf("expected viewport to reach bottom, got YOffset=%d", m.viewport.YOffset)
	}
	if !m.followLog {
		t.Fatal("expected followLog to re-enable when wheel-down reaches bottom")
	}
}

func TestHandleViewportMouseIgnoresNonWheelEvents(t *testing.T) {
	t.Parallel()

	m := readyModel(nil)
	handled := m.handleViewportMouse(tea.MouseMsg{Action: tea.MouseActionPress, Button: tea.MouseButtonLeft})
	if handled {
		t.Fatal("expected non-wheel mouse event to be ignored")
	}
}
