package reply

import (
	"strconv"
	"strings"
)

// Action is one outbound step for the transport, executed in plan order.
type Action interface {
	Kind() string
}

// SendText sends a plain message.
type SendText struct {
	Text string
}

// SendImage sends a picture by URL.
type SendImage struct {
	URL     string
	Caption string
}

// SendFile sends a document by URL.
type SendFile struct {
	URL      string
	Caption  string
	Filename string
}

// SendMenu sends a numbered option list, optionally under a prompt.
type SendMenu struct {
	Prompt string
	Titles []string
}

func (SendText) Kind() string  { return "send_text" }
func (SendImage) Kind() string { return "send_image" }
func (SendFile) Kind() string  { return "send_file" }
func (SendMenu) Kind() string  { return "send_menu" }

// Render formats the menu as the prompt followed by "1. title" lines.
func (m SendMenu) Render() string {
	var b strings.Builder

	prompt := strings.TrimSpace(m.Prompt)
	if prompt != "" {
		b.WriteString(prompt)
	}

	for i, title := range m.Titles {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". ")
		b.WriteString(title)
	}

	return b.String()
}

// Describe renders an action as a single log- and console-friendly string.
func Describe(action Action) string {
	switch a := action.(type) {
	case SendText:
		return a.Text
	case SendMenu:
		return a.Render()
	case SendImage:
		return joinNonEmpty("[image] "+a.URL, a.Caption)
	case SendFile:
		return joinNonEmpty("[file] "+a.URL, a.Caption)
	default:
		return ""
	}
}

func joinNonEmpty(head, tail string) string {
	if strings.TrimSpace(tail) == "" {
		return head
	}
	return head + "\n" + tail
}
