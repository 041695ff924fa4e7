package reply

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/elliotchance/pie/v2"

	"tracerbot/pkg/session"
)

// Kind tags a decoded reply directive.
type Kind string

const (
	KindText       Kind = "text"
	KindMenu       Kind = "menu"
	KindImage      Kind = "image"
	KindFile       Kind = "file"
	KindSurveyDone Kind = "survey_done"
	KindUnknown    Kind = "unknown"
)

// Directive is one instruction decoded from an NLU reply item.
type Directive struct {
	Kind     Kind
	Text     string
	Options  []session.Option
	URL      string
	Caption  string
	Filename string
}

type wireItem struct {
	Text    string          `json:"text"`
	Image   string          `json:"image"`
	Buttons []wireButton    `json:"buttons"`
	Custom  json.RawMessage `json:"custom"`
}

type wireButton struct {
	Title   string `json:"title"`
	Payload string `json:"payload"`
}

type wireCustom struct {
	Image      string          `json:"image"`
	Attachment json.RawMessage `json:"attachment"`
	SurveyDone any             `json:"survey_done"`
}

type wireAttachment struct {
	Type     string `json:"type"`
	Kind     string `json:"kind"`
	URL      string `json:"url"`
	Src      string `json:"src"`
	Caption  string `json:"caption"`
	Filename string `json:"filename"`
}

// Decode parses an NLU reply body. The body may be an array of items or one
// item object; any other JSON value decodes to no directives. Invalid JSON is
// an error.
func Decode(raw []byte) ([]Directive, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, nil
	}

	var items []json.RawMessage
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("decode reply array: %w", err)
		}
	case '{':
		items = []json.RawMessage{trimmed}
	default:
		if !json.Valid(trimmed) {
			return nil, fmt.Errorf("decode reply: invalid json")
		}
		return nil, nil
	}

	var directives []Directive
	for _, rawItem := range items {
		directives = append(directives, decodeItem(rawItem)...)
	}

	return directives, nil
}

// decodeItem emits directives in evaluation order: text or menu, image,
// attachment, survey completion.
func decodeItem(raw json.RawMessage) []Directive {
	var item wireItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return []Directive{{Kind: KindUnknown}}
	}

	var out []Directive

	text := strings.TrimSpace(item.Text)
	options := pie.Filter(
		pie.Map(item.Buttons, func(b wireButton) session.Option {
			return session.Option{Title: strings.TrimSpace(b.Title), Payload: strings.TrimSpace(b.Payload)}
		}),
		func(o session.Option) bool { return o.Title != "" },
	)

	switch {
	case len(options) > 0:
		out = append(out, Directive{Kind: KindMenu, Text: text, Options: options})
	case text != "":
		out = append(out, Directive{Kind: KindText, Text: text})
	}

	if image := strings.TrimSpace(item.Image); image != "" {
		out = append(out, Directive{Kind: KindImage, URL: image, Caption: text})
	}

	out = append(out, decodeCustom(item.Custom, text)...)

	if len(out) == 0 {
		return []Directive{{Kind: KindUnknown}}
	}
	return out
}

func decodeCustom(raw json.RawMessage, text string) []Directive {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil
	}

	var custom wireCustom
	if err := json.Unmarshal(raw, &custom); err != nil {
		return nil
	}

	var out []Directive
	if image := strings.TrimSpace(custom.Image); image != "" {
		out = append(out, Directive{Kind: KindImage, URL: image, Caption: text})
	}
	if file, ok := decodeAttachment(custom.Attachment, text); ok {
		out = append(out, file)
	}
	if done, ok := custom.SurveyDone.(bool); ok && done {
		out = append(out, Directive{Kind: KindSurveyDone})
	}

	return out
}

func decodeAttachment(raw json.RawMessage, text string) (Directive, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return Directive{}, false
	}

	var attachment wireAttachment
	if err := json.Unmarshal(raw, &attachment); err != nil {
		return Directive{}, false
	}

	url := strings.TrimSpace(attachment.URL)
	if url == "" {
		url = strings.TrimSpace(attachment.Src)
	}
	kind := strings.ToLower(strings.TrimSpace(attachment.Kind))
	if kind == "" {
		kind = strings.ToLower(strings.TrimSpace(attachment.Type))
	}
	if url == "" || kind != "pdf" {
		return Directive{}, false
	}

	caption := strings.TrimSpace(attachment.Caption)
	if caption == "" {
		caption = text
	}

	return Directive{
		Kind:     KindFile,
		URL:      url,
		Caption:  caption,
		Filename: strings.TrimSpace(attachment.Filename),
	}, true
}
