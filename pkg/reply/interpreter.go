package reply

import (
	"strings"
	"time"

	"github.com/elliotchance/pie/v2"

	"tracerbot/pkg/session"
)

// DefaultMenuTTL is how long an offered menu accepts numeric answers.
const DefaultMenuTTL = 5 * time.Minute

// Plan is the interpreted form of one NLU reply.
type Plan struct {
	// Actions run in order on the chat's transport.
	Actions []Action
	// Menu, when set, replaces the chat's pending menu.
	Menu *session.PendingMenu
	// BotTexts are appended to the transcript as bot entries.
	BotTexts []string
	// SurveyDone asks for the transcript upload and the reminder.
	SurveyDone bool
	// Unknown counts reply items that carried nothing recognizable.
	Unknown int
}

// Interpreter turns reply directives into a Plan.
type Interpreter struct {
	menuTTL  time.Duration
	fallback string
	now      func() time.Time
}

// NewInterpreter builds an interpreter. fallback is sent when a reply yields
// no actions and does not complete the survey.
func NewInterpreter(menuTTL time.Duration, fallback string, now func() time.Time) *Interpreter {
	if menuTTL <= 0 {
		menuTTL = DefaultMenuTTL
	}
	if now == nil {
		now = time.Now
	}

	return &Interpreter{
		menuTTL:  menuTTL,
		fallback: strings.TrimSpace(fallback),
		now:      now,
	}
}

// Interpret decodes a raw reply and plans it. Undecodable bodies are treated
// as empty replies; the decode error is returned for logging.
func (i *Interpreter) Interpret(raw []byte) (Plan, error) {
	directives, err := Decode(raw)
	return i.Plan(directives), err
}

// Plan maps directives to actions in order.
func (i *Interpreter) Plan(directives []Directive) Plan {
	var plan Plan

	for _, d := range directives {
		switch d.Kind {
		case KindText:
			plan.Actions = append(plan.Actions, SendText{Text: d.Text})
			plan.BotTexts = append(plan.BotTexts, d.Text)
		case KindMenu:
			plan.Actions = append(plan.Actions, SendMenu{
				Prompt: d.Text,
				Titles: pie.Map(d.Options, func(o session.Option) string { return o.Title }),
			})
			if d.Text != "" {
				plan.BotTexts = append(plan.BotTexts, d.Text)
			}
			now := i.now()
			plan.Menu = &session.PendingMenu{
				Options:   d.Options,
				OfferedAt: now,
				ExpiresAt: now.Add(i.menuTTL),
			}
		case KindImage:
			plan.Actions = append(plan.Actions, SendImage{URL: d.URL, Caption: d.Caption})
		case KindFile:
			plan.Actions = append(plan.Actions, SendFile{URL: d.URL, Caption: d.Caption, Filename: d.Filename})
		case KindSurveyDone:
			plan.SurveyDone = true
		default:
			plan.Unknown++
		}
	}

	if len(plan.Actions) == 0 && !plan.SurveyDone && i.fallback != "" {
		plan.Actions = []Action{SendText{Text: i.fallback}}
		plan.BotTexts = append(plan.BotTexts, i.fallback)
	}

	return plan
}
