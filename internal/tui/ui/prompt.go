package ui

import (
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// PromptMode selects what a prompt submission means.
type PromptMode int

const (
	PromptCommand PromptMode = iota
	PromptFilter
)

const historySize = 50

// Prompt is the ':' command and '/' filter bar. Each mode keeps its own
// history, browsed with the arrow keys. Tab completes command names.
type Prompt struct {
	*tview.InputField
	theme    *Theme
	mode     PromptMode
	history  map[PromptMode][]string
	cursor   int
	commands []string
	onSubmit func(mode PromptMode, text string)
	onCancel func()
}

// NewPrompt creates a hidden prompt bar.
func NewPrompt(theme *Theme) *Prompt {
	input := tview.NewInputField()
	input.SetBorder(true)
	input.SetBorderColor(theme.PromptBorderColor)
	input.SetBackgroundColor(theme.BgColor)
	input.SetFieldBackgroundColor(theme.BgColor)
	input.SetFieldTextColor(theme.FgColor)
	input.SetLabelColor(theme.MenuKeyColor)

	p := &Prompt{
		InputField: input,
		theme:      theme,
		history:    make(map[PromptMode][]string),
	}
	input.SetDoneFunc(p.done)
	input.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyUp:
			p.Previous()
		case tcell.KeyDown:
			p.Next()
		case tcell.KeyTab:
			p.SetText(p.Complete(p.GetText()))
		default:
			return event
		}
		return nil
	})
	return p
}

// SetCommands sets the names Tab completes in command mode.
func (p *Prompt) SetCommands(names []string) {
	p.commands = names
}

// SetOnSubmit sets the callback for a non-empty submission.
func (p *Prompt) SetOnSubmit(fn func(mode PromptMode, text string)) {
	p.onSubmit = fn
}

// SetOnCancel sets the callback for Esc or an empty submission.
func (p *Prompt) SetOnCancel(fn func()) {
	p.onCancel = fn
}

// Activate clears the prompt and switches it to mode.
func (p *Prompt) Activate(mode PromptMode) {
	p.mode = mode
	p.cursor = len(p.history[mode])
	p.SetText("")
	switch mode {
	case PromptCommand:
		p.SetLabel(":")
		p.SetTitle(" Command ")
	case PromptFilter:
		p.SetLabel("/")
		p.SetTitle(" Filter ")
	}
}

// Mode returns the active mode.
func (p *Prompt) Mode() PromptMode {
	return p.mode
}

// Previous recalls the entry before the one shown.
func (p *Prompt) Previous() {
	if p.cursor > 0 {
		p.cursor--
		p.SetText(p.history[p.mode][p.cursor])
	}
}

// Next recalls the entry after the one shown, ending on an empty line.
func (p *Prompt) Next() {
	h := p.history[p.mode]
	if p.cursor >= len(h)-1 {
		p.cursor = len(h)
		p.SetText("")
		return
	}
	p.cursor++
	p.SetText(h[p.cursor])
}

// Complete extends a partial command name when exactly one command matches.
func (p *Prompt) Complete(text string) string {
	if p.mode != PromptCommand || text == "" || strings.ContainsRune(text, ' ') {
		return text
	}
	match := ""
	for _, name := range p.commands {
		if !strings.HasPrefix(name, text) {
			continue
		}
		if match != "" {
			return text
		}
		match = name
	}
	if match == "" {
		return text
	}
	return match + " "
}

func (p *Prompt) done(key tcell.Key) {
	switch key {
	case tcell.KeyEnter:
		text := strings.TrimSpace(p.GetText())
		p.SetText("")
		if text == "" {
			if p.onCancel != nil {
				p.onCancel()
			}
			return
		}
		p.remember(text)
		if p.onSubmit != nil {
			p.onSubmit(p.mode, text)
		}
	case tcell.KeyEscape:
		p.SetText("")
		if p.onCancel != nil {
			p.onCancel()
		}
	}
}

func (p *Prompt) remember(text string) {
	h := p.history[p.mode]
	if n := len(h); n == 0 || h[n-1] != text {
		h = append(h, text)
	}
	if len(h) > historySize {
		h = h[len(h)-historySize:]
	}
	p.history[p.mode] = h
	p.cursor = len(h)
}
