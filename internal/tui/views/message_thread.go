package views

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/talk/internal/feed"
	"github.com/matheus3301/talk/internal/tui/ui"
)

// MessageThread displays messages and a composer for a single room.
type MessageThread struct {
	*tview.Flex
	theme      *ui.Theme
	messages   *tview.TextView
	composer   *tview.InputField
	roomName   string
	room       string
	dateFormat string
	onSend     func(text string)
}

// NewMessageThread creates a new message thread view.
func NewMessageThread(theme *ui.Theme, dateFormat string) *MessageThread {
	messages := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	messages.SetBorder(true)
	messages.SetBorderColor(theme.BorderColor)
	messages.SetBackgroundColor(theme.BgColor)
	messages.SetTextColor(theme.FgColor)
	messages.SetTitle(" Messages ")
	messages.SetTitleColor(theme.TitleColor)

	composer := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)
	composer.SetBorder(true)
	composer.SetBorderColor(theme.BorderColor)
	composer.SetBackgroundColor(theme.BgColor)
	composer.SetFieldBackgroundColor(theme.BgColor)
	composer.SetFieldTextColor(theme.FgColor)
	composer.SetLabelColor(theme.MenuKeyColor)
	composer.SetTitle(" Compose (i to focus) ")
	composer.SetTitleColor(theme.TitleColor)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(messages, 0, 1, true).
		AddItem(composer, 3, 0, false)

	mt := &MessageThread{
		Flex:       flex,
		theme:      theme,
		messages:   messages,
		composer:   composer,
		dateFormat: dateFormat,
	}

	composer.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter || mt.onSend == nil {
			return
		}
		text := composer.GetText()
		if strings.TrimSpace(text) == "" {
			return
		}
		mt.onSend(text)
		composer.SetText("")
	})

	return mt
}

// Name implements Component.
func (mt *MessageThread) Name() string {
	if mt.roomName != "" {
		return mt.roomName
	}
	return "Messages"
}

// Hints implements Component.
func (mt *MessageThread) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "i", Description: "Compose"},
		{Key: "d", Description: "Details"},
		{Key: "r", Description: "Mark read"},
		{Key: "Esc", Description: "Back"},
		{Key: ":", Description: "Command"},
		{Key: "?", Description: "Help"},
	}
}

// SetRoom stores the open room and updates the title.
func (mt *MessageThread) SetRoom(token, name string) {
	if name == "" {
		name = token
	}
	mt.room = token
	mt.roomName = name
	mt.messages.SetTitle(fmt.Sprintf(" %s ", tview.Escape(sanitizeForTerminal(name))))
}

// Room returns the open room token.
func (mt *MessageThread) Room() string {
	return mt.room
}

// SetOnSend sets the callback when a message is sent.
func (mt *MessageThread) SetOnSend(fn func(text string)) {
	mt.onSend = fn
}

// Update re-renders the thread. The view stays scrolled to the bottom unless
// the user scrolled up.
func (mt *MessageThread) Update(msgs []feed.MessageView, unreadFrom string) {
	row, _ := mt.messages.GetScrollOffset()
	atBottom := row == 0 || mt.isAtBottom()

	mt.messages.Clear()
	_, _ = fmt.Fprint(mt.messages, FormatThread(msgs, ThreadOptions{
		DateFormat: mt.dateFormat,
		UnreadFrom: unreadFrom,
	}))

	if atBottom {
		mt.messages.ScrollToEnd()
	}
}

func (mt *MessageThread) isAtBottom() bool {
	row, _ := mt.messages.GetScrollOffset()
	_, _, _, height := mt.messages.GetInnerRect()
	return row+height >= mt.messages.GetOriginalLineCount()
}

// Messages returns the messages text view (for focus management).
func (mt *MessageThread) Messages() *tview.TextView {
	return mt.messages
}

// Composer returns the composer input field (for focus management).
func (mt *MessageThread) Composer() *tview.InputField {
	return mt.composer
}
