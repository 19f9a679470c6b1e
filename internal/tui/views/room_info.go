package views

import (
	"fmt"

	"github.com/rivo/tview"

	"github.com/matheus3301/talk/internal/feed"
	"github.com/matheus3301/talk/internal/tui/ui"
)

// RoomInfo displays detailed information about a room.
type RoomInfo struct {
	*tview.TextView
	theme *ui.Theme
}

// RoomDetails is what RoomInfo shows.
type RoomDetails struct {
	Room     feed.RoomSummary
	Cursor   string
	Messages int
	Pending  int
	Failed   int
}

// NewRoomInfo creates a new room info view.
func NewRoomInfo(theme *ui.Theme) *RoomInfo {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Room Details ")
	tv.SetTitleColor(theme.TitleColor)

	return &RoomInfo{
		TextView: tv,
		theme:    theme,
	}
}

// Name implements Component.
func (ri *RoomInfo) Name() string { return "Details" }

// Hints implements Component.
func (ri *RoomInfo) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Esc", Description: "Back"},
		{Key: ":", Description: "Command"},
		{Key: "?", Description: "Help"},
	}
}

// Update renders room details.
func (ri *RoomInfo) Update(d RoomDetails) {
	ri.Clear()

	fg := ui.ColorName(ri.theme.FgColor)
	ct := ui.ColorName(ri.theme.CounterColor)
	dash := func(s string) string {
		if s == "" {
			return "-"
		}
		return tview.Escape(s)
	}
	active := "-"
	if !d.Room.LastActivity.IsZero() && d.Room.LastActivity.Unix() > 0 {
		active = d.Room.LastActivity.Local().Format("2006-01-02 15:04")
	}

	rows := []struct {
		label string
		value string
	}{
		{"Name", dash(d.Room.DisplayName)},
		{"Token", dash(d.Room.Token)},
		{"Unread", fmt.Sprintf("%d", d.Room.UnreadCount)},
		{"Last Read", dash(d.Room.LastReadID)},
		{"Last Active", active},
		{"Cursor", dash(d.Cursor)},
		{"Messages", fmt.Sprintf("%d", d.Messages)},
		{"Pending", fmt.Sprintf("%d", d.Pending)},
		{"Failed", fmt.Sprintf("%d", d.Failed)},
	}
	_, _ = fmt.Fprintln(ri)
	for _, r := range rows {
		_, _ = fmt.Fprintf(ri, " [%s::b]%-12s[-:-:-] [%s]%s[-]\n", fg, r.label+":", ct, r.value)
	}
	ri.SetTitle(fmt.Sprintf(" %s Details ", tview.Escape(sanitizeForTerminal(d.Room.DisplayName))))
}
