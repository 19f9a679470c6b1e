package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/talk/internal/feed"
	"github.com/matheus3301/talk/internal/tui/ui"
)

// RoomList is the main room list view.
type RoomList struct {
	*tview.Table
	theme   *ui.Theme
	rooms   []feed.RoomSummary
	visible []feed.RoomSummary
	filter  string
}

// NewRoomList creates a new room list table.
func NewRoomList(theme *ui.Theme) *RoomList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true)
	table.SetBorderColor(theme.BorderColor)
	table.SetBackgroundColor(theme.BgColor)
	table.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))
	table.SetTitle(" Rooms ")
	table.SetTitleColor(theme.TitleColor)

	return &RoomList{
		Table: table,
		theme: theme,
	}
}

// Name implements Component.
func (rl *RoomList) Name() string { return "Rooms" }

// Hints implements Component.
func (rl *RoomList) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Enter", Description: "Open"},
		{Key: "/", Description: "Filter"},
		{Key: ":", Description: "Command"},
		{Key: "d", Description: "Details"},
		{Key: "?", Description: "Help"},
		{Key: "q", Description: "Quit"},
		{Key: "1-9", Description: "Jump", Numeric: true},
	}
}

// Update refreshes the list, keeping the selected room selected.
func (rl *RoomList) Update(rooms []feed.RoomSummary) {
	selected := rl.SelectedRoom()
	rl.rooms = rooms
	rl.render()
	if selected == "" {
		return
	}
	for i, r := range rl.visible {
		if r.Token == selected {
			rl.Select(i+1, 0)
			return
		}
	}
}

// SetFilter sets the active filter text and re-renders.
func (rl *RoomList) SetFilter(filter string) {
	rl.filter = filter
	rl.render()
}

// ClearFilter clears the active filter.
func (rl *RoomList) ClearFilter() {
	rl.filter = ""
	rl.render()
}

// Filter returns the active filter.
func (rl *RoomList) Filter() string { return rl.filter }

func (rl *RoomList) matches(r feed.RoomSummary) bool {
	if rl.filter == "" {
		return true
	}
	f := strings.ToLower(rl.filter)
	return strings.Contains(strings.ToLower(r.DisplayName), f) || strings.Contains(strings.ToLower(r.Token), f)
}

func (rl *RoomList) render() {
	rl.Clear()

	headers := []struct {
		text string
		exp  int
	}{
		{" #", 0},
		{" NAME", 1},
		{" UNREAD", 0},
		{" ACTIVE", 0},
	}
	for col, h := range headers {
		rl.SetCell(0, col, tview.NewTableCell(h.text).
			SetSelectable(false).
			SetTextColor(rl.theme.TableHeaderFg).
			SetBackgroundColor(rl.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold).
			SetExpansion(h.exp))
	}

	rl.visible = rl.visible[:0]
	for _, r := range rl.rooms {
		if !rl.matches(r) {
			continue
		}
		rl.visible = append(rl.visible, r)
		row := len(rl.visible)

		name := r.DisplayName
		if name == "" {
			name = r.Token
		}
		fg := rl.theme.FgColor
		unread := ""
		if r.UnreadCount > 0 {
			fg = rl.theme.UnreadColor
			unread = fmt.Sprintf("%d", r.UnreadCount)
		}

		index := ""
		if row <= 9 {
			index = fmt.Sprintf("%d", row)
		}
		rl.SetCell(row, 0, tview.NewTableCell(" "+index).SetTextColor(rl.theme.NumericKeyColor))
		rl.SetCell(row, 1, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(name))).SetExpansion(1).SetTextColor(fg))
		rl.SetCell(row, 2, tview.NewTableCell(unread).SetTextColor(fg).SetAlign(tview.AlignRight))
		rl.SetCell(row, 3, tview.NewTableCell(" "+formatActivity(r.LastActivity, time.Now())).SetTextColor(rl.theme.FgColor).SetAlign(tview.AlignRight))
	}

	if rl.filter != "" {
		rl.SetTitle(fmt.Sprintf(" Rooms (%d/%d) filter: %s ", len(rl.visible), len(rl.rooms), tview.Escape(rl.filter)))
	} else {
		rl.SetTitle(fmt.Sprintf(" Rooms (%d) ", len(rl.rooms)))
	}
}

// SelectedRoom returns the token of the currently selected room.
func (rl *RoomList) SelectedRoom() string {
	row, _ := rl.GetSelection()
	return rl.RoomByIndex(row)
}

// RoomByIndex returns the token of the Nth visible room (1-based).
func (rl *RoomList) RoomByIndex(n int) string {
	if n < 1 || n > len(rl.visible) {
		return ""
	}
	return rl.visible[n-1].Token
}

// FindRoom returns the first visible room whose name contains query.
func (rl *RoomList) FindRoom(query string) string {
	q := strings.ToLower(query)
	for _, r := range rl.rooms {
		if strings.EqualFold(r.Token, query) || strings.Contains(strings.ToLower(r.DisplayName), q) {
			return r.Token
		}
	}
	return ""
}

func formatActivity(t, now time.Time) string {
	if t.IsZero() || t.Unix() <= 0 {
		return ""
	}
	t = t.Local()
	now = now.Local()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}
