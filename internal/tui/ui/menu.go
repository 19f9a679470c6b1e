package ui

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"
	"github.com/rivo/uniseg"
)

// MenuHint describes a keyboard shortcut shown in the header.
type MenuHint struct {
	Key         string
	Description string
	Numeric     bool // digit shortcuts get their own color
}

// Menu lays hints out top to bottom and starts a new column every rows
// entries.
type Menu struct {
	*tview.TextView
	theme *Theme
	rows  int
}

// NewMenu creates a hint panel rows lines tall.
func NewMenu(theme *Theme, rows int) *Menu {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 2, 0)

	return &Menu{
		TextView: tv,
		theme:    theme,
		rows:     max(rows, 1),
	}
}

// Update replaces the hints on display.
func (m *Menu) Update(hints []MenuHint) {
	m.Clear()
	if len(hints) == 0 {
		return
	}

	width := 0
	for _, h := range hints {
		width = max(width, hintWidth(h))
	}
	cols := (len(hints) + m.rows - 1) / m.rows

	var b strings.Builder
	for r := 0; r < m.rows && r < len(hints); r++ {
		for c := 0; c < cols; c++ {
			i := c*m.rows + r
			if i >= len(hints) {
				break
			}
			h := hints[i]
			color := m.theme.MenuKeyColor
			if h.Numeric {
				color = m.theme.NumericKeyColor
			}
			fmt.Fprintf(&b, "[%s::b]<%s>[-:-:-] %s", ColorName(color), tview.Escape(h.Key), tview.Escape(h.Description))
			if c < cols-1 {
				b.WriteString(strings.Repeat(" ", width-hintWidth(h)+2))
			}
		}
		b.WriteByte('\n')
	}
	_, _ = m.Write([]byte(b.String()))
}

func hintWidth(h MenuHint) int {
	return uniseg.StringWidth(h.Key) + uniseg.StringWidth(h.Description) + 3
}
