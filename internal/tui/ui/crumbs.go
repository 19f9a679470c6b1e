package ui

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// maxCrumbs is how many trail entries fit before older ones collapse.
const maxCrumbs = 4

// Crumbs shows where the user is in the page stack.
type Crumbs struct {
	*tview.TextView
	theme *Theme
}

// NewCrumbs creates a breadcrumb bar.
func NewCrumbs(theme *Theme) *Crumbs {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)

	return &Crumbs{
		TextView: tv,
		theme:    theme,
	}
}

// Update renders trail, root first. The last entry is highlighted.
func (c *Crumbs) Update(trail []string) {
	c.Clear()
	if len(trail) == 0 {
		return
	}
	var skipped bool
	if len(trail) > maxCrumbs {
		trail = append(trail[:1:1], trail[len(trail)-maxCrumbs+1:]...)
		skipped = true
	}

	inactive := fmt.Sprintf("[%s:%s:]", ColorName(c.theme.CrumbInactiveFg), ColorName(c.theme.CrumbInactiveBg))
	active := fmt.Sprintf("[%s:%s:b]", ColorName(c.theme.CrumbActiveFg), ColorName(c.theme.CrumbActiveBg))

	var b strings.Builder
	for i, name := range trail {
		if i > 0 {
			b.WriteString(" > ")
			if skipped && i == 1 {
				b.WriteString("... > ")
			}
		}
		style := inactive
		if i == len(trail)-1 {
			style = active
		}
		fmt.Fprintf(&b, "%s %s [-:-:-]", style, tview.Escape(name))
	}
	_, _ = c.Write([]byte(b.String()))
}

// ColorName returns c in a form tview color tags accept.
func ColorName(c tcell.Color) string {
	for name, val := range tcell.ColorNames {
		if val == c {
			return name
		}
	}
	return fmt.Sprintf("#%06x", c.Hex())
}
