package ui

import (
	"fmt"

	"github.com/rivo/tview"
)

// BannerWidth is the header column the banner needs.
const BannerWidth = 14

// NewBanner returns the speech-bubble wordmark shown in the header corner.
func NewBanner(theme *Theme) *tview.TextView {
	tv := tview.NewTextView().SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(1, 0, 1, 0)

	edge := ColorName(theme.BorderColor)
	word := ColorName(theme.TitleColor)
	_, _ = fmt.Fprintf(tv, "[%[1]s]╭──────╮\n│ [%[2]s::b]talk[-:-:-][%[1]s] │\n╰─┬────╯\n  ╰[-]", edge, word)
	return tv
}
