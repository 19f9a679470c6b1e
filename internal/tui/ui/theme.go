package ui

import "github.com/gdamore/tcell/v2"

// Palette is the handful of base colours a Theme is derived from.
type Palette struct {
	Background tcell.Color
	Text       tcell.Color
	Accent     tcell.Color
	Focus      tcell.Color
	Highlight  tcell.Color
	Bright     tcell.Color
	Good       tcell.Color
	Warn       tcell.Color
	Bad        tcell.Color
}

// DefaultPalette is a dark palette with teal accents.
var DefaultPalette = Palette{
	Background: tcell.ColorBlack,
	Text:       tcell.ColorSilver,
	Accent:     tcell.ColorTeal,
	Focus:      tcell.ColorMediumTurquoise,
	Highlight:  tcell.ColorGold,
	Bright:     tcell.ColorWhite,
	Good:       tcell.ColorMediumSeaGreen,
	Warn:       tcell.ColorGold,
	Bad:        tcell.ColorIndianRed,
}

// Theme assigns palette colours to UI roles.
type Theme struct {
	BgColor          tcell.Color
	FgColor          tcell.Color
	BorderColor      tcell.Color
	BorderFocusColor tcell.Color
	TitleColor       tcell.Color
	CounterColor     tcell.Color
	UnreadColor      tcell.Color

	TableHeaderFg tcell.Color
	TableHeaderBg tcell.Color
	TableCursorFg tcell.Color
	TableCursorBg tcell.Color

	CrumbActiveFg   tcell.Color
	CrumbActiveBg   tcell.Color
	CrumbInactiveFg tcell.Color
	CrumbInactiveBg tcell.Color

	MenuKeyColor      tcell.Color
	NumericKeyColor   tcell.Color
	PromptBorderColor tcell.Color

	FlashInfoColor  tcell.Color
	FlashWarnColor  tcell.Color
	FlashErrColor   tcell.Color
	StatusOKColor   tcell.Color
	StatusWarnColor tcell.Color
	StatusErrColor  tcell.Color
}

// NewTheme derives a theme from p.
func NewTheme(p Palette) *Theme {
	return &Theme{
		BgColor:          p.Background,
		FgColor:          p.Text,
		BorderColor:      p.Accent,
		BorderFocusColor: p.Focus,
		TitleColor:       p.Focus,
		CounterColor:     p.Highlight,
		UnreadColor:      p.Bright,

		TableHeaderFg: p.Bright,
		TableHeaderBg: p.Background,
		TableCursorFg: p.Background,
		TableCursorBg: p.Focus,

		CrumbActiveFg:   p.Background,
		CrumbActiveBg:   p.Highlight,
		CrumbInactiveFg: p.Background,
		CrumbInactiveBg: p.Accent,

		MenuKeyColor:      p.Focus,
		NumericKeyColor:   p.Highlight,
		PromptBorderColor: p.Highlight,

		FlashInfoColor:  p.Text,
		FlashWarnColor:  p.Warn,
		FlashErrColor:   p.Bad,
		StatusOKColor:   p.Good,
		StatusWarnColor: p.Warn,
		StatusErrColor:  p.Bad,
	}
}

// DefaultTheme returns the theme of DefaultPalette.
func DefaultTheme() *Theme {
	return NewTheme(DefaultPalette)
}
