package ui

import (
	"fmt"
	"sync"
	"time"

	"github.com/rivo/tview"
)

// FlashLevel is the severity of a notice.
type FlashLevel int

const (
	FlashInfo FlashLevel = iota
	FlashWarn
	FlashErr
)

var flashTTL = [...]time.Duration{
	FlashInfo: 5 * time.Second,
	FlashWarn: 8 * time.Second,
	FlashErr:  10 * time.Second,
}

// Flash is a transient notice. Repeats counts identical notices raised while
// it was still showing.
type Flash struct {
	Text    string
	Level   FlashLevel
	Repeats int
	Expires time.Time
}

// FlashModel holds the notice currently on screen. It is safe for concurrent
// use; background goroutines raise notices and the UI reads them.
type FlashModel struct {
	mu      sync.Mutex
	current Flash
	now     func() time.Time
	changed chan struct{}
}

// NewFlashModel creates an empty flash model.
func NewFlashModel() *FlashModel {
	return &FlashModel{
		now:     time.Now,
		changed: make(chan struct{}, 1),
	}
}

// Info raises an informational notice.
func (f *FlashModel) Info(msg string) { f.raise(FlashInfo, msg) }

// Warn raises a warning.
func (f *FlashModel) Warn(msg string) { f.raise(FlashWarn, msg) }

// Err raises an error notice. A nil error is ignored.
func (f *FlashModel) Err(err error) {
	if err != nil {
		f.raise(FlashErr, err.Error())
	}
}

func (f *FlashModel) raise(level FlashLevel, text string) {
	now := f.now()
	f.mu.Lock()
	if f.current.Text == text && f.current.Level == level && now.Before(f.current.Expires) {
		f.current.Repeats++
	} else {
		f.current = Flash{Text: text, Level: level}
	}
	f.current.Expires = now.Add(flashTTL[level])
	f.mu.Unlock()

	select {
	case f.changed <- struct{}{}:
	default:
	}
}

// Current returns the live notice, or false once it has expired.
func (f *FlashModel) Current() (Flash, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current.Text == "" || !f.now().Before(f.current.Expires) {
		return Flash{}, false
	}
	return f.current, true
}

// Changed receives after notices are raised. Bursts coalesce into one
// receive.
func (f *FlashModel) Changed() <-chan struct{} {
	return f.changed
}

// FlashBar displays the current notice.
type FlashBar struct {
	*tview.TextView
	theme *Theme
}

// NewFlashBar creates a one-line notice bar.
func NewFlashBar(theme *Theme) *FlashBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)

	return &FlashBar{
		TextView: tv,
		theme:    theme,
	}
}

// Render shows the model's live notice, or clears the bar.
func (fb *FlashBar) Render(f *FlashModel) {
	fb.Clear()
	msg, ok := f.Current()
	if !ok {
		return
	}

	color := fb.theme.FlashInfoColor
	switch msg.Level {
	case FlashWarn:
		color = fb.theme.FlashWarnColor
	case FlashErr:
		color = fb.theme.FlashErrColor
	}
	text := tview.Escape(msg.Text)
	if msg.Repeats > 0 {
		text = fmt.Sprintf("%s (x%d)", text, msg.Repeats+1)
	}
	_, _ = fmt.Fprintf(fb, " [%s]%s[-]", ColorName(color), text)
}
