package views

import (
	"fmt"
	"time"

	"github.com/rivo/tview"

	"github.com/matheus3301/talk/internal/status"
	"github.com/matheus3301/talk/internal/tui/ui"
)

// StatusBar displays persistent session/sync status.
type StatusBar struct {
	*tview.TextView
	theme   *ui.Theme
	session string
	status  status.State
	pending int
	flash   string
	now     func() time.Time
}

// NewStatusBar creates a new status bar.
func NewStatusBar(theme *ui.Theme) *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	return &StatusBar{TextView: tv, theme: theme, now: time.Now}
}

// SetSession updates the session name display.
func (sb *StatusBar) SetSession(name string) {
	sb.session = name
	sb.render()
}

// SetStatus updates the status display.
func (sb *StatusBar) SetStatus(st status.State) {
	sb.status = st
	sb.render()
}

// SetPending updates the count of unconfirmed outgoing messages.
func (sb *StatusBar) SetPending(n int) {
	sb.pending = n
	sb.render()
}

// SetFlash sets a temporary message.
func (sb *StatusBar) SetFlash(msg string) {
	sb.flash = msg
	sb.render()
}

func (sb *StatusBar) statusColor() string {
	switch sb.status {
	case status.Ready:
		return ui.ColorName(sb.theme.StatusOKColor)
	case status.Degraded, status.Syncing, status.Booting:
		return ui.ColorName(sb.theme.StatusWarnColor)
	default:
		return ui.ColorName(sb.theme.StatusErrColor)
	}
}

func (sb *StatusBar) render() {
	sb.Clear()

	st := string(sb.status)
	if st == "" {
		st = "-"
	}
	syncIcon := " "
	if sb.status == status.Syncing {
		syncIcon = "[green]~[-]"
	}

	line := fmt.Sprintf(" [::b]%s[-:-:-] | [%s]%s[-] %s | %s",
		tview.Escape(sb.session), sb.statusColor(), st, syncIcon, sb.now().Format("15:04"))
	if sb.pending > 0 {
		line += fmt.Sprintf(" | %d sending", sb.pending)
	}
	if sb.flash != "" {
		line += fmt.Sprintf(" | [yellow]%s[-]", tview.Escape(sb.flash))
	}

	_, _ = fmt.Fprint(sb, line)
}
