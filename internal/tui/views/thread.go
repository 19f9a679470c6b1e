package views

import (
	"fmt"
	"hash/fnv"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/rivo/tview"
	"github.com/rivo/uniseg"

	"github.com/matheus3301/talk/internal/feed"
	"github.com/matheus3301/talk/internal/remote"
)

const (
	nameWidth = 20
	timeWidth = 5
	// gutter is the indentation of everything printed in the body column.
	gutter = timeWidth + 1 + nameWidth + 1

	lastReadMarker = "+++ LAST READ +++"

	// authorLightness keeps sender colours readable on a dark background.
	authorLightness = 0.7
)

var authorSaturations = [...]float64{0.35, 0.5, 0.65}

// hiddenSystemMessages are bookkeeping messages the server emits alongside
// the change they describe.
var hiddenSystemMessages = map[string]bool{
	"reaction":         true,
	"reaction_revoked": true,
	"reaction_deleted": true,
	"message_edited":   true,
	"message_deleted":  true,
}

// ThreadOptions controls FormatThread.
type ThreadOptions struct {
	DateFormat string
	// UnreadFrom is the id after which messages are new; "" disables the marker.
	UnreadFrom string
	Now        time.Time
	Location   *time.Location
}

// Visible reports whether m is shown in a thread.
func Visible(m feed.MessageView) bool {
	if m.Kind == remote.KindCommentDeleted {
		return false
	}
	return !(m.Kind == remote.KindSystem && hiddenSystemMessages[m.SystemMessage])
}

// FormatThread renders msgs as tview-tagged text: a date separator whenever
// the day changes, one row per message with time, sender and body, an
// optional reactions row, and the last-read marker.
func FormatThread(msgs []feed.MessageView, opts ThreadOptions) string {
	if opts.DateFormat == "" {
		opts.DateFormat = "Mon 02 Jan 2006"
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	today := opts.Now.In(loc).Format(opts.DateFormat)

	visible := make([]feed.MessageView, 0, len(msgs))
	for _, m := range msgs {
		if Visible(m) {
			visible = append(visible, m)
		}
	}

	var b strings.Builder
	pad := strings.Repeat(" ", gutter)
	lastDate := ""
	for i, m := range visible {
		ts := m.Timestamp.In(loc)
		if date := ts.Format(opts.DateFormat); date != lastDate {
			label := date
			if date == today {
				label = "Today! " + date
			}
			fmt.Fprintf(&b, "%s[::b]%s[-:-:-]\n", pad, tview.Escape(label))
			lastDate = date
		}

		lines := strings.Split(sanitizeForTerminal(m.Body), "\n")
		if m.Kind == remote.KindSystem {
			for j := range lines {
				lines[j] = "[::d]" + tview.Escape(lines[j]) + "[-:-:-]"
			}
		} else {
			for j := range lines {
				lines[j] = tview.Escape(lines[j])
			}
		}
		switch m.State {
		case feed.Pending:
			lines[0] = "[::d]…[-:-:-] " + lines[0]
		case feed.Failed:
			lines[0] = "[red::b]![-:-:-] " + lines[0]
		}

		fmt.Fprintf(&b, "%s %s %s\n", ts.Format("15:04"), fitName(m.ActorName, m.ActorID), lines[0])
		for _, l := range lines[1:] {
			fmt.Fprintf(&b, "%s%s\n", pad, l)
		}
		if r := formatReactions(m.Reactions); r != "" {
			fmt.Fprintf(&b, "%s%s\n", pad, tview.Escape(r))
		}
		if opts.UnreadFrom != "" && m.ID == opts.UnreadFrom && i < len(visible)-1 {
			fmt.Fprintf(&b, "%s[yellow::b]%s[-:-:-]\n", pad, lastReadMarker)
		}
	}
	return b.String()
}

// fitName pads or truncates the sender to the name column and paints it in
// the sender's colour.
func fitName(name, fallback string) string {
	if name == "" {
		name = fallback
	}
	color := authorColor(name)
	name = sanitizeForTerminal(name)
	var out strings.Builder
	width := 0
	g := uniseg.NewGraphemes(name)
	for g.Next() {
		w := g.Width()
		if width+w > nameWidth {
			break
		}
		out.WriteString(g.Str())
		width += w
	}
	return "[" + color + "::b]" + tview.Escape(out.String()) + "[-:-:-]" + strings.Repeat(" ", nameWidth-width)
}

// authorColor derives a stable colour from a sender name. Hue and saturation
// come from the name's hash; lightness is fixed.
func authorColor(name string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	sum := h.Sum32()
	hue := float64(sum % 360)
	sat := authorSaturations[(sum/360)%uint32(len(authorSaturations))]
	return colorful.Hsl(hue, sat, authorLightness).Clamped().Hex()
}

// formatReactions lists reactions sorted by emoji, e.g. "👍 2  ❤ 1".
func formatReactions(reactions map[string]int) string {
	if len(reactions) == 0 {
		return ""
	}
	parts := make([]string, 0, len(reactions))
	for _, emoji := range slices.Sorted(maps.Keys(reactions)) {
		parts = append(parts, fmt.Sprintf("%s %d", sanitizeForTerminal(emoji), reactions[emoji]))
	}
	return strings.Join(parts, "  ")
}
