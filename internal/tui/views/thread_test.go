package views

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/matheus3301/talk/internal/feed"
	"github.com/matheus3301/talk/internal/remote"
)

func at(day, hour, min int) time.Time {
	return time.Date(2024, 3, day, hour, min, 0, 0, time.UTC)
}

func comment(id, name, body string, ts time.Time) feed.MessageView {
	return feed.MessageView{ID: id, ActorID: strings.ToLower(name), ActorName: name, Body: body, Kind: remote.KindComment, State: feed.Sent, Timestamp: ts}
}

func render(msgs []feed.MessageView, unreadFrom string) []string {
	out := FormatThread(msgs, ThreadOptions{
		DateFormat: "Mon 02 Jan",
		UnreadFrom: unreadFrom,
		Now:        at(3, 18, 0),
		Location:   time.UTC,
	})
	return strings.Split(strings.TrimSuffix(out, "\n"), "\n")
}

func TestFormatThreadDateSeparators(t *testing.T) {
	got := render([]feed.MessageView{
		comment("1", "Hundi", "Butz", at(2, 1, 33)),
		comment("2", "Stinko", "Bert", at(3, 8, 33)),
	}, "")

	pad := strings.Repeat(" ", gutter)
	want := []string{
		pad + "[::b]Sat 02 Mar[-:-:-]",
		"01:33 [" + authorColor("Hundi") + "::b]Hundi[-:-:-]" + strings.Repeat(" ", 15) + " Butz",
		pad + "[::b]Today! Sun 03 Mar[-:-:-]",
		"08:33 [" + authorColor("Stinko") + "::b]Stinko[-:-:-]" + strings.Repeat(" ", 14) + " Bert",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("thread (-want +got):\n%s", diff)
	}
}

func TestFormatThreadMarkersAndReactions(t *testing.T) {
	pending := comment("tmp", "Me", "on its way", at(3, 9, 0))
	pending.State = feed.Pending
	failed := comment("tmp2", "Me", "lost", at(3, 9, 1))
	failed.State = feed.Failed
	liked := comment("5", "Bob", "line one\nline two", at(3, 8, 0))
	liked.Reactions = map[string]int{"👍": 2, "🎉": 1}

	got := render([]feed.MessageView{liked, pending, failed}, "")
	pad := strings.Repeat(" ", gutter)

	if !strings.HasSuffix(got[1], " line one") || got[2] != pad+"line two" {
		t.Errorf("multi-line body not indented: %q", got[1:3])
	}
	if got[3] != pad+"🎉 1  👍 2" {
		t.Errorf("reactions row = %q", got[3])
	}
	if !strings.Contains(got[4], "[::d]…[-:-:-] on its way") {
		t.Errorf("pending marker missing: %q", got[4])
	}
	if !strings.Contains(got[5], "[red::b]![-:-:-] lost") {
		t.Errorf("failed marker missing: %q", got[5])
	}
}

func TestFormatThreadLastReadMarker(t *testing.T) {
	msgs := []feed.MessageView{
		comment("1", "A", "old", at(3, 8, 0)),
		comment("2", "B", "new", at(3, 8, 1)),
	}
	got := render(msgs, "1")
	if len(got) != 4 || !strings.Contains(got[2], lastReadMarker) {
		t.Fatalf("marker not after message 1: %q", got)
	}

	// Nothing newer than the marker: no marker.
	got = render(msgs, "2")
	for _, l := range got {
		if strings.Contains(l, lastReadMarker) {
			t.Errorf("unexpected marker in %q", got)
		}
	}
}

func TestFormatThreadHidesBookkeeping(t *testing.T) {
	reaction := feed.MessageView{ID: "2", Kind: remote.KindSystem, SystemMessage: "reaction", Body: "{actor} reacted", Timestamp: at(3, 8, 1)}
	edit := feed.MessageView{ID: "3", Kind: remote.KindSystem, SystemMessage: "message_edited", Timestamp: at(3, 8, 2)}
	deleted := feed.MessageView{ID: "4", Kind: remote.KindCommentDeleted, Timestamp: at(3, 8, 3)}
	joined := feed.MessageView{ID: "5", Kind: remote.KindSystem, SystemMessage: "user_added", ActorName: "Guest", Body: "Guest joined", Timestamp: at(3, 8, 4)}

	got := render([]feed.MessageView{comment("1", "A", "hello", at(3, 8, 0)), reaction, edit, deleted, joined}, "")
	if len(got) != 3 {
		t.Fatalf("got %d lines, want separator and two messages: %q", len(got), got)
	}
	if !strings.Contains(got[2], "[::d]Guest joined[-:-:-]") {
		t.Errorf("system message should render dimmed: %q", got[2])
	}
}

func TestFitNameTruncatesToColumn(t *testing.T) {
	got := fitName("Bartholomew Fitzgerald-Smythe", "")
	want := "[" + authorColor("Bartholomew Fitzgerald-Smythe") + "::b]Bartholomew Fitzgera[-:-:-]"
	if got != want {
		t.Errorf("fitName() = %q, want %q", got, want)
	}
	if got := fitName("", "actor-id"); got != "["+authorColor("actor-id")+"::b]actor-id[-:-:-]"+strings.Repeat(" ", 12) {
		t.Errorf("fallback = %q", got)
	}
}

func TestAuthorColor(t *testing.T) {
	if authorColor("Hundi") != authorColor("Hundi") {
		t.Error("colour differs between calls for the same name")
	}
	seen := make(map[string]bool)
	for _, name := range []string{"Hundi", "Stinko", "Bob", "Alice", "Me"} {
		hex := authorColor(name)
		seen[hex] = true
		c, err := colorful.Hex(hex)
		if err != nil {
			t.Fatalf("authorColor(%q) = %q: %v", name, hex, err)
		}
		if _, _, l := c.Hsl(); l < authorLightness-0.01 || l > authorLightness+0.01 {
			t.Errorf("authorColor(%q) lightness = %.3f, want %.1f", name, l, authorLightness)
		}
	}
	if len(seen) < 2 {
		t.Errorf("all senders share one colour: %v", seen)
	}
}
