package keys

import (
	"testing"

	"github.com/gdamore/tcell/v2"
	"github.com/stretchr/testify/assert"
)

func TestHintsKeepRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	noop := func() {}
	r.AddGlobal("help", &Action{Key: tcell.KeyRune, Rune: '?', Description: "?:help", Visible: true, Handler: noop})
	r.AddGlobal("quit", &Action{Key: tcell.KeyRune, Rune: 'q', Description: "q:quit", Visible: true, Handler: noop})
	r.AddView("rooms", "open", &Action{Key: tcell.KeyEnter, Description: "enter:open", Visible: true, Handler: noop})
	r.AddView("rooms", "hidden", &Action{Key: tcell.KeyCtrlL, Description: "redraw", Handler: noop})

	assert.Equal(t, []string{"enter:open", "?:help", "q:quit"}, r.Hints("rooms"))

	// Re-registering a name replaces it in place.
	r.AddGlobal("help", &Action{Key: tcell.KeyF1, Description: "F1:help", Visible: true, Handler: noop})
	assert.Equal(t, []string{"F1:help", "q:quit"}, r.Hints("search"))
}
