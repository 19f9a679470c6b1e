package ui

import "github.com/rivo/tview"

// Component is a page the app can stack. Name is shown in the breadcrumb
// trail, so views may return something specific like the open room.
type Component interface {
	tview.Primitive
	Name() string
	Hints() []MenuHint
}
