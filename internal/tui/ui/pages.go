package ui

import "github.com/rivo/tview"

// Pages stacks registered components; only the top one is visible. The
// bottom page is the root and is never popped.
type Pages struct {
	*tview.Pages
	views    map[string]Component
	stack    []string
	onChange func(top Component, trail []string)
}

// NewPages creates an empty page stack.
func NewPages() *Pages {
	return &Pages{
		Pages: tview.NewPages(),
		views: make(map[string]Component),
	}
}

// Register adds a component under name without showing it.
func (p *Pages) Register(name string, c Component) {
	p.views[name] = c
	p.AddPage(name, c, true, false)
}

// SetOnChange sets a callback that runs after every stack change with the
// visible component and the crumb trail from root to top.
func (p *Pages) SetOnChange(fn func(top Component, trail []string)) {
	p.onChange = fn
}

// Push shows name on top of the stack. Pushing the current page or an
// unregistered one does nothing.
func (p *Pages) Push(name string) bool {
	if _, ok := p.views[name]; !ok || p.Current() == name {
		return false
	}
	p.stack = append(p.stack, name)
	p.show()
	return true
}

// Pop removes the top page unless it is the root, returning its name.
func (p *Pages) Pop() string {
	if len(p.stack) <= 1 {
		return ""
	}
	top := p.stack[len(p.stack)-1]
	p.stack = p.stack[:len(p.stack)-1]
	p.show()
	return top
}

// PopTo pops until name is on top, or only the root is left.
func (p *Pages) PopTo(name string) {
	for len(p.stack) > 1 && p.Current() != name {
		p.stack = p.stack[:len(p.stack)-1]
	}
	p.show()
}

// Reset makes name the only page on the stack.
func (p *Pages) Reset(name string) {
	p.stack = append(p.stack[:0], name)
	p.show()
}

// Current returns the name of the visible page.
func (p *Pages) Current() string {
	if len(p.stack) == 0 {
		return ""
	}
	return p.stack[len(p.stack)-1]
}

// Depth returns how many pages are stacked.
func (p *Pages) Depth() int {
	return len(p.stack)
}

// Trail returns the component names from root to top.
func (p *Pages) Trail() []string {
	trail := make([]string, 0, len(p.stack))
	for _, name := range p.stack {
		trail = append(trail, p.views[name].Name())
	}
	return trail
}

func (p *Pages) show() {
	top := p.Current()
	if top == "" {
		return
	}
	p.SwitchToPage(top)
	if p.onChange != nil {
		p.onChange(p.views[top], p.Trail())
	}
}
