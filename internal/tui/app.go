// Package tui is the terminal front end. It renders engine state and turns key
// presses into engine calls; it never mutates state itself.
package tui

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"

	"github.com/matheus3301/talk/internal/feed"
	"github.com/matheus3301/talk/internal/state"
	"github.com/matheus3301/talk/internal/status"
	"github.com/matheus3301/talk/internal/store"
	"github.com/matheus3301/talk/internal/tui/keys"
	"github.com/matheus3301/talk/internal/tui/model"
	"github.com/matheus3301/talk/internal/tui/ui"
	"github.com/matheus3301/talk/internal/tui/views"
)

// Page names.
const (
	pageRooms   = "rooms"
	pageThread  = "thread"
	pageDetails = "details"
	pageSearch  = "search"
	pageHelp    = "help"
	pageAuth    = "auth"
)

const (
	searchLimit = 100
	menuRows    = 6
)

// Backend is the engine surface the UI drives.
type Backend interface {
	Subscribe(namespace string) *feed.Subscription
	Rooms() []feed.RoomSummary
	Snapshot(room string) (state.RoomView, bool)
	Status() status.State
	SetActive(room string)
	Submit(ctx context.Context, room, body string) (feed.MessageView, error)
	MarkRead(ctx context.Context, room string) error
	Resume(ctx context.Context) error
}

// Searcher runs full-text queries over the offline cache.
type Searcher interface {
	SearchMessages(ctx context.Context, query, room string, limit int) ([]store.SearchResult, error)
}

// Options configures an App.
type Options struct {
	Session         string
	Server          string
	User            string
	LoginURL        string
	CredentialsPath string
	DateFormat      string
	Logger          *zap.Logger
}

// App is the main TUI application shell.
type App struct {
	app      *tview.Application
	backend  Backend
	searcher Searcher
	opts     Options
	log      *zap.Logger
	vm       *model.ViewModel
	registry *keys.Registry
	flash    *ui.FlashModel
	theme    *ui.Theme
	started  time.Time

	main        *tview.Flex
	pages       *ui.Pages
	crumbs      *ui.Crumbs
	menu        *ui.Menu
	sessionInfo *ui.SessionInfo
	prompt      *ui.Prompt
	flashBar    *ui.FlashBar
	statusBar   *views.StatusBar
	roomList    *views.RoomList
	thread      *views.MessageThread
	details     *views.RoomInfo
	search      *views.SearchView
	help        *views.HelpView
	auth        *views.AuthView

	ctx     context.Context
	opens   chan string
	dirty   chan struct{}
	change  atomic.Uint32
	evicted atomic.Value // token of an open room that disappeared
}

// NewApp creates the TUI application.
func NewApp(backend Backend, searcher Searcher, opts Options) *App {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	theme := ui.DefaultTheme()
	vm := model.NewViewModel()

	a := &App{
		app:         tview.NewApplication(),
		backend:     backend,
		searcher:    searcher,
		opts:        opts,
		log:         log.Named("tui"),
		vm:          vm,
		registry:    keys.NewRegistry(),
		flash:       ui.NewFlashModel(),
		theme:       theme,
		started:     time.Now(),
		pages:       ui.NewPages(),
		crumbs:      ui.NewCrumbs(theme),
		menu:        ui.NewMenu(theme, menuRows),
		sessionInfo: ui.NewSessionInfo(theme),
		prompt:      ui.NewPrompt(theme),
		flashBar:    ui.NewFlashBar(theme),
		statusBar:   views.NewStatusBar(theme),
		roomList:    views.NewRoomList(theme),
		thread:      views.NewMessageThread(theme, opts.DateFormat),
		details:     views.NewRoomInfo(theme),
		help:        views.NewHelpView(theme),
		auth:        views.NewAuthView(theme),
		opens:       make(chan string),
		dirty:       make(chan struct{}, 1),
	}
	a.search = views.NewSearchView(theme, a.roomName)
	a.pages.Register(pageRooms, a.roomList)
	a.pages.Register(pageThread, a.thread)
	a.pages.Register(pageDetails, a.details)
	a.pages.Register(pageSearch, a.search)
	a.pages.Register(pageHelp, a.help)
	a.pages.Register(pageAuth, a.auth)

	a.statusBar.SetSession(opts.Session)
	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) roomName(token string) string {
	if r, ok := a.vm.Room(token); ok && r.DisplayName != "" {
		return r.DisplayName
	}
	return token
}

func runeAction(r rune, desc string, fn func()) *keys.Action {
	return &keys.Action{Key: tcell.KeyRune, Rune: r, Description: desc, Visible: true, Handler: fn}
}

func (a *App) setupBindings() {
	a.registry.AddGlobal("command", runeAction(':', ":command", func() { a.activatePrompt(ui.PromptCommand) }))
	a.registry.AddGlobal("help", runeAction('?', "?:help", func() { a.push(pageHelp) }))
	a.registry.AddGlobal("back", &keys.Action{Key: tcell.KeyEscape, Description: "esc:back", Handler: a.back})
	a.registry.AddGlobal("quit", runeAction('q', "q:quit", func() {
		if a.pages.Depth() > 1 && a.pages.Current() != pageAuth {
			a.back()
			return
		}
		a.app.Stop()
	}))

	a.registry.AddView(pageRooms, "filter", runeAction('/', "/:filter", func() { a.activatePrompt(ui.PromptFilter) }))
	a.registry.AddView(pageRooms, "details", runeAction('d', "d:details", func() { a.showDetails(a.roomList.SelectedRoom()) }))
	a.registry.AddView(pageRooms, "clear", runeAction('0', "0:all", a.roomList.ClearFilter))
	for n := 1; n <= 9; n++ {
		a.registry.AddView(pageRooms, fmt.Sprintf("jump%d", n), &keys.Action{
			Key: tcell.KeyRune, Rune: rune('0' + n),
			Handler: func() {
				if token := a.roomList.RoomByIndex(n); token != "" {
					a.openRoom(token)
				}
			},
		})
	}

	a.registry.AddView(pageThread, "compose", runeAction('i', "i:compose", func() { a.app.SetFocus(a.thread.Composer()) }))
	a.registry.AddView(pageThread, "read", runeAction('r', "r:read", a.markRead))
	a.registry.AddView(pageThread, "details", runeAction('d', "d:details", func() { a.showDetails(a.vm.Active()) }))

	a.registry.AddView(pageAuth, "retry", runeAction('r', "r:retry", a.retryAuth))
}

func (a *App) setupCallbacks() {
	a.roomList.SetSelectedFunc(func(row, col int) {
		if token := a.roomList.RoomByIndex(row); token != "" {
			a.openRoom(token)
		}
	})

	a.thread.SetOnSend(func(text string) {
		room := a.vm.Active()
		if room == "" {
			return
		}
		go func() {
			if _, err := a.backend.Submit(a.ctx, room, text); err != nil {
				a.log.Warn("submit failed", zap.String("room", room), zap.Error(err))
				a.flash.Err(fmt.Errorf("send failed: %w", err))
				a.markDirty(0)
			}
		}()
	})

	a.search.SetOnQuery(a.runSearch)
	a.search.Results().SetSelectedFunc(func(row, col int) {
		if room, _ := a.search.SelectedResult(); room != "" {
			a.openRoom(room)
		}
	})

	a.prompt.SetOnSubmit(func(mode ui.PromptMode, text string) {
		a.hidePrompt()
		switch mode {
		case ui.PromptFilter:
			a.roomList.SetFilter(text)
		case ui.PromptCommand:
			a.runCommand(ParseCommand(text))
		}
	})
	a.prompt.SetOnCancel(a.hidePrompt)
	a.prompt.SetCommands(commandNames)

	a.pages.SetOnChange(func(top ui.Component, trail []string) {
		a.crumbs.Update(trail)
		a.menu.Update(top.Hints())
	})
}

func (a *App) setupLayout() {
	header := tview.NewFlex().
		SetDirection(tview.FlexColumn).
		AddItem(a.sessionInfo, 40, 0, false).
		AddItem(a.menu, 0, 1, false).
		AddItem(ui.NewBanner(a.theme), ui.BannerWidth, 0, false)

	a.main = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(header, menuRows+1, 0, false).
		AddItem(a.prompt, 0, 0, false).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.crumbs, 1, 0, false).
		AddItem(a.flashBar, 1, 0, false).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(a.main, true)
	a.app.SetInputCapture(a.handleKey)
	a.pages.Reset(pageRooms)
	a.app.SetFocus(a.roomList)
}

func (a *App) handleKey(event *tcell.EventKey) *tcell.EventKey {
	focused := a.app.GetFocus()
	if focused == a.prompt {
		return event
	}
	if _, ok := focused.(*tview.InputField); ok {
		switch {
		case focused == a.thread.Composer() && event.Key() == tcell.KeyEscape:
			a.app.SetFocus(a.thread.Messages())
			return nil
		case focused == a.search.Input() && event.Key() == tcell.KeyEscape:
			a.back()
			return nil
		case focused == a.search.Input() && event.Key() == tcell.KeyTab:
			a.app.SetFocus(a.search.Results())
			return nil
		}
		// Let text input widgets handle all keys normally.
		return event
	}

	if a.registry.HandleEvent(a.pages.Current(), event) {
		return nil
	}
	return event
}

func (a *App) push(page string) {
	if a.pages.Current() == page {
		return
	}
	a.pages.Push(page)
	a.focusPage(page)
}

func (a *App) back() {
	switch a.pages.Current() {
	case pageAuth:
		return
	case pageThread:
		a.closeRoom()
	}
	if a.pages.Pop() != "" {
		a.focusPage(a.pages.Current())
	}
}

func (a *App) focusPage(page string) {
	switch page {
	case pageRooms:
		a.app.SetFocus(a.roomList)
	case pageThread:
		a.app.SetFocus(a.thread.Messages())
	case pageSearch:
		a.app.SetFocus(a.search.Input())
	case pageDetails:
		a.app.SetFocus(a.details)
	case pageHelp:
		a.app.SetFocus(a.help)
	case pageAuth:
		a.app.SetFocus(a.auth)
	}
}

func (a *App) activatePrompt(mode ui.PromptMode) {
	a.prompt.Activate(mode)
	a.main.ResizeItem(a.prompt, 3, 0)
	a.app.SetFocus(a.prompt)
}

func (a *App) hidePrompt() {
	a.main.ResizeItem(a.prompt, 0, 0)
	a.focusPage(a.pages.Current())
}

func (a *App) runCommand(cmd Command) {
	switch cmd.Name {
	case "q", "quit":
		a.app.Stop()
	case "h", "help":
		a.push(pageHelp)
	case "search", "s":
		a.push(pageSearch)
		if cmd.Args != "" {
			a.search.SetQuery(cmd.Args)
			a.runSearch(cmd.Args)
		}
	case "room", "r":
		token := a.roomList.FindRoom(cmd.Args)
		if token == "" {
			a.flash.Warn(fmt.Sprintf("No room matches %q", cmd.Args))
			a.flashBar.Render(a.flash)
			return
		}
		a.openRoom(token)
	case "read":
		a.markRead()
	default:
		a.flash.Warn(fmt.Sprintf("Unknown command %q", cmd.Name))
		a.flashBar.Render(a.flash)
	}
}

// openRoom shows the thread page at once and asks the pump to load the room.
func (a *App) openRoom(token string) {
	a.thread.SetRoom(token, a.roomName(token))
	a.thread.Update(nil, "")
	a.pages.PopTo(pageRooms)
	a.push(pageThread)
	go func() {
		select {
		case a.opens <- token:
		case <-a.ctx.Done():
		}
	}()
}

func (a *App) closeRoom() {
	go func() {
		select {
		case a.opens <- "":
		case <-a.ctx.Done():
		}
	}()
}

func (a *App) markRead() {
	room := a.vm.Active()
	if room == "" {
		return
	}
	go func() {
		if err := a.backend.MarkRead(a.ctx, room); err != nil {
			a.flash.Err(fmt.Errorf("mark read: %w", err))
			a.markDirty(0)
		}
	}()
}

func (a *App) retryAuth() {
	a.auth.ShowMessage("Retrying...")
	go func() {
		if err := a.backend.Resume(a.ctx); err != nil {
			a.flash.Err(fmt.Errorf("resume: %w", err))
			a.markDirty(0)
		}
	}()
}

func (a *App) runSearch(query string) {
	if a.searcher == nil {
		a.flash.Warn("Search is not available")
		a.flashBar.Render(a.flash)
		return
	}
	go func() {
		results, err := a.searcher.SearchMessages(a.ctx, query, "", searchLimit)
		if err != nil {
			a.flash.Err(fmt.Errorf("search failed: %w", err))
			a.markDirty(0)
			return
		}
		a.app.QueueUpdateDraw(func() {
			a.search.Update(results)
			a.app.SetFocus(a.search.Results())
		})
	}()
}

func (a *App) showDetails(token string) {
	if token == "" {
		return
	}
	room, ok := a.vm.Room(token)
	if !ok {
		return
	}
	d := views.RoomDetails{Room: room}
	if view, ok := a.backend.Snapshot(token); ok {
		d.Cursor = view.Cursor
		d.Messages = len(view.Messages)
		for _, m := range view.Messages {
			switch m.State {
			case feed.Pending:
				d.Pending++
			case feed.Failed:
				d.Failed++
			}
		}
	}
	a.details.Update(d)
	a.push(pageDetails)
}

// markDirty records what changed and wakes the redraw loop without blocking.
func (a *App) markDirty(c model.Change) {
	for {
		old := a.change.Load()
		if a.change.CompareAndSwap(old, old|uint32(c)) {
			break
		}
	}
	select {
	case a.dirty <- struct{}{}:
	default:
	}
}

// pump folds engine events into the view model. It never waits on the UI so
// a slow terminal cannot hold up the engine.
func (a *App) pump(ctx context.Context, sub *feed.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-sub.C:
			active := a.vm.Active()
			c, notice := a.vm.Apply(evt)
			if active != "" && a.vm.Active() == "" {
				a.evicted.Store(active)
			}
			if notice != nil {
				if notice.Warn {
					a.flash.Warn(notice.Text)
				} else {
					a.flash.Info(notice.Text)
				}
			}
			if c != 0 || notice != nil {
				a.markDirty(c)
			}
		case token := <-a.opens:
			if token == "" {
				a.vm.Close()
				a.markDirty(model.ChangedThread)
				continue
			}
			view, ok := a.backend.Snapshot(token)
			if !ok {
				a.flash.Warn("Room is no longer available")
				a.vm.Close()
				a.markDirty(model.ChangedThread)
				continue
			}
			a.vm.Open(view)
			a.backend.SetActive(token)
			a.markDirty(model.ChangedThread)
		}
	}
}

func (a *App) redraw(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.dirty:
			c := model.Change(a.change.Swap(0))
			a.app.QueueUpdateDraw(func() { a.render(c) })
		case <-a.flash.Changed():
			a.app.QueueUpdateDraw(func() { a.flashBar.Render(a.flash) })
		}
	}
}

// tick refreshes the clock, uptime and flash expiry.
func (a *App) tick(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.markDirty(model.ChangedStatus)
		}
	}
}

// render runs on the UI goroutine.
func (a *App) render(c model.Change) {
	if c.Has(model.ChangedRooms) {
		a.roomList.Update(a.vm.Rooms())
	}
	if c.Has(model.ChangedThread) {
		gone, _ := a.evicted.Swap("").(string)
		switch {
		case gone != "" && gone == a.thread.Room() && a.pages.Current() == pageThread:
			a.back()
		case a.vm.Active() == a.thread.Room():
			msgs, unreadFrom := a.vm.Thread()
			a.thread.Update(msgs, unreadFrom)
		}
	}
	if c.Has(model.ChangedStatus) {
		a.renderStatus()
	}
	rooms := a.vm.Rooms()
	unread := 0
	for _, r := range rooms {
		unread += r.UnreadCount
	}
	a.sessionInfo.Update(&ui.SessionData{
		Session: a.opts.Session,
		Server:  a.opts.Server,
		User:    a.opts.User,
		Status:  string(a.vm.Status()),
		Rooms:   len(rooms),
		Unread:  unread,
		Uptime:  time.Since(a.started),
	})
	a.statusBar.SetPending(a.vm.Pending())
	a.flashBar.Render(a.flash)
}

func (a *App) renderStatus() {
	st := a.vm.Status()
	a.statusBar.SetStatus(st)
	switch {
	case st == status.AuthRequired && a.pages.Current() != pageAuth:
		a.auth.ShowLogin(a.opts.LoginURL, a.opts.CredentialsPath)
		a.push(pageAuth)
	case st != status.AuthRequired && a.pages.Current() == pageAuth:
		a.pages.Pop()
		a.focusPage(a.pages.Current())
	}
}

// Run starts the TUI and blocks until the user quits or ctx is done.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.ctx = ctx

	// Subscribe before reading the initial state; events already reflected in
	// it are applied again harmlessly.
	sub := a.backend.Subscribe("")
	defer sub.Close()
	a.vm.Load(a.backend.Rooms(), a.backend.Status())
	a.markDirty(model.ChangedRooms | model.ChangedStatus)

	go a.pump(ctx, sub)
	go a.redraw(ctx)
	go a.tick(ctx)
	go func() {
		<-ctx.Done()
		a.app.Stop()
	}()

	a.log.Info("tui started")
	err := a.app.Run()
	cancel()
	return err
}
