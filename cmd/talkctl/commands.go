package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/matheus3301/talk/internal/lock"
	"github.com/matheus3301/talk/internal/session"
	"github.com/matheus3301/talk/internal/store"
)

var (
	cyan   = color.New(color.FgCyan)
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed)
	bold   = color.New(color.Bold)
	faint  = color.New(color.Faint)
)

type roomOut struct {
	Token        string    `json:"token"`
	Name         string    `json:"name"`
	Unread       int       `json:"unread"`
	LastActivity time.Time `json:"last_activity"`
	LastReadID   string    `json:"last_read_id,omitempty"`
}

type messageOut struct {
	Room      string         `json:"room"`
	ID        string         `json:"id"`
	Author    string         `json:"author"`
	Body      string         `json:"body"`
	Kind      string         `json:"kind"`
	State     string         `json:"state"`
	Reactions map[string]int `json:"reactions,omitempty"`
	Time      time.Time      `json:"time"`
	Snippet   string         `json:"snippet,omitempty"`
}

type outboxOut struct {
	TempID   string    `json:"temp_id"`
	Kind     string    `json:"kind"`
	Room     string    `json:"room"`
	Body     string    `json:"body,omitempty"`
	Target   string    `json:"target,omitempty"`
	Attempts int       `json:"attempts"`
	Status   string    `json:"status"`
	Error    string    `json:"error,omitempty"`
	Created  time.Time `json:"created"`
}

type statusOut struct {
	Session       string `json:"session"`
	Running       bool   `json:"running"`
	PID           int    `json:"pid,omitempty"`
	SchemaVersion uint   `json:"schema_version"`
	Rooms         int    `json:"rooms"`
	Unread        int    `json:"unread"`
	Pending       int    `json:"pending"`
	Failed        int    `json:"failed"`
	Cursors       int    `json:"cursors"`
}

type sessionOut struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Running bool   `json:"running"`
}

func toMessageOut(m store.Message) messageOut {
	author := m.ActorName
	if author == "" {
		author = m.ActorID
	}
	return messageOut{
		Room:      m.RoomToken,
		ID:        m.MsgID,
		Author:    author,
		Body:      m.Body,
		Kind:      m.Kind,
		State:     m.State,
		Reactions: m.Reactions,
		Time:      time.UnixMilli(m.Timestamp),
	}
}

func newRoomsCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "rooms",
		Short: "List cached rooms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, _, err := opts.openCache()
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			rooms, err := db.ListRooms(cmd.Context())
			if err != nil {
				return fmt.Errorf("list rooms: %w", err)
			}
			out := make([]roomOut, 0, len(rooms))
			for _, r := range rooms {
				out = append(out, roomOut{
					Token:        r.Token,
					Name:         r.DisplayName,
					Unread:       r.UnreadCount,
					LastActivity: time.UnixMilli(r.LastActivity),
					LastReadID:   r.LastReadID,
				})
			}
			w := cmd.OutOrStdout()
			if opts.json {
				return outputJSON(w, out)
			}
			if len(out) == 0 {
				_, _ = fmt.Fprintln(w, "No rooms cached.")
				return nil
			}
			for _, r := range out {
				unread := faint.Sprint("-")
				if r.Unread > 0 {
					unread = yellow.Sprintf("%d", r.Unread)
				}
				_, _ = fmt.Fprintf(w, "%-12s %-30s %6s  %s\n",
					cyan.Sprint(r.Token), r.Name, unread, r.LastActivity.Local().Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
}

func newMessagesCmd(opts *globalOpts) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "messages <room>",
		Short: "Show the latest messages of a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, _, err := opts.openCache()
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			room := args[0]
			r, err := db.GetRoom(cmd.Context(), room)
			if err != nil {
				return fmt.Errorf("get room: %w", err)
			}
			if r == nil {
				return fmt.Errorf("unknown room %q (see talkctl rooms)", room)
			}
			msgs, err := db.RecentMessages(cmd.Context(), room, limit)
			if err != nil {
				return fmt.Errorf("list messages: %w", err)
			}
			out := make([]messageOut, 0, len(msgs))
			for _, m := range msgs {
				out = append(out, toMessageOut(m))
			}
			w := cmd.OutOrStdout()
			if opts.json {
				return outputJSON(w, out)
			}
			for _, m := range out {
				printMessage(w, m)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of messages")
	return cmd
}

func printMessage(w io.Writer, m messageOut) {
	marker := ""
	switch m.State {
	case "pending":
		marker = faint.Sprint("… ")
	case "failed":
		marker = red.Sprint("! ")
	}
	body := m.Body
	if m.Snippet != "" {
		body = m.Snippet
	}
	_, _ = fmt.Fprintf(w, "%s %s %s%s\n",
		faint.Sprint(m.Time.Local().Format("01-02 15:04")), bold.Sprintf("%-16s", m.Author), marker, body)
	if len(m.Reactions) > 0 {
		keys := make([]string, 0, len(m.Reactions))
		for k := range m.Reactions {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s %d", k, m.Reactions[k]))
		}
		_, _ = fmt.Fprintf(w, "%29s%s\n", "", strings.Join(parts, "  "))
	}
}

func newSearchCmd(opts *globalOpts) *cobra.Command {
	var (
		limit int
		room  string
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search over cached messages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, _, err := opts.openCache()
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			results, err := db.SearchMessages(cmd.Context(), strings.Join(args, " "), room, limit)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			out := make([]messageOut, 0, len(results))
			for _, r := range results {
				m := toMessageOut(r.Message)
				m.Snippet = r.Snippet
				out = append(out, m)
			}
			w := cmd.OutOrStdout()
			if opts.json {
				return outputJSON(w, out)
			}
			if len(out) == 0 {
				_, _ = fmt.Fprintln(w, "No matches.")
				return nil
			}
			for _, m := range out {
				m.Snippet = strings.NewReplacer("<<", "", ">>", "").Replace(m.Snippet)
				_, _ = fmt.Fprintf(w, "%s ", cyan.Sprintf("[%s]", m.Room))
				printMessage(w, m)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum number of results")
	cmd.Flags().StringVar(&room, "room", "", "only search this room")
	return cmd
}

func newOutboxCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "outbox",
		Short: "List unconfirmed sends and read markers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, _, err := opts.openCache()
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			entries, err := db.ListOutbox(cmd.Context())
			if err != nil {
				return fmt.Errorf("list outbox: %w", err)
			}
			out := make([]outboxOut, 0, len(entries))
			for _, e := range entries {
				out = append(out, outboxOut{
					TempID:   e.TempID,
					Kind:     e.Kind,
					Room:     e.RoomToken,
					Body:     e.Body,
					Target:   e.TargetID,
					Attempts: e.Attempts,
					Status:   e.Status,
					Error:    e.ErrorMessage,
					Created:  time.UnixMilli(e.CreatedAt),
				})
			}
			w := cmd.OutOrStdout()
			if opts.json {
				return outputJSON(w, out)
			}
			if len(out) == 0 {
				_, _ = fmt.Fprintln(w, "Outbox is empty.")
				return nil
			}
			for _, e := range out {
				st := yellow.Sprint(e.Status)
				if e.Status == "failed" {
					st = red.Sprint(e.Status)
				}
				what := e.Body
				if e.Kind == "read" {
					what = "read up to " + e.Target
				}
				_, _ = fmt.Fprintf(w, "%-8s %-12s %s (%d attempts) %s\n", st, cyan.Sprint(e.Room), what, e.Attempts, faint.Sprint(e.Error))
			}
			return nil
		},
	}
}

func newStatusCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether talk is running and cache statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, name, err := opts.openCache()
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()
			ctx := cmd.Context()

			st := statusOut{Session: name}
			owner, held, err := lock.Probe(session.Dir(name))
			if err != nil {
				return err
			}
			st.Running, st.PID = held, owner.PID
			if st.SchemaVersion, _, err = db.SchemaVersion(); err != nil {
				return err
			}
			rooms, err := db.ListRooms(ctx)
			if err != nil {
				return fmt.Errorf("list rooms: %w", err)
			}
			st.Rooms = len(rooms)
			for _, r := range rooms {
				st.Unread += r.UnreadCount
			}
			entries, err := db.ListOutbox(ctx)
			if err != nil {
				return fmt.Errorf("list outbox: %w", err)
			}
			for _, e := range entries {
				if e.Status == "failed" {
					st.Failed++
				} else {
					st.Pending++
				}
			}
			cursors, err := store.NewReconciler(db, nil).Cursors(ctx)
			if err != nil {
				return fmt.Errorf("list cursors: %w", err)
			}
			st.Cursors = len(cursors)

			w := cmd.OutOrStdout()
			if opts.json {
				return outputJSON(w, st)
			}
			running := red.Sprint("stopped")
			if st.Running {
				running = green.Sprintf("running (%s)", owner)
			}
			_, _ = fmt.Fprintf(w, "Session: %s\n", cyan.Sprint(st.Session))
			_, _ = fmt.Fprintf(w, "Talk:    %s\n", running)
			_, _ = fmt.Fprintf(w, "Schema:  v%d\n", st.SchemaVersion)
			_, _ = fmt.Fprintf(w, "Rooms:   %d (%d unread, %d synced)\n", st.Rooms, st.Unread, st.Cursors)
			_, _ = fmt.Fprintf(w, "Outbox:  %d pending, %d failed\n", st.Pending, st.Failed)
			return nil
		},
	}
}

func newSessionsCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List known sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			root := filepath.Join(session.BaseDir(), "sessions")
			entries, err := os.ReadDir(root)
			if err != nil && !os.IsNotExist(err) {
				return err
			}
			out := make([]sessionOut, 0, len(entries))
			for _, e := range entries {
				if !e.IsDir() || session.ValidateName(e.Name()) != nil {
					continue
				}
				_, held, _ := lock.Probe(session.Dir(e.Name()))
				out = append(out, sessionOut{Name: e.Name(), Path: session.Dir(e.Name()), Running: held})
			}
			w := cmd.OutOrStdout()
			if opts.json {
				return outputJSON(w, out)
			}
			if len(out) == 0 {
				_, _ = fmt.Fprintln(w, "No sessions found.")
				return nil
			}
			for _, s := range out {
				running := faint.Sprint("stopped")
				if s.Running {
					running = green.Sprint("running")
				}
				_, _ = fmt.Fprintf(w, "%-20s %s (%s)\n", s.Name, s.Path, running)
			}
			return nil
		},
	}
}

func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("json encode: %w", err)
	}
	return nil
}
