// talkctl inspects the offline cache of a talk session. It only reads, so it
// is safe to run while talk is syncing.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/matheus3301/talk/internal/session"
	"github.com/matheus3301/talk/internal/store"
)

// globalOpts holds the persistent flags.
type globalOpts struct {
	session string
	json    bool
}

func (o *globalOpts) resolve() (string, error) {
	name := session.Resolve(o.session)
	if err := session.ValidateName(name); err != nil {
		return "", err
	}
	return name, nil
}

// openCache opens the session's cache read-only.
func (o *globalOpts) openCache() (*store.DB, string, error) {
	name, err := o.resolve()
	if err != nil {
		return nil, "", err
	}
	path := session.CachePath(name)
	if _, err := os.Stat(path); err != nil {
		return nil, "", fmt.Errorf("no cache for session %q at %s (run talk first)", name, path)
	}
	db, err := store.OpenReadOnly(path)
	if err != nil {
		return nil, "", fmt.Errorf("open cache: %w", err)
	}
	return db, name, nil
}

func newRootCmd() *cobra.Command {
	opts := &globalOpts{}
	root := &cobra.Command{
		Use:   "talkctl",
		Short: "Inspect the offline cache of a talk session",
		Long: `Inspect the offline cache of a talk session.

Available subcommands:
  rooms    - List cached rooms, most recently active first
  messages - Show the latest messages of a room
  search   - Full-text search over cached messages
  outbox   - List messages and read markers not yet confirmed
  status   - Show whether talk is running and cache statistics
  sessions - List known sessions`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.session, "session", "", "session name (overrides config default)")
	root.PersistentFlags().BoolVar(&opts.json, "json", false, "output in JSON format")

	root.AddCommand(
		newRoomsCmd(opts),
		newMessagesCmd(opts),
		newSearchCmd(opts),
		newOutboxCmd(opts),
		newStatusCmd(opts),
		newSessionsCmd(opts),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
