package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matheus3301/talk/internal/daemon"
	"github.com/matheus3301/talk/internal/session"
	"github.com/matheus3301/talk/internal/tui"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	headless := flag.Bool("headless", false, "sync without the terminal UI, logging to stderr")
	debug := flag.Bool("debug", false, "log at debug level")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	p := daemon.Params{SessionName: sessionName, Headless: *headless, Debug: *debug}
	opts := []fx.Option{
		daemon.Logger(),
		daemon.Module(p),
	}
	if !*headless {
		opts = append(opts, fx.Invoke(runTUI))
	}

	app := fx.New(opts...)
	if err := app.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	app.Run()
}

// runTUI starts the terminal UI once the runtime is up and shuts the app down
// when the user quits.
func runTUI(lc fx.Lifecycle, shutdowner fx.Shutdowner, p daemon.Params, rt *daemon.Runtime, logger *zap.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	app := tui.NewApp(rt.Engine, rt.Cache, tui.Options{
		Session:         p.SessionName,
		Server:          rt.Config.Server.URL,
		User:            rt.Config.Server.User,
		LoginURL:        rt.LoginURL,
		CredentialsPath: rt.CredentialsPath,
		DateFormat:      rt.Config.UI.DateFormat,
		Logger:          logger,
	})

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				defer close(done)
				code := 0
				if err := app.Run(ctx); err != nil {
					logger.Error("tui exited", zap.Error(err))
					code = 1
				}
				if err := shutdowner.Shutdown(fx.ExitCode(code)); err != nil {
					logger.Warn("shutdown", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}
