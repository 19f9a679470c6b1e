package session

import (
	"os"

	"github.com/matheus3301/talk/internal/config"
)

// DefaultName is used when nothing else names a session.
const DefaultName = "main"

// Resolve picks the session to use. An explicit flag wins, then $TALK_SESSION,
// then default_session from config.toml.
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	if env := os.Getenv("TALK_SESSION"); env != "" {
		return env
	}
	if cfg, err := config.Load(ConfigPath()); err == nil && cfg.DefaultSession != "" {
		return cfg.DefaultSession
	}
	return DefaultName
}
