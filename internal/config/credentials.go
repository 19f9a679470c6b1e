package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ErrNoCredentials is returned when the credentials file is missing or empty.
var ErrNoCredentials = errors.New("no credentials")

// ReadCredentials returns the app password stored in path, trimmed of
// surrounding whitespace.
func ReadCredentials(path string) (string, error) {
	if path == "" {
		return "", ErrNoCredentials
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNoCredentials
	}
	if err != nil {
		return "", fmt.Errorf("read credentials: %w", err)
	}
	secret := strings.TrimSpace(string(data))
	if secret == "" {
		return "", ErrNoCredentials
	}
	return secret, nil
}

// WatchCredentials calls onChange with the new secret each time the file at
// path is written or replaced, until ctx is done. The parent directory is
// watched so editors that save through a rename are seen too.
func WatchCredentials(ctx context.Context, path string, logger *zap.Logger, onChange func(secret string)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = w.Close() }()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	last, _ := ReadCredentials(path)
	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("credentials watcher error", zap.Error(err))
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				continue
			}
			secret, err := ReadCredentials(path)
			if err != nil {
				logger.Debug("credentials not readable yet", zap.Error(err))
				continue
			}
			if secret == last {
				continue
			}
			last = secret
			logger.Info("credentials changed", zap.String("path", path))
			onChange(secret)
		}
	}
}
