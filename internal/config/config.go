package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/matheus3301/talk/internal/backoff"
)

// Config represents the global ~/.talk/config.toml.
type Config struct {
	DefaultSession string        `toml:"default_session"`
	Server         ServerConfig  `toml:"server"`
	Poll           PollConfig    `toml:"poll"`
	Backoff        BackoffConfig `toml:"backoff"`
	Outbox         OutboxConfig  `toml:"outbox"`
	Feed           FeedConfig    `toml:"feed"`
	UI             UIConfig      `toml:"ui"`
}

// ServerConfig locates the chat server and the account used against it.
type ServerConfig struct {
	URL  string `toml:"url"`
	User string `toml:"user"`
	// CredentialsFile holds the app password. Relative paths are resolved
	// against the config file's directory.
	CredentialsFile   string   `toml:"credentials_file"`
	RequestTimeout    Duration `toml:"request_timeout"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
}

// PollConfig sets the polling cadence.
type PollConfig struct {
	ActiveInterval     Duration `toml:"active_interval"`
	BackgroundInterval Duration `toml:"background_interval"`
	RoomListInterval   Duration `toml:"room_list_interval"`
	FetchTimeout       Duration `toml:"fetch_timeout"`
	LongPoll           Duration `toml:"long_poll"`
}

// BackoffConfig is shared by polling and sending.
type BackoffConfig struct {
	Curve          string   `toml:"curve"`
	Base           Duration `toml:"base"`
	Max            Duration `toml:"max"`
	RateLimitFloor Duration `toml:"rate_limit_floor"`
}

// OutboxConfig bounds delivery retries.
type OutboxConfig struct {
	MaxAttempts int      `toml:"max_attempts"`
	SendTimeout Duration `toml:"send_timeout"`
}

// FeedConfig sizes subscriber buffers.
type FeedConfig struct {
	Capacity int `toml:"capacity"`
}

// UIConfig tunes the terminal view.
type UIConfig struct {
	DateFormat string `toml:"date_format"`
	// HistoryPerRoom is how many cached messages per room are loaded at start.
	HistoryPerRoom int `toml:"history_per_room"`
}

// Duration is a time.Duration written as a string such as "3s" or "1m30s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the configuration used for every field left unset.
func Default() *Config {
	policy := backoff.Default()
	return &Config{
		DefaultSession: "main",
		Server: ServerConfig{
			CredentialsFile:   "credentials",
			RequestTimeout:    Duration{90 * time.Second},
			RequestsPerSecond: 5,
		},
		Poll: PollConfig{
			ActiveInterval:     Duration{3 * time.Second},
			BackgroundInterval: Duration{30 * time.Second},
			RoomListInterval:   Duration{time.Minute},
			FetchTimeout:       Duration{time.Minute},
			LongPoll:           Duration{0},
		},
		Backoff: BackoffConfig{
			Curve:          string(policy.Curve),
			Base:           Duration{policy.Base},
			Max:            Duration{policy.Max},
			RateLimitFloor: Duration{policy.RateLimitFloor},
		},
		Outbox: OutboxConfig{
			MaxAttempts: 5,
			SendTimeout: Duration{30 * time.Second},
		},
		Feed: FeedConfig{Capacity: 256},
		UI: UIConfig{
			DateFormat:     "Mon 02 Jan 2006",
			HistoryPerRoom: 200,
		},
	}
}

// Load reads config from the given path. Returns zero config and error if file missing.
// Fields the file leaves out keep their defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields Default.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Validate reports values the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	for _, f := range []struct {
		name string
		v    time.Duration
	}{
		{"poll.active_interval", c.Poll.ActiveInterval.Duration},
		{"poll.background_interval", c.Poll.BackgroundInterval.Duration},
		{"poll.room_list_interval", c.Poll.RoomListInterval.Duration},
		{"poll.fetch_timeout", c.Poll.FetchTimeout.Duration},
		{"outbox.send_timeout", c.Outbox.SendTimeout.Duration},
	} {
		if f.v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", f.name))
		}
	}
	if c.Poll.LongPoll.Duration < 0 {
		errs = append(errs, errors.New("poll.long_poll must not be negative"))
	}
	if c.Poll.LongPoll.Duration > 0 && c.Poll.LongPoll.Duration >= c.Poll.FetchTimeout.Duration {
		errs = append(errs, errors.New("poll.long_poll must be shorter than poll.fetch_timeout"))
	}
	if err := c.BackoffPolicy().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("backoff: %w", err))
	}
	if c.Outbox.MaxAttempts < 1 {
		errs = append(errs, errors.New("outbox.max_attempts must be at least 1"))
	}
	if c.Feed.Capacity < 0 {
		errs = append(errs, errors.New("feed.capacity must not be negative"))
	}
	if c.Server.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("server.requests_per_second must not be negative"))
	}
	return errors.Join(errs...)
}

// BackoffPolicy converts the [backoff] section.
func (c *Config) BackoffPolicy() backoff.Policy {
	return backoff.Policy{
		Curve:          backoff.Curve(c.Backoff.Curve),
		Base:           c.Backoff.Base.Duration,
		Max:            c.Backoff.Max.Duration,
		RateLimitFloor: c.Backoff.RateLimitFloor.Duration,
	}
}

// CredentialsPath resolves server.credentials_file relative to dir.
func (c *Config) CredentialsPath(dir string) string {
	p := c.Server.CredentialsFile
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}
