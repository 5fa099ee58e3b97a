package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tonimelisma/o365-sync/internal/graph"
)

// ErrMissingCredentials is returned when tenant, client id, or secret
// cannot be found in any source.
var ErrMissingCredentials = errors.New("config: missing credentials")

// Secret directory watch tuning. Kubernetes swaps a ..data symlink when a
// secret rotates, producing a burst of events; one reload per burst.
const (
	secretDebounce      = 500 * time.Millisecond
	watchErrInitBackoff = 1 * time.Second
	watchErrMaxBackoff  = 30 * time.Second
	watchErrBackoffMult = 2
)

// Credentials resolves the app registration. Values already in auth (from
// the config file or environment) win; empty values fall back to the
// matching secret file. A missing file at the built-in default path is not
// an error, a missing file the user configured is.
func Credentials(auth AuthConfig) (graph.Credentials, error) {
	sources := []struct {
		name string
		val  *string
		file string
		def  string
	}{
		{"tenant_id", &auth.TenantID, auth.TenantIDFile, defaultTenantIDFile},
		{"client_id", &auth.ClientID, auth.ClientIDFile, defaultClientIDFile},
		{"client_secret", &auth.ClientSecret, auth.ClientSecretFile, defaultClientSecretFile},
	}

	var missing []string

	for _, s := range sources {
		if *s.val != "" {
			continue
		}

		if s.file != "" {
			v, err := readSecretFile(s.file)
			switch {
			case errors.Is(err, os.ErrNotExist) && s.file == s.def:
			case err != nil:
				return graph.Credentials{}, fmt.Errorf("config: reading auth.%s_file: %w", s.name, err)
			default:
				*s.val = v
			}
		}

		if *s.val == "" {
			missing = append(missing, s.name)
		}
	}

	if len(missing) > 0 {
		return graph.Credentials{}, fmt.Errorf("%w: %s (set them in [auth], O365_SYNC_* variables, or secret files)",
			ErrMissingCredentials, strings.Join(missing, ", "))
	}

	return graph.Credentials{
		TenantID:     auth.TenantID,
		ClientID:     auth.ClientID,
		ClientSecret: auth.ClientSecret,
		GrantType:    auth.GrantType,
		Scope:        auth.Scope,
		TokenURL:     auth.TokenURL,
	}, nil
}

// readSecretFile returns the file's content with surrounding whitespace
// removed; secret mounts often carry a trailing newline.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(string(data)), nil
}

// SecretDirs returns the directories holding secret files that are
// actually in use: values set inline or by environment are skipped.
func SecretDirs(auth AuthConfig) []string {
	seen := make(map[string]bool)

	var dirs []string

	for _, pair := range [][2]string{
		{auth.TenantID, auth.TenantIDFile},
		{auth.ClientID, auth.ClientIDFile},
		{auth.ClientSecret, auth.ClientSecretFile},
	} {
		if pair[0] != "" || pair[1] == "" {
			continue
		}

		dir := filepath.Dir(pair[1])
		if _, err := os.Stat(dir); err != nil || seen[dir] {
			continue
		}

		seen[dir] = true
		dirs = append(dirs, dir)
	}

	return dirs
}

// FsWatcher is the subset of *fsnotify.Watcher used to watch secret
// directories. Tests substitute a channel-backed fake.
type FsWatcher interface {
	Add(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsnotifyWatcher struct {
	w *fsnotify.Watcher
}

func (f fsnotifyWatcher) Add(name string) error         { return f.w.Add(name) }
func (f fsnotifyWatcher) Close() error                  { return f.w.Close() }
func (f fsnotifyWatcher) Events() <-chan fsnotify.Event { return f.w.Events }
func (f fsnotifyWatcher) Errors() <-chan error          { return f.w.Errors }

// SecretWatcher calls OnChange after secret files change on disk.
type SecretWatcher struct {
	dirs     []string
	onChange func(ctx context.Context)
	logger   *slog.Logger

	newWatcher func() (FsWatcher, error)
	debounce   time.Duration
}

// NewSecretWatcher watches dirs. onChange runs on the watcher goroutine,
// once per burst of events.
func NewSecretWatcher(dirs []string, onChange func(ctx context.Context), logger *slog.Logger) *SecretWatcher {
	if logger == nil {
		logger = slog.Default()
	}

	return &SecretWatcher{
		dirs:     dirs,
		onChange: onChange,
		logger:   logger,
		newWatcher: func() (FsWatcher, error) {
			w, err := fsnotify.NewWatcher()
			if err != nil {
				return nil, err
			}

			return fsnotifyWatcher{w: w}, nil
		},
		debounce: secretDebounce,
	}
}

// Run blocks until ctx is canceled. With no directories it returns at once.
func (s *SecretWatcher) Run(ctx context.Context) error {
	if len(s.dirs) == 0 {
		return nil
	}

	watcher, err := s.newWatcher()
	if err != nil {
		return fmt.Errorf("config: creating secret watcher: %w", err)
	}
	defer watcher.Close()

	for _, dir := range s.dirs {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("config: watching %s: %w", dir, err)
		}

		s.logger.Info("watching secret directory", slog.String("dir", dir))
	}

	return s.loop(ctx, watcher)
}

func (s *SecretWatcher) loop(ctx context.Context, watcher FsWatcher) error {
	var fire <-chan time.Time

	errBackoff := watchErrInitBackoff

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events():
			if !ok {
				return nil
			}

			if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}

			s.logger.Debug("secret directory changed", slog.String("path", ev.Name), slog.String("op", ev.Op.String()))

			fire = time.After(s.debounce)
			errBackoff = watchErrInitBackoff

		case <-fire:
			fire = nil

			s.logger.Info("secret files changed, reloading credentials")
			s.onChange(ctx)

		case watchErr, ok := <-watcher.Errors():
			if !ok {
				return nil
			}

			s.logger.Warn("secret watcher error",
				slog.String("error", watchErr.Error()),
				slog.Duration("backoff", errBackoff),
			)

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(errBackoff):
			}

			errBackoff = min(errBackoff*watchErrBackoffMult, watchErrMaxBackoff)
		}
	}
}
