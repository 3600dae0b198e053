package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/vietddude/projector/internal/infra/storage/postgres"
)

// WatchDatabase streams connection configurations. The first value is sent
// immediately. When CredentialsFile is set, a new value is sent every time the
// file's contents change. The channel is closed when ctx is done.
func WatchDatabase(ctx context.Context, cfg DatabaseConfig) (<-chan postgres.Config, error) {
	out := make(chan postgres.Config, 1)

	if cfg.CredentialsFile == "" {
		if cfg.URL == "" {
			return nil, errors.New("database url is empty")
		}
		out <- cfg.Config
		go func() {
			<-ctx.Done()
			close(out)
		}()
		return out, nil
	}

	path, err := filepath.Abs(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve credentials file: %w", err)
	}
	url, err := readCredentials(path)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	// Watch the directory so atomic replaces (rename over, symlink swaps) are seen
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch credentials dir: %w", err)
	}

	first := cfg.Config
	first.URL = url
	out <- first

	log := slog.Default().With("component", "config_watch", "file", path)
	go func() {
		defer close(out)
		defer watcher.Close()

		last := url
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				next, err := readCredentials(path)
				if err != nil {
					log.Debug("Credentials file not readable yet", "error", err)
					continue
				}
				if next == last {
					continue
				}
				last = next
				c := cfg.Config
				c.URL = next
				log.Info("Database credentials changed")
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("File watcher error", "error", err)
			}
		}
	}()
	return out, nil
}

func readCredentials(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read credentials file: %w", err)
	}
	url := strings.TrimSpace(string(data))
	if url == "" {
		return "", errors.New("credentials file is empty")
	}
	return url, nil
}

// ResolveDatabase returns the current connection configuration, reading
// CredentialsFile when set.
func ResolveDatabase(cfg DatabaseConfig) (postgres.Config, error) {
	if cfg.CredentialsFile == "" {
		return cfg.Config, nil
	}
	url, err := readCredentials(cfg.CredentialsFile)
	if err != nil {
		return postgres.Config{}, err
	}
	out := cfg.Config
	out.URL = url
	return out, nil
}
