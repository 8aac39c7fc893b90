package policy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"notification-inspector/internal/logging"
)

const maxRulesBytes = 1 << 20

// LoadFile parses the rules file into s. A missing file clears the rules.
func (s *Store) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		s.Set(nil)
		return nil
	}
	if err != nil {
		return err
	}
	p, err := Parse(b, path)
	if err != nil {
		return err
	}
	s.Set(p)
	return nil
}

// Fetch downloads a rules document and installs it.
func (s *Store) Fetch(ctx context.Context, client *http.Client, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("rules fetch returned status %d", resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxRulesBytes))
	if err != nil {
		return err
	}
	p, err := Parse(b, url)
	if err != nil {
		return err
	}
	s.Set(p)
	return nil
}

// Poll fetches url immediately and then every interval until ctx is done.
func (s *Store) Poll(ctx context.Context, url string, interval time.Duration, log *logging.Logger) {
	client := &http.Client{Timeout: 15 * time.Second}
	fetch := func() {
		if err := s.Fetch(ctx, client, url); err != nil {
			log.Error("rules fetch failed", "url", url, "err", err)
			return
		}
		log.Info("rules fetched", "url", url, "rules", len(s.Get().Rules))
	}
	fetch()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			fetch()
		case <-ctx.Done():
			return
		}
	}
}

// Watch reloads the rules file whenever it changes. The directory is
// watched rather than the file so editors that replace it are handled.
func (s *Store) Watch(ctx context.Context, path string, log *logging.Logger) error {
	dir, file := filepath.Dir(path), filepath.Base(path)
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}

	var debounce *time.Timer
	reload := func() {
		if err := s.LoadFile(path); err != nil {
			log.Error("rules reload failed; keeping previous rules", "path", path, "err", err)
			return
		}
		n := 0
		if p := s.Get(); p != nil {
			n = len(p.Rules)
		}
		log.Info("rules reloaded", "path", path, "rules", n)
	}
	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !strings.EqualFold(filepath.Base(ev.Name), file) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(200*time.Millisecond, reload)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("rules watch error", "dir", dir, "err", err)
		}
	}
}
