package policy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"notification-inspector/internal/events"
	"notification-inspector/internal/logging"
)

const sampleRules = `
version: 1
rules:
  - id: quiet-chat
    match: "org.telegram.*"
    action: ignore
  - id: hide-mail
    match: thunderbird
    action: redact
`

func TestParseAndApply(t *testing.T) {
	p, err := Parse([]byte(sampleRules), "test")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(p.Rules) != 2 {
		t.Fatalf("rules = %d", len(p.Rules))
	}

	if _, keep := p.Apply(events.Event{Package: "org.telegram.desktop"}); keep {
		t.Errorf("telegram event should be ignored")
	}
	got, keep := p.Apply(events.Event{Package: "Thunderbird", Title: "Invoice", Body: "attached"})
	if !keep || got.Title != "[redacted]" || got.Body != "[redacted]" {
		t.Errorf("thunderbird event = %+v, keep=%v", got, keep)
	}
	got, keep = p.Apply(events.Event{Package: "thunderbird"})
	if !keep || got.Title != "" || got.Body != "" {
		t.Errorf("absent fields must stay absent, got %+v", got)
	}
	got, keep = p.Apply(events.Event{Package: "firefox", Title: "Done"})
	if !keep || got.Title != "Done" {
		t.Errorf("unmatched event changed: %+v", got)
	}
}

func TestParseRejectsBadRules(t *testing.T) {
	bad := []string{
		"rules: [{id: a, match: '', action: ignore}]",
		"rules: [{id: a, match: 'x', action: explode}]",
		"rules: [{id: a, match: '[', action: ignore}]",
		"rules: {",
	}
	for _, doc := range bad {
		if _, err := Parse([]byte(doc), "test"); err == nil {
			t.Errorf("expected error for %q", doc)
		}
	}
}

func TestNilPolicyAllows(t *testing.T) {
	s := NewStore()
	e, keep := s.Apply(events.Event{Package: "anything", Title: "t"})
	if !keep || e.Title != "t" {
		t.Fatalf("nil policy altered event")
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	s := NewStore()
	if err := s.LoadFile(path); err != nil || s.Get() != nil {
		t.Fatalf("missing file: %v %v", s.Get(), err)
	}
	if err := os.WriteFile(path, []byte(sampleRules), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := s.LoadFile(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.Get() == nil || s.Get().Source != path {
		t.Fatalf("policy not installed")
	}
	if err := os.WriteFile(path, []byte("rules: {"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := s.LoadFile(path); err == nil {
		t.Fatalf("expected parse error")
	}
	if s.Get() == nil {
		t.Fatalf("bad file dropped the previous rules")
	}
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(sampleRules))
	}))
	defer srv.Close()

	s := NewStore()
	ctx := context.Background()
	if err := s.Fetch(ctx, srv.Client(), srv.URL+"/missing"); err == nil {
		t.Fatalf("expected status error")
	}
	if err := s.Fetch(ctx, srv.Client(), srv.URL+"/rules.yaml"); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(s.Get().Rules) != 2 {
		t.Fatalf("fetched rules = %d", len(s.Get().Rules))
	}
}

func TestWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	s := NewStore()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- s.Watch(ctx, path, logging.Nop()) }()

	deadline := time.Now().Add(5 * time.Second)
	for s.Get() == nil {
		// rewrite until the watcher is attached and picks it up
		if err := os.WriteFile(path, []byte(sampleRules), 0o644); err != nil {
			t.Fatal(err)
		}
		if time.Now().After(deadline) {
			t.Fatalf("rules were not reloaded")
		}
		time.Sleep(100 * time.Millisecond)
	}
	cancel()
	if err := <-errc; err != nil {
		t.Fatalf("watch: %v", err)
	}
}
