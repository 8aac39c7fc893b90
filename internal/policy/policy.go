package policy

import (
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"notification-inspector/internal/events"
)

type Action string

const (
	ActionIgnore Action = "ignore"
	ActionRedact Action = "redact"
)

const redacted = "[redacted]"

type Rule struct {
	ID     string `yaml:"id"`
	Match  string `yaml:"match"`
	Action Action `yaml:"action"`
}

// Policy is one parsed rules document. Rules are evaluated in order and the
// first whose glob matches the event package decides.
type Policy struct {
	Version int       `yaml:"version"`
	Rules   []Rule    `yaml:"rules"`
	Source  string    `yaml:"-"`
	Updated time.Time `yaml:"-"`
}

func Parse(b []byte, source string) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	for i := range p.Rules {
		r := &p.Rules[i]
		r.Match = strings.ToLower(strings.TrimSpace(r.Match))
		r.Action = Action(strings.ToLower(string(r.Action)))
		if r.Match == "" {
			return nil, fmt.Errorf("rule %q: empty match", r.ID)
		}
		if _, err := path.Match(r.Match, ""); err != nil {
			return nil, fmt.Errorf("rule %q: bad pattern %q: %w", r.ID, r.Match, err)
		}
		switch r.Action {
		case ActionIgnore, ActionRedact:
		default:
			return nil, fmt.Errorf("rule %q: unknown action %q", r.ID, r.Action)
		}
	}
	p.Source = source
	p.Updated = time.Now().UTC()
	return &p, nil
}

// Apply returns the event as it should be stored, or false when a rule
// says to drop it.
func (p *Policy) Apply(e events.Event) (events.Event, bool) {
	if p == nil {
		return e, true
	}
	pkg := strings.ToLower(e.Package)
	for _, r := range p.Rules {
		if ok, _ := path.Match(r.Match, pkg); !ok {
			continue
		}
		switch r.Action {
		case ActionIgnore:
			return e, false
		case ActionRedact:
			if e.Title != "" {
				e.Title = redacted
			}
			if e.Body != "" {
				e.Body = redacted
			}
		}
		return e, true
	}
	return e, true
}

// Store holds the active policy. A nil policy lets everything through.
type Store struct {
	mu  sync.RWMutex
	pol *Policy
}

func NewStore() *Store { return &Store{} }

func (s *Store) Get() *Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pol
}

func (s *Store) Set(p *Policy) {
	s.mu.Lock()
	s.pol = p
	s.mu.Unlock()
}

func (s *Store) Apply(e events.Event) (events.Event, bool) { return s.Get().Apply(e) }
