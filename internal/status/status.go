// Package status tracks whether capture is permitted and whether the
// listener is attached, and folds both into one display state.
package status

import (
	"fmt"
	"sync"
)

type ConnectionState int

const (
	Disabled ConnectionState = iota
	Connecting
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Connected:
		return "CONNECTED"
	case Connecting:
		return "CONNECTING"
	default:
		return "DISABLED"
	}
}

func (s ConnectionState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *ConnectionState) UnmarshalText(b []byte) error {
	switch string(b) {
	case "CONNECTED":
		*s = Connected
	case "CONNECTING":
		*s = Connecting
	case "DISABLED":
		*s = Disabled
	default:
		return fmt.Errorf("unknown connection state %q", string(b))
	}
	return nil
}

// Derive maps the permission and listener flags to a display state.
// A connected listener wins even if the permission check lags behind.
func Derive(enabled, connected bool) ConnectionState {
	switch {
	case connected:
		return Connected
	case enabled:
		return Connecting
	default:
		return Disabled
	}
}

// Flag is an observable boolean. Subscribers receive the current value on
// subscription and every change after that; repeated Sets of the same value
// are not re-delivered.
type Flag struct {
	mu   sync.Mutex
	val  bool
	subs map[int]func(bool)
	seq  int
}

func NewFlag(initial bool) *Flag {
	return &Flag{val: initial, subs: map[int]func(bool){}}
}

func (f *Flag) Get() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.val
}

func (f *Flag) Set(v bool) {
	f.mu.Lock()
	if f.val == v {
		f.mu.Unlock()
		return
	}
	f.val = v
	fns := make([]func(bool), 0, len(f.subs))
	for _, fn := range f.subs {
		fns = append(fns, fn)
	}
	f.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Subscribe calls fn with the current value and then on each change.
func (f *Flag) Subscribe(fn func(bool)) (unsubscribe func()) {
	f.mu.Lock()
	f.seq++
	id := f.seq
	f.subs[id] = fn
	cur := f.val
	f.mu.Unlock()

	fn(cur)
	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}

// Tracker recomputes the connection state whenever either flag changes.
type Tracker struct {
	Enabled   *Flag
	Connected *Flag

	mu     sync.Mutex
	state  ConnectionState
	onChg  []func(ConnectionState)
	unsubs []func()
}

func NewTracker(enabled, connected *Flag) *Tracker {
	t := &Tracker{Enabled: enabled, Connected: connected}
	t.state = Derive(enabled.Get(), connected.Get())
	t.unsubs = append(t.unsubs,
		enabled.Subscribe(func(bool) { t.recompute() }),
		connected.Subscribe(func(bool) { t.recompute() }),
	)
	return t
}

// recompute reads both flags under t.mu so a slower caller holding older
// values cannot commit after a newer one. Flag.Set notifies without its own
// lock held, so taking Flag.mu here cannot deadlock.
func (t *Tracker) recompute() {
	t.mu.Lock()
	next := Derive(t.Enabled.Get(), t.Connected.Get())
	if next == t.state {
		t.mu.Unlock()
		return
	}
	t.state = next
	fns := append([]func(ConnectionState){}, t.onChg...)
	t.mu.Unlock()

	for _, fn := range fns {
		fn(next)
	}
}

func (t *Tracker) State() ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// OnChange registers fn for future state transitions.
func (t *Tracker) OnChange(fn func(ConnectionState)) {
	t.mu.Lock()
	t.onChg = append(t.onChg, fn)
	t.mu.Unlock()
}

func (t *Tracker) Close() {
	for _, u := range t.unsubs {
		u()
	}
}
