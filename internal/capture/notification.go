// Package capture turns desktop notification traffic into stored events.
package capture

import (
	"fmt"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"

	"notification-inspector/internal/events"
	"notification-inspector/internal/logging"
)

// Positions in the org.freedesktop.Notifications.Notify argument list:
// app_name, replaces_id, app_icon, summary, body, actions, hints, expire_timeout.
const (
	argAppName    = 0
	argReplacesID = 1
	argSummary    = 3
	argBody       = 4
	argHints      = 6
)

const unknownPackage = "unknown"

// Notification is one raw observation from the platform, before any field
// has been interpreted. Args is the body of the originating Notify call and
// may be nil when the post was never seen (removal of an older notification).
type Notification struct {
	Type     events.EventType
	Key      string
	Sender   string
	PostTime time.Time
	Reason   string
	Args     []any
}

// Builder converts Notifications into events. Every field is extracted on
// its own; a field that cannot be read is left empty and reported through
// OnFieldError.
type Builder struct {
	// Resolve maps a bus sender to a process name. Optional.
	Resolve func(sender string) string
	// OnFieldError is told about each field that could not be extracted.
	OnFieldError func(field string, err error)
	Now          func() time.Time
}

func (b Builder) Build(n Notification) events.Event {
	now := time.Now()
	if b.Now != nil {
		now = b.Now()
	}
	e := events.Event{
		CaptureTime:   now,
		Type:          n.Type,
		Key:           n.Key,
		PostTime:      n.PostTime,
		RemovalReason: n.Reason,
	}
	if e.PostTime.IsZero() {
		e.PostTime = now
	}
	if n.Args == nil {
		e.Package = b.fallbackPackage(n.Sender)
		return e
	}

	e.Title = b.field("title", func() (string, error) { return argString(n.Args, argSummary) })
	e.Body = b.field("body", func() (string, error) { return argString(n.Args, argBody) })
	e.Package = b.field("desktop_entry", func() (string, error) { return hintString(n.Args, "desktop-entry") })
	if e.Package == "" {
		e.Package = b.field("app_name", func() (string, error) { return argString(n.Args, argAppName) })
	}
	if e.Package == "" {
		e.Package = b.fallbackPackage(n.Sender)
	}
	return e
}

func (b Builder) fallbackPackage(sender string) string {
	if b.Resolve != nil && sender != "" {
		if name := b.field("process", func() (string, error) { return b.Resolve(sender), nil }); name != "" {
			return name
		}
	}
	return unknownPackage
}

func (b Builder) field(name string, fn func() (string, error)) (out string) {
	defer func() {
		if r := recover(); r != nil {
			out = ""
			b.report(name, fmt.Errorf("panic: %v", r))
		}
	}()
	s, err := fn()
	if err != nil {
		b.report(name, err)
		return ""
	}
	return strings.TrimSpace(s)
}

func (b Builder) report(name string, err error) {
	if b.OnFieldError != nil {
		b.OnFieldError(name, err)
	}
}

func argString(args []any, i int) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("argument %d missing", i)
	}
	switch v := args[i].(type) {
	case string:
		return v, nil
	case dbus.Variant:
		s, ok := v.Value().(string)
		if !ok {
			return "", fmt.Errorf("argument %d: variant holds %s", i, v.Signature())
		}
		return s, nil
	default:
		return "", fmt.Errorf("argument %d: unexpected %T", i, args[i])
	}
}

func argUint32(args []any, i int) (uint32, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("argument %d missing", i)
	}
	v, ok := args[i].(uint32)
	if !ok {
		return 0, fmt.Errorf("argument %d: unexpected %T", i, args[i])
	}
	return v, nil
}

func hintString(args []any, name string) (string, error) {
	if argHints >= len(args) {
		return "", nil
	}
	hints, ok := args[argHints].(map[string]dbus.Variant)
	if !ok {
		return "", fmt.Errorf("hints: unexpected %T", args[argHints])
	}
	v, ok := hints[name]
	if !ok {
		return "", nil
	}
	s, ok := v.Value().(string)
	if !ok {
		return "", fmt.Errorf("hint %s: variant holds %s", name, v.Signature())
	}
	return s, nil
}

// Sink receives finished events. *events.Store satisfies it.
type Sink interface {
	Add(e events.Event) int64
}

// Filter may rewrite an event or veto it.
type Filter func(e events.Event) (events.Event, bool)

// Adapter is the boundary between the platform callback and the store.
// Nothing that goes wrong for one notification escapes Deliver.
type Adapter struct {
	Builder Builder
	Filter  Filter
	Sink    Sink
	Log     *logging.Logger
}

// Deliver builds, filters and stores one notification. It reports the
// assigned id, or false when the event was filtered out or failed.
func (a *Adapter) Deliver(n Notification) (id int64, stored bool) {
	defer func() {
		if r := recover(); r != nil {
			a.Log.Error("capture failed", "key", n.Key, "type", n.Type.String(), "panic", fmt.Sprint(r))
			id, stored = 0, false
		}
	}()

	b := a.Builder
	if b.OnFieldError == nil {
		b.OnFieldError = func(field string, err error) {
			a.Log.Debug("notification field unavailable", "key", n.Key, "field", field, "err", err)
		}
	}
	e := b.Build(n)
	if a.Filter != nil {
		var keep bool
		if e, keep = a.Filter(e); !keep {
			a.Log.Debug("notification ignored by rules", "key", e.Key, "package", e.Package)
			return 0, false
		}
	}
	id = a.Sink.Add(e)
	a.Log.Debug("notification captured", "id", id, "key", e.Key, "type", e.Type.String(), "package", e.Package)
	return id, true
}
