package events

import (
	"fmt"
	"strings"
	"time"
)

type EventType int

const (
	Posted EventType = iota
	Removed
)

func (t EventType) String() string {
	switch t {
	case Posted:
		return "POSTED"
	case Removed:
		return "REMOVED"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

func (t EventType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *EventType) UnmarshalText(b []byte) error {
	switch strings.ToUpper(string(b)) {
	case "POSTED":
		*t = Posted
	case "REMOVED":
		*t = Removed
	default:
		return fmt.Errorf("unknown event type %q", string(b))
	}
	return nil
}

// Event is one captured post or removal of a desktop notification.
// The ID is assigned by Store.Add; callers leave it zero.
type Event struct {
	ID            int64     `json:"id"`
	CaptureTime   time.Time `json:"capture_time"`
	Type          EventType `json:"type"`
	Key           string    `json:"key"`
	Package       string    `json:"package"`
	Title         string    `json:"title,omitempty"`
	Body          string    `json:"body,omitempty"`
	PostTime      time.Time `json:"post_time"`
	RemovalReason string    `json:"removal_reason,omitempty"`
}

const (
	captureTimeLayout = "15:04:05.000"
	postTimeLayout    = "2006-01-02 15:04:05"
)

func (e Event) FormatCaptureTime() string { return e.CaptureTime.Local().Format(captureTimeLayout) }

func (e Event) FormatPostTime() string { return e.PostTime.Local().Format(postTimeLayout) }

// Summary is the one-line label used in lists: title, then body, then package.
func (e Event) Summary() string {
	if e.Title != "" {
		return e.Title
	}
	if e.Body != "" {
		return e.Body
	}
	return e.Package
}

// DebugString renders every field for the detail view.
func (e Event) DebugString() string {
	var b strings.Builder
	b.WriteString("=== Captured Notification ===\n\n")
	fmt.Fprintf(&b, "Event ID: %d\n", e.ID)
	fmt.Fprintf(&b, "Event Type: %s\n", e.Type)
	fmt.Fprintf(&b, "Capture Time: %s\n", e.FormatCaptureTime())
	fmt.Fprintf(&b, "Post Time: %s\n", e.FormatPostTime())
	if e.RemovalReason != "" {
		fmt.Fprintf(&b, "Removal Reason: %s\n", e.RemovalReason)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Package: %s\n", e.Package)
	fmt.Fprintf(&b, "Key: %s\n", e.Key)
	b.WriteString("\n")
	fmt.Fprintf(&b, "Title: %s\n", orNone(e.Title))
	fmt.Fprintf(&b, "Text: %s\n", orNone(e.Body))
	return b.String()
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

// Snapshot is an immutable, newest-first copy of the store contents.
// Version increases with every mutation so consumers can discard stale
// copies; Epoch increases with every Clear, after which ids restart at zero.
type Snapshot struct {
	Version uint64  `json:"version"`
	Epoch   uint64  `json:"epoch"`
	Events  []Event `json:"events"`
}

// EventLog is what the capture side and the viewer need from a store.
type EventLog interface {
	Add(e Event) int64
	FindByKey(key string) (Event, bool)
	FindByID(id int64) (Event, bool)
	Clear()
	Count() int
	Snapshot() Snapshot
}
