package capture

import (
	"fmt"
	"strconv"
	"time"

	"notification-inspector/internal/events"
)

type frameKind int

const (
	frameCall frameKind = iota
	frameReply
	frameSignal
)

// frame is the subset of a bus message the tracker needs.
type frame struct {
	Kind        frameKind
	Member      string
	Sender      string
	Destination string
	Serial      uint32
	ReplySerial uint32
	Body        []any
	At          time.Time
}

const (
	pendingTimeout = 5 * time.Second
	maxLive        = 1024
)

type pendingKey struct {
	sender string
	serial uint32
}

type pendingCall struct {
	args []any
	at   time.Time
}

type liveNote struct {
	sender string
	args   []any
	posted time.Time
}

// Tracker pairs Notify calls with the ids the server hands back and
// remembers live notifications so their removal can be described. It is
// driven by a single goroutine.
type Tracker struct {
	pending map[pendingKey]pendingCall
	live    map[uint32]liveNote
	order   []uint32
}

func NewTracker() *Tracker {
	return &Tracker{
		pending: map[pendingKey]pendingCall{},
		live:    map[uint32]liveNote{},
	}
}

// Handle consumes one frame and returns the notifications it completes.
func (t *Tracker) Handle(f frame) ([]Notification, error) {
	switch {
	case f.Kind == frameCall && f.Member == "Notify":
		replaces, err := argUint32(f.Body, argReplacesID)
		if err != nil {
			replaces = 0
		}
		if replaces != 0 {
			return []Notification{t.posted(replaces, f.Sender, f.Body, f.At)}, nil
		}
		t.pending[pendingKey{f.Sender, f.Serial}] = pendingCall{args: f.Body, at: f.At}
		return nil, nil

	case f.Kind == frameReply:
		k := pendingKey{f.Destination, f.ReplySerial}
		call, ok := t.pending[k]
		if !ok {
			return nil, nil
		}
		delete(t.pending, k)
		id, err := argUint32(f.Body, 0)
		if err != nil {
			// still record the post, keyed by the call
			return []Notification{{
				Type: events.Posted, Key: pendingID(k), Sender: k.sender, PostTime: call.at, Args: call.args,
			}}, fmt.Errorf("notify reply: %w", err)
		}
		return []Notification{t.posted(id, k.sender, call.args, call.at)}, nil

	case f.Kind == frameSignal && f.Member == "NotificationClosed":
		id, err := argUint32(f.Body, 0)
		if err != nil {
			return nil, fmt.Errorf("closed signal: %w", err)
		}
		reason, rerr := argUint32(f.Body, 1)
		n := Notification{Type: events.Removed, Key: strconv.FormatUint(uint64(id), 10), PostTime: f.At}
		if rerr == nil {
			n.Reason = ReasonName(reason)
		}
		if note, ok := t.live[id]; ok {
			n.Sender, n.Args, n.PostTime = note.sender, note.args, note.posted
			delete(t.live, id)
		}
		return []Notification{n}, nil
	}
	return nil, nil
}

func (t *Tracker) posted(id uint32, sender string, args []any, at time.Time) Notification {
	if _, ok := t.live[id]; !ok {
		t.order = append(t.order, id)
	}
	t.live[id] = liveNote{sender: sender, args: args, posted: at}
	t.trim()
	return Notification{
		Type:     events.Posted,
		Key:      strconv.FormatUint(uint64(id), 10),
		Sender:   sender,
		PostTime: at,
		Args:     args,
	}
}

// trim forgets the oldest live notifications past maxLive. Ids already
// closed are skipped over lazily.
func (t *Tracker) trim() {
	for len(t.live) > maxLive && len(t.order) > 0 {
		delete(t.live, t.order[0])
		t.order = t.order[1:]
	}
	if len(t.order) > 2*maxLive {
		kept := t.order[:0]
		for _, id := range t.order {
			if _, ok := t.live[id]; ok {
				kept = append(kept, id)
			}
		}
		t.order = kept
	}
}

// Flush gives up on Notify calls whose reply never showed up and reports
// them as posts keyed by the call itself.
func (t *Tracker) Flush(now time.Time) []Notification {
	var out []Notification
	for k, call := range t.pending {
		if now.Sub(call.at) < pendingTimeout {
			continue
		}
		delete(t.pending, k)
		out = append(out, Notification{
			Type: events.Posted, Key: pendingID(k), Sender: k.sender, PostTime: call.at, Args: call.args,
		})
	}
	return out
}

func pendingID(k pendingKey) string {
	return fmt.Sprintf("pending:%s:%d", k.sender, k.serial)
}

// ReasonName names a NotificationClosed reason code.
func ReasonName(code uint32) string {
	switch code {
	case 1:
		return "EXPIRED"
	case 2:
		return "DISMISSED"
	case 3:
		return "CLOSED"
	case 4:
		return "UNDEFINED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", code)
	}
}
