package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/godbus/dbus/v5"

	"notification-inspector/internal/logging"
	"notification-inspector/internal/status"
)

const (
	notificationsName  = "org.freedesktop.Notifications"
	notificationsIface = "org.freedesktop.Notifications"

	reconnectBase = time.Second
	reconnectMax  = 30 * time.Second
	attachTimeout = 5 * time.Second
)

var ErrBusUnavailable = errors.New("session bus unavailable")

var monitorRules = []string{
	"type='method_call',interface='" + notificationsIface + "',member='Notify'",
	"type='method_return'",
	"type='signal',interface='" + notificationsIface + "',member='NotificationClosed'",
}

// DBusSource watches the session bus for notification traffic and feeds
// every post and close through the adapter.
type DBusSource struct {
	Adapter   *Adapter
	Connected *status.Flag
	Log       *logging.Logger
}

// Run monitors until ctx is done, reconnecting with backoff when the bus
// goes away.
func (s *DBusSource) Run(ctx context.Context) {
	backoff := reconnectBase
	for ctx.Err() == nil {
		err := s.monitor(ctx)
		s.Connected.Set(false)
		if ctx.Err() != nil {
			return
		}
		s.Log.Warn("notification monitor stopped; reconnecting", "err", err, "backoff", backoff.String())
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > reconnectMax {
			backoff = reconnectMax
		}
	}
}

func (s *DBusSource) monitor(ctx context.Context) error {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBusUnavailable, err)
	}
	defer conn.Close()

	// The BecomeMonitor reply must be dispatched normally, so the eavesdrop
	// channel is only installed once the call has returned.
	attachCtx, cancel := context.WithTimeout(ctx, attachTimeout)
	call := conn.BusObject().CallWithContext(attachCtx, "org.freedesktop.DBus.Monitoring.BecomeMonitor", 0, monitorRules, uint32(0))
	cancel()
	if call.Err != nil {
		return fmt.Errorf("become monitor: %w", call.Err)
	}
	msgs := make(chan *dbus.Message, 64)
	conn.Eavesdrop(msgs)

	s.Connected.Set(true)
	s.Log.Info("notification monitor attached")

	tracker := NewTracker()
	flush := time.NewTicker(time.Second)
	defer flush.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-conn.Context().Done():
			return errors.New("bus connection closed")
		case now := <-flush.C:
			for _, n := range tracker.Flush(now) {
				s.Log.Debug("notify reply not seen; recording post without id", "key", n.Key)
				s.Adapter.Deliver(n)
			}
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("monitor channel closed")
			}
			s.handle(tracker, msg)
		}
	}
}

func (s *DBusSource) handle(tracker *Tracker, msg *dbus.Message) {
	defer func() {
		if r := recover(); r != nil {
			s.Log.Error("bus message handling failed", "panic", fmt.Sprint(r))
		}
	}()
	f, ok := toFrame(msg, time.Now())
	if !ok {
		return
	}
	notes, err := tracker.Handle(f)
	if err != nil {
		s.Log.Warn("malformed notification message", "member", f.Member, "sender", f.Sender, "err", err)
	}
	for _, n := range notes {
		s.Adapter.Deliver(n)
	}
}

func toFrame(msg *dbus.Message, at time.Time) (frame, bool) {
	f := frame{
		Member:      headerString(msg, dbus.FieldMember),
		Sender:      headerString(msg, dbus.FieldSender),
		Destination: headerString(msg, dbus.FieldDestination),
		Serial:      msg.Serial(),
		Body:        msg.Body,
		At:          at,
	}
	switch msg.Type {
	case dbus.TypeMethodCall:
		f.Kind = frameCall
	case dbus.TypeMethodReply:
		f.Kind = frameReply
		if v, ok := msg.Headers[dbus.FieldReplySerial]; ok {
			f.ReplySerial, _ = v.Value().(uint32)
		}
	case dbus.TypeSignal:
		f.Kind = frameSignal
	default:
		return frame{}, false
	}
	return f, true
}

func headerString(msg *dbus.Message, field dbus.HeaderField) string {
	v, ok := msg.Headers[field]
	if !ok {
		return ""
	}
	switch s := v.Value().(type) {
	case string:
		return s
	case dbus.ObjectPath:
		return string(s)
	case dbus.Signature:
		return s.String()
	default:
		return ""
	}
}

// Probe reports whether a session bus is reachable and a notification
// server currently owns the well-known name.
func Probe(ctx context.Context) (bool, error) {
	conn, err := dbus.ConnectSessionBus(dbus.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBusUnavailable, err)
	}
	defer conn.Close()
	var has bool
	if err := conn.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.NameHasOwner", 0, notificationsName).Store(&has); err != nil {
		return false, err
	}
	return has, nil
}
