package capture

import (
	"context"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	proc "github.com/shirou/gopsutil/process"
)

const (
	resolveTimeout = 500 * time.Millisecond
	maxResolved    = 256
)

// ProcessResolver looks up the process behind a unique bus name. The
// monitor connection cannot issue calls, so it keeps its own connection.
type ProcessResolver struct {
	mu     sync.Mutex
	conn   *dbus.Conn
	cache  map[string]string
	lookup func(pid int32) (string, error)
}

func NewProcessResolver() *ProcessResolver {
	return &ProcessResolver{cache: map[string]string{}, lookup: processName}
}

func processName(pid int32) (string, error) {
	p, err := proc.NewProcess(pid)
	if err != nil {
		return "", err
	}
	return p.Name()
}

// Resolve returns the process name for sender, or "" if it cannot be found.
func (r *ProcessResolver) Resolve(sender string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if name, ok := r.cache[sender]; ok {
		return name
	}
	pid, err := r.pidLocked(sender)
	if err != nil {
		return ""
	}
	name, err := r.lookup(int32(pid))
	if err != nil {
		return ""
	}
	if len(r.cache) >= maxResolved {
		r.cache = map[string]string{}
	}
	r.cache[sender] = name
	return name
}

func (r *ProcessResolver) pidLocked(sender string) (uint32, error) {
	if r.conn == nil {
		conn, err := dbus.ConnectSessionBus()
		if err != nil {
			return 0, err
		}
		r.conn = conn
	}
	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
	defer cancel()
	var pid uint32
	err := r.conn.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.GetConnectionUnixProcessID", 0, sender).Store(&pid)
	if err != nil {
		// drop a dead connection so the next call reconnects
		if r.conn.Context().Err() != nil {
			r.conn = nil
		}
		return 0, err
	}
	return pid, nil
}

func (r *ProcessResolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.conn = nil
	return err
}
