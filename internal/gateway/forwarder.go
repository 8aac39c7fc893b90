package gateway

import (
	"context"

	"golang.org/x/time/rate"

	"notification-inspector/internal/events"
	"notification-inspector/internal/logging"
)

const maxBatch = 100

// Forwarder ships events the gateway has not seen yet. It works off store
// snapshots, so events evicted before a send are skipped.
type Forwarder struct {
	client  GatewayClient
	limiter *rate.Limiter
	log     *logging.Logger

	epoch  uint64
	lastID int64
}

func NewForwarder(client GatewayClient, ratePerSec int, log *logging.Logger) *Forwarder {
	if ratePerSec <= 0 {
		ratePerSec = 1
	}
	return &Forwarder{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
		log:     log,
		lastID:  -1,
	}
}

// Run forwards until ctx is done.
func (f *Forwarder) Run(ctx context.Context, store *events.Store) {
	store.Watch(ctx, func(snap events.Snapshot) {
		if err := f.Forward(ctx, snap); err != nil && ctx.Err() == nil {
			f.log.Error("gateway send failed", "err", err)
		}
	})
}

// Forward sends everything in snap newer than the last forwarded event.
// The cursor only advances past batches the gateway accepted.
func (f *Forwarder) Forward(ctx context.Context, snap events.Snapshot) error {
	if snap.Epoch != f.epoch {
		f.epoch = snap.Epoch
		f.lastID = -1
	}
	// snapshot is newest first; collect the unsent tail in insertion order
	var pending []events.Event
	for i := len(snap.Events) - 1; i >= 0; i-- {
		if e := snap.Events[i]; e.ID > f.lastID {
			pending = append(pending, e)
		}
	}
	if len(pending) > 0 && f.lastID >= 0 && pending[0].ID > f.lastID+1 {
		f.log.Warn("events evicted before forwarding", "from", f.lastID+1, "to", pending[0].ID-1)
	}
	for len(pending) > 0 {
		n := min(len(pending), maxBatch)
		if err := f.limiter.Wait(ctx); err != nil {
			return err
		}
		if err := f.client.SendEvents(ctx, pending[:n]); err != nil {
			return err
		}
		f.lastID = pending[n-1].ID
		pending = pending[n:]
	}
	return nil
}
