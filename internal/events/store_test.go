package events

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func ev(key string, typ EventType) Event {
	return Event{CaptureTime: time.Now(), Type: typ, Key: key, Package: "org.example.app", PostTime: time.Now()}
}

func TestAddAssignsSequentialIDs(t *testing.T) {
	s := NewStore(0)
	const n = 120
	for i := 0; i < n; i++ {
		if id := s.Add(ev(fmt.Sprintf("k%d", i), Posted)); id != int64(i) {
			t.Fatalf("add #%d returned id %d", i, id)
		}
	}
	if got := s.Count(); got != n {
		t.Fatalf("count = %d, want %d", got, n)
	}
	snap := s.Snapshot()
	for i, e := range snap.Events {
		if want := int64(n - 1 - i); e.ID != want {
			t.Fatalf("snapshot[%d].ID = %d, want %d", i, e.ID, want)
		}
	}
}

func TestAddEvictsOldest(t *testing.T) {
	s := NewStore(0)
	const n = 1234
	for i := 0; i < n; i++ {
		s.Add(ev(fmt.Sprintf("k%d", i), Posted))
	}
	if got := s.Count(); got != DefaultCapacity {
		t.Fatalf("count = %d, want %d", got, DefaultCapacity)
	}
	snap := s.Snapshot()
	if snap.Events[0].ID != n-1 {
		t.Fatalf("newest id = %d, want %d", snap.Events[0].ID, n-1)
	}
	if last := snap.Events[len(snap.Events)-1].ID; last != n-DefaultCapacity {
		t.Fatalf("oldest id = %d, want %d", last, n-DefaultCapacity)
	}
	if _, ok := s.FindByID(n - DefaultCapacity - 1); ok {
		t.Fatalf("evicted event still found")
	}
}

func TestFiveHundredAndOne(t *testing.T) {
	s := NewStore(0)
	for i := 0; i < 501; i++ {
		s.Add(ev(fmt.Sprintf("k%d", i), Posted))
	}
	if got := s.Count(); got != 500 {
		t.Fatalf("count = %d, want 500", got)
	}
	if _, ok := s.FindByID(0); ok {
		t.Fatalf("id 0 should have been evicted")
	}
	e, ok := s.FindByID(500)
	if !ok || e.Key != "k500" {
		t.Fatalf("FindByID(500) = %+v, %v", e, ok)
	}
}

func TestFindByKeyLatestWins(t *testing.T) {
	s := NewStore(0)
	s.Add(ev("k1", Posted))
	s.Add(ev("k1", Removed))

	got, ok := s.FindByKey("k1")
	if !ok || got.Type != Removed || got.ID != 1 {
		t.Fatalf("FindByKey = %+v, %v; want the removal (id 1)", got, ok)
	}
	first, ok := s.FindByID(0)
	if !ok || first.Type != Posted {
		t.Fatalf("FindByID(0) = %+v, %v", first, ok)
	}
	if s.Count() != 2 {
		t.Fatalf("count = %d", s.Count())
	}
	if _, ok := s.FindByKey("missing"); ok {
		t.Fatalf("unexpected match for missing key")
	}
}

func TestClearResetsIDs(t *testing.T) {
	s := NewStore(0)
	s.Clear()
	if s.Count() != 0 {
		t.Fatalf("clear on empty store: count = %d", s.Count())
	}
	for i := 0; i < 10; i++ {
		s.Add(ev("k", Posted))
	}
	s.Clear()
	if s.Count() != 0 {
		t.Fatalf("count after clear = %d", s.Count())
	}
	if _, ok := s.FindByID(3); ok {
		t.Fatalf("cleared event still found")
	}
	if id := s.Add(ev("k", Posted)); id != 0 {
		t.Fatalf("first id after clear = %d, want 0", id)
	}
}

func TestReadsAreStable(t *testing.T) {
	s := NewStore(0)
	for i := 0; i < 5; i++ {
		s.Add(ev(fmt.Sprintf("k%d", i), Posted))
	}
	a, _ := s.FindByID(2)
	b, _ := s.FindByID(2)
	c1, c2 := s.Count(), s.Count()
	if a != b || c1 != c2 {
		t.Fatalf("repeated reads differ")
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s := NewStore(0)
	s.Add(ev("k", Posted))
	snap := s.Snapshot()
	snap.Events[0].Title = "mutated"
	if e, _ := s.FindByID(0); e.Title == "mutated" {
		t.Fatalf("snapshot aliases store memory")
	}
}

func TestSubscribeDeliversCurrentAndLatest(t *testing.T) {
	s := NewStore(0)
	s.Add(ev("a", Posted))

	ch, unsub := s.Subscribe()
	defer unsub()

	first := <-ch
	if len(first.Events) != 1 {
		t.Fatalf("initial snapshot has %d events", len(first.Events))
	}

	// nobody reads while these land; only the newest must survive
	for i := 0; i < 50; i++ {
		s.Add(ev("b", Posted))
	}
	s.Clear()

	select {
	case snap := <-ch:
		if len(snap.Events) != 0 {
			t.Fatalf("latest snapshot has %d events, want cleared", len(snap.Events))
		}
	case <-time.After(time.Second):
		t.Fatalf("no snapshot delivered")
	}
	select {
	case snap := <-ch:
		t.Fatalf("unexpected extra snapshot v%d", snap.Version)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	s := NewStore(0)
	ch, unsub := s.Subscribe()
	<-ch
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatalf("channel still open")
	}
	s.Add(ev("k", Posted)) // must not panic
}

func TestConcurrentAddsAndWatch(t *testing.T) {
	s := NewStore(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var lastVersion uint64
	var lastCount int
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Watch(ctx, func(snap Snapshot) {
			mu.Lock()
			defer mu.Unlock()
			if snap.Version < lastVersion {
				t.Errorf("version went backwards: %d after %d", snap.Version, lastVersion)
			}
			lastVersion = snap.Version
			lastCount = len(snap.Events)
		})
	}()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				s.Add(ev("k", Posted))
				s.FindByKey("k")
				s.Count()
			}
		}()
	}
	wg.Wait()

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		c := lastCount
		mu.Unlock()
		if c == DefaultCapacity {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("watcher saw %d events, want %d", c, DefaultCapacity)
		}
		time.Sleep(5 * time.Millisecond)
	}

	ids := map[int64]bool{}
	for _, e := range s.Snapshot().Events {
		if ids[e.ID] {
			t.Fatalf("duplicate id %d", e.ID)
		}
		ids[e.ID] = true
	}
	if e := s.Snapshot().Events[0]; e.ID != 799 {
		t.Fatalf("newest id = %d, want 799", e.ID)
	}
	cancel()
	<-done
}

func TestExportRoundTrip(t *testing.T) {
	s := NewStore(0)
	s.Add(Event{CaptureTime: time.Now(), Type: Posted, Key: "7", Package: "firefox", Title: "Download complete", PostTime: time.Now()})
	s.Add(Event{CaptureTime: time.Now(), Type: Removed, Key: "7", Package: "firefox", PostTime: time.Now(), RemovalReason: "DISMISSED"})

	x, err := OpenExport(filepath.Join(t.TempDir(), "export.db"))
	if err != nil {
		t.Fatalf("open export: %v", err)
	}
	defer x.Close()

	ctx := context.Background()
	if err := x.Write(ctx, s.Snapshot()); err != nil {
		t.Fatalf("write: %v", err)
	}
	// a second write replaces rather than appends
	if err := x.Write(ctx, s.Snapshot()); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	got, err := x.List(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("exported %d rows, want 2", len(got))
	}
	if got[0].Type != Removed || got[0].RemovalReason != "DISMISSED" || got[1].Title != "Download complete" {
		t.Fatalf("unexpected rows: %+v", got)
	}
}
