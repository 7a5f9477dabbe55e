package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/ripple/internal/events"
	"github.com/friendsincode/ripple/internal/history"
	"github.com/friendsincode/ripple/internal/models"
	"github.com/friendsincode/ripple/internal/queue"
	"github.com/friendsincode/ripple/internal/roomlock"
	"github.com/friendsincode/ripple/internal/scheduler"
	"github.com/friendsincode/ripple/internal/store"
)

const room = "room1"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingEmitter) Emit(ctx context.Context, evt events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) ofType(t events.EventType) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, evt := range r.events {
		if evt.Type == t {
			out = append(out, evt)
		}
	}
	return out
}

// flakyTimers fails posts on demand.
type flakyTimers struct {
	inner    *scheduler.Service
	mu       sync.Mutex
	failPost bool
}

func (f *flakyTimers) setFailPost(v bool) {
	f.mu.Lock()
	f.failPost = v
	f.mu.Unlock()
}

func (f *flakyTimers) Post(ctx context.Context, id string, delay time.Duration, payload any) (scheduler.Job, error) {
	f.mu.Lock()
	fail := f.failPost
	f.mu.Unlock()
	if fail {
		return scheduler.Job{}, scheduler.ErrSchedulerUnavailable
	}
	return f.inner.Post(ctx, id, delay, payload)
}

func (f *flakyTimers) Cancel(ctx context.Context, id string) (bool, error) {
	return f.inner.Cancel(ctx, id)
}

// flakyHistory fails history writes on demand.
type flakyHistory struct {
	store.Store
	mu   sync.Mutex
	fail bool
}

func (f *flakyHistory) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *flakyHistory) PushHeadCappedOnce(ctx context.Context, key, marker string, value []byte, max int64, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return false, store.ErrStoreUnavailable
	}
	return f.Store.PushHeadCappedOnce(ctx, key, marker, value, max, ttl)
}

type harness struct {
	ctrl    *Controller
	sched   *scheduler.Service
	timers  *flakyTimers
	history *flakyHistory
	clock  *fakeClock
	bus    *recordingEmitter
	mr     *miniredis.Miniredis

	mu    sync.Mutex
	fired []scheduler.Job
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := zerolog.Nop()
	clock := &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
	keys := store.NewKeyspace("test")
	st := store.NewRedisStore(client, time.Second, logger)
	bus := &recordingEmitter{}

	sched := scheduler.New(client, scheduler.Config{
		Prefix:     keys.Timers(),
		InstanceID: "node-a",
		Lease:      5 * time.Second,
		Timeout:    time.Second,
		Now:        clock.Now,
	}, logger)
	timers := &flakyTimers{inner: sched}
	hist := &flakyHistory{Store: st}

	h := &harness{sched: sched, timers: timers, history: hist, clock: clock, bus: bus, mr: mr}
	h.ctrl = New(Deps{
		Store:   st,
		Keys:    keys,
		Queue:   queue.New(st, keys, bus, logger),
		History: history.New(hist, keys, bus, 50, logger),
		Timers:  timers,
		Locks:   roomlock.New(client, keys.Lock, roomlock.Config{}, logger),
		Bus:     bus,
		Logger:  logger,
		Now:     clock.Now,
	})
	sched.Handle(func(ctx context.Context, job scheduler.Job) error {
		h.mu.Lock()
		h.fired = append(h.fired, job)
		h.mu.Unlock()
		return h.ctrl.OnTimerFired(ctx, job)
	})
	return h
}

// elapse advances the clock and lets any due timer fire.
func (h *harness) elapse(t *testing.T, d time.Duration) {
	t.Helper()
	h.clock.Advance(d)
	if _, err := h.sched.Poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}
	h.sched.Wait()
}

func (h *harness) lastFired(t *testing.T) scheduler.Job {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.fired) == 0 {
		t.Fatal("no timer fired")
	}
	return h.fired[len(h.fired)-1]
}

// checkTimerInvariant asserts that a room has a current track exactly when it
// is owed a timer fire, whether that fire is still pending or claimed and
// awaiting a successful retry.
func (h *harness) checkTimerInvariant(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	outstanding, err := h.sched.Outstanding(ctx, scheduler.TrackTimerID(room))
	if err != nil {
		t.Fatalf("outstanding: %v", err)
	}
	snap := h.ctrl.GetPlaybackSnapshot(ctx, room, nil)
	if (snap.CurrentTrack != nil) != outstanding {
		t.Fatalf("current track present=%v but timer outstanding=%v", snap.CurrentTrack != nil, outstanding)
	}
}

func user(id string) models.Submitter {
	return models.Submitter{ID: id, Username: "user-" + id}
}

func meta(title string, ms int64) models.TrackMetadata {
	return models.TrackMetadata{Title: title, Duration: ms, URL: "https://youtu.be/" + title, Provider: "youtube"}
}

func currentTitle(snap models.Snapshot) string {
	if snap.CurrentTrack == nil {
		return ""
	}
	return snap.CurrentTrack.Title
}

func historyTitles(snap models.Snapshot) []string {
	out := make([]string, len(snap.History))
	for i, t := range snap.History {
		out[i] = t.Title
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestScenarioA(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.ctrl.EnqueueOrStart(ctx, room, user("u1"), meta("A", 1000)); err != nil {
		t.Fatalf("enqueue A: %v", err)
	}
	snap := h.ctrl.GetPlaybackSnapshot(ctx, room, nil)
	if currentTitle(snap) != "A" || len(snap.Queue) != 0 {
		t.Fatalf("expected A playing with empty queue, got %q / %d", currentTitle(snap), len(snap.Queue))
	}
	h.checkTimerInvariant(t)

	if _, err := h.ctrl.EnqueueOrStart(ctx, room, user("u2"), meta("B", 1000)); err != nil {
		t.Fatalf("enqueue B: %v", err)
	}
	if snap = h.ctrl.GetPlaybackSnapshot(ctx, room, nil); len(snap.Queue) != 1 {
		t.Fatalf("expected B queued, got %d entries", len(snap.Queue))
	}

	h.elapse(t, time.Second)
	snap = h.ctrl.GetPlaybackSnapshot(ctx, room, nil)
	if currentTitle(snap) != "B" || len(snap.Queue) != 0 || !equal(historyTitles(snap), []string{"A"}) {
		t.Fatalf("after first fire: current=%q queue=%d history=%v", currentTitle(snap), len(snap.Queue), historyTitles(snap))
	}
	h.checkTimerInvariant(t)

	h.elapse(t, time.Second)
	snap = h.ctrl.GetPlaybackSnapshot(ctx, room, nil)
	if snap.CurrentTrack != nil || len(snap.Queue) != 0 || !equal(historyTitles(snap), []string{"B", "A"}) {
		t.Fatalf("after second fire: current=%q queue=%d history=%v", currentTitle(snap), len(snap.Queue), historyTitles(snap))
	}
	h.checkTimerInvariant(t)

	started := h.bus.ofType(events.EventTrackStarted)
	if len(started) != 3 {
		t.Fatalf("expected TRACK_STARTED for A, B and idle, got %d", len(started))
	}
	if started[2].Payload.(models.TrackStartedPayload).Track != nil {
		t.Fatal("going idle should announce a null track")
	}
	if len(h.bus.ofType(events.EventHistoryUpdated)) != 2 {
		t.Fatal("expected a HISTORY_UPDATED per finished track")
	}
}

func TestScenarioB(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, _ = h.ctrl.EnqueueOrStart(ctx, room, user("x"), meta("now", 60000))
	_, _ = h.ctrl.EnqueueOrStart(ctx, room, user("x"), meta("q1", 60000))
	_, _ = h.ctrl.EnqueueOrStart(ctx, room, user("x"), meta("q2", 60000))

	if err := h.ctrl.RemoveFromQueue(ctx, room, "x", 5); !errors.Is(err, queue.ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
	if n := len(h.ctrl.GetQueueView(ctx, room, nil)); n != 2 {
		t.Fatalf("queue must be unchanged, got %d", n)
	}
}

func TestScenarioC(t *testing.T) {
	for i := 0; i < 5; i++ {
		h := newHarness(t)
		ctx := context.Background()

		var wg sync.WaitGroup
		for _, title := range []string{"A", "B"} {
			wg.Add(1)
			go func(title string) {
				defer wg.Done()
				if _, err := h.ctrl.EnqueueOrStart(ctx, room, user("u-"+title), meta(title, 1000)); err != nil {
					t.Errorf("enqueue %s: %v", title, err)
				}
			}(title)
		}
		wg.Wait()

		snap := h.ctrl.GetPlaybackSnapshot(ctx, room, nil)
		if snap.CurrentTrack == nil || len(snap.Queue) != 1 {
			t.Fatalf("expected one current and one queued, got current=%q queue=%d", currentTitle(snap), len(snap.Queue))
		}
		queued := snap.Queue[0].Submitter.ID
		if queued == "u-"+currentTitle(snap) {
			t.Fatalf("the same track is both current and queued")
		}
		h.checkTimerInvariant(t)
	}
}

func TestPromotionIsFIFO(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	titles := []string{"e1", "e2", "e3", "e4"}
	for _, title := range titles {
		if _, err := h.ctrl.EnqueueOrStart(ctx, room, user("u"), meta(title, 1000)); err != nil {
			t.Fatalf("enqueue %s: %v", title, err)
		}
	}

	var played []string
	for range titles {
		played = append(played, currentTitle(h.ctrl.GetPlaybackSnapshot(ctx, room, nil)))
		h.elapse(t, time.Second)
	}
	if !equal(played, titles) {
		t.Fatalf("expected promotions %v, got %v", titles, played)
	}
	h.checkTimerInvariant(t)
}

func TestQueueViewRedaction(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, _ = h.ctrl.EnqueueOrStart(ctx, room, user("dj"), meta("playing", 60000))
	mine, err := h.ctrl.EnqueueOrStart(ctx, room, user("alice"), meta("secret", 60000))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if len(mine) != 1 || mine[0].Track == nil || mine[0].Track.Title != "secret" {
		t.Fatalf("submitter should see own entry in full, got %+v", mine)
	}

	bob := user("bob")
	others := h.ctrl.GetQueueView(ctx, room, &bob)
	if len(others) != 1 || others[0].Track != nil || others[0].Submitter.ID != "alice" {
		t.Fatalf("other viewers should only see the submitter, got %+v", others)
	}
}

func TestDuplicateFireIsIgnored(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, _ = h.ctrl.EnqueueOrStart(ctx, room, user("u"), meta("A", 1000))
	_, _ = h.ctrl.EnqueueOrStart(ctx, room, user("u"), meta("B", 1000))
	_, _ = h.ctrl.EnqueueOrStart(ctx, room, user("u"), meta("C", 1000))

	h.elapse(t, time.Second)
	job := h.lastFired(t)

	if err := h.ctrl.OnTimerFired(ctx, job); err != nil {
		t.Fatalf("duplicate fire: %v", err)
	}

	snap := h.ctrl.GetPlaybackSnapshot(ctx, room, nil)
	if currentTitle(snap) != "B" || len(snap.Queue) != 1 || !equal(historyTitles(snap), []string{"A"}) {
		t.Fatalf("duplicate fire changed state: current=%q queue=%d history=%v", currentTitle(snap), len(snap.Queue), historyTitles(snap))
	}
}

func TestFailedPostLeavesRoomIdle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.timers.setFailPost(true)

	_, err := h.ctrl.EnqueueOrStart(ctx, room, user("u"), meta("A", 1000))
	if !errors.Is(err, scheduler.ErrSchedulerUnavailable) {
		t.Fatalf("expected ErrSchedulerUnavailable, got %v", err)
	}

	snap := h.ctrl.GetPlaybackSnapshot(ctx, room, nil)
	if snap.CurrentTrack != nil || len(snap.Queue) != 0 {
		t.Fatalf("failed start must leave no partial state, got current=%q queue=%d", currentTitle(snap), len(snap.Queue))
	}
	h.checkTimerInvariant(t)
	if len(h.bus.ofType(events.EventTrackStarted)) != 0 {
		t.Fatal("failed start must not announce a track")
	}
}

func TestFailedAdvanceRestoresStateAndRetries(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, _ = h.ctrl.EnqueueOrStart(ctx, room, user("u"), meta("A", 1000))
	_, _ = h.ctrl.EnqueueOrStart(ctx, room, user("u"), meta("B", 1000))
	before := h.ctrl.GetPlaybackSnapshot(ctx, room, nil)

	h.timers.setFailPost(true)
	h.elapse(t, time.Second)

	snap := h.ctrl.GetPlaybackSnapshot(ctx, room, nil)
	if currentTitle(snap) != "A" || snap.CurrentTrack.PlayID != before.CurrentTrack.PlayID {
		t.Fatalf("expected A to remain current, got %q", currentTitle(snap))
	}
	if len(snap.Queue) != 1 || len(snap.History) != 0 {
		t.Fatalf("expected B requeued and no history, got queue=%d history=%d", len(snap.Queue), len(snap.History))
	}

	// The unacknowledged fire is redelivered once its lease expires.
	h.timers.setFailPost(false)
	h.elapse(t, 6*time.Second)

	snap = h.ctrl.GetPlaybackSnapshot(ctx, room, nil)
	if currentTitle(snap) != "B" || !equal(historyTitles(snap), []string{"A"}) {
		t.Fatalf("expected retry to promote B, got current=%q history=%v", currentTitle(snap), historyTitles(snap))
	}
	h.checkTimerInvariant(t)
}

func TestPersistentlyFailingFireNeverStrandsRoom(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, _ = h.ctrl.EnqueueOrStart(ctx, room, user("u"), meta("A", 1000))
	_, _ = h.ctrl.EnqueueOrStart(ctx, room, user("u"), meta("B", 1000))

	h.timers.setFailPost(true)
	h.elapse(t, time.Second)

	// Far more redeliveries than the attempt budget, with backoff growing.
	for i := 0; i < 10; i++ {
		h.elapse(t, time.Minute)
		snap := h.ctrl.GetPlaybackSnapshot(ctx, room, nil)
		if currentTitle(snap) != "A" || len(snap.Queue) != 1 || len(snap.History) != 0 {
			t.Fatalf("round %d: expected A still current with B queued, got current=%q queue=%d history=%d",
				i, currentTitle(snap), len(snap.Queue), len(snap.History))
		}
		h.checkTimerInvariant(t)
	}
	if attempt := h.lastFired(t).Attempt; attempt <= 5 {
		t.Fatalf("expected deliveries past the attempt budget, last attempt was %d", attempt)
	}

	h.timers.setFailPost(false)
	h.elapse(t, time.Hour)

	snap := h.ctrl.GetPlaybackSnapshot(ctx, room, nil)
	if currentTitle(snap) != "B" || len(snap.Queue) != 0 || !equal(historyTitles(snap), []string{"A"}) {
		t.Fatalf("expected recovery to promote B, got current=%q queue=%d history=%v",
			currentTitle(snap), len(snap.Queue), historyTitles(snap))
	}
	h.checkTimerInvariant(t)
}

func TestFailedHistoryWriteAbortsAndRetries(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, _ = h.ctrl.EnqueueOrStart(ctx, room, user("u"), meta("A", 1000))
	_, _ = h.ctrl.EnqueueOrStart(ctx, room, user("u"), meta("B", 1000))
	playID := h.ctrl.GetPlaybackSnapshot(ctx, room, nil).CurrentTrack.PlayID

	h.history.setFail(true)
	h.elapse(t, time.Second)

	snap := h.ctrl.GetPlaybackSnapshot(ctx, room, nil)
	if currentTitle(snap) != "A" || snap.CurrentTrack.PlayID != playID || len(snap.Queue) != 1 || len(snap.History) != 0 {
		t.Fatalf("failed history write must leave the room untouched, got current=%q queue=%d history=%d",
			currentTitle(snap), len(snap.Queue), len(snap.History))
	}
	h.checkTimerInvariant(t)

	h.history.setFail(false)
	h.elapse(t, 6*time.Second)

	snap = h.ctrl.GetPlaybackSnapshot(ctx, room, nil)
	if currentTitle(snap) != "B" || !equal(historyTitles(snap), []string{"A"}) {
		t.Fatalf("expected retry to record A once and promote B, got current=%q history=%v",
			currentTitle(snap), historyTitles(snap))
	}
	if n := len(h.bus.ofType(events.EventHistoryUpdated)); n != 1 {
		t.Fatalf("expected one HISTORY_UPDATED, got %d", n)
	}
	h.checkTimerInvariant(t)
}

func TestRetriedAdvanceRecordsHistoryOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, _ = h.ctrl.EnqueueOrStart(ctx, room, user("u"), meta("A", 1000))
	_, _ = h.ctrl.EnqueueOrStart(ctx, room, user("u"), meta("B", 1000))
	finished := h.ctrl.GetPlaybackSnapshot(ctx, room, nil).CurrentTrack.Track

	// A previous attempt recorded the play but could not retract it.
	if _, err := h.ctrl.history.Record(ctx, room, finished); err != nil {
		t.Fatalf("record: %v", err)
	}

	h.elapse(t, time.Second)
	snap := h.ctrl.GetPlaybackSnapshot(ctx, room, nil)
	if currentTitle(snap) != "B" || !equal(historyTitles(snap), []string{"A"}) {
		t.Fatalf("expected A recorded exactly once, got current=%q history=%v", currentTitle(snap), historyTitles(snap))
	}
}

func TestPresenceIsCountedPerConnection(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := user("u")

	h.ctrl.UserJoined(ctx, room, u)
	h.ctrl.UserJoined(ctx, room, u)
	if n := len(h.bus.ofType(events.EventUserJoined)); n != 1 {
		t.Fatalf("expected one USER_JOINED for two connections, got %d", n)
	}

	h.ctrl.UserLeft(ctx, room, u)
	if n := len(h.bus.ofType(events.EventUserLeft)); n != 0 {
		t.Fatalf("closing one of two connections must not announce a leave, got %d", n)
	}

	h.ctrl.UserLeft(ctx, room, u)
	if n := len(h.bus.ofType(events.EventUserLeft)); n != 1 {
		t.Fatalf("expected USER_LEFT after the last connection, got %d", n)
	}

	h.ctrl.UserJoined(ctx, room, u)
	if n := len(h.bus.ofType(events.EventUserJoined)); n != 2 {
		t.Fatalf("rejoining after leaving must announce again, got %d", n)
	}
}

func TestPresenceKeepsUserWhenStoreIsDown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.ctrl.UserJoined(ctx, room, user("u"))
	h.mr.Close()
	h.ctrl.UserLeft(ctx, room, user("u"))

	if n := len(h.bus.ofType(events.EventUserLeft)); n != 0 {
		t.Fatalf("an unknown connection count must not announce a leave, got %d", n)
	}
}

func TestSkip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.ctrl.Skip(ctx, room, user("u")); !errors.Is(err, ErrNothingPlaying) {
		t.Fatalf("expected ErrNothingPlaying, got %v", err)
	}

	_, _ = h.ctrl.EnqueueOrStart(ctx, room, user("owner"), meta("A", 60000))
	_, _ = h.ctrl.EnqueueOrStart(ctx, room, user("other"), meta("B", 60000))

	if err := h.ctrl.Skip(ctx, room, user("other")); err != nil {
		t.Fatalf("vote skip: %v", err)
	}
	snap := h.ctrl.GetPlaybackSnapshot(ctx, room, nil)
	if currentTitle(snap) != "A" || snap.CurrentTrack.Skips != 1 {
		t.Fatalf("expected a skip vote on A, got %q skips=%d", currentTitle(snap), snap.CurrentTrack.Skips)
	}

	if err := h.ctrl.Skip(ctx, room, user("owner")); err != nil {
		t.Fatalf("owner skip: %v", err)
	}
	snap = h.ctrl.GetPlaybackSnapshot(ctx, room, nil)
	if currentTitle(snap) != "B" || snap.CurrentTrack.Skips != 0 || !equal(historyTitles(snap), []string{"A"}) {
		t.Fatalf("expected B promoted with fresh counters, got %q history=%v", currentTitle(snap), historyTitles(snap))
	}
	h.checkTimerInvariant(t)
}

func TestLike(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, _ = h.ctrl.EnqueueOrStart(ctx, room, user("owner"), meta("A", 60000))
	playID := h.ctrl.GetPlaybackSnapshot(ctx, room, nil).CurrentTrack.PlayID

	for i := 0; i < 2; i++ {
		if err := h.ctrl.Like(ctx, room, user("fan")); err != nil {
			t.Fatalf("like: %v", err)
		}
	}
	cur := h.ctrl.GetPlaybackSnapshot(ctx, room, nil).CurrentTrack
	if cur.Likes != 2 || cur.PlayID != playID {
		t.Fatalf("expected 2 likes on the same play, got likes=%d", cur.Likes)
	}
	h.checkTimerInvariant(t)
}

func TestSnapshotElapsed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, _ = h.ctrl.EnqueueOrStart(ctx, room, user("u"), meta("A", 10000))
	h.clock.Advance(400 * time.Millisecond)

	cur := h.ctrl.GetPlaybackSnapshot(ctx, room, nil).CurrentTrack
	if cur == nil || cur.Elapsed != 400 {
		t.Fatalf("expected 400ms elapsed, got %+v", cur)
	}
}

func TestDropUserEntries(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, _ = h.ctrl.EnqueueOrStart(ctx, room, user("stay"), meta("A", 60000))
	_, _ = h.ctrl.EnqueueOrStart(ctx, room, user("leave"), meta("B", 60000))
	_, _ = h.ctrl.EnqueueOrStart(ctx, room, user("stay"), meta("C", 60000))

	if err := h.ctrl.DropUserEntries(ctx, room, "leave"); err != nil {
		t.Fatalf("drop: %v", err)
	}
	view := h.ctrl.GetQueueView(ctx, room, nil)
	if len(view) != 1 || view[0].Submitter.ID != "stay" {
		t.Fatalf("expected only the remaining user's entry, got %+v", view)
	}
}

func TestRejectsTrackWithoutDuration(t *testing.T) {
	h := newHarness(t)
	if _, err := h.ctrl.EnqueueOrStart(context.Background(), room, user("u"), meta("live", 0)); !errors.Is(err, ErrInvalidTrack) {
		t.Fatalf("expected ErrInvalidTrack, got %v", err)
	}
}
