package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"julesboard/internal/models"
	"julesboard/internal/store"
	"julesboard/internal/upstream"
)

// PollerConfig holds the adaptive polling parameters. Tick is the loop
// period and should be well below BaseInterval.
type PollerConfig struct {
	Tick         time.Duration
	BaseInterval time.Duration
	MaxInterval  time.Duration
}

// schedule is the per-session polling state. Transient — rebuilt from
// the replica on process restart, never persisted.
type schedule struct {
	nextPollAt time.Time
	interval   time.Duration
}

// Poller reconciles tracked sessions against the upstream service on a
// per-session adaptive interval: any observed change resets a session
// to the base interval, a quiet poll grows it by 1.5x up to the cap.
// Changes are written to the replica and broadcast to live connections.
type Poller struct {
	store    *store.Store
	upstream *upstream.Client
	conns    *ConnectionManager
	metrics  *Metrics
	cfg      PollerConfig

	mu        sync.Mutex
	schedules map[string]*schedule

	stop chan struct{}
	done chan struct{}
	now  func() time.Time
}

// NewPoller creates a poller. It does not start polling until Start.
func NewPoller(st *store.Store, client *upstream.Client, conns *ConnectionManager, metrics *Metrics, cfg PollerConfig) *Poller {
	return &Poller{
		store:     st,
		upstream:  client,
		conns:     conns,
		metrics:   metrics,
		cfg:       cfg,
		schedules: make(map[string]*schedule),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		now:       time.Now,
	}
}

// BootSync seeds the replica from a full upstream listing, writing every
// session unconditionally, and registers each for polling. Run before
// Start so the first tick does not treat known sessions as fresh.
func (p *Poller) BootSync(ctx context.Context) error {
	sessions, err := p.upstream.ListSessions(ctx)
	if err != nil {
		return err
	}
	for _, session := range sessions {
		if session.ID == "" {
			continue
		}
		if _, err := storeSession(p.store, &session); err != nil {
			return err
		}
		p.Track(session.ID)
	}
	log.Printf("🔄 [POLLER] Boot sync complete: %d sessions seeded", len(sessions))
	return nil
}

// Start launches the tick loop. Each cycle runs to completion and then
// schedules its own next run after the tick period, so a slow cycle can
// never overlap the next one.
func (p *Poller) Start() {
	// Register sessions already in the replica (process restart case)
	if keys, err := p.store.Keys(sessionKeyPrefix); err == nil {
		for _, key := range keys {
			p.Track(key[len(sessionKeyPrefix):])
		}
	}

	go func() {
		defer close(p.done)
		log.Printf("🚀 [POLLER] Tick loop started (tick=%v base=%v max=%v)",
			p.cfg.Tick, p.cfg.BaseInterval, p.cfg.MaxInterval)
		for {
			p.runTick(context.Background())
			select {
			case <-p.stop:
				return
			case <-time.After(p.cfg.Tick):
			}
		}
	}()
}

// Stop halts the tick loop and waits for the in-flight cycle to finish.
func (p *Poller) Stop() {
	close(p.stop)
	<-p.done
	log.Println("🛑 [POLLER] Tick loop stopped")
}

// Track registers a session for polling, starting at the base interval.
// Already-tracked sessions keep their current schedule.
func (p *Poller) Track(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.schedules[id]; !ok {
		p.schedules[id] = &schedule{nextPollAt: p.now(), interval: p.cfg.BaseInterval}
	}
}

// MarkActive resets a session's schedule to {now, base interval}.
// Called after any user action against the session, on the assumption
// that bursts of activity are likely to continue.
func (p *Poller) MarkActive(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.schedules[id] = &schedule{nextPollAt: p.now(), interval: p.cfg.BaseInterval}
}

// untrack drops a session's schedule entry (stale id cleanup).
func (p *Poller) untrack(id string) {
	p.mu.Lock()
	delete(p.schedules, id)
	p.mu.Unlock()
}

// Interval returns a session's current poll interval and whether the
// session is tracked.
func (p *Poller) Interval(id string) (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sch, ok := p.schedules[id]; ok {
		return sch.interval, true
	}
	return 0, false
}

// NextPollAt returns when a session is next eligible for polling.
func (p *Poller) NextPollAt(id string) (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sch, ok := p.schedules[id]; ok {
		return sch.nextPollAt, true
	}
	return time.Time{}, false
}

// runTick polls every session whose schedule is due. A failure for one
// session is logged and never aborts the cycle for the others; failed
// sessions keep their schedule untouched and retry at the same cadence.
func (p *Poller) runTick(ctx context.Context) {
	if p.metrics != nil {
		p.metrics.PollCycles.Inc()
	}

	now := p.now()
	p.mu.Lock()
	due := make([]string, 0, len(p.schedules))
	for id, sch := range p.schedules {
		if !now.Before(sch.nextPollAt) {
			due = append(due, id)
		}
	}
	p.mu.Unlock()

	for _, id := range due {
		changed, err := p.pollSession(ctx, id)
		if err != nil {
			p.countPollError(err)
			log.Printf("⚠️  [POLLER] Poll failed for %s: %v", id, err)
			continue
		}

		p.mu.Lock()
		sch, ok := p.schedules[id]
		if !ok {
			p.mu.Unlock()
			continue
		}
		if changed {
			sch.interval = p.cfg.BaseInterval
		} else {
			sch.interval = min(time.Duration(float64(sch.interval)*1.5), p.cfg.MaxInterval)
		}
		sch.nextPollAt = p.now().Add(sch.interval)
		p.mu.Unlock()
	}
}

// pollSession reconciles one session: fetch the upstream snapshot and
// activity list, compare each byte-for-byte against the replica, and
// write + broadcast whatever differs. Returns whether anything changed.
func (p *Poller) pollSession(ctx context.Context, id string) (bool, error) {
	storedRaw, err := p.store.Get(sessionKey(id))
	if errors.Is(err, store.ErrNotFound) {
		// Schedule entry for a session that left the replica — drop it
		log.Printf("🧹 [POLLER] Dropping stale schedule entry for %s", id)
		p.untrack(id)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var stored models.Session
	if err := json.Unmarshal(storedRaw, &stored); err != nil {
		return false, err
	}

	fresh, err := p.upstream.GetSession(ctx, stored.Name)
	if errors.Is(err, upstream.ErrNotFound) {
		// Gone upstream. Keep the replica record but let the schedule
		// back off like an unchanged session.
		return false, nil
	}
	if err != nil {
		return false, err
	}

	freshRaw, err := json.Marshal(fresh)
	if err != nil {
		return false, err
	}

	sessionChanged := !bytes.Equal(freshRaw, storedRaw)
	if sessionChanged {
		if err := p.store.Put(sessionKey(id), freshRaw); err != nil {
			return false, err
		}
		if p.metrics != nil {
			p.metrics.ReplicaWrites.WithLabelValues("session").Inc()
		}
		p.conns.Broadcast(models.ServerMessage{Type: models.ServerSessionUpdate, Session: fresh})
		log.Printf("🔄 [POLLER] Session %s updated (state=%s)", id, fresh.State)
	}

	activitiesChanged, err := p.reconcileActivities(ctx, id, fresh.Name)
	if err != nil {
		return false, err
	}

	return sessionChanged || activitiesChanged, nil
}

// reconcileActivities fetches the full activity list and applies it with
// replace semantics when it differs from the stored snapshot.
func (p *Poller) reconcileActivities(ctx context.Context, id, sessionName string) (bool, error) {
	fresh, err := p.upstream.ListActivities(ctx, sessionName)
	if err != nil {
		return false, err
	}

	freshRaw, err := json.Marshal(fresh)
	if err != nil {
		return false, err
	}

	storedRaw, err := p.store.Get(activitiesKey(id))
	if errors.Is(err, store.ErrNotFound) {
		// Never stored: an empty upstream list is not a change
		if len(fresh) == 0 {
			return false, nil
		}
		storedRaw = nil
	} else if err != nil {
		return false, err
	}

	if bytes.Equal(freshRaw, storedRaw) {
		return false, nil
	}

	if err := p.store.Put(activitiesKey(id), freshRaw); err != nil {
		return false, err
	}
	if p.metrics != nil {
		p.metrics.ReplicaWrites.WithLabelValues("activities").Inc()
	}
	p.conns.Broadcast(models.ServerMessage{
		Type:       models.ServerActivitiesUpdate,
		SessionID:  id,
		Activities: fresh,
	})
	log.Printf("🔄 [POLLER] Activities for %s updated (%d entries)", id, len(fresh))
	return true, nil
}

func (p *Poller) countPollError(err error) {
	if p.metrics == nil {
		return
	}
	var te *upstream.TransportError
	var ue *upstream.UpstreamError
	switch {
	case errors.As(err, &te):
		p.metrics.PollErrors.WithLabelValues("transport").Inc()
	case errors.As(err, &ue):
		p.metrics.PollErrors.WithLabelValues("upstream").Inc()
	default:
		p.metrics.PollErrors.WithLabelValues("store").Inc()
	}
}
