package jobs

import (
	"context"
	"errors"
	"log"

	"julesboard/internal/logging"
	"julesboard/internal/models"
	"julesboard/internal/services"
	"julesboard/internal/store"
	"julesboard/internal/upstream"
)

// DiscoverySync re-lists every upstream session so sessions created
// outside this process become tracked. Already-known sessions are left
// to the adaptive poller — writing them here would mask changes from
// the diff.
type DiscoverySync struct {
	store    *store.Store
	upstream *upstream.Client
	poller   *services.Poller
	conns    *services.ConnectionManager
}

// NewDiscoverySync creates the discovery job.
func NewDiscoverySync(st *store.Store, client *upstream.Client, poller *services.Poller, conns *services.ConnectionManager) *DiscoverySync {
	return &DiscoverySync{store: st, upstream: client, poller: poller, conns: conns}
}

// Name implements Job.
func (d *DiscoverySync) Name() string { return "discovery-sync" }

// Run implements Job.
func (d *DiscoverySync) Run(ctx context.Context) error {
	sessions, err := d.upstream.ListSessions(ctx)
	if err != nil {
		return err
	}

	discovered := 0
	for i := range sessions {
		session := &sessions[i]
		if session.ID == "" {
			continue
		}

		_, err := d.store.Get(services.SessionKey(session.ID))
		if err == nil {
			continue // already tracked
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		if err := services.StoreSession(d.store, session); err != nil {
			return err
		}
		d.poller.Track(session.ID)
		d.conns.Broadcast(models.ServerMessage{Type: models.ServerSessionUpdate, Session: session})
		logging.WithSession(session.ID).Debug("discovered upstream session", "state", session.State)
		discovered++
	}

	if discovered > 0 {
		log.Printf("🔍 [DISCOVERY] Found %d new upstream sessions", discovered)
	}
	return nil
}
