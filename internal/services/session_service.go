package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"julesboard/internal/models"
	"julesboard/internal/store"
	"julesboard/internal/upstream"
)

// ErrSessionNotFound is surfaced to callers asking about an untracked id.
var ErrSessionNotFound = errors.New("session not found")

// SessionService is the request surface exposed to the routing layer and
// the live gateway: tracked-session reads, user actions against the
// upstream service, and the immediate resync those actions trigger.
//
// In mock mode (no API key configured) there is no upstream; actions
// simulate against the replica so the rest of the system can be
// exercised offline.
type SessionService struct {
	store    *store.Store
	upstream *upstream.Client
	conns    *ConnectionManager
	poller   *Poller
	mock     bool
}

// NewSessionService creates the session service. client and poller are
// nil in mock mode.
func NewSessionService(st *store.Store, client *upstream.Client, conns *ConnectionManager, poller *Poller, mock bool) *SessionService {
	return &SessionService{
		store:    st,
		upstream: client,
		conns:    conns,
		poller:   poller,
		mock:     mock,
	}
}

// Mock reports whether the service is running without an upstream.
func (s *SessionService) Mock() bool { return s.mock }

// ListTracked returns every session in the replica.
func (s *SessionService) ListTracked() ([]models.Session, error) {
	return listStoredSessions(s.store)
}

// GetTracked returns one tracked session, or ErrSessionNotFound.
func (s *SessionService) GetTracked(id string) (*models.Session, error) {
	session, err := loadSession(s.store, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	return session, err
}

// GetActivities returns a session's activity snapshot, empty if none.
func (s *SessionService) GetActivities(id string) ([]models.Activity, error) {
	return loadActivities(s.store, id)
}

// ListSources returns the sources sessions can be created against.
func (s *SessionService) ListSources(ctx context.Context) ([]models.Source, error) {
	if s.mock {
		return []models.Source{
			{Name: "sources/github/nurdwerks/jules_interface", ID: "jules_interface"},
			{Name: "sources/github/example/repo", ID: "repo"},
		}, nil
	}
	return s.upstream.ListSources(ctx)
}

// Create starts a new session, writes it through the replica, broadcasts
// it, and puts it on the fast poll schedule.
func (s *SessionService) Create(ctx context.Context, req models.CreateSessionRequest) (*models.Session, error) {
	if s.mock {
		ts := time.Now().UnixMilli()
		session := &models.Session{
			Name:          fmt.Sprintf("sessions/mock-session-%d", ts),
			ID:            fmt.Sprintf("mock-session-%d", ts),
			Prompt:        req.Prompt,
			State:         models.StateQueued,
			CreateTime:    time.Now().UTC().Format(time.RFC3339),
			SourceContext: req.SourceContext,
		}
		if _, err := storeSession(s.store, session); err != nil {
			return nil, err
		}
		if err := storeActivities(s.store, session.ID, nil); err != nil {
			return nil, err
		}
		s.conns.Broadcast(models.ServerMessage{Type: models.ServerSessionUpdate, Session: session})
		log.Printf("🆕 [SESSIONS] Mock session created: %s", session.ID)
		return session, nil
	}

	session, err := s.upstream.CreateSession(ctx, req)
	if err != nil {
		return nil, err
	}
	if _, err := storeSession(s.store, session); err != nil {
		return nil, err
	}
	s.conns.Broadcast(models.ServerMessage{Type: models.ServerSessionUpdate, Session: session})
	s.poller.MarkActive(session.ID)
	log.Printf("🆕 [SESSIONS] Session created: %s", session.ID)

	// The activity log is usually empty this early, but fetching it now
	// keeps the replica complete for the initial-data push.
	if _, err := s.refreshActivities(ctx, session); err != nil {
		log.Printf("⚠️  [SESSIONS] Initial activity fetch for %s failed: %v", session.ID, err)
	}
	return session, nil
}

// SendMessage posts a user message into a session and resyncs it.
func (s *SessionService) SendMessage(ctx context.Context, id, message string) error {
	session, err := s.GetTracked(id)
	if err != nil {
		return err
	}

	if s.mock {
		activities, err := loadActivities(s.store, id)
		if err != nil {
			return err
		}
		activities = append(activities, models.Activity{
			Name:         fmt.Sprintf("%s/activities/%d", session.Name, time.Now().UnixMilli()),
			CreateTime:   time.Now().UTC().Format(time.RFC3339),
			UserMessaged: &models.UserMessaged{UserMessage: message},
		})
		if err := storeActivities(s.store, id, activities); err != nil {
			return err
		}
		s.conns.Broadcast(models.ServerMessage{
			Type:       models.ServerActivitiesUpdate,
			SessionID:  id,
			Activities: activities,
		})
		return nil
	}

	payload := map[string]string{"prompt": message}
	if _, err := s.upstream.Invoke(ctx, session.Name, "sendMessage", payload); err != nil {
		return err
	}
	s.resync(ctx, session)
	return nil
}

// ApprovePlan approves a session's pending plan and resyncs it.
func (s *SessionService) ApprovePlan(ctx context.Context, id string) error {
	session, err := s.GetTracked(id)
	if err != nil {
		return err
	}

	if s.mock {
		session.State = models.StateInProgress
		if _, err := storeSession(s.store, session); err != nil {
			return err
		}
		s.conns.Broadcast(models.ServerMessage{Type: models.ServerSessionUpdate, Session: session})
		return nil
	}

	if _, err := s.upstream.Invoke(ctx, session.Name, "approvePlan", nil); err != nil {
		return err
	}
	s.resync(ctx, session)
	return nil
}

// ForceRefresh fetches a session's current upstream state on demand,
// applies and broadcasts it, and resets the poll schedule.
func (s *SessionService) ForceRefresh(ctx context.Context, id string) (*models.Session, error) {
	session, err := s.GetTracked(id)
	if err != nil {
		return nil, err
	}

	if s.mock {
		// Nothing upstream to consult; rebroadcast the stored snapshot
		s.conns.Broadcast(models.ServerMessage{Type: models.ServerSessionUpdate, Session: session})
		return session, nil
	}

	fresh, err := s.refreshSession(ctx, session)
	if err != nil {
		return nil, err
	}
	if _, err := s.refreshActivities(ctx, fresh); err != nil {
		log.Printf("⚠️  [SESSIONS] Activity refresh for %s failed: %v", id, err)
	}
	s.poller.MarkActive(id)
	return fresh, nil
}

// resync runs the post-action refresh: fetch + write + broadcast the
// session and its activities, then reset the poll schedule. Refresh
// failures after a successful action are logged, not surfaced — the
// action itself already took effect upstream.
func (s *SessionService) resync(ctx context.Context, session *models.Session) {
	fresh, err := s.refreshSession(ctx, session)
	if err != nil {
		log.Printf("⚠️  [SESSIONS] Post-action refresh for %s failed: %v", session.ID, err)
		fresh = session
	}
	if _, err := s.refreshActivities(ctx, fresh); err != nil {
		log.Printf("⚠️  [SESSIONS] Post-action activity refresh for %s failed: %v", session.ID, err)
	}
	s.poller.MarkActive(session.ID)
}

// refreshSession fetches and applies the current upstream snapshot,
// broadcasting unconditionally so the caller's view updates immediately.
func (s *SessionService) refreshSession(ctx context.Context, session *models.Session) (*models.Session, error) {
	fresh, err := s.upstream.GetSession(ctx, session.Name)
	if err != nil {
		return nil, err
	}
	if _, err := storeSession(s.store, fresh); err != nil {
		return nil, err
	}
	s.conns.Broadcast(models.ServerMessage{Type: models.ServerSessionUpdate, Session: fresh})
	return fresh, nil
}

// refreshActivities fetches and applies the full activity snapshot.
func (s *SessionService) refreshActivities(ctx context.Context, session *models.Session) ([]models.Activity, error) {
	activities, err := s.upstream.ListActivities(ctx, session.Name)
	if err != nil {
		return nil, err
	}
	if err := storeActivities(s.store, session.ID, activities); err != nil {
		return nil, err
	}
	s.conns.Broadcast(models.ServerMessage{
		Type:       models.ServerActivitiesUpdate,
		SessionID:  session.ID,
		Activities: activities,
	})
	return activities, nil
}
