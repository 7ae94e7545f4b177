package services

import (
	"encoding/json"
	"fmt"
	"strings"

	"julesboard/internal/models"
	"julesboard/internal/store"
)

// Replica store key prefixes. A session's two records are written
// independently; callers tolerate the window where one is updated and
// the other is not.
const (
	sessionKeyPrefix    = "session:"
	activitiesKeyPrefix = "activities:"
)

func sessionKey(id string) string    { return sessionKeyPrefix + id }
func activitiesKey(id string) string { return activitiesKeyPrefix + id }

// SessionKey returns the replica key holding a session snapshot.
func SessionKey(id string) string { return sessionKey(id) }

// StoreSession writes a session snapshot to the replica.
func StoreSession(st *store.Store, session *models.Session) error {
	_, err := storeSession(st, session)
	return err
}

// loadSession reads a session snapshot from the replica.
// Returns store.ErrNotFound when the session is not tracked.
func loadSession(st *store.Store, id string) (*models.Session, error) {
	data, err := st.Get(sessionKey(id))
	if err != nil {
		return nil, err
	}
	var session models.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("corrupt session record %q: %w", id, err)
	}
	return &session, nil
}

// storeSession writes a session snapshot and returns the stored bytes.
func storeSession(st *store.Store, session *models.Session) ([]byte, error) {
	data, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session %q: %w", session.ID, err)
	}
	if err := st.Put(sessionKey(session.ID), data); err != nil {
		return nil, err
	}
	return data, nil
}

// loadActivities reads a session's activity snapshot. A session with no
// stored activities yields an empty slice, not an error.
func loadActivities(st *store.Store, id string) ([]models.Activity, error) {
	data, err := st.Get(activitiesKey(id))
	if err == store.ErrNotFound {
		return []models.Activity{}, nil
	}
	if err != nil {
		return nil, err
	}
	var activities []models.Activity
	if err := json.Unmarshal(data, &activities); err != nil {
		return nil, fmt.Errorf("corrupt activities record %q: %w", id, err)
	}
	return activities, nil
}

// storeActivities replaces a session's activity snapshot wholesale.
// Replace-not-append: the stored list is always the latest full snapshot.
func storeActivities(st *store.Store, id string, activities []models.Activity) error {
	if activities == nil {
		activities = []models.Activity{}
	}
	data, err := json.Marshal(activities)
	if err != nil {
		return fmt.Errorf("failed to encode activities for %q: %w", id, err)
	}
	return st.Put(activitiesKey(id), data)
}

// listStoredSessions enumerates every tracked session in the replica.
func listStoredSessions(st *store.Store) ([]models.Session, error) {
	keys, err := st.Keys(sessionKeyPrefix)
	if err != nil {
		return nil, err
	}
	sessions := make([]models.Session, 0, len(keys))
	for _, key := range keys {
		id := strings.TrimPrefix(key, sessionKeyPrefix)
		session, err := loadSession(st, id)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *session)
	}
	return sessions, nil
}
