package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/questforge/encounterd/pkg/types"
)

// sessionPrefix is the directory holding one document per session.
const sessionPrefix = "session"

// SessionStore persists sessions as <basePath>/session/<id>.json.
type SessionStore struct {
	storage *Storage
}

// NewSessionStore creates a session store rooted at dataDir.
func NewSessionStore(dataDir string) *SessionStore {
	return &SessionStore{storage: New(dataDir)}
}

// validID rejects ids that would escape the session directory.
func validID(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsAny(id, `/\`)
}

// Save writes the session document, replacing any previous version.
func (s *SessionStore) Save(ctx context.Context, sess *types.Session) error {
	if sess == nil || !validID(sess.ID) {
		return fmt.Errorf("storage: invalid session id")
	}
	return s.storage.Put(ctx, []string{sessionPrefix, sess.ID}, sess)
}

// Load reads a session. Returns ErrNotFound when no document exists.
func (s *SessionStore) Load(ctx context.Context, id string) (*types.Session, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	var sess types.Session
	if err := s.storage.Get(ctx, []string{sessionPrefix, id}, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// ListByPlayer returns every stored session of playerID, oldest first.
// Documents that fail to decode are skipped.
func (s *SessionStore) ListByPlayer(ctx context.Context, playerID string) ([]*types.Session, error) {
	out := []*types.Session{}
	err := s.storage.Scan(ctx, []string{sessionPrefix}, func(key string, data json.RawMessage) error {
		var sess types.Session
		if err := json.Unmarshal(data, &sess); err != nil {
			return nil
		}
		if sess.PlayerID == playerID {
			out = append(out, &sess)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime != out[j].StartTime {
			return out[i].StartTime < out[j].StartTime
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
