package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/questforge/encounterd/internal/apperror"
	"github.com/questforge/encounterd/internal/event"
	"github.com/questforge/encounterd/internal/logging"
	"github.com/questforge/encounterd/internal/metrics"
	"github.com/questforge/encounterd/internal/storage"
	"github.com/questforge/encounterd/pkg/types"
)

// GatewayClient generates encounters for new sessions.
type GatewayClient interface {
	GenerateEncounter(ctx context.Context, req *types.EncounterRequest) (*types.EncounterSpec, error)
}

// Store is the durable session backend.
type Store interface {
	Save(ctx context.Context, sess *types.Session) error
	Load(ctx context.Context, id string) (*types.Session, error)
	ListByPlayer(ctx context.Context, playerID string) ([]*types.Session, error)
}

// Options configures a Service.
type Options struct {
	CacheSize int
	// PersistActive writes every mutation through to the store, not only completion.
	PersistActive bool
	// Bus receives lifecycle events. Nil disables events.
	Bus *event.Bus
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Service owns the session lifecycle. Safe for concurrent use.
type Service struct {
	gateway       GatewayClient
	store         Store
	cache         *Cache
	bus           *event.Bus
	persistActive bool
	now           func() time.Time
	log           zerolog.Logger

	loads singleflight.Group

	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// NewService creates a session service.
func NewService(gateway GatewayClient, store Store, opts Options) (*Service, error) {
	if gateway == nil || store == nil {
		return nil, errors.New("session: gateway and store are required")
	}
	s := &Service{
		gateway:       gateway,
		store:         store,
		bus:           opts.Bus,
		persistActive: opts.PersistActive,
		now:           opts.Now,
		log:           logging.Component("session"),
		locks:         make(map[string]*sessionLock),
	}
	if s.now == nil {
		s.now = time.Now
	}
	cache, err := NewCache(opts.CacheSize, s.onEvict)
	if err != nil {
		return nil, err
	}
	s.cache = cache
	return s, nil
}

// Start generates an encounter through the gateway and opens a session for it.
func (s *Service) Start(ctx context.Context, req *types.StartSessionRequest) (*types.Session, error) {
	if req == nil || req.PlayerID == "" {
		return nil, apperror.Validation("playerId is required")
	}
	id := newID()

	enc, err := s.gateway.GenerateEncounter(ctx, req.EncounterRequest())
	if err != nil {
		s.log.Warn().Err(err).Str("session", id).Str("player", req.PlayerID).Msg("encounter generation failed")
		return nil, err
	}
	if enc == nil || len(enc.Objectives) == 0 {
		return nil, apperror.Upstream(nil, "gateway returned an empty encounter")
	}

	enc = enc.Clone()
	interactions := make(map[string]int, len(enc.NPCs))
	for i := range enc.Objectives {
		enc.Objectives[i].Completed = false
	}
	for _, npc := range enc.NPCs {
		interactions[npc.ID] = 0
	}

	sess := &types.Session{
		ID:        id,
		PlayerID:  req.PlayerID,
		Encounter: enc,
		State: types.SessionState{
			CurrentObjectiveIndex: 0,
			ObjectivesCompleted:   []string{},
			NPCInteractions:       interactions,
		},
		StartTime: s.now().UnixMilli(),
	}

	if s.persistActive {
		if err := s.store.Save(ctx, sess); err != nil {
			s.storeFailed("save", id, err)
			return nil, apperror.Internal(err, "failed to persist session")
		}
	}
	s.cache.Put(sess)

	s.log.Info().Str("session", id).Str("player", sess.PlayerID).Str("encounter", enc.ID).Msg("session started")
	s.publish(event.Event{Type: event.SessionStarted, SessionID: id, PlayerID: sess.PlayerID})
	return sess.Clone(), nil
}

// Get returns the session from the cache, falling back to the store.
func (s *Service) Get(ctx context.Context, id string) (*types.Session, error) {
	sess, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	return sess.Clone(), nil
}

// lookup returns the shared cached pointer. Callers must not mutate it.
func (s *Service) lookup(ctx context.Context, id string) (*types.Session, error) {
	if id == "" {
		return nil, apperror.Validation("session id is required")
	}
	if sess, ok := s.cache.Get(id); ok {
		return sess, nil
	}

	// The shared load outlives any single caller; each caller still stops
	// waiting when its own context ends.
	ch := s.loads.DoChan(id, func() (any, error) {
		sess, err := s.store.Load(context.WithoutCancel(ctx), id)
		if err != nil {
			return nil, err
		}
		return s.cache.PutIfAbsent(sess), nil
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	v, err := res.Val, res.Err
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperror.NotFound("session %s not found", id)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.storeFailed("load", id, err)
		return nil, apperror.Internal(err, "failed to load session")
	}
	return v.(*types.Session), nil
}

// UpdateObjective marks an objective complete. Completing an objective twice is a no-op.
func (s *Service) UpdateObjective(ctx context.Context, id, objectiveID string) (*types.Session, error) {
	var changed bool
	sess, err := s.mutate(ctx, id, false, func(next *types.Session) error {
		if next.IsCompleted() {
			return apperror.Conflict("session %s is already completed", id)
		}
		idx := next.Encounter.ObjectiveIndex(objectiveID)
		if idx < 0 {
			return apperror.NotFound("objective %s not found in session %s", objectiveID, id)
		}
		if !next.State.MarkCompleted(objectiveID) {
			return errUnchanged
		}
		changed = true
		next.Encounter.Objectives[idx].Completed = true
		if next.State.CurrentObjectiveIndex == idx {
			next.State.CurrentObjectiveIndex = nextOpenObjective(next, idx)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.publish(event.Event{Type: event.ObjectiveCompleted, SessionID: id, PlayerID: sess.PlayerID, ObjectiveID: objectiveID})
	}
	return sess, nil
}

// RecordInteraction increments the interaction counter for an NPC.
func (s *Service) RecordInteraction(ctx context.Context, id, npcID string) (*types.Session, error) {
	sess, err := s.mutate(ctx, id, false, func(next *types.Session) error {
		if next.IsCompleted() {
			return apperror.Conflict("session %s is already completed", id)
		}
		if !next.Encounter.HasNPC(npcID) {
			return apperror.NotFound("npc %s not found in session %s", npcID, id)
		}
		next.State.NPCInteractions[npcID]++
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(event.Event{Type: event.NPCInteracted, SessionID: id, PlayerID: sess.PlayerID, NPCID: npcID})
	return sess, nil
}

// Complete closes the session and writes it to the store before returning.
func (s *Service) Complete(ctx context.Context, id string) (*types.Session, error) {
	sess, err := s.mutate(ctx, id, true, func(next *types.Session) error {
		if next.IsCompleted() {
			return apperror.Conflict("session %s is already completed", id)
		}
		at := s.now().UnixMilli()
		if at < next.StartTime {
			at = next.StartTime
		}
		next.CompletedAt = &at
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().
		Str("session", id).
		Str("player", sess.PlayerID).
		Int("objectives_completed", len(sess.State.ObjectivesCompleted)).
		Int("objectives_total", len(sess.Encounter.Objectives)).
		Msg("session completed")
	s.publish(event.Event{Type: event.SessionCompleted, SessionID: id, PlayerID: sess.PlayerID})
	return sess, nil
}

// List returns the player's sessions from the store merged with cached ones,
// ordered by start time.
func (s *Service) List(ctx context.Context, playerID string) ([]*types.Session, error) {
	if playerID == "" {
		return nil, apperror.Validation("playerId is required")
	}
	stored, err := s.store.ListByPlayer(ctx, playerID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.storeFailed("list", playerID, err)
		return nil, apperror.Internal(err, "failed to list sessions")
	}

	byID := make(map[string]*types.Session, len(stored))
	for _, sess := range stored {
		byID[sess.ID] = sess
	}
	// Cached copies are at least as fresh as the stored ones.
	for _, sess := range s.cache.Values() {
		if sess.PlayerID == playerID {
			byID[sess.ID] = sess.Clone()
		}
	}

	out := make([]*types.Session, 0, len(byID))
	for _, sess := range byID {
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime != out[j].StartTime {
			return out[i].StartTime < out[j].StartTime
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// CacheLen returns the number of cached sessions.
func (s *Service) CacheLen() int { return s.cache.Len() }

// errUnchanged aborts a mutation without writing.
var errUnchanged = errors.New("unchanged")

// mutate applies fn to a copy of the session under the session lock. The copy
// replaces the cached session only after a successful write, so a failed write
// leaves the previous state visible.
func (s *Service) mutate(ctx context.Context, id string, durable bool, fn func(next *types.Session) error) (*types.Session, error) {
	unlock := s.lock(id)
	defer unlock()

	cur, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		if errors.Is(err, errUnchanged) {
			return cur.Clone(), nil
		}
		return nil, err
	}

	if durable || s.persistActive {
		if err := s.store.Save(ctx, next); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.storeFailed("save", id, err)
			return nil, apperror.Internal(err, "failed to persist session")
		}
	}
	s.cache.Put(next)
	return next.Clone(), nil
}

func (s *Service) lock(id string) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sessionLock{}
		s.locks[id] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.mu.Unlock()
	}
}

func (s *Service) onEvict(sess *types.Session) {
	durable := sess.IsCompleted() || s.persistActive
	state := "active"
	if sess.IsCompleted() {
		state = "completed"
	}
	metrics.SessionEvictionsTotal.WithLabelValues(state, boolLabel(durable)).Inc()
	if !sess.IsCompleted() {
		ev := s.log.Warn().Str("session", sess.ID).Str("player", sess.PlayerID).Bool("durable", durable)
		if durable {
			ev.Msg("active session evicted from cache")
		} else {
			ev.Msg("active session evicted from cache and lost")
		}
	}
	s.publish(event.Event{Type: event.SessionEvicted, SessionID: sess.ID, PlayerID: sess.PlayerID, Durable: durable})
}

func (s *Service) publish(ev event.Event) {
	metrics.SessionEventsTotal.WithLabelValues(string(ev.Type)).Inc()
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ev); err != nil {
		s.log.Debug().Err(err).Str("event", string(ev.Type)).Msg("event dropped")
	}
}

func (s *Service) storeFailed(op, id string, err error) {
	metrics.StoreErrorsTotal.WithLabelValues(op).Inc()
	s.log.Error().Err(err).Str("op", op).Str("key", id).Msg("session store failure")
}

// nextOpenObjective returns the first incomplete objective after idx, wrapping
// to earlier ones, or len(objectives) once all are done.
func nextOpenObjective(sess *types.Session, idx int) int {
	objs := sess.Encounter.Objectives
	for i := 1; i <= len(objs); i++ {
		j := (idx + i) % len(objs)
		if !sess.State.HasCompleted(objs[j].ID) {
			return j
		}
	}
	return len(objs)
}

func newID() string {
	return "ses_" + ulid.Make().String()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
