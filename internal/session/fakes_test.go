package session

import (
	"context"
	"errors"
	"sync"

	"github.com/questforge/encounterd/internal/storage"
	"github.com/questforge/encounterd/pkg/types"
)

type fakeGateway struct {
	mu    sync.Mutex
	enc   *types.EncounterSpec
	err   error
	calls int
	last  *types.EncounterRequest
}

func (g *fakeGateway) GenerateEncounter(_ context.Context, req *types.EncounterRequest) (*types.EncounterSpec, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.last = req
	if g.err != nil {
		return nil, g.err
	}
	return g.enc.Clone(), nil
}

var errDiskFull = errors.New("no space left on device")

// memStore is an in-memory Store with injectable save failures.
type memStore struct {
	mu       sync.Mutex
	docs     map[string]*types.Session
	saveErr  error
	saves    int
	loads    int
	loadGate chan struct{}
}

func newMemStore() *memStore {
	return &memStore{docs: make(map[string]*types.Session)}
}

func (m *memStore) Save(_ context.Context, sess *types.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.docs[sess.ID] = sess.Clone()
	return nil
}

func (m *memStore) Load(ctx context.Context, id string) (*types.Session, error) {
	if m.loadGate != nil {
		select {
		case <-m.loadGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	sess, ok := m.docs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return sess.Clone(), nil
}

func (m *memStore) ListByPlayer(_ context.Context, playerID string) ([]*types.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.Session
	for _, sess := range m.docs {
		if sess.PlayerID == playerID {
			out = append(out, sess.Clone())
		}
	}
	return out, nil
}

func (m *memStore) stored(id string) (*types.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.docs[id]
	return sess, ok
}

func testEncounter() *types.EncounterSpec {
	return &types.EncounterSpec{
		ID:          "enc_1",
		Title:       "The Sunken Bell",
		Description: "Something rings beneath the harbor.",
		Difficulty:  types.DifficultyMedium,
		Objectives: []types.Objective{
			{ID: "obj_1", Description: "Find the diving bell", Type: types.ObjectiveReach, Completed: true},
			{ID: "obj_2", Description: "Collect three brass keys", Type: types.ObjectiveCollect},
			{ID: "obj_3", Description: "Talk to the harbormaster", Type: types.ObjectiveInteract},
		},
		NPCs: []types.NPC{
			{ID: "npc_1", Name: "Marla", Role: "harbormaster"},
			{ID: "npc_2", Name: "Old Fen", Role: "diver"},
		},
		Rewards: []types.Reward{{Type: types.RewardCurrency, Amount: 50}},
	}
}
