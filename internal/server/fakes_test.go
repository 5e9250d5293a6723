package server

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/questforge/encounterd/internal/breaker"
	"github.com/questforge/encounterd/pkg/types"
)

const testSecret = "test-secret-0123456789abcdef"

// fakeProvider is a scripted provider.Provider.
type fakeProvider struct {
	id        string
	enc       *types.EncounterSpec
	rewards   []types.Reward
	err       error
	calls     atomic.Int32
	breaker   *breaker.Breaker
	mu        sync.Mutex
	lastReq   *types.EncounterRequest
	healthErr string
}

func newFakeProvider(id string) *fakeProvider {
	return &fakeProvider{
		id:      id,
		enc:     sampleEncounter(),
		rewards: []types.Reward{{Type: types.RewardCurrency, Amount: 25}},
		breaker: breaker.New(id, breaker.DefaultConfig()),
	}
}

func (p *fakeProvider) ID() string    { return p.id }
func (p *fakeProvider) Name() string  { return "Fake " + p.id }
func (p *fakeProvider) Model() string { return "fake-model" }

func (p *fakeProvider) GenerateEncounter(_ context.Context, req *types.EncounterRequest) (*types.EncounterSpec, error) {
	p.calls.Add(1)
	p.mu.Lock()
	p.lastReq = req
	p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	return p.enc.Clone(), nil
}

func (p *fakeProvider) GenerateReward(_ context.Context, _ *types.RewardRequest) ([]types.Reward, error) {
	p.calls.Add(1)
	if p.err != nil {
		return nil, p.err
	}
	return p.rewards, nil
}

func (p *fakeProvider) EstimateCost(_ *types.EncounterRequest) types.CostEstimate {
	return types.CostEstimate{Provider: p.id, Model: "fake-model", InputTokens: 100, OutputTokens: 4096, USD: 0.01}
}

func (p *fakeProvider) HealthCheck(_ context.Context) types.HealthStatus {
	return types.HealthStatus{
		Provider:  p.id,
		Available: p.healthErr == "",
		Error:     p.healthErr,
		LatencyMs: 1,
		Breaker:   &types.BreakerStatus{State: p.breaker.State().String()},
	}
}

func (p *fakeProvider) Breaker() *breaker.Breaker { return p.breaker }

func (p *fakeProvider) last() *types.EncounterRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastReq
}

func sampleEncounter() *types.EncounterSpec {
	return &types.EncounterSpec{
		ID:          "enc_sample",
		Title:       "The Ember Vault",
		Description: "A vault sealed by fire.",
		Difficulty:  types.DifficultyMedium,
		Objectives: []types.Objective{
			{ID: "obj_1", Description: "Open the vault", Type: types.ObjectiveInteract},
			{ID: "obj_2", Description: "Slay the ember guard", Type: types.ObjectiveEliminate},
		},
		NPCs: []types.NPC{
			{ID: "npc_1", Name: "Ash", Role: "keeper", Dialogue: []types.DialogueLine{{Trigger: "greet", Text: "Who goes there?"}}},
		},
		Rewards:           []types.Reward{{Type: types.RewardExperience, Amount: 200}},
		EstimatedDuration: 15,
	}
}
