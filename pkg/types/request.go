package types

// PlayerContext describes the player an encounter is generated for.
type PlayerContext struct {
	PlayerID            string   `json:"playerId,omitempty"`
	Level               int      `json:"level,omitempty" validate:"gte=0"`
	Preferences         []string `json:"preferences,omitempty"`
	CompletedEncounters []string `json:"completedEncounters,omitempty"`
}

// EncounterRequest is the body of POST /gen/encounter.
type EncounterRequest struct {
	PlayerContext   *PlayerContext `json:"playerContext,omitempty"`
	Difficulty      Difficulty     `json:"difficulty,omitempty" validate:"omitempty,oneof=easy medium hard"`
	DifficultyLevel *float64       `json:"difficultyLevel,omitempty" validate:"omitempty,gte=0.1,lte=1"`
	Theme           string         `json:"theme,omitempty" validate:"max=200"`
	// Provider optionally pins the upstream provider; the configured default is used otherwise.
	Provider string `json:"provider,omitempty"`
}

// RewardRequest is the body of POST /gen/reward.
type RewardRequest struct {
	EncounterID    string         `json:"encounterId" validate:"required"`
	Difficulty     Difficulty     `json:"difficulty" validate:"oneof=easy medium hard"`
	CompletionTime *float64       `json:"completionTime,omitempty" validate:"omitempty,gte=0"` // seconds
	PlayerContext  *PlayerContext `json:"playerContext,omitempty"`
	Provider       string         `json:"provider,omitempty"`
}

// RewardResponse is the body returned by POST /gen/reward.
type RewardResponse struct {
	Rewards []Reward `json:"rewards"`
}

// CostEstimate is an estimated upstream cost of one generation call.
type CostEstimate struct {
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	InputTokens  int     `json:"inputTokens"`
	OutputTokens int     `json:"outputTokens"`
	USD          float64 `json:"usd"`
}

// HealthStatus reports the availability of one provider.
type HealthStatus struct {
	Provider  string         `json:"provider"`
	Available bool           `json:"available"`
	LatencyMs int64          `json:"latencyMs"`
	Error     string         `json:"error,omitempty"`
	Breaker   *BreakerStatus `json:"breaker,omitempty"`
}

// BreakerStatus is a point-in-time view of a provider's circuit breaker.
type BreakerStatus struct {
	State       string `json:"state"`
	Failures    int    `json:"failures"`
	LastFailure *int64 `json:"lastFailure,omitempty"`
	ResumeAt    *int64 `json:"resumeAt,omitempty"`
}
