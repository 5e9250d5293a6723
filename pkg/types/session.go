package types

import "sort"

// Session is a player's live instance of an encounter.
type Session struct {
	ID          string         `json:"id"`
	PlayerID    string         `json:"playerId"`
	Encounter   *EncounterSpec `json:"encounter"`
	State       SessionState   `json:"state"`
	StartTime   int64          `json:"startTime"`             // unix ms
	CompletedAt *int64         `json:"completedAt,omitempty"` // unix ms, set once
}

// SessionState tracks progress through an encounter.
type SessionState struct {
	CurrentObjectiveIndex int            `json:"currentObjectiveIndex"`
	ObjectivesCompleted   []string       `json:"objectivesCompleted"`
	NPCInteractions       map[string]int `json:"npcInteractions"`
}

// StartSessionRequest is the body of POST /session/start.
// The optional generation hints are forwarded to the gateway.
type StartSessionRequest struct {
	PlayerID        string         `json:"playerId" validate:"required,max=128"`
	Context         *PlayerContext `json:"context,omitempty"`
	Difficulty      Difficulty     `json:"difficulty,omitempty" validate:"omitempty,oneof=easy medium hard"`
	DifficultyLevel *float64       `json:"difficultyLevel,omitempty" validate:"omitempty,gte=0.1,lte=1"`
	Theme           string         `json:"theme,omitempty" validate:"max=200"`
	Provider        string         `json:"provider,omitempty"`
}

// EncounterRequest builds the gateway request for this start request.
func (r *StartSessionRequest) EncounterRequest() *EncounterRequest {
	pc := PlayerContext{PlayerID: r.PlayerID}
	if r.Context != nil {
		pc = *r.Context
		if pc.PlayerID == "" {
			pc.PlayerID = r.PlayerID
		}
	}
	return &EncounterRequest{
		PlayerContext:   &pc,
		Difficulty:      r.Difficulty,
		DifficultyLevel: r.DifficultyLevel,
		Theme:           r.Theme,
		Provider:        r.Provider,
	}
}

// IsCompleted reports whether the session reached its terminal state.
func (s *Session) IsCompleted() bool {
	return s.CompletedAt != nil
}

// HasCompleted reports whether the objective id is in the completed set.
func (st *SessionState) HasCompleted(objectiveID string) bool {
	for _, id := range st.ObjectivesCompleted {
		if id == objectiveID {
			return true
		}
	}
	return false
}

// MarkCompleted adds the objective id to the completed set, keeping it sorted.
// It returns false if the id was already present.
func (st *SessionState) MarkCompleted(objectiveID string) bool {
	i := sort.SearchStrings(st.ObjectivesCompleted, objectiveID)
	if i < len(st.ObjectivesCompleted) && st.ObjectivesCompleted[i] == objectiveID {
		return false
	}
	st.ObjectivesCompleted = append(st.ObjectivesCompleted, "")
	copy(st.ObjectivesCompleted[i+1:], st.ObjectivesCompleted[i:])
	st.ObjectivesCompleted[i] = objectiveID
	return true
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Encounter = s.Encounter.Clone()
	c.State.ObjectivesCompleted = append([]string{}, s.State.ObjectivesCompleted...)
	c.State.NPCInteractions = make(map[string]int, len(s.State.NPCInteractions))
	for k, v := range s.State.NPCInteractions {
		c.State.NPCInteractions[k] = v
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
