// Package types provides the core data types shared by the gateway and the session engine.
package types

// ObjectiveType is the kind of an encounter objective.
type ObjectiveType string

const (
	ObjectiveCollect   ObjectiveType = "collect"
	ObjectiveEliminate ObjectiveType = "eliminate"
	ObjectiveInteract  ObjectiveType = "interact"
	ObjectiveReach     ObjectiveType = "reach"
)

// ObjectiveTypes lists every accepted objective type.
var ObjectiveTypes = []ObjectiveType{ObjectiveCollect, ObjectiveEliminate, ObjectiveInteract, ObjectiveReach}

// RewardType is the kind of a reward.
type RewardType string

const (
	RewardCurrency   RewardType = "currency"
	RewardItem       RewardType = "item"
	RewardExperience RewardType = "experience"
)

// RewardTypes lists every accepted reward type.
var RewardTypes = []RewardType{RewardCurrency, RewardItem, RewardExperience}

// Difficulty is the coarse difficulty of an encounter.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Difficulties lists every accepted difficulty.
var Difficulties = []Difficulty{DifficultyEasy, DifficultyMedium, DifficultyHard}

// Valid reports whether d is one of the closed set of difficulties.
func (d Difficulty) Valid() bool {
	for _, v := range Difficulties {
		if d == v {
			return true
		}
	}
	return false
}

// Valid reports whether t is one of the closed set of objective types.
func (t ObjectiveType) Valid() bool {
	for _, v := range ObjectiveTypes {
		if t == v {
			return true
		}
	}
	return false
}

// Valid reports whether t is one of the closed set of reward types.
func (t RewardType) Valid() bool {
	for _, v := range RewardTypes {
		if t == v {
			return true
		}
	}
	return false
}

// EncounterSpec is a generated mission unit.
type EncounterSpec struct {
	ID                string      `json:"id" validate:"required"`
	Title             string      `json:"title" validate:"required"`
	Description       string      `json:"description" validate:"required"`
	Objectives        []Objective `json:"objectives" validate:"min=1,dive"`
	NPCs              []NPC       `json:"npcs" validate:"dive"`
	Rewards           []Reward    `json:"rewards" validate:"min=1,dive"`
	Difficulty        Difficulty  `json:"difficulty" validate:"oneof=easy medium hard"`
	EstimatedDuration float64     `json:"estimatedDuration" validate:"gt=0"`
}

// Objective is a single goal inside an encounter.
type Objective struct {
	ID          string        `json:"id" validate:"required"`
	Description string        `json:"description" validate:"required"`
	Type        ObjectiveType `json:"type" validate:"oneof=collect eliminate interact reach"`
	Target      string        `json:"target,omitempty"`
	Quantity    *int          `json:"quantity,omitempty" validate:"omitempty,gt=0"`
	Completed   bool          `json:"completed"`
}

// NPC is a non-player character taking part in an encounter.
type NPC struct {
	ID       string         `json:"id" validate:"required"`
	Name     string         `json:"name" validate:"required"`
	Role     string         `json:"role"`
	Dialogue []DialogueLine `json:"dialogue" validate:"dive"`
}

// DialogueLine is one NPC line spoken when its trigger fires.
type DialogueLine struct {
	Trigger string `json:"trigger" validate:"required"`
	Text    string `json:"text" validate:"required"`
}

// Reward is granted when an encounter completes.
type Reward struct {
	Type   RewardType `json:"type" validate:"oneof=currency item experience"`
	Amount float64    `json:"amount" validate:"gt=0"`
	ItemID string     `json:"itemId,omitempty"`
}

// ObjectiveIndex returns the position of the objective with the given id, or -1.
func (e *EncounterSpec) ObjectiveIndex(id string) int {
	for i := range e.Objectives {
		if e.Objectives[i].ID == id {
			return i
		}
	}
	return -1
}

// HasNPC reports whether the encounter contains an NPC with the given id.
func (e *EncounterSpec) HasNPC(id string) bool {
	for i := range e.NPCs {
		if e.NPCs[i].ID == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the encounter.
func (e *EncounterSpec) Clone() *EncounterSpec {
	if e == nil {
		return nil
	}
	c := *e
	c.Objectives = make([]Objective, len(e.Objectives))
	for i, o := range e.Objectives {
		if o.Quantity != nil {
			q := *o.Quantity
			o.Quantity = &q
		}
		c.Objectives[i] = o
	}
	c.NPCs = make([]NPC, len(e.NPCs))
	for i, n := range e.NPCs {
		n.Dialogue = append([]DialogueLine(nil), n.Dialogue...)
		c.NPCs[i] = n
	}
	c.Rewards = append([]Reward(nil), e.Rewards...)
	return &c
}
