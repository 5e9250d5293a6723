package provider

import (
	"fmt"
	"strings"

	"github.com/questforge/encounterd/pkg/types"
)

// historyLimit is how many completed encounters are quoted back to the model.
const historyLimit = 5

const encounterSchema = `{
  "id": "string",
  "title": "string",
  "description": "string",
  "objectives": [
    {
      "id": "string",
      "description": "string",
      "type": "collect" | "eliminate" | "interact" | "reach",
      "target": "string (optional)",
      "quantity": "integer > 0 (optional)",
      "completed": false
    }
  ],
  "npcs": [
    {
      "id": "string",
      "name": "string",
      "role": "string",
      "dialogue": [{"trigger": "string", "text": "string"}]
    }
  ],
  "rewards": [
    {"type": "currency" | "item" | "experience", "amount": "number > 0", "itemId": "string (required for item)"}
  ],
  "difficulty": "easy" | "medium" | "hard",
  "estimatedDuration": "number of minutes > 0"
}`

var encounterSystemPrompt = `You are a quest designer for a multiplayer role-playing game.
Design one self-contained encounter and answer with a single JSON object that matches this schema exactly:

` + encounterSchema + `

Rules:
- Respond with JSON only. No prose, no markdown.
- Every objective starts with "completed": false.
- Use at least one objective and at least one reward.
- Objective and NPC ids are unique within the encounter.`

const rewardSystemPrompt = `You balance loot for a multiplayer role-playing game.
Answer with a single JSON object of the form {"rewards": [{"type": "currency" | "item" | "experience", "amount": number, "itemId": "string (item only)"}]}.
Respond with JSON only.`

// complexity maps a difficulty level in [0.1, 1.0] to wording the model understands.
func complexity(level float64) string {
	switch {
	case level < 0.34:
		return "simple"
	case level < 0.67:
		return "moderately complex"
	default:
		return "intricate"
	}
}

func buildEncounterPrompt(req *types.EncounterRequest) string {
	var b strings.Builder

	difficulty := req.Difficulty
	if difficulty == "" {
		difficulty = types.DifficultyMedium
	}
	fmt.Fprintf(&b, "Create a %s encounter", difficulty)
	if req.DifficultyLevel != nil {
		fmt.Fprintf(&b, " with a %s structure (difficulty level %.2f)", complexity(*req.DifficultyLevel), *req.DifficultyLevel)
	}
	b.WriteString(".\n")

	if req.Theme != "" {
		fmt.Fprintf(&b, "Theme: %s\n", req.Theme)
	}

	if pc := req.PlayerContext; pc != nil {
		if pc.Level > 0 {
			fmt.Fprintf(&b, "Player level: %d\n", pc.Level)
		}
		if len(pc.Preferences) > 0 {
			fmt.Fprintf(&b, "Player preferences: %s\n", strings.Join(pc.Preferences, ", "))
		}
		if n := len(pc.CompletedEncounters); n > 0 {
			recent := pc.CompletedEncounters
			if n > historyLimit {
				recent = recent[n-historyLimit:]
			}
			fmt.Fprintf(&b, "Recently completed encounters (avoid repeating them): %s\n", strings.Join(recent, ", "))
		}
	}

	fmt.Fprintf(&b, "Set \"difficulty\" to %q.", difficulty)
	return b.String()
}

func buildRewardPrompt(req *types.RewardRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Encounter %s was completed at %s difficulty", req.EncounterID, req.Difficulty)
	if req.CompletionTime != nil {
		fmt.Fprintf(&b, " in %.0f seconds", *req.CompletionTime)
	}
	b.WriteString(".\n")
	if pc := req.PlayerContext; pc != nil && pc.Level > 0 {
		fmt.Fprintf(&b, "Player level: %d\n", pc.Level)
	}
	b.WriteString("Grant between one and three rewards proportionate to the effort.")
	return b.String()
}
