package provider

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/questforge/encounterd/internal/apperror"
	"github.com/questforge/encounterd/pkg/types"
)

// ParseError reports model output that is not the JSON we asked for.
type ParseError struct {
	Provider string
	Reason   string
	Snippet  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: unparseable model output: %s", e.Provider, e.Reason)
}

// AppErrorKind classifies bad model output as an upstream failure.
func (e *ParseError) AppErrorKind() apperror.Kind { return apperror.KindUpstream }

// GenerationError reports well-formed output that failed validation.
type GenerationError struct {
	Provider string
	Fields   []string
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s: generated content failed validation: %s", e.Provider, strings.Join(e.Fields, "; "))
}

// AppErrorKind classifies invalid generated content as an upstream failure.
func (e *GenerationError) AppErrorKind() apperror.Kind { return apperror.KindUpstream }

const snippetLen = 200

func snippet(s string) string {
	if len(s) > snippetLen {
		return s[:snippetLen] + "..."
	}
	return s
}

// extractJSON returns the first balanced JSON value in text that opens with
// one of openers, ignoring markdown fences and surrounding prose.
func extractJSON(text, openers string) (string, bool) {
	start := strings.IndexAny(text, openers)
	if start < 0 {
		return "", false
	}
	openCh, closeCh := text[start], byte('}')
	if openCh == '[' {
		closeCh = ']'
	}

	depth := 0
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case openCh:
			depth++
		case closeCh:
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// parseEncounter decodes model output and fills ids the model left out.
func parseEncounter(providerID, text string, req *types.EncounterRequest) (*types.EncounterSpec, error) {
	raw, ok := extractJSON(text, "{")
	if !ok {
		return nil, &ParseError{Provider: providerID, Reason: "no JSON object found", Snippet: snippet(text)}
	}

	var spec types.EncounterSpec
	if err := json.Unmarshal([]byte(raw), &spec); err != nil {
		return nil, &ParseError{Provider: providerID, Reason: err.Error(), Snippet: snippet(raw)}
	}

	if spec.ID == "" {
		spec.ID = "enc_" + uuid.NewString()
	}
	for i := range spec.Objectives {
		if spec.Objectives[i].ID == "" {
			spec.Objectives[i].ID = fmt.Sprintf("obj_%d", i+1)
		}
	}
	for i := range spec.NPCs {
		if spec.NPCs[i].ID == "" {
			spec.NPCs[i].ID = fmt.Sprintf("npc_%d", i+1)
		}
	}
	if spec.Difficulty == "" && req != nil && req.Difficulty != "" {
		spec.Difficulty = req.Difficulty
	}
	return &spec, nil
}

// parseRewards accepts either {"rewards": [...]} or a bare array.
func parseRewards(providerID, text string) ([]types.Reward, error) {
	raw, ok := extractJSON(text, "{[")
	if !ok {
		return nil, &ParseError{Provider: providerID, Reason: "no JSON found", Snippet: snippet(text)}
	}

	var rewards []types.Reward
	if raw[0] == '[' {
		if err := json.Unmarshal([]byte(raw), &rewards); err != nil {
			return nil, &ParseError{Provider: providerID, Reason: err.Error(), Snippet: snippet(raw)}
		}
		return rewards, nil
	}

	var resp types.RewardResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, &ParseError{Provider: providerID, Reason: err.Error(), Snippet: snippet(raw)}
	}
	return resp.Rewards, nil
}
