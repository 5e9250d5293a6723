// Package validation checks generated encounter content and request bodies.
//
// All checks are pure. Struct rules are expressed as go-playground/validator
// tags on pkg/types; rules that span fields (unique ids, item rewards needing
// an itemId, objectives starting incomplete) are applied afterwards.
package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/questforge/encounterd/internal/apperror"
	"github.com/questforge/encounterd/pkg/types"
)

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})
}

// Result is the outcome of validating a candidate encounter.
type Result struct {
	Valid  bool
	Data   *types.EncounterSpec
	Errors []string
}

// ValidateEncounterSpec validates a candidate encounter given as raw JSON,
// a decoded JSON object, or an EncounterSpec.
func ValidateEncounterSpec(candidate any) Result {
	spec, err := decode(candidate)
	if err != nil {
		return Result{Errors: []string{err.Error()}}
	}

	errs := structErrors(spec)
	errs = append(errs, encounterRules(spec)...)
	if len(errs) > 0 {
		return Result{Errors: errs}
	}
	return Result{Valid: true, Data: spec}
}

// ValidateRewards validates a reward list on its own, as returned by reward generation.
func ValidateRewards(rewards []types.Reward) []string {
	if len(rewards) == 0 {
		return []string{"rewards: must contain at least 1 item"}
	}
	var errs []string
	for i := range rewards {
		prefix := fmt.Sprintf("rewards[%d]", i)
		for _, e := range structErrors(&rewards[i]) {
			errs = append(errs, prefix+"."+e)
		}
	}
	return append(errs, rewardRules(rewards)...)
}

// Struct validates a request body and returns a VALIDATION_ERROR listing every failing field.
func Struct(v any) error {
	errs := structErrors(v)
	if len(errs) == 0 {
		return nil
	}
	return apperror.Validation("invalid request: %s", strings.Join(errs, "; ")).
		WithDetails(map[string]any{"fields": errs})
}

func decode(candidate any) (*types.EncounterSpec, error) {
	switch c := candidate.(type) {
	case nil:
		return nil, errors.New("encounter: missing")
	case *types.EncounterSpec:
		if c == nil {
			return nil, errors.New("encounter: missing")
		}
		return c.Clone(), nil
	case types.EncounterSpec:
		return c.Clone(), nil
	case []byte:
		return decodeJSON(c)
	case string:
		return decodeJSON([]byte(c))
	case json.RawMessage:
		return decodeJSON(c)
	case map[string]any:
		raw, err := json.Marshal(c)
		if err != nil {
			return nil, fmt.Errorf("encounter: %w", err)
		}
		return decodeJSON(raw)
	default:
		return nil, fmt.Errorf("encounter: unsupported candidate type %T", candidate)
	}
}

func decodeJSON(raw []byte) (*types.EncounterSpec, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, errors.New("encounter: expected a JSON object")
	}
	var spec types.EncounterSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		var te *json.UnmarshalTypeError
		if errors.As(err, &te) && te.Field != "" {
			return nil, fmt.Errorf("%s: must be a %s", te.Field, te.Type.Kind())
		}
		return nil, fmt.Errorf("encounter: %w", err)
	}
	return &spec, nil
}

func structErrors(v any) []string {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, fieldPath(fe)+": "+describe(fe))
	}
	return out
}

// fieldPath drops the root struct name from the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %q", strings.ReplaceAll(fe.Param(), " ", ", "), fmt.Sprint(fe.Value()))
	case "min":
		return fmt.Sprintf("must contain at least %s item(s)", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}

func encounterRules(spec *types.EncounterSpec) []string {
	var errs []string

	seen := make(map[string]bool, len(spec.Objectives))
	for i, o := range spec.Objectives {
		if o.Completed {
			errs = append(errs, fmt.Sprintf("objectives[%d].completed: must be false for a new encounter", i))
		}
		if o.ID == "" {
			continue
		}
		if seen[o.ID] {
			errs = append(errs, fmt.Sprintf("objectives[%d].id: duplicate id %q", i, o.ID))
		}
		seen[o.ID] = true
	}

	npcs := make(map[string]bool, len(spec.NPCs))
	for i, n := range spec.NPCs {
		if n.ID == "" {
			continue
		}
		if npcs[n.ID] {
			errs = append(errs, fmt.Sprintf("npcs[%d].id: duplicate id %q", i, n.ID))
		}
		npcs[n.ID] = true
	}

	return append(errs, rewardRules(spec.Rewards)...)
}

func rewardRules(rewards []types.Reward) []string {
	var errs []string
	for i, r := range rewards {
		if r.Type == types.RewardItem && strings.TrimSpace(r.ItemID) == "" {
			errs = append(errs, fmt.Sprintf("rewards[%d].itemId: is required for item rewards", i))
		}
	}
	return errs
}
