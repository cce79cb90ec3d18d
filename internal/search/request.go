package search

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/SNSTRUTHERS/fictionsource/internal/model"
	"github.com/SNSTRUTHERS/fictionsource/internal/query"
	"github.com/SNSTRUTHERS/fictionsource/internal/store"
)

// TagResolver resolves a tag query name ("#foo" or "type:foo") to an existing
// tag. Malformed names produce a *model.ValidationError, unknown tags
// store.ErrNotFound.
type TagResolver interface {
	Resolve(ctx context.Context, queryName string) (model.Tag, error)
}

// Request is the structured JSON search input. Every field is dynamically
// typed so validation can report a precise message per mismatched field
// instead of failing on decode.
type Request struct {
	Offset         any `json:"offset"`
	Count          any `json:"count"`
	SortBy         any `json:"sort_by"`
	Descending     any `json:"descending"`
	FilterRisque   any `json:"filter_risque"`
	IncludeTags    any `json:"include_tags"`
	ExcludeTags    any `json:"exclude_tags"`
	IncludeUsers   any `json:"include_users"`
	ExcludeUsers   any `json:"exclude_users"`
	IncludePhrases any `json:"include_phrases"`
	ExcludePhrases any `json:"exclude_phrases"`
}

// ParseRequest validates the dynamically-typed request and resolves its tag
// tokens strictly: a tag token that is malformed or names a nonexistent tag
// is a validation error here, unlike the lenient free-text path. All messages
// are collected before returning.
func ParseRequest(ctx context.Context, tags TagResolver, req Request) (Params, error) {
	var errs []string

	offset, ok := intField(req.Offset, 0)
	if !ok {
		errs = append(errs, "'offset' must be an integer.")
	}
	count, ok := intField(req.Count, DefaultCount)
	if !ok {
		errs = append(errs, "'count' must be an integer.")
	}

	sortBy := ""
	switch v := req.SortBy.(type) {
	case nil:
	case string:
		sortBy = v
	default:
		errs = append(errs, "'sort_by' must be a string.")
	}

	descending := true
	switch v := req.Descending.(type) {
	case nil:
	case bool:
		descending = v
	default:
		errs = append(errs, "'descending' must be a boolean.")
	}

	var filterRisque *bool
	switch v := req.FilterRisque.(type) {
	case nil:
	case bool:
		filterRisque = &v
	default:
		errs = append(errs, "'filter_risque' must be a boolean or null.")
	}

	var criteria query.Criteria
	criteria.IncludeTags = resolveTags(ctx, tags, "include_tags", req.IncludeTags, &errs)
	criteria.ExcludeTags = resolveTags(ctx, tags, "exclude_tags", req.ExcludeTags, &errs)
	criteria.IncludeUsers = stringSet("include_users", req.IncludeUsers, &errs)
	criteria.ExcludeUsers = stringSet("exclude_users", req.ExcludeUsers, &errs)
	criteria.IncludePhrases = stringSet("include_phrases", req.IncludePhrases, &errs)
	criteria.ExcludePhrases = stringSet("exclude_phrases", req.ExcludePhrases, &errs)

	if len(errs) > 0 {
		return Params{}, &model.ValidationError{Messages: errs}
	}

	return Params{
		Offset:       offset,
		Count:        count,
		SortBy:       sortBy,
		Descending:   descending,
		FilterRisque: filterRisque,
		Criteria:     criteria,
	}, nil
}

func resolveTags(ctx context.Context, tags TagResolver, field string, value any, errs *[]string) []int64 {
	names := stringSet(field, value, errs)
	var ids []int64
	seen := map[int64]bool{}
	for _, name := range names {
		tag, err := tags.Resolve(ctx, name)
		if err != nil {
			var verr *model.ValidationError
			if errors.As(err, &verr) {
				*errs = append(*errs, verr.Messages...)
			} else if errors.Is(err, store.ErrNotFound) {
				*errs = append(*errs, fmt.Sprintf("Unknown tag %q.", name))
			} else {
				*errs = append(*errs, fmt.Sprintf("Could not resolve tag %q.", name))
			}
			continue
		}
		if !seen[tag.ID] {
			seen[tag.ID] = true
			ids = append(ids, tag.ID)
		}
	}
	return ids
}

// stringSet coerces a dynamically-typed field into a deduplicated string
// slice, appending one message when the shape is wrong.
func stringSet(field string, value any, errs *[]string) []string {
	var raw []string
	switch v := value.(type) {
	case nil:
		return nil
	case []string:
		raw = v
	case []any:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				*errs = append(*errs, listError(field))
				return nil
			}
			raw = append(raw, s)
		}
	default:
		*errs = append(*errs, listError(field))
		return nil
	}

	seen := map[string]bool{}
	out := raw[:0]
	for _, s := range raw {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func listError(field string) string {
	return fmt.Sprintf("'%s' must be a list of strings.", field)
}

// intField accepts the integer shapes a decoded JSON value or a direct caller
// may produce.
func intField(value any, def int) (int, bool) {
	switch v := value.(type) {
	case nil:
		return def, true
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v == math.Trunc(v) {
			return int(v), true
		}
		return 0, false
	default:
		return 0, false
	}
}

// TruthyParam interprets the loose boolean forms the UI route accepts.
func TruthyParam(s string) bool {
	switch strings.ToLower(s) {
	case "true", "t", "y", "yes", "1":
		return true
	}
	return false
}
