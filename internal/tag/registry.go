// Package tag resolves, validates, and creates tags, and backs the tag
// suggestion API. The registry only checks shape and uniqueness; who may
// create which tag type is the calling API's concern.
package tag

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/SNSTRUTHERS/fictionsource/internal/model"
	"github.com/SNSTRUTHERS/fictionsource/internal/store"
)

type Registry struct {
	store store.TagStore
}

func NewRegistry(st store.TagStore) *Registry {
	return &Registry{store: st}
}

// ParseQueryName splits a tag query name ("#name" or "type:name") into its
// type and name, reporting every shape violation at once.
func ParseQueryName(queryName string) (model.TagType, string, error) {
	var errs []string

	ttype := model.TagGeneric
	name := queryName
	switch {
	case strings.HasPrefix(queryName, "#"):
		name = queryName[1:]
	case strings.Contains(queryName, ":"):
		parts := strings.SplitN(queryName, ":", 2)
		t, ok := model.ParseTagType(parts[0])
		if !ok {
			errs = append(errs, fmt.Sprintf("Invalid tag type %q.", parts[0]))
		}
		ttype = t
		name = parts[1]
	default:
		errs = append(errs, "No tag type provided.")
	}

	n := len([]rune(name))
	switch {
	case n < model.TagNameMinLength:
		errs = append(errs, fmt.Sprintf("Tag name must be at least %d characters long.", model.TagNameMinLength))
	case n > model.TagNameMaxLength:
		errs = append(errs, fmt.Sprintf("Tag name must not be greater than %d characters in length.", model.TagNameMaxLength))
	case !model.IsValidTagName(name):
		errs = append(errs, fmt.Sprintf("Invalid tag name %q.", name))
	}

	if len(errs) > 0 {
		return 0, "", &model.ValidationError{Messages: errs}
	}
	return ttype, name, nil
}

// Resolve looks up an existing tag by query name. Malformed names return a
// *model.ValidationError; a well-formed name with no tag behind it returns
// store.ErrNotFound.
func (r *Registry) Resolve(ctx context.Context, queryName string) (model.Tag, error) {
	ttype, name, err := ParseQueryName(queryName)
	if err != nil {
		return model.Tag{}, err
	}
	return r.store.GetTag(ctx, ttype, name)
}

// Create validates and registers a new (type, name) pair. The store's unique
// constraint is the authoritative guard against creation races; a violation
// surfaces as store.ErrTagExists, which callers treat as recoverable.
func (r *Registry) Create(ctx context.Context, typeName, name string) (model.Tag, error) {
	var errs []string

	ttype, ok := model.ParseTagType(typeName)
	if !ok {
		errs = append(errs, "Invalid tag type.")
	}
	if !model.IsValidTagName(name) {
		errs = append(errs, "Invalid tag name.")
	}
	if len(errs) > 0 {
		return model.Tag{}, &model.ValidationError{Messages: errs}
	}

	return r.store.CreateTag(ctx, ttype, name)
}

// Suggestion is one tag suggestion result. Stories is nil when the entry is a
// tag type name rather than a concrete tag.
type Suggestion struct {
	Name    string `json:"name"`
	Stories *int   `json:"stories"`
}

// Suggest ranks tags matching the fragment. A bare fragment first matches tag
// type names (alphabetical, no story count) and then tag names of any type;
// a "#" or "type:" prefix restricts to that type. An unknown "type:" prefix
// yields an empty result, not an error. Concrete tags are ordered by
// descending story count with ties broken by tag id.
func (r *Registry) Suggest(ctx context.Context, fragment string, count int, exclude []int64) ([]Suggestion, error) {
	frag := strings.ToLower(fragment)

	var results []Suggestion
	var ttype *model.TagType

	switch {
	case !strings.HasPrefix(frag, "#") && !strings.Contains(frag, ":"):
		var names []string
		for _, name := range model.TagTypeNames() {
			if strings.Contains(name, frag) {
				names = append(names, name)
			}
		}
		sort.Strings(names)
		if len(names) > count {
			names = names[:count]
		}
		for _, name := range names {
			results = append(results, Suggestion{Name: name})
		}
	case strings.HasPrefix(frag, "#"):
		frag = frag[1:]
		generic := model.TagGeneric
		ttype = &generic
	default:
		parts := strings.SplitN(frag, ":", 2)
		t, ok := model.ParseTagType(parts[0])
		if !ok {
			return results, nil
		}
		ttype = &t
		frag = parts[1]
	}

	matches, err := r.store.SuggestTags(ctx, store.TagSuggestOpts{
		Fragment: frag,
		Type:     ttype,
		Exclude:  exclude,
		Limit:    count - len(results),
	})
	if err != nil {
		return nil, err
	}
	for _, match := range matches {
		stories := match.Stories
		results = append(results, Suggestion{Name: match.Tag.QueryName(), Stories: &stories})
	}
	return results, nil
}
