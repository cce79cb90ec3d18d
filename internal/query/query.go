// Package query turns raw search text into a structured criteria set.
//
// The grammar is deliberately permissive: `!` negates the next token, quoted
// text forms a phrase, `#name` and `type:name` reference tags, `user:name`
// references an author, and any other word of three or more characters is a
// bare phrase. Malformed tokens contribute no filter instead of failing; the
// parser never reports an error for the input itself.
package query

import (
	"context"
	"errors"
	"strings"

	"github.com/SNSTRUTHERS/fictionsource/internal/model"
	"github.com/SNSTRUTHERS/fictionsource/internal/store"
)

// TagResolver looks up an existing tag by type and name. store.TagStore
// satisfies it.
type TagResolver interface {
	GetTag(ctx context.Context, ttype model.TagType, name string) (model.Tag, error)
}

// Criteria is the parsed output of a query string: five disjoint
// include/exclude sets. Slices carry set semantics; order is not meaningful.
type Criteria struct {
	IncludeTags    []int64
	ExcludeTags    []int64
	IncludeUsers   []string
	ExcludeUsers   []string
	IncludePhrases []string
	ExcludePhrases []string
}

// Empty reports whether no filter was produced at all.
func (c Criteria) Empty() bool {
	return len(c.IncludeTags) == 0 && len(c.ExcludeTags) == 0 &&
		len(c.IncludeUsers) == 0 && len(c.ExcludeUsers) == 0 &&
		len(c.IncludePhrases) == 0 && len(c.ExcludePhrases) == 0
}

type builder struct {
	criteria Criteria
	tags     [2]map[int64]bool
	users    [2]map[string]bool
	phrases  [2]map[string]bool
}

func idx(negate bool) int {
	if negate {
		return 1
	}
	return 0
}

func (b *builder) addTag(id int64, negate bool) {
	i := idx(negate)
	if b.tags[i] == nil {
		b.tags[i] = map[int64]bool{}
	}
	if b.tags[i][id] {
		return
	}
	b.tags[i][id] = true
	if negate {
		b.criteria.ExcludeTags = append(b.criteria.ExcludeTags, id)
	} else {
		b.criteria.IncludeTags = append(b.criteria.IncludeTags, id)
	}
}

func (b *builder) addUser(name string, negate bool) {
	i := idx(negate)
	if b.users[i] == nil {
		b.users[i] = map[string]bool{}
	}
	if b.users[i][name] {
		return
	}
	b.users[i][name] = true
	if negate {
		b.criteria.ExcludeUsers = append(b.criteria.ExcludeUsers, name)
	} else {
		b.criteria.IncludeUsers = append(b.criteria.IncludeUsers, name)
	}
}

func (b *builder) addPhrase(phrase string, negate bool) {
	i := idx(negate)
	if b.phrases[i] == nil {
		b.phrases[i] = map[string]bool{}
	}
	if b.phrases[i][phrase] {
		return
	}
	b.phrases[i][phrase] = true
	if negate {
		b.criteria.ExcludePhrases = append(b.criteria.ExcludePhrases, phrase)
	} else {
		b.criteria.IncludePhrases = append(b.criteria.IncludePhrases, phrase)
	}
}

// Parse tokenizes raw into a criteria set, resolving tag tokens through tags.
// Tokens naming tags that do not exist are dropped; the only returned errors
// are storage failures.
func Parse(ctx context.Context, tags TagResolver, raw string) (Criteria, error) {
	var b builder

	q := []rune(model.ReduceWhitespace(raw))
	negate := false
	i := 0

	for i < len(q) {
		switch {
		case q[i] == ' ':
			i++
			continue
		case q[i] == '!':
			negate = !negate
			i++
			continue
		case q[i] == '"':
			i++
			var text strings.Builder
			escape := false
			for i < len(q) {
				ch := q[i]
				i++
				if ch == '"' && !escape {
					break
				}
				if ch == '\\' && !escape {
					escape = true
					continue
				}
				text.WriteRune(ch)
				escape = false
			}
			if i < len(q) && q[i] == ' ' {
				i++
			}
			if phrase := text.String(); len([]rune(phrase)) >= 3 {
				b.addPhrase(phrase, negate)
			}
		default:
			var text strings.Builder
			for i < len(q) {
				ch := q[i]
				if ch == ' ' {
					i++
					break
				}
				if ch == '"' {
					// Push back for the next iteration.
					break
				}
				text.WriteRune(ch)
				i++
			}
			if err := b.classify(ctx, tags, text.String(), negate); err != nil {
				return Criteria{}, err
			}
		}
		negate = false
	}

	return b.criteria, nil
}

func (b *builder) classify(ctx context.Context, tags TagResolver, text string, negate bool) error {
	parts := strings.SplitN(text, ":", 2)

	switch {
	case len(parts) == 2 && parts[0] == "user":
		if model.IsValidUsername(parts[1]) {
			b.addUser(parts[1], negate)
		}
	case (len(parts) == 2 && parts[0] != "" && parts[1] != "") || strings.HasPrefix(text, "#"):
		ttype, name, ok := splitTagToken(text)
		if !ok {
			return nil
		}
		tag, err := tags.GetTag(ctx, ttype, name)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		b.addTag(tag.ID, negate)
	case len([]rune(text)) >= 3 && !strings.Contains(text, ":"):
		b.addPhrase(text, negate)
	}
	return nil
}

// splitTagToken validates a tag token and splits it into type and name.
// `#name` forces the generic type; `type:name` resolves the type
// case-insensitively.
func splitTagToken(text string) (model.TagType, string, bool) {
	text = strings.TrimPrefix(text, "#")
	parts := strings.SplitN(text, ":", 2)
	if len(parts) == 1 {
		if !model.IsValidTagName(parts[0]) {
			return 0, "", false
		}
		return model.TagGeneric, parts[0], true
	}
	ttype, ok := model.ParseTagType(parts[0])
	if !ok || !model.IsValidTagName(parts[1]) {
		return 0, "", false
	}
	return ttype, parts[1], true
}
