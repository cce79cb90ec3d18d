// Package search assembles filtered, sorted, paginated story results. It
// validates a request, compiles it into a store.SearchPlan, and windows the
// ordered id set the store returns. The engine holds no state between
// requests; pagination bounds are recomputed from scratch every time.
package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/SNSTRUTHERS/fictionsource/internal/model"
	"github.com/SNSTRUTHERS/fictionsource/internal/query"
	"github.com/SNSTRUTHERS/fictionsource/internal/store"
)

// DefaultCount is the page size used when a request does not specify one.
const DefaultCount = 25

// SortKeys lists the valid sort_by values. The zero value of Params sorts by
// the first entry.
func SortKeys() []string {
	return []string{"modified", "posted", "favorites", "follows"}
}

// Params is one fully-resolved search request.
type Params struct {
	Offset     int
	Count      int
	SortBy     string
	Descending bool
	// FilterRisque is tri-state: true excludes risque stories, false returns
	// only risque stories, nil applies no maturity filter beyond the
	// viewer-based one.
	FilterRisque *bool
	Criteria     query.Criteria
}

// Result is one search window plus its pagination metadata. Start and End are
// 1-based inclusive bounds of the returned slice within the full result set;
// both are 0 when NumResults is 0.
type Result struct {
	Stories    []int64 `json:"results"`
	NumResults int     `json:"num_results"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
}

type Engine struct {
	store store.SearchStore
}

func New(st store.SearchStore) *Engine {
	return &Engine{store: st}
}

// Search runs one search for viewer. Invalid parameters produce a
// *model.ValidationError carrying every violated constraint; a valid query
// with no matches is a Result with NumResults 0, never an error.
func (e *Engine) Search(ctx context.Context, viewer *model.User, p Params) (Result, error) {
	var errs []string

	if p.Offset < 0 {
		errs = append(errs, "'offset' must be greater than zero.")
	}
	if p.Count < 1 {
		errs = append(errs, "'count' must be greater than 1.")
	}

	sortBy := p.SortBy
	if sortBy == "" {
		sortBy = "modified"
	} else if !validSortKey(sortBy) {
		errs = append(errs, "'sort_by' must be one of: "+strings.Join(SortKeys(), ", ")+".")
	}

	errs = append(errs, checkUsernames("include_users", p.Criteria.IncludeUsers)...)
	errs = append(errs, checkUsernames("exclude_users", p.Criteria.ExcludeUsers)...)
	errs = append(errs, checkPhrases("include_phrases", p.Criteria.IncludePhrases)...)
	errs = append(errs, checkPhrases("exclude_phrases", p.Criteria.ExcludePhrases)...)

	if len(errs) > 0 {
		return Result{}, &model.ValidationError{Messages: errs}
	}

	plan := store.SearchPlan{
		AllowRisque:    viewer != nil && viewer.AllowRisque,
		FilterRisque:   p.FilterRisque,
		IncludeTags:    p.Criteria.IncludeTags,
		ExcludeTags:    p.Criteria.ExcludeTags,
		IncludeUsers:   p.Criteria.IncludeUsers,
		ExcludeUsers:   p.Criteria.ExcludeUsers,
		IncludePhrases: p.Criteria.IncludePhrases,
		ExcludePhrases: p.Criteria.ExcludePhrases,
		SortBy:         sortBy,
		Descending:     p.Descending,
	}

	ids, err := e.store.SearchStories(ctx, plan)
	if err != nil {
		return Result{}, fmt.Errorf("search stories: %w", err)
	}

	return window(ids, p.Offset, p.Count), nil
}

// window slices the full ordered id set into one page. An offset past the end
// is clamped to the last result rather than treated as an error.
func window(ids []int64, offset, count int) Result {
	num := len(ids)

	sliceStart := offset
	if num == 0 {
		sliceStart = 0
	} else if sliceStart > num-1 {
		sliceStart = num - 1
	}
	sliceEnd := offset + count
	if sliceEnd > num {
		sliceEnd = num
	}
	if sliceEnd < sliceStart {
		sliceEnd = sliceStart
	}

	r := Result{
		Stories:    ids[sliceStart:sliceEnd],
		NumResults: num,
		Start:      offset + 1,
		End:        offset + count,
	}
	if r.Start > num {
		r.Start = num
	}
	if r.End > num {
		r.End = num
	}
	return r
}

func validSortKey(key string) bool {
	for _, k := range SortKeys() {
		if k == key {
			return true
		}
	}
	return false
}

func checkUsernames(field string, names []string) []string {
	for _, name := range names {
		if !model.IsValidUsername(name) {
			return []string{fmt.Sprintf("Items in '%s' must be valid usernames.", field)}
		}
	}
	return nil
}

func checkPhrases(field string, phrases []string) []string {
	for _, phrase := range phrases {
		if len([]rune(phrase)) < 3 {
			return []string{fmt.Sprintf("Items in '%s' must be at least 3 characters long.", field)}
		}
	}
	return nil
}
