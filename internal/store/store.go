package store

import (
	"context"
	"errors"

	"github.com/SNSTRUTHERS/fictionsource/internal/model"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrTagExists  = errors.New("tag already exists")
	ErrUserExists = errors.New("user already exists")
)

// SearchPlan is the compiled form of one search request: the base visibility
// filter plus every criteria predicate, ready for a backend to evaluate in a
// single pass. The assembler builds it; the store compiles it into SQL and
// returns the full ordered id set, which the assembler then windows.
type SearchPlan struct {
	// AllowRisque lifts the base risque exclusion applied to every listing.
	AllowRisque bool
	// FilterRisque is an additional tri-state maturity filter on top of the
	// base exclusion: true keeps only non-risque stories, false keeps only
	// risque stories, nil applies nothing.
	FilterRisque *bool

	IncludeTags []int64
	ExcludeTags []int64

	IncludeUsers []string
	ExcludeUsers []string

	IncludePhrases []string
	ExcludePhrases []string

	SortBy     string // one of modified, posted, favorites, follows
	Descending bool
}

// TagSuggestOpts narrows a tag suggestion query.
type TagSuggestOpts struct {
	// Fragment is matched case-insensitively as a substring of tag names.
	// Empty matches everything.
	Fragment string
	// Type restricts results to one tag type when non-nil.
	Type *model.TagType
	// Exclude removes specific tag ids from the results.
	Exclude []int64
	Limit   int
}

// TagCount pairs a tag with the number of stories carrying it.
type TagCount struct {
	Tag     model.Tag
	Stories int
}

type Store interface {
	UserStore
	StoryStore
	ChapterStore
	TagStore
	SearchStore
	Close() error
}

type UserStore interface {
	CreateUser(ctx context.Context, user *model.User) (int64, error)
	GetUserByName(ctx context.Context, username string) (model.User, error)
}

type StoryStore interface {
	CreateStory(ctx context.Context, story *model.Story) (int64, error)
	GetStory(ctx context.Context, id int64) (model.Story, error)
	UpdateStoryFlags(ctx context.Context, id int64, flags model.StoryFlags) error
	// ListVisibleStoriesByAuthor returns the author's publicly listable
	// stories, newest modified first. The author's own private stories are
	// deliberately excluded even when the author is the viewer.
	ListVisibleStoriesByAuthor(ctx context.Context, authorID int64, allowRisque bool) ([]model.Story, error)
	ListVisibleStoriesByTag(ctx context.Context, tagID int64, allowRisque bool) ([]model.Story, error)
	FavoriteStory(ctx context.Context, userID, storyID int64) error
	FollowStory(ctx context.Context, userID, storyID int64) error
	AddStoryTag(ctx context.Context, storyID, tagID int64) error
	ListStoryTags(ctx context.Context, storyID int64) ([]model.Tag, error)
}

type ChapterStore interface {
	CreateChapter(ctx context.Context, chapter *model.Chapter) (int64, error)
	ListChapters(ctx context.Context, storyID int64) ([]model.Chapter, error)
	UpdateChapter(ctx context.Context, chapter *model.Chapter) error
}

type TagStore interface {
	GetTag(ctx context.Context, ttype model.TagType, name string) (model.Tag, error)
	CreateTag(ctx context.Context, ttype model.TagType, name string) (model.Tag, error)
	SuggestTags(ctx context.Context, opts TagSuggestOpts) ([]TagCount, error)
}

type SearchStore interface {
	// SearchStories evaluates the plan and returns the ids of every matching
	// story, fully sorted and deduplicated. Windowing happens in the caller
	// so pagination bounds stay consistent across page requests.
	SearchStories(ctx context.Context, plan SearchPlan) ([]int64, error)
}
