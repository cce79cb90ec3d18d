package model

import (
	"fmt"
	"strings"
	"time"
)

// StoryFlags is the 4-bit flag set carried by every story.
type StoryFlags uint8

const (
	StoryPrivate    StoryFlags = 1 << 0
	StoryProtected  StoryFlags = 1 << 1
	StoryCanComment StoryFlags = 1 << 2
	StoryRisque     StoryFlags = 1 << 3

	// New stories start private with comments enabled.
	StoryDefaultFlags = StoryPrivate | StoryCanComment
)

func (f StoryFlags) Private() bool    { return f&StoryPrivate != 0 }
func (f StoryFlags) Protected() bool  { return f&StoryProtected != 0 }
func (f StoryFlags) CanComment() bool { return f&StoryCanComment != 0 }
func (f StoryFlags) Risque() bool     { return f&StoryRisque != 0 }

func (f StoryFlags) With(bit StoryFlags, on bool) StoryFlags {
	if on {
		return f | bit
	}
	return f &^ bit
}

// ChapterFlags is the 2-bit flag set carried by every chapter.
type ChapterFlags uint8

const (
	ChapterPrivate   ChapterFlags = 1 << 0
	ChapterProtected ChapterFlags = 1 << 1

	ChapterDefaultFlags = ChapterPrivate
)

func (f ChapterFlags) Private() bool   { return f&ChapterPrivate != 0 }
func (f ChapterFlags) Protected() bool { return f&ChapterProtected != 0 }

func (f ChapterFlags) With(bit ChapterFlags, on bool) ChapterFlags {
	if on {
		return f | bit
	}
	return f &^ bit
}

type User struct {
	ID          int64
	Username    string
	Joined      time.Time
	AllowRisque bool
	IsModerator bool
}

type Story struct {
	ID        int64
	AuthorID  int64
	Author    string
	Title     string
	Summary   string
	Flags     StoryFlags
	Posted    time.Time
	Modified  time.Time
	Favorites int
	Follows   int
}

type Chapter struct {
	ID          int64
	StoryID     int64
	Name        string
	AuthorNotes string
	Index       int
	Flags       ChapterFlags
	Text        string
	Posted      time.Time
	Modified    time.Time
}

// SetText replaces the chapter body. A chapter whose rendered text is empty is
// forced private; it only becomes publishable again once it has content.
func (c *Chapter) SetText(text string) {
	c.Text = strings.TrimSpace(text)
	if FilterText(c.Text) == "" {
		c.Flags |= ChapterPrivate
	}
}

// SetPrivate toggles the private bit. Clearing it is refused while the
// rendered text is empty. The returned bool reports whether the flag changed.
func (c *Chapter) SetPrivate(private bool) bool {
	if !private && FilterText(c.Text) == "" {
		return false
	}
	if c.Flags.Private() == private {
		return false
	}
	c.Flags = c.Flags.With(ChapterPrivate, private)
	return true
}

// TagType classifies a tag. Generic tags render as #name in query strings; all
// other types render as type:name.
type TagType int

const (
	TagGeneric TagType = iota
	TagGenre
	TagCategory
	TagCharacter
	TagSeries
)

var tagTypeNames = []string{"generic", "genre", "category", "character", "series"}

func (t TagType) String() string {
	if t < 0 || int(t) >= len(tagTypeNames) {
		return fmt.Sprintf("tagtype(%d)", int(t))
	}
	return tagTypeNames[int(t)]
}

// TagTypeNames returns all valid tag type names in declaration order.
func TagTypeNames() []string {
	names := make([]string, len(tagTypeNames))
	copy(names, tagTypeNames)
	return names
}

// ParseTagType resolves a tag type name case-insensitively.
func ParseTagType(name string) (TagType, bool) {
	lower := strings.ToLower(name)
	for i, n := range tagTypeNames {
		if n == lower {
			return TagType(i), true
		}
	}
	return 0, false
}

type Tag struct {
	ID   int64
	Type TagType
	Name string
}

// QueryName returns the form of the tag used in search query strings.
func (t Tag) QueryName() string {
	if t.Type == TagGeneric {
		return "#" + t.Name
	}
	return t.Type.String() + ":" + t.Name
}

// Now returns the current UTC time at millisecond precision, the resolution
// posted/modified timestamps are stored at.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
