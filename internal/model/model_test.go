package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoryFlagDefaults(t *testing.T) {
	f := StoryDefaultFlags
	assert.True(t, f.Private())
	assert.False(t, f.Protected())
	assert.True(t, f.CanComment())
	assert.False(t, f.Risque())
}

func TestStoryFlagsWith(t *testing.T) {
	f := StoryDefaultFlags

	f = f.With(StoryPrivate, false)
	assert.False(t, f.Private())
	assert.True(t, f.CanComment(), "clearing one bit must not disturb the others")

	f = f.With(StoryRisque, true)
	assert.True(t, f.Risque())

	f = f.With(StoryRisque, true)
	assert.True(t, f.Risque(), "setting an already-set bit is a no-op")
}

func TestChapterSetTextForcesPrivate(t *testing.T) {
	c := Chapter{Flags: 0}
	c.SetText("![cover](http://example.com/img.png)")
	assert.True(t, c.Flags.Private(), "chapter with no rendered text must become private")

	c = Chapter{Flags: 0}
	c.SetText("An actual sentence.")
	assert.False(t, c.Flags.Private())
}

func TestChapterSetPrivate(t *testing.T) {
	c := Chapter{Flags: ChapterDefaultFlags}
	c.SetText("  ")
	assert.False(t, c.SetPrivate(false), "empty chapter cannot be published")
	assert.True(t, c.Flags.Private())

	c.SetText("Chapter one begins here.")
	assert.True(t, c.SetPrivate(false))
	assert.False(t, c.Flags.Private())

	assert.False(t, c.SetPrivate(false), "no change reports false")

	assert.True(t, c.SetPrivate(true))
	assert.True(t, c.Flags.Private())
}

func TestParseTagType(t *testing.T) {
	for i, name := range TagTypeNames() {
		got, ok := ParseTagType(name)
		require.True(t, ok, name)
		assert.Equal(t, TagType(i), got)
	}

	got, ok := ParseTagType("Genre")
	require.True(t, ok, "tag type names resolve case-insensitively")
	assert.Equal(t, TagGenre, got)

	_, ok = ParseTagType("user")
	assert.False(t, ok)
	_, ok = ParseTagType("")
	assert.False(t, ok)
}

func TestTagQueryName(t *testing.T) {
	assert.Equal(t, "#romance", Tag{Type: TagGeneric, Name: "romance"}.QueryName())
	assert.Equal(t, "genre:fantasy", Tag{Type: TagGenre, Name: "fantasy"}.QueryName())
	assert.Equal(t, "character:morgana", Tag{Type: TagCharacter, Name: "morgana"}.QueryName())
}

func TestIsValidUsername(t *testing.T) {
	valid := []string{"abc", "inkwell", "user_name", "Ökonom", "a.b-c"}
	for _, name := range valid {
		assert.True(t, IsValidUsername(name), name)
	}

	invalid := []string{
		"",
		"ab",
		"has space",
		"colon:name",
		"semi;name",
		"back`tick",
		"brace{name",
		"pipe|name",
		"tilde~name",
		"zero​width",
		"nbsp name",
		string(make([]rune, 33)),
	}
	for _, name := range invalid {
		assert.False(t, IsValidUsername(name), "%q", name)
	}

	long := make([]byte, 32)
	for i := range long {
		long[i] = 'a'
	}
	assert.True(t, IsValidUsername(string(long)), "32 runes is the inclusive maximum")
}

func TestIsValidTagName(t *testing.T) {
	valid := []string{"abc", "slow-burn", "found_family", "the.hollow.crown", "{curly}"}
	for _, name := range valid {
		assert.True(t, IsValidTagName(name), name)
	}

	invalid := []string{"", "ab", "has space", "with:colon", "q?mark", "at@sign", "br[acket"}
	for _, name := range invalid {
		assert.False(t, IsValidTagName(name), "%q", name)
	}

	long := make([]byte, 97)
	for i := range long {
		long[i] = 'a'
	}
	assert.False(t, IsValidTagName(string(long)))
	assert.True(t, IsValidTagName(string(long[:96])))
}

func TestReduceWhitespace(t *testing.T) {
	assert.Equal(t, "a b c", ReduceWhitespace("  a   b  c  "))
	assert.Equal(t, "", ReduceWhitespace("     "))
	assert.Equal(t, "one", ReduceWhitespace("one"))

	once := ReduceWhitespace("  hello   world ")
	assert.Equal(t, once, ReduceWhitespace(once), "reduction is idempotent")
}

func TestFilterText(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"plain text", "plain text"},
		{"![alt](http://x/y.png)", ""},
		{"see [the docs](http://x) here", "see the docs here"},
		{"${RED}warning${/}", "warning"},
		{"---", ""},
		{"* * *", ""},
		{"> quoted line", "quoted line"},
		{"- bullet item", "bullet item"},
		{"## Heading Two", "Heading Two"},
		{"# Title\nbody", "Title\nbody"},
		{"  \n\t ", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, FilterText(tc.in), "%q", tc.in)
	}
}

func TestStoryVisible(t *testing.T) {
	author := &User{ID: 1, Username: "inkwell"}
	reader := &User{ID: 2, Username: "quillheart"}
	matureReader := &User{ID: 3, Username: "nightscribe", AllowRisque: true}

	public := Story{AuthorID: 1, Flags: StoryCanComment}
	private := Story{AuthorID: 1, Flags: StoryDefaultFlags}
	protected := Story{AuthorID: 1, Flags: StoryProtected}
	risque := Story{AuthorID: 1, Flags: StoryRisque}

	assert.True(t, public.Visible(nil, false))
	assert.True(t, public.Visible(reader, false))

	assert.True(t, private.Visible(author, false), "authors see their own private stories")
	assert.False(t, private.Visible(reader, false))
	assert.False(t, private.Visible(nil, false))

	assert.False(t, protected.Visible(reader, false), "protected hides like private for third parties")
	assert.True(t, protected.Visible(author, false))

	assert.False(t, risque.Visible(nil, false))
	assert.False(t, risque.Visible(reader, false))
	assert.True(t, risque.Visible(matureReader, false))
	assert.True(t, risque.Visible(reader, true), "ignoreRisque lifts the maturity gate")
	assert.False(t, risque.Visible(author, false), "risque hides even from a non-opted-in author")
}

func TestStoryListableBy(t *testing.T) {
	author := &User{ID: 1}
	matureReader := &User{ID: 2, AllowRisque: true}

	private := Story{AuthorID: 1, Flags: StoryPrivate}
	assert.False(t, private.ListableBy(author), "own private stories never appear in listings")

	risque := Story{AuthorID: 1, Flags: StoryRisque}
	assert.False(t, risque.ListableBy(nil))
	assert.True(t, risque.ListableBy(matureReader))

	public := Story{AuthorID: 1}
	assert.True(t, public.ListableBy(nil))
}

func TestChapterVisible(t *testing.T) {
	author := &User{ID: 1}
	reader := &User{ID: 2}

	publicStory := Story{AuthorID: 1}
	privateStory := Story{AuthorID: 1, Flags: StoryPrivate}

	publicChapter := Chapter{Flags: 0}
	privateChapter := Chapter{Flags: ChapterPrivate}

	assert.True(t, publicChapter.Visible(&publicStory, reader, false))
	assert.False(t, privateChapter.Visible(&publicStory, reader, false))
	assert.False(t, publicChapter.Visible(&privateStory, reader, false), "hidden story hides its chapters")

	assert.True(t, privateChapter.Visible(&privateStory, author, false), "authors see every chapter of their own story")
	assert.False(t, publicChapter.Visible(&privateStory, nil, false))
}

func TestNowMillisecondPrecision(t *testing.T) {
	now := Now()
	assert.Zero(t, now.Nanosecond()%1_000_000)
	_, offset := now.Zone()
	assert.Zero(t, offset, "timestamps are UTC")
}
