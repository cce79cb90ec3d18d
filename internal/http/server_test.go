package httpapp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SNSTRUTHERS/fictionsource/internal/config"
	"github.com/SNSTRUTHERS/fictionsource/internal/model"
	"github.com/SNSTRUTHERS/fictionsource/internal/store/sqlite"
)

type fixture struct {
	server *Server
	store  *sqlite.Store

	romanceID int64
	publicID  int64
	privateID int64
	risqueID  int64
}

// newFixture builds a server over a seeded in-memory database:
// inkwell authors a public story (tagged #romance), a private story, and a
// public risque story; quillheart has opted into mature content, paperlantern
// has not.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	st, err := sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	f := &fixture{
		store:  st,
		server: NewServer(st, config.Config{Addr: ":0", SearchCount: 25}),
	}

	inkwell, err := st.CreateUser(ctx, &model.User{Username: "inkwell", Joined: model.Now()})
	require.NoError(t, err)
	_, err = st.CreateUser(ctx, &model.User{Username: "quillheart", Joined: model.Now(), AllowRisque: true})
	require.NoError(t, err)
	_, err = st.CreateUser(ctx, &model.User{Username: "paperlantern", Joined: model.Now()})
	require.NoError(t, err)

	romance, err := st.CreateTag(ctx, model.TagGeneric, "romance")
	require.NoError(t, err)
	f.romanceID = romance.ID

	newStory := func(title string, flags model.StoryFlags) int64 {
		now := model.Now()
		id, err := st.CreateStory(ctx, &model.Story{
			AuthorID: inkwell,
			Title:    title,
			Summary:  "about " + title,
			Flags:    flags,
			Posted:   now,
			Modified: now,
		})
		require.NoError(t, err)
		now = model.Now()
		_, err = st.CreateChapter(ctx, &model.Chapter{
			StoryID:  id,
			Index:    1,
			Text:     "The first chapter of " + title + ".",
			Posted:   now,
			Modified: now,
		})
		require.NoError(t, err)
		return id
	}

	f.publicID = newStory("Signal to Noise", model.StoryCanComment)
	f.privateID = newStory("Unfinished Drafts", model.StoryDefaultFlags)
	f.risqueID = newStory("Ash and Appetite", model.StoryCanComment|model.StoryRisque)

	require.NoError(t, st.AddStoryTag(ctx, f.publicID, romance.ID))

	return f
}

func (f *fixture) do(t *testing.T, method, target, username string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(encoded))
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, target, reader)
	if username != "" {
		req.Header.Set("X-Username", username)
	}
	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, req)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	return payload
}

func resultIDs(t *testing.T, payload map[string]any, key string) []int64 {
	t.Helper()
	raw, ok := payload[key].([]any)
	require.True(t, ok, "%s is not a list: %v", key, payload)
	ids := make([]int64, 0, len(raw))
	for _, item := range raw {
		switch v := item.(type) {
		case float64:
			ids = append(ids, int64(v))
		case map[string]any:
			ids = append(ids, int64(v["id"].(float64)))
		default:
			t.Fatalf("unexpected result entry %T", item)
		}
	}
	return ids
}

func errorMessages(t *testing.T, w *httptest.ResponseRecorder) []string {
	t.Helper()
	payload := decodeJSON(t, w)
	raw, ok := payload["errors"].([]any)
	require.True(t, ok, "no errors field: %v", payload)
	msgs := make([]string, len(raw))
	for i, m := range raw {
		msgs[i] = m.(string)
	}
	return msgs
}

func TestSearchPageAnonymous(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/search", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	payload := decodeJSON(t, w)
	ids := resultIDs(t, payload, "results")
	assert.Equal(t, []int64{f.publicID}, ids, "anonymous viewers see only public non-risque stories")
	assert.EqualValues(t, 1, payload["num_results"])
	assert.EqualValues(t, 1, payload["start"])
	assert.EqualValues(t, 1, payload["end"])
	assert.Nil(t, payload["prev"])
	assert.Nil(t, payload["next"])
}

func TestSearchPageRisqueViewer(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/search?sort_by=posted&descending=0", "quillheart", nil)
	require.Equal(t, http.StatusOK, w.Code)

	ids := resultIDs(t, decodeJSON(t, w), "results")
	assert.Equal(t, []int64{f.publicID, f.risqueID}, ids)
}

func TestSearchPageForcesRisqueFilter(t *testing.T) {
	f := newFixture(t)

	// filter_risque=0 asks for risque-only results, but a viewer who has not
	// opted in gets the filter forced back on.
	w := f.do(t, http.MethodGet, "/search?filter_risque=0", "paperlantern", nil)
	require.Equal(t, http.StatusOK, w.Code)

	ids := resultIDs(t, decodeJSON(t, w), "results")
	assert.Equal(t, []int64{f.publicID}, ids)
}

func TestSearchPageLenientCoercion(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/search?offset=bogus&count=-5&sort_by=nonsense", "", nil)
	require.Equal(t, http.StatusOK, w.Code, "the search page never rejects sloppy parameters")

	payload := decodeJSON(t, w)
	assert.EqualValues(t, 1, payload["num_results"])
}

func TestSearchPageFreeTextQuery(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/search?q=%23romance", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	ids := resultIDs(t, decodeJSON(t, w), "results")
	assert.Equal(t, []int64{f.publicID}, ids)

	w = f.do(t, http.MethodGet, "/search?q=%21%23romance", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	ids = resultIDs(t, decodeJSON(t, w), "results")
	assert.Empty(t, ids, "excluding the only public story's tag leaves nothing")
}

func TestSearchPagePagination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user, err := f.store.GetUserByName(ctx, "inkwell")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		now := model.Now()
		_, err := f.store.CreateStory(ctx, &model.Story{
			AuthorID: user.ID,
			Title:    fmt.Sprintf("Filler %d", i),
			Flags:    model.StoryCanComment,
			Posted:   now,
			Modified: now,
		})
		require.NoError(t, err)
	}

	w := f.do(t, http.MethodGet, "/search?count=2&offset=2", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	payload := decodeJSON(t, w)
	assert.EqualValues(t, 6, payload["num_results"])
	assert.EqualValues(t, 3, payload["start"])
	assert.EqualValues(t, 4, payload["end"])
	require.IsType(t, "", payload["prev"])
	require.IsType(t, "", payload["next"])
	assert.Contains(t, payload["prev"], "offset=0")
	assert.Contains(t, payload["next"], "offset=4")
}

func TestAPISearchValidationErrors(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/search", "", map[string]any{
		"offset":       "ten",
		"sort_by":      7,
		"include_tags": []string{"#nonexistent"},
	})
	require.Equal(t, http.StatusBadRequest, w.Code)

	msgs := errorMessages(t, w)
	assert.Contains(t, msgs, "'offset' must be an integer.")
	assert.Contains(t, msgs, "'sort_by' must be a string.")
	assert.Contains(t, msgs, `Unknown tag "#nonexistent".`)
}

func TestAPISearchReturnsIDs(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/search", "", map[string]any{
		"include_tags": []string{"#romance"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	payload := decodeJSON(t, w)
	ids := resultIDs(t, payload, "results")
	assert.Equal(t, []int64{f.publicID}, ids)
	assert.EqualValues(t, 1, payload["num_results"])
}

func TestAPISearchForcesRisqueFilter(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/search", "paperlantern", map[string]any{
		"filter_risque": false,
	})
	require.Equal(t, http.StatusOK, w.Code)
	ids := resultIDs(t, decodeJSON(t, w), "results")
	assert.NotContains(t, ids, f.risqueID)

	w = f.do(t, http.MethodPost, "/api/search", "quillheart", map[string]any{
		"filter_risque": false,
	})
	require.Equal(t, http.StatusOK, w.Code)
	ids = resultIDs(t, decodeJSON(t, w), "results")
	assert.Equal(t, []int64{f.risqueID}, ids, "opted-in viewers may ask for risque-only results")
}

func TestAPISearchGet(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/search", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	ids := resultIDs(t, decodeJSON(t, w), "results")
	assert.Equal(t, []int64{f.publicID}, ids)
}

func TestTagSuggest(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/tag?tag=%23rom", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	payload := decodeJSON(t, w)
	matches := payload["matches"].([]any)
	require.Len(t, matches, 1)
	match := matches[0].(map[string]any)
	assert.Equal(t, "#romance", match["name"])
	assert.EqualValues(t, 1, match["stories"])
}

func TestTagSuggestValidation(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/tag", "", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, errorMessages(t, w), "Missing required argument 'tag'.")

	w = f.do(t, http.MethodPost, "/api/tag", "", map[string]any{"tag": 7})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, errorMessages(t, w), "'tag' must be a string.")

	w = f.do(t, http.MethodPost, "/api/tag", "", map[string]any{"tag": "#rom", "count": "many"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, errorMessages(t, w), "'count' must be an integer.")

	w = f.do(t, http.MethodPost, "/api/tag", "", map[string]any{"tag": "#rom", "count": 0})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, errorMessages(t, w), "'count' must be at least 1.")

	w = f.do(t, http.MethodPost, "/api/tag", "", map[string]any{"tag": "#rom", "exclude": "romance"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, errorMessages(t, w), "'exclude' must be a list.")
}

func TestTagSuggestExcludes(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/tag", "", map[string]any{
		"tag":     "#",
		"exclude": []string{"#romance", "#nonexistent"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	payload := decodeJSON(t, w)
	assert.Empty(t, payload["matches"], "excluding the only tag leaves nothing; unknown excludes are skipped")
}

func TestGetTag(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/tag/%23romance", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	payload := decodeJSON(t, w)
	tagObj := payload["tag"].(map[string]any)
	assert.Equal(t, "romance", tagObj["name"])
	assert.Equal(t, "generic", tagObj["type"])
	ids := resultIDs(t, payload, "stories")
	assert.Equal(t, []int64{f.publicID}, ids)
}

func TestGetTagErrors(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/tag/%23nonexistent", "", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, errorMessages(t, w), `Tag with name "#nonexistent" doesn't exist.`)

	w = f.do(t, http.MethodGet, "/api/tag/romance", "", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, errorMessages(t, w), "No tag type provided.")
}

func TestGetStoryVisibility(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, fmt.Sprintf("/api/story/%d", f.publicID), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	payload := decodeJSON(t, w)
	assert.Equal(t, "Signal to Noise", payload["title"])
	assert.Equal(t, "inkwell", payload["author"])

	// Private stories are indistinguishable from missing ones.
	w = f.do(t, http.MethodGet, fmt.Sprintf("/api/story/%d", f.privateID), "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, fmt.Sprintf("/api/story/%d", f.privateID), "paperlantern", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// The author sees their own private story.
	w = f.do(t, http.MethodGet, fmt.Sprintf("/api/story/%d", f.privateID), "inkwell", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Risque stories hide from viewers who have not opted in.
	w = f.do(t, http.MethodGet, fmt.Sprintf("/api/story/%d", f.risqueID), "paperlantern", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = f.do(t, http.MethodGet, fmt.Sprintf("/api/story/%d", f.risqueID), "quillheart", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/story/9999", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, "/api/story/abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStoryChaptersVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	now := model.Now()
	_, err := f.store.CreateChapter(ctx, &model.Chapter{
		StoryID:  f.publicID,
		Index:    2,
		Text:     "A hidden second chapter.",
		Flags:    model.ChapterDefaultFlags,
		Posted:   now,
		Modified: now,
	})
	require.NoError(t, err)

	w := f.do(t, http.MethodGet, fmt.Sprintf("/api/story/%d/chapters", f.publicID), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	payload := decodeJSON(t, w)
	chapters := payload["chapters"].([]any)
	assert.Len(t, chapters, 1, "private chapters are hidden from readers")

	w = f.do(t, http.MethodGet, fmt.Sprintf("/api/story/%d/chapters", f.publicID), "inkwell", nil)
	require.Equal(t, http.StatusOK, w.Code)
	payload = decodeJSON(t, w)
	chapters = payload["chapters"].([]any)
	assert.Len(t, chapters, 2, "authors see all of their own chapters")
}

func TestStoryTags(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, fmt.Sprintf("/api/story/%d/tags", f.publicID), "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	payload := decodeJSON(t, w)
	tags := payload["tags"].([]any)
	require.Len(t, tags, 1)
	assert.Equal(t, "#romance", tags[0].(map[string]any)["query"])
}

func TestUserStories(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/user/inkwell/stories", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	payload := decodeJSON(t, w)
	ids := resultIDs(t, payload, "stories")
	assert.Equal(t, []int64{f.publicID}, ids, "private and risque stories stay out of public listings")

	w = f.do(t, http.MethodGet, "/api/user/inkwell/stories", "quillheart", nil)
	require.Equal(t, http.StatusOK, w.Code)
	ids = resultIDs(t, decodeJSON(t, w), "stories")
	assert.ElementsMatch(t, []int64{f.publicID, f.risqueID}, ids)

	// Authors do not see their own private stories in listings either.
	w = f.do(t, http.MethodGet, "/api/user/inkwell/stories", "inkwell", nil)
	require.Equal(t, http.StatusOK, w.Code)
	ids = resultIDs(t, decodeJSON(t, w), "stories")
	assert.NotContains(t, ids, f.privateID)

	w = f.do(t, http.MethodGet, "/api/user/nobody/stories", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUnknownViewerIsAnonymous(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/search", "ghost", nil)
	require.Equal(t, http.StatusOK, w.Code)
	ids := resultIDs(t, decodeJSON(t, w), "results")
	assert.Equal(t, []int64{f.publicID}, ids)
}
