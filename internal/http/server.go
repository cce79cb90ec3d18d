// Package httpapp provides the HTTP server for FictionSource.
//
// Two surfaces share one router: the /search endpoint backing the site's
// search page, which coerces sloppy query parameters into something usable,
// and the /api tree, which validates strictly and reports every violation.
// Authentication is an upstream concern; the viewer identity arrives in the
// X-Username header set by the fronting proxy.
package httpapp

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/SNSTRUTHERS/fictionsource/internal/config"
	"github.com/SNSTRUTHERS/fictionsource/internal/model"
	"github.com/SNSTRUTHERS/fictionsource/internal/query"
	"github.com/SNSTRUTHERS/fictionsource/internal/search"
	"github.com/SNSTRUTHERS/fictionsource/internal/store"
	"github.com/SNSTRUTHERS/fictionsource/internal/tag"
)

type Server struct {
	store    store.Store
	cfg      config.Config
	registry *tag.Registry
	engine   *search.Engine
	router   *mux.Router
}

func NewServer(st store.Store, cfg config.Config) *Server {
	s := &Server{
		store:    st,
		cfg:      cfg,
		registry: tag.NewRegistry(st),
		engine:   search.New(st),
	}

	r := mux.NewRouter()
	r.HandleFunc("/search", s.handleSearchPage).Methods(http.MethodGet)
	r.HandleFunc("/api/search", s.handleSearch).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/api/tag", s.handleTagSuggest).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/api/tag/{name}", s.handleTag).Methods(http.MethodGet)
	r.HandleFunc("/api/story/{id}", s.handleStory).Methods(http.MethodGet)
	r.HandleFunc("/api/story/{id}/chapters", s.handleStoryChapters).Methods(http.MethodGet)
	r.HandleFunc("/api/story/{id}/tags", s.handleStoryTags).Methods(http.MethodGet)
	r.HandleFunc("/api/user/{username}/stories", s.handleUserStories).Methods(http.MethodGet)
	s.router = r

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// viewer resolves the request's identity. A missing or unknown username is an
// anonymous viewer, not an error.
func (s *Server) viewer(r *http.Request) (*model.User, error) {
	username := r.Header.Get("X-Username")
	if username == "" {
		return nil, nil
	}
	user, err := s.store.GetUserByName(r.Context(), username)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// handleSearchPage backs the site's search box. Query parameters are coerced
// leniently: anything unusable falls back to its default instead of failing,
// and the free-text q parameter goes through the permissive parser.
func (s *Server) handleSearchPage(w http.ResponseWriter, r *http.Request) {
	viewer, err := s.viewer(r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	q := r.URL.Query()
	offset := parseIntDefault(q.Get("offset"), 0)
	if offset < 0 {
		offset = 0
	}
	count := parseIntDefault(q.Get("count"), s.cfg.SearchCount)
	if count < 1 {
		count = s.cfg.SearchCount
	}

	sortBy := q.Get("sort_by")
	if !validSortKey(sortBy) {
		sortBy = "modified"
	}

	descending := true
	if v := q.Get("descending"); v != "" {
		descending = search.TruthyParam(v)
	}

	var filterRisque *bool
	if v := q.Get("filter_risque"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			b := n != 0
			filterRisque = &b
		}
	}
	filterRisque = forceRisqueFilter(viewer, filterRisque)

	criteria, err := query.Parse(r.Context(), s.store, q.Get("q"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	params := search.Params{
		Offset:       offset,
		Count:        count,
		SortBy:       sortBy,
		Descending:   descending,
		FilterRisque: filterRisque,
		Criteria:     criteria,
	}
	result, err := s.engine.Search(r.Context(), viewer, params)
	if err != nil {
		var verr *model.ValidationError
		if errors.As(err, &verr) {
			writeErrors(w, http.StatusBadRequest, verr.Messages)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	stories, err := s.loadStories(r, result.Stories)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"query":       q.Get("q"),
		"results":     stories,
		"num_results": result.NumResults,
		"start":       result.Start,
		"end":         result.End,
		"prev":        pageQuery(q, offset-count, count, result.NumResults),
		"next":        pageQuery(q, offset+count, count, result.NumResults),
	})
}

// pageQuery rebuilds the search page query string for a neighboring page, or
// nil when that page does not exist.
func pageQuery(q url.Values, offset, count, num int) any {
	if offset >= num || offset+count <= 0 {
		return nil
	}
	if offset < 0 {
		offset = 0
	}
	page := url.Values{}
	for key, vals := range q {
		page[key] = vals
	}
	page.Set("offset", strconv.Itoa(offset))
	return page.Encode()
}

// handleSearch is the structured search API. Unlike the search page it rejects
// malformed input, collecting every violation into one 400 response.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	viewer, err := s.viewer(r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	var req search.Request
	if err := decodeBody(r, &req); err != nil {
		writeErrors(w, http.StatusBadRequest, []string{"Request body must be a JSON object."})
		return
	}
	if req.Count == nil {
		req.Count = s.cfg.SearchCount
	}

	params, err := search.ParseRequest(r.Context(), s.registry, req)
	if err != nil {
		var verr *model.ValidationError
		if errors.As(err, &verr) {
			writeErrors(w, http.StatusBadRequest, verr.Messages)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	params.FilterRisque = forceRisqueFilter(viewer, params.FilterRisque)

	result, err := s.engine.Search(r.Context(), viewer, params)
	if err != nil {
		var verr *model.ValidationError
		if errors.As(err, &verr) {
			writeErrors(w, http.StatusBadRequest, verr.Messages)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// tagSuggestRequest is the structured form of a tag suggestion query. Fields
// are dynamically typed for per-field validation messages.
type tagSuggestRequest struct {
	Tag     any `json:"tag"`
	Count   any `json:"count"`
	Exclude any `json:"exclude"`
}

func (s *Server) handleTagSuggest(w http.ResponseWriter, r *http.Request) {
	var req tagSuggestRequest
	if r.Method == http.MethodGet {
		q := r.URL.Query()
		if q.Has("tag") {
			req.Tag = q.Get("tag")
		}
		if q.Has("count") {
			if n, err := strconv.Atoi(q.Get("count")); err == nil {
				req.Count = n
			} else {
				req.Count = q.Get("count")
			}
		}
		if excludes := q["exclude"]; len(excludes) > 0 {
			items := make([]any, len(excludes))
			for i, e := range excludes {
				items[i] = e
			}
			req.Exclude = items
		}
	} else if err := decodeBody(r, &req); err != nil {
		writeErrors(w, http.StatusBadRequest, []string{"Request body must be a JSON object."})
		return
	}

	var errs []string

	fragment := ""
	switch v := req.Tag.(type) {
	case nil:
		errs = append(errs, "Missing required argument 'tag'.")
	case string:
		fragment = v
	default:
		errs = append(errs, "'tag' must be a string.")
	}

	count := s.cfg.SearchCount
	switch v := req.Count.(type) {
	case nil:
	case int:
		count = v
	case float64:
		if v != float64(int(v)) {
			errs = append(errs, "'count' must be an integer.")
		} else {
			count = int(v)
		}
	default:
		errs = append(errs, "'count' must be an integer.")
	}
	if count < 1 {
		errs = append(errs, "'count' must be at least 1.")
	}

	var excludeNames []string
	switch v := req.Exclude.(type) {
	case nil:
	case []any:
		for _, item := range v {
			name, ok := item.(string)
			if !ok {
				errs = append(errs, "'exclude' must be a list.")
				excludeNames = nil
				break
			}
			excludeNames = append(excludeNames, name)
		}
	default:
		errs = append(errs, "'exclude' must be a list.")
	}

	if len(errs) > 0 {
		writeErrors(w, http.StatusBadRequest, errs)
		return
	}

	var exclude []int64
	for _, name := range excludeNames {
		t, err := s.registry.Resolve(r.Context(), name)
		if err != nil {
			var verr *model.ValidationError
			if errors.As(err, &verr) || errors.Is(err, store.ErrNotFound) {
				continue
			}
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		exclude = append(exclude, t.ID)
	}

	suggestions, err := s.registry.Suggest(r.Context(), fragment, count, exclude)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if suggestions == nil {
		suggestions = []tag.Suggestion{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"matches": suggestions})
}

func (s *Server) handleTag(w http.ResponseWriter, r *http.Request) {
	viewer, err := s.viewer(r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	name := mux.Vars(r)["name"]
	t, err := s.registry.Resolve(r.Context(), name)
	if err != nil {
		var verr *model.ValidationError
		if errors.As(err, &verr) {
			writeErrors(w, http.StatusBadRequest, verr.Messages)
			return
		}
		if errors.Is(err, store.ErrNotFound) {
			writeErrors(w, http.StatusNotFound, []string{fmt.Sprintf("Tag with name %q doesn't exist.", name)})
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	stories, err := s.store.ListVisibleStoriesByTag(r.Context(), t.ID, allowRisque(viewer))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"tag":     tagJSON(t),
		"stories": storyListJSON(stories),
	})
}

func (s *Server) handleStory(w http.ResponseWriter, r *http.Request) {
	_, story, ok := s.visibleStory(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, storyJSON(story))
}

func (s *Server) handleStoryChapters(w http.ResponseWriter, r *http.Request) {
	viewer, story, ok := s.visibleStory(w, r)
	if !ok {
		return
	}

	chapters, err := s.store.ListChapters(r.Context(), story.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	visible := make([]map[string]any, 0, len(chapters))
	for i := range chapters {
		if chapters[i].Visible(&story, viewer, false) {
			visible = append(visible, chapterJSON(chapters[i]))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"chapters": visible})
}

func (s *Server) handleStoryTags(w http.ResponseWriter, r *http.Request) {
	_, story, ok := s.visibleStory(w, r)
	if !ok {
		return
	}

	storyTags, err := s.store.ListStoryTags(r.Context(), story.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	names := make([]map[string]any, 0, len(storyTags))
	for _, t := range storyTags {
		names = append(names, tagJSON(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{"tags": names})
}

func (s *Server) handleUserStories(w http.ResponseWriter, r *http.Request) {
	viewer, err := s.viewer(r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	username := mux.Vars(r)["username"]
	user, err := s.store.GetUserByName(r.Context(), username)
	if errors.Is(err, store.ErrNotFound) {
		writeErrors(w, http.StatusNotFound, []string{fmt.Sprintf("User %q doesn't exist.", username)})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	stories, err := s.store.ListVisibleStoriesByAuthor(r.Context(), user.ID, allowRisque(viewer))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"username": user.Username,
		"stories":  storyListJSON(stories),
	})
}

// visibleStory loads the story named in the route and enforces visibility.
// A story the viewer may not see is indistinguishable from a missing one.
func (s *Server) visibleStory(w http.ResponseWriter, r *http.Request) (*model.User, model.Story, bool) {
	viewer, err := s.viewer(r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return nil, model.Story{}, false
	}

	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeErrors(w, http.StatusBadRequest, []string{"'id' must be an integer."})
		return nil, model.Story{}, false
	}

	story, err := s.store.GetStory(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		storyNotFound(w, id)
		return nil, model.Story{}, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return nil, model.Story{}, false
	}
	if !story.Visible(viewer, false) {
		storyNotFound(w, id)
		return nil, model.Story{}, false
	}
	return viewer, story, true
}

func storyNotFound(w http.ResponseWriter, id int64) {
	writeErrors(w, http.StatusNotFound, []string{fmt.Sprintf("Story with ID %d doesn't exist.", id)})
}

// forceRisqueFilter pins filter_risque to true for viewers who have not opted
// into mature content. The plan-level AllowRisque flag already excludes risque
// stories for them; forcing the filter keeps the response's effective
// parameters honest.
func forceRisqueFilter(viewer *model.User, filterRisque *bool) *bool {
	if viewer == nil || !viewer.AllowRisque {
		forced := true
		return &forced
	}
	return filterRisque
}

func allowRisque(viewer *model.User) bool {
	return viewer != nil && viewer.AllowRisque
}

func (s *Server) loadStories(r *http.Request, ids []int64) ([]map[string]any, error) {
	stories := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		story, err := s.store.GetStory(r.Context(), id)
		if err != nil {
			return nil, err
		}
		stories = append(stories, storyJSON(story))
	}
	return stories, nil
}

func storyJSON(s model.Story) map[string]any {
	return map[string]any{
		"id":          s.ID,
		"author":      s.Author,
		"title":       s.Title,
		"summary":     s.Summary,
		"private":     s.Flags.Private(),
		"protected":   s.Flags.Protected(),
		"can_comment": s.Flags.CanComment(),
		"is_risque":   s.Flags.Risque(),
		"posted":      s.Posted.UnixMilli(),
		"modified":    s.Modified.UnixMilli(),
		"favorites":   s.Favorites,
		"follows":     s.Follows,
	}
}

func storyListJSON(stories []model.Story) []map[string]any {
	out := make([]map[string]any, 0, len(stories))
	for _, s := range stories {
		out = append(out, storyJSON(s))
	}
	return out
}

func chapterJSON(c model.Chapter) map[string]any {
	return map[string]any{
		"id":           c.ID,
		"story":        c.StoryID,
		"name":         c.Name,
		"author_notes": c.AuthorNotes,
		"index":        c.Index,
		"private":      c.Flags.Private(),
		"protected":    c.Flags.Protected(),
		"text":         c.Text,
		"posted":       c.Posted.UnixMilli(),
		"modified":     c.Modified.UnixMilli(),
	}
}

func tagJSON(t model.Tag) map[string]any {
	return map[string]any{
		"id":    t.ID,
		"type":  t.Type.String(),
		"name":  t.Name,
		"query": t.QueryName(),
	}
}

func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func validSortKey(key string) bool {
	for _, k := range search.SortKeys() {
		if k == key {
			return true
		}
	}
	return false
}

func parseIntDefault(value string, def int) int {
	if value == "" {
		return def
	}
	if n, err := strconv.Atoi(value); err == nil {
		return n
	}
	return def
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeErrors(w http.ResponseWriter, status int, messages []string) {
	writeJSON(w, status, map[string]any{"errors": messages})
}
