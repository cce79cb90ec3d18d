package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/SNSTRUTHERS/fictionsource/internal/model"
	"github.com/SNSTRUTHERS/fictionsource/internal/store"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := applySchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// migrations is an ordered list of SQL migrations.
// Each migration runs exactly once, tracked by schema_version table.
var migrations = []string{
	// Migration 1: Initial schema
	`
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL,
	joined INTEGER NOT NULL,
	allow_risque INTEGER NOT NULL DEFAULT 0,
	is_moderator INTEGER NOT NULL DEFAULT 0
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_users_username ON users(username);

CREATE TABLE IF NOT EXISTS stories (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	author_id INTEGER NOT NULL,
	title TEXT NOT NULL,
	summary TEXT NOT NULL DEFAULT '',
	flags INTEGER NOT NULL DEFAULT 5,
	posted INTEGER NOT NULL,
	modified INTEGER NOT NULL,
	FOREIGN KEY(author_id) REFERENCES users(id)
);
CREATE INDEX IF NOT EXISTS idx_stories_author ON stories(author_id);
CREATE INDEX IF NOT EXISTS idx_stories_modified ON stories(modified DESC);

CREATE TABLE IF NOT EXISTS chapters (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	story_id INTEGER NOT NULL,
	name TEXT,
	author_notes TEXT,
	chapter_index INTEGER NOT NULL DEFAULT 0,
	flags INTEGER NOT NULL DEFAULT 1,
	text TEXT NOT NULL DEFAULT '',
	posted INTEGER NOT NULL,
	modified INTEGER NOT NULL,
	FOREIGN KEY(story_id) REFERENCES stories(id)
);
CREATE INDEX IF NOT EXISTS idx_chapters_story ON chapters(story_id, chapter_index);

CREATE TABLE IF NOT EXISTS tags (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	type INTEGER NOT NULL DEFAULT 0,
	name TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_tags_unique ON tags(type, name);

CREATE TABLE IF NOT EXISTS story_tags (
	story_id INTEGER NOT NULL,
	tag_id INTEGER NOT NULL,
	PRIMARY KEY(story_id, tag_id),
	FOREIGN KEY(story_id) REFERENCES stories(id),
	FOREIGN KEY(tag_id) REFERENCES tags(id)
);

CREATE TABLE IF NOT EXISTS favorite_stories (
	user_id INTEGER NOT NULL,
	story_id INTEGER NOT NULL,
	PRIMARY KEY(user_id, story_id),
	FOREIGN KEY(user_id) REFERENCES users(id),
	FOREIGN KEY(story_id) REFERENCES stories(id)
);

CREATE TABLE IF NOT EXISTS followed_stories (
	user_id INTEGER NOT NULL,
	story_id INTEGER NOT NULL,
	PRIMARY KEY(user_id, story_id),
	FOREIGN KEY(user_id) REFERENCES users(id),
	FOREIGN KEY(story_id) REFERENCES stories(id)
);
`,
	// Future migrations go here:
	// Migration 2: `ALTER TABLE ...`,
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY
		)
	`); err != nil {
		return err
	}

	var currentVersion int
	row := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	if err := row.Scan(&currentVersion); err != nil {
		return err
	}

	for i := currentVersion; i < len(migrations); i++ {
		if _, err := db.Exec(migrations[i]); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
		if _, err := db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, i+1); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", i+1, err)
		}
	}

	return nil
}

func (s *Store) CreateUser(ctx context.Context, user *model.User) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO users (username, joined, allow_risque, is_moderator)
VALUES (?, ?, ?, ?)
`, user.Username, user.Joined.UnixMilli(), boolToInt(user.AllowRisque), boolToInt(user.IsModerator))
	if err != nil {
		if isUniqueViolation(err) {
			return 0, store.ErrUserExists
		}
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) GetUserByName(ctx context.Context, username string) (model.User, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, username, joined, allow_risque, is_moderator
FROM users
WHERE username = ?
`, username)
	var u model.User
	var joined int64
	var allowRisque, isModerator int
	if err := row.Scan(&u.ID, &u.Username, &joined, &allowRisque, &isModerator); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, store.ErrNotFound
		}
		return model.User{}, err
	}
	u.Joined = fromMillis(joined)
	u.AllowRisque = allowRisque == 1
	u.IsModerator = isModerator == 1
	return u, nil
}

const storyColumns = `
s.id, s.author_id, u.username, s.title, s.summary, s.flags, s.posted, s.modified,
(SELECT COUNT(*) FROM favorite_stories f WHERE f.story_id = s.id),
(SELECT COUNT(*) FROM followed_stories f WHERE f.story_id = s.id)`

func (s *Store) CreateStory(ctx context.Context, story *model.Story) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO stories (author_id, title, summary, flags, posted, modified)
VALUES (?, ?, ?, ?, ?, ?)
`, story.AuthorID, story.Title, story.Summary, int(story.Flags), story.Posted.UnixMilli(), story.Modified.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) GetStory(ctx context.Context, id int64) (model.Story, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+storyColumns+`
FROM stories s
LEFT JOIN users u ON u.id = s.author_id
WHERE s.id = ?
`, id)
	return scanStory(row)
}

func (s *Store) UpdateStoryFlags(ctx context.Context, id int64, flags model.StoryFlags) error {
	res, err := s.db.ExecContext(ctx, `UPDATE stories SET flags = ? WHERE id = ?`, int(flags), id)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListVisibleStoriesByAuthor(ctx context.Context, authorID int64, allowRisque bool) ([]model.Story, error) {
	query := `
SELECT ` + storyColumns + `
FROM stories s
LEFT JOIN users u ON u.id = s.author_id
WHERE s.author_id = ? AND (s.flags & ?) = 0`
	args := []any{authorID, int(model.StoryPrivate | model.StoryProtected)}
	if !allowRisque {
		query += ` AND (s.flags & ?) = 0`
		args = append(args, int(model.StoryRisque))
	}
	query += ` ORDER BY s.modified DESC, s.id ASC`
	return s.queryStories(ctx, query, args...)
}

func (s *Store) ListVisibleStoriesByTag(ctx context.Context, tagID int64, allowRisque bool) ([]model.Story, error) {
	query := `
SELECT ` + storyColumns + `
FROM stories s
LEFT JOIN users u ON u.id = s.author_id
JOIN story_tags st ON st.story_id = s.id
WHERE st.tag_id = ? AND (s.flags & ?) = 0`
	args := []any{tagID, int(model.StoryPrivate | model.StoryProtected)}
	if !allowRisque {
		query += ` AND (s.flags & ?) = 0`
		args = append(args, int(model.StoryRisque))
	}
	query += ` ORDER BY s.modified DESC, s.id ASC`
	return s.queryStories(ctx, query, args...)
}

func (s *Store) queryStories(ctx context.Context, query string, args ...any) ([]model.Story, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stories []model.Story
	for rows.Next() {
		story, err := scanStory(rows)
		if err != nil {
			return nil, err
		}
		stories = append(stories, story)
	}
	return stories, rows.Err()
}

func (s *Store) FavoriteStory(ctx context.Context, userID, storyID int64) error {
	_, err := s.db.ExecContext(ctx, `
INSERT OR IGNORE INTO favorite_stories (user_id, story_id) VALUES (?, ?)
`, userID, storyID)
	return err
}

func (s *Store) FollowStory(ctx context.Context, userID, storyID int64) error {
	_, err := s.db.ExecContext(ctx, `
INSERT OR IGNORE INTO followed_stories (user_id, story_id) VALUES (?, ?)
`, userID, storyID)
	return err
}

func (s *Store) AddStoryTag(ctx context.Context, storyID, tagID int64) error {
	_, err := s.db.ExecContext(ctx, `
INSERT OR IGNORE INTO story_tags (story_id, tag_id) VALUES (?, ?)
`, storyID, tagID)
	return err
}

func (s *Store) ListStoryTags(ctx context.Context, storyID int64) ([]model.Tag, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT t.id, t.type, t.name
FROM tags t
JOIN story_tags st ON st.tag_id = t.id
WHERE st.story_id = ?
ORDER BY t.type ASC, t.name ASC
`, storyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tags []model.Tag
	for rows.Next() {
		var t model.Tag
		var ttype int
		if err := rows.Scan(&t.ID, &ttype, &t.Name); err != nil {
			return nil, err
		}
		t.Type = model.TagType(ttype)
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

func (s *Store) CreateChapter(ctx context.Context, chapter *model.Chapter) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO chapters (story_id, name, author_notes, chapter_index, flags, text, posted, modified)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, chapter.StoryID, nullIfEmpty(chapter.Name), nullIfEmpty(chapter.AuthorNotes), chapter.Index,
		int(chapter.Flags), chapter.Text, chapter.Posted.UnixMilli(), chapter.Modified.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) ListChapters(ctx context.Context, storyID int64) ([]model.Chapter, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, story_id, name, author_notes, chapter_index, flags, text, posted, modified
FROM chapters
WHERE story_id = ?
ORDER BY chapter_index ASC
`, storyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chapters []model.Chapter
	for rows.Next() {
		var c model.Chapter
		var name, notes sql.NullString
		var flags int
		var posted, modified int64
		if err := rows.Scan(&c.ID, &c.StoryID, &name, &notes, &c.Index, &flags, &c.Text, &posted, &modified); err != nil {
			return nil, err
		}
		if name.Valid {
			c.Name = name.String
		}
		if notes.Valid {
			c.AuthorNotes = notes.String
		}
		c.Flags = model.ChapterFlags(flags)
		c.Posted = fromMillis(posted)
		c.Modified = fromMillis(modified)
		chapters = append(chapters, c)
	}
	return chapters, rows.Err()
}

func (s *Store) UpdateChapter(ctx context.Context, chapter *model.Chapter) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE chapters
SET name = ?, author_notes = ?, chapter_index = ?, flags = ?, text = ?, modified = ?
WHERE id = ?
`, nullIfEmpty(chapter.Name), nullIfEmpty(chapter.AuthorNotes), chapter.Index,
		int(chapter.Flags), chapter.Text, chapter.Modified.UnixMilli(), chapter.ID)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) GetTag(ctx context.Context, ttype model.TagType, name string) (model.Tag, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, type, name FROM tags WHERE type = ? AND name = ?
`, int(ttype), name)
	var t model.Tag
	var typ int
	if err := row.Scan(&t.ID, &typ, &t.Name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Tag{}, store.ErrNotFound
		}
		return model.Tag{}, err
	}
	t.Type = model.TagType(typ)
	return t, nil
}

func (s *Store) CreateTag(ctx context.Context, ttype model.TagType, name string) (model.Tag, error) {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO tags (type, name) VALUES (?, ?)
`, int(ttype), name)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Tag{}, store.ErrTagExists
		}
		return model.Tag{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Tag{}, err
	}
	return model.Tag{ID: id, Type: ttype, Name: name}, nil
}

func (s *Store) SuggestTags(ctx context.Context, opts store.TagSuggestOpts) ([]store.TagCount, error) {
	if opts.Limit <= 0 {
		return nil, nil
	}

	where := []string{"1 = 1"}
	var args []any
	if opts.Fragment != "" {
		where = append(where, "LOWER(t.name) LIKE ? ESCAPE '/'")
		args = append(args, "%"+escapeLike(strings.ToLower(opts.Fragment))+"%")
	}
	if opts.Type != nil {
		where = append(where, "t.type = ?")
		args = append(args, int(*opts.Type))
	}
	if len(opts.Exclude) > 0 {
		where = append(where, "t.id NOT IN ("+placeholders(len(opts.Exclude))+")")
		for _, id := range opts.Exclude {
			args = append(args, id)
		}
	}
	args = append(args, opts.Limit)

	rows, err := s.db.QueryContext(ctx, `
SELECT t.id, t.type, t.name, COUNT(st.story_id)
FROM tags t
LEFT JOIN story_tags st ON st.tag_id = t.id
WHERE `+strings.Join(where, " AND ")+`
GROUP BY t.id
ORDER BY COUNT(st.story_id) DESC, t.id ASC
LIMIT ?
`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []store.TagCount
	for rows.Next() {
		var tc store.TagCount
		var typ int
		if err := rows.Scan(&tc.Tag.ID, &typ, &tc.Tag.Name, &tc.Stories); err != nil {
			return nil, err
		}
		tc.Tag.Type = model.TagType(typ)
		results = append(results, tc)
	}
	return results, rows.Err()
}

// SearchStories compiles the plan into one SQL query and returns every
// matching story id in sorted order. The window slice happens in the search
// package so num_results reflects the full filtered set.
func (s *Store) SearchStories(ctx context.Context, plan store.SearchPlan) ([]int64, error) {
	hidden := int(model.StoryPrivate | model.StoryProtected)
	risque := int(model.StoryRisque)
	chapterHidden := int(model.ChapterPrivate | model.ChapterProtected)

	where := []string{"(s.flags & ?) = 0"}
	args := []any{hidden}

	if !plan.AllowRisque {
		where = append(where, "(s.flags & ?) = 0")
		args = append(args, risque)
	}
	if plan.FilterRisque != nil {
		if *plan.FilterRisque {
			where = append(where, "(s.flags & ?) = 0")
		} else {
			where = append(where, "(s.flags & ?) != 0")
		}
		args = append(args, risque)
	}

	if len(plan.IncludeTags) > 0 {
		where = append(where,
			"EXISTS (SELECT 1 FROM story_tags st WHERE st.story_id = s.id AND st.tag_id IN ("+
				placeholders(len(plan.IncludeTags))+"))")
		for _, id := range plan.IncludeTags {
			args = append(args, id)
		}
	}
	if len(plan.ExcludeTags) > 0 {
		where = append(where,
			"NOT EXISTS (SELECT 1 FROM story_tags st WHERE st.story_id = s.id AND st.tag_id IN ("+
				placeholders(len(plan.ExcludeTags))+"))")
		for _, id := range plan.ExcludeTags {
			args = append(args, id)
		}
	}

	join := "JOIN users u ON u.id = s.author_id"
	if len(plan.IncludeUsers) > 0 {
		where = append(where, "u.username IN ("+placeholders(len(plan.IncludeUsers))+")")
		for _, name := range plan.IncludeUsers {
			args = append(args, name)
		}
	}
	if len(plan.ExcludeUsers) > 0 {
		where = append(where, "u.username NOT IN ("+placeholders(len(plan.ExcludeUsers))+")")
		for _, name := range plan.ExcludeUsers {
			args = append(args, name)
		}
	}

	// Phrase predicates only consider chapters whose own flags are clear; a
	// story with no public chapter matches no phrase filter at all.
	if len(plan.IncludePhrases) > 0 {
		clause, clauseArgs := phraseClauses(plan.IncludePhrases)
		where = append(where,
			"EXISTS (SELECT 1 FROM chapters c WHERE c.story_id = s.id AND (c.flags & ?) = 0 AND ("+clause+"))")
		args = append(args, chapterHidden)
		args = append(args, clauseArgs...)
	}
	if len(plan.ExcludePhrases) > 0 {
		if len(plan.IncludePhrases) == 0 {
			where = append(where,
				"EXISTS (SELECT 1 FROM chapters c WHERE c.story_id = s.id AND (c.flags & ?) = 0)")
			args = append(args, chapterHidden)
		}
		clause, clauseArgs := phraseClauses(plan.ExcludePhrases)
		where = append(where,
			"NOT EXISTS (SELECT 1 FROM chapters c WHERE c.story_id = s.id AND (c.flags & ?) = 0 AND ("+clause+"))")
		args = append(args, chapterHidden)
		args = append(args, clauseArgs...)
	}

	dir := "ASC"
	if plan.Descending {
		dir = "DESC"
	}

	var orderBy, groupBy string
	switch plan.SortBy {
	case "posted":
		orderBy = "s.posted " + dir + ", s.id ASC"
	case "favorites":
		join += " LEFT JOIN favorite_stories fav ON fav.story_id = s.id"
		groupBy = "GROUP BY s.id"
		orderBy = "COUNT(fav.user_id) " + dir + ", s.id ASC"
	case "follows":
		join += " LEFT JOIN followed_stories fol ON fol.story_id = s.id"
		groupBy = "GROUP BY s.id"
		orderBy = "COUNT(fol.user_id) " + dir + ", s.id ASC"
	default: // modified
		orderBy = "s.modified " + dir + ", s.id ASC"
	}

	query := "SELECT s.id FROM stories s " + join +
		" WHERE " + strings.Join(where, " AND ") +
		" " + groupBy +
		" ORDER BY " + orderBy

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// phraseClauses builds one OR group matching any of the phrases against story
// title, story summary, chapter author notes, or chapter text.
func phraseClauses(phrases []string) (string, []any) {
	clauses := make([]string, 0, len(phrases))
	var args []any
	for _, phrase := range phrases {
		pattern := "%" + escapeLike(strings.ToLower(phrase)) + "%"
		clauses = append(clauses, `(LOWER(s.title) LIKE ? ESCAPE '/'
OR LOWER(s.summary) LIKE ? ESCAPE '/'
OR LOWER(COALESCE(c.author_notes, '')) LIKE ? ESCAPE '/'
OR LOWER(c.text) LIKE ? ESCAPE '/')`)
		args = append(args, pattern, pattern, pattern, pattern)
	}
	return strings.Join(clauses, " OR "), args
}

func scanStory(scanner interface{ Scan(dest ...any) error }) (model.Story, error) {
	var s model.Story
	var author sql.NullString
	var flags int
	var posted, modified int64
	if err := scanner.Scan(&s.ID, &s.AuthorID, &author, &s.Title, &s.Summary, &flags, &posted, &modified, &s.Favorites, &s.Follows); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Story{}, store.ErrNotFound
		}
		return model.Story{}, err
	}
	if author.Valid {
		s.Author = author.String
	}
	s.Flags = model.StoryFlags(flags)
	s.Posted = fromMillis(posted)
	s.Modified = fromMillis(modified)
	return s, nil
}

// escapeLike escapes SQL LIKE wildcards using '/' as the escape character.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, "/", "//")
	s = strings.ReplaceAll(s, "%", "/%")
	s = strings.ReplaceAll(s, "_", "/_")
	return s
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "PRIMARY KEY")
}
