package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SNSTRUTHERS/fictionsource/internal/config"
	httpapp "github.com/SNSTRUTHERS/fictionsource/internal/http"
	"github.com/SNSTRUTHERS/fictionsource/internal/model"
	"github.com/SNSTRUTHERS/fictionsource/internal/store/sqlite"
)

func main() {
	if len(os.Args) < 2 {
		runServer()
		return
	}

	switch cmd := os.Args[1]; cmd {
	case "server", "serve":
		runServer()
	case "seed":
		runSeed()
	case "-v", "--version", "version":
		fmt.Println("fictionsource v0.1.0")
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: fictionsource [command]

Commands:
  serve      Run the HTTP server (default)
  seed       Populate the database with sample users, tags, and stories
  version    Print the version
  help       Show this help

Configuration (environment):
  FICTIONSOURCE_ADDR          Listen address (default :8080, or PORT)
  FICTIONSOURCE_DB            SQLite database path (default fictionsource.db)
  FICTIONSOURCE_SEARCH_COUNT  Default search page size (default 25)`)
}

func runServer() {
	cfg := config.Load()

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open db: %v", err)
	}
	defer store.Close()

	server := httpapp.NewServer(store, cfg)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("fictionsource listening on %s", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Println("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctx)
}

var seedUsers = []struct {
	name        string
	allowRisque bool
}{
	{"inkwell", false},
	{"quillheart", true},
	{"nightscribe", true},
	{"paperlantern", false},
	{"mothandflame", false},
}

var seedTags = []struct {
	ttype model.TagType
	name  string
}{
	{model.TagGeneric, "romance"},
	{model.TagGeneric, "slow-burn"},
	{model.TagGeneric, "found-family"},
	{model.TagGenre, "fantasy"},
	{model.TagGenre, "science-fiction"},
	{model.TagGenre, "mystery"},
	{model.TagCategory, "original"},
	{model.TagCategory, "fanfiction"},
	{model.TagCharacter, "morgana"},
	{model.TagSeries, "the-hollow-crown"},
}

var seedStories = []struct {
	author   string
	title    string
	summary  string
	risque   bool
	public   bool
	tags     []string
	chapters []string
}{
	{
		author:  "inkwell",
		title:   "The Cartographer's Daughter",
		summary: "She inherited her father's maps, and with them, every place he never came home from.",
		public:  true,
		tags:    []string{"genre:fantasy", "category:original", "#found-family"},
		chapters: []string{
			"The maps arrived in a cedar chest three weeks after the funeral, smelling of salt and someone else's courage.",
			"Every border her father had drawn was wrong on purpose. It took her a decade to understand why.",
		},
	},
	{
		author:  "quillheart",
		title:   "Signal to Noise",
		summary: "A deep-space relay operator starts receiving messages addressed to her, dated forty years from now.",
		public:  true,
		tags:    []string{"genre:science-fiction", "category:original", "#slow-burn", "#romance"},
		chapters: []string{
			"The first message was easy to dismiss as corrupted telemetry. The second one used her mother's maiden name.",
		},
	},
	{
		author:  "nightscribe",
		title:   "Ash and Appetite",
		summary: "Morgana never wanted the throne. The throne, unfortunately, had opinions.",
		risque:  true,
		public:  true,
		tags:    []string{"genre:fantasy", "category:fanfiction", "character:morgana", "series:the-hollow-crown", "#romance"},
		chapters: []string{
			"The coronation wine was poisoned. Morgana drank it anyway, out of spite.",
			"Court etiquette had seventeen rules for addressing a usurper. She intended to break all of them before dawn.",
		},
	},
	{
		author:  "paperlantern",
		title:   "The Lighthouse Ledger",
		summary: "Every keeper before him logged the weather. He logs the things that knock.",
		public:  true,
		tags:    []string{"genre:mystery", "category:original"},
		chapters: []string{
			"October 3rd. Wind from the northeast. Three knocks at the lamp-room door, two hundred feet above the rocks.",
		},
	},
	{
		author:  "mothandflame",
		title:   "Unfinished Drafts",
		summary: "A private notebook of beginnings.",
		public:  false,
		tags:    []string{"#slow-burn"},
		chapters: []string{
			"This one isn't ready for anyone else yet.",
		},
	},
}

// runSeed fills the configured database with sample content so a fresh
// instance has something to search.
func runSeed() {
	cfg := config.Load()
	ctx := context.Background()

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open db: %v", err)
	}
	defer store.Close()

	users := map[string]int64{}
	for _, u := range seedUsers {
		id, err := store.CreateUser(ctx, &model.User{
			Username:    u.name,
			Joined:      model.Now(),
			AllowRisque: u.allowRisque,
		})
		if err != nil {
			log.Fatalf("create user %s: %v", u.name, err)
		}
		users[u.name] = id
		log.Printf("created user %s", u.name)
	}

	tags := map[string]int64{}
	for _, t := range seedTags {
		created, err := store.CreateTag(ctx, t.ttype, t.name)
		if err != nil {
			log.Fatalf("create tag %s: %v", t.name, err)
		}
		tags[created.QueryName()] = created.ID
		log.Printf("created tag %s", created.QueryName())
	}

	for _, s := range seedStories {
		flags := model.StoryDefaultFlags
		if s.public {
			flags = flags.With(model.StoryPrivate, false)
		}
		flags = flags.With(model.StoryRisque, s.risque)

		story := model.Story{
			AuthorID: users[s.author],
			Title:    s.title,
			Summary:  s.summary,
			Flags:    flags,
			Posted:   model.Now(),
			Modified: model.Now(),
		}
		storyID, err := store.CreateStory(ctx, &story)
		if err != nil {
			log.Fatalf("create story %s: %v", s.title, err)
		}

		for _, queryName := range s.tags {
			if err := store.AddStoryTag(ctx, storyID, tags[queryName]); err != nil {
				log.Fatalf("tag story %s with %s: %v", s.title, queryName, err)
			}
		}

		for i, text := range s.chapters {
			chapter := model.Chapter{
				StoryID:  storyID,
				Name:     fmt.Sprintf("Chapter %d", i+1),
				Index:    i + 1,
				Flags:    model.ChapterDefaultFlags,
				Posted:   model.Now(),
				Modified: model.Now(),
			}
			chapter.SetText(text)
			if s.public {
				chapter.SetPrivate(false)
			}
			if _, err := store.CreateChapter(ctx, &chapter); err != nil {
				log.Fatalf("create chapter %d of %s: %v", i+1, s.title, err)
			}
		}
		log.Printf("created story %s (%d chapters)", s.title, len(s.chapters))

		// Spread out modification times so sort order is deterministic.
		time.Sleep(5 * time.Millisecond)
	}

	favorites := map[string][]string{
		"The Cartographer's Daughter": {"quillheart", "nightscribe", "paperlantern"},
		"Signal to Noise":             {"inkwell", "mothandflame"},
		"Ash and Appetite":            {"quillheart"},
	}
	follows := map[string][]string{
		"Signal to Noise":       {"inkwell", "nightscribe", "paperlantern"},
		"The Lighthouse Ledger": {"quillheart"},
	}

	ids, err := titleIndex(ctx, store)
	if err != nil {
		log.Fatalf("index stories: %v", err)
	}
	for title, fans := range favorites {
		for _, fan := range fans {
			if err := store.FavoriteStory(ctx, users[fan], ids[title]); err != nil {
				log.Fatalf("favorite %s: %v", title, err)
			}
		}
	}
	for title, fans := range follows {
		for _, fan := range fans {
			if err := store.FollowStory(ctx, users[fan], ids[title]); err != nil {
				log.Fatalf("follow %s: %v", title, err)
			}
		}
	}

	log.Println("seed complete")
}

func titleIndex(ctx context.Context, store *sqlite.Store) (map[string]int64, error) {
	ids := map[string]int64{}
	for _, u := range seedUsers {
		user, err := store.GetUserByName(ctx, u.name)
		if err != nil {
			return nil, err
		}
		stories, err := store.ListVisibleStoriesByAuthor(ctx, user.ID, true)
		if err != nil {
			return nil, err
		}
		for _, s := range stories {
			ids[s.Title] = s.ID
		}
	}
	return ids, nil
}
