// Command keyperdemo wires a small two-collection Keyper DB — authors
// and books, related by a back-referenced foreign key — against the
// in-memory memds.Store Data Source, and exercises fetch coalescing,
// relation hydration, and a live CollectionView end to end.
//
// The zap bootstrap uses a development config when -debug is set,
// production otherwise, with the resulting *zap.Logger installed as
// the process-wide global.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"strings"

	"keyper/src/cmd/keyperdemo/memds"
	"keyper/src/collection"
	"keyper/src/entitykey"
	"keyper/src/keyperdb"
	"keyper/src/keyquery"
	"keyper/src/keyutil"
	"keyper/src/settings"
	"keyper/src/view"

	"go.uber.org/zap"
)

func main() {
	args := settings.GetSettings()
	flag.BoolVar(&args.Debug, "debug", args.Debug, "use zap's development logger config")
	flag.BoolVar(&args.Verbose, "verbose", args.Verbose, "narrate each demo step")
	flag.StringVar(&args.Seed, "seed", args.Seed, "name of the canned dataset (only the built-in one exists; the value is not read)")
	titleFilter := flag.String("title", "", `only print books whose title contains this substring (quotes, e.g. "Dispossessed", are stripped)`)
	flag.Parse()

	logger, err := newLogger(args.Debug)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	sugar := logger.Sugar()

	if err := run(sugar, args.Verbose, trimQuotes(*titleFilter)); err != nil {
		sugar.Fatalf("demo failed: %v", err)
	}
}

// trimQuotes accepts a -title value whether or not the shell already
// stripped its surrounding quotes, so both -title=Dispossessed and
// -title='"Dispossessed"' filter on the same string.
func trimQuotes(s string) string {
	s = strings.TrimSpace(s)
	for _, quote := range []string{`"`, `'`} {
		if len(s) >= 2 && strings.HasPrefix(s, quote) && strings.HasSuffix(s, quote) {
			return strings.TrimSuffix(strings.TrimPrefix(s, quote), quote)
		}
	}
	return s
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		cfg := zap.NewDevelopmentConfig()
		cfg.OutputPaths = []string{"stdout"}
		return cfg.Build()
	}
	return zap.NewProduction()
}

func run(logger *zap.SugaredLogger, verbose bool, titleFilter string) error {
	ctx := context.Background()
	db := keyperdb.New(keyperdb.Defaults{}, logger)

	authorSource := memds.New("id")
	bookSource := memds.New("id")

	authors, err := db.CreateCollection("authors", collection.Config{
		PrimaryKey: []string{"id"},
	}, authorSource)
	if err != nil {
		return fmt.Errorf("creating authors collection: %w", err)
	}

	books, err := db.CreateCollection("books", collection.Config{
		PrimaryKey: []string{"id"},
		Relations: map[string]collection.RelationConfig{
			"author": {
				Collection: "authors",
				ForeignKey: "author_id",
				BackRef:    "books",
				EagerLoad:  true,
			},
		},
	}, bookSource)
	if err != nil {
		return fmt.Errorf("creating books collection: %w", err)
	}

	seedAuthors := authorSource.Seed(
		keyutil.Entity{"id": "a1", "name": "Ursula K. Le Guin"},
		keyutil.Entity{"id": "a2", "name": "Ted Chiang"},
	)
	bookSource.Seed(
		keyutil.Entity{"id": "b1", "title": "The Left Hand of Darkness", "author_id": "a1"},
		keyutil.Entity{"id": "b2", "title": "The Dispossessed", "author_id": "a1"},
		keyutil.Entity{"id": "b3", "title": "Stories of Your Life and Others", "author_id": "a2"},
	)

	if verbose {
		logger.Infof("seeded %d authors", len(seedAuthors))
	}

	booksView := view.NewCollectionView(books, view.Options{OrderBy: "title", Logger: logger})
	defer booksView.Dispose()
	if err := booksView.Load(ctx, false); err != nil {
		return fmt.Errorf("loading books view: %w", err)
	}

	for _, b := range booksView.Items() {
		authorField, err := books.Related(b, "author")
		if err != nil {
			return fmt.Errorf("resolving author for %q: %w", b["title"], err)
		}
		author, _ := authorField.(keyutil.Entity)
		authorName := "unknown"
		if author != nil {
			authorName = fmt.Sprint(author["name"])
		}
		fmt.Printf("%-40s by %s\n", b["title"], authorName)
	}

	leGuinPK, err := entitykey.New("a1")
	if err != nil {
		return fmt.Errorf("building author pk: %w", err)
	}
	leGuin, err := authors.FetchOne(ctx, leGuinPK, collection.FetchOptions{})
	if err != nil {
		return fmt.Errorf("fetching author a1: %w", err)
	}
	holders, err := authors.BackRef(leGuin, "books")
	if err != nil {
		return fmt.Errorf("resolving back-reference: %w", err)
	}
	fmt.Printf("\n%s has %d cataloged books\n", leGuin["name"], holders.Len())

	created, err := books.Create(ctx, keyutil.Entity{
		"title":     "The Lathe of Heaven",
		"author_id": "a1",
	}, collection.FetchOptions{})
	if err != nil {
		return fmt.Errorf("creating a new book: %w", err)
	}
	fmt.Printf("created book %q (id=%v)\n", created["title"], created["id"])

	where := keyquery.Criteria{"author_id": "a1"}
	if titleFilter != "" {
		where["title"] = keyquery.Criteria{"$like": "%" + titleFilter + "%"}
	}
	filtered, err := books.Filter(collection.FilterParams{
		Where:   where,
		OrderBy: "title",
	})
	if err != nil {
		return fmt.Errorf("filtering books by author: %w", err)
	}
	fmt.Printf("\n%d cached books by a1 after the create:\n", filtered.Total)
	for _, b := range filtered.Items {
		fmt.Printf("  - %s\n", b["title"])
	}

	return nil
}
