// Command catalog-import bulk-loads products from newline-delimited JSON
// feeds, optionally gzip-compressed.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/lascentlo/internal/catalog"
	"github.com/xenking/lascentlo/internal/domain/product"
	"github.com/xenking/lascentlo/internal/storage/postgres"
)

func main() {
	var (
		databaseURL string
		workers     int
		expected    uint
	)
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&workers, "workers", 4, "concurrent inserts")
	flag.UintVar(&expected, "expected", 100_000, "approximate number of distinct products, sizes the duplicate filter")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("database URL is required: set --database-url or DATABASE_URL")
	}
	if flag.NArg() == 0 {
		lg.Fatal("usage: catalog-import [flags] feed.ndjson[.gz]...")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, flag.Args(), catalog.ImporterConfig{
		Expected: expected,
		Workers:  workers,
	}); err != nil {
		lg.Fatal("Catalog import failed", zap.Error(err))
	}
}

func run(ctx context.Context, lg *zap.Logger, databaseURL string, files []string, cfg catalog.ImporterConfig) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	// One importer for all files so duplicates across feeds are skipped.
	im := catalog.NewImporter(product.NewService(postgres.NewProductRepository(pool)), cfg, lg)

	var total catalog.Stats
	for _, path := range files {
		stats, err := importFile(ctx, im, path)
		if err != nil {
			return errors.Wrapf(err, "import %s", path)
		}
		lg.Info("Imported feed",
			zap.String("file", path),
			zap.Int64("read", stats.Read),
			zap.Int64("created", stats.Created),
			zap.Int64("duplicates", stats.Duplicates),
			zap.Int64("invalid", stats.Invalid),
		)
		total.Read += stats.Read
		total.Created += stats.Created
		total.Duplicates += stats.Duplicates
		total.Invalid += stats.Invalid
	}
	lg.Info("Catalog import completed",
		zap.Int("files", len(files)),
		zap.Int64("created", total.Created),
		zap.Int64("skipped", total.Duplicates+total.Invalid),
	)
	return nil
}

func importFile(ctx context.Context, im *catalog.Importer, path string) (catalog.Stats, error) {
	rc, err := catalog.OpenFeed(path)
	if err != nil {
		return catalog.Stats{}, err
	}
	defer func() { _ = rc.Close() }()
	return im.Import(ctx, rc)
}
