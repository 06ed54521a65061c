package catalog

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/lascentlo/internal/domain/product"
)

const (
	defaultExpected = 100_000
	defaultFPR      = 0.001
	defaultWorkers  = 4
	progressEvery   = 1000
)

// Creator stores a validated product.
type Creator interface {
	Create(ctx context.Context, p *product.Product) error
}

// Stats summarizes an import run.
type Stats struct {
	Read       int64
	Created    int64
	Duplicates int64
	Invalid    int64
}

// ImporterConfig tunes an Importer.
type ImporterConfig struct {
	// Expected is the approximate number of distinct products, used to size
	// the duplicate filter.
	Expected uint
	Workers  int
}

// Importer streams feed records into the catalog with a pool of workers.
// Records whose key was already seen in this run are skipped. Detection is
// probabilistic, so a small fraction of distinct records may be reported as
// duplicates.
type Importer struct {
	creator Creator
	workers int
	lg      *zap.Logger

	mu   sync.Mutex
	seen *bloom.BloomFilter
}

// NewImporter returns an Importer writing through c.
func NewImporter(c Creator, cfg ImporterConfig, lg *zap.Logger) *Importer {
	if cfg.Expected == 0 {
		cfg.Expected = defaultExpected
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	return &Importer{
		creator: c,
		workers: cfg.Workers,
		lg:      lg,
		seen:    bloom.NewWithEstimates(cfg.Expected, defaultFPR),
	}
}

// firstSighting records key and reports whether it was new.
func (im *Importer) firstSighting(key string) bool {
	im.mu.Lock()
	defer im.mu.Unlock()
	return !im.seen.TestOrAddString(key)
}

type job struct {
	line int
	rec  Record
}

// Import reads newline-delimited records from r. Invalid records are
// counted and skipped; storage errors abort the run.
func (im *Importer) Import(ctx context.Context, r io.Reader) (Stats, error) {
	var (
		stats Stats
		jobs  = make(chan job)
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(jobs)
		return ReadLines(ctx, r, func(line int, rec Record) error {
			atomic.AddInt64(&stats.Read, 1)
			if !im.firstSighting(rec.Key()) {
				atomic.AddInt64(&stats.Duplicates, 1)
				im.lg.Debug("Skipping probable duplicate", zap.Int("line", line), zap.String("key", rec.Key()))
				return nil
			}
			select {
			case jobs <- job{line: line, rec: rec}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	})

	for range im.workers {
		g.Go(func() error {
			for j := range jobs {
				err := im.creator.Create(ctx, j.rec.Product())
				switch {
				case err == nil:
					if n := atomic.AddInt64(&stats.Created, 1); n%progressEvery == 0 {
						im.lg.Info("Import progress", zap.Int64("created", n))
					}
				case isInvalid(err):
					atomic.AddInt64(&stats.Invalid, 1)
					im.lg.Warn("Skipping invalid record", zap.Int("line", j.line), zap.Error(err))
				default:
					return errors.Wrapf(err, "line %d", j.line)
				}
			}
			return nil
		})
	}

	err := g.Wait()
	return stats, err
}

func isInvalid(err error) bool {
	var fieldErr *product.InvalidFieldError
	return errors.As(err, &fieldErr) || errors.Is(err, product.ErrDuplicateSize)
}
