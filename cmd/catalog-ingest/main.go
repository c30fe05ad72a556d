// Command catalog-ingest loads supplier product feeds into the catalog.
//
// Feeds are gzip-compressed JSONL files, one product per line. Suppliers ship
// overlapping dumps with unreliable entries, so a product is accepted only
// when its ID appears in at least two feeds. Feeds are large; membership is
// tracked with bloom filters instead of exact sets:
//
//	Pass 1: stream every feed concurrently, building one bloom filter of
//	        product IDs per feed.
//	Pass 2: re-stream every feed and keep products whose ID tests positive
//	        in at least one OTHER feed's filter, then merge per-feed hits
//	        and upsert IDs confirmed by 2+ feeds.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"math/bits"
	"os"
	"os/signal"
	"path/filepath"
	"sort"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/merchkit/storefront/internal/repository"
)

const (
	bloomCapacity = 10_000_000
	bloomFPR      = 0.0001
	progressEvery = 1_000_000
)

type feedProduct struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Category string          `json:"category"`
	Stock    int             `json:"stock"`
}

func (p feedProduct) valid() bool {
	return p.ID != "" && p.Name != "" && !p.Price.IsNegative() && p.Stock >= 0
}

// feedResult holds the products one feed contributed in pass 2 and a bitmask
// of which feed each came from.
type feedResult struct {
	products map[string]feedProduct
	masks    map[string]uint
}

const upsertProductSQL = `
INSERT INTO products (id, name, price, category, stock)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name,
	price = EXCLUDED.price,
	category = EXCLUDED.category,
	stock = EXCLUDED.stock`

func main() {
	var (
		dataDir     string
		databaseURL string
	)

	flag.StringVar(&dataDir, "data-dir", "feeds", "directory containing *.jsonl.gz supplier feeds")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dataDir, databaseURL); err != nil {
		slog.Error("catalog ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("catalog ingest completed successfully")
}

func run(ctx context.Context, dataDir, databaseURL string) error {
	files, err := filepath.Glob(filepath.Join(dataDir, "*.jsonl.gz"))
	if err != nil {
		return errors.Wrap(err, "glob feeds")
	}
	sort.Strings(files)
	if len(files) < 2 {
		return errors.Errorf("need at least 2 feeds to cross-check, found %d in %s", len(files), dataDir)
	}

	slog.Info("pass 1: building bloom filters", slog.Int("feeds", len(files)))

	filters, err := buildBloomFilters(ctx, files)
	if err != nil {
		return errors.Wrap(err, "build bloom filters")
	}

	slog.Info("pass 2: collecting cross-confirmed products")

	confirmed, err := findConfirmedProducts(ctx, files, filters)
	if err != nil {
		return errors.Wrap(err, "find confirmed products")
	}

	slog.Info("confirmed products", slog.Int("count", len(confirmed)))
	if len(confirmed) == 0 {
		slog.Info("nothing to ingest")
		return nil
	}

	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	return writeProducts(ctx, pool, confirmed)
}

// buildBloomFilters creates one bloom filter of product IDs per feed,
// concurrently.
func buildBloomFilters(ctx context.Context, files []string) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
			var count uint64

			err := streamFeed(ctx, f, func(p feedProduct) {
				filter.AddString(p.ID)
				count++
				if count%progressEvery == 0 {
					slog.Info("pass 1 progress", slog.Int("feed", i+1), slog.Uint64("products", count))
				}
			})
			if err != nil {
				return errors.Wrapf(err, "build filter for feed %d", i+1)
			}

			slog.Info("pass 1 complete", slog.Int("feed", i+1), slog.Uint64("products", count))
			filters[i] = filter
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// findConfirmedProducts re-streams every feed and keeps products whose ID is
// present in 2 or more feeds. The latest feed (by sort order) wins on record
// content.
func findConfirmedProducts(ctx context.Context, files []string, filters []*bloom.BloomFilter) ([]feedProduct, error) {
	results := make([]feedResult, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			res := feedResult{
				products: make(map[string]feedProduct),
				masks:    make(map[string]uint),
			}
			feedBit := uint(1) << uint(i)
			var count uint64

			err := streamFeed(ctx, f, func(p feedProduct) {
				count++
				if count%progressEvery == 0 {
					slog.Info("pass 2 progress", slog.Int("feed", i+1), slog.Uint64("products", count))
				}

				for j, filter := range filters {
					if j == i {
						continue
					}
					if filter.TestString(p.ID) {
						res.products[p.ID] = p
						res.masks[p.ID] |= feedBit
						break
					}
				}
			})
			if err != nil {
				return errors.Wrapf(err, "scan feed %d", i+1)
			}

			slog.Info("pass 2 complete",
				slog.Int("feed", i+1),
				slog.Uint64("products", count),
				slog.Int("candidates", len(res.products)),
			)
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]feedProduct)
	masks := make(map[string]uint)
	for _, res := range results {
		for id, mask := range res.masks {
			masks[id] |= mask
			merged[id] = res.products[id]
		}
	}

	var confirmed []feedProduct
	for id, mask := range masks {
		// The mask only collects feeds that actually contained the ID, so a
		// bloom false positive in pass 2 leaves a single bit and is dropped
		// here.
		if bits.OnesCount(mask) >= 2 {
			confirmed = append(confirmed, merged[id])
		}
	}
	sort.Slice(confirmed, func(i, j int) bool { return confirmed[i].ID < confirmed[j].ID })
	return confirmed, nil
}

// streamFeed decodes a gzip-compressed JSONL feed, calling fn for every
// well-formed product line. Malformed lines are counted and skipped.
func streamFeed(ctx context.Context, path string, fn func(feedProduct)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	var malformed uint64
	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		var p feedProduct
		if err := json.Unmarshal(scanner.Bytes(), &p); err != nil || !p.valid() {
			malformed++
			continue
		}
		fn(p)
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	if malformed > 0 {
		slog.Warn("skipped malformed lines", slog.String("feed", path), slog.Uint64("count", malformed))
	}
	return nil
}

// writeProducts upserts all confirmed products.
func writeProducts(ctx context.Context, pool *pgxpool.Pool, products []feedProduct) error {
	slog.Info("writing products", slog.Int("count", len(products)))

	for i, p := range products {
		if _, err := pool.Exec(ctx, upsertProductSQL,
			p.ID, p.Name, p.Price, p.Category, p.Stock,
		); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}

		if (i+1)%100 == 0 || i+1 == len(products) {
			slog.Info("write progress", slog.Int("written", i+1), slog.Int("total", len(products)))
		}
	}
	return nil
}
