// Package catalog loads products in bulk from JSON feeds. It backs the
// seed-db and catalog-import commands.
package catalog

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"

	"github.com/xenking/lascentlo/internal/domain/product"
)

// SizeRecord is one size variant in a feed.
type SizeRecord struct {
	Value int             `json:"value"`
	Unit  string          `json:"unit"`
	Price decimal.Decimal `json:"price"`
	Stock int             `json:"stock"`
}

// Record is a single product in a feed.
type Record struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Category    string          `json:"category"`
	Sizes       []SizeRecord    `json:"size"`
	Images      []string        `json:"images"`
	Ingredients []string        `json:"ingredients"`
}

// Key identifies a record for duplicate detection: category plus the
// case-folded name.
func (r Record) Key() string {
	return strings.ToLower(strings.TrimSpace(r.Category)) + "/" + strings.ToLower(strings.TrimSpace(r.Name))
}

// Product converts r into an unsaved catalog product.
func (r Record) Product() *product.Product {
	p := &product.Product{
		Name:        strings.TrimSpace(r.Name),
		Description: strings.TrimSpace(r.Description),
		Price:       r.Price,
		Category:    product.Category(strings.ToLower(strings.TrimSpace(r.Category))),
		Images:      r.Images,
		Ingredients: r.Ingredients,
	}
	for _, s := range r.Sizes {
		p.Sizes = append(p.Sizes, product.SizeVariant{
			Value: s.Value,
			Unit:  s.Unit,
			Price: s.Price,
			Stock: s.Stock,
		})
	}
	return p
}

// ReadArray decodes a JSON array of records.
func ReadArray(r io.Reader) ([]Record, error) {
	var records []Record
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, errors.Wrap(err, "decode records")
	}
	return records, nil
}

const maxLine = 1 << 20

// ReadLines decodes newline-delimited JSON records and calls fn for each.
// Blank lines are skipped. Decoding stops at the first malformed line.
func ReadLines(ctx context.Context, r io.Reader, fn func(line int, rec Record) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLine)

	var n int
	for scanner.Scan() {
		n++
		if err := ctx.Err(); err != nil {
			return err
		}
		raw := scanner.Bytes()
		if len(strings.TrimSpace(string(raw))) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return errors.Wrapf(err, "line %d", n)
		}
		if err := fn(n, rec); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "scan feed")
	}
	return nil
}

type gzipFile struct {
	*pgzip.Reader
	f *os.File
}

func (g gzipFile) Close() error {
	gzErr := g.Reader.Close()
	if err := g.f.Close(); err != nil {
		return err
	}
	return gzErr
}

// OpenFeed opens path for reading, decompressing it when the name ends in
// .gz.
func OpenFeed(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	if !strings.HasSuffix(path, ".gz") {
		return f, nil
	}
	gz, err := pgzip.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "create gzip reader for %s", path)
	}
	return gzipFile{Reader: gz, f: f}, nil
}
