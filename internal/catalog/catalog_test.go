package catalog

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xenking/lascentlo/db"
	"github.com/xenking/lascentlo/internal/domain/product"
)

type memCreator struct {
	mu      sync.Mutex
	created []*product.Product
	failOn  string
}

func (m *memCreator) Create(_ context.Context, p *product.Product) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.Name == m.failOn {
		return errors.New("connection reset")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, p)
	return nil
}

const feed = `{"name":"Rose Noir","description":"Dark rose","price":89.99,"category":"floral","size":[{"value":50,"unit":"ml","price":89.99,"stock":4}]}

{"name":"rose noir ","description":"Again","price":89.99,"category":"Floral","size":[{"value":50,"price":89.99,"stock":1}]}
{"name":"Cedar Trail","description":"Cedar","price":74.5,"category":"woody","size":[{"value":30,"unit":"ml","price":49.99,"stock":6}]}
{"name":"No Sizes","description":"Broken","price":10,"category":"fresh","size":[]}
`

func TestRecord_Product(t *testing.T) {
	recs, err := ReadArray(strings.NewReader(`[{"name":" Amalfi Zest ","description":"Citrus","price":"45.00","category":"CITRUS",
		"size":[{"value":30,"unit":"ml","price":45,"stock":100}],"images":["https://cdn/x.jpg"],"ingredients":["bergamot"]}]`))
	require.NoError(t, err)
	require.Len(t, recs, 1)

	p := recs[0].Product()
	assert.Equal(t, "Amalfi Zest", p.Name)
	assert.Equal(t, product.CategoryCitrus, p.Category)
	assert.Equal(t, "45", p.Price.String())
	require.Len(t, p.Sizes, 1)
	assert.Equal(t, 100, p.Sizes[0].Stock)
	assert.Equal(t, "citrus/amalfi zest", recs[0].Key())
	require.NoError(t, p.Validate())
}

func TestSeedDataIsValid(t *testing.T) {
	f, err := db.Seed.Open("seed/products.json")
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	recs, err := ReadArray(f)
	require.NoError(t, err)
	require.NotEmpty(t, recs)

	keys := make(map[string]bool)
	for _, r := range recs {
		require.NoError(t, r.Product().Validate(), r.Name)
		assert.False(t, keys[r.Key()], "duplicate %s", r.Key())
		keys[r.Key()] = true
	}
}

func TestReadLines_Malformed(t *testing.T) {
	err := ReadLines(context.Background(), strings.NewReader("{\"name\":\"a\"}\n{oops\n"), func(int, Record) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestImporter_Import(t *testing.T) {
	c := &memCreator{}
	im := NewImporter(c, ImporterConfig{Expected: 100, Workers: 2}, zap.NewNop())

	stats, err := im.Import(context.Background(), strings.NewReader(feed))
	require.NoError(t, err)
	assert.Equal(t, Stats{Read: 4, Created: 2, Duplicates: 1, Invalid: 1}, stats)

	names := make([]string, 0, len(c.created))
	for _, p := range c.created {
		names = append(names, p.Name)
	}
	assert.ElementsMatch(t, []string{"Rose Noir", "Cedar Trail"}, names)
}

func TestImporter_StorageErrorAborts(t *testing.T) {
	c := &memCreator{failOn: "Cedar Trail"}
	im := NewImporter(c, ImporterConfig{Expected: 100, Workers: 1}, zap.NewNop())

	_, err := im.Import(context.Background(), strings.NewReader(feed))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestOpenFeed_Gzip(t *testing.T) {
	dir := t.TempDir()

	var buf bytes.Buffer
	gz := pgzip.NewWriter(&buf)
	_, err := gz.Write([]byte(feed))
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	gzPath := filepath.Join(dir, "feed.ndjson.gz")
	require.NoError(t, os.WriteFile(gzPath, buf.Bytes(), 0o600))
	plainPath := filepath.Join(dir, "feed.ndjson")
	require.NoError(t, os.WriteFile(plainPath, []byte(feed), 0o600))

	for _, path := range []string{gzPath, plainPath} {
		rc, err := OpenFeed(path)
		require.NoError(t, err)

		var lines int
		require.NoError(t, ReadLines(context.Background(), rc, func(int, Record) error {
			lines++
			return nil
		}))
		require.NoError(t, rc.Close())
		assert.Equal(t, 4, lines, path)
	}

	_, err = OpenFeed(filepath.Join(dir, "missing.gz"))
	require.Error(t, err)
}
