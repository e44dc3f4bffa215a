package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeCatalog drops a catalog file into the right kind folder of root.
func writeCatalog(t *testing.T, root string, kind Kind, file, content string) {
	t.Helper()
	dir := filepath.Join(root, kind.Folder)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(content), 0o644))
}

func TestLoaderLoad(t *testing.T) {
	root := t.TempDir()
	writeCatalog(t, root, KindTable, "catalog_src_orders.yaml", `
src_orders:
  create:
    features:
      order_id: bigint primary key
      amount: numeric(12,2)
`)

	loader := NewLoader(root, nil)

	tbl, err := loader.LoadTable("src", "src_orders", false)
	require.NoError(t, err)
	assert.Equal(t, "src_orders", tbl.Name)

	// shortname resolution
	tbl, err = loader.LoadTable("src", "so", true)
	require.NoError(t, err)
	assert.Equal(t, "src_orders", tbl.Name)

	_, err = loader.LoadTable("src", "src_missing", false)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "src_missing", nf.Name)
}

func TestLoaderVersionSelection(t *testing.T) {
	root := t.TempDir()
	writeCatalog(t, root, KindTable, "catalog_src_orders.yaml", `
src_orders:
  version: "2023-01-01"
  create:
    features:
      order_id: bigint primary key
`)
	writeCatalog(t, root, KindTable, "catalog_src_orders_v2.yaml", `
src_orders:
  version: "2024-06-01"
  create:
    features:
      order_id: bigint primary key
      amount: numeric(12,2)
`)

	loader := NewLoader(root, nil)
	tbl, err := loader.LoadTable("src", "src_orders", false)
	require.NoError(t, err)
	assert.Equal(t, "2024-06-01", tbl.Tag.Version)
	assert.Len(t, tbl.Profile.Features, 2)
}

func TestLoaderUnversionedLosesToVersioned(t *testing.T) {
	root := t.TempDir()
	writeCatalog(t, root, KindTable, "catalog_src_a.yaml", `
src_orders:
  create:
    features:
      order_id: bigint primary key
`)
	writeCatalog(t, root, KindTable, "catalog_src_b.yaml", `
src_orders:
  version: "2001-01-01"
  create:
    features:
      order_id: bigint primary key
      note: text
`)

	loader := NewLoader(root, nil)
	tbl, err := loader.LoadTable("src", "src_orders", false)
	require.NoError(t, err)
	assert.Len(t, tbl.Profile.Features, 2)
}

func TestLoaderShortnameAmbiguity(t *testing.T) {
	root := t.TempDir()
	writeCatalog(t, root, KindTable, "catalog_src_many.yaml", `
src_orders:
  create:
    features:
      id: int primary key
src_outages:
  create:
    features:
      id: int primary key
`)

	loader := NewLoader(root, nil)
	_, err := loader.LoadTable("src", "so", true)
	var amb *AmbiguousShortnameError
	require.ErrorAs(t, err, &amb)
	assert.Equal(t, "so", amb.Shortname)
	assert.ElementsMatch(t, []string{"src_orders", "src_outages"}, amb.Matches)
}

func TestLoaderLoadAll(t *testing.T) {
	root := t.TempDir()
	writeCatalog(t, root, KindTable, "catalog_ai.yaml", `
ai_sales_summary:
  create:
    features:
      id: int primary key
`)
	writeCatalog(t, root, KindTable, "catalog_src.yaml", `
src_orders:
  create:
    features:
      id: int primary key
src_returns:
  create:
    features:
      id: int primary key
`)

	loader := NewLoader(root, nil)
	raws, err := loader.LoadAll(KindTable)
	require.NoError(t, err)
	require.Len(t, raws, 3)

	// first-seen order across lexically sorted files
	names := []string{raws[0].Name, raws[1].Name, raws[2].Name}
	assert.Equal(t, []string{"ai_sales_summary", "src_orders", "src_returns"}, names)
}

func TestRegistry(t *testing.T) {
	root := t.TempDir()
	writeCatalog(t, root, KindTable, "catalog_src_orders.yaml", `
src_orders:
  create:
    features:
      order_id: bigint primary key
`)
	writeCatalog(t, root, KindPipeline, "pipeline_daily.yaml", `
daily_sales:
  id: PL-0042
  nodes:
    - src_orders
`)

	reg, err := NewRegistry(NewLoader(root, nil), nil)
	require.NoError(t, err)

	tbl, err := reg.Table("src_orders")
	require.NoError(t, err)
	assert.Equal(t, "src_orders", tbl.Name)

	tbl, err = reg.Table("so")
	require.NoError(t, err)
	assert.Equal(t, "src_orders", tbl.Name)

	p, err := reg.Pipeline("PL-0042")
	require.NoError(t, err)
	assert.Equal(t, "daily_sales", p.Name)

	_, err = reg.Table("nope")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)

	// a new catalog appears only after Reload
	writeCatalog(t, root, KindTable, "catalog_src_returns.yaml", `
src_returns:
  create:
    features:
      return_id: bigint primary key
`)
	_, err = reg.Table("src_returns")
	require.Error(t, err)

	require.NoError(t, reg.Reload())
	_, err = reg.Table("src_returns")
	require.NoError(t, err)
	assert.Len(t, reg.Tables(), 2)
}

func TestRegistrySkipsInvalidEntries(t *testing.T) {
	root := t.TempDir()
	writeCatalog(t, root, KindTable, "catalog_mixed.yaml", `
src_good:
  create:
    features:
      id: int primary key
src_bad:
  type: scala
  create:
    features:
      id: int
`)

	reg, err := NewRegistry(NewLoader(root, nil), nil)
	require.NoError(t, err)
	assert.Len(t, reg.Tables(), 1)
	_, err = reg.Table("src_good")
	require.NoError(t, err)
}
