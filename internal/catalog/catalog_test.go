package catalog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testCatalogYAML = `
sources:
  - name: settlement-prices
    domain: pricing
    description: Settlement point prices.
    keywords: [price, hub, settlement]
    table: ercot_settlement_prices
    time_column: ts
    value_columns: [price_usd]
    dimensions:
      - column: hub
        values: [west, north]
    sampling_interval: 15m
  - name: capacity-monitor
    domain: operations
    description: Capacity data.
    keywords: [capacity, reserve]
    table: ercot_capacity_monitor
    time_column: ts
    value_columns: [value_mw]
    sampling_interval: 1m
`

func TestPanelgen_Catalog_LoadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testCatalogYAML), 0o644))

	c, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, c.Descriptors(), 2)

	prices := c.Descriptors()[0]
	require.Equal(t, "settlement-prices", prices.Name)
	require.Equal(t, "ercot_settlement_prices", prices.Table)
	require.Equal(t, 15*time.Minute, prices.SamplingInterval)
	require.Equal(t, []string{"ts", "price_usd", "hub"}, prices.Columns())
}

func TestPanelgen_Catalog_LoadFileRejectsBadInterval(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "catalog.yaml")
	bad := `
sources:
  - name: x
    keywords: [k]
    table: t
    time_column: ts
    value_columns: [v]
    sampling_interval: often
`
	require.NoError(t, os.WriteFile(path, []byte(bad), 0o644))
	_, err := LoadFile(path)
	require.ErrorContains(t, err, "sampling_interval")
}

func TestPanelgen_Catalog_LoadFileMissing(t *testing.T) {
	t.Parallel()

	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.ErrorContains(t, err, "failed to read catalog file")
}
