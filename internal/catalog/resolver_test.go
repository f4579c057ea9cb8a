package catalog

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testDescriptor(name, domain string, keywords []string) Descriptor {
	return Descriptor{
		Name:             name,
		Domain:           domain,
		Keywords:         keywords,
		Table:            "tbl_" + name,
		TimeColumn:       "ts",
		ValueColumns:     []string{"v"},
		SamplingInterval: time.Minute,
	}
}

func TestPanelgen_Resolver_MatchesSettlementPrices(t *testing.T) {
	t.Parallel()

	r := NewResolver(Default())
	d, err := r.Resolve("Show me west hub prices over 24 hours")
	require.NoError(t, err)
	require.Equal(t, "settlement-prices", d.Name)
}

func TestPanelgen_Resolver_MatchesCapacityMonitor(t *testing.T) {
	t.Parallel()

	r := NewResolver(Default())
	d, err := r.Resolve("responsive reserve capacity for the grid")
	require.NoError(t, err)
	require.Equal(t, "capacity-monitor", d.Name)
}

func TestPanelgen_Resolver_NoMatch(t *testing.T) {
	t.Parallel()

	r := NewResolver(Default())
	_, err := r.Resolve("weather forecast for tomorrow")
	require.ErrorIs(t, err, ErrNoMatch)
}

func TestPanelgen_Resolver_TieWithinDomainUsesDeclarationOrder(t *testing.T) {
	t.Parallel()

	c, err := New([]Descriptor{
		testDescriptor("first", "pricing", []string{"price"}),
		testDescriptor("second", "pricing", []string{"price"}),
	})
	require.NoError(t, err)

	d, err := NewResolver(c).Resolve("price data")
	require.NoError(t, err)
	require.Equal(t, "first", d.Name)
}

func TestPanelgen_Resolver_TieAcrossDomainsIsAmbiguous(t *testing.T) {
	t.Parallel()

	c, err := New([]Descriptor{
		testDescriptor("prices", "pricing", []string{"market"}),
		testDescriptor("outages", "operations", []string{"market"}),
	})
	require.NoError(t, err)

	_, err = NewResolver(c).Resolve("market data")
	var amb *AmbiguityError
	require.ErrorAs(t, err, &amb)
	require.ElementsMatch(t, []string{"prices", "outages"}, amb.Candidates)
}

func TestPanelgen_Resolver_HigherOverlapWins(t *testing.T) {
	t.Parallel()

	c, err := New([]Descriptor{
		testDescriptor("weak", "pricing", []string{"price"}),
		testDescriptor("strong", "operations", []string{"price", "outage", "reserve"}),
	})
	require.NoError(t, err)

	d, err := NewResolver(c).Resolve("price during the outage")
	require.NoError(t, err)
	require.Equal(t, "strong", d.Name)
}

func TestPanelgen_Catalog_ValidatesDescriptors(t *testing.T) {
	t.Parallel()

	_, err := New(nil)
	require.ErrorContains(t, err, "empty")

	bad := testDescriptor("x", "d", []string{"k"})
	bad.TimeColumn = ""
	_, err = New([]Descriptor{bad})
	require.ErrorContains(t, err, "time column")

	dup := testDescriptor("x", "d", []string{"k"})
	_, err = New([]Descriptor{testDescriptor("x", "d", []string{"k"}), dup})
	require.ErrorContains(t, err, "duplicate")
}

func TestPanelgen_Catalog_Tokenize(t *testing.T) {
	t.Parallel()

	require.Equal(t,
		[]string{"show", "me", "west", "hub", "prices", "over", "24", "hours"},
		Tokenize("Show me west-hub prices, over 24 hours!"))
}

func TestPanelgen_Catalog_DefaultIsValid(t *testing.T) {
	t.Parallel()

	c := Default()
	require.Len(t, c.Descriptors(), 2)
	for _, d := range c.Descriptors() {
		require.NotEmpty(t, d.Columns())
	}
	require.True(t, errors.Is(func() error {
		_, err := NewResolver(c).Resolve("xyzzy")
		return err
	}(), ErrNoMatch))
}
