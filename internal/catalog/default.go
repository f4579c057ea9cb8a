package catalog

import "time"

// Default returns the built-in ERCOT catalog used when no catalog file is
// configured. Settlement prices are sampled every 15 minutes, the capacity
// monitor every minute.
func Default() *Catalog {
	c, err := New([]Descriptor{
		{
			Name:        "settlement-prices",
			Domain:      "pricing",
			Description: "Settlement point prices for hubs and load zones, real-time and day-ahead locational marginal pricing.",
			Keywords: []string{
				"price", "prices", "pricing", "settlement", "hub", "zone",
				"cost", "market", "clearing", "lmp", "marginal", "energy",
			},
			Table:        "ercot_settlement_prices",
			TimeColumn:   "ts",
			ValueColumns: []string{"price_usd"},
			Dimensions: []Dimension{
				{Column: "hub", Values: []string{"west", "north", "south", "houston", "pan", "busavg", "hubavg"}},
				{Column: "market", Values: []string{"realtime", "dayahead"}},
			},
			SamplingInterval: 15 * time.Minute,
		},
		{
			Name:        "capacity-monitor",
			Domain:      "operations",
			Description: "Grid capacity, reserves, ancillary services and system stress indicators.",
			Keywords: []string{
				"capacity", "reserve", "reserves", "ancillary", "stress",
				"demand", "load", "generation", "regulation", "contingency",
				"spinning", "emergency", "outage", "outages", "margin",
				"frequency", "stability",
			},
			Table:        "ercot_capacity_monitor",
			TimeColumn:   "ts",
			ValueColumns: []string{"value_mw"},
			Dimensions: []Dimension{
				{Column: "category", Values: []string{
					"system_available", "responsive_reserve", "non_spin_reserve",
					"regulation", "emergency_outage", "operating_reserve",
				}},
			},
			SamplingInterval: time.Minute,
		},
	})
	if err != nil {
		// The built-in catalog is validated by tests; a failure here is a
		// programming error.
		panic(err)
	}
	return c
}
