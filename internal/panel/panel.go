// Package panel turns a validated query and its preview sample into a
// deployable panel definition. The preview is used only to pick sensible
// display defaults; the panel's own query re-executes through the dashboard
// datasource with its native time-range macro.
package panel

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/gridpulse/panelgen/internal/preview"
	"github.com/gridpulse/panelgen/internal/synth"
	"github.com/gridpulse/panelgen/internal/viz"
)

// YScale selects the Y-axis mode derived from the preview schema.
type YScale string

const (
	YScaleNumeric     YScale = "numeric"
	YScaleCategorical YScale = "categorical"
)

// Options are display hints for the rendered panel.
type Options struct {
	XAxisLabel string
	YAxisLabel string
	YScale     YScale
	ColorHint  string
}

// Spec is a complete panel definition ready for deployment. ContentHash is
// the deduplication fingerprint over (type, normalized query, dashboard id).
type Spec struct {
	Type        viz.Type
	Title       string
	RawSQL      string
	DashboardID string
	Options     Options
	ContentHash string
}

// Build creates a Spec. dashboardID may be empty, in which case the
// publisher creates a dedicated dashboard.
func Build(t viz.Type, q *synth.Query, sample *preview.Sample, dashboardID string) *Spec {
	raw := renderDashboardSQL(q)
	return &Spec{
		Type:        t,
		Title:       title(q),
		RawSQL:      raw,
		DashboardID: dashboardID,
		Options: Options{
			XAxisLabel: q.TimeColumn,
			YAxisLabel: strings.Join(q.Source.ValueColumns, ", "),
			YScale:     yScale(q, sample),
			ColorHint:  "palette-classic",
		},
		ContentHash: ContentHash(t, raw, dashboardID),
	}
}

// ContentHash fingerprints a panel's defining attributes.
func ContentHash(t viz.Type, rawSQL, dashboardID string) string {
	h := sha256.New()
	h.Write([]byte(string(t)))
	h.Write([]byte{0})
	h.Write([]byte(NormalizeSQL(rawSQL)))
	h.Write([]byte{0})
	h.Write([]byte(dashboardID))
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeSQL collapses whitespace so formatting differences do not defeat
// deduplication.
func NormalizeSQL(sql string) string {
	return strings.ToLower(strings.Join(strings.Fields(sql), " "))
}

// renderDashboardSQL rewrites the synthesized query for the dashboard
// datasource: the bound time window becomes the dashboard's time-range macro
// and dimension filters are inlined from the catalog's canonical values.
// Values never come from raw user text; the validator has already confirmed
// every bound value is a catalog constant.
func renderDashboardSQL(q *synth.Query) string {
	var b strings.Builder
	cols := make([]string, 0, len(q.SelectColumns))
	for _, c := range q.SelectColumns {
		if c == q.TimeColumn {
			cols = append(cols, fmt.Sprintf("%s AS time", c))
			continue
		}
		cols = append(cols, c)
	}
	fmt.Fprintf(&b, "SELECT %s FROM %s WHERE $__timeFilter(%s)",
		strings.Join(cols, ", "), q.Table, q.TimeColumn)
	for _, f := range q.Filters {
		if len(f.Values) == 1 {
			fmt.Fprintf(&b, " AND %s = '%s'", f.Column, escape(f.Values[0]))
			continue
		}
		quoted := make([]string, len(f.Values))
		for i, v := range f.Values {
			quoted[i] = "'" + escape(v) + "'"
		}
		fmt.Fprintf(&b, " AND %s IN (%s)", f.Column, strings.Join(quoted, ", "))
	}
	fmt.Fprintf(&b, " ORDER BY %s LIMIT %d", q.TimeColumn, q.Limit)
	return b.String()
}

func escape(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// yScale picks the axis mode from the preview's column schema: numeric when
// every non-time column scans as a number.
func yScale(q *synth.Query, sample *preview.Sample) YScale {
	if sample == nil {
		return YScaleNumeric
	}
	for _, col := range sample.Columns {
		if col.Name == q.TimeColumn {
			continue
		}
		if !col.Numeric {
			return YScaleCategorical
		}
	}
	return YScaleNumeric
}

// title derives a readable panel title from the source and its filters,
// e.g. "Settlement Prices (west)".
func title(q *synth.Query) string {
	words := strings.Split(q.Source.Name, "-")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	name := strings.Join(words, " ")
	var vals []string
	for _, f := range q.Filters {
		vals = append(vals, f.Values...)
	}
	if len(vals) == 0 {
		return name
	}
	return fmt.Sprintf("%s (%s)", name, strings.Join(vals, ", "))
}
