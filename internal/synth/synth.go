// Package synth builds parameterized, time-bounded queries from a resolved
// data-source descriptor and the constraints found in the request text. User
// text never reaches the query string: time bounds and dimension values are
// bound parameters, and dimension values are the catalog's canonical strings.
package synth

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/gridpulse/panelgen/internal/catalog"
)

const (
	// DefaultWindow bounds queries when the request names no window.
	DefaultWindow = 24 * time.Hour
	// MaxWindow caps how far back a request may reach.
	MaxWindow = 90 * 24 * time.Hour
	// DefaultMaxRows is the row-limit ceiling applied to synthesized queries.
	DefaultMaxRows = 10000
)

// ErrMalformedWindow reports an unusable time constraint in the request.
var ErrMalformedWindow = errors.New("malformed time window")

// Filter is one bound dimension predicate.
type Filter struct {
	Column string
	Values []string
}

// Window is the half-open time range [From, To).
type Window struct {
	From time.Time
	To   time.Time
}

// Query is a synthesized, parameterized query. SQL uses positional '?'
// placeholders matching Args. The structured fields let later stages render
// or inspect the query without parsing SQL.
type Query struct {
	SQL  string
	Args []any

	Table         string
	TimeColumn    string
	SelectColumns []string
	Window        Window
	Filters       []Filter
	Limit         int

	// EstimatedRows is a heuristic from the window and the source's
	// sampling interval, used to bound preview cost.
	EstimatedRows int

	Source *catalog.Descriptor
}

// SynthesizerConfig holds the configuration for a Synthesizer.
type SynthesizerConfig struct {
	MaxRows int // row-limit ceiling; defaults to DefaultMaxRows
}

func (c *SynthesizerConfig) Validate() error {
	if c.MaxRows == 0 {
		c.MaxRows = DefaultMaxRows
	}
	if c.MaxRows < 0 {
		return errors.New("max rows must be > 0")
	}
	return nil
}

// Synthesizer produces queries for resolved descriptors.
type Synthesizer struct {
	cfg SynthesizerConfig
}

// NewSynthesizer creates a Synthesizer.
func NewSynthesizer(cfg SynthesizerConfig) (*Synthesizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Synthesizer{cfg: cfg}, nil
}

var windowRe = regexp.MustCompile(`(?i)(?:over|last|past|previous|trailing)\s+(?:the\s+)?(\d+)\s*(minute|hour|day|week)s?`)

// parseWindow extracts an explicit trailing window from the request text,
// or returns DefaultWindow.
func parseWindow(text string) (time.Duration, error) {
	m := windowRe.FindStringSubmatch(text)
	if m == nil {
		return DefaultWindow, nil
	}
	var n int
	if _, err := fmt.Sscanf(m[1], "%d", &n); err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrMalformedWindow, m[0])
	}
	var unit time.Duration
	switch strings.ToLower(m[2]) {
	case "minute":
		unit = time.Minute
	case "hour":
		unit = time.Hour
	case "day":
		unit = 24 * time.Hour
	case "week":
		unit = 7 * 24 * time.Hour
	}
	d := time.Duration(n) * unit
	if d > MaxWindow {
		return 0, fmt.Errorf("%w: %s exceeds maximum %s", ErrMalformedWindow, d, MaxWindow)
	}
	return d, nil
}

// extractFilters matches the descriptor's declared dimension values against
// the request as whole-word phrases. Values are normalized through the same
// tokenizer as the request, so an underscored catalog value like
// "responsive_reserve" matches "responsive reserve" in the text. The
// canonical catalog value is bound, never the raw request words.
func extractFilters(tokens []string, d *catalog.Descriptor) []Filter {
	haystack := " " + strings.Join(tokens, " ") + " "
	var filters []Filter
	for _, dim := range d.Dimensions {
		var matched []string
		for _, v := range dim.Values {
			phrase := " " + strings.Join(catalog.Tokenize(v), " ") + " "
			if strings.Contains(haystack, phrase) {
				matched = append(matched, v)
			}
		}
		if len(matched) > 0 {
			filters = append(filters, Filter{Column: dim.Column, Values: matched})
		}
	}
	return filters
}

// Synthesize builds a query for the request text against the descriptor.
// now anchors the trailing window.
func (s *Synthesizer) Synthesize(text string, d *catalog.Descriptor, now time.Time) (*Query, error) {
	window, err := parseWindow(text)
	if err != nil {
		return nil, err
	}

	to := now
	from := to.Add(-window)
	tokens := catalog.Tokenize(text)
	filters := extractFilters(tokens, d)

	estimated := int(window / d.SamplingInterval)
	if estimated < 1 {
		estimated = 1
	}
	limit := estimated
	if limit > s.cfg.MaxRows {
		limit = s.cfg.MaxRows
	}

	cols := append([]string{d.TimeColumn}, d.ValueColumns...)
	for _, f := range filters {
		cols = append(cols, f.Column)
	}

	var b strings.Builder
	args := make([]any, 0, 2+len(filters))
	fmt.Fprintf(&b, "SELECT %s FROM %s WHERE %s >= ? AND %s < ?",
		strings.Join(cols, ", "), d.Table, d.TimeColumn, d.TimeColumn)
	args = append(args, from, to)
	for _, f := range filters {
		if len(f.Values) == 1 {
			fmt.Fprintf(&b, " AND %s = ?", f.Column)
			args = append(args, f.Values[0])
			continue
		}
		fmt.Fprintf(&b, " AND %s IN (%s)", f.Column, placeholders(len(f.Values)))
		for _, v := range f.Values {
			args = append(args, v)
		}
	}
	fmt.Fprintf(&b, " ORDER BY %s LIMIT %d", d.TimeColumn, limit)

	return &Query{
		SQL:           b.String(),
		Args:          args,
		Table:         d.Table,
		TimeColumn:    d.TimeColumn,
		SelectColumns: cols,
		Window:        Window{From: from, To: to},
		Filters:       filters,
		Limit:         limit,
		EstimatedRows: estimated,
		Source:        d,
	}, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
