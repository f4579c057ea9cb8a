// Package validate is the sole barrier between free-text-influenced query
// synthesis and execution against a live store. It is a pure gate: rules are
// checked in order against the query text and the resolved descriptor, with
// no side effects, so re-validation of the same query is idempotent.
package validate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/gridpulse/panelgen/internal/catalog"
	"github.com/gridpulse/panelgen/internal/synth"
)

// Rule names a validation rule for reporting.
type Rule string

const (
	RuleReadOnly    Rule = "read_only_statement"
	RuleWhitelist   Rule = "schema_whitelist"
	RuleTimeBound   Rule = "time_bound_predicate"
	RuleRowLimit    Rule = "row_limit_ceiling"
	RuleBoundParams Rule = "bound_parameters_only"
)

// Violation is one failed rule with detail.
type Violation struct {
	Rule   Rule
	Detail string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Rule, v.Detail)
}

// Result is the validation outcome. A query with OK false must never reach
// preview or deployment.
type Result struct {
	OK         bool
	Violations []Violation
}

// ValidatorConfig holds the configuration for a Validator.
type ValidatorConfig struct {
	MaxRows int // row-limit ceiling; defaults to synth.DefaultMaxRows
}

func (c *ValidatorConfig) Validate() error {
	if c.MaxRows == 0 {
		c.MaxRows = synth.DefaultMaxRows
	}
	if c.MaxRows < 0 {
		return fmt.Errorf("max rows must be > 0")
	}
	return nil
}

// Validator enforces the query security rules.
type Validator struct {
	cfg ValidatorConfig
}

// NewValidator creates a Validator.
func NewValidator(cfg ValidatorConfig) (*Validator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Validator{cfg: cfg}, nil
}

var mutationKeywords = []string{
	"insert", "update", "delete", "drop", "alter", "create", "truncate",
	"grant", "revoke", "attach", "detach", "rename", "optimize", "set",
	"kill", "system",
}

// sqlKeywords are tokens the whitelist check ignores when scanning the query
// for identifiers.
var sqlKeywords = map[string]bool{
	"select": true, "from": true, "where": true, "and": true, "or": true,
	"not": true, "in": true, "order": true, "by": true, "limit": true,
	"asc": true, "desc": true, "as": true, "between": true, "is": true,
	"null": true,
}

var identifierRe = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)
var limitRe = regexp.MustCompile(`(?i)\bLIMIT\s+(\d+)\s*$`)

// Check runs the rules in order and short-circuits on the first failure.
func (v *Validator) Check(q *synth.Query, d *catalog.Descriptor) Result {
	checks := []func(*synth.Query, *catalog.Descriptor) *Violation{
		v.checkReadOnly,
		v.checkWhitelist,
		v.checkTimeBound,
		v.checkRowLimit,
		v.checkBoundParams,
	}
	for _, check := range checks {
		if viol := check(q, d); viol != nil {
			return Result{OK: false, Violations: []Violation{*viol}}
		}
	}
	return Result{OK: true}
}

// Rule 1: a single read-only statement, no mutation keywords.
func (v *Validator) checkReadOnly(q *synth.Query, _ *catalog.Descriptor) *Violation {
	sql := strings.TrimSpace(q.SQL)
	if strings.Contains(strings.TrimSuffix(sql, ";"), ";") {
		return &Violation{RuleReadOnly, "multiple statements"}
	}
	if !strings.HasPrefix(strings.ToLower(sql), "select") {
		return &Violation{RuleReadOnly, "statement is not a SELECT"}
	}
	lower := strings.ToLower(sql)
	for _, kw := range mutationKeywords {
		if containsWord(lower, kw) {
			return &Violation{RuleReadOnly, fmt.Sprintf("mutation keyword %q", kw)}
		}
	}
	return nil
}

// Rule 2: only the descriptor's table and declared columns may be
// referenced. This is a whitelist scan over every identifier in the query.
func (v *Validator) checkWhitelist(q *synth.Query, d *catalog.Descriptor) *Violation {
	if q.Table != d.Table {
		return &Violation{RuleWhitelist, fmt.Sprintf("table %q not in descriptor %q", q.Table, d.Name)}
	}
	allowed := map[string]bool{strings.ToLower(d.Table): true}
	for _, col := range d.Columns() {
		allowed[strings.ToLower(col)] = true
	}
	for _, ident := range identifierRe.FindAllString(q.SQL, -1) {
		lower := strings.ToLower(ident)
		if sqlKeywords[lower] || allowed[lower] {
			continue
		}
		return &Violation{RuleWhitelist, fmt.Sprintf("identifier %q not in descriptor schema", ident)}
	}
	return nil
}

// Rule 3: the mandatory time-bound predicate on the descriptor's time
// column, with both bounds as placeholders.
func (v *Validator) checkTimeBound(q *synth.Query, d *catalog.Descriptor) *Violation {
	want := fmt.Sprintf("%s >= ? AND %s < ?", d.TimeColumn, d.TimeColumn)
	if !strings.Contains(q.SQL, want) {
		return &Violation{RuleTimeBound, fmt.Sprintf("missing bounded predicate on %q", d.TimeColumn)}
	}
	if q.Window.To.IsZero() || !q.Window.From.Before(q.Window.To) {
		return &Violation{RuleTimeBound, "time window is empty or inverted"}
	}
	return nil
}

// Rule 4: an explicit LIMIT not exceeding the ceiling.
func (v *Validator) checkRowLimit(q *synth.Query, _ *catalog.Descriptor) *Violation {
	m := limitRe.FindStringSubmatch(strings.TrimSpace(q.SQL))
	if m == nil {
		return &Violation{RuleRowLimit, "missing explicit LIMIT"}
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 {
		return &Violation{RuleRowLimit, fmt.Sprintf("unusable LIMIT %q", m[1])}
	}
	if n > v.cfg.MaxRows {
		return &Violation{RuleRowLimit, fmt.Sprintf("LIMIT %d exceeds ceiling %d", n, v.cfg.MaxRows)}
	}
	return nil
}

// Rule 5: no inline literals; every user-derived value must be a bound
// parameter. Quoted strings are rejected outright, and the placeholder count
// must match the bound argument list.
func (v *Validator) checkBoundParams(q *synth.Query, _ *catalog.Descriptor) *Violation {
	if strings.ContainsAny(q.SQL, `'"`) {
		return &Violation{RuleBoundParams, "inline quoted literal"}
	}
	if got := strings.Count(q.SQL, "?"); got != len(q.Args) {
		return &Violation{RuleBoundParams, fmt.Sprintf("%d placeholders for %d bound args", got, len(q.Args))}
	}
	return nil
}

func containsWord(s, word string) bool {
	idx := 0
	for {
		i := strings.Index(s[idx:], word)
		if i < 0 {
			return false
		}
		i += idx
		before := i == 0 || !isWordByte(s[i-1])
		after := i+len(word) >= len(s) || !isWordByte(s[i+len(word)])
		if before && after {
			return true
		}
		idx = i + len(word)
	}
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
