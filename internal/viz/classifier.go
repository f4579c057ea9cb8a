package viz

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
)

// Completer sends a prompt to the AI backend and returns the response text.
// Implementations report unavailability (quota, credential, timeout, open
// breaker) as an error; the classifier treats any error as a signal to fall
// back deterministically.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// ClassifierConfig holds the configuration for a Classifier.
type ClassifierConfig struct {
	Logger *slog.Logger
	LLM    Completer // optional; nil means fallback-only

	// OnPath, if set, is invoked with the strategy that produced each
	// classification. Used for accuracy tracking.
	OnPath func(Path)
}

func (c *ClassifierConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}

// Classifier determines the visualization type for a request.
type Classifier struct {
	cfg ClassifierConfig
	log *slog.Logger
}

// NewClassifier creates a Classifier.
func NewClassifier(cfg ClassifierConfig) (*Classifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Classifier{cfg: cfg, log: cfg.Logger}, nil
}

const classifySystemPrompt = `You classify analytics requests for a grid
telemetry dashboard. Respond with JSON only:
{"visualization_type": "<line|bar|gauge|table|area|scatter>"}
Pick "line" for trends over time, "bar" for comparisons, "gauge" for a single
current value, "table" for tabular listings, "area" for filled trend charts,
and "scatter" for correlations.`

// Classify returns a visualization type for the request text. It never
// returns an error: AI unavailability or an unparseable response routes to
// the keyword fallback, and the fallback always produces a type.
func (c *Classifier) Classify(ctx context.Context, text string) Outcome {
	if c.cfg.LLM != nil {
		if t, ok := c.classifyAI(ctx, text); ok {
			c.log.Info("classifier: used AI path", "type", t)
			c.record(PathAI)
			return Outcome{Type: t, Path: PathAI}
		}
	}
	t := classifyKeywords(text)
	c.log.Info("classifier: used deterministic fallback", "type", t)
	c.record(PathFallback)
	return Outcome{Type: t, Path: PathFallback}
}

func (c *Classifier) record(p Path) {
	if c.cfg.OnPath != nil {
		c.cfg.OnPath(p)
	}
}

func (c *Classifier) classifyAI(ctx context.Context, text string) (Type, bool) {
	resp, err := c.cfg.LLM.Complete(ctx, classifySystemPrompt, "Request: "+text)
	if err != nil {
		c.log.Info("classifier: AI backend unavailable, falling back", "error", err)
		return "", false
	}
	var parsed struct {
		VisualizationType string `json:"visualization_type"`
	}
	jsonStr := extractJSON(resp)
	if jsonStr == "" {
		c.log.Info("classifier: no JSON in AI response, falling back")
		return "", false
	}
	if err := json.Unmarshal([]byte(jsonStr), &parsed); err != nil {
		c.log.Info("classifier: unparseable AI response, falling back", "error", err)
		return "", false
	}
	t, err := ParseType(parsed.VisualizationType)
	if err != nil {
		c.log.Info("classifier: invalid type from AI, falling back", "error", err)
		return "", false
	}
	return t, true
}

// keywordRule pairs a visualization type with the phrases that select it.
// Rules are checked in order; the first match wins.
type keywordRule struct {
	typ      Type
	keywords []string
}

// Explicit chart-type mentions are checked before contextual hints so that
// "bar chart of current prices" yields bar, not gauge.
var keywordRules = []keywordRule{
	{TypeBar, []string{"bar chart", "bar graph", "bars", "column chart", "histogram"}},
	{TypeGauge, []string{"gauge", "meter", "dial", "single value"}},
	{TypeTable, []string{"table", "tabular", "data table", "list"}},
	{TypeScatter, []string{"scatter", "correlation", "relationship"}},
	{TypeArea, []string{"area chart", "area graph", "filled chart"}},
	{TypeLine, []string{"line chart", "line graph", "time series", "timeseries", "trend"}},
	{TypeBar, []string{"compare", " vs ", "versus", "against"}},
	{TypeGauge, []string{"current", "right now", "latest", "today"}},
	{TypeLine, []string{"over time", "over the last", "history", "historical", "evolution"}},
}

// classifyKeywords is the deterministic fallback. A request mentioning a
// time window ("over 24 hours") counts as trend intent.
func classifyKeywords(text string) Type {
	lower := strings.ToLower(text)
	for _, rule := range keywordRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.typ
			}
		}
	}
	if strings.Contains(lower, "over") && (strings.Contains(lower, "hour") || strings.Contains(lower, "day") || strings.Contains(lower, "week")) {
		return TypeLine
	}
	return DefaultType
}

// extractJSON returns the first balanced JSON object in s, or "".
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	if start < 0 {
		return ""
	}
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
