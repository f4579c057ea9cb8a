// Package viz classifies free-text analytics requests into a visualization
// type. Classification prefers the AI backend and falls back to a
// deterministic keyword matcher when the backend is unavailable, so it never
// fails a request.
package viz

import "fmt"

// Type identifies a panel visualization style.
type Type string

const (
	TypeLine    Type = "line"
	TypeBar     Type = "bar"
	TypeGauge   Type = "gauge"
	TypeTable   Type = "table"
	TypeArea    Type = "area"
	TypeScatter Type = "scatter"
)

// DefaultType is used when no recognizable chart intent is found.
const DefaultType = TypeLine

// ParseType validates a visualization type string.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case TypeLine, TypeBar, TypeGauge, TypeTable, TypeArea, TypeScatter:
		return Type(s), nil
	}
	return "", fmt.Errorf("unknown visualization type %q", s)
}

// Path records which classification strategy produced the result.
type Path string

const (
	PathAI       Path = "ai"
	PathFallback Path = "fallback"
)

// Outcome is the classifier's result. Type is always set.
type Outcome struct {
	Type Type
	Path Path
}
