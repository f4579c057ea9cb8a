package catalog

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoMatch is returned when no descriptor shares a keyword with the
// request. No panel can be built without a backing table, so callers treat
// this as terminal.
var ErrNoMatch = errors.New("no matching data source")

// AmbiguityError is returned when the top keyword score ties across
// descriptors serving materially different domains. The resolver surfaces
// the candidates rather than guessing.
type AmbiguityError struct {
	Candidates []string
}

func (e *AmbiguityError) Error() string {
	return fmt.Sprintf("ambiguous data source, candidates: %s", strings.Join(e.Candidates, ", "))
}

// Resolver scores catalog descriptors against request tokens.
type Resolver struct {
	catalog *Catalog
}

// NewResolver creates a Resolver over a catalog.
func NewResolver(c *Catalog) *Resolver {
	return &Resolver{catalog: c}
}

// Resolve picks the descriptor whose keyword set overlaps the request tokens
// the most. Ties are broken by declaration order, except when the tied
// descriptors belong to different domains, in which case an AmbiguityError
// lists the candidates.
func (r *Resolver) Resolve(text string) (*Descriptor, error) {
	tokens := Tokenize(text)
	tokenSet := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		tokenSet[t] = true
	}

	best := -1
	bestScore := 0
	var tied []int
	for i := range r.catalog.descriptors {
		score := 0
		for _, kw := range r.catalog.descriptors[i].Keywords {
			if tokenSet[kw] {
				score++
			}
		}
		switch {
		case score > bestScore:
			best, bestScore = i, score
			tied = tied[:0]
		case score == bestScore && score > 0:
			tied = append(tied, i)
		}
	}

	if bestScore == 0 {
		return nil, ErrNoMatch
	}

	for _, i := range tied {
		if r.catalog.descriptors[i].Domain != r.catalog.descriptors[best].Domain {
			names := []string{r.catalog.descriptors[best].Name}
			for _, j := range tied {
				names = append(names, r.catalog.descriptors[j].Name)
			}
			return nil, &AmbiguityError{Candidates: names}
		}
	}

	return &r.catalog.descriptors[best], nil
}
