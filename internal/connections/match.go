package connections

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// newMatcher returns a predicate reporting whether a value contains query
// after compatibility normalisation and Unicode case folding.
func newMatcher(query string) func(string) bool {
	needle := fold(query)
	return func(value string) bool {
		return strings.Contains(fold(value), needle)
	}
}

func fold(value string) string {
	// Casers carry state and are not shared.
	return cases.Fold().String(norm.NFKC.String(value))
}
