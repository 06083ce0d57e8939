// Package normalize canonicalizes user-supplied identifiers before they are
// stored or compared.
package normalize

import "strings"

// Email trims surrounding whitespace and lower-cases the address.
func Email(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}

// DisplayName trims the name and collapses internal runs of whitespace.
func DisplayName(n string) string {
	return strings.Join(strings.Fields(n), " ")
}
