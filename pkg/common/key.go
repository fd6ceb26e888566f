package common

import "strings"

// NormalizeLabel lower-cases a label and collapses every run of whitespace
// (including newlines) into a single space.
func NormalizeLabel(label string) string {
	return strings.ToLower(strings.Join(strings.Fields(label), " "))
}

// CanonicalKey is the sole deduplication signal for entities: the
// normalized label combined with the type tag. Near-duplicate spellings
// ("User Drop-off" vs "User Dropoff") produce different keys.
func CanonicalKey(label string, typ EntityType) string {
	return NormalizeLabel(label) + "|" + string(typ)
}
