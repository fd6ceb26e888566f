package util

import "strings"

// SanitizePostgresText drops invalid UTF-8 and NUL bytes, neither of which a
// Postgres text column accepts. Stage outputs come straight from a model.
func SanitizePostgresText(value string) string {
	if value == "" {
		return value
	}
	return strings.ReplaceAll(strings.ToValidUTF8(value, ""), "\x00", "")
}
