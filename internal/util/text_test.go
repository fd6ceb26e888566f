package util

import "testing"

func TestSanitizePostgresText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "empty", input: "", want: ""},
		{name: "plain", input: "Slow Load Time", want: "Slow Load Time"},
		{name: "null byte", input: "Q1:\x00 why?", want: "Q1: why?"},
		{name: "invalid utf8", input: string([]byte{'a', 0xff, 'b'}), want: "ab"},
		{name: "multibyte kept", input: "Größe…", want: "Größe…"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizePostgresText(tt.input); got != tt.want {
				t.Fatalf("SanitizePostgresText() = %q, want %q", got, tt.want)
			}
		})
	}
}
