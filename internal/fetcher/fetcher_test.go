package fetcher

import "testing"

func TestSanitizeTitle(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "underscores and dashes become spaces",
			input: "my_track-name",
			want:  "my track name",
		},
		{
			name:  "whitespace collapses",
			input: "  too   many\tspaces  ",
			want:  "too many spaces",
		},
		{
			name:  "unprintables stripped",
			input: "bad\x00chars\x1fhere",
			want:  "badcharshere",
		},
		{
			name:  "empty input falls back",
			input: "",
			want:  "Untitled",
		},
		{
			name:  "only separators falls back",
			input: "___---",
			want:  "Untitled",
		},
		{
			name:  "plain title unchanged",
			input: "Song Title",
			want:  "Song Title",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeTitle(tt.input); got != tt.want {
				t.Errorf("SanitizeTitle(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSanitizeTitleTruncation(t *testing.T) {
	long := ""
	for i := 0; i < 60; i++ {
		long += "abcde "
	}
	got := SanitizeTitle(long)
	if len(got) > 200 {
		t.Errorf("sanitized title length %d exceeds 200", len(got))
	}
	if got[len(got)-1] == ' ' {
		t.Error("truncated title should not end with a space")
	}
}

func TestQuantizeProgress(t *testing.T) {
	tests := []struct {
		pct  float64
		want int
	}{
		{0, 0},
		{1.9, 0},
		{2.1, 1},
		{50, 13},
		{99.9, 25},
		{100, 25},
		{-10, 0},
		{150, 25},
	}
	for _, tt := range tests {
		if got := QuantizeProgress(tt.pct); got != tt.want {
			t.Errorf("QuantizeProgress(%v) = %d, want %d", tt.pct, got, tt.want)
		}
	}
}
