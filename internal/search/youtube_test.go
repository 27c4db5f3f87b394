package search

import "testing"

func TestParseISO8601Duration(t *testing.T) {
	tests := []struct {
		input string
		want  int
		ok    bool
	}{
		{"PT3M42S", 222, true},
		{"PT1H2M3S", 3723, true},
		{"PT45S", 45, true},
		{"PT2H", 7200, true},
		{"PT0S", 0, true},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseISO8601Duration(tt.input)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseISO8601Duration(%q) = (%d, %v), want (%d, %v)", tt.input, got, ok, tt.want, tt.ok)
		}
	}
}

func TestFormatSearchTitle(t *testing.T) {
	tests := []struct {
		name  string
		entry ytDlpEntry
		want  string
	}{
		{
			name:  "track and artist",
			entry: ytDlpEntry{Track: "Song", Artist: "Band", Title: "ignored"},
			want:  "Song - Band",
		},
		{
			name:  "uploader fallback for artist",
			entry: ytDlpEntry{Track: "Song", Uploader: "Channel"},
			want:  "Song - Channel",
		},
		{
			name:  "title fallback",
			entry: ytDlpEntry{Title: "Some Video"},
			want:  "Some Video",
		},
		{
			name:  "nothing at all",
			entry: ytDlpEntry{},
			want:  "Unknown title",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatSearchTitle(&tt.entry); got != tt.want {
				t.Errorf("formatSearchTitle() = %q, want %q", got, tt.want)
			}
		})
	}
}
