package sanitizer

import "testing"

func TestTrimAndNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "basic trim",
			input: "  hello  ",
			want:  "hello",
		},
		{
			name:  "multiple spaces",
			input: "hello    world",
			want:  "hello world",
		},
		{
			name:  "tabs and newlines",
			input: "hello\t\nworld",
			want:  "hello world",
		},
		{
			name:  "empty",
			input: "",
			want:  "",
		},
		{
			name:  "only whitespace",
			input: "   ",
			want:  "",
		},
		{
			name:  "hebrew characters",
			input: " שחמט  בערב ",
			want:  "שחמט בערב",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TrimAndNormalize(tt.input)
			if got != tt.want {
				t.Errorf("TrimAndNormalize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeTopic(t *testing.T) {
	ptr := func(s string) *string { return &s }

	tests := []struct {
		name  string
		input *string
		want  *string
	}{
		{name: "nil stays nil", input: nil, want: nil},
		{name: "whitespace becomes nil", input: ptr("  \t "), want: nil},
		{name: "collapses spaces", input: ptr("  board   games "), want: ptr("board games")},
		{name: "drops control characters", input: ptr("chess\x00\x07"), want: ptr("chess")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeTopic(tt.input)
			switch {
			case tt.want == nil && got != nil:
				t.Errorf("NormalizeTopic() = %q, want nil", *got)
			case tt.want != nil && got == nil:
				t.Errorf("NormalizeTopic() = nil, want %q", *tt.want)
			case tt.want != nil && *got != *tt.want:
				t.Errorf("NormalizeTopic() = %q, want %q", *got, *tt.want)
			}
		})
	}
}
