package sanitizer

import (
	"strings"
	"testing"
)

func TestNormalizeContent_EdgeCases(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "keeps inner line breaks",
			input: "  first line\nsecond line  ",
			want:  "first line\nsecond line",
		},
		{
			name:  "keeps inner runs of spaces",
			input: "a    b",
			want:  "a    b",
		},
		{
			name:  "only whitespace becomes empty",
			input: "\n\t  \r\n",
			want:  "",
		},
		{
			name:  "strips escape sequences",
			input: "hi\x1b[31m there",
			want:  "hi[31m there",
		},
		{
			name:  "emoji preserved",
			input: " 👋 ",
			want:  "👋",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeContent(tt.input)
			if got != tt.want {
				t.Errorf("NormalizeContent(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizers_Idempotent(t *testing.T) {
	inputs := []string{
		"  hello \n world ",
		"\x00\x01abc\t",
		strings.Repeat("long text ", 200),
		"",
	}

	for _, in := range inputs {
		once := NormalizeContent(in)
		if twice := NormalizeContent(once); twice != once {
			t.Errorf("NormalizeContent not idempotent for %q: %q vs %q", in, once, twice)
		}

		topic := NormalizeTopic(&in)
		if topic != nil {
			again := NormalizeTopic(topic)
			if again == nil || *again != *topic {
				t.Errorf("NormalizeTopic not idempotent for %q", in)
			}
		}
	}
}

func TestNormalizeIdentifier(t *testing.T) {
	if got := NormalizeIdentifier("  place-123 \n"); got != "place-123" {
		t.Errorf("NormalizeIdentifier() = %q, want %q", got, "place-123")
	}
}
