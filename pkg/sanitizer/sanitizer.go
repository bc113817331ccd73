package sanitizer

import (
	"strings"
	"unicode"
)

type Strategy func(string) string

type Pipeline []Strategy

func (p Pipeline) Apply(s string) string {
	for _, fn := range p {
		s = fn(s)
	}
	return s
}

func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) || r == unicode.ReplacementChar {
			return -1
		}
		return r
	}, s)
}

// NormalizeTopic returns nil when nothing is left after normalization so an
// all-whitespace topic is stored as "no topic".
func NormalizeTopic(topic *string) *string {
	if topic == nil {
		return nil
	}
	p := Pipeline{stripControl, TrimAndNormalize}
	normalized := p.Apply(*topic)
	if normalized == "" {
		return nil
	}
	return &normalized
}

// NormalizeContent keeps line breaks inside a message but trims the ends.
func NormalizeContent(content string) string {
	p := Pipeline{stripControl, strings.TrimSpace}
	return p.Apply(content)
}

func NormalizeIdentifier(id string) string {
	return strings.TrimSpace(id)
}
