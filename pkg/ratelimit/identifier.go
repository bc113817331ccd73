package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type identifierKey struct{}

func WithIdentifier(ctx context.Context, identifier string) context.Context {
	return context.WithValue(ctx, identifierKey{}, identifier)
}

func IdentifierFrom(ctx context.Context) string {
	if id, ok := ctx.Value(identifierKey{}).(string); ok {
		return id
	}
	return ""
}

// ParseRule reads the "<count>/<duration>" form used in configuration,
// e.g. "30/1m" or "1/2s".
func ParseRule(s string) (Rule, error) {
	count, window, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return Rule{}, fmt.Errorf("rate limit %q must look like <count>/<duration>", s)
	}

	limit, err := strconv.Atoi(strings.TrimSpace(count))
	if err != nil || limit <= 0 {
		return Rule{}, fmt.Errorf("rate limit %q has an invalid count", s)
	}

	d, err := time.ParseDuration(strings.TrimSpace(window))
	if err != nil || d <= 0 {
		return Rule{}, fmt.Errorf("rate limit %q has an invalid window", s)
	}

	return Rule{Limit: limit, Window: d}, nil
}

func (r Rule) String() string {
	return fmt.Sprintf("%d/%s", r.Limit, r.Window)
}
