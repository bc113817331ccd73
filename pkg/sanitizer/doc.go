// Package sanitizer normalizes user supplied text before validation and
// storage.
//
// All functions are idempotent: applying them twice gives the same result as
// applying them once. They never fail; input that normalizes to nothing comes
// back empty (or nil for optional fields) and is left to the validators.
//
// Normalization includes:
//   - Topics: trim, collapse internal whitespace, drop control characters
//   - Message content: trim, drop control characters, keep line breaks
//   - Identifiers (place and user ids): trim only
package sanitizer
