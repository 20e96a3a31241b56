// internal/app/system/normalize/normalize.go

// Package normalize folds identifiers into canonical form before equality
// checks. The drift comparison matches internal emails against directory
// principals, and the two systems disagree on case and padding.
package normalize

import "strings"

// Email lowercases and trims an address. Every principal and internal email
// must pass through here before being compared or placed in a set.
func Email(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
