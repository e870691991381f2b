// Package email contains small helpers for working with recipient addresses.
package email

import (
	"strings"
	"unicode"
)

// DeriveNameFromEmail guesses first and last display names from the local part
// of an address. Used to personalize notification bodies when the registry has
// no richer contact record.
func DeriveNameFromEmail(email string) (string, string) {
	localPart := email
	if at := strings.IndexByte(email, '@'); at > 0 {
		localPart = email[:at]
	}

	parts := strings.FieldsFunc(localPart, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	})

	if len(parts) == 0 {
		return "User", "User"
	}

	first := capitalize(parts[0])
	last := "User"
	if len(parts) > 1 {
		last = capitalize(parts[len(parts)-1])
	}

	return first, last
}

// Normalize lowercases and trims an address. Returns "" for addresses that
// cannot possibly be valid (no "@" or empty local part).
func Normalize(address string) string {
	address = strings.ToLower(strings.TrimSpace(address))
	at := strings.IndexByte(address, '@')
	if at <= 0 || at == len(address)-1 {
		return ""
	}
	return address
}

// Dedupe normalizes a recipient list, dropping invalid and duplicate entries
// while preserving first-seen order.
func Dedupe(addresses []string) []string {
	seen := make(map[string]struct{}, len(addresses))
	out := make([]string, 0, len(addresses))
	for _, a := range addresses {
		n := Normalize(a)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

func capitalize(s string) string {
	if s == "" {
		return s
	}

	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
