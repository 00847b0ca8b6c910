// Package address parses free-form From/To/Cc header strings into
// structured name/email pairs.
package address

import (
	"net/mail"
	"strings"

	"github.com/bavit-uk/mailcore/internal/unified"
)

// ParseList parses a comma-separated header value into ordered
// addresses. It is total: malformed input degrades to a best-effort
// split and entries with no extractable address are dropped.
func ParseList(header string) []unified.EmailAddress {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil
	}

	if parsed, err := mail.ParseAddressList(header); err == nil {
		out := make([]unified.EmailAddress, 0, len(parsed))
		for _, a := range parsed {
			out = append(out, unified.EmailAddress{Name: a.Name, Email: strings.ToLower(a.Address)})
		}
		return out
	}

	var out []unified.EmailAddress
	for _, part := range splitOutsideQuotes(header) {
		if addr, ok := parseOne(part); ok {
			out = append(out, addr)
		}
	}
	return out
}

// ParseOne parses a single mailbox value such as `"Jane" <jane@x.com>`
// or a bare address. ok is false when no address can be extracted.
func ParseOne(s string) (unified.EmailAddress, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return unified.EmailAddress{}, false
	}
	if a, err := mail.ParseAddress(s); err == nil {
		return unified.EmailAddress{Name: a.Name, Email: strings.ToLower(a.Address)}, true
	}
	return parseOne(s)
}

func parseOne(s string) (unified.EmailAddress, bool) {
	s = strings.TrimSpace(s)

	// "Display Name <user@host>" with arbitrary junk tolerated
	if open := strings.LastIndex(s, "<"); open >= 0 {
		if close := strings.Index(s[open:], ">"); close > 0 {
			email := strings.TrimSpace(s[open+1 : open+close])
			name := strings.Trim(strings.TrimSpace(s[:open]), `"'`)
			if looksLikeEmail(email) {
				return unified.EmailAddress{Name: name, Email: strings.ToLower(email)}, true
			}
		}
	}

	if looksLikeEmail(s) {
		return unified.EmailAddress{Email: strings.ToLower(s)}, true
	}
	return unified.EmailAddress{}, false
}

func looksLikeEmail(s string) bool {
	at := strings.LastIndex(s, "@")
	return at > 0 && at < len(s)-1 && !strings.ContainsAny(s, " \t<>")
}

// splitOutsideQuotes splits on commas that are not inside a quoted
// display name, so `"Doe, Jane" <j@x.com>` stays one entry
func splitOutsideQuotes(s string) []string {
	var parts []string
	var b strings.Builder
	inQuote := false
	for _, r := range s {
		switch {
		case r == '"':
			inQuote = !inQuote
			b.WriteRune(r)
		case r == ',' && !inQuote:
			parts = append(parts, b.String())
			b.Reset()
		default:
			b.WriteRune(r)
		}
	}
	if b.Len() > 0 {
		parts = append(parts, b.String())
	}
	return parts
}
