package service

import "strings"

var dotInsensitiveDomains = map[string]bool{
	"gmail.com":      true,
	"googlemail.com": true,
}

// LoginLimiterKey identifies a login attempt for rate limiting. Addresses
// that deliver to the same Gmail inbox share one key, so alias spelling
// cannot reset the attempt budget. Stored emails are never rewritten.
func LoginLimiterKey(clientIP, email string) string {
	return clientIP + "|" + mailboxOf(email)
}

func mailboxOf(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	local, domain, ok := strings.Cut(email, "@")
	if !ok || !dotInsensitiveDomains[domain] {
		return email
	}
	local, _, _ = strings.Cut(local, "+")
	return strings.ReplaceAll(local, ".", "") + "@" + domain
}
