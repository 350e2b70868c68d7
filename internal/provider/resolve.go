package provider

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// knownIMAPHosts maps a mail domain to its IMAP host:port, used only
// to pre-fill a generic-IMAP account's host when a caller supplies an
// email address without one (SPEC_FULL.md, supplemented feature). It
// never overrides an explicitly supplied host.
var knownIMAPHosts = map[string]string{
	"yahoo.com":    "imap.mail.yahoo.com:993",
	"yandex.ru":    "imap.yandex.ru:993",
	"yandex.com":   "imap.yandex.com:993",
	"mail.ru":      "imap.mail.ru:993",
	"aol.com":      "imap.aol.com:993",
	"zoho.com":     "imap.zoho.com:993",
	"fastmail.com": "imap.fastmail.com:993",
	"gmx.com":      "imap.gmx.com:993",
	"gmx.de":       "imap.gmx.net:993",
	"web.de":       "imap.web.de:993",
}

// ResolveIMAPHost guesses a generic account's IMAP host:port from its
// email address domain. It is used by the tool surface's
// mail_accounts_add handler, never by the ingestion core.
func ResolveIMAPHost(email string) (string, error) {
	parts := strings.SplitN(email, "@", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid email address %q", email)
	}
	domain := strings.ToLower(parts[1])

	if host, ok := knownIMAPHosts[domain]; ok {
		return host, nil
	}

	for _, candidate := range []string{"imap." + domain, "mail." + domain, domain} {
		if probe(candidate, 993) {
			return candidate + ":993", nil
		}
	}

	if mxHost, ok := resolveViaMX(domain); ok {
		return mxHost, nil
	}

	return "imap." + domain + ":993", nil
}

func probe(host string, port int) bool {
	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := net.DialTimeout("tcp", addr, 3*time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func resolveViaMX(domain string) (string, bool) {
	records, err := net.LookupMX(domain)
	if err != nil || len(records) == 0 {
		return "", false
	}
	mxHost := strings.TrimSuffix(records[0].Host, ".")
	parts := strings.SplitN(mxHost, ".", 2)
	if len(parts) != 2 {
		return "", false
	}
	base := parts[1]
	for _, candidate := range []string{"imap." + base, "mail." + base} {
		if probe(candidate, 993) {
			return candidate + ":993", true
		}
	}
	return "", false
}
